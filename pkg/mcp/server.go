package mcp

import (
	"context"
	"fmt"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/sirupsen/logrus"

	"jw-notices/pkg/config"
	"jw-notices/pkg/crawler"
	"jw-notices/pkg/fetch"
	"jw-notices/pkg/process"
)

const (
	serverName    = "jw-notices"
	serverVersion = "1.0.0"
)

// ServerConfig holds configuration for the MCP server
type ServerConfig struct {
	AppConfig  *config.AppConfig
	ConfigPath string
	Transport  string // "stdio" or "sse"
	Port       int
	Logger     *logrus.Logger
	Crawler    *crawler.Crawler // Built from AppConfig when nil
}

// Server exposes the notice crawler as MCP tools
type Server struct {
	mcpServer  *server.MCPServer
	cfg        *ServerConfig
	log        *logrus.Entry
	crawler    *crawler.Crawler
	jobManager *JobManager
	jobsWG     sync.WaitGroup
}

// NewServer creates a new MCP server instance
func NewServer(ctx context.Context, cfg *ServerConfig) (*Server, error) {
	if cfg.AppConfig == nil {
		return nil, fmt.Errorf("AppConfig is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	log := cfg.Logger.WithField("component", "mcp")

	c := cfg.Crawler
	if c == nil {
		selectors, err := process.CompileSelectors(cfg.AppConfig.Selectors)
		if err != nil {
			return nil, err
		}
		sess, err := fetch.NewSession(ctx, cfg.AppConfig, log)
		if err != nil {
			return nil, err
		}
		if c, err = crawler.NewCrawler(sess, selectors, log); err != nil {
			return nil, err
		}
	}

	mcpServer := server.NewMCPServer(
		serverName,
		serverVersion,
		server.WithLogging(),
	)

	s := &Server{
		mcpServer:  mcpServer,
		cfg:        cfg,
		log:        log,
		crawler:    c,
		jobManager: NewJobManager(),
	}
	s.registerTools()

	return s, nil
}

func (s *Server) registerTools() {
	listNoticesTool := mcp.NewTool("list_notices",
		mcp.WithDescription("Fetch one page of the portal's notice listing"),
		mcp.WithNumber("page",
			mcp.Description("1-based page number (default: 1)"),
		),
		mcp.WithNumber("page_size",
			mcp.Description("Notices per page (default: configured page size)"),
		),
		mcp.WithString("keyword",
			mcp.Description("Portal-side keyword filter"),
		),
	)
	s.mcpServer.AddTool(listNoticesTool, s.handleListNotices)

	getDetailTool := mcp.NewTool("get_notice_detail",
		mcp.WithDescription("Fetch a notice's detail page and return its text, markdown and attachments"),
		mcp.WithString("id",
			mcp.Required(),
			mcp.Description("Notice id as returned by list_notices"),
		),
		mcp.WithString("title",
			mcp.Description("Notice title, echoed in the result"),
		),
		mcp.WithString("create_time",
			mcp.Description("Notice createTime (YYYY.MM.DD), echoed in the result"),
		),
	)
	s.mcpServer.AddTool(getDetailTool, s.handleGetNoticeDetail)

	syncTool := mcp.NewTool("sync_notices",
		mcp.WithDescription("Start a background incremental sync. Returns immediately with a job ID."),
		mcp.WithString("since",
			mcp.Description("Only notices created after this date (YYYY-MM-DD); defaults to the stored cursor"),
		),
		mcp.WithBoolean("skip_details",
			mcp.Description("Record listed notices without fetching detail pages"),
		),
	)
	s.mcpServer.AddTool(syncTool, s.handleSyncNotices)

	jobStatusTool := mcp.NewTool("get_job_status",
		mcp.WithDescription("Get the status of a sync job"),
		mcp.WithString("job_id",
			mcp.Required(),
			mcp.Description("The job ID returned by sync_notices"),
		),
	)
	s.mcpServer.AddTool(jobStatusTool, s.handleGetJobStatus)

	s.log.Infof("Registered %d MCP tools", 4)
}

// Run starts the MCP server with the configured transport
func (s *Server) Run() error {
	switch s.cfg.Transport {
	case "stdio":
		s.log.Info("Starting MCP server with stdio transport")
		return server.ServeStdio(s.mcpServer)
	case "sse":
		addr := fmt.Sprintf(":%d", s.cfg.Port)
		s.log.Infof("Starting MCP server with SSE transport on %s", addr)
		sseServer := server.NewSSEServer(s.mcpServer)
		return sseServer.Start(addr)
	default:
		return fmt.Errorf("unknown transport: %s (supported: stdio, sse)", s.cfg.Transport)
	}
}

// Shutdown cancels running sync jobs and waits for them to release the state database
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("Shutting down MCP server...")
	s.jobManager.CancelAll()

	done := make(chan struct{})
	go func() {
		s.jobsWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
