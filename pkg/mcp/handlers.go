package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"jw-notices/pkg/crawler"
	"jw-notices/pkg/models"
	"jw-notices/pkg/storage"
	"jw-notices/pkg/utils"
)

// handleListNotices handles the list_notices tool
func (s *Server) handleListNotices(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	page := request.GetInt("page", 1)
	if page < 1 {
		return mcp.NewToolResultError("page must be >= 1"), nil
	}
	pageSize := request.GetInt("page_size", 0)
	if pageSize < 0 {
		return mcp.NewToolResultError("page_size must be positive"), nil
	}

	listing, err := s.crawler.FetchPage(ctx, crawler.ListingQuery{
		PageNum:  page,
		PageSize: pageSize,
		Keyword:  request.GetString("keyword", ""),
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to fetch listing page %d: %v", page, err)), nil
	}

	notices := listing.List
	if notices == nil {
		notices = []models.NoticeMetadata{}
	}
	result := map[string]interface{}{
		"page":    page,
		"total":   listing.Total,
		"count":   len(notices),
		"notices": notices,
	}
	return mcp.NewToolResultText(formatJSON(result)), nil
}

// handleGetNoticeDetail handles the get_notice_detail tool
func (s *Server) handleGetNoticeDetail(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := strings.TrimSpace(request.GetString("id", ""))
	if id == "" {
		return mcp.NewToolResultError("id parameter is required"), nil
	}
	meta := models.NoticeMetadata{
		ID:         id,
		Title:      request.GetString("title", ""),
		CreateTime: request.GetString("create_time", ""),
	}

	startTime := time.Now()
	detail, err := s.crawler.FetchNoticeDetail(ctx, meta)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to fetch notice %s: %v", id, err)), nil
	}

	result := map[string]interface{}{
		"id":            id,
		"title":         meta.Title,
		"create_time":   meta.CreateTime,
		"url":           s.crawler.Portal().DetailURL(id),
		"content":       detail.Content,
		"content_found": detail.ContainerFound,
		"markdown":      crawler.RenderMarkdown(detail, s.log.WithField("notice_id", id)),
		"attachments":   detail.Attachments,
		"fetch_time_ms": time.Since(startTime).Milliseconds(),
	}
	return mcp.NewToolResultText(formatJSON(result)), nil
}

// handleSyncNotices handles the sync_notices tool
func (s *Server) handleSyncNotices(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	since := strings.TrimSpace(request.GetString("since", ""))
	skipDetails := request.GetBool("skip_details", false)

	var opts crawler.SyncOptions
	opts.SkipDetails = skipDetails
	if since != "" {
		t, err := time.Parse("2006-01-02", since)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid since %q: expected YYYY-MM-DD", since)), nil
		}
		opts.Since = &t
	}

	portal := s.crawler.Portal().BaseURL
	job, err := s.jobManager.CreateJob(portal, since, skipDetails)
	if errors.Is(err, ErrJobActive) {
		result := map[string]interface{}{
			"status":  "already_running",
			"message": "A sync is already in progress for this portal",
			"job_id":  job.ID,
		}
		return mcp.NewToolResultText(formatJSON(result)), nil
	}
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to create job: %v", err)), nil
	}

	s.jobsWG.Add(1)
	go func() {
		defer s.jobsWG.Done()
		s.runSyncJob(job.ID, opts)
	}()

	result := map[string]interface{}{
		"status":       "started",
		"message":      "Sync started successfully",
		"job_id":       job.ID,
		"since":        since,
		"skip_details": skipDetails,
	}
	return mcp.NewToolResultText(formatJSON(result)), nil
}

// handleGetJobStatus handles the get_job_status tool
func (s *Server) handleGetJobStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	jobID := request.GetString("job_id", "")
	if jobID == "" {
		return mcp.NewToolResultError("job_id parameter is required"), nil
	}

	job := s.jobManager.GetJob(jobID)
	if job == nil {
		return mcp.NewToolResultError(fmt.Sprintf("job '%s' not found", jobID)), nil
	}

	result := map[string]interface{}{
		"job_id":          job.ID,
		"portal":          job.Portal,
		"status":          job.Status,
		"started_at":      job.StartedAt.Format(time.RFC3339),
		"notices_listed":  job.NoticesListed,
		"new_notices":     job.NewNotices,
		"details_fetched": job.DetailsFetched,
		"detail_failures": job.DetailFailures,
		"skip_details":    job.SkipDetails,
	}
	if job.Since != "" {
		result["since"] = job.Since
	}
	if job.RunID != "" {
		result["run_id"] = job.RunID
	}
	if job.Cursor != "" {
		result["cursor"] = job.Cursor
	}
	if !job.CompletedAt.IsZero() {
		result["completed_at"] = job.CompletedAt.Format(time.RFC3339)
		result["duration_seconds"] = job.CompletedAt.Sub(job.StartedAt).Seconds()
	}
	if job.ErrorMessage != "" {
		result["error_message"] = job.ErrorMessage
	}

	return mcp.NewToolResultText(formatJSON(result)), nil
}

// runSyncJob runs one incremental sync in the background against the portal's state database
func (s *Server) runSyncJob(jobID string, opts crawler.SyncOptions) {
	s.jobManager.UpdateStatus(jobID, JobStatusRunning, "")
	jobCtx := s.jobManager.GetContext(jobID)
	jobLog := s.log.WithField("job_id", jobID)

	store, err := storage.NewBadgerStore(jobCtx, s.cfg.AppConfig.StateDir, s.crawler.Portal().Host(), true, jobLog)
	if err != nil {
		s.jobManager.UpdateStatus(jobID, JobStatusFailed, fmt.Sprintf("failed to open store: %v", err))
		return
	}
	defer store.Close()

	syncer := crawler.NewSyncer(s.crawler, store, s.cfg.AppConfig, jobLog)
	result, err := syncer.Run(jobCtx, opts)
	s.jobManager.RecordResult(jobID, result)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			s.jobManager.UpdateStatus(jobID, JobStatusCancelled, "")
		} else {
			jobLog.WithField("category", utils.CategorizeError(err)).Errorf("Sync job failed: %v", err)
			s.jobManager.UpdateStatus(jobID, JobStatusFailed, err.Error())
		}
		return
	}

	s.jobManager.UpdateStatus(jobID, JobStatusCompleted, "")
}

// formatJSON formats data as an indented JSON string
func formatJSON(data map[string]interface{}) string {
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("{\"error\": %q}", err.Error())
	}
	return string(b)
}
