package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"jw-notices/pkg/config"
	"jw-notices/pkg/crawler"
	"jw-notices/pkg/fetch"
	"jw-notices/pkg/models"
	"jw-notices/pkg/process"
	"jw-notices/pkg/storage"
	"jw-notices/pkg/utils"
	"jw-notices/pkg/watch"
)

const (
	version              = "1.0.0"
	dbGCInterval         = 10 * time.Minute
	defaultWatchInterval = "24h"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "list":
		runList(os.Args[2:])
	case "sync":
		runSync(os.Args[2:])
	case "detail":
		runDetail(os.Args[2:])
	case "watch":
		runWatch(os.Args[2:])
	case "validate":
		runValidate(os.Args[2:])
	case "mcp-server":
		runMcpServer(os.Args[2:])
	case "version":
		fmt.Printf("jw-notices %s\n", version)
	case "-h", "--help", "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	printUsageTo(os.Stdout)
}

// printUsageTo writes usage information to the provided writer.
func printUsageTo(w io.Writer) {
	fmt.Fprintln(w, `jw-notices - Academic affairs notice crawler

Usage:
  jw-notices <command> [options]

Commands:
  list        List every notice on the portal (or those after a date)
  sync        Incremental sync: new notices, their details and attachments
  detail      Fetch a single notice detail
  watch       Run sync on a schedule
  validate    Validate configuration file
  mcp-server  Start MCP server for AI tool integration
  version     Show version info

Run 'jw-notices <command> -h' for command-specific help.`)
}

// loadConfig loads and parses the config file
func loadConfig(path string) (*config.AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg config.AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return &cfg, nil
}

// setupLogger creates a configured logrus.Logger with the given log level.
func setupLogger(logLevelStr string, out io.Writer) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(out)
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "15:04:05.000"})
	log.SetLevel(logrus.InfoLevel)

	level, err := logrus.ParseLevel(logLevelStr)
	if err != nil {
		log.Warnf("Invalid log level '%s', using default 'info'. Error: %v", logLevelStr, err)
	} else {
		log.SetLevel(level)
		log.Debugf("Setting log level to: %s", level.String())
	}

	return log
}

// loadAndValidateConfig loads the config file, validates it, and logs warnings.
func loadAndValidateConfig(configFile string, log *logrus.Logger) (*config.AppConfig, error) {
	log.Infof("Loading configuration from %s", configFile)
	appCfg, err := loadConfig(configFile)
	if err != nil {
		return nil, err
	}

	warnings, err := appCfg.Validate()
	if err != nil {
		return nil, utils.WrapErrorf(err, "config %s", configFile)
	}
	for _, w := range warnings {
		log.Warn(w)
	}
	logAppConfig(appCfg, log)

	if err := process.InitTokenizer(""); err != nil {
		log.Warnf("Tokenizer unavailable, token counts will be estimated: %v", err)
	}
	return appCfg, nil
}

// logAppConfig logs the effective configuration
func logAppConfig(appCfg *config.AppConfig, log *logrus.Logger) {
	p := appCfg.Portal
	log.Infof("Portal: %s, PageSize:%d, PageDelay:%v, FailurePolicy:%s, RespectRobots:%t",
		p.BaseURL, p.PageSize, p.PageDelay, p.FailurePolicy, p.RespectRobots)
	log.Debugf("Portal endpoints: listing page %s, listing %s, detail %s%s",
		p.ListingPageURL(), p.ListingEndpointURL(), p.BaseURL, p.DetailPathTemplate)
	log.Infof("Retries: Max:%d, InitialDelay:%v, MaxDelay:%v",
		appCfg.MaxRetries, appCfg.InitialRetryDelay, appCfg.MaxRetryDelay)
	log.Infof("StateDir:%s, OutputDir:%s, InitialSince:%q",
		appCfg.StateDir, appCfg.Output.Dir, appCfg.InitialSince)
	log.Debugf("HTTP Client: Timeout:%v, MaxRedirects:%d, MaxIdle:%d, MaxIdlePerHost:%d, DialerTimeout:%v",
		appCfg.HTTPClientSettings.Timeout, appCfg.HTTPClientSettings.MaxRedirects, appCfg.HTTPClientSettings.MaxIdleConns,
		appCfg.HTTPClientSettings.MaxIdleConnsPerHost, appCfg.HTTPClientSettings.DialerTimeout)
}

// signalContext returns a context cancelled on SIGINT/SIGTERM, or when the global timeout expires.
// A second signal forces exit.
func signalContext(timeout time.Duration, log *logrus.Logger) (context.Context, context.CancelFunc) {
	var ctx context.Context
	var cancel context.CancelFunc
	if timeout > 0 {
		log.Infof("Setting global crawl timeout: %v", timeout)
		ctx, cancel = context.WithTimeout(context.Background(), timeout)
	} else {
		ctx, cancel = context.WithCancel(context.Background())
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Errorf("PANIC in signal handler: %v", r)
			}
		}()
		select {
		case sig := <-sigChan:
			log.Warnf("Received signal: %v. Initiating graceful shutdown...", sig)
			cancel()
		case <-ctx.Done():
			return
		}

		select {
		case sig := <-sigChan:
			log.Warnf("Received second signal: %v. Forcing exit.", sig)
			os.Exit(1)
		case <-time.After(30 * time.Second):
			log.Warn("Graceful shutdown period exceeded after signal. Forcing exit.")
			os.Exit(1)
		}
	}()

	return ctx, func() {
		signal.Stop(sigChan)
		cancel()
	}
}

// exitCode maps a command error to a process exit code, logging it
func exitCode(err error, what string, log *logrus.Logger) int {
	switch {
	case err == nil:
		log.Infof("%s completed successfully.", what)
		return 0
	case errors.Is(err, context.Canceled):
		log.Warnf("%s cancelled gracefully.", what)
		return 0
	case errors.Is(err, context.DeadlineExceeded):
		log.Errorf("%s timed out (global timeout).", what)
		return 1
	default:
		log.WithField("category", utils.CategorizeError(err)).Errorf("%s finished with error: %v", what, err)
		return 1
	}
}

// newCrawler wires the selector table, the portal session and the crawler
func newCrawler(ctx context.Context, appCfg *config.AppConfig, log *logrus.Entry) (*crawler.Crawler, error) {
	selectors, err := process.CompileSelectors(appCfg.Selectors)
	if err != nil {
		return nil, err
	}
	sess, err := fetch.NewSession(ctx, appCfg, log)
	if err != nil {
		return nil, err
	}
	return crawler.NewCrawler(sess, selectors, log)
}

func parseDateFlag(name, value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	t, err := time.Parse("2006-01-02", value)
	if err != nil {
		return nil, fmt.Errorf("%w: -%s %q is not YYYY-MM-DD", utils.ErrConfigValidation, name, value)
	}
	return &t, nil
}

// --- list ---

func runList(args []string) {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")
	logLevel := fs.String("loglevel", "info", "Log level (trace, debug, info, warn, error)")
	outDir := fs.String("out", "", "Output directory (overrides output.dir)")
	after := fs.String("after", "", "Only notices created after this date (YYYY-MM-DD)")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: jw-notices list [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	log := setupLogger(*logLevel, os.Stderr)
	appCfg, err := loadAndValidateConfig(*configFile, log)
	if err != nil {
		log.Fatalf("Config error: %v", err)
	}
	if *outDir != "" {
		appCfg.Output.Dir = *outDir
	}

	ctx, cancel := signalContext(appCfg.GlobalCrawlTimeout, log)
	err = doList(ctx, appCfg, *after, log, os.Stdout)
	cancel()
	os.Exit(exitCode(err, "Listing", log))
}

// doList crawls the listing and writes notices.json
func doList(ctx context.Context, appCfg *config.AppConfig, after string, log *logrus.Logger, stdout io.Writer) error {
	cutoff, err := parseDateFlag("after", after)
	if err != nil {
		return err
	}

	logEntry := log.WithField("component", "list")
	c, err := newCrawler(ctx, appCfg, logEntry)
	if err != nil {
		return err
	}

	var notices []models.NoticeMetadata
	if cutoff != nil {
		notices, err = c.FetchNoticesAfterDate(ctx, *cutoff)
	} else {
		notices, err = c.FetchAllNotices(ctx)
	}
	if err != nil {
		return err
	}

	om := crawler.NewOutputManager(appCfg.Output, appCfg.Portal, logEntry)
	if err := om.WriteNotices(notices); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Listed %d notices\n", len(notices))
	return nil
}

// --- sync ---

type syncFlags struct {
	since     string
	noDetails bool
	fresh     bool
	seenLog   bool
}

func runSync(args []string) {
	fs := flag.NewFlagSet("sync", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")
	logLevel := fs.String("loglevel", "info", "Log level (trace, debug, info, warn, error)")
	outDir := fs.String("out", "", "Output directory (overrides output.dir)")
	var sf syncFlags
	fs.StringVar(&sf.since, "since", "", "Only notices created after this date (YYYY-MM-DD); overrides the stored cursor")
	fs.BoolVar(&sf.noDetails, "no-details", false, "Record listed notices without fetching detail pages")
	fs.BoolVar(&sf.fresh, "fresh", false, "Discard the stored sync state before running")
	fs.BoolVar(&sf.seenLog, "write-seen-log", false, "Write a log of every known notice from the state DB")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: jw-notices sync [options]\n\nOptions:\n")
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  jw-notices sync\n")
		fmt.Fprintf(os.Stderr, "  jw-notices sync -since 2024-03-01 -no-details\n")
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	log := setupLogger(*logLevel, os.Stderr)
	appCfg, err := loadAndValidateConfig(*configFile, log)
	if err != nil {
		log.Fatalf("Config error: %v", err)
	}
	if *outDir != "" {
		appCfg.Output.Dir = *outDir
	}

	ctx, cancel := signalContext(appCfg.GlobalCrawlTimeout, log)
	_, err = doSync(ctx, appCfg, sf, log, os.Stdout)
	cancel()
	os.Exit(exitCode(err, "Sync", log))
}

// doSync runs one incremental sync with the badger GC loop alongside it
func doSync(ctx context.Context, appCfg *config.AppConfig, sf syncFlags, log *logrus.Logger, stdout io.Writer) (*crawler.SyncResult, error) {
	since, err := parseDateFlag("since", sf.since)
	if err != nil {
		return nil, err
	}

	logEntry := log.WithField("component", "sync")
	store, err := storage.NewBadgerStore(ctx, appCfg.StateDir, appCfg.Portal.Host(), !sf.fresh, logEntry)
	if err != nil {
		return nil, utils.WrapErrorf(err, "open state DB in %s", appCfg.StateDir)
	}
	defer store.Close()

	c, err := newCrawler(ctx, appCfg, logEntry)
	if err != nil {
		return nil, err
	}
	syncer := crawler.NewSyncer(c, store, appCfg, logEntry)

	g, gctx := errgroup.WithContext(ctx)
	gcCtx, stopGC := context.WithCancel(gctx)
	g.Go(func() error {
		store.RunGC(gcCtx, dbGCInterval)
		return nil
	})

	var result *crawler.SyncResult
	g.Go(func() error {
		defer stopGC()
		var runErr error
		result, runErr = syncer.Run(gctx, crawler.SyncOptions{Since: since, SkipDetails: sf.noDetails})
		return runErr
	})
	err = g.Wait()

	if sf.seenLog && ctx.Err() == nil {
		seenPath := filepath.Join(appCfg.Output.Dir, utils.SanitizeFilename(appCfg.Portal.Host())+"-seen.txt")
		if writeErr := store.WriteSeenLog(seenPath); writeErr != nil {
			log.Errorf("Error writing seen log: %v", writeErr)
		}
	}

	if result != nil {
		data, jerr := json.MarshalIndent(result, "", "  ")
		if jerr == nil {
			fmt.Fprintln(stdout, string(data))
		}
	}
	return result, err
}

// --- detail ---

func runDetail(args []string) {
	fs := flag.NewFlagSet("detail", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")
	logLevel := fs.String("loglevel", "info", "Log level (trace, debug, info, warn, error)")
	id := fs.String("id", "", "Notice id (required)")
	title := fs.String("title", "", "Notice title, used for the output file name")
	createTime := fs.String("create-time", "", "Notice createTime (YYYY.MM.DD)")
	save := fs.Bool("save", false, "Also write the enabled output files")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: jw-notices detail -id <id> [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if *id == "" {
		fmt.Fprintln(os.Stderr, "Error: -id is required")
		fs.Usage()
		os.Exit(1)
	}

	log := setupLogger(*logLevel, os.Stderr)
	appCfg, err := loadAndValidateConfig(*configFile, log)
	if err != nil {
		log.Fatalf("Config error: %v", err)
	}

	ctx, cancel := signalContext(appCfg.GlobalCrawlTimeout, log)
	meta := models.NoticeMetadata{ID: *id, Title: *title, CreateTime: *createTime}
	err = doDetail(ctx, appCfg, meta, *save, log, os.Stdout)
	cancel()
	os.Exit(exitCode(err, "Detail fetch", log))
}

// doDetail fetches one detail and prints it as Markdown
func doDetail(ctx context.Context, appCfg *config.AppConfig, meta models.NoticeMetadata, save bool, log *logrus.Logger, stdout io.Writer) error {
	logEntry := log.WithField("component", "detail")
	c, err := newCrawler(ctx, appCfg, logEntry)
	if err != nil {
		return err
	}

	detail, err := c.FetchNoticeDetail(ctx, meta)
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, crawler.RenderMarkdown(detail, logEntry))

	if !save {
		return nil
	}
	now := time.Now()
	om := crawler.NewOutputManager(appCfg.Output, appCfg.Portal, logEntry)
	if err := om.Open("detail-"+utils.SanitizeFilename(meta.ID), now, ""); err != nil {
		return err
	}
	mdPath, recErr := om.RecordDetail(detail, utils.CalculateStringSHA256(detail.Content), now)
	if closeErr := om.Close(); recErr == nil {
		recErr = closeErr
	}
	if mdPath != "" {
		logEntry.Infof("Saved notice to %s", mdPath)
	}
	return recErr
}

// --- watch ---

func runWatch(args []string) {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")
	logLevel := fs.String("loglevel", "info", "Log level (trace, debug, info, warn, error)")
	interval := fs.String("interval", "", "Sync interval (e.g., 30m, 1h, 24h, 7d); defaults to watch_interval or 24h")
	noDetails := fs.Bool("no-details", false, "Record listed notices without fetching detail pages")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: jw-notices watch [options]\n\nOptions:\n")
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  jw-notices watch -interval 30m\n")
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	log := setupLogger(*logLevel, os.Stderr)
	appCfg, err := loadAndValidateConfig(*configFile, log)
	if err != nil {
		log.Fatalf("Config error: %v", err)
	}

	// The global timeout bounds a single sync, not the watch loop
	ctx, cancel := signalContext(0, log)
	err = doWatch(ctx, appCfg, *interval, *noDetails, log)
	cancel()
	os.Exit(exitCode(err, "Watch", log))
}

// resolveInterval picks the flag, then the config value, then the default
func resolveInterval(flagValue string, appCfg *config.AppConfig) (time.Duration, error) {
	s := flagValue
	if s == "" {
		s = appCfg.WatchInterval
	}
	if s == "" {
		s = defaultWatchInterval
	}
	d, err := watch.ParseInterval(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", utils.ErrConfigValidation, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%w: watch interval must be positive, got %s", utils.ErrConfigValidation, s)
	}
	return d, nil
}

// timeoutRunner bounds each sync by the global crawl timeout
type timeoutRunner struct {
	syncer  *crawler.Syncer
	timeout time.Duration
}

func (r timeoutRunner) Run(ctx context.Context, opts crawler.SyncOptions) (*crawler.SyncResult, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	return r.syncer.Run(ctx, opts)
}

// doWatch keeps the state DB open and syncs every interval until ctx is cancelled
func doWatch(ctx context.Context, appCfg *config.AppConfig, intervalFlag string, noDetails bool, log *logrus.Logger) error {
	interval, err := resolveInterval(intervalFlag, appCfg)
	if err != nil {
		return err
	}

	logEntry := log.WithField("component", "watch")
	store, err := storage.NewBadgerStore(ctx, appCfg.StateDir, appCfg.Portal.Host(), true, logEntry)
	if err != nil {
		return utils.WrapErrorf(err, "open state DB in %s", appCfg.StateDir)
	}
	defer store.Close()

	c, err := newCrawler(ctx, appCfg, logEntry)
	if err != nil {
		return err
	}
	runner := timeoutRunner{syncer: crawler.NewSyncer(c, store, appCfg, logEntry), timeout: appCfg.GlobalCrawlTimeout}
	scheduler := watch.NewScheduler(runner, appCfg.Portal.BaseURL, appCfg.StateDir, interval,
		crawler.SyncOptions{SkipDetails: noDetails}, log.WithField("portal", appCfg.Portal.Host()))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		store.RunGC(gctx, dbGCInterval)
		return nil
	})
	g.Go(func() error {
		return scheduler.Run(gctx)
	})
	return g.Wait()
}

// --- validate ---

func runValidate(args []string) {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: jw-notices validate [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	os.Exit(doValidate(*configFile, os.Stdout, os.Stderr))
}

// doValidate performs validation and writes output to provided writers.
// Returns exit code (0 = success, 1 = error).
func doValidate(configPath string, stdout, stderr io.Writer) int {
	appCfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	warnings, err := appCfg.Validate()
	if err != nil {
		fmt.Fprintf(stderr, "ERROR: %v\n", err)
		return 1
	}
	for _, w := range warnings {
		fmt.Fprintf(stdout, "WARN: %s\n", w)
	}
	if _, err := process.CompileSelectors(appCfg.Selectors); err != nil {
		fmt.Fprintf(stderr, "ERROR: %v\n", err)
		return 1
	}
	if _, err := resolveInterval("", appCfg); err != nil {
		fmt.Fprintf(stderr, "ERROR: watch_interval: %v\n", err)
		return 1
	}

	fmt.Fprintf(stdout, "OK: portal %s\n", appCfg.Portal.BaseURL)
	fmt.Fprintf(stdout, "  Listing:  %s\n", appCfg.Portal.ListingEndpointURL())
	fmt.Fprintf(stdout, "  Detail:   %s%s\n", appCfg.Portal.BaseURL, appCfg.Portal.DetailPathTemplate)
	fmt.Fprintf(stdout, "  Policy:   %s\n", appCfg.Portal.FailurePolicy)
	fmt.Fprintln(stdout, "\nConfiguration valid.")
	return 0
}
