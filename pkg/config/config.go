package config

import (
	"net/url"
	"strings"
	"time"
)

// FailurePolicy decides what a crawl does when one page or one detail fetch fails
type FailurePolicy string

const (
	FailurePolicyAbort FailurePolicy = "abort" // Stop the whole operation on the first failure
	FailurePolicySkip  FailurePolicy = "skip"  // Log, record and continue with the next page/notice
)

// Portal defaults. An empty config file yields a working setup against these.
const (
	DefaultBaseURL             = "https://jw.scut.edu.cn"
	DefaultListingPagePath     = "/zhinan/cms/toPosts.do?category=0"
	DefaultListingEndpointPath = "/zhinan/cms/article/v2/findInformNotice.do"
	DefaultDetailPathTemplate  = "/zhinan/cms/article/view.do?type=posts&id={id}"
	DefaultUserAgent           = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	DefaultAccept              = "application/json, text/javascript, */*; q=0.01"
	DefaultAcceptLanguage      = "en-US,en;q=0.9,zh-CN;q=0.8,zh;q=0.7"
	DefaultContentType         = "application/x-www-form-urlencoded; charset=UTF-8"
	DefaultPageSize            = 15
	DefaultPageDelay           = 100 * time.Millisecond
	DefaultMaxRedirects        = 10
	DefaultRequestTimeout      = 30 * time.Second
)

// PortalConfig describes the notice portal: endpoints, listing form defaults and browser headers
type PortalConfig struct {
	BaseURL             string        `yaml:"base_url"`              // Scheme + host, also the Origin header and attachment base
	ListingPagePath     string        `yaml:"listing_page_path"`     // Warm-up GET target and default Referer
	ListingEndpointPath string        `yaml:"listing_endpoint_path"` // JSON listing POST target
	DetailPathTemplate  string        `yaml:"detail_path_template"`  // Must contain "{id}"
	Category            string        `yaml:"category"`
	Tag                 string        `yaml:"tag"`
	Keyword             string        `yaml:"keyword,omitempty"`
	PageSize            int           `yaml:"page_size"`
	PageDelay           time.Duration `yaml:"page_delay"`
	UserAgent           string        `yaml:"user_agent"`
	Accept              string        `yaml:"accept"`
	AcceptLanguage      string        `yaml:"accept_language"`
	ContentType         string        `yaml:"content_type"`
	Referer             string        `yaml:"referer,omitempty"` // Defaults to BaseURL + ListingPagePath
	RespectRobots       bool          `yaml:"respect_robots,omitempty"`
	FailurePolicy       FailurePolicy `yaml:"failure_policy"`
	MaxConcurrent       int           `yaml:"max_concurrent_requests,omitempty"` // Shared across all callers of one session
}

// Host returns the portal host, which names the state database directory
func (p PortalConfig) Host() string {
	u, err := url.Parse(p.BaseURL)
	if err != nil || u.Host == "" {
		return p.BaseURL
	}
	return u.Host
}

// ListingPageURL returns the absolute URL of the listing HTML page
func (p PortalConfig) ListingPageURL() string {
	return strings.TrimRight(p.BaseURL, "/") + p.ListingPagePath
}

// ListingEndpointURL returns the absolute URL of the JSON listing endpoint
func (p PortalConfig) ListingEndpointURL() string {
	return strings.TrimRight(p.BaseURL, "/") + p.ListingEndpointPath
}

// DetailURL returns the detail page URL for a notice id
func (p PortalConfig) DetailURL(id string) string {
	return strings.TrimRight(p.BaseURL, "/") + strings.ReplaceAll(p.DetailPathTemplate, "{id}", url.QueryEscape(id))
}

// SelectorConfig maps extraction roles to CSS selectors
type SelectorConfig struct {
	Content                string   `yaml:"content"`
	Title                  string   `yaml:"title"`
	Date                   string   `yaml:"date"`
	Paragraph              string   `yaml:"paragraph"`
	Heading                string   `yaml:"heading"`
	AttachmentLink         string   `yaml:"attachment_link"`
	AttachmentPathPatterns []string `yaml:"attachment_path_patterns"` // Substrings of href that mark an attachment
}

// ChunkingConfig controls token-aware chunk output
type ChunkingConfig struct {
	Enabled      bool `yaml:"enabled"`
	MaxChunkSize int  `yaml:"max_chunk_size,omitempty"` // Max tokens per chunk
	ChunkOverlap int  `yaml:"chunk_overlap,omitempty"`  // Token overlap between chunks
}

// OutputConfig controls which files a sync writes
type OutputConfig struct {
	Dir                  string         `yaml:"dir"`
	WriteNoticesJSON     *bool          `yaml:"write_notices_json,omitempty"`
	NoticesJSONFilename  string         `yaml:"notices_json_filename,omitempty"`
	WriteDetailsJSONL    *bool          `yaml:"write_details_jsonl,omitempty"`
	DetailsJSONLFilename string         `yaml:"details_jsonl_filename,omitempty"`
	WriteMarkdown        *bool          `yaml:"write_markdown,omitempty"`
	WriteHTML            bool           `yaml:"write_html,omitempty"`
	EnableMetadataYAML   *bool          `yaml:"enable_metadata_yaml,omitempty"`
	MetadataYAMLFilename string         `yaml:"metadata_yaml_filename,omitempty"`
	Chunking             ChunkingConfig `yaml:"chunking,omitempty"`
	ChunksFilename       string         `yaml:"chunks_filename,omitempty"`
}

// Enabled resolves an optional toggle that defaults to on
func Enabled(toggle *bool) bool {
	return toggle == nil || *toggle
}

// AppConfig holds the global application configuration
type AppConfig struct {
	Portal             PortalConfig     `yaml:"portal"`
	Selectors          SelectorConfig   `yaml:"selectors"`
	HTTPClientSettings HTTPClientConfig `yaml:"http_client_settings,omitempty"`
	MaxRetries         int              `yaml:"max_retries,omitempty"` // 0 = no automatic retry
	InitialRetryDelay  time.Duration    `yaml:"initial_retry_delay,omitempty"`
	MaxRetryDelay      time.Duration    `yaml:"max_retry_delay,omitempty"`
	StateDir           string           `yaml:"state_dir"`
	Output             OutputConfig     `yaml:"output"`
	InitialSince       string           `yaml:"initial_since,omitempty"` // YYYY-MM-DD cutoff for the first sync
	WatchInterval      string           `yaml:"watch_interval,omitempty"`
	GlobalCrawlTimeout time.Duration    `yaml:"global_crawl_timeout,omitempty"`
}

// HTTPClientConfig holds settings for the shared HTTP client
type HTTPClientConfig struct {
	Timeout               time.Duration `yaml:"timeout,omitempty"`                 // Overall request timeout
	MaxRedirects          int           `yaml:"max_redirects,omitempty"`           // Redirect hop cap
	MaxIdleConns          int           `yaml:"max_idle_conns,omitempty"`          // Max total idle connections
	MaxIdleConnsPerHost   int           `yaml:"max_idle_conns_per_host,omitempty"` // Max idle connections per host
	IdleConnTimeout       time.Duration `yaml:"idle_conn_timeout,omitempty"`       // Timeout for idle connections
	TLSHandshakeTimeout   time.Duration `yaml:"tls_handshake_timeout,omitempty"`   // Timeout for TLS handshake
	ExpectContinueTimeout time.Duration `yaml:"expect_continue_timeout,omitempty"` // Timeout for 100-continue
	ForceAttemptHTTP2     *bool         `yaml:"force_attempt_http2,omitempty"`     // nil=default, true=force, false=disable
	DialerTimeout         time.Duration `yaml:"dialer_timeout,omitempty"`          // Connection dial timeout
	DialerKeepAlive       time.Duration `yaml:"dialer_keep_alive,omitempty"`       // TCP keep-alive interval
}

// InitialSinceDate parses InitialSince. ok is false when unset.
func (c *AppConfig) InitialSinceDate() (t time.Time, ok bool, err error) {
	if c.InitialSince == "" {
		return time.Time{}, false, nil
	}
	t, err = time.Parse("2006-01-02", c.InitialSince)
	if err != nil {
		return time.Time{}, false, err
	}
	return t, true, nil
}
