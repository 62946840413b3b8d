package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/andybalholm/cascadia"

	"jw-notices/pkg/utils"
)

// Validate checks AppConfig fields and applies defaults.
// Returns collected warnings and any fatal error.
// Modifies receiver in place to apply defaults.
func (c *AppConfig) Validate() (warnings []string, err error) {
	portalWarnings, err := c.Portal.Validate()
	if err != nil {
		return nil, err
	}
	warnings = append(warnings, portalWarnings...)

	if err := c.Selectors.Validate(); err != nil {
		return nil, err
	}

	// StateDir
	if c.StateDir == "" {
		warnings = append(warnings, "state_dir is empty, defaulting to './jw_state'")
		c.StateDir = "./jw_state"
	}

	// MaxRetries
	if c.MaxRetries < 0 {
		warnings = append(warnings, "max_retries cannot be negative, setting to 0")
		c.MaxRetries = 0
	}

	// Retry delays (only if retries enabled)
	if c.MaxRetries > 0 {
		if c.InitialRetryDelay <= 0 {
			c.InitialRetryDelay = 1 * time.Second
		}
		if c.MaxRetryDelay <= 0 {
			c.MaxRetryDelay = 30 * time.Second
		}
	}

	// InitialRetryDelay > MaxRetryDelay check
	if c.InitialRetryDelay > c.MaxRetryDelay && c.MaxRetryDelay > 0 {
		warnings = append(warnings, fmt.Sprintf(
			"initial_retry_delay (%v) > max_retry_delay (%v), using max_retry_delay for initial",
			c.InitialRetryDelay, c.MaxRetryDelay))
		c.InitialRetryDelay = c.MaxRetryDelay
	}

	// GlobalCrawlTimeout
	if c.GlobalCrawlTimeout < 0 {
		warnings = append(warnings, "global_crawl_timeout cannot be negative, disabling timeout")
		c.GlobalCrawlTimeout = 0
	}

	// InitialSince
	if _, _, perr := c.InitialSinceDate(); perr != nil {
		return nil, fmt.Errorf("%w: initial_since %q is not YYYY-MM-DD: %v", utils.ErrConfigValidation, c.InitialSince, perr)
	}

	c.validateHTTPClientSettings()
	warnings = append(warnings, c.Output.validate()...)

	return warnings, nil
}

// validateHTTPClientSettings applies defaults to HTTP client settings.
func (c *AppConfig) validateHTTPClientSettings() {
	h := &c.HTTPClientSettings
	if h.Timeout <= 0 {
		h.Timeout = DefaultRequestTimeout
	}
	if h.MaxRedirects <= 0 {
		h.MaxRedirects = DefaultMaxRedirects
	}
	if h.MaxIdleConns <= 0 {
		h.MaxIdleConns = 10
	}
	if h.MaxIdleConnsPerHost <= 0 {
		h.MaxIdleConnsPerHost = 2
	}
	if h.IdleConnTimeout <= 0 {
		h.IdleConnTimeout = 90 * time.Second
	}
	if h.TLSHandshakeTimeout <= 0 {
		h.TLSHandshakeTimeout = 10 * time.Second
	}
	if h.ExpectContinueTimeout <= 0 {
		h.ExpectContinueTimeout = 1 * time.Second
	}
	if h.DialerTimeout <= 0 {
		h.DialerTimeout = 15 * time.Second
	}
	if h.DialerKeepAlive <= 0 {
		h.DialerKeepAlive = 30 * time.Second
	}
}

// Validate checks PortalConfig fields and fills in the portal defaults.
func (p *PortalConfig) Validate() (warnings []string, err error) {
	if p.BaseURL == "" {
		p.BaseURL = DefaultBaseURL
	}
	base, perr := url.Parse(p.BaseURL)
	if perr != nil || !base.IsAbs() || base.Host == "" {
		return nil, fmt.Errorf("%w: portal base_url %q must be an absolute URL", utils.ErrConfigValidation, p.BaseURL)
	}
	p.BaseURL = strings.TrimRight(p.BaseURL, "/")

	if p.ListingPagePath == "" {
		p.ListingPagePath = DefaultListingPagePath
	}
	if p.ListingEndpointPath == "" {
		p.ListingEndpointPath = DefaultListingEndpointPath
	}
	if p.DetailPathTemplate == "" {
		p.DetailPathTemplate = DefaultDetailPathTemplate
	}
	if !strings.Contains(p.DetailPathTemplate, "{id}") {
		return nil, fmt.Errorf("%w: portal detail_path_template %q has no {id} placeholder", utils.ErrConfigValidation, p.DetailPathTemplate)
	}

	if p.Category == "" {
		p.Category = "0"
	}
	if p.Tag == "" {
		p.Tag = "0"
	}

	if p.PageSize <= 0 {
		if p.PageSize < 0 {
			warnings = append(warnings, fmt.Sprintf("page_size should be > 0, defaulting to %d", DefaultPageSize))
		}
		p.PageSize = DefaultPageSize
	}
	if p.PageDelay < 0 {
		warnings = append(warnings, "page_delay cannot be negative, defaulting to 100ms")
		p.PageDelay = DefaultPageDelay
	}
	if p.PageDelay == 0 {
		p.PageDelay = DefaultPageDelay
	}

	if p.UserAgent == "" {
		p.UserAgent = DefaultUserAgent
	}
	if p.Accept == "" {
		p.Accept = DefaultAccept
	}
	if p.AcceptLanguage == "" {
		p.AcceptLanguage = DefaultAcceptLanguage
	}
	if p.ContentType == "" {
		p.ContentType = DefaultContentType
	}
	if p.Referer == "" {
		p.Referer = p.ListingPageURL()
	}

	if p.MaxConcurrent <= 0 {
		p.MaxConcurrent = 1
	}

	switch p.FailurePolicy {
	case "":
		p.FailurePolicy = FailurePolicyAbort
	case FailurePolicyAbort, FailurePolicySkip:
	default:
		return nil, fmt.Errorf("%w: unknown failure_policy %q (want %q or %q)",
			utils.ErrConfigValidation, p.FailurePolicy, FailurePolicyAbort, FailurePolicySkip)
	}

	return warnings, nil
}

// Validate fills in the default selector table and rejects selectors that do not compile.
func (s *SelectorConfig) Validate() error {
	defaults := DefaultSelectors()
	if s.Content == "" {
		s.Content = defaults.Content
	}
	if s.Title == "" {
		s.Title = defaults.Title
	}
	if s.Date == "" {
		s.Date = defaults.Date
	}
	if s.Paragraph == "" {
		s.Paragraph = defaults.Paragraph
	}
	if s.Heading == "" {
		s.Heading = defaults.Heading
	}
	if s.AttachmentLink == "" {
		s.AttachmentLink = defaults.AttachmentLink
	}
	if len(s.AttachmentPathPatterns) == 0 {
		s.AttachmentPathPatterns = defaults.AttachmentPathPatterns
	}

	roles := []struct{ name, sel string }{
		{"content", s.Content},
		{"title", s.Title},
		{"date", s.Date},
		{"paragraph", s.Paragraph},
		{"heading", s.Heading},
		{"attachment_link", s.AttachmentLink},
	}
	for _, r := range roles {
		if _, err := cascadia.ParseGroup(r.sel); err != nil {
			return fmt.Errorf("%w: selector %s %q: %v", utils.ErrConfigValidation, r.name, r.sel, err)
		}
	}
	return nil
}

// DefaultSelectors returns the selector table matching the portal's detail page markup
func DefaultSelectors() SelectorConfig {
	return SelectorConfig{
		Content:                "div.content",
		Title:                  "h3.content-title",
		Date:                   "h5.content-date",
		Paragraph:              "p",
		Heading:                "h1, h2, h3, h4, h5, h6",
		AttachmentLink:         "a[href]",
		AttachmentPathPatterns: []string{"/upload/file/", "static/upload/file/"},
	}
}

func (o *OutputConfig) validate() (warnings []string) {
	if o.Dir == "" {
		warnings = append(warnings, "output.dir is empty, defaulting to './jw_output'")
		o.Dir = "./jw_output"
	}
	if o.NoticesJSONFilename == "" {
		o.NoticesJSONFilename = "notices.json"
	}
	if o.DetailsJSONLFilename == "" {
		o.DetailsJSONLFilename = "details.jsonl"
	}
	if o.MetadataYAMLFilename == "" {
		o.MetadataYAMLFilename = "metadata.yaml"
	}
	if o.ChunksFilename == "" {
		o.ChunksFilename = "chunks.jsonl"
	}
	if o.Chunking.Enabled {
		if o.Chunking.MaxChunkSize <= 0 {
			o.Chunking.MaxChunkSize = 512
		}
		if o.Chunking.ChunkOverlap < 0 {
			warnings = append(warnings, "chunking.chunk_overlap cannot be negative, setting to 0")
			o.Chunking.ChunkOverlap = 0
		}
		if o.Chunking.ChunkOverlap >= o.Chunking.MaxChunkSize {
			warnings = append(warnings, fmt.Sprintf(
				"chunking.chunk_overlap (%d) >= max_chunk_size (%d), setting overlap to 0",
				o.Chunking.ChunkOverlap, o.Chunking.MaxChunkSize))
			o.Chunking.ChunkOverlap = 0
		}
	}
	return warnings
}
