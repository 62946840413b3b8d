package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/sirupsen/logrus"

	"jw-notices/pkg/config"
	"jw-notices/pkg/utils"
)

// Session is an explicitly owned handle on the portal: one cookie-carrying client plus the
// pacing, robots and concurrency policy every portal request goes through.
type Session struct {
	portal  config.PortalConfig
	client  *http.Client
	fetcher *Fetcher
	limiter *RateLimiter
	gate    *RequestGate
	robots  *RobotsPolicy // nil unless portal.respect_robots
	log     *logrus.Entry
}

// NewSession builds the portal client and performs the warm-up GET that obtains the session cookie.
// A failed warm-up is logged and the session is still returned; later requests may then be rejected.
// The only error is a client that cannot be constructed.
func NewSession(ctx context.Context, cfg *config.AppConfig, log *logrus.Entry) (*Session, error) {
	s, err := newSession(cfg, log)
	if err != nil {
		return nil, err
	}
	if err := s.Bootstrap(ctx); err != nil {
		s.log.WithField("category", utils.CategorizeError(err)).Errorf("Session bootstrap failed, continuing without a confirmed session: %v", err)
	}
	return s, nil
}

func newSession(cfg *config.AppConfig, log *logrus.Entry) (*Session, error) {
	sessLog := log.WithField("component", "session")

	client, err := NewClient(cfg.HTTPClientSettings, cfg.Portal, sessLog)
	if err != nil {
		return nil, fmt.Errorf("create portal client: %w", err)
	}

	fetcher := NewFetcher(client, RetryPolicy{
		MaxRetries:        cfg.MaxRetries,
		InitialRetryDelay: cfg.InitialRetryDelay,
		MaxRetryDelay:     cfg.MaxRetryDelay,
	}, sessLog)

	s := &Session{
		portal:  cfg.Portal,
		client:  client,
		fetcher: fetcher,
		limiter: NewRateLimiter(cfg.Portal.PageDelay, sessLog),
		gate:    NewRequestGate(cfg.Portal.MaxConcurrent),
		log:     sessLog,
	}
	if cfg.Portal.RespectRobots {
		s.robots = NewRobotsPolicy(fetcher, cfg.Portal.UserAgent, sessLog)
	}
	return s, nil
}

// Bootstrap GETs the listing page so the cookie jar holds a session cookie.
// Errors wrap utils.ErrSessionBootstrap.
func (s *Session) Bootstrap(ctx context.Context) error {
	pageURL := s.portal.ListingPageURL()
	s.log.WithField("url", pageURL).Info("Establishing portal session...")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return fmt.Errorf("%w: %w: %v", utils.ErrSessionBootstrap, utils.ErrRequestCreation, err)
	}

	resp, err := s.Do(ctx, req)
	if err != nil {
		return fmt.Errorf("%w: %w", utils.ErrSessionBootstrap, err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	s.log.WithField("cookies", len(s.client.Jar.Cookies(req.URL))).Debug("Portal session established")
	return nil
}

// Do sends req through the session's policy chain: concurrency gate, robots check, pacing,
// then the fetcher. It returns only 2xx responses; the caller closes the body.
func (s *Session) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if err := s.gate.Acquire(ctx); err != nil {
		return nil, err
	}
	defer s.gate.Release()

	if s.robots != nil && !s.robots.Allowed(ctx, req.URL) {
		return nil, fmt.Errorf("%w: %s", utils.ErrRobotsDisallowed, req.URL)
	}

	host := req.URL.Host
	if err := s.limiter.ApplyDelay(ctx, host, s.portal.PageDelay); err != nil {
		return nil, err
	}
	resp, err := s.fetcher.FetchWithRetry(ctx, req)
	s.limiter.UpdateLastRequestTime(host)
	return resp, err
}

// Portal returns the portal configuration the session was built with
func (s *Session) Portal() config.PortalConfig {
	return s.portal
}

// Client returns the underlying cookie-carrying HTTP client
func (s *Session) Client() *http.Client {
	return s.client
}

// Cookies returns the cookies the jar would send to the portal origin
func (s *Session) Cookies() []*http.Cookie {
	u, err := url.Parse(s.portal.BaseURL)
	if err != nil {
		return nil
	}
	return s.client.Jar.Cookies(u)
}
