package fetch

import (
	"fmt"
	"net"
	"net/http"
	"net/http/cookiejar"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/publicsuffix"

	"jw-notices/pkg/config"
)

// browserHeaderTransport stamps the portal's browser-like headers onto every outgoing request.
// Headers already present on a request are left untouched.
type browserHeaderTransport struct {
	base    http.RoundTripper
	headers http.Header
}

func (t *browserHeaderTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	out := req.Clone(req.Context())
	for key, values := range t.headers {
		if out.Header.Get(key) == "" {
			out.Header[key] = values
		}
	}
	return t.base.RoundTrip(out)
}

// BrowserHeaders returns the fixed header set the listing endpoint expects from a browser session
func BrowserHeaders(portal config.PortalConfig) http.Header {
	h := make(http.Header)
	h.Set("User-Agent", portal.UserAgent)
	h.Set("Accept", portal.Accept)
	h.Set("Accept-Language", portal.AcceptLanguage)
	h.Set("Content-Type", portal.ContentType)
	h.Set("Referer", portal.Referer)
	h.Set("X-Requested-With", "XMLHttpRequest")
	h.Set("Origin", portal.BaseURL)
	return h
}

// NewClient creates the HTTP client shared by all portal requests: browser headers,
// a cookie jar for the session cookie and a bounded redirect policy.
func NewClient(cfg config.HTTPClientConfig, portal config.PortalConfig, log *logrus.Entry) (*http.Client, error) {
	log.Debug("Initializing HTTP client...")

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}

	dialer := &net.Dialer{
		Timeout:   cfg.DialerTimeout,
		KeepAlive: cfg.DialerKeepAlive,
	}

	transport := &http.Transport{
		Proxy:                  http.ProxyFromEnvironment,
		DialContext:            dialer.DialContext,
		ForceAttemptHTTP2:      true,
		MaxIdleConns:           cfg.MaxIdleConns,
		MaxIdleConnsPerHost:    cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:        cfg.IdleConnTimeout,
		TLSHandshakeTimeout:    cfg.TLSHandshakeTimeout,
		ExpectContinueTimeout:  cfg.ExpectContinueTimeout,
		MaxResponseHeaderBytes: 1 << 20,
	}
	if cfg.ForceAttemptHTTP2 != nil {
		transport.ForceAttemptHTTP2 = *cfg.ForceAttemptHTTP2
	}

	maxRedirects := cfg.MaxRedirects
	if maxRedirects <= 0 {
		maxRedirects = config.DefaultMaxRedirects
	}

	client := &http.Client{
		Timeout: cfg.Timeout,
		Jar:     jar,
		Transport: &browserHeaderTransport{
			base:    transport,
			headers: BrowserHeaders(portal),
		},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			log.Debugf("Redirecting: %s -> %s (hop %d)", via[len(via)-1].URL, req.URL, len(via))
			return nil
		},
	}
	log.WithFields(logrus.Fields{"timeout": cfg.Timeout, "max_redirects": maxRedirects}).Debug("HTTP client initialized.")
	return client, nil
}
