package fetch

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/temoto/robotstxt"
)

// RobotsPolicy fetches, caches and checks robots.txt per host
type RobotsPolicy struct {
	fetcher       *Fetcher
	userAgent     string
	robotsCache   map[string]*robotstxt.RobotsData // hostname -> parsed data (nil = allow all)
	robotsCacheMu sync.Mutex
	log           *logrus.Entry
}

// NewRobotsPolicy creates a RobotsPolicy
func NewRobotsPolicy(fetcher *Fetcher, userAgent string, log *logrus.Entry) *RobotsPolicy {
	return &RobotsPolicy{
		fetcher:     fetcher,
		userAgent:   userAgent,
		robotsCache: make(map[string]*robotstxt.RobotsData),
		log:         log,
	}
}

// robotsData returns cached robots.txt data for the host of targetURL, fetching it on a miss.
// Any fetch or parse failure is cached as nil.
func (rp *RobotsPolicy) robotsData(ctx context.Context, targetURL *url.URL) *robotstxt.RobotsData {
	host := targetURL.Host

	rp.robotsCacheMu.Lock()
	data, found := rp.robotsCache[host]
	rp.robotsCacheMu.Unlock()
	if found {
		return data
	}

	robotsURL := &url.URL{Scheme: targetURL.Scheme, Host: host, Path: "/robots.txt"}
	robotsLog := rp.log.WithField("robots_url", robotsURL.String())
	robotsLog.Debug("Fetching robots.txt...")

	data = rp.fetch(ctx, robotsURL.String(), robotsLog)

	rp.robotsCacheMu.Lock()
	rp.robotsCache[host] = data
	rp.robotsCacheMu.Unlock()
	return data
}

func (rp *RobotsPolicy) fetch(ctx context.Context, robotsURL string, robotsLog *logrus.Entry) *robotstxt.RobotsData {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		robotsLog.Errorf("Error creating request: %v", err)
		return nil
	}

	resp, err := rp.fetcher.FetchWithRetry(ctx, req)
	if err != nil {
		robotsLog.Debugf("No usable robots.txt: %v", err)
		return nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		robotsLog.Errorf("Error reading body: %v", err)
		return nil
	}

	data, err := robotstxt.FromBytes(body)
	if err != nil {
		robotsLog.Errorf("Error parsing content: %v", err)
		return nil
	}
	return data
}

// Allowed reports whether the configured user agent may fetch targetURL.
// Returns true when robots.txt is missing or unreadable.
func (rp *RobotsPolicy) Allowed(ctx context.Context, targetURL *url.URL) bool {
	data := rp.robotsData(ctx, targetURL)
	if data == nil {
		return true
	}
	return data.TestAgent(targetURL.RequestURI(), rp.userAgent)
}
