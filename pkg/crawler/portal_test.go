package crawler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"jw-notices/pkg/config"
	"jw-notices/pkg/fetch"
	"jw-notices/pkg/models"
	"jw-notices/pkg/process"
)

func testLogger() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

// fakePortal serves the listing page, the JSON listing endpoint and detail pages
type fakePortal struct {
	mu             sync.Mutex
	pages          map[int]string // pageNum -> raw JSON body
	pageStatus     map[int]int    // pageNum -> forced status code
	details        map[string]string
	detailStatus   map[string]int
	requestedPages []int
	detailHits     map[string]int
	forms          []map[string][]string
}

func newFakePortal() *fakePortal {
	return &fakePortal{
		pages:        make(map[int]string),
		pageStatus:   make(map[int]int),
		details:      make(map[string]string),
		detailStatus: make(map[string]int),
		detailHits:   make(map[string]int),
	}
}

func (p *fakePortal) setPage(pageNum, total int, notices ...models.NoticeMetadata) {
	body, _ := json.Marshal(models.NoticeListPage{List: notices, Total: total})
	p.mu.Lock()
	p.pages[pageNum] = string(body)
	p.mu.Unlock()
}

func (p *fakePortal) setRawPage(pageNum int, raw string) {
	p.mu.Lock()
	p.pages[pageNum] = raw
	p.mu.Unlock()
}

func (p *fakePortal) setDetail(id, html string) {
	p.mu.Lock()
	p.details[id] = html
	delete(p.detailStatus, id)
	p.mu.Unlock()
}

// restoreDetail drops any custom body or forced status for id
func (p *fakePortal) restoreDetail(id string) {
	p.mu.Lock()
	delete(p.details, id)
	delete(p.detailStatus, id)
	p.mu.Unlock()
}

func (p *fakePortal) failDetail(id string, status int) {
	p.mu.Lock()
	p.detailStatus[id] = status
	p.mu.Unlock()
}

func (p *fakePortal) pagesRequested() []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]int(nil), p.requestedPages...)
}

func (p *fakePortal) listingForms() []map[string][]string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]map[string][]string(nil), p.forms...)
}

func (p *fakePortal) hits(id string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.detailHits[id]
}

func (p *fakePortal) resetCounters() {
	p.mu.Lock()
	p.requestedPages = nil
	p.detailHits = make(map[string]int)
	p.mu.Unlock()
}

func (p *fakePortal) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/zhinan/cms/toPosts.do", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "JSESSIONID", Value: "test", Path: "/"})
		w.Write([]byte("<html></html>"))
	})
	mux.HandleFunc("/zhinan/cms/article/v2/findInformNotice.do", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		pageNum, _ := strconv.Atoi(r.PostForm.Get("pageNum"))

		p.mu.Lock()
		p.requestedPages = append(p.requestedPages, pageNum)
		p.forms = append(p.forms, r.PostForm)
		status, forced := p.pageStatus[pageNum]
		body, ok := p.pages[pageNum]
		p.mu.Unlock()

		if forced {
			w.WriteHeader(status)
			return
		}
		if !ok {
			body = `{"list":null,"total":0}`
		}
		w.Header().Set("Content-Type", "application/json;charset=UTF-8")
		w.Write([]byte(body))
	})
	mux.HandleFunc("/zhinan/cms/article/view.do", func(w http.ResponseWriter, r *http.Request) {
		id := r.URL.Query().Get("id")
		p.mu.Lock()
		p.detailHits[id]++
		status, forced := p.detailStatus[id]
		body, ok := p.details[id]
		p.mu.Unlock()

		if forced {
			w.WriteHeader(status)
			return
		}
		if !ok {
			body = fmt.Sprintf(`<html><body><div class="content"><h3 class="content-title">通知%s</h3><p>正文%s</p></div></body></html>`, id, id)
		}
		w.Header().Set("Content-Type", "text/html;charset=UTF-8")
		w.Write([]byte(body))
	})
	return mux
}

// testConfig returns a validated config pointing at baseURL with fast pacing
func testConfig(t *testing.T, baseURL string, mutate func(*config.AppConfig)) *config.AppConfig {
	t.Helper()
	cfg := &config.AppConfig{
		Portal:   config.PortalConfig{BaseURL: baseURL, PageDelay: time.Millisecond},
		StateDir: t.TempDir(),
		Output:   config.OutputConfig{Dir: t.TempDir()},
	}
	if mutate != nil {
		mutate(cfg)
	}
	_, err := cfg.Validate()
	require.NoError(t, err)
	return cfg
}

func newTestCrawler(t *testing.T, cfg *config.AppConfig) *Crawler {
	t.Helper()
	sess, err := fetch.NewSession(context.Background(), cfg, testLogger())
	require.NoError(t, err)
	c, err := NewCrawler(sess, process.MustDefaultSelectors(), testLogger())
	require.NoError(t, err)
	return c
}

func startPortal(t *testing.T) (*fakePortal, *httptest.Server) {
	t.Helper()
	portal := newFakePortal()
	srv := httptest.NewServer(portal.handler())
	t.Cleanup(srv.Close)
	return portal, srv
}

// noticesFrom builds count notices with ids prefix+index, all dated createTime
func noticesFrom(prefix string, count int, createTime string) []models.NoticeMetadata {
	out := make([]models.NoticeMetadata, count)
	for i := range out {
		id := fmt.Sprintf("%s%d", prefix, i)
		out[i] = models.NoticeMetadata{ID: id, Title: "通知" + id, CreateTime: createTime}
	}
	return out
}
