package crawler

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"

	"jw-notices/pkg/config"
	"jw-notices/pkg/fetch"
	"jw-notices/pkg/models"
	"jw-notices/pkg/process"
	"jw-notices/pkg/utils"
)

// Crawler drives the listing endpoint and detail pages of one portal session.
// Pagination is strictly sequential; pacing between requests comes from the session.
type Crawler struct {
	session   *fetch.Session
	portal    config.PortalConfig
	extractor *process.DetailExtractor
	log       *logrus.Entry
}

// NewCrawler creates a Crawler on an established session.
// selectors decide what the detail extractor treats as content, title, date and attachments.
func NewCrawler(session *fetch.Session, selectors *process.SelectorTable, log *logrus.Entry) (*Crawler, error) {
	portal := session.Portal()
	origin, err := url.Parse(portal.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: portal base URL %q: %v", utils.ErrParsing, portal.BaseURL, err)
	}

	crawlLog := log.WithField("component", "crawler")
	return &Crawler{
		session:   session,
		portal:    portal,
		extractor: process.NewDetailExtractor(selectors, origin, crawlLog),
		log:       crawlLog,
	}, nil
}

// Portal returns the portal configuration of the underlying session
func (c *Crawler) Portal() config.PortalConfig {
	return c.portal
}

// FetchAllNotices walks every listing page and returns all records in listing order.
func (c *Crawler) FetchAllNotices(ctx context.Context) ([]models.NoticeMetadata, error) {
	c.log.Info("Starting exhaustive notice crawl")
	return c.paginate(ctx, func(list []models.NoticeMetadata) []models.NoticeMetadata {
		return list
	})
}

// FetchNoticesAfterDate walks every listing page and keeps records whose createTime is
// strictly after cutoff's calendar date. Within a page, the first record that does not
// qualify ends the scan of that page; pagination still continues to the last page.
// Unparseable createTime values count as SentinelDate.
func (c *Crawler) FetchNoticesAfterDate(ctx context.Context, cutoff time.Time) ([]models.NoticeMetadata, error) {
	cutoffDay := dayOf(cutoff)
	c.log.WithField("cutoff", cutoffDay.Format("2006-01-02")).Info("Starting date-bounded notice crawl")

	return c.paginate(ctx, func(list []models.NoticeMetadata) []models.NoticeMetadata {
		var kept []models.NoticeMetadata
		for _, n := range list {
			created, ok := ParseCreateTime(n.CreateTime)
			if !ok {
				c.log.WithFields(logrus.Fields{"notice_id": n.ID, "create_time": n.CreateTime}).
					Warn("Unparseable createTime, treating notice as older than any cutoff")
			}
			if !created.After(cutoffDay) {
				break
			}
			kept = append(kept, n)
		}
		return kept
	})
}

// paginate requests pages 1..n until total <= pageNum*pageSize, passing each page's
// records through collect. Under FailurePolicySkip a failed page is logged and skipped;
// otherwise the first failure aborts the crawl and no records are returned.
func (c *Crawler) paginate(ctx context.Context, collect func([]models.NoticeMetadata) []models.NoticeMetadata) ([]models.NoticeMetadata, error) {
	pageSize := c.portal.PageSize
	if pageSize < 1 {
		pageSize = config.DefaultPageSize
	}
	skip := c.portal.FailurePolicy == config.FailurePolicySkip

	all := make([]models.NoticeMetadata, 0)
	lastTotal := -1
	skipped := 0

	for pageNum := 1; ; pageNum++ {
		page, err := c.FetchPage(ctx, ListingQuery{PageNum: pageNum, PageSize: pageSize})
		if err != nil {
			if !skip || ctx.Err() != nil {
				return nil, fmt.Errorf("listing page %d: %w", pageNum, err)
			}
			skipped++
			c.log.WithFields(logrus.Fields{
				"page":     pageNum,
				"category": utils.CategorizeError(err),
			}).Errorf("Skipping failed listing page: %v", err)
			if lastTotal < 0 || lastTotal <= pageNum*pageSize {
				break
			}
			continue
		}

		all = append(all, collect(page.List)...)
		lastTotal = page.Total

		if page.Total <= pageNum*pageSize {
			break
		}
	}

	c.log.WithFields(logrus.Fields{"notices": len(all), "skipped_pages": skipped}).Info("Notice crawl finished")
	return all, nil
}
