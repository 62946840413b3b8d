package crawler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"jw-notices/pkg/models"
	"jw-notices/pkg/utils"
)

// ListingQuery is one listing request. Zero values take the portal defaults.
type ListingQuery struct {
	PageNum  int
	PageSize int
	Category string
	Tag      string
	Keyword  string
}

func (c *Crawler) listingForm(q ListingQuery) url.Values {
	if q.PageNum < 1 {
		q.PageNum = 1
	}
	if q.PageSize < 1 {
		q.PageSize = c.portal.PageSize
	}
	if q.Category == "" {
		q.Category = c.portal.Category
	}
	if q.Tag == "" {
		q.Tag = c.portal.Tag
	}
	if q.Keyword == "" {
		q.Keyword = c.portal.Keyword
	}

	form := url.Values{}
	form.Set("category", q.Category)
	form.Set("tag", q.Tag)
	form.Set("pageNum", strconv.Itoa(q.PageNum))
	form.Set("pageSize", strconv.Itoa(q.PageSize))
	form.Set("keyword", q.Keyword)
	return form
}

// FetchPage POSTs one listing request and decodes the JSON envelope.
// A non-2xx status or an undecodable body is an error; a null or absent list is an empty page.
func (c *Crawler) FetchPage(ctx context.Context, q ListingQuery) (*models.NoticeListPage, error) {
	form := c.listingForm(q)
	endpoint := c.portal.ListingEndpointURL()
	pageLog := c.log.WithFields(logrus.Fields{"page": form.Get("pageNum"), "url": endpoint})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("%w: listing: %v", utils.ErrRequestCreation, err)
	}
	req.Header.Set("Content-Type", c.portal.ContentType)

	resp, err := c.session.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: listing page %s: %w", utils.ErrResponseBodyRead, form.Get("pageNum"), err)
	}
	pageLog.WithField("status_code", resp.StatusCode).Tracef("Listing response: %s", body)

	var page models.NoticeListPage
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, fmt.Errorf("%w: JSON decode of listing page %s: %v", utils.ErrParsing, form.Get("pageNum"), err)
	}

	pageLog.WithField("total", page.Total).Debugf("Listing page returned %d notices", len(page.List))
	return &page, nil
}
