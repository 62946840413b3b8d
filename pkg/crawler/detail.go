package crawler

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/html/charset"

	"jw-notices/pkg/models"
	"jw-notices/pkg/utils"
)

// FetchNoticeDetail GETs the detail page of meta.ID and extracts its text and attachments.
// Transport and body-read failures are errors. A page without a content container is not:
// it yields process.ContentNotFound and no attachments.
func (c *Crawler) FetchNoticeDetail(ctx context.Context, meta models.NoticeMetadata) (*models.NoticeDetail, error) {
	detailURL := c.portal.DetailURL(meta.ID)
	detailLog := c.log.WithFields(logrus.Fields{"notice_id": meta.ID, "url": detailURL})

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, detailURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: detail %s: %v", utils.ErrRequestCreation, meta.ID, err)
	}

	resp, err := c.session.Do(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("detail %s: %w", meta.ID, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: detail %s: %w", utils.ErrResponseBodyRead, meta.ID, err)
	}

	body, err := charset.NewReader(bytes.NewReader(raw), resp.Header.Get("Content-Type"))
	if err != nil {
		return nil, fmt.Errorf("%w: detail %s: decoding charset: %w", utils.ErrResponseBodyRead, meta.ID, err)
	}

	ex, err := c.extractor.ExtractReader(body)
	if err != nil {
		return nil, fmt.Errorf("detail %s: %w", meta.ID, err)
	}
	if !ex.Found {
		detailLog.Error("Could not find content container in the detail page")
	}

	detailLog.WithField("attachments", len(ex.Attachments)).Debug("Fetched notice detail")
	return &models.NoticeDetail{
		Metadata:    meta,
		Content:     ex.Content,
		Attachments: ex.Attachments,
		HTML:        ex.HTML,

		ContainerFound: ex.Found,
	}, nil
}
