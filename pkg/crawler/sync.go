package crawler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"jw-notices/pkg/config"
	"jw-notices/pkg/models"
	"jw-notices/pkg/storage"
	"jw-notices/pkg/utils"
)

// SyncOptions tunes one incremental sync run
type SyncOptions struct {
	Since       *time.Time // Overrides the stored cursor and initial_since
	SkipDetails bool       // List and record notices without fetching detail pages
}

// SyncResult summarises one sync run
type SyncResult struct {
	RunID          string    `json:"run_id"`
	Since          string    `json:"since,omitempty"` // Cutoff date used, empty for an exhaustive crawl
	NoticesListed  int       `json:"notices_listed"`
	NewNotices     int       `json:"new_notices"`
	DetailsFetched int       `json:"details_fetched"`
	DetailFailures int       `json:"detail_failures"`
	Cursor         string    `json:"cursor,omitempty"`
	StartTime      time.Time `json:"start_time"`
	EndTime        time.Time `json:"end_time"`
}

// Syncer turns crawls into an incremental feed: it remembers which notices were seen and
// fetched, fetches details only where needed, and advances a createTime cursor.
type Syncer struct {
	crawler *Crawler
	store   storage.SyncStore
	cfg     *config.AppConfig
	log     *logrus.Entry
	now     func() time.Time
}

// NewSyncer creates a Syncer
func NewSyncer(crawler *Crawler, store storage.SyncStore, cfg *config.AppConfig, log *logrus.Entry) *Syncer {
	return &Syncer{
		crawler: crawler,
		store:   store,
		cfg:     cfg,
		log:     log.WithField("component", "syncer"),
		now:     time.Now,
	}
}

// resolveCutoff picks the crawl cutoff: explicit option, then stored cursor, then initial_since.
// ok is false when none applies and the crawl should be exhaustive.
// The crawl keeps dates strictly after the cutoff, so a stored cursor is stepped back one day:
// notices published later on the cursor day are listed again and the store dedupes them.
func (s *Syncer) resolveCutoff(opts SyncOptions) (time.Time, bool, error) {
	if opts.Since != nil {
		return *opts.Since, true, nil
	}
	cursor, ok, err := s.store.GetSyncCursor()
	if err != nil {
		return time.Time{}, false, err
	}
	if ok {
		return cursor.AddDate(0, 0, -1), true, nil
	}
	since, ok, err := s.cfg.InitialSinceDate()
	if err != nil {
		return time.Time{}, false, fmt.Errorf("%w: initial_since: %v", utils.ErrConfigValidation, err)
	}
	return since, ok, nil
}

// Run performs one sync. Under FailurePolicyAbort the first failed detail fetch ends the run
// with an error after its failure is recorded; under FailurePolicySkip it is counted and
// retried on the next run. The cursor only advances when the run completes.
func (s *Syncer) Run(ctx context.Context, opts SyncOptions) (*SyncResult, error) {
	result := &SyncResult{RunID: uuid.New().String(), StartTime: s.now()}
	runLog := s.log.WithField("run_id", result.RunID)

	cutoff, bounded, err := s.resolveCutoff(opts)
	if err != nil {
		return nil, err
	}

	var notices []models.NoticeMetadata
	if bounded {
		result.Since = dayOf(cutoff).Format("2006-01-02")
		runLog.WithField("since", result.Since).Info("Starting incremental sync")
		notices, err = s.crawler.FetchNoticesAfterDate(ctx, cutoff)
	} else {
		runLog.Info("Starting full sync (no cursor)")
		notices, err = s.crawler.FetchAllNotices(ctx)
	}
	if err != nil {
		return nil, err
	}
	result.NoticesListed = len(notices)

	output := NewOutputManager(s.cfg.Output, s.crawler.Portal(), runLog)
	if err := output.Open(result.RunID, result.StartTime, result.Since); err != nil {
		return nil, err
	}
	defer func() {
		if err := output.Close(); err != nil {
			runLog.Errorf("Failed to finalise output: %v", err)
		}
	}()
	if err := output.WriteNotices(notices); err != nil {
		runLog.Errorf("Failed to write notices file: %v", err)
	}

	abort := s.crawler.Portal().FailurePolicy != config.FailurePolicySkip
	listed := make(map[string]bool, len(notices))
	var newest time.Time

	for _, n := range notices {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		listed[n.ID] = true
		if created, ok := ParseCreateTime(n.CreateTime); ok && created.After(newest) {
			newest = created
		}

		added, err := s.store.MarkNoticeSeen(n)
		if err != nil {
			return result, err
		}
		if added {
			result.NewNotices++
		}
		if opts.SkipDetails {
			continue
		}

		status, _, err := s.store.CheckNoticeStatus(n.ID)
		if err != nil {
			return result, err
		}
		if !status.NeedsDetail() {
			continue
		}
		if err := s.syncDetail(ctx, n, output, result, runLog); err != nil && abort {
			return result, err
		}
	}

	// Notices that failed in earlier runs fall outside a cursor-bounded listing; retry them here
	if !opts.SkipDetails {
		backlog, err := s.store.PendingNotices(ctx)
		if err != nil {
			return result, err
		}
		for _, entry := range backlog {
			if err := ctx.Err(); err != nil {
				return result, err
			}
			if listed[entry.Metadata.ID] {
				continue
			}
			if err := s.syncDetail(ctx, entry.Metadata, output, result, runLog); err != nil && abort {
				return result, err
			}
		}
	}

	if !newest.IsZero() {
		if _, err := s.store.SetSyncCursor(newest); err != nil {
			return result, err
		}
	}
	if cursor, ok, err := s.store.GetSyncCursor(); err == nil && ok {
		result.Cursor = cursor.Format("2006-01-02")
	}

	result.EndTime = s.now()
	runLog.WithFields(logrus.Fields{
		"listed":   result.NoticesListed,
		"new":      result.NewNotices,
		"fetched":  result.DetailsFetched,
		"failures": result.DetailFailures,
		"cursor":   result.Cursor,
		"duration": result.EndTime.Sub(result.StartTime),
	}).Info("Sync finished")
	return result, nil
}

// syncDetail fetches one notice's detail, records the outcome in the store and writes output.
// A container-less page is stored as a failure so it is retried, but it is not an error.
func (s *Syncer) syncDetail(ctx context.Context, meta models.NoticeMetadata, output *OutputManager, result *SyncResult, runLog *logrus.Entry) error {
	taskLog := runLog.WithField("notice_id", meta.ID)
	now := s.now().UTC()

	entry := models.NoticeDBEntry{Metadata: meta, FirstSeen: now, LastAttempt: now}
	if _, prev, err := s.store.CheckNoticeStatus(meta.ID); err == nil && prev != nil {
		entry.FirstSeen = prev.FirstSeen
		entry.FetchedAt = prev.FetchedAt
		entry.ContentHash = prev.ContentHash
	}

	detail, err := s.crawler.FetchNoticeDetail(ctx, meta)
	if err != nil {
		result.DetailFailures++
		entry.Status = models.NoticeStatusFailure
		entry.ErrorType = utils.CategorizeError(err)
		taskLog.WithField("category", entry.ErrorType).Errorf("Detail fetch failed: %v", err)
		if dbErr := s.store.UpdateNoticeStatus(meta.ID, &entry); dbErr != nil {
			taskLog.Errorf("Failed to record detail failure: %v", dbErr)
		}
		return err
	}

	if !detail.ContainerFound {
		result.DetailFailures++
		entry.Status = models.NoticeStatusFailure
		entry.ErrorType = utils.CategorizeError(utils.ErrContentSelector)
		return s.store.UpdateNoticeStatus(meta.ID, &entry)
	}

	hash := utils.CalculateStringSHA256(detail.Content)
	if prevHash, ok, _ := s.store.GetContentHash(meta.ID); ok && prevHash == hash {
		taskLog.Debug("Notice content unchanged since last fetch")
	}

	if _, err := output.RecordDetail(detail, hash, now); err != nil {
		result.DetailFailures++
		entry.Status = models.NoticeStatusFailure
		entry.ErrorType = utils.CategorizeError(err)
		taskLog.Errorf("Failed to write notice output: %v", err)
		if dbErr := s.store.UpdateNoticeStatus(meta.ID, &entry); dbErr != nil {
			taskLog.Errorf("Failed to record output failure: %v", dbErr)
		}
		return err
	}

	entry.Status = models.NoticeStatusSuccess
	entry.ErrorType = ""
	entry.ContentHash = hash
	entry.AttachmentCount = len(detail.Attachments)
	entry.FetchedAt = now
	if err := s.store.UpdateNoticeStatus(meta.ID, &entry); err != nil {
		return err
	}
	result.DetailsFetched++
	return nil
}
