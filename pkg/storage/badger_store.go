package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"jw-notices/pkg/log"
	"jw-notices/pkg/models"
	"jw-notices/pkg/utils"
)

const (
	noticeKeyPrefix = "notice:"            // Prefix for notice id keys in DB
	cursorKey       = "cursor:create_time" // Newest createTime date seen by a sync
	cursorLayout    = "2006-01-02"
	noticeDBDir     = "notices_db" // Subdirectory name within stateDir for Badger DB files
)

// BadgerStore implements the SyncStore interface using BadgerDB
type BadgerStore struct {
	db       *badger.DB
	log      *logrus.Entry
	ctx      context.Context // Parent context
	keyCount atomic.Int64    // Cached notice count for O(1) GetNoticeCount
	now      func() time.Time
}

// NewBadgerStore opens the notice database for portalHost under stateDir.
// With resume=false any existing database for that host is removed first.
func NewBadgerStore(ctx context.Context, stateDir, portalHost string, resume bool, logger *logrus.Entry) (*BadgerStore, error) {
	store := &BadgerStore{
		log: logger,
		ctx: ctx,
		now: time.Now,
	}

	dbPath := filepath.Join(stateDir, utils.SanitizeFilename(portalHost)+"_"+noticeDBDir)

	if !resume {
		logger.Warnf("Starting with fresh state. REMOVING existing notice database: %s", dbPath)
		if err := os.RemoveAll(dbPath); err != nil {
			logger.Errorf("Failed to remove existing notice database %s: %v", dbPath, err)
		}
	}

	logger.Infof("Opening notice database at: %s (Resume: %v)", dbPath, resume)

	if err := os.MkdirAll(dbPath, 0755); err != nil {
		return nil, fmt.Errorf("%w: cannot create state directory %s: %w", utils.ErrFilesystem, dbPath, err)
	}

	opts := badger.DefaultOptions(dbPath).
		WithLogger(log.NewBadgerLogrusAdapter(logger.WithField("component", "badgerdb"))).
		WithNumVersionsToKeep(1)

	var err error
	store.db, err = badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open badger database at %s: %w", utils.ErrDatabase, dbPath, err)
	}

	if resume {
		count, err := store.countNotices()
		if err != nil {
			logger.Warnf("Failed to count stored notices: %v", err)
		} else {
			store.keyCount.Store(int64(count))
			logger.Infof("Notice database holds %d notices", count)
		}
	}

	return store, nil
}

func (s *BadgerStore) countNotices() (int, error) {
	count := 0
	prefix := []byte(noticeKeyPrefix)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}

const maxConflictRetries = 10

// dbUpdate wraps db.Update with a retry loop for BadgerDB transaction conflicts.
// Concurrent MVCC transactions on overlapping keys can return badger.ErrConflict;
// these resolve in microseconds, so a tight retry loop is sufficient.
func (s *BadgerStore) dbUpdate(fn func(txn *badger.Txn) error) error {
	for i := range maxConflictRetries {
		err := s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		s.log.Debugf("BadgerDB transaction conflict (attempt %d/%d), retrying", i+1, maxConflictRetries)
	}
	return fmt.Errorf("%w: transaction conflict not resolved after %d retries", utils.ErrDatabase, maxConflictRetries)
}

func noticeKey(id string) []byte { return []byte(noticeKeyPrefix + id) }

// MarkNoticeSeen implements the NoticeStore interface
func (s *BadgerStore) MarkNoticeSeen(meta models.NoticeMetadata) (bool, error) {
	if s.db == nil {
		return false, fmt.Errorf("%w: notice database not initialized", utils.ErrDatabase)
	}
	if meta.ID == "" {
		return false, fmt.Errorf("%w: notice without id", utils.ErrDatabase)
	}
	key := noticeKey(meta.ID)

	value, err := json.Marshal(models.NoticeDBEntry{
		Metadata:  meta,
		Status:    models.NoticeStatusPending,
		FirstSeen: s.now().UTC(),
	})
	if err != nil {
		return false, fmt.Errorf("%w: JSON encode notice '%s': %w", utils.ErrParsing, meta.ID, err)
	}

	added := false
	err = s.dbUpdate(func(txn *badger.Txn) error {
		added = false
		_, errGet := txn.Get(key)
		if errors.Is(errGet, badger.ErrKeyNotFound) {
			if errSet := txn.SetEntry(badger.NewEntry(key, value)); errSet != nil {
				return errSet
			}
			added = true
			return nil
		}
		return errGet
	})
	if err != nil {
		s.log.WithField("notice_id", meta.ID).Errorf("DB Update error in MarkNoticeSeen: %v", err)
		return false, fmt.Errorf("%w: marking notice '%s': %w", utils.ErrDatabase, meta.ID, err)
	}
	if added {
		s.keyCount.Add(1)
	}
	return added, nil
}

// CheckNoticeStatus implements the NoticeStore interface
func (s *BadgerStore) CheckNoticeStatus(id string) (models.NoticeStatus, *models.NoticeDBEntry, error) {
	status := models.NoticeStatusNotFound
	var entry *models.NoticeDBEntry
	key := noticeKey(id)

	errView := s.db.View(func(txn *badger.Txn) error {
		item, errGet := txn.Get(key)
		if errors.Is(errGet, badger.ErrKeyNotFound) {
			return nil
		}
		if errGet != nil {
			return fmt.Errorf("%w: failed getting notice '%s': %w", utils.ErrDatabase, id, errGet)
		}

		return item.Value(func(val []byte) error {
			if len(val) == 0 {
				status = models.NoticeStatusPending
				return nil
			}
			var decoded models.NoticeDBEntry
			if errJSON := json.Unmarshal(val, &decoded); errJSON != nil {
				s.log.Warnf("Failed to unmarshal entry for notice '%s': %v. Treating as 'pending'.", id, errJSON)
				status = models.NoticeStatusPending
				return nil
			}
			entry = &decoded
			status = decoded.Status
			if status == models.NoticeStatusUnset {
				status = models.NoticeStatusPending
			}
			return nil
		})
	})

	if errView != nil {
		s.log.Errorf("DB View error in CheckNoticeStatus for notice '%s': %v", id, errView)
		return models.NoticeStatusDBError, nil, errView
	}
	return status, entry, nil
}

// UpdateNoticeStatus implements the NoticeStore interface
func (s *BadgerStore) UpdateNoticeStatus(id string, entry *models.NoticeDBEntry) error {
	if s.db == nil {
		return fmt.Errorf("%w: notice database not initialized", utils.ErrDatabase)
	}
	key := noticeKey(id)

	entryBytes, errJSON := json.Marshal(entry)
	if errJSON != nil {
		return fmt.Errorf("%w: JSON encode notice '%s': %w", utils.ErrParsing, id, errJSON)
	}

	isNew := false
	err := s.dbUpdate(func(txn *badger.Txn) error {
		_, errGet := txn.Get(key)
		isNew = errors.Is(errGet, badger.ErrKeyNotFound)
		return txn.SetEntry(badger.NewEntry(key, entryBytes))
	})
	if err != nil {
		s.log.WithField("notice_id", id).Errorf("DB Update error in UpdateNoticeStatus: %v", err)
		return fmt.Errorf("%w: failed setting status for notice '%s': %w", utils.ErrDatabase, id, err)
	}
	if isNew {
		s.keyCount.Add(1)
	}

	s.log.Debugf("Updated notice '%s' to status '%s'", id, entry.Status)
	return nil
}

// GetContentHash implements the NoticeStore interface
func (s *BadgerStore) GetContentHash(id string) (string, bool, error) {
	status, entry, err := s.CheckNoticeStatus(id)
	if err != nil {
		return "", false, err
	}
	if status == models.NoticeStatusSuccess && entry != nil && entry.ContentHash != "" {
		return entry.ContentHash, true, nil
	}
	return "", false, nil
}

// GetSyncCursor implements the CursorStore interface
func (s *BadgerStore) GetSyncCursor() (time.Time, bool, error) {
	var cursor time.Time
	found := false
	err := s.db.View(func(txn *badger.Txn) error {
		item, errGet := txn.Get([]byte(cursorKey))
		if errors.Is(errGet, badger.ErrKeyNotFound) {
			return nil
		}
		if errGet != nil {
			return errGet
		}
		return item.Value(func(val []byte) error {
			t, errParse := time.Parse(cursorLayout, string(val))
			if errParse != nil {
				s.log.Warnf("Ignoring unreadable sync cursor %q: %v", string(val), errParse)
				return nil
			}
			cursor, found = t, true
			return nil
		})
	})
	if err != nil {
		return time.Time{}, false, fmt.Errorf("%w: reading sync cursor: %w", utils.ErrDatabase, err)
	}
	return cursor, found, nil
}

// SetSyncCursor implements the CursorStore interface
func (s *BadgerStore) SetSyncCursor(cursor time.Time) (bool, error) {
	day := cursor.UTC().Format(cursorLayout)
	moved := false
	err := s.dbUpdate(func(txn *badger.Txn) error {
		moved = false
		item, errGet := txn.Get([]byte(cursorKey))
		switch {
		case errors.Is(errGet, badger.ErrKeyNotFound):
		case errGet != nil:
			return errGet
		default:
			current, errVal := item.ValueCopy(nil)
			if errVal != nil {
				return errVal
			}
			// Same layout, so lexical order is date order
			if string(current) >= day {
				return nil
			}
		}
		moved = true
		return txn.Set([]byte(cursorKey), []byte(day))
	})
	if err != nil {
		return false, fmt.Errorf("%w: writing sync cursor: %w", utils.ErrDatabase, err)
	}
	if moved {
		s.log.Infof("Sync cursor advanced to %s", day)
	}
	return moved, nil
}

// GetNoticeCount implements the StoreAdmin interface
func (s *BadgerStore) GetNoticeCount() (int, error) {
	return int(s.keyCount.Load()), nil
}

// forEachNotice iterates stored notices in key order. Undecodable values are logged and skipped.
func (s *BadgerStore) forEachNotice(ctx context.Context, fn func(id string, entry models.NoticeDBEntry) error) error {
	prefix := []byte(noticeKeyPrefix)
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			id := string(item.Key()[len(prefix):])

			val, err := item.ValueCopy(nil)
			if err != nil {
				s.log.Errorf("Error reading value for notice '%s': %v", id, err)
				continue
			}
			var entry models.NoticeDBEntry
			if len(val) > 0 {
				if err := json.Unmarshal(val, &entry); err != nil {
					s.log.Errorf("Failed to unmarshal entry for notice '%s': %v. Skipping.", id, err)
					continue
				}
			}
			if entry.Metadata.ID == "" {
				entry.Metadata.ID = id
			}
			if err := fn(id, entry); err != nil {
				return err
			}
		}
		return nil
	})
}

// PendingNotices implements the StoreAdmin interface
func (s *BadgerStore) PendingNotices(ctx context.Context) ([]models.NoticeDBEntry, error) {
	var pending []models.NoticeDBEntry
	err := s.forEachNotice(ctx, func(_ string, entry models.NoticeDBEntry) error {
		if entry.Status.NeedsDetail() {
			pending = append(pending, entry)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return pending, err
		}
		return pending, fmt.Errorf("%w: scanning pending notices: %w", utils.ErrDatabase, err)
	}
	s.log.Debugf("Found %d notices still needing detail", len(pending))
	return pending, nil
}

// WriteSeenLog implements the StoreAdmin interface.
// Each line is: id, status, createTime and title, separated by tabs.
func (s *BadgerStore) WriteSeenLog(filePath string) error {
	file, err := os.Create(filePath)
	if err != nil {
		return fmt.Errorf("%w: create seen log '%s': %w", utils.ErrFilesystem, filePath, err)
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	written := 0
	var writeErr error

	iterErr := s.forEachNotice(s.ctx, func(id string, entry models.NoticeDBEntry) error {
		status := entry.Status
		if status == models.NoticeStatusUnset {
			status = models.NoticeStatusPending
		}
		_, err := fmt.Fprintf(writer, "%s\t%s\t%s\t%s\n", id, status, entry.Metadata.CreateTime, entry.Metadata.Title)
		if err != nil && writeErr == nil {
			writeErr = err
		}
		written++
		return nil
	})

	if flushErr := writer.Flush(); flushErr != nil && writeErr == nil {
		writeErr = flushErr
	}
	if syncErr := file.Sync(); syncErr != nil && writeErr == nil {
		writeErr = syncErr
	}

	if iterErr != nil {
		s.log.Warnf("Seen log interrupted after %d notices: %v", written, iterErr)
		return iterErr
	}
	if writeErr != nil {
		return fmt.Errorf("%w: writing seen log '%s': %w", utils.ErrFilesystem, filePath, writeErr)
	}
	s.log.Infof("Wrote %d notices to seen log: %s", written, filePath)
	return nil
}

// RunGC runs BadgerDB's garbage collection periodically
func (s *BadgerStore) RunGC(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.log.Debug("BadgerDB GC goroutine started.")

	for {
		select {
		case <-ticker.C:
			if s.db == nil || s.db.IsClosed() {
				continue
			}
			var err error
			for {
				// Rewrite while at least half of a value log file is reclaimable
				if err = s.db.RunValueLogGC(0.5); err != nil {
					break
				}
			}
			if !errors.Is(err, badger.ErrNoRewrite) {
				s.log.Errorf("BadgerDB GC error: %v", err)
			}
		case <-ctx.Done():
			s.log.Debugf("Stopping BadgerDB GC goroutine: %v", ctx.Err())
			return
		}
	}
}

// Close implements the StoreAdmin interface
func (s *BadgerStore) Close() error {
	if s.db == nil || s.db.IsClosed() {
		return nil
	}
	if err := s.db.Close(); err != nil {
		s.log.Errorf("Error closing notice DB: %v", err)
		return fmt.Errorf("%w: close: %w", utils.ErrDatabase, err)
	}
	s.log.Debug("Notice DB closed.")
	return nil
}
