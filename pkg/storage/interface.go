package storage

import (
	"context"
	"time"

	"jw-notices/pkg/models"
)

// NoticeStore tracks which notices have been listed and the state of their detail fetch
type NoticeStore interface {
	// MarkNoticeSeen records a listed notice as pending.
	// Returns true if the id was newly added, false if it already existed
	MarkNoticeSeen(meta models.NoticeMetadata) (bool, error)

	// CheckNoticeStatus retrieves the status and stored entry of a notice id.
	// An unknown id yields NoticeStatusNotFound and a nil entry without error
	CheckNoticeStatus(id string) (status models.NoticeStatus, entry *models.NoticeDBEntry, err error)

	// UpdateNoticeStatus overwrites the stored entry for a notice id
	UpdateNoticeStatus(id string, entry *models.NoticeDBEntry) error

	// GetContentHash returns the content hash of a successfully fetched notice
	GetContentHash(id string) (hash string, exists bool, err error)
}

// CursorStore persists the newest createTime date a sync has seen
type CursorStore interface {
	GetSyncCursor() (cursor time.Time, exists bool, err error)

	// SetSyncCursor stores cursor unless an equal or later one is already stored.
	// Returns true if the stored cursor moved
	SetSyncCursor(cursor time.Time) (bool, error)
}

// StoreAdmin handles lifecycle and administrative operations
type StoreAdmin interface {
	// GetNoticeCount returns the number of notices known to the store
	GetNoticeCount() (int, error)

	// PendingNotices returns every stored notice whose detail still needs fetching
	PendingNotices(ctx context.Context) ([]models.NoticeDBEntry, error)

	// WriteSeenLog writes one line per stored notice to filePath
	WriteSeenLog(filePath string) error

	// RunGC runs periodic garbage collection. Should be run in a goroutine
	RunGC(ctx context.Context, interval time.Duration)

	// Close cleanly closes the database connection
	Close() error
}

// SyncStore combines all store interfaces for the incremental syncer
type SyncStore interface {
	NoticeStore
	CursorStore
	StoreAdmin
}
