package models

import "time"

// NoticeMetadata is one row of the portal's notice listing.
// Identity is ID; CreateTime is advisory "YYYY.MM.DD" text.
type NoticeMetadata struct {
	ID         string  `json:"id" yaml:"id"`
	Title      string  `json:"title" yaml:"title"`
	CreateTime string  `json:"createTime" yaml:"create_time"`
	Label      *string `json:"label,omitempty" yaml:"label,omitempty"`
	IsLatest   *bool   `json:"isLastest,omitempty" yaml:"is_latest,omitempty"` // Portal spells it "isLastest"
}

// NoticeListPage is the JSON envelope returned by the listing endpoint.
// A nil List is a valid empty page.
type NoticeListPage struct {
	List  []NoticeMetadata `json:"list"`
	Total int              `json:"total"`
}

// Attachment is a file linked from a notice's content container. URL is always absolute.
type Attachment struct {
	Name string `json:"name" yaml:"name"`
	URL  string `json:"url" yaml:"url"`
}

// NoticeDetail is the extracted body of a single notice.
type NoticeDetail struct {
	Metadata    NoticeMetadata `json:"metadata"`
	Content     string         `json:"content"`
	Attachments []Attachment   `json:"attachments"`
	HTML        string         `json:"-"` // Outer HTML of the content container, empty when not found

	ContainerFound bool `json:"-"` // False when the page had no content container
}

// NoticeDBEntry stores the sync state of a notice in the database
type NoticeDBEntry struct {
	Metadata        NoticeMetadata `json:"metadata"`
	Status          NoticeStatus   `json:"status"`
	ErrorType       string         `json:"error_type,omitempty"`   // Error category (on failure)
	ContentHash     string         `json:"content_hash,omitempty"` // SHA-256 of extracted content
	AttachmentCount int            `json:"attachment_count,omitempty"`
	FirstSeen       time.Time      `json:"first_seen"`
	LastAttempt     time.Time      `json:"last_attempt,omitempty"`
	FetchedAt       time.Time      `json:"fetched_at,omitempty"` // Timestamp of last successful detail fetch
}

// DetailJSONL is one line of details.jsonl.
type DetailJSONL struct {
	ID          string       `json:"id"`
	Title       string       `json:"title"`
	CreateTime  string       `json:"create_time"`
	URL         string       `json:"url"`
	Content     string       `json:"content"`
	Attachments []Attachment `json:"attachments"`
	Headings    []string     `json:"headings,omitempty"`
	ContentHash string       `json:"content_hash"`
	FetchedAt   string       `json:"fetched_at"`
	TokenCount  int          `json:"token_count,omitempty"`
}

// ChunkJSONL is one line of chunks.jsonl.
type ChunkJSONL struct {
	NoticeID         string   `json:"notice_id"`
	ChunkIndex       int      `json:"chunk_index"`
	Content          string   `json:"content"`
	HeadingHierarchy []string `json:"heading_hierarchy,omitempty"`
	TokenCount       int      `json:"token_count"`
	NoticeTitle      string   `json:"notice_title"`
	FetchedAt        string   `json:"fetched_at"`
}

// CrawlMetadata holds all metadata for a single sync run.
type CrawlMetadata struct {
	RunID         string           `yaml:"run_id"`
	Portal        string           `yaml:"portal"`
	StartTime     time.Time        `yaml:"start_time"`
	EndTime       time.Time        `yaml:"end_time"`
	Since         string           `yaml:"since,omitempty"` // Cutoff date used, empty for an exhaustive crawl
	NoticesListed int              `yaml:"notices_listed"`
	DetailsSaved  int              `yaml:"details_saved"`
	Notices       []NoticeFileMeta `yaml:"notices"`
}

// NoticeFileMeta holds metadata for one saved notice.
type NoticeFileMeta struct {
	ID              string    `yaml:"id"`
	Title           string    `yaml:"title"`
	CreateTime      string    `yaml:"create_time"`
	URL             string    `yaml:"url"`
	LocalFilePath   string    `yaml:"local_file_path"` // Relative to output dir
	FetchedAt       time.Time `yaml:"fetched_at"`
	ContentHash     string    `yaml:"content_hash,omitempty"`
	AttachmentCount int       `yaml:"attachment_count,omitempty"`
	Headings        []string  `yaml:"headings,omitempty"`
	TokenCount      int       `yaml:"token_count,omitempty"`
}
