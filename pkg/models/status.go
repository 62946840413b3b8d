package models

// NoticeStatus represents the detail-fetch status of a notice in the database
type NoticeStatus string

const (
	NoticeStatusUnset    NoticeStatus = ""          // Zero value = unset/unknown
	NoticeStatusPending  NoticeStatus = "pending"   // Listed, detail not fetched yet
	NoticeStatusSuccess  NoticeStatus = "success"   // Detail fetched and extracted
	NoticeStatusFailure  NoticeStatus = "failure"   // Detail fetch failed
	NoticeStatusNotFound NoticeStatus = "not_found" // Notice not in database
	NoticeStatusDBError  NoticeStatus = "db_error"  // Database error occurred
)

// String implements fmt.Stringer for logging
func (s NoticeStatus) String() string {
	if s == "" {
		return "unset"
	}
	return string(s)
}

// IsValid returns true if the status is a known operational value
func (s NoticeStatus) IsValid() bool {
	switch s {
	case NoticeStatusPending, NoticeStatusSuccess, NoticeStatusFailure:
		return true
	}
	return false
}

// NeedsDetail reports whether a sync should (re)fetch the notice's detail page.
func (s NoticeStatus) NeedsDetail() bool {
	switch s {
	case NoticeStatusSuccess, NoticeStatusDBError:
		return false
	}
	return true
}
