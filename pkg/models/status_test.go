package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNoticeStatus_String(t *testing.T) {
	tests := []struct {
		status NoticeStatus
		want   string
	}{
		{NoticeStatusUnset, "unset"},
		{NoticeStatusPending, "pending"},
		{NoticeStatusSuccess, "success"},
		{NoticeStatusFailure, "failure"},
		{NoticeStatusNotFound, "not_found"},
		{NoticeStatusDBError, "db_error"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.status.String())
	}
}

func TestNoticeStatus_IsValid(t *testing.T) {
	tests := []struct {
		status NoticeStatus
		want   bool
	}{
		{NoticeStatusPending, true},
		{NoticeStatusSuccess, true},
		{NoticeStatusFailure, true},
		{NoticeStatusUnset, false},
		{NoticeStatusNotFound, false},
		{NoticeStatusDBError, false},
		{NoticeStatus("arbitrary"), false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.status.IsValid(), "NoticeStatus(%q).IsValid()", string(tt.status))
	}
}

func TestNoticeStatus_NeedsDetail(t *testing.T) {
	tests := []struct {
		status NoticeStatus
		want   bool
	}{
		{NoticeStatusNotFound, true},
		{NoticeStatusPending, true},
		{NoticeStatusFailure, true},
		{NoticeStatusUnset, true},
		{NoticeStatusSuccess, false},
		{NoticeStatusDBError, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.status.NeedsDetail(), "NoticeStatus(%q).NeedsDetail()", string(tt.status))
	}
}
