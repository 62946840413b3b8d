package crawler

import (
	"strconv"
	"strings"
	"time"
)

// SentinelDate stands in for any createTime that cannot be parsed.
// It is earlier than every real cutoff, so such notices never pass a date-bounded crawl.
var SentinelDate = time.Date(1900, time.January, 1, 0, 0, 0, 0, time.UTC)

// ParseCreateTime parses a portal createTime of the form "YYYY.MM.DD".
// Anything else (wrong part count, a non-numeric part, an impossible calendar date)
// yields SentinelDate and false.
func ParseCreateTime(s string) (time.Time, bool) {
	parts := strings.Split(s, ".")
	if len(parts) != 3 {
		return SentinelDate, false
	}

	var ymd [3]int
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return SentinelDate, false
		}
		ymd[i] = n
	}
	year, month, day := ymd[0], ymd[1], ymd[2]
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return SentinelDate, false
	}

	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	// time.Date normalises overflow (Feb 30 becomes Mar 1); reject those
	if t.Year() != year || int(t.Month()) != month || t.Day() != day {
		return SentinelDate, false
	}
	return t, true
}

// dayOf truncates t to its calendar date in UTC
func dayOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
