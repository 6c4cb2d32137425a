package storage

import (
	"fmt"
	"time"
)

const (
	// ISOSeconds is the persisted timestamp layout: UTC, second precision.
	ISOSeconds = "2006-01-02T15:04:05Z"
	// YMD is the persisted date layout.
	YMD = "2006-01-02"
)

// NowISO formats the current time for persistence.
func NowISO() string {
	return time.Now().UTC().Format(ISOSeconds)
}

// FormatISO renders t in the persisted timestamp layout.
func FormatISO(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format(ISOSeconds)
}

// ParseISO accepts the persisted layout plus RFC3339 variants.
func ParseISO(s string) (time.Time, error) {
	for _, layout := range []string{ISOSeconds, time.RFC3339, time.RFC3339Nano} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp: %q", s)
}

// TodayYMD is today's date in UTC.
func TodayYMD() string {
	return time.Now().UTC().Format(YMD)
}

// ParseYMD validates and parses a YYYY-MM-DD date.
func ParseYMD(s string) (time.Time, error) {
	t, err := time.Parse(YMD, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date: %q", s)
	}
	return t, nil
}
