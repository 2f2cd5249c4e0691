package db

import (
	"database/sql"
	"time"
)

// TimestampLayout is the fixed-width UTC layout stored in TEXT columns.
// Fixed width keeps lexical and chronological order identical.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// NowISO returns the current time formatted for storage.
func NowISO() string {
	return FormatTime(time.Now())
}

// FormatTime formats t for storage.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// ParseTime parses a stored timestamp. SQLite's datetime('now') format is
// accepted too. Unparseable values yield the zero time.
func ParseTime(value string) time.Time {
	if parsed, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return parsed.UTC()
	}
	parsed, _ := time.Parse("2006-01-02 15:04:05", value)
	return parsed
}

// ParseNullTime parses an optional stored timestamp.
func ParseNullTime(value sql.NullString) *time.Time {
	if !value.Valid || value.String == "" {
		return nil
	}
	parsed := ParseTime(value.String)
	return &parsed
}

// NullTime formats an optional time for storage.
func NullTime(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return FormatTime(*t)
}

// NullString returns nil for a nil or empty string.
func NullString(s *string) any {
	if s == nil || *s == "" {
		return nil
	}
	return *s
}

// StringPtr converts a nullable column into a pointer.
func StringPtr(value sql.NullString) *string {
	if !value.Valid {
		return nil
	}
	s := value.String
	return &s
}

// BoolInt converts a bool into SQLite's integer representation.
func BoolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
