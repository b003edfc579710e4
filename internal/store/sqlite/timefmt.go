package sqlite

import "time"

// sqliteTimeLayout is the textual timestamp format written to and read
// from every *_at column. modernc.org/sqlite scans TEXT columns as Go
// strings, not time.Time, so every driver method here binds and parses
// timestamps explicitly instead of relying on driver-level conversion.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(sqliteTimeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
