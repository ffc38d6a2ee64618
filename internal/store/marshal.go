package store

import (
	"database/sql"
	"time"
)

// toUnixNano converts a timestamp to the INTEGER representation stored in
// created_at, enqueued_at and expires_at columns.
func toUnixNano(t time.Time) int64 {
	return t.UnixNano()
}

// fromUnixNano is the inverse of toUnixNano. Stored times are always UTC.
func fromUnixNano(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

// nullString converts an optional cursor to a nullable TEXT parameter.
func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// stringPtr converts a nullable TEXT column back to an optional cursor.
func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}
