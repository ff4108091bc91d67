package sqlite

import (
	"database/sql"
	"time"
)

type scanner interface {
	Scan(dest ...any) error
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}

	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}

	value := t.Time

	return &value
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}

	return sql.NullString{String: *s, Valid: true}
}

func stringPtr(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}

	value := s.String

	return &value
}

func nullInt(i *int) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}

	return sql.NullInt64{Int64: int64(*i), Valid: true}
}

func intPtr(i sql.NullInt64) *int {
	if !i.Valid {
		return nil
	}

	value := int(i.Int64)

	return &value
}
