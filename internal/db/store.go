package db

import (
	"errors"

	"github.com/jackc/pgx/v5"
)

// nullString maps "" to SQL NULL.
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// nullJSON maps an empty document to SQL NULL.
func nullJSON(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return raw
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
