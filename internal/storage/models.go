package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ProfileDoc is a user profile serialized as a JSON document.
type ProfileDoc struct {
	UserID    string
	Doc       []byte
	UpdatedAt time.Time
}

// LogRecord is one row of the append-only adaptation log. EntryJSON holds
// the full decision trace; the other columns exist for filtering.
type LogRecord struct {
	ID             string
	CreatedAt      time.Time
	UserID         string
	Classification string
	Persisted      bool
	EntryJSON      string
}

// LogFilter narrows ListLog results. Zero values mean no filter.
type LogFilter struct {
	UserID         string
	Classification string
	Limit          int
}
