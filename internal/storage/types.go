package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures the audit journal.
//
// Driver values:
//   - "file": dependency-free jsonl backend
//   - "sqlite": SQLite database file (optional build tag)
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Entry records one request outcome. Keep it compact and schema-stable.
type Entry struct {
	At      time.Time
	Kind    string // request kind token (Start_Alarm, Cancel_Alarm, ...)
	AlarmID int
	Group   int
	OK      bool
	Note    string // diagnostic for dropped requests
}
