package storage

import (
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("notification not found")

	// ErrConflict reports a lost compare-and-set: the notification's status
	// changed between the caller's read and its write.
	ErrConflict = errors.New("notification modified concurrently")
)

// Config configures storage.
//
// Driver values:
//   - "memory": in-process store (tests, demos); honors claim semantics
//   - "sqlite": SQLite database file
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Filter narrows List results. Zero-value fields match everything.
type Filter struct {
	Kind     string // notification.Kind
	Status   string // notification.Status
	RuleKind string // notification.RuleKind
}
