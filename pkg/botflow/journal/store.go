// Package journal records failed listener results so operators can inspect
// them after the fact.
package journal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/randalmurphal/botflow/pkg/botflow/config"
)

// Record is one failed listener result.
type Record struct {
	ID         string    `json:"id"`
	EventID    string    `json:"event_id"`
	EventKey   string    `json:"event_key"`
	Source     string    `json:"source"`
	ListenerID string    `json:"listener_id"`
	Error      string    `json:"error"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Query selects records. Zero fields match everything.
type Query struct {
	ListenerID string
	EventID    string
	// Since keeps records at or after this time.
	Since time.Time
	// Limit caps the number of records returned. Zero means no limit.
	Limit int
}

func (q Query) matches(r Record) bool {
	if q.ListenerID != "" && r.ListenerID != q.ListenerID {
		return false
	}
	if q.EventID != "" && r.EventID != q.EventID {
		return false
	}
	if !q.Since.IsZero() && r.RecordedAt.Before(q.Since) {
		return false
	}
	return true
}

// Store persists failure records.
// Implementations must be safe for concurrent use.
type Store interface {
	// Append stores r. An empty ID is replaced by a generated one and a
	// zero RecordedAt by the current time.
	Append(ctx context.Context, r Record) error

	// List returns matching records, oldest first.
	// Returns an empty slice (not error) if nothing matches.
	List(ctx context.Context, q Query) ([]Record, error)

	// Delete removes a record. Returns nil if it doesn't exist.
	Delete(ctx context.Context, id string) error

	// Close releases any resources (connections, files).
	Close() error
}

// ErrStoreClosed indicates the store has been closed.
var ErrStoreClosed = errors.New("journal store closed")

// Open creates the store selected by settings.
func Open(s config.JournalSettings) (Store, error) {
	switch s.Driver {
	case "", config.DriverMemory:
		return NewMemoryStore(), nil
	case config.DriverSQLite:
		return NewSQLiteStore(s.Path)
	default:
		return nil, fmt.Errorf("unknown journal driver %q", s.Driver)
	}
}
