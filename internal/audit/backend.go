package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/gembridge/gembridge/internal/config"
)

// Backend defines the persistence contract for audit entries.
// Implementations must be safe for concurrent use.
type Backend interface {
	// Enqueue adds an entry to the write queue. Non-blocking; entries
	// are dropped with a warning when the queue is full.
	Enqueue(entry Entry)

	// Flush forces pending entries to be written to storage.
	Flush(ctx context.Context) error

	// QueryByCorrelation returns all entries for a correlation ID in
	// recording order.
	QueryByCorrelation(ctx context.Context, correlationID string) ([]Entry, error)

	// Cleanup removes entries older than the given time.
	Cleanup(ctx context.Context, before time.Time) (int64, error)

	// Start begins background workers (write loop, cleanup loop).
	Start() error

	// Stop gracefully shuts down the backend, flushing pending writes.
	Stop() error
}

// BackendConfig holds parameters for backend initialization.
type BackendConfig struct {
	// DSN is the storage connection string (sqlite://... or postgres://...).
	DSN string

	// BatchSize is the number of entries to batch before writing.
	BatchSize int

	// FlushInterval is how often to flush pending writes.
	FlushInterval time.Duration

	// RetentionDays is how many days of entries to keep.
	RetentionDays int
}

// NewBackend creates the appropriate backend based on DSN configuration.
func NewBackend(cfg BackendConfig) (Backend, error) {
	parsed, err := config.ParseDSN(cfg.DSN)
	if err != nil {
		return nil, err
	}
	if parsed == nil {
		return nil, fmt.Errorf("DSN is required (use sqlite:// or postgres://)")
	}

	switch parsed.Backend {
	case "postgres":
		return NewPostgresBackend(parsed.URL, cfg)
	case "sqlite":
		return NewSQLiteBackend(parsed.Path, cfg)
	default:
		return nil, fmt.Errorf("unknown backend type: %q", parsed.Backend)
	}
}
