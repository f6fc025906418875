package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	log "github.com/gembridge/gembridge/internal/logging"
)

// PostgresBackend implements the Backend interface using PostgreSQL with pgx.
type PostgresBackend struct {
	pool          *pgxpool.Pool
	entryChan     chan Entry
	flushTicker   *time.Ticker
	cleanupTicker *time.Ticker
	stopChan      chan struct{}
	stopOnce      sync.Once
	wg            sync.WaitGroup
	batchSize     int
	flushInterval time.Duration
	retentionDays int
}

const (
	pgDefaultBatchSize         = 100
	pgDefaultFlushInterval     = 5 * time.Second
	pgDefaultRetentionDays     = 30
	pgDefaultChannelBufferSize = 1000
)

// NewPostgresBackend creates a new PostgreSQL-backed persistence layer.
// The backend must be started with Start() before use.
func NewPostgresBackend(dsn string, cfg BackendConfig) (*PostgresBackend, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := ensurePostgresSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = pgDefaultBatchSize
	}

	flushInterval := cfg.FlushInterval
	if flushInterval <= 0 {
		flushInterval = pgDefaultFlushInterval
	}

	retentionDays := cfg.RetentionDays
	if retentionDays <= 0 {
		retentionDays = pgDefaultRetentionDays
	}

	return &PostgresBackend{
		pool:          pool,
		entryChan:     make(chan Entry, pgDefaultChannelBufferSize),
		flushTicker:   time.NewTicker(flushInterval),
		stopChan:      make(chan struct{}),
		batchSize:     batchSize,
		flushInterval: flushInterval,
		retentionDays: retentionDays,
		cleanupTicker: time.NewTicker(24 * time.Hour),
	}, nil
}

func ensurePostgresSchema(ctx context.Context, pool *pgxpool.Pool) error {
	schema := `
	CREATE TABLE IF NOT EXISTS audit_entries (
		id BIGSERIAL PRIMARY KEY,
		correlation_id TEXT NOT NULL,
		stage TEXT NOT NULL,
		endpoint TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		payload BYTEA,
		recorded_at TIMESTAMPTZ NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_audit_correlation ON audit_entries(correlation_id);
	CREATE INDEX IF NOT EXISTS idx_audit_recorded_at ON audit_entries(recorded_at);
	`

	_, err := pool.Exec(ctx, schema)
	return err
}

// Start begins background workers (write loop, cleanup loop).
func (b *PostgresBackend) Start() error {
	b.wg.Add(2)
	go b.writeLoop()
	go b.cleanupLoop()
	return nil
}

// Stop gracefully shuts down the backend, flushing pending writes.
func (b *PostgresBackend) Stop() error {
	if b == nil {
		return nil
	}

	b.stopOnce.Do(func() {
		close(b.stopChan)
		b.flushTicker.Stop()
		b.cleanupTicker.Stop()
		b.wg.Wait()
		if b.pool != nil {
			b.pool.Close()
		}
	})

	return nil
}

// Enqueue adds an entry to the write queue. Non-blocking.
func (b *PostgresBackend) Enqueue(entry Entry) {
	if b == nil {
		return
	}
	select {
	case b.entryChan <- entry:
	default:
		log.Warnf("Audit queue full, dropping entry %s/%s", entry.CorrelationID, entry.Stage)
	}
}

// Flush forces pending entries to be written to storage.
func (b *PostgresBackend) Flush(ctx context.Context) error {
	if b == nil {
		return nil
	}

	batch := make([]Entry, 0, b.batchSize)
	for {
		select {
		case entry := <-b.entryChan:
			batch = append(batch, entry)
			if len(batch) >= b.batchSize {
				if err := b.writeBatch(ctx, batch); err != nil {
					return err
				}
				batch = batch[:0]
			}
		default:
			if len(batch) > 0 {
				return b.writeBatch(ctx, batch)
			}
			return nil
		}
	}
}

// QueryByCorrelation returns all entries for a correlation ID in
// recording order.
func (b *PostgresBackend) QueryByCorrelation(ctx context.Context, correlationID string) ([]Entry, error) {
	rows, err := b.pool.Query(ctx, `
		SELECT correlation_id, stage, endpoint, description, payload, recorded_at
		FROM audit_entries
		WHERE correlation_id = $1
		ORDER BY id
	`, correlationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit entries: %w", err)
	}
	defer rows.Close()

	var results []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.CorrelationID, &e.Stage, &e.Endpoint, &e.Description, &e.Payload, &e.At); err != nil {
			return nil, err
		}
		results = append(results, e)
	}
	return results, rows.Err()
}

// Cleanup removes entries older than the given time.
func (b *PostgresBackend) Cleanup(ctx context.Context, before time.Time) (int64, error) {
	result, err := b.pool.Exec(ctx, `
		DELETE FROM audit_entries WHERE recorded_at < $1
	`, before)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

// writeLoop continuously reads from the entry channel and writes in batches.
func (b *PostgresBackend) writeLoop() {
	defer b.wg.Done()

	batch := make([]Entry, 0, b.batchSize)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := b.writeBatch(ctx, batch); err != nil {
			log.Errorf("Failed to write audit batch: %v", err)
		}
		cancel()
		batch = batch[:0]
	}

	for {
		select {
		case entry := <-b.entryChan:
			batch = append(batch, entry)
			if len(batch) >= b.batchSize {
				flush()
			}
		case <-b.flushTicker.C:
			flush()
		case <-b.stopChan:
			// Drain remaining entries
			for {
				select {
				case entry := <-b.entryChan:
					batch = append(batch, entry)
					if len(batch) >= b.batchSize {
						flush()
					}
				default:
					flush()
					return
				}
			}
		}
	}
}

// writeBatch writes a batch of entries using CopyFrom for high performance.
func (b *PostgresBackend) writeBatch(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}

	columns := []string{
		"correlation_id", "stage", "endpoint", "description", "payload", "recorded_at",
	}

	_, err := b.pool.CopyFrom(
		ctx,
		pgx.Identifier{"audit_entries"},
		columns,
		pgx.CopyFromSlice(len(entries), func(i int) ([]any, error) {
			e := entries[i]
			return []any{
				e.CorrelationID,
				e.Stage,
				e.Endpoint,
				e.Description,
				e.Payload,
				e.At,
			}, nil
		}),
	)

	if err != nil {
		return fmt.Errorf("failed to copy entries: %w", err)
	}

	return nil
}

// cleanupLoop periodically removes old entries based on retention policy.
func (b *PostgresBackend) cleanupLoop() {
	defer b.wg.Done()

	for {
		select {
		case <-b.cleanupTicker.C:
			cutoffTime := time.Now().AddDate(0, 0, -b.retentionDays)
			ctx, cancel := context.WithTimeout(context.Background(), 1*time.Minute)
			rowsDeleted, err := b.Cleanup(ctx, cutoffTime)
			cancel()
			if err != nil {
				log.Errorf("Failed to cleanup old audit entries: %v", err)
			} else if rowsDeleted > 0 {
				log.Infof("Cleaned up %d audit entries older than %d days", rowsDeleted, b.retentionDays)
			}
		case <-b.stopChan:
			return
		}
	}
}
