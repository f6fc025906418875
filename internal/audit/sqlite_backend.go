package audit

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	log "github.com/gembridge/gembridge/internal/logging"
	_ "modernc.org/sqlite"
)

// SQLiteBackend implements the Backend interface using SQLite.
type SQLiteBackend struct {
	db            *sql.DB
	entryChan     chan Entry
	flushTicker   *time.Ticker
	cleanupTicker *time.Ticker
	stopChan      chan struct{}
	stopOnce      sync.Once
	wg            sync.WaitGroup
	batchSize     int
	flushInterval time.Duration
	retentionDays int
	dbPath        string
}

const (
	sqliteDefaultBatchSize         = 100
	sqliteDefaultFlushInterval     = 5 * time.Second
	sqliteDefaultRetentionDays     = 30
	sqliteDefaultChannelBufferSize = 1000
)

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS audit_entries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		correlation_id TEXT NOT NULL,
		stage TEXT NOT NULL,
		endpoint TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		payload BLOB,
		recorded_at TIMESTAMP NOT NULL,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_audit_correlation ON audit_entries(correlation_id);
	CREATE INDEX IF NOT EXISTS idx_audit_recorded_at ON audit_entries(recorded_at);
	`

	_, err := db.Exec(schema)
	return err
}

// NewSQLiteBackend creates a new SQLite-backed persistence layer.
// The backend must be started with Start() before use.
func NewSQLiteBackend(dbPath string, cfg BackendConfig) (*SQLiteBackend, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("SQLite path is required")
	}

	// Expand ~ to home directory
	if strings.HasPrefix(dbPath, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		dbPath = filepath.Join(home, dbPath[1:])
	}

	dbDir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dbDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// WAL keeps audit writes off the read path
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_cache_size=-64000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite works best with a single connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = sqliteDefaultBatchSize
	}

	flushInterval := cfg.FlushInterval
	if flushInterval <= 0 {
		flushInterval = sqliteDefaultFlushInterval
	}

	retentionDays := cfg.RetentionDays
	if retentionDays <= 0 {
		retentionDays = sqliteDefaultRetentionDays
	}

	return &SQLiteBackend{
		db:            db,
		entryChan:     make(chan Entry, sqliteDefaultChannelBufferSize),
		flushTicker:   time.NewTicker(flushInterval),
		stopChan:      make(chan struct{}),
		batchSize:     batchSize,
		flushInterval: flushInterval,
		retentionDays: retentionDays,
		cleanupTicker: time.NewTicker(24 * time.Hour),
		dbPath:        dbPath,
	}, nil
}

// Start begins background workers (write loop, cleanup loop).
func (b *SQLiteBackend) Start() error {
	b.wg.Add(2)
	go b.writeLoop()
	go b.cleanupLoop()
	return nil
}

// Stop gracefully shuts down the backend, flushing pending writes.
func (b *SQLiteBackend) Stop() error {
	if b == nil {
		return nil
	}

	var err error
	b.stopOnce.Do(func() {
		close(b.stopChan)
		b.flushTicker.Stop()
		b.cleanupTicker.Stop()
		b.wg.Wait()
		if b.db != nil {
			err = b.db.Close()
		}
	})

	return err
}

// Enqueue adds an entry to the write queue. Non-blocking.
func (b *SQLiteBackend) Enqueue(entry Entry) {
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
func (b *SQLiteBackend) Flush(ctx context.Context) error {
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
func (b *SQLiteBackend) QueryByCorrelation(ctx context.Context, correlationID string) ([]Entry, error) {
	rows, err := b.db.QueryContext(ctx, `
		SELECT correlation_id, stage, endpoint, description, payload, recorded_at
		FROM audit_entries
		WHERE correlation_id = ?
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
func (b *SQLiteBackend) Cleanup(ctx context.Context, before time.Time) (int64, error) {
	result, err := b.db.ExecContext(ctx, `
		DELETE FROM audit_entries WHERE recorded_at < ?
	`, before)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// DBPath returns the filesystem path to the SQLite database.
func (b *SQLiteBackend) DBPath() string {
	if b == nil {
		return ""
	}
	return b.dbPath
}

// writeLoop continuously reads from the entry channel and writes in batches.
func (b *SQLiteBackend) writeLoop() {
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

// writeBatch writes a batch of entries in a single transaction.
func (b *SQLiteBackend) writeBatch(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO audit_entries (
			correlation_id, stage, endpoint, description, payload, recorded_at
		) VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, entry := range entries {
		_, err := stmt.ExecContext(ctx,
			entry.CorrelationID,
			entry.Stage,
			entry.Endpoint,
			entry.Description,
			entry.Payload,
			entry.At,
		)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to insert entry: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// cleanupLoop periodically removes old entries based on retention policy.
func (b *SQLiteBackend) cleanupLoop() {
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
