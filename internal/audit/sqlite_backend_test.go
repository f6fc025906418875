package audit

import (
	"context"
	"path/filepath"
	"strconv"
	"testing"
	"time"
)

func newTestBackend(t *testing.T, path string) *SQLiteBackend {
	t.Helper()
	b, err := NewSQLiteBackend(path, BackendConfig{BatchSize: 10, FlushInterval: time.Hour})
	if err != nil {
		t.Fatalf("NewSQLiteBackend failed: %v", err)
	}
	return b
}

func TestSQLiteBackendFlushAndQuery(t *testing.T) {
	b := newTestBackend(t, filepath.Join(t.TempDir(), "audit.db"))
	defer b.Stop()

	b.Enqueue(Entry{CorrelationID: "abc", Stage: StageGeminiRequest, Endpoint: "generateContent", Description: "incoming", Payload: []byte(`{"contents": []}`), At: time.Now()})
	b.Enqueue(Entry{CorrelationID: "abc", Stage: StageOpenAIRequest, Endpoint: "generateContent", At: time.Now()})
	b.Enqueue(Entry{CorrelationID: "other", Stage: StageError, At: time.Now()})

	if err := b.Flush(context.Background()); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	entries, err := b.QueryByCorrelation(context.Background(), "abc")
	if err != nil {
		t.Fatalf("QueryByCorrelation failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries for abc, got %d", len(entries))
	}
	if entries[0].Stage != StageGeminiRequest || entries[1].Stage != StageOpenAIRequest {
		t.Errorf("entries must come back in recording order, got %s then %s", entries[0].Stage, entries[1].Stage)
	}
	if string(entries[0].Payload) != `{"contents": []}` {
		t.Errorf("payload must round-trip, got %q", entries[0].Payload)
	}
	if entries[0].Description != "incoming" {
		t.Errorf("description must round-trip, got %q", entries[0].Description)
	}
}

func TestSQLiteBackendStopDrainsQueue(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")

	b := newTestBackend(t, path)
	if err := b.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	for i := 0; i < 5; i++ {
		b.Enqueue(Entry{CorrelationID: "drain", Stage: StageOpenAIStreamChunk + "_" + strconv.Itoa(i), At: time.Now()})
	}
	if err := b.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	// Reopen the same file: everything enqueued before Stop must be there.
	reopened := newTestBackend(t, path)
	defer reopened.Stop()

	entries, err := reopened.QueryByCorrelation(context.Background(), "drain")
	if err != nil {
		t.Fatalf("QueryByCorrelation failed: %v", err)
	}
	if len(entries) != 5 {
		t.Errorf("Stop must drain the queue before closing, got %d of 5 entries", len(entries))
	}
}

func TestSQLiteBackendQueueFullDrops(t *testing.T) {
	b := newTestBackend(t, filepath.Join(t.TempDir(), "audit.db"))
	defer b.Stop()

	// Backend not started, so nothing consumes the channel. Overfilling
	// it must not block the caller.
	for i := 0; i < sqliteDefaultChannelBufferSize+10; i++ {
		b.Enqueue(Entry{CorrelationID: "full", Stage: StageGeminiRequest, At: time.Now()})
	}

	if err := b.Flush(context.Background()); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	entries, err := b.QueryByCorrelation(context.Background(), "full")
	if err != nil {
		t.Fatalf("QueryByCorrelation failed: %v", err)
	}
	if len(entries) != sqliteDefaultChannelBufferSize {
		t.Errorf("overflow entries must be dropped, expected %d persisted, got %d", sqliteDefaultChannelBufferSize, len(entries))
	}
}

func TestSQLiteBackendCleanup(t *testing.T) {
	b := newTestBackend(t, filepath.Join(t.TempDir(), "audit.db"))
	defer b.Stop()

	now := time.Now()
	b.Enqueue(Entry{CorrelationID: "old", Stage: StageGeminiRequest, At: now.Add(-48 * time.Hour)})
	b.Enqueue(Entry{CorrelationID: "fresh", Stage: StageGeminiRequest, At: now})
	if err := b.Flush(context.Background()); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	removed, err := b.Cleanup(context.Background(), now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("Cleanup failed: %v", err)
	}
	if removed != 1 {
		t.Errorf("expected 1 removed entry, got %d", removed)
	}

	remaining, err := b.QueryByCorrelation(context.Background(), "fresh")
	if err != nil {
		t.Fatalf("QueryByCorrelation failed: %v", err)
	}
	if len(remaining) != 1 {
		t.Errorf("fresh entry must survive cleanup, got %d entries", len(remaining))
	}
}

func TestNewBackendDSNDispatch(t *testing.T) {
	if _, err := NewBackend(BackendConfig{DSN: ""}); err == nil {
		t.Error("empty DSN must be rejected")
	}
	if _, err := NewBackend(BackendConfig{DSN: "mysql://nope"}); err == nil {
		t.Error("unknown DSN scheme must be rejected")
	}

	path := filepath.Join(t.TempDir(), "audit.db")
	b, err := NewBackend(BackendConfig{DSN: "sqlite://" + path})
	if err != nil {
		t.Fatalf("sqlite DSN must dispatch to the SQLite backend: %v", err)
	}
	defer b.Stop()

	sb, ok := b.(*SQLiteBackend)
	if !ok {
		t.Fatalf("expected *SQLiteBackend, got %T", b)
	}
	if sb.DBPath() != path {
		t.Errorf("expected database at %s, got %s", path, sb.DBPath())
	}
}
