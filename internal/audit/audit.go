// Package audit records conversion payloads at each translation stage
// so request flows can be reconstructed after the fact. Entries are
// keyed by correlation ID and tagged with the stage that produced them.
package audit

import (
	"context"
	"time"

	log "github.com/gembridge/gembridge/internal/logging"
)

// Stage tags, in pipeline order.
const (
	StageGeminiRequest     = "1_GEMINI_REQUEST"
	StageOpenAIRequest     = "2_OPENAI_REQUEST"
	StageOpenAIResponse    = "3_OPENAI_RESPONSE"
	StageGeminiResponse    = "4_GEMINI_RESPONSE"
	StageStreamSummary     = "5_STREAM_SUMMARY"
	StageError             = "ERROR"
	StageStreamError       = "STREAM_ERROR"
	StageOpenAIStreamChunk = "3_OPENAI_STREAM_CHUNK"
	StageGeminiStreamChunk = "4_GEMINI_STREAM_CHUNK"
)

// Entry is one recorded payload.
type Entry struct {
	CorrelationID string
	Stage         string
	Endpoint      string
	Description   string
	Payload       []byte
	At            time.Time
}

// Sink receives audit entries. Implementations must not block the
// request path.
type Sink interface {
	Record(ctx context.Context, entry Entry)
}

// maxPayloadBytes caps stored payloads; anything larger is truncated.
const maxPayloadBytes = 256 * 1024

// SafePayload returns a copy of p bounded to the storage cap. Entries
// outlive the request buffers they were sliced from, so copying is
// required.
func SafePayload(p []byte) []byte {
	n := len(p)
	if n > maxPayloadBytes {
		n = maxPayloadBytes
	}
	out := make([]byte, n)
	copy(out, p[:n])
	return out
}

// BackendSink persists entries through a storage backend.
type BackendSink struct {
	backend Backend
}

// NewBackendSink wraps a started backend.
func NewBackendSink(backend Backend) *BackendSink {
	return &BackendSink{backend: backend}
}

// Record implements Sink. The enqueue is non-blocking.
func (s *BackendSink) Record(_ context.Context, entry Entry) {
	if entry.At.IsZero() {
		entry.At = time.Now()
	}
	s.backend.Enqueue(entry)
}

// LogSink writes entries to the debug log. Used when no audit DSN is
// configured.
type LogSink struct{}

// Record implements Sink.
func (LogSink) Record(_ context.Context, entry Entry) {
	log.Debugf("audit [%s] %s %s: %s", entry.CorrelationID, entry.Stage, entry.Description, entry.Payload)
}
