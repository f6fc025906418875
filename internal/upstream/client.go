// Package upstream implements the OpenAI chat-completions client the
// conversion service calls into. Payloads cross this boundary as raw
// JSON; conversion happens entirely in the translator layer.
package upstream

import (
	"context"
	"fmt"
)

// Client is the narrow interface the conversion service depends on.
type Client interface {
	// CreateChatCompletion performs one blocking chat-completions call
	// and returns the raw response body.
	CreateChatCompletion(ctx context.Context, payload []byte) ([]byte, error)

	// CreateChatCompletionStream starts a streaming chat-completions
	// call. The returned stream yields SSE data payloads in delivery
	// order and must be closed by the caller.
	CreateChatCompletionStream(ctx context.Context, payload []byte) (ChunkStream, error)
}

// ChunkStream is a lazy sequence of streaming chunks. Recv returns
// io.EOF once the upstream stream ends.
type ChunkStream interface {
	Recv() ([]byte, error)
	Close() error
}

// APIError is a non-2xx response from the upstream API.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("upstream API error: status %d: %s", e.StatusCode, e.Body)
}
