package upstream

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gembridge/gembridge/internal/config"
	"github.com/gembridge/gembridge/internal/resilience"
)

const (
	chatCompletionsPath = "/chat/completions"
	streamIdleTimeout   = 4 * time.Minute

	// SSE payloads can carry large tool-call argument fragments.
	scannerBufferSize = 1 << 20
)

// OpenAIClient talks to an OpenAI-compatible chat-completions endpoint.
type OpenAIClient struct {
	baseURL      string
	apiKey       string
	client       *http.Client // bounded, for non-streaming calls
	streamClient *http.Client // unbounded, for streaming calls
	breaker      *resilience.StreamingCircuitBreaker
}

var _ Client = (*OpenAIClient)(nil)

// NewOpenAIClient builds a client from upstream config.
func NewOpenAIClient(cfg config.OpenAIConfig) *OpenAIClient {
	return &OpenAIClient{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:       cfg.APIKey,
		client:       resilience.NewHTTPClient(time.Duration(cfg.TimeoutSeconds) * time.Second),
		streamClient: resilience.NewHTTPClient(0),
		breaker:      resilience.NewStreamingCircuitBreaker(resilience.DefaultBreakerConfig("openai")),
	}
}

func (c *OpenAIClient) newRequest(ctx context.Context, payload []byte) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+chatCompletionsPath, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	return req, nil
}

// CreateChatCompletion implements Client.
func (c *OpenAIClient) CreateChatCompletion(ctx context.Context, payload []byte) ([]byte, error) {
	done, err := c.breaker.Allow()
	if err != nil {
		return nil, fmt.Errorf("upstream unavailable: %w", err)
	}

	body, err := c.doCompletion(ctx, payload)
	done(err == nil)
	return body, err
}

func (c *OpenAIClient) doCompletion(ctx context.Context, payload []byte) ([]byte, error) {
	req, err := c.newRequest(ctx, payload)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upstream request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read upstream response: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: truncate(string(body), 2048)}
	}
	return body, nil
}

// CreateChatCompletionStream implements Client.
func (c *OpenAIClient) CreateChatCompletionStream(ctx context.Context, payload []byte) (ChunkStream, error) {
	done, err := c.breaker.Allow()
	if err != nil {
		return nil, fmt.Errorf("upstream unavailable: %w", err)
	}

	req, err := c.newRequest(ctx, payload)
	if err != nil {
		done(false)
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.streamClient.Do(req)
	if err != nil {
		done(false)
		return nil, fmt.Errorf("upstream request failed: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		_ = resp.Body.Close()
		done(false)
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	reader := newStreamReader(ctx, resp.Body, streamIdleTimeout)
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 64*1024), scannerBufferSize)
	return &sseStream{reader: reader, scanner: scanner, done: done}, nil
}

// sseStream yields the data payload of each SSE frame, skipping
// keepalive lines and the [DONE] sentinel.
type sseStream struct {
	reader   *streamReader
	scanner  *bufio.Scanner
	done     func(success bool)
	finished bool
}

func (s *sseStream) Recv() ([]byte, error) {
	for s.scanner.Scan() {
		line := s.scanner.Bytes()
		if !bytes.HasPrefix(line, []byte("data:")) {
			continue
		}
		data := bytes.TrimSpace(line[len("data:"):])
		if len(data) == 0 || bytes.Equal(data, []byte("[DONE]")) {
			if bytes.Equal(data, []byte("[DONE]")) {
				s.finish(true)
				return nil, io.EOF
			}
			continue
		}
		// Copy out: the scanner reuses its buffer on the next Scan.
		out := make([]byte, len(data))
		copy(out, data)
		return out, nil
	}
	if err := s.scanner.Err(); err != nil {
		s.finish(false)
		return nil, err
	}
	s.finish(true)
	return nil, io.EOF
}

func (s *sseStream) finish(success bool) {
	if s.finished {
		return
	}
	s.finished = true
	s.done(success)
}

func (s *sseStream) Close() error {
	// Closing before EOF means the consumer abandoned the stream; that
	// is not an upstream failure.
	s.finish(true)
	return s.reader.Close()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
