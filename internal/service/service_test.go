package service

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/tidwall/gjson"

	"github.com/gembridge/gembridge/internal/audit"
	"github.com/gembridge/gembridge/internal/streamutil"
	"github.com/gembridge/gembridge/internal/translator"
	"github.com/gembridge/gembridge/internal/upstream"
)

type fakeSink struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (s *fakeSink) Record(_ context.Context, entry audit.Entry) {
	s.mu.Lock()
	s.entries = append(s.entries, entry)
	s.mu.Unlock()
}

func (s *fakeSink) stages() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e.Stage)
	}
	return out
}

type fakeStream struct {
	chunks [][]byte
	err    error
	pos    int
	closed bool
}

func (f *fakeStream) Recv() ([]byte, error) {
	if f.pos < len(f.chunks) {
		chunk := f.chunks[f.pos]
		f.pos++
		return chunk, nil
	}
	if f.err != nil {
		return nil, f.err
	}
	return nil, io.EOF
}

func (f *fakeStream) Close() error {
	f.closed = true
	return nil
}

type fakeClient struct {
	response    []byte
	callErr     error
	stream      *fakeStream
	streamErr   error
	lastPayload []byte
}

func (f *fakeClient) CreateChatCompletion(_ context.Context, payload []byte) ([]byte, error) {
	f.lastPayload = payload
	return f.response, f.callErr
}

func (f *fakeClient) CreateChatCompletionStream(_ context.Context, payload []byte) (upstream.ChunkStream, error) {
	f.lastPayload = payload
	if f.streamErr != nil {
		return nil, f.streamErr
	}
	return f.stream, nil
}

func newTestService(client upstream.Client, sink audit.Sink) *Service {
	mapper := translator.NewModelMapper(map[string]string{"gemini-1.5-pro": "gpt-4o"}, "gpt-4o-mini")
	return NewService(client, mapper, sink)
}

func TestGenerateContent_FullPipeline(t *testing.T) {
	client := &fakeClient{response: []byte(`{
		"choices": [{"message": {"content": "Hi!"}, "finish_reason": "stop"}],
		"usage": {"prompt_tokens": 5, "completion_tokens": 2, "total_tokens": 7}
	}`)}
	sink := &fakeSink{}
	svc := newTestService(client, sink)

	body := []byte(`{"contents": [{"role": "user", "parts": [{"text": "hello"}]}]}`)
	out, err := svc.GenerateContent(context.Background(), "gemini-1.5-pro", body, "corr-1")
	if err != nil {
		t.Fatalf("GenerateContent failed: %v", err)
	}

	if got := gjson.ParseBytes(client.lastPayload).Get("model").String(); got != "gpt-4o" {
		t.Errorf("model must be resolved through the mapper, got %q", got)
	}

	parsed := gjson.ParseBytes(out)
	if got := parsed.Get("candidates.0.content.parts.0.text").String(); got != "Hi!" {
		t.Errorf("expected converted response, got %s", out)
	}
	if got := parsed.Get("usageMetadata.totalTokenCount").Int(); got != 7 {
		t.Errorf("expected usage carried over, got %d", got)
	}

	want := []string{
		audit.StageGeminiRequest,
		audit.StageOpenAIRequest,
		audit.StageOpenAIResponse,
		audit.StageGeminiResponse,
	}
	got := sink.stages()
	if len(got) != len(want) {
		t.Fatalf("expected %d audit entries, got %v", len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("stage %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestGenerateContent_UnmappedModelUsesDefault(t *testing.T) {
	client := &fakeClient{response: []byte(`{"choices": [{"message": {"content": "x"}, "finish_reason": "stop"}]}`)}
	svc := newTestService(client, &fakeSink{})

	body := []byte(`{"contents": [{"role": "user", "parts": [{"text": "hi"}]}]}`)
	if _, err := svc.GenerateContent(context.Background(), "gemini-9.9-future", body, "corr-2"); err != nil {
		t.Fatalf("GenerateContent failed: %v", err)
	}
	if got := gjson.ParseBytes(client.lastPayload).Get("model").String(); got != "gpt-4o-mini" {
		t.Errorf("unmapped model must fall back to default, got %q", got)
	}
}

func TestGenerateContent_NoChoicesYieldsEmptyEnvelope(t *testing.T) {
	client := &fakeClient{response: []byte(`{"choices": []}`)}
	svc := newTestService(client, &fakeSink{})

	body := []byte(`{"contents": [{"role": "user", "parts": [{"text": "hi"}]}]}`)
	out, err := svc.GenerateContent(context.Background(), "gemini-1.5-pro", body, "corr-3")
	if err != nil {
		t.Fatalf("GenerateContent failed: %v", err)
	}

	parsed := gjson.ParseBytes(out)
	if !parsed.Get("candidates").IsArray() || len(parsed.Get("candidates").Array()) != 0 {
		t.Errorf("expected empty candidates envelope, got %s", out)
	}
}

func TestGenerateContent_UpstreamErrorRecorded(t *testing.T) {
	client := &fakeClient{callErr: &upstream.APIError{StatusCode: 429, Body: "slow down"}}
	sink := &fakeSink{}
	svc := newTestService(client, sink)

	body := []byte(`{"contents": [{"role": "user", "parts": [{"text": "hi"}]}]}`)
	_, err := svc.GenerateContent(context.Background(), "gemini-1.5-pro", body, "corr-4")
	if err == nil {
		t.Fatal("expected upstream error to propagate")
	}
	var apiErr *upstream.APIError
	if !errors.As(err, &apiErr) {
		t.Errorf("expected APIError, got %v", err)
	}

	stages := sink.stages()
	if len(stages) == 0 || stages[len(stages)-1] != audit.StageError {
		t.Errorf("expected trailing ERROR entry, got %v", stages)
	}
}

func drain(t *testing.T, ch <-chan streamutil.Chunk) []streamutil.Chunk {
	t.Helper()
	var out []streamutil.Chunk
	for chunk := range ch {
		out = append(out, chunk)
	}
	return out
}

func TestStreamGenerateContent_ConvertsAndSummarizes(t *testing.T) {
	stream := &fakeStream{chunks: [][]byte{
		[]byte(`{"choices": [{"delta": {"content": "Hel"}}]}`),
		[]byte(`{"choices": [{"delta": {"content": "lo"}}]}`),
		[]byte(`{"choices": [{"delta": {}, "finish_reason": "stop"}]}`),
	}}
	client := &fakeClient{stream: stream}
	sink := &fakeSink{}
	svc := newTestService(client, sink)

	body := []byte(`{"contents": [{"role": "user", "parts": [{"text": "hi"}]}]}`)
	ch, err := svc.StreamGenerateContent(context.Background(), "gemini-1.5-pro", body, "corr-5")
	if err != nil {
		t.Fatalf("StreamGenerateContent failed: %v", err)
	}

	chunks := drain(t, ch)
	if len(chunks) != 3 {
		t.Fatalf("expected 3 converted chunks, got %d", len(chunks))
	}
	if got := gjson.ParseBytes(chunks[0].Data).Get("candidates.0.content.parts.0.text").String(); got != "Hel" {
		t.Errorf("expected first text fragment, got %q", got)
	}
	if got := gjson.ParseBytes(chunks[2].Data).Get("candidates.0.finishReason").String(); got != "STOP" {
		t.Errorf("expected STOP on the final chunk, got %q", got)
	}
	if !stream.closed {
		t.Error("the upstream stream must be closed after the exchange")
	}

	stages := sink.stages()
	if stages[len(stages)-1] != audit.StageStreamSummary {
		t.Errorf("expected trailing stream summary, got %v", stages)
	}
	if got := gjson.ParseBytes(client.lastPayload).Get("stream").Bool(); !got {
		t.Error("upstream payload must request streaming")
	}
}

func TestStreamGenerateContent_SilentChunksProduceNothing(t *testing.T) {
	stream := &fakeStream{chunks: [][]byte{
		[]byte(`{"id": "only-metadata"}`),
		[]byte(`{"choices": [{"delta": {}}]}`),
	}}
	svc := newTestService(&fakeClient{stream: stream}, &fakeSink{})

	body := []byte(`{"contents": [{"role": "user", "parts": [{"text": "hi"}]}]}`)
	ch, err := svc.StreamGenerateContent(context.Background(), "gemini-1.5-pro", body, "corr-6")
	if err != nil {
		t.Fatalf("StreamGenerateContent failed: %v", err)
	}

	if chunks := drain(t, ch); len(chunks) != 0 {
		t.Errorf("silent upstream chunks must not reach the client, got %d", len(chunks))
	}
}

func TestStreamGenerateContent_MidFlightErrorInBand(t *testing.T) {
	stream := &fakeStream{
		chunks: [][]byte{[]byte(`{"choices": [{"delta": {"content": "partial"}}]}`)},
		err:    errors.New("connection reset"),
	}
	sink := &fakeSink{}
	svc := newTestService(&fakeClient{stream: stream}, sink)

	body := []byte(`{"contents": [{"role": "user", "parts": [{"text": "hi"}]}]}`)
	ch, err := svc.StreamGenerateContent(context.Background(), "gemini-1.5-pro", body, "corr-7")
	if err != nil {
		t.Fatalf("StreamGenerateContent failed: %v", err)
	}

	chunks := drain(t, ch)
	if len(chunks) != 2 {
		t.Fatalf("expected data chunk then error chunk, got %d", len(chunks))
	}
	if chunks[1].Err == nil || !strings.Contains(chunks[1].Err.Error(), "connection reset") {
		t.Errorf("expected in-band error, got %v", chunks[1].Err)
	}

	stages := sink.stages()
	found := false
	for _, s := range stages {
		if s == audit.StageStreamError {
			found = true
		}
	}
	if !found {
		t.Errorf("expected STREAM_ERROR entry, got %v", stages)
	}
}

func TestStreamGenerateContent_OpenFailure(t *testing.T) {
	client := &fakeClient{streamErr: &upstream.APIError{StatusCode: 401, Body: "bad key"}}
	sink := &fakeSink{}
	svc := newTestService(client, sink)

	body := []byte(`{"contents": [{"role": "user", "parts": [{"text": "hi"}]}]}`)
	if _, err := svc.StreamGenerateContent(context.Background(), "gemini-1.5-pro", body, "corr-8"); err == nil {
		t.Fatal("expected open failure to propagate")
	}

	stages := sink.stages()
	if stages[len(stages)-1] != audit.StageError {
		t.Errorf("expected trailing ERROR entry, got %v", stages)
	}
}

func TestSampleChunk(t *testing.T) {
	keep := []int{0, 1, 2, 3, 4, 10, 20, 100}
	skip := []int{5, 6, 7, 9, 11, 99}
	for _, n := range keep {
		if !sampleChunk(n) {
			t.Errorf("chunk %d should be sampled", n)
		}
	}
	for _, n := range skip {
		if sampleChunk(n) {
			t.Errorf("chunk %d should be skipped", n)
		}
	}
}
