package translator

import (
	"strconv"
	"testing"

	"github.com/tidwall/gjson"
)

func TestStreamAccumulator_TextPassthrough(t *testing.T) {
	acc := NewStreamAccumulator()
	out := acc.ConsumeChunk([]byte(`{"choices": [{"delta": {"content": "Hel"}}]}`))
	if out == nil {
		t.Fatal("text delta must produce a chunk")
	}

	parsed := gjson.ParseBytes(out)
	if got := parsed.Get("candidates.0.content.parts.0.text").String(); got != "Hel" {
		t.Errorf("expected verbatim text, got %q", got)
	}
	if got := parsed.Get("candidates.0.content.role").String(); got != "model" {
		t.Errorf("expected role model, got %q", got)
	}
	if !parsed.Get("candidates.0.safetyRatings").IsArray() {
		t.Errorf("streaming candidates carry an empty safetyRatings array, got %q", parsed.Get("candidates.0.safetyRatings").Raw)
	}
	if parsed.Get("candidates.0.finishReason").Exists() {
		t.Error("finishReason must stay absent until the upstream reports one")
	}
}

func TestStreamAccumulator_FencedTextNotStripped(t *testing.T) {
	// A fence can straddle fragments, so streamed text is never unwrapped.
	acc := NewStreamAccumulator()
	out := acc.ConsumeChunk([]byte(`{"choices": [{"delta": {"content": "` + "```json\\n{}\\n```" + `"}}]}`))
	if out == nil {
		t.Fatal("expected a chunk")
	}
	want := "```json\n{}\n```"
	if got := gjson.ParseBytes(out).Get("candidates.0.content.parts.0.text").String(); got != want {
		t.Errorf("streamed text must pass through verbatim, got %q", got)
	}
}

func TestStreamAccumulator_SilentChunks(t *testing.T) {
	acc := NewStreamAccumulator()

	if out := acc.ConsumeChunk([]byte(`{"id": "x"}`)); out != nil {
		t.Errorf("chunk without choices must yield nil, got %s", out)
	}
	if out := acc.ConsumeChunk([]byte(`{"choices": [{"index": 0}]}`)); out != nil {
		t.Errorf("choice without delta must yield nil, got %s", out)
	}
	if out := acc.ConsumeChunk([]byte(`{"choices": [{"delta": {}}]}`)); out != nil {
		t.Errorf("empty delta must yield nil, got %s", out)
	}
	if got := acc.ChunksSeen(); got != 3 {
		t.Errorf("silent chunks still count as consumed, got %d", got)
	}
}

func TestStreamAccumulator_ToolCallAcrossFragments(t *testing.T) {
	acc := NewStreamAccumulator()

	frags := []string{
		`{"choices": [{"delta": {"tool_calls": [{"index": 0, "id": "call_1", "function": {"name": "get_weather"}}]}}]}`,
		`{"choices": [{"delta": {"tool_calls": [{"index": 0, "function": {"arguments": "{\"x\":"}}]}}]}`,
		`{"choices": [{"delta": {"tool_calls": [{"index": 0, "function": {"arguments": " 1}"}}]}}]}`,
	}

	if out := acc.ConsumeChunk([]byte(frags[0])); out != nil {
		t.Fatalf("name-only fragment must emit nothing, got %s", out)
	}
	if out := acc.ConsumeChunk([]byte(frags[1])); out != nil {
		t.Fatalf("incomplete arguments must emit nothing, got %s", out)
	}

	out := acc.ConsumeChunk([]byte(frags[2]))
	if out == nil {
		t.Fatal("completed arguments must emit exactly one chunk")
	}

	call := gjson.ParseBytes(out).Get("candidates.0.content.parts.0.functionCall")
	if got := call.Get("name").String(); got != "get_weather" {
		t.Errorf("expected name get_weather, got %q", got)
	}
	if got := call.Get("args.x").Int(); got != 1 {
		t.Errorf("expected args.x == 1, got %q", call.Get("args").Raw)
	}

	// The slot is cleared once emitted.
	if chunks, dropped := acc.FlushResidual(); len(chunks) != 0 || dropped != 0 {
		t.Errorf("completed call must not linger, got %d chunks %d dropped", len(chunks), dropped)
	}
}

func TestStreamAccumulator_FirstOccurrenceWins(t *testing.T) {
	acc := NewStreamAccumulator()

	acc.ConsumeChunk([]byte(`{"choices": [{"delta": {"tool_calls": [{"index": 0, "id": "call_a", "function": {"name": "alpha"}}]}}]}`))
	out := acc.ConsumeChunk([]byte(`{"choices": [{"delta": {"tool_calls": [{"index": 0, "id": "call_b", "function": {"name": "beta", "arguments": "{}"}}]}}]}`))
	if out == nil {
		t.Fatal("expected completion on second fragment")
	}

	if got := gjson.ParseBytes(out).Get("candidates.0.content.parts.0.functionCall.name").String(); got != "alpha" {
		t.Errorf("first non-empty name must win, got %q", got)
	}
}

func TestStreamAccumulator_ParallelCallsKeyedByIndex(t *testing.T) {
	acc := NewStreamAccumulator()

	out := acc.ConsumeChunk([]byte(`{"choices": [{"delta": {"tool_calls": [
		{"index": 0, "function": {"name": "first", "arguments": "{\"a\": 1}"}},
		{"index": 1, "function": {"name": "second", "arguments": "{\"b\": 2}"}}
	]}}]}`))
	if out == nil {
		t.Fatal("expected both calls to complete")
	}

	parts := gjson.ParseBytes(out).Get("candidates.0.content.parts").Array()
	if len(parts) != 2 {
		t.Fatalf("expected two functionCall parts, got %d", len(parts))
	}
	if got := parts[0].Get("functionCall.name").String(); got != "first" {
		t.Errorf("expected first, got %q", got)
	}
	if got := parts[1].Get("functionCall.name").String(); got != "second" {
		t.Errorf("expected second, got %q", got)
	}
}

func TestStreamAccumulator_FinishReason(t *testing.T) {
	acc := NewStreamAccumulator()

	out := acc.ConsumeChunk([]byte(`{"choices": [{"delta": {}, "finish_reason": "length"}]}`))
	if out == nil {
		t.Fatal("finish chunk must be emitted even with no parts")
	}

	parsed := gjson.ParseBytes(out)
	if got := parsed.Get("candidates.0.finishReason").String(); got != "MAX_TOKENS" {
		t.Errorf("expected MAX_TOKENS, got %q", got)
	}
	parts := parsed.Get("candidates.0.content.parts")
	if !parts.IsArray() || len(parts.Array()) != 0 {
		t.Errorf("expected empty parts array, got %q", parts.Raw)
	}
}

func TestStreamAccumulator_ResidualUnparseableDropped(t *testing.T) {
	acc := NewStreamAccumulator()
	acc.ConsumeChunk([]byte(`{"choices": [{"delta": {"tool_calls": [{"index": 0, "function": {"name": "f", "arguments": "{\"x\":"}}]}}]}`))

	chunks, dropped := acc.FlushResidual()
	if len(chunks) != 0 {
		t.Errorf("unparseable residual must not produce chunks, got %d", len(chunks))
	}
	if dropped != 1 {
		t.Errorf("expected 1 dropped call, got %d", dropped)
	}
}

func TestStreamAccumulator_ResidualNamelessDiscarded(t *testing.T) {
	acc := NewStreamAccumulator()
	acc.ConsumeChunk([]byte(`{"choices": [{"delta": {"tool_calls": [{"index": 0, "function": {"arguments": "{\"x\": 1}"}}]}}]}`))

	chunks, dropped := acc.FlushResidual()
	if len(chunks) != 0 || dropped != 0 {
		t.Errorf("a call that never got a name is discarded silently, got %d chunks %d dropped", len(chunks), dropped)
	}
}

func TestStreamAccumulator_ResidualFlushedInSlotOrder(t *testing.T) {
	acc := NewStreamAccumulator()
	for _, idx := range []int{10, 2, 1} {
		pc := &pendingToolCall{name: "call_" + strconv.Itoa(idx)}
		pc.args.WriteString(`{"ok": true}`)
		acc.pending["tool_"+strconv.Itoa(idx)] = pc
	}

	chunks, dropped := acc.FlushResidual()
	if dropped != 0 {
		t.Fatalf("expected no drops, got %d", dropped)
	}
	if len(chunks) != 3 {
		t.Fatalf("expected 3 residual chunks, got %d", len(chunks))
	}

	var names []string
	for _, chunk := range chunks {
		names = append(names, gjson.ParseBytes(chunk).Get("candidates.0.content.parts.0.functionCall.name").String())
	}
	want := []string{"call_1", "call_2", "call_10"}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("residual flush must follow slot order, got %v", names)
		}
	}
}
