package translator

import (
	"sort"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/gembridge/gembridge/internal/json"
)

// pendingToolCall accumulates one tool call across stream fragments.
// The upstream withholds the id and name after their first fragment and
// delivers arguments as raw string fragments of a JSON document.
type pendingToolCall struct {
	id   string
	name string
	args strings.Builder
}

// StreamAccumulator converts OpenAI streaming chunks into Gemini stream
// chunks, reassembling tool calls whose arguments arrive split across
// fragments. One accumulator serves exactly one streaming exchange and
// must not be shared between goroutines.
type StreamAccumulator struct {
	pending map[string]*pendingToolCall
	chunks  int
}

// NewStreamAccumulator creates an accumulator for one streaming exchange.
func NewStreamAccumulator() *StreamAccumulator {
	return &StreamAccumulator{pending: make(map[string]*pendingToolCall)}
}

// ChunksSeen returns how many upstream chunks have been consumed. Used by
// the caller for log sampling only.
func (a *StreamAccumulator) ChunksSeen() int { return a.chunks }

// ConsumeChunk converts one upstream chunk. It returns nil when the chunk
// produces no client-visible output: no choice data, or tool-call
// fragments whose argument buffers are still incomplete JSON. Incomplete
// JSON mid-stream is the normal state, not an error.
//
// Streamed text is passed through verbatim. Fence stripping applies only
// to complete non-streaming text, since a fence can straddle fragments.
func (a *StreamAccumulator) ConsumeChunk(data []byte) []byte {
	a.chunks++

	parsed := gjson.ParseBytes(data)
	choices := parsed.Get("choices").Array()
	if len(choices) == 0 {
		return nil
	}
	choice := choices[0]
	delta := choice.Get("delta")
	if !delta.Exists() {
		return nil
	}

	parts := make([]any, 0, 1)
	if content := delta.Get("content"); content.Exists() && content.String() != "" {
		parts = append(parts, map[string]any{"text": content.String()})
	}

	for _, tc := range delta.Get("tool_calls").Array() {
		// The slot index is the stable key: ids are frequently null on
		// all but the first fragment of a call.
		index := 0
		if iv := tc.Get("index"); iv.Exists() {
			index = int(iv.Int())
		}
		key := "tool_" + strconv.Itoa(index)

		pc := a.pending[key]
		if pc == nil {
			pc = &pendingToolCall{}
			a.pending[key] = pc
		}
		if id := tc.Get("id").String(); id != "" && pc.id == "" {
			pc.id = id
		}
		if name := tc.Get("function.name").String(); name != "" && pc.name == "" {
			pc.name = name
		}
		if fragment := tc.Get("function.arguments").String(); fragment != "" {
			pc.args.WriteString(fragment)
		}

		if part, done := pc.tryComplete(); done {
			parts = append(parts, part)
			delete(a.pending, key)
		}
	}

	finish := choice.Get("finish_reason").String()
	if len(parts) == 0 && finish == "" {
		return nil
	}

	candidate := map[string]any{
		"content":       map[string]any{"parts": parts, "role": "model"},
		"index":         0,
		"safetyRatings": []any{},
	}
	if finish != "" {
		candidate["finishReason"] = MapFinishReason(finish)
	}
	out, _ := json.Marshal(map[string]any{"candidates": []any{candidate}})
	return out
}

// tryComplete attempts to finish the pending call: the name must be known
// and the argument buffer must parse as JSON. Parse failure leaves the
// entry in place awaiting more fragments.
func (pc *pendingToolCall) tryComplete() (map[string]any, bool) {
	if pc.name == "" || pc.args.Len() == 0 {
		return nil, false
	}
	var args any
	if err := json.Unmarshal([]byte(pc.args.String()), &args); err != nil {
		return nil, false
	}
	return map[string]any{
		"functionCall": map[string]any{"name": pc.name, "args": args},
	}, true
}

// slotIndex recovers the numeric slot index from a pending-map key.
func slotIndex(key string) int {
	n, _ := strconv.Atoi(strings.TrimPrefix(key, "tool_"))
	return n
}

// FlushResidual drains the accumulation state after the upstream source
// is exhausted. Each remaining call with a known name and a parseable
// argument buffer becomes one final chunk with finishReason STOP. Calls
// whose buffers never became valid JSON are dropped; dropped reports how
// many, so the caller can log them. Call exactly once per exchange.
func (a *StreamAccumulator) FlushResidual() (chunks [][]byte, dropped int) {
	keys := make([]string, 0, len(a.pending))
	for key := range a.pending {
		keys = append(keys, key)
	}
	// Flush in slot order. Lexical key order would put tool_10 before
	// tool_2.
	sort.Slice(keys, func(i, j int) bool {
		return slotIndex(keys[i]) < slotIndex(keys[j])
	})

	for _, key := range keys {
		pc := a.pending[key]
		delete(a.pending, key)
		if pc.name == "" || pc.args.Len() == 0 {
			continue
		}
		part, done := pc.tryComplete()
		if !done {
			dropped++
			continue
		}
		out, _ := json.Marshal(map[string]any{
			"candidates": []any{map[string]any{
				"content":       map[string]any{"parts": []any{part}, "role": "model"},
				"finishReason":  "STOP",
				"index":         0,
				"safetyRatings": []any{},
			}},
		})
		chunks = append(chunks, out)
	}
	return chunks, dropped
}
