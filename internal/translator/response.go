package translator

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/gembridge/gembridge/internal/json"
)

// jsonFencePattern matches a response that is exactly one fenced json
// code block, capturing the interior.
var jsonFencePattern = regexp.MustCompile("(?s)^```json[ \t]*\n(.*)\n```$")

// StripJSONFence unwraps text that is exactly one ```json fenced block.
// Anything else passes through unchanged. Models asked for structured
// output tend to wrap the JSON in markdown; Gemini clients expect it bare.
func StripJSONFence(content string) string {
	trimmed := strings.TrimSpace(content)
	if match := jsonFencePattern.FindStringSubmatch(trimmed); match != nil {
		return match[1]
	}
	return content
}

// ConvertResponse converts one complete OpenAI chat-completions response
// into a Gemini generateContent response. Only the first choice is used.
// A response without choices returns (nil, nil): there is nothing to
// convert, and the caller decides how to represent that.
func ConvertResponse(payload []byte) ([]byte, error) {
	parsed := gjson.ParseBytes(payload)
	choices := parsed.Get("choices").Array()
	if len(choices) == 0 {
		return nil, nil
	}
	choice := choices[0]
	message := choice.Get("message")

	parts := make([]any, 0, 2)
	if content := message.Get("content"); content.Exists() && content.String() != "" {
		parts = append(parts, map[string]any{"text": StripJSONFence(content.String())})
	}
	for _, tc := range message.Get("tool_calls").Array() {
		var args any
		raw := tc.Get("function.arguments").String()
		if err := json.Unmarshal([]byte(raw), &args); err != nil {
			return nil, fmt.Errorf("tool call arguments are not valid JSON: %w", err)
		}
		parts = append(parts, map[string]any{
			"functionCall": map[string]any{
				"name": tc.Get("function.name").String(),
				"args": args,
			},
		})
	}

	response := map[string]any{
		"candidates": []any{map[string]any{
			"content":       map[string]any{"parts": parts, "role": "model"},
			"finishReason":  MapFinishReason(choice.Get("finish_reason").String()),
			"index":         0,
			"safetyRatings": nil,
		}},
		"promptFeedback": map[string]any{"safetyRatings": nil},
	}

	// Some backends send an explicit "usage": null; only an object
	// carries counts worth forwarding.
	if usage := parsed.Get("usage"); usage.IsObject() {
		prompt := usage.Get("prompt_tokens").Int()
		response["usageMetadata"] = map[string]any{
			"promptTokenCount":     prompt,
			"candidatesTokenCount": usage.Get("completion_tokens").Int(),
			"totalTokenCount":      usage.Get("total_tokens").Int(),
			// The upstream API reports no per-modality breakdown, so the
			// whole prompt is attributed to TEXT.
			"promptTokensDetails": []any{map[string]any{
				"modality":   "TEXT",
				"tokenCount": prompt,
			}},
		}
	}

	return json.Marshal(response)
}

// EmptyResponse is the Gemini envelope returned when the upstream
// response carried nothing convertible (e.g. no choices).
func EmptyResponse() []byte {
	return []byte(`{"candidates":[],"promptFeedback":{"safetyRatings":null}}`)
}
