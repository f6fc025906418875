// Package translator converts between the Gemini generateContent dialect
// (contents/parts/candidates) and the OpenAI chat-completions dialect
// (messages/choices/tool_calls). Request and response conversion are
// stateless; streaming conversion is handled by StreamAccumulator, which
// reassembles tool calls from incremental fragments.
package translator

import (
	"github.com/tidwall/gjson"
)

// PartType discriminates the variants of a Gemini content part.
type PartType string

const (
	PartTypeText             PartType = "text"
	PartTypeFunctionCall     PartType = "functionCall"
	PartTypeFunctionResponse PartType = "functionResponse"
)

// Part is one content part of a Gemini turn. Exactly one variant is
// populated, selected by Type.
type Part struct {
	Type             PartType
	Text             string
	FunctionCall     *FunctionCall
	FunctionResponse *FunctionResponse
}

// FunctionCall is a model-issued tool invocation. Args carries the raw
// JSON of the call arguments.
type FunctionCall struct {
	Name string
	Args string
}

// FunctionResponse is a client-supplied tool result. Response carries the
// raw JSON of the result payload.
type FunctionResponse struct {
	Name     string
	Response string
}

// Turn is one role-attributed entry of a Gemini conversation.
type Turn struct {
	Role  string
	Parts []Part
}

// Gemini roles as they appear on the wire.
const (
	RoleUser  = "user"
	RoleModel = "model"
)

// ParseTurns parses a Gemini contents array into typed turns. Unknown
// part shapes are skipped; a bare string part counts as text.
func ParseTurns(contents gjson.Result) []Turn {
	if !contents.Exists() || !contents.IsArray() {
		return nil
	}
	items := contents.Array()
	turns := make([]Turn, 0, len(items))
	for _, item := range items {
		role := item.Get("role").String()
		if role == "" {
			role = RoleUser
		}
		turns = append(turns, Turn{Role: role, Parts: ParseParts(item.Get("parts"))})
	}
	return turns
}

// ParseParts parses a Gemini parts array into the tagged Part union.
func ParseParts(parts gjson.Result) []Part {
	if !parts.Exists() || !parts.IsArray() {
		return nil
	}
	items := parts.Array()
	result := make([]Part, 0, len(items))
	for _, item := range items {
		switch {
		case item.Type == gjson.String:
			result = append(result, Part{Type: PartTypeText, Text: item.String()})
		case item.Get("text").Exists():
			result = append(result, Part{Type: PartTypeText, Text: item.Get("text").String()})
		case item.Get("functionCall").Exists():
			fc := item.Get("functionCall")
			args := fc.Get("args").Raw
			if args == "" {
				args = "{}"
			}
			result = append(result, Part{Type: PartTypeFunctionCall, FunctionCall: &FunctionCall{
				Name: fc.Get("name").String(),
				Args: args,
			}})
		case item.Get("functionResponse").Exists():
			fr := item.Get("functionResponse")
			response := fr.Get("response").Raw
			if response == "" {
				response = "{}"
			}
			result = append(result, Part{Type: PartTypeFunctionResponse, FunctionResponse: &FunctionResponse{
				Name:     fr.Get("name").String(),
				Response: response,
			}})
		}
	}
	return result
}

// finishReasonTable maps OpenAI finish reasons to Gemini finish reasons.
// Anything unmapped falls back to STOP.
var finishReasonTable = map[string]string{
	"stop":           "STOP",
	"length":         "MAX_TOKENS",
	"content_filter": "SAFETY",
	"tool_calls":     "STOP",
	"function_call":  "STOP",
}

// MapFinishReason translates an OpenAI finish reason into the Gemini
// vocabulary, defaulting to STOP.
func MapFinishReason(reason string) string {
	if mapped, ok := finishReasonTable[reason]; ok {
		return mapped
	}
	return "STOP"
}
