package translator

import (
	stdjson "encoding/json"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/gembridge/gembridge/internal/json"
)

// ConvertContents converts Gemini conversation turns into OpenAI chat
// messages. User turns collapse their text parts into one user message;
// each functionResponse part becomes a separate tool message directly
// after it. Model turns collapse text and carry tool_calls, except that
// a call in the final turn with no later matching functionResponse is
// dropped: the upstream API rejects a trailing tool call that has no
// paired tool message.
func ConvertContents(contents gjson.Result) []map[string]any {
	turns := ParseTurns(contents)
	messages := make([]map[string]any, 0, len(turns))

	for i, turn := range turns {
		switch turn.Role {
		case RoleUser:
			var text strings.Builder
			var toolMessages []map[string]any
			for _, part := range turn.Parts {
				switch part.Type {
				case PartTypeText:
					text.WriteString(part.Text)
				case PartTypeFunctionResponse:
					name := part.FunctionResponse.Name
					if name == "" {
						name = "unknown"
					}
					toolMessages = append(toolMessages, map[string]any{
						"role":         "tool",
						"tool_call_id": name + ":0",
						"content":      part.FunctionResponse.Response,
					})
				}
			}
			if trimmed := strings.TrimSpace(text.String()); trimmed != "" {
				messages = append(messages, map[string]any{"role": "user", "content": trimmed})
			}
			messages = append(messages, toolMessages...)

		case RoleModel, "assistant":
			var text strings.Builder
			var toolCalls []map[string]any
			for _, part := range turn.Parts {
				switch part.Type {
				case PartTypeText:
					text.WriteString(part.Text)
				case PartTypeFunctionCall:
					isLast := i == len(turns)-1
					if isLast && !hasLaterResponse(turns, i, part.FunctionCall.Name) {
						continue
					}
					name := part.FunctionCall.Name
					id := name
					if id == "" {
						id = "unknown"
					}
					toolCalls = append(toolCalls, map[string]any{
						"id":   id + ":0",
						"type": "function",
						"function": map[string]any{
							"name":      name,
							"arguments": part.FunctionCall.Args,
						},
					})
				}
			}
			trimmed := strings.TrimSpace(text.String())
			if trimmed == "" && len(toolCalls) == 0 {
				continue
			}
			msg := map[string]any{"role": "assistant"}
			if trimmed != "" {
				msg["content"] = trimmed
			} else {
				msg["content"] = nil
			}
			if len(toolCalls) > 0 {
				msg["tool_calls"] = toolCalls
			}
			messages = append(messages, msg)
		}
	}
	return messages
}

// hasLaterResponse reports whether any user turn after index i carries a
// functionResponse matching the function name.
func hasLaterResponse(turns []Turn, i int, name string) bool {
	for j := i + 1; j < len(turns); j++ {
		if turns[j].Role != RoleUser {
			continue
		}
		for _, part := range turns[j].Parts {
			if part.Type == PartTypeFunctionResponse && part.FunctionResponse.Name == name {
				return true
			}
		}
	}
	return false
}

// ConvertSystemInstruction concatenates the instruction's text parts.
// The second return is false when there is no usable instruction.
func ConvertSystemInstruction(instruction gjson.Result) (string, bool) {
	if !instruction.Exists() {
		return "", false
	}
	var text strings.Builder
	for _, part := range ParseParts(instruction.Get("parts")) {
		if part.Type == PartTypeText {
			text.WriteString(part.Text)
		}
	}
	trimmed := strings.TrimSpace(text.String())
	if trimmed == "" {
		return "", false
	}
	return trimmed, true
}

// ConvertGenerationConfig maps Gemini generation parameters onto OpenAI
// request fields. Absent inputs stay absent; topK has no upstream
// equivalent and is dropped.
func ConvertGenerationConfig(config gjson.Result) map[string]any {
	params := map[string]any{}
	if !config.Exists() {
		return params
	}
	if v := config.Get("temperature"); v.Exists() {
		params["temperature"] = v.Float()
	}
	if v := config.Get("maxOutputTokens"); v.Exists() {
		params["max_tokens"] = v.Int()
	}
	if v := config.Get("topP"); v.Exists() {
		params["top_p"] = v.Float()
	}
	if v := config.Get("stopSequences"); v.Exists() {
		stops := make([]string, 0, len(v.Array()))
		for _, s := range v.Array() {
			stops = append(stops, s.String())
		}
		params["stop"] = stops
	}
	return params
}

// ConvertTools flattens every functionDeclaration across all tool groups
// into OpenAI function tools. Empty input yields nil so the field stays
// absent on the upstream request.
func ConvertTools(tools gjson.Result) []map[string]any {
	if !tools.Exists() || !tools.IsArray() {
		return nil
	}
	var result []map[string]any
	for _, group := range tools.Array() {
		for _, decl := range group.Get("functionDeclarations").Array() {
			fn := map[string]any{
				"name":        decl.Get("name").String(),
				"description": decl.Get("description").String(),
			}
			if params := decl.Get("parameters"); params.Exists() {
				fn["parameters"] = stdjson.RawMessage(params.Raw)
			} else {
				fn["parameters"] = map[string]any{}
			}
			result = append(result, map[string]any{"type": "function", "function": fn})
		}
	}
	return result
}

// BuildChatRequest assembles the complete OpenAI chat-completions payload
// for a parsed Gemini request body and an already-resolved model name.
func BuildChatRequest(model string, body gjson.Result, stream bool) ([]byte, error) {
	messages := ConvertContents(body.Get("contents"))
	if system, ok := ConvertSystemInstruction(body.Get("systemInstruction")); ok {
		messages = append([]map[string]any{{"role": "system", "content": system}}, messages...)
	}

	root := map[string]any{
		"model":    model,
		"messages": messages,
	}
	for k, v := range ConvertGenerationConfig(body.Get("generationConfig")) {
		root[k] = v
	}
	if tools := ConvertTools(body.Get("tools")); len(tools) > 0 {
		root["tools"] = tools
		root["tool_choice"] = "auto"
	}
	if stream {
		root["stream"] = true
	}
	return json.Marshal(root)
}
