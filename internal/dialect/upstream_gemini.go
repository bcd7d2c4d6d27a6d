package dialect

import (
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// ToGeminiRequest converts a canonical request into the Gemini request body
// (contents / systemInstruction / generationConfig) that both upstream
// families accept inside the v1internal wrapper.
func ToGeminiRequest(req *ChatRequest) []byte {
	out := []byte(`{"contents":[]}`)

	var systemParts []map[string]string
	var contents []map[string]interface{}

	for i := range req.Messages {
		msg := &req.Messages[i]
		if msg.Role == "system" {
			if text := msg.PlainText(); text != "" {
				systemParts = append(systemParts, map[string]string{"text": text})
			}
			continue
		}
		role := msg.Role
		if role == "assistant" {
			role = "model"
		}

		var parts []map[string]interface{}
		if msg.IsMultimodal() {
			for _, p := range msg.Parts {
				switch p.Type {
				case "text":
					parts = append(parts, map[string]interface{}{"text": p.Text})
				case "image_url":
					if mime, data, ok := splitDataURL(p.ImageURL); ok {
						parts = append(parts, map[string]interface{}{
							"inlineData": map[string]string{"mimeType": mime, "data": data},
						})
					}
				}
			}
		} else {
			parts = append(parts, map[string]interface{}{"text": msg.Content})
		}
		if len(parts) == 0 {
			continue
		}
		contents = append(contents, map[string]interface{}{"role": role, "parts": parts})
	}

	contentsJSON, _ := json.Marshal(contents)
	out, _ = sjson.SetRawBytes(out, "contents", contentsJSON)

	if len(systemParts) > 0 {
		sysJSON, _ := json.Marshal(map[string]interface{}{"parts": systemParts})
		out, _ = sjson.SetRawBytes(out, "systemInstruction", sysJSON)
	}

	gen := map[string]interface{}{}
	if req.Temperature != nil {
		gen["temperature"] = *req.Temperature
	}
	if req.TopP != nil {
		gen["topP"] = *req.TopP
	}
	if req.MaxTokens > 0 {
		gen["maxOutputTokens"] = req.MaxTokens
	}
	if len(req.Stop) > 0 {
		gen["stopSequences"] = req.Stop
	}
	if len(gen) > 0 {
		genJSON, _ := json.Marshal(gen)
		out, _ = sjson.SetRawBytes(out, "generationConfig", genJSON)
	}

	return out
}

func splitDataURL(u string) (mime, data string, ok bool) {
	if !strings.HasPrefix(u, "data:") {
		return "", "", false
	}
	rest := strings.TrimPrefix(u, "data:")
	semi := strings.Index(rest, ";base64,")
	if semi < 0 {
		return "", "", false
	}
	return rest[:semi], rest[semi+len(";base64,"):], true
}

// geminiFinishToOpenAI maps upstream finishReason onto the canonical
// (OpenAI) vocabulary.
func geminiFinishToOpenAI(reason string) string {
	switch strings.ToUpper(reason) {
	case "STOP":
		return "stop"
	case "MAX_TOKENS":
		return "length"
	case "SAFETY", "RECITATION", "BLOCKLIST", "PROHIBITED_CONTENT":
		return "content_filter"
	case "TOOL_CALL", "TOOL_CALLS":
		return "tool_calls"
	case "":
		return ""
	default:
		return "stop"
	}
}

// ParseGeminiResponse reads a Cloud Code response (optionally wrapped in a
// top-level "response" envelope) into the canonical response record.
func ParseGeminiResponse(model string, body []byte) *ChatResponse {
	root := gjson.ParseBytes(body)
	if wrapped := root.Get("response"); wrapped.Exists() {
		root = wrapped
	}

	resp := &ChatResponse{Model: model}
	candidate := root.Get("candidates.0")
	var text, reasoning strings.Builder
	candidate.Get("content.parts").ForEach(func(_, part gjson.Result) bool {
		if part.Get("thought").Bool() {
			reasoning.WriteString(part.Get("text").String())
			return true
		}
		text.WriteString(part.Get("text").String())
		return true
	})
	resp.Content = text.String()
	resp.ReasoningContent = reasoning.String()
	resp.FinishReason = geminiFinishToOpenAI(candidate.Get("finishReason").String())

	usage := root.Get("usageMetadata")
	resp.Usage = Usage{
		PromptTokens:     int(usage.Get("promptTokenCount").Int()),
		CompletionTokens: int(usage.Get("candidatesTokenCount").Int()),
		TotalTokens:      int(usage.Get("totalTokenCount").Int()),
	}
	if resp.Usage.TotalTokens == 0 {
		resp.Usage.TotalTokens = resp.Usage.PromptTokens + resp.Usage.CompletionTokens
	}
	return resp
}

// ParseGeminiStreamChunk reads one newline-delimited upstream stream chunk
// into a canonical delta.
func ParseGeminiStreamChunk(chunk []byte) *StreamDelta {
	root := gjson.ParseBytes(chunk)
	if wrapped := root.Get("response"); wrapped.Exists() {
		root = wrapped
	}

	delta := &StreamDelta{}
	candidate := root.Get("candidates.0")
	var text, reasoning strings.Builder
	candidate.Get("content.parts").ForEach(func(_, part gjson.Result) bool {
		if part.Get("thought").Bool() {
			reasoning.WriteString(part.Get("text").String())
			return true
		}
		text.WriteString(part.Get("text").String())
		return true
	})
	delta.Content = text.String()
	delta.Reasoning = reasoning.String()
	delta.FinishReason = geminiFinishToOpenAI(candidate.Get("finishReason").String())

	if usage := root.Get("usageMetadata"); usage.Exists() {
		delta.Usage = &Usage{
			PromptTokens:     int(usage.Get("promptTokenCount").Int()),
			CompletionTokens: int(usage.Get("candidatesTokenCount").Int()),
			TotalTokens:      int(usage.Get("totalTokenCount").Int()),
		}
	}
	return delta
}
