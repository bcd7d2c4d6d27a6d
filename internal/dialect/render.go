package dialect

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// RenderResponse serializes a canonical response in the caller's dialect.
func RenderResponse(d Dialect, resp *ChatResponse) []byte {
	switch d {
	case Gemini:
		return renderGeminiResponse(resp)
	case Anthropic:
		return renderAnthropicResponse(resp)
	default:
		return renderOpenAIResponse(resp)
	}
}

func responseID(resp *ChatResponse, prefix string) string {
	if resp.ID != "" {
		return resp.ID
	}
	return prefix + uuid.NewString()
}

func renderOpenAIResponse(resp *ChatResponse) []byte {
	created := resp.Created
	if created == 0 {
		created = time.Now().Unix()
	}
	message := map[string]interface{}{
		"role":    "assistant",
		"content": resp.Content,
	}
	if resp.ReasoningContent != "" {
		message["reasoning_content"] = resp.ReasoningContent
	}
	if len(resp.ToolCalls) > 0 {
		message["tool_calls"] = json.RawMessage(resp.ToolCalls)
	}
	finish := resp.FinishReason
	if finish == "" {
		finish = "stop"
	}
	out := map[string]interface{}{
		"id":      responseID(resp, "chatcmpl-"),
		"object":  "chat.completion",
		"created": created,
		"model":   resp.Model,
		"choices": []map[string]interface{}{{
			"index":         0,
			"message":       message,
			"finish_reason": finish,
		}},
		"usage": resp.Usage,
	}
	b, _ := json.Marshal(out)
	return b
}

func openAIFinishToGemini(reason string) string {
	switch reason {
	case "stop", "":
		return "STOP"
	case "length":
		return "MAX_TOKENS"
	case "content_filter":
		return "SAFETY"
	case "tool_calls":
		return "TOOL_CALL"
	default:
		return "STOP"
	}
}

func renderGeminiResponse(resp *ChatResponse) []byte {
	parts := []map[string]interface{}{}
	if resp.Content != "" || resp.ReasoningContent == "" {
		parts = append(parts, map[string]interface{}{"text": resp.Content})
	}
	if resp.ReasoningContent != "" {
		parts = append(parts, map[string]interface{}{"text": resp.ReasoningContent, "thought": true})
	}
	out := map[string]interface{}{
		"candidates": []map[string]interface{}{{
			"content": map[string]interface{}{
				"role":  "model",
				"parts": parts,
			},
			"finishReason": openAIFinishToGemini(resp.FinishReason),
			"index":        0,
		}},
		"usageMetadata": map[string]interface{}{
			"promptTokenCount":     resp.Usage.PromptTokens,
			"candidatesTokenCount": resp.Usage.CompletionTokens,
			"totalTokenCount":      resp.Usage.TotalTokens,
		},
		"modelVersion": resp.Model,
	}
	b, _ := json.Marshal(out)
	return b
}

func openAIFinishToAnthropic(reason string) string {
	switch reason {
	case "stop", "":
		return "end_turn"
	case "length":
		return "max_tokens"
	case "tool_calls":
		return "tool_use"
	default:
		return "end_turn"
	}
}

func renderAnthropicResponse(resp *ChatResponse) []byte {
	content := []map[string]interface{}{}
	if resp.ReasoningContent != "" {
		content = append(content, map[string]interface{}{
			"type":     "thinking",
			"thinking": resp.ReasoningContent,
		})
	}
	content = append(content, map[string]interface{}{
		"type": "text",
		"text": resp.Content,
	})
	out := map[string]interface{}{
		"id":            responseID(resp, "msg_"),
		"type":          "message",
		"role":          "assistant",
		"model":         resp.Model,
		"content":       content,
		"stop_reason":   openAIFinishToAnthropic(resp.FinishReason),
		"stop_sequence": nil,
		"usage": map[string]interface{}{
			"input_tokens":  resp.Usage.PromptTokens,
			"output_tokens": resp.Usage.CompletionTokens,
		},
	}
	b, _ := json.Marshal(out)
	return b
}

// RenderModelList serializes a model listing in the caller's dialect.
func RenderModelList(d Dialect, models []string) []byte {
	switch d {
	case Gemini:
		entries := make([]map[string]interface{}, 0, len(models))
		for _, m := range models {
			entries = append(entries, map[string]interface{}{
				"name":                       "models/" + m,
				"displayName":                m,
				"supportedGenerationMethods": []string{"generateContent", "streamGenerateContent"},
			})
		}
		b, _ := json.Marshal(map[string]interface{}{"models": entries})
		return b
	case Anthropic:
		entries := make([]map[string]interface{}, 0, len(models))
		for _, m := range models {
			entries = append(entries, map[string]interface{}{
				"type":         "model",
				"id":           m,
				"display_name": m,
			})
		}
		b, _ := json.Marshal(map[string]interface{}{"data": entries, "has_more": false})
		return b
	default:
		entries := make([]map[string]interface{}, 0, len(models))
		now := time.Now().Unix()
		for _, m := range models {
			entries = append(entries, map[string]interface{}{
				"id":       m,
				"object":   "model",
				"created":  now,
				"owned_by": "system",
			})
		}
		b, _ := json.Marshal(map[string]interface{}{"object": "list", "data": entries})
		return b
	}
}
