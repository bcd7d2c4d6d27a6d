// Package dialect translates between the three client wire formats (OpenAI,
// Gemini, Anthropic) and the canonical internal request/response records.
// The canonical form is the OpenAI chat shape; detection, canonicalization
// and rendering all live here so the rest of the pipeline sees typed records
// instead of ad hoc JSON.
package dialect

import "encoding/json"

// Dialect identifies a client wire format.
type Dialect string

const (
	OpenAI    Dialect = "openai"
	Gemini    Dialect = "gemini"
	Anthropic Dialect = "anthropic"
)

// ContentPart is one element of a multimodal message.
type ContentPart struct {
	Type     string // "text" or "image_url"
	Text     string
	ImageURL string // data: URI or remote URL
}

// Message is one canonical chat message.
type Message struct {
	Role    string
	Content string        // set when the message is plain text
	Parts   []ContentPart // set when the message is multimodal
}

// IsMultimodal reports whether the message carries structured parts.
func (m *Message) IsMultimodal() bool {
	return len(m.Parts) > 0
}

// PlainText flattens the message into text, joining text parts with newlines.
func (m *Message) PlainText() string {
	if !m.IsMultimodal() {
		return m.Content
	}
	out := ""
	for _, p := range m.Parts {
		if p.Type != "text" {
			continue
		}
		if out != "" {
			out += "\n"
		}
		out += p.Text
	}
	return out
}

// ChatRequest is the canonical request record.
type ChatRequest struct {
	Model       string
	Messages    []Message
	MaxTokens   int
	Temperature *float64
	TopP        *float64
	Stop        []string
	Stream      bool

	// Tool declarations pass through untouched; execution semantics are the
	// upstream's business.
	Tools      json.RawMessage
	ToolChoice json.RawMessage
}

// Usage carries token accounting.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatResponse is the canonical non-stream response record.
type ChatResponse struct {
	ID               string
	Model            string
	Created          int64
	Content          string
	ReasoningContent string
	FinishReason     string // openai vocabulary: stop|length|content_filter|tool_calls
	Usage            Usage
	ToolCalls        json.RawMessage
}

// StreamDelta is one canonical streaming increment.
type StreamDelta struct {
	Content      string
	Reasoning    string
	FinishReason string // non-empty only on the terminal delta
	Usage        *Usage // usually present on the terminal delta
}
