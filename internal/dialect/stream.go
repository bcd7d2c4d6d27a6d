package dialect

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// StreamRenderer turns canonical deltas into wire frames for one dialect.
// Frames returned by each call are complete SSE events, prefix and blank
// line included, so handlers can write them verbatim.
type StreamRenderer interface {
	// Open emits any frames the dialect requires before the first delta.
	Open() [][]byte
	// Delta emits frames for one canonical delta.
	Delta(d StreamDelta) [][]byte
	// Close emits the terminating frames. Every stream ends with the
	// dialect's terminator even when the upstream dropped mid-flight.
	Close(finishReason string, usage *Usage) [][]byte
}

// NewStreamRenderer builds the renderer for the given client dialect.
func NewStreamRenderer(d Dialect, model string) StreamRenderer {
	switch d {
	case Gemini:
		return &geminiStream{model: model}
	case Anthropic:
		return &anthropicStream{model: model, id: "msg_" + uuid.NewString()}
	default:
		return &openAIStream{model: model, id: "chatcmpl-" + uuid.NewString(), created: time.Now().Unix()}
	}
}

func sseData(payload interface{}) []byte {
	b, _ := json.Marshal(payload)
	return []byte("data: " + string(b) + "\n\n")
}

func sseEvent(event string, payload interface{}) []byte {
	b, _ := json.Marshal(payload)
	return []byte("event: " + event + "\ndata: " + string(b) + "\n\n")
}

type openAIStream struct {
	id      string
	model   string
	created int64
	closed  bool
}

func (s *openAIStream) chunk(delta map[string]interface{}, finish interface{}, usage *Usage) []byte {
	out := map[string]interface{}{
		"id":      s.id,
		"object":  "chat.completion.chunk",
		"created": s.created,
		"model":   s.model,
		"choices": []map[string]interface{}{{
			"index":         0,
			"delta":         delta,
			"finish_reason": finish,
		}},
	}
	if usage != nil {
		out["usage"] = usage
	}
	return sseData(out)
}

func (s *openAIStream) Open() [][]byte {
	return [][]byte{s.chunk(map[string]interface{}{"role": "assistant"}, nil, nil)}
}

func (s *openAIStream) Delta(d StreamDelta) [][]byte {
	var frames [][]byte
	if d.Reasoning != "" {
		frames = append(frames, s.chunk(map[string]interface{}{"reasoning_content": d.Reasoning}, nil, nil))
	}
	if d.Content != "" {
		frames = append(frames, s.chunk(map[string]interface{}{"content": d.Content}, nil, nil))
	}
	return frames
}

func (s *openAIStream) Close(finishReason string, usage *Usage) [][]byte {
	if s.closed {
		return nil
	}
	s.closed = true
	if finishReason == "" {
		finishReason = "stop"
	}
	return [][]byte{
		s.chunk(map[string]interface{}{}, finishReason, usage),
		[]byte("data: [DONE]\n\n"),
	}
}

type anthropicStream struct {
	id    string
	model string

	blockIndex   int
	blockOpen    bool
	blockIsThink bool
	closed       bool
}

func (s *anthropicStream) Open() [][]byte {
	return [][]byte{sseEvent("message_start", map[string]interface{}{
		"type": "message_start",
		"message": map[string]interface{}{
			"id":            s.id,
			"type":          "message",
			"role":          "assistant",
			"model":         s.model,
			"content":       []interface{}{},
			"stop_reason":   nil,
			"stop_sequence": nil,
			"usage":         map[string]int{"input_tokens": 0, "output_tokens": 0},
		},
	})}
}

func (s *anthropicStream) openBlock(thinking bool) []byte {
	s.blockOpen = true
	s.blockIsThink = thinking
	block := map[string]interface{}{"type": "text", "text": ""}
	if thinking {
		block = map[string]interface{}{"type": "thinking", "thinking": ""}
	}
	return sseEvent("content_block_start", map[string]interface{}{
		"type":          "content_block_start",
		"index":         s.blockIndex,
		"content_block": block,
	})
}

func (s *anthropicStream) closeBlock() []byte {
	frame := sseEvent("content_block_stop", map[string]interface{}{
		"type":  "content_block_stop",
		"index": s.blockIndex,
	})
	s.blockOpen = false
	s.blockIndex++
	return frame
}

func (s *anthropicStream) textFrames(text string, thinking bool) [][]byte {
	var frames [][]byte
	if s.blockOpen && s.blockIsThink != thinking {
		frames = append(frames, s.closeBlock())
	}
	if !s.blockOpen {
		frames = append(frames, s.openBlock(thinking))
	}
	delta := map[string]interface{}{"type": "text_delta", "text": text}
	if thinking {
		delta = map[string]interface{}{"type": "thinking_delta", "thinking": text}
	}
	frames = append(frames, sseEvent("content_block_delta", map[string]interface{}{
		"type":  "content_block_delta",
		"index": s.blockIndex,
		"delta": delta,
	}))
	return frames
}

func (s *anthropicStream) Delta(d StreamDelta) [][]byte {
	var frames [][]byte
	if d.Reasoning != "" {
		frames = append(frames, s.textFrames(d.Reasoning, true)...)
	}
	if d.Content != "" {
		frames = append(frames, s.textFrames(d.Content, false)...)
	}
	return frames
}

func (s *anthropicStream) Close(finishReason string, usage *Usage) [][]byte {
	if s.closed {
		return nil
	}
	s.closed = true
	var frames [][]byte
	if s.blockOpen {
		frames = append(frames, s.closeBlock())
	}
	outputTokens := 0
	if usage != nil {
		outputTokens = usage.CompletionTokens
	}
	frames = append(frames, sseEvent("message_delta", map[string]interface{}{
		"type": "message_delta",
		"delta": map[string]interface{}{
			"stop_reason":   openAIFinishToAnthropic(finishReason),
			"stop_sequence": nil,
		},
		"usage": map[string]int{"output_tokens": outputTokens},
	}))
	frames = append(frames, sseEvent("message_stop", map[string]interface{}{
		"type": "message_stop",
	}))
	return frames
}

type geminiStream struct {
	model  string
	closed bool
}

func (s *geminiStream) frame(parts []map[string]interface{}, finish string, usage *Usage) []byte {
	candidate := map[string]interface{}{
		"content": map[string]interface{}{
			"role":  "model",
			"parts": parts,
		},
		"index": 0,
	}
	if finish != "" {
		candidate["finishReason"] = finish
	}
	out := map[string]interface{}{
		"candidates":   []map[string]interface{}{candidate},
		"modelVersion": s.model,
	}
	if usage != nil {
		out["usageMetadata"] = map[string]interface{}{
			"promptTokenCount":     usage.PromptTokens,
			"candidatesTokenCount": usage.CompletionTokens,
			"totalTokenCount":      usage.TotalTokens,
		}
	}
	return sseData(out)
}

func (s *geminiStream) Open() [][]byte { return nil }

func (s *geminiStream) Delta(d StreamDelta) [][]byte {
	var parts []map[string]interface{}
	if d.Reasoning != "" {
		parts = append(parts, map[string]interface{}{"text": d.Reasoning, "thought": true})
	}
	if d.Content != "" {
		parts = append(parts, map[string]interface{}{"text": d.Content})
	}
	if len(parts) == 0 {
		return nil
	}
	return [][]byte{s.frame(parts, "", nil)}
}

func (s *geminiStream) Close(finishReason string, usage *Usage) [][]byte {
	if s.closed {
		return nil
	}
	s.closed = true
	parts := []map[string]interface{}{{"text": ""}}
	return [][]byte{
		s.frame(parts, openAIFinishToGemini(finishReason), usage),
		[]byte("data: [DONE]\n\n"),
	}
}
