package dialect

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func collect(frames ...[][]byte) string {
	var b strings.Builder
	for _, fs := range frames {
		for _, f := range fs {
			b.Write(f)
		}
	}
	return b.String()
}

func TestOpenAIStreamFraming(t *testing.T) {
	r := NewStreamRenderer(OpenAI, "gemini-2.5-flash")
	out := collect(
		r.Open(),
		r.Delta(StreamDelta{Content: "hel"}),
		r.Delta(StreamDelta{Content: "lo"}),
		r.Close("stop", &Usage{CompletionTokens: 2, TotalTokens: 2}),
	)

	require.True(t, strings.HasSuffix(out, "data: [DONE]\n\n"))

	var chunks []gjson.Result
	for _, line := range strings.Split(out, "\n\n") {
		payload := strings.TrimPrefix(line, "data: ")
		if payload == "" || payload == "[DONE]" {
			continue
		}
		chunks = append(chunks, gjson.Parse(payload))
	}
	require.Equal(t, "assistant", chunks[0].Get("choices.0.delta.role").String())
	require.Equal(t, "hel", chunks[1].Get("choices.0.delta.content").String())
	last := chunks[len(chunks)-1]
	require.Equal(t, "stop", last.Get("choices.0.finish_reason").String())
	require.Equal(t, int64(2), last.Get("usage.completion_tokens").Int())
	for _, c := range chunks {
		require.Equal(t, "chat.completion.chunk", c.Get("object").String())
	}
}

func TestOpenAIStreamCloseIdempotent(t *testing.T) {
	r := NewStreamRenderer(OpenAI, "m")
	require.NotEmpty(t, r.Close("stop", nil))
	require.Empty(t, r.Close("stop", nil))
}

func TestAnthropicStreamEventOrder(t *testing.T) {
	r := NewStreamRenderer(Anthropic, "claude-sonnet-4-5")
	out := collect(
		r.Open(),
		r.Delta(StreamDelta{Reasoning: "thinking"}),
		r.Delta(StreamDelta{Content: "answer"}),
		r.Close("length", &Usage{CompletionTokens: 7}),
	)

	var events []string
	for _, line := range strings.Split(out, "\n") {
		if strings.HasPrefix(line, "event: ") {
			events = append(events, strings.TrimPrefix(line, "event: "))
		}
	}
	require.Equal(t, []string{
		"message_start",
		"content_block_start",
		"content_block_delta",
		"content_block_stop",
		"content_block_start",
		"content_block_delta",
		"content_block_stop",
		"message_delta",
		"message_stop",
	}, events)

	require.Contains(t, out, `"type":"thinking_delta"`)
	require.Contains(t, out, `"type":"text_delta"`)
	require.Contains(t, out, `"stop_reason":"max_tokens"`)
	require.Contains(t, out, `"output_tokens":7`)
	require.True(t, strings.Contains(out, "event: message_stop"))
}

func TestGeminiStreamChunks(t *testing.T) {
	r := NewStreamRenderer(Gemini, "gemini-2.5-flash")
	out := collect(
		r.Open(),
		r.Delta(StreamDelta{Content: "par"}),
		r.Delta(StreamDelta{Content: "tial"}),
		r.Close("stop", &Usage{PromptTokens: 4, CompletionTokens: 3, TotalTokens: 7}),
	)

	require.True(t, strings.HasSuffix(out, "data: [DONE]\n\n"))

	var chunks []gjson.Result
	for _, line := range strings.Split(out, "\n\n") {
		payload := strings.TrimPrefix(line, "data: ")
		if payload == "" || payload == "[DONE]" {
			continue
		}
		res := gjson.Parse(payload)
		require.True(t, res.IsObject(), "each emission is valid JSON")
		require.True(t, res.Get("candidates.0.content.parts").Exists())
		chunks = append(chunks, res)
	}
	require.Len(t, chunks, 3)
	require.Equal(t, "par", chunks[0].Get("candidates.0.content.parts.0.text").String())
	require.False(t, chunks[0].Get("candidates.0.finishReason").Exists())

	last := chunks[len(chunks)-1]
	require.Equal(t, "STOP", last.Get("candidates.0.finishReason").String())
	require.Equal(t, int64(7), last.Get("usageMetadata.totalTokenCount").Int())
}

func TestGeminiStreamReasoningPart(t *testing.T) {
	r := NewStreamRenderer(Gemini, "gemini-3-flash")
	frames := r.Delta(StreamDelta{Reasoning: "mull", Content: "say"})
	require.Len(t, frames, 1)
	res := gjson.ParseBytes(frames[0][len("data: "):])
	require.True(t, res.Get("candidates.0.content.parts.0.thought").Bool())
	require.Equal(t, "say", res.Get("candidates.0.content.parts.1.text").String())
}

func TestParseGeminiStreamChunk(t *testing.T) {
	chunk := []byte(`{"response":{"candidates":[{"content":{"parts":[{"text":"hi"}]},"finishReason":"STOP"}],"usageMetadata":{"candidatesTokenCount":1,"totalTokenCount":3}}}`)
	d := ParseGeminiStreamChunk(chunk)
	require.Equal(t, "hi", d.Content)
	require.Equal(t, "stop", d.FinishReason)
	require.NotNil(t, d.Usage)
	require.Equal(t, 1, d.Usage.CompletionTokens)
}
