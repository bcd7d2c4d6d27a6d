package dialect

import (
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
)

// DetectBody inspects a request body and decides which dialect produced it.
//
// Rules: Gemini markers (contents / systemInstruction / generationConfig)
// win outright; otherwise a messages[] array with Anthropic-specific shapes
// (string or array system, typed content items) is Anthropic; everything
// else is OpenAI.
func DetectBody(body []byte) Dialect {
	if gjson.GetBytes(body, "contents").Exists() ||
		gjson.GetBytes(body, "systemInstruction").Exists() ||
		gjson.GetBytes(body, "generationConfig").Exists() {
		return Gemini
	}

	messages := gjson.GetBytes(body, "messages")
	if !messages.IsArray() {
		return OpenAI
	}

	system := gjson.GetBytes(body, "system")
	if system.Type == gjson.String || system.IsArray() {
		return Anthropic
	}

	anthropic := false
	messages.ForEach(func(_, msg gjson.Result) bool {
		content := msg.Get("content")
		if !content.IsArray() {
			return true
		}
		content.ForEach(func(_, item gjson.Result) bool {
			switch item.Get("type").String() {
			case "text", "image", "tool_use", "tool_result":
				anthropic = true
				return false
			}
			return true
		})
		return !anthropic
	})
	if anthropic {
		return Anthropic
	}
	return OpenAI
}

// DetectHeaders gives a dialect hint from request headers: x-goog-api-key or
// a Gemini User-Agent means Gemini; x-api-key plus anthropic-version means
// Anthropic; otherwise OpenAI.
func DetectHeaders(h http.Header) Dialect {
	if h.Get("x-goog-api-key") != "" {
		return Gemini
	}
	ua := strings.ToLower(h.Get("User-Agent"))
	if strings.Contains(ua, "gemini") || strings.Contains(ua, "google-genai") {
		return Gemini
	}
	if h.Get("x-api-key") != "" && h.Get("anthropic-version") != "" {
		return Anthropic
	}
	return OpenAI
}

// Detect combines body shape with header hints; the body wins when it is
// unambiguous, headers break the tie for bare OpenAI-looking bodies.
func Detect(h http.Header, body []byte) Dialect {
	d := DetectBody(body)
	if d != OpenAI {
		return d
	}
	if hint := DetectHeaders(h); hint == Anthropic {
		// x-api-key callers expect Anthropic error envelopes even for
		// OpenAI-shaped bodies.
		return hint
	}
	return d
}
