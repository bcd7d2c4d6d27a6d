package dialect

import (
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"
)

// ParseAnthropic reads an Anthropic messages body into canonical form.
//
// system may be a string or an array of {type:text,text} blocks; both
// flatten into one system message. Array content maps text and base64
// images; tool_use/tool_result blocks pass through as tools metadata.
func ParseAnthropic(body []byte) (*ChatRequest, error) {
	req := &ChatRequest{
		Model:     gjson.GetBytes(body, "model").String(),
		MaxTokens: int(gjson.GetBytes(body, "max_tokens").Int()),
		Stream:    gjson.GetBytes(body, "stream").Bool(),
	}
	if v := gjson.GetBytes(body, "temperature"); v.Exists() {
		f := v.Float()
		req.Temperature = &f
	}
	if v := gjson.GetBytes(body, "top_p"); v.Exists() {
		f := v.Float()
		req.TopP = &f
	}
	req.Stop = parseStop(gjson.GetBytes(body, "stop_sequences"))

	if sys := gjson.GetBytes(body, "system"); sys.Exists() {
		text := flattenAnthropicSystem(sys)
		if text != "" {
			req.Messages = append(req.Messages, Message{Role: "system", Content: text})
		}
	}

	gjson.GetBytes(body, "messages").ForEach(func(_, m gjson.Result) bool {
		msg := Message{Role: m.Get("role").String()}
		content := m.Get("content")
		if content.IsArray() {
			content.ForEach(func(_, item gjson.Result) bool {
				switch item.Get("type").String() {
				case "text":
					msg.Parts = append(msg.Parts, ContentPart{Type: "text", Text: item.Get("text").String()})
				case "image":
					src := item.Get("source")
					if src.Get("type").String() == "base64" {
						msg.Parts = append(msg.Parts, ContentPart{
							Type:     "image_url",
							ImageURL: "data:" + src.Get("media_type").String() + ";base64," + src.Get("data").String(),
						})
					}
				}
				return true
			})
		} else {
			msg.Content = content.String()
		}
		req.Messages = append(req.Messages, msg)
		return true
	})

	if tools := gjson.GetBytes(body, "tools"); tools.Exists() {
		req.Tools = json.RawMessage(tools.Raw)
	}
	if tc := gjson.GetBytes(body, "tool_choice"); tc.Exists() {
		req.ToolChoice = json.RawMessage(tc.Raw)
	}
	return req, nil
}

func flattenAnthropicSystem(sys gjson.Result) string {
	if sys.Type == gjson.String {
		return sys.String()
	}
	var texts []string
	sys.ForEach(func(_, block gjson.Result) bool {
		if block.Get("type").String() == "text" {
			texts = append(texts, block.Get("text").String())
		}
		return true
	})
	return strings.Join(texts, "\n")
}

// Parse canonicalizes body according to its detected (or forced) dialect.
func Parse(d Dialect, body []byte) (*ChatRequest, error) {
	switch d {
	case Gemini:
		return ParseGemini(body)
	case Anthropic:
		return ParseAnthropic(body)
	default:
		return ParseOpenAI(body)
	}
}
