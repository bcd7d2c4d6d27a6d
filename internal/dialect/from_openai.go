package dialect

import (
	"encoding/json"

	"github.com/tidwall/gjson"
)

// ParseOpenAI reads an OpenAI chat completions body into the canonical form.
func ParseOpenAI(body []byte) (*ChatRequest, error) {
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
	req.Stop = parseStop(gjson.GetBytes(body, "stop"))

	gjson.GetBytes(body, "messages").ForEach(func(_, m gjson.Result) bool {
		msg := Message{Role: m.Get("role").String()}
		content := m.Get("content")
		if content.IsArray() {
			content.ForEach(func(_, item gjson.Result) bool {
				switch item.Get("type").String() {
				case "text":
					msg.Parts = append(msg.Parts, ContentPart{Type: "text", Text: item.Get("text").String()})
				case "image_url":
					msg.Parts = append(msg.Parts, ContentPart{
						Type:     "image_url",
						ImageURL: item.Get("image_url.url").String(),
					})
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

func parseStop(v gjson.Result) []string {
	if !v.Exists() {
		return nil
	}
	if v.Type == gjson.String {
		return []string{v.String()}
	}
	var out []string
	v.ForEach(func(_, s gjson.Result) bool {
		out = append(out, s.String())
		return true
	})
	return out
}
