package dialect

import (
	"strings"

	"github.com/tidwall/gjson"
)

// ParseGemini reads a Gemini generateContent body into canonical form.
//
// systemInstruction parts flatten into a leading system message; each
// contents[i] becomes one message (role "model" maps to "assistant") with
// text parts merged and inlineData re-encoded as data: image URLs.
func ParseGemini(body []byte) (*ChatRequest, error) {
	// The native surface carries model and action in the URL and overwrites
	// these; bodies posted to the universal endpoint carry them inline.
	req := &ChatRequest{
		Model:  gjson.GetBytes(body, "model").String(),
		Stream: gjson.GetBytes(body, "stream").Bool(),
	}

	if sys := gjson.GetBytes(body, "systemInstruction.parts"); sys.Exists() {
		var texts []string
		sys.ForEach(func(_, p gjson.Result) bool {
			if t := p.Get("text").String(); t != "" {
				texts = append(texts, t)
			}
			return true
		})
		if len(texts) > 0 {
			req.Messages = append(req.Messages, Message{Role: "system", Content: strings.Join(texts, "\n")})
		}
	}

	gjson.GetBytes(body, "contents").ForEach(func(_, content gjson.Result) bool {
		role := content.Get("role").String()
		if role == "model" {
			role = "assistant"
		}
		if role == "" {
			role = "user"
		}
		msg := Message{Role: role}

		var texts []string
		var images []ContentPart
		content.Get("parts").ForEach(func(_, p gjson.Result) bool {
			if t := p.Get("text"); t.Exists() {
				texts = append(texts, t.String())
			}
			if inline := p.Get("inlineData"); inline.Exists() {
				mime := inline.Get("mimeType").String()
				data := inline.Get("data").String()
				images = append(images, ContentPart{
					Type:     "image_url",
					ImageURL: "data:" + mime + ";base64," + data,
				})
			}
			return true
		})

		if len(images) == 0 {
			msg.Content = strings.Join(texts, "\n")
		} else {
			if joined := strings.Join(texts, "\n"); joined != "" {
				msg.Parts = append(msg.Parts, ContentPart{Type: "text", Text: joined})
			}
			msg.Parts = append(msg.Parts, images...)
		}
		req.Messages = append(req.Messages, msg)
		return true
	})

	gen := gjson.GetBytes(body, "generationConfig")
	if v := gen.Get("temperature"); v.Exists() {
		f := v.Float()
		req.Temperature = &f
	}
	if v := gen.Get("topP"); v.Exists() {
		f := v.Float()
		req.TopP = &f
	}
	if v := gen.Get("maxOutputTokens"); v.Exists() {
		req.MaxTokens = int(v.Int())
	}
	req.Stop = parseStop(gen.Get("stopSequences"))

	return req, nil
}
