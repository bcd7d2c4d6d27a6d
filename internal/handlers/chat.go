package handlers

import (
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"omnirelay-go/internal/apierr"
	"omnirelay-go/internal/dialect"
	"omnirelay-go/internal/middleware"
	"omnirelay-go/internal/models"
	"omnirelay-go/internal/store"
	"omnirelay-go/internal/timeutil"
	"omnirelay-go/internal/upstream"
)

const maxRequestBody = 32 << 20

func apiDialect(d dialect.Dialect) apierr.Dialect {
	switch d {
	case dialect.Gemini:
		return apierr.DialectGemini
	case dialect.Anthropic:
		return apierr.DialectAnthropic
	default:
		return apierr.DialectOpenAI
	}
}

func abortIn(c *gin.Context, d dialect.Dialect, e *apierr.APIError) {
	c.AbortWithStatusJSON(e.HTTPStatus, e.Render(apiDialect(d)))
}

func readBody(c *gin.Context) ([]byte, error) {
	return io.ReadAll(io.LimitReader(c.Request.Body, maxRequestBody))
}

// ChatCompletions serves POST /v1/chat/completions. The endpoint is
// universal: the body shape picks the dialect, so Gemini and Anthropic
// payloads posted here are parsed and answered in their own wire format.
func (h *Handler) ChatCompletions(c *gin.Context) {
	body, err := readBody(c)
	if err != nil {
		abortIn(c, dialect.OpenAI, apierr.InvalidRequest("unreadable request body"))
		return
	}
	d := dialect.Detect(c.Request.Header, body)
	req, perr := dialect.Parse(d, body)
	if perr != nil {
		abortIn(c, d, apierr.InvalidRequest(perr.Error()))
		return
	}
	h.serve(c, d, req)
}

// Messages serves POST /v1/messages.
func (h *Handler) Messages(c *gin.Context) {
	body, err := readBody(c)
	if err != nil {
		abortIn(c, dialect.Anthropic, apierr.InvalidRequest("unreadable request body"))
		return
	}
	req, perr := dialect.ParseAnthropic(body)
	if perr != nil {
		abortIn(c, dialect.Anthropic, apierr.InvalidRequest(perr.Error()))
		return
	}
	h.serve(c, dialect.Anthropic, req)
}

// GeminiNative serves the native Gemini surface. The wildcard path carries
// "<model>:<action>", e.g. "gemini-2.5-pro:streamGenerateContent".
func (h *Handler) GeminiNative(c *gin.Context) {
	spec := strings.TrimPrefix(c.Param("path"), "/")
	model, action, ok := strings.Cut(spec, ":")
	if !ok {
		abortIn(c, dialect.Gemini, apierr.InvalidRequest("expected models/<model>:<action>"))
		return
	}

	body, err := readBody(c)
	if err != nil {
		abortIn(c, dialect.Gemini, apierr.InvalidRequest("unreadable request body"))
		return
	}
	req, perr := dialect.ParseGemini(body)
	if perr != nil {
		abortIn(c, dialect.Gemini, apierr.InvalidRequest(perr.Error()))
		return
	}
	req.Model = model

	switch action {
	case "generateContent":
		req.Stream = false
	case "streamGenerateContent":
		req.Stream = true
	default:
		abortIn(c, dialect.Gemini, apierr.InvalidRequest("unsupported action "+action))
		return
	}
	h.serve(c, dialect.Gemini, req)
}

// Models lists the served model names. The route's dialect is the default;
// a format query parameter or dialect-identifying headers override it.
func (h *Handler) Models(def dialect.Dialect) gin.HandlerFunc {
	return func(c *gin.Context) {
		d := def
		switch c.Query("format") {
		case "openai":
			d = dialect.OpenAI
		case "gemini":
			d = dialect.Gemini
		case "anthropic":
			d = dialect.Anthropic
		case "":
			if def == dialect.OpenAI {
				d = dialect.DetectHeaders(c.Request.Header)
			}
		}
		c.Data(http.StatusOK, "application/json", dialect.RenderModelList(d, models.Available()))
	}
}

// serve is the shared pipeline behind every chat surface: normalize the
// model, apply access gates and governance, translate to the upstream
// wire shape, then dispatch.
func (h *Handler) serve(c *gin.Context, d dialect.Dialect, req *dialect.ChatRequest) {
	user := middleware.UserFrom(c)
	if user == nil {
		abortIn(c, d, apierr.Authentication("missing user context"))
		return
	}

	variant := models.Normalize(req.Model)
	if !models.IsValid(variant.BaseName) {
		abortIn(c, d, apierr.InvalidRequest("unknown model "+req.Model))
		return
	}
	c.Set("model", variant.BaseName)

	ctx := c.Request.Context()
	if ae := h.checkAccess(c, user, variant.BaseName); ae != nil {
		abortIn(c, d, ae)
		return
	}
	if ae := h.gov.Admit(ctx, user); ae != nil {
		abortIn(c, d, ae)
		return
	}
	day := timeutil.DayKey(time.Now())
	if ae := h.gov.AdmitFamily(ctx, user, variant.BaseName, day); ae != nil {
		abortIn(c, d, ae)
		return
	}

	upstreamBody := dialect.ToGeminiRequest(req)
	switch {
	case req.Stream && variant.FakeStream:
		h.serveFakeStream(c, d, user, req, variant.BaseName, upstreamBody)
	case req.Stream:
		h.serveStream(c, d, user, req, variant.BaseName, upstreamBody)
	default:
		h.serveOnce(c, d, user, req, variant.BaseName, upstreamBody)
	}
}

func (h *Handler) generator(base string) Generator {
	if models.IsAntigravity(base) {
		return h.anti
	}
	return h.cloud
}

func (h *Handler) dispatch(c *gin.Context, base string, stream bool, do run) *apierr.APIError {
	user := middleware.UserFrom(c)
	if models.IsAntigravity(base) {
		return h.dispatchAntigravity(c.Request.Context(), user, do)
	}
	return h.dispatchCloud(c.Request.Context(), user, base, stream, do)
}

// generateOnce runs one non-stream upstream call through the credential
// machinery and returns the canonical response.
func (h *Handler) generateOnce(c *gin.Context, user *store.User, req *dialect.ChatRequest, base string, body []byte) (*dialect.ChatResponse, *apierr.APIError) {
	gen := h.generator(base)
	ctx := c.Request.Context()

	var raw []byte
	do := func(auth upstream.Auth) error {
		out, err := gen.Generate(ctx, auth, base, body)
		if err != nil {
			return err
		}
		raw = out
		return nil
	}
	if ae := h.dispatch(c, base, false, do); ae != nil {
		return nil, ae
	}

	resp := dialect.ParseGeminiResponse(req.Model, raw)
	h.gov.RecordSuccess(ctx, user.ID, base, int64(resp.Usage.CompletionTokens))
	return resp, nil
}

func (h *Handler) serveOnce(c *gin.Context, d dialect.Dialect, user *store.User, req *dialect.ChatRequest, base string, body []byte) {
	resp, ae := h.generateOnce(c, user, req, base, body)
	if ae != nil {
		abortIn(c, d, ae)
		return
	}
	c.Data(http.StatusOK, "application/json", dialect.RenderResponse(d, resp))
}

// serveFakeStream answers a stream request by buffering one non-stream
// upstream call and replaying it as a single-delta event stream.
func (h *Handler) serveFakeStream(c *gin.Context, d dialect.Dialect, user *store.User, req *dialect.ChatRequest, base string, body []byte) {
	resp, ae := h.generateOnce(c, user, req, base, body)
	if ae != nil {
		abortIn(c, d, ae)
		return
	}

	r := dialect.NewStreamRenderer(d, req.Model)
	w := newSSEWriter(c)
	w.frames(r.Open())
	w.frames(r.Delta(dialect.StreamDelta{Content: resp.Content, Reasoning: resp.ReasoningContent}))
	finish := resp.FinishReason
	if finish == "" {
		finish = "stop"
	}
	usage := resp.Usage
	w.frames(r.Close(finish, &usage))
}

func (h *Handler) serveStream(c *gin.Context, d dialect.Dialect, user *store.User, req *dialect.ChatRequest, base string, body []byte) {
	gen := h.generator(base)
	ctx := c.Request.Context()

	r := dialect.NewStreamRenderer(d, req.Model)
	w := newSSEWriter(c)

	opened := false
	finish := ""
	var usage *dialect.Usage

	do := func(auth upstream.Auth) error {
		return gen.Stream(ctx, auth, base, body, func(chunk []byte) error {
			delta := dialect.ParseGeminiStreamChunk(chunk)
			if delta == nil {
				return nil
			}
			if !opened {
				w.frames(r.Open())
				opened = true
			}
			if delta.FinishReason != "" {
				finish = delta.FinishReason
			}
			if delta.Usage != nil {
				usage = delta.Usage
			}
			if delta.Content != "" || delta.Reasoning != "" {
				w.frames(r.Delta(*delta))
			}
			return nil
		})
	}

	ae := h.dispatch(c, base, true, do)
	if ae != nil && !opened {
		// Nothing was written yet so a plain error response is still possible.
		abortIn(c, d, ae)
		return
	}
	if ae != nil {
		// Mid-stream failure: surface the error as an event, then close the
		// stream properly so clients do not hang on a dangling connection.
		w.write(errorFrame(d, ae))
	}

	if !opened {
		w.frames(r.Open())
	}
	if finish == "" {
		finish = "stop"
	}
	w.frames(r.Close(finish, usage))

	if ae == nil {
		completion := 0
		if usage != nil {
			completion = usage.CompletionTokens
		}
		h.gov.RecordSuccess(ctx, user.ID, base, int64(completion))
	}
}
