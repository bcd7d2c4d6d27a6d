package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"omnirelay-go/internal/config"
	"omnirelay-go/internal/coordstore"
	"omnirelay-go/internal/governor"
	"omnirelay-go/internal/middleware"
	"omnirelay-go/internal/oauth"
	"omnirelay-go/internal/pool"
	"omnirelay-go/internal/store"
	"omnirelay-go/internal/upstream"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// fakeBackend is one in-memory store satisfying handlers.Store,
// pool.CredentialStore and governor.UserStore.
type fakeBackend struct {
	mu       sync.Mutex
	creds    map[string]*store.GoogleCredential
	tokens   []*store.AntigravityToken
	counts   map[string][2]int
	used     map[string]int64
	usageLog []int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		creds:  map[string]*store.GoogleCredential{},
		counts: map[string][2]int{},
		used:   map[string]int64{},
	}
}

func (f *fakeBackend) CountOwnerCredentials(ctx context.Context, userID string) (int, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.counts[userID]
	return c[0], c[1], nil
}

func (f *fakeBackend) IncrementTodayUsed(ctx context.Context, userID string, delta int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.used[userID] += delta
	return nil
}

func (f *fakeBackend) ListActiveCredentials(ctx context.Context) ([]*store.GoogleCredential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*store.GoogleCredential
	for _, c := range f.creds {
		if c.Status == store.StatusActive {
			cc := *c
			out = append(out, &cc)
		}
	}
	return out, nil
}

func (f *fakeBackend) GetCredential(ctx context.Context, id string) (*store.GoogleCredential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.creds[id]
	if !ok {
		return nil, &store.ErrNotFound{Entity: "credential", Key: id}
	}
	cc := *c
	return &cc, nil
}

func (f *fakeBackend) UpdateCredentialToken(ctx context.Context, id, accessToken string, expiresAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.creds[id]; ok {
		c.AccessToken = accessToken
		c.ExpiresAt = expiresAt
	}
	return nil
}

func (f *fakeBackend) SetCredentialCooling(ctx context.Context, id string, resetAt time.Time) error {
	return f.setStatus(id, store.StatusCooling)
}

func (f *fakeBackend) SetCredentialDead(ctx context.Context, id string) error {
	return f.setStatus(id, store.StatusDead)
}

func (f *fakeBackend) RestoreCredential(ctx context.Context, id string) error {
	return f.setStatus(id, store.StatusActive)
}

func (f *fakeBackend) setStatus(id, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.creds[id]; ok {
		c.Status = status
	}
	return nil
}

func (f *fakeBackend) status(id string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.creds[id]; ok {
		return c.Status
	}
	for _, t := range f.tokens {
		if t.ID == id {
			return t.Status
		}
	}
	return ""
}

func (f *fakeBackend) BumpCredentialFailCount(ctx context.Context, id string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.creds[id]
	c.FailCount++
	return c.FailCount, nil
}

func (f *fakeBackend) ResetCredentialFailCount(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.creds[id]; ok {
		c.FailCount = 0
	}
	return nil
}

func (f *fakeBackend) AppendUsageLog(ctx context.Context, userID, credentialID string, statusCode int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.usageLog = append(f.usageLog, statusCode)
	return nil
}

func (f *fakeBackend) ListUsableAntigravityTokens(ctx context.Context) ([]*store.AntigravityToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*store.AntigravityToken
	for _, t := range f.tokens {
		if t.Status == store.StatusActive {
			tt := *t
			out = append(out, &tt)
		}
	}
	return out, nil
}

func (f *fakeBackend) UpdateAntigravityToken(ctx context.Context, id, accessToken string, expiresAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.tokens {
		if t.ID == id {
			t.AccessToken = accessToken
			t.ExpiresAt = expiresAt
		}
	}
	return nil
}

func (f *fakeBackend) SetAntigravityCooling(ctx context.Context, id string, resetAt time.Time) error {
	return f.setTokenStatus(id, store.StatusCooling)
}

func (f *fakeBackend) SetAntigravityDead(ctx context.Context, id string) error {
	return f.setTokenStatus(id, store.StatusDead)
}

func (f *fakeBackend) setTokenStatus(id, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.tokens {
		if t.ID == id {
			t.Status = status
		}
	}
	return nil
}

func (f *fakeBackend) BumpAntigravityFailCount(ctx context.Context, id string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.tokens {
		if t.ID == id {
			t.FailCount++
			return t.FailCount, nil
		}
	}
	return 0, nil
}

func (f *fakeBackend) ResetAntigravityFailCount(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.tokens {
		if t.ID == id {
			t.FailCount = 0
		}
	}
	return nil
}

// fakeUpstream satisfies Generator and AntigravityClient. Behavior is keyed
// by the access token presented.
type fakeUpstream struct {
	mu        sync.Mutex
	generated int
	streamed  int
	failOnce  error            // returned by the first Generate call only
	failWith  map[string]error // access token -> error
	reply     string
	chunks    []string
	lastBody  []byte
	seenAuth  []string
}

func (f *fakeUpstream) Generate(ctx context.Context, auth upstream.Auth, model string, body []byte) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.generated++
	f.lastBody = append([]byte(nil), body...)
	f.seenAuth = append(f.seenAuth, auth.AccessToken)
	if f.generated == 1 && f.failOnce != nil {
		return nil, f.failOnce
	}
	if err, ok := f.failWith[auth.AccessToken]; ok {
		return nil, err
	}
	return []byte(f.reply), nil
}

func (f *fakeUpstream) Stream(ctx context.Context, auth upstream.Auth, model string, body []byte, fn func([]byte) error) error {
	f.mu.Lock()
	f.streamed++
	err, failed := f.failWith[auth.AccessToken]
	chunks := f.chunks
	f.mu.Unlock()
	if failed {
		return err
	}
	for _, ch := range chunks {
		if e := fn([]byte(ch)); e != nil {
			return e
		}
	}
	return nil
}

func (f *fakeUpstream) RefreshToken(ctx context.Context, clientID, clientSecret, composite string) (*oauth.RefreshedToken, string, error) {
	return &oauth.RefreshedToken{AccessToken: "ag-refreshed", ExpiresAt: time.Now().Add(time.Hour)}, "proj-managed", nil
}

const geminiReply = `{"response":{"candidates":[{"content":{"parts":[{"text":"hello there"}]},"finishReason":"STOP"}],"usageMetadata":{"promptTokenCount":4,"candidatesTokenCount":6,"totalTokenCount":10}}}`

func testHandler(t *testing.T, fb *fakeBackend) (*Handler, *fakeUpstream, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	coord := coordstore.NewFromClient(rdb)

	cfg := &config.Config{}
	cfg.Quota.IncrementPerCredential = 1000
	cfg.SetFeatures(config.Features{CLISharedMode: true})

	gov := governor.New(fb, coord, cfg)
	pe := pool.New(fb, coord, oauth.NewClient())
	up := &fakeUpstream{reply: geminiReply, failWith: map[string]error{}}
	h := New(cfg, fb, gov, pe, up, up)
	return h, up, mr
}

func activeUser(id string) *store.User {
	return &store.User{ID: id, Username: id, Role: store.RoleUser, Active: true}
}

func cloudCred(id, token string) *store.GoogleCredential {
	return &store.GoogleCredential{
		ID:           id,
		ClientID:     "cid",
		ClientSecret: "sec",
		RefreshToken: "rt-" + id,
		ProjectID:    "proj-" + id,
		AccessToken:  token,
		ExpiresAt:    time.Now().Add(time.Hour),
		Status:       store.StatusActive,
	}
}

func doRequest(h *Handler, fn gin.HandlerFunc, method, target, body string, user *store.User) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(method, target, strings.NewReader(body))
	c.Request.Header.Set("Content-Type", "application/json")
	if user != nil {
		c.Set(middleware.CtxUser, user)
		c.Set("user_id", user.ID)
	}
	fn(c)
	return w
}

func TestChatCompletionsNonStream(t *testing.T) {
	fb := newFakeBackend()
	fb.creds["c1"] = cloudCred("c1", "at-1")
	h, up, _ := testHandler(t, fb)

	body := `{"model":"gemini-2.5-pro","messages":[{"role":"user","content":"hi"}]}`
	w := doRequest(h, h.ChatCompletions, http.MethodPost, "/v1/chat/completions", body, activeUser("u1"))

	require.Equal(t, http.StatusOK, w.Code)
	out := w.Body.String()
	require.Equal(t, "chat.completion", gjson.Get(out, "object").String())
	require.Equal(t, "hello there", gjson.Get(out, "choices.0.message.content").String())
	require.Equal(t, "stop", gjson.Get(out, "choices.0.finish_reason").String())
	require.EqualValues(t, 6, gjson.Get(out, "usage.completion_tokens").Int())
	require.Equal(t, 1, up.generated)
	require.EqualValues(t, 1, fb.used["u1"])
	require.Equal(t, []int{200}, fb.usageLog)
}

func TestChatCompletionsDetectsGeminiBody(t *testing.T) {
	fb := newFakeBackend()
	fb.creds["c1"] = cloudCred("c1", "at-1")
	h, up, _ := testHandler(t, fb)

	body := `{"model":"gemini-2.5-pro","contents":[{"role":"user","parts":[{"text":"Hi"}]}]}`
	w := doRequest(h, h.ChatCompletions, http.MethodPost, "/v1/chat/completions", body, activeUser("u1"))

	require.Equal(t, http.StatusOK, w.Code)
	out := w.Body.String()
	require.Equal(t, "hello there", gjson.Get(out, "candidates.0.content.parts.0.text").String())
	require.False(t, gjson.Get(out, "object").Exists())
	// The contents[] payload must survive into the upstream request.
	require.Equal(t, "Hi", gjson.GetBytes(up.lastBody, "contents.0.parts.0.text").String())
}

func TestChatCompletionsDetectsAnthropicBody(t *testing.T) {
	fb := newFakeBackend()
	fb.tokens = []*store.AntigravityToken{{
		ID:           "ag1",
		RefreshToken: "rt|proj|managed",
		AccessToken:  "ag-at",
		ExpiresAt:    time.Now().Add(time.Hour),
		Status:       store.StatusActive,
	}}
	h, _, _ := testHandler(t, fb)

	body := `{"model":"claude-sonnet-4-5","max_tokens":64,"system":"be brief","messages":[{"role":"user","content":"hi"}]}`
	w := doRequest(h, h.ChatCompletions, http.MethodPost, "/v1/chat/completions", body, activeUser("u1"))

	require.Equal(t, http.StatusOK, w.Code)
	out := w.Body.String()
	require.Equal(t, "message", gjson.Get(out, "type").String())
	require.Equal(t, "hello there", gjson.Get(out, "content.0.text").String())
}

func TestUnknownModelRejected(t *testing.T) {
	fb := newFakeBackend()
	h, _, _ := testHandler(t, fb)

	body := `{"model":"gpt-4o","messages":[{"role":"user","content":"hi"}]}`
	w := doRequest(h, h.ChatCompletions, http.MethodPost, "/v1/chat/completions", body, activeUser("u1"))

	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Contains(t, gjson.Get(w.Body.String(), "error.message").String(), "unknown model")
}

func TestContributionGateWhenSharedModeOff(t *testing.T) {
	fb := newFakeBackend()
	fb.creds["c1"] = cloudCred("c1", "at-1")
	h, _, _ := testHandler(t, fb)
	h.cfg.SetFeatures(config.Features{CLISharedMode: false})

	body := `{"model":"gemini-2.5-pro","messages":[{"role":"user","content":"hi"}]}`
	w := doRequest(h, h.ChatCompletions, http.MethodPost, "/v1/chat/completions", body, activeUser("u1"))

	require.Equal(t, http.StatusForbidden, w.Code)
}

func TestRateLimitedCredentialCoolsAndFailsOver(t *testing.T) {
	fb := newFakeBackend()
	fb.creds["c1"] = cloudCred("c1", "at-1")
	fb.creds["c2"] = cloudCred("c2", "at-2")
	h, up, _ := testHandler(t, fb)
	up.failWith["at-1"] = &upstream.StatusError{Code: http.StatusTooManyRequests}
	up.failWith["at-2"] = &upstream.StatusError{Code: http.StatusTooManyRequests}

	// Both credentials exhausted: the client sees a retryable 429 and both
	// rows cool down.
	body := `{"model":"gemini-2.5-pro","messages":[{"role":"user","content":"hi"}]}`
	w := doRequest(h, h.ChatCompletions, http.MethodPost, "/v1/chat/completions", body, activeUser("u1"))
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	require.Equal(t, store.StatusCooling, fb.status("c1"))
	require.Equal(t, store.StatusCooling, fb.status("c2"))
}

func TestRateLimitFailoverSucceedsOnSecondCredential(t *testing.T) {
	fb := newFakeBackend()
	fb.creds["c1"] = cloudCred("c1", "at-1")
	fb.creds["c2"] = cloudCred("c2", "at-2")
	h, up, _ := testHandler(t, fb)
	up.failOnce = &upstream.StatusError{Code: http.StatusTooManyRequests}

	body := `{"model":"gemini-2.5-pro","messages":[{"role":"user","content":"hi"}]}`
	w := doRequest(h, h.ChatCompletions, http.MethodPost, "/v1/chat/completions", body, activeUser("u1"))

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "hello there", gjson.Get(w.Body.String(), "choices.0.message.content").String())
	require.Equal(t, 2, up.generated)

	cooling := 0
	for _, id := range []string{"c1", "c2"} {
		if fb.status(id) == store.StatusCooling {
			cooling++
		}
	}
	require.Equal(t, 1, cooling)
}

func TestPermanentDenialStrikesCredential(t *testing.T) {
	fb := newFakeBackend()
	cred := cloudCred("c1", "at-1")
	cred.FailCount = 1
	fb.creds["c1"] = cred
	h, up, _ := testHandler(t, fb)
	up.failWith["at-1"] = &upstream.StatusError{Code: http.StatusForbidden}

	body := `{"model":"gemini-2.5-pro","messages":[{"role":"user","content":"hi"}]}`
	w := doRequest(h, h.ChatCompletions, http.MethodPost, "/v1/chat/completions", body, activeUser("u1"))

	require.Equal(t, http.StatusBadGateway, w.Code)
	require.Equal(t, store.StatusDead, fb.status("c1"))
}

func TestStreamDeliversSSE(t *testing.T) {
	fb := newFakeBackend()
	fb.creds["c1"] = cloudCred("c1", "at-1")
	h, up, _ := testHandler(t, fb)
	up.chunks = []string{
		`{"candidates":[{"content":{"parts":[{"text":"hel"}]}}]}`,
		`{"candidates":[{"content":{"parts":[{"text":"lo"}]},"finishReason":"STOP"}],"usageMetadata":{"promptTokenCount":3,"candidatesTokenCount":2,"totalTokenCount":5}}`,
	}

	body := `{"model":"gemini-2.5-pro","messages":[{"role":"user","content":"hi"}],"stream":true}`
	w := doRequest(h, h.ChatCompletions, http.MethodPost, "/v1/chat/completions", body, activeUser("u1"))

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	out := w.Body.String()
	require.Contains(t, out, `"content":"hel"`)
	require.Contains(t, out, `"content":"lo"`)
	require.Contains(t, out, `"finish_reason":"stop"`)
	require.True(t, strings.HasSuffix(out, "data: [DONE]\n\n"))
	require.Equal(t, 1, up.streamed)
	require.Equal(t, 0, up.generated)
	require.EqualValues(t, 1, fb.used["u1"])
}

func TestFakeStreamBuffersUpstream(t *testing.T) {
	fb := newFakeBackend()
	fb.creds["c1"] = cloudCred("c1", "at-1")
	h, up, _ := testHandler(t, fb)

	body := `{"model":"gemini-2.5-pro-假流","messages":[{"role":"user","content":"hi"}],"stream":true}`
	w := doRequest(h, h.ChatCompletions, http.MethodPost, "/v1/chat/completions", body, activeUser("u1"))

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	require.Equal(t, 1, up.generated)
	require.Equal(t, 0, up.streamed)
	out := w.Body.String()
	require.Contains(t, out, `"content":"hello there"`)
	require.True(t, strings.HasSuffix(out, "data: [DONE]\n\n"))
}

func TestStreamErrorBeforeBodyFallsBackToJSON(t *testing.T) {
	fb := newFakeBackend()
	fb.creds["c1"] = cloudCred("c1", "at-1")
	h, up, _ := testHandler(t, fb)
	up.failWith["at-1"] = &upstream.StatusError{Code: http.StatusTooManyRequests}

	body := `{"model":"gemini-2.5-pro","messages":[{"role":"user","content":"hi"}],"stream":true}`
	w := doRequest(h, h.ChatCompletions, http.MethodPost, "/v1/chat/completions", body, activeUser("u1"))

	require.Equal(t, http.StatusTooManyRequests, w.Code)
	require.NotEqual(t, "text/event-stream", w.Header().Get("Content-Type"))
}

func TestMessagesRoutesClaudeToAntigravity(t *testing.T) {
	fb := newFakeBackend()
	fb.tokens = []*store.AntigravityToken{{
		ID:           "ag1",
		RefreshToken: "rt|proj|managed",
		AccessToken:  "ag-at",
		ExpiresAt:    time.Now().Add(time.Hour),
		Status:       store.StatusActive,
	}}
	h, up, _ := testHandler(t, fb)

	body := `{"model":"claude-sonnet-4-5","max_tokens":100,"messages":[{"role":"user","content":"hi"}]}`
	w := doRequest(h, h.Messages, http.MethodPost, "/v1/messages", body, activeUser("u1"))

	require.Equal(t, http.StatusOK, w.Code)
	out := w.Body.String()
	require.Equal(t, "message", gjson.Get(out, "type").String())
	require.Equal(t, "hello there", gjson.Get(out, "content.0.text").String())
	require.Equal(t, "end_turn", gjson.Get(out, "stop_reason").String())
	require.Equal(t, 1, up.generated)
}

func TestAntigravityRotatesAcrossTokens(t *testing.T) {
	fb := newFakeBackend()
	for _, id := range []string{"ag1", "ag2"} {
		fb.tokens = append(fb.tokens, &store.AntigravityToken{
			ID:           id,
			RefreshToken: "rt|proj|managed",
			AccessToken:  "at-" + id,
			ExpiresAt:    time.Now().Add(time.Hour),
			Status:       store.StatusActive,
		})
	}
	h, up, _ := testHandler(t, fb)

	body := `{"model":"claude-sonnet-4-5","max_tokens":100,"messages":[{"role":"user","content":"hi"}]}`
	for i := 0; i < 2; i++ {
		w := doRequest(h, h.Messages, http.MethodPost, "/v1/messages", body, activeUser("u1"))
		require.Equal(t, http.StatusOK, w.Code)
	}

	// Back-to-back requests land on different tokens.
	require.Len(t, up.seenAuth, 2)
	require.ElementsMatch(t, []string{"at-ag1", "at-ag2"}, up.seenAuth)
}

func TestAntigravityRefreshesStaleToken(t *testing.T) {
	fb := newFakeBackend()
	fb.tokens = []*store.AntigravityToken{{
		ID:           "ag1",
		RefreshToken: "rt|proj|managed",
		AccessToken:  "stale",
		ExpiresAt:    time.Now().Add(time.Minute), // inside the skew
		Status:       store.StatusActive,
	}}
	h, _, _ := testHandler(t, fb)

	body := `{"model":"claude-sonnet-4-5","max_tokens":100,"messages":[{"role":"user","content":"hi"}]}`
	w := doRequest(h, h.Messages, http.MethodPost, "/v1/messages", body, activeUser("u1"))

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "ag-refreshed", fb.tokens[0].AccessToken)
}

func TestAntigravityRateLimitCools(t *testing.T) {
	fb := newFakeBackend()
	fb.tokens = []*store.AntigravityToken{{
		ID:           "ag1",
		RefreshToken: "rt|proj|",
		AccessToken:  "ag-at",
		ExpiresAt:    time.Now().Add(time.Hour),
		Status:       store.StatusActive,
	}}
	h, up, _ := testHandler(t, fb)
	up.failWith["ag-at"] = &upstream.StatusError{Code: http.StatusTooManyRequests}

	body := `{"model":"claude-sonnet-4-5","max_tokens":100,"messages":[{"role":"user","content":"hi"}]}`
	w := doRequest(h, h.Messages, http.MethodPost, "/v1/messages", body, activeUser("u1"))

	require.Equal(t, http.StatusTooManyRequests, w.Code)
	require.Equal(t, store.StatusCooling, fb.status("ag1"))
}

func TestGeminiNativeActions(t *testing.T) {
	fb := newFakeBackend()
	fb.creds["c1"] = cloudCred("c1", "at-1")
	h, up, _ := testHandler(t, fb)
	up.chunks = []string{`{"candidates":[{"content":{"parts":[{"text":"hi"}]},"finishReason":"STOP"}]}`}

	body := `{"contents":[{"role":"user","parts":[{"text":"hi"}]}]}`

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/v1beta/models/gemini-2.5-pro:generateContent", strings.NewReader(body))
	c.Set(middleware.CtxUser, activeUser("u1"))
	c.Set("user_id", "u1")
	c.Params = gin.Params{{Key: "path", Value: "/gemini-2.5-pro:generateContent"}}
	h.GeminiNative(c)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "hello there", gjson.Get(w.Body.String(), "candidates.0.content.parts.0.text").String())
	require.Equal(t, "STOP", gjson.Get(w.Body.String(), "candidates.0.finishReason").String())

	w2 := httptest.NewRecorder()
	c2, _ := gin.CreateTestContext(w2)
	c2.Request = httptest.NewRequest(http.MethodPost, "/v1beta/models/gemini-2.5-pro:streamGenerateContent?alt=sse", strings.NewReader(body))
	c2.Set(middleware.CtxUser, activeUser("u1"))
	c2.Set("user_id", "u1")
	c2.Params = gin.Params{{Key: "path", Value: "/gemini-2.5-pro:streamGenerateContent"}}
	h.GeminiNative(c2)

	require.Equal(t, http.StatusOK, w2.Code)
	require.Equal(t, "text/event-stream", w2.Header().Get("Content-Type"))
}

func TestV3ModelUsesV3Gate(t *testing.T) {
	fb := newFakeBackend()
	cred := cloudCred("c1", "at-1")
	cred.SupportsV3 = true
	fb.creds["c1"] = cred
	h, _, _ := testHandler(t, fb)
	h.cfg.SetFeatures(config.Features{CLISharedMode: true, EnableGemini3OpenAccess: false})

	body := `{"model":"gemini-3-pro-high","messages":[{"role":"user","content":"hi"}]}`
	w := doRequest(h, h.ChatCompletions, http.MethodPost, "/v1/chat/completions", body, activeUser("u1"))
	require.Equal(t, http.StatusForbidden, w.Code)

	// Flipping open access admits users without a V3 contribution.
	h.cfg.SetFeatures(config.Features{CLISharedMode: true, EnableGemini3OpenAccess: true})
	w2 := doRequest(h, h.ChatCompletions, http.MethodPost, "/v1/chat/completions", body, activeUser("u1"))
	require.Equal(t, http.StatusOK, w2.Code)
}

func TestAdminBypassesGates(t *testing.T) {
	fb := newFakeBackend()
	fb.creds["c1"] = cloudCred("c1", "at-1")
	h, _, _ := testHandler(t, fb)
	h.cfg.SetFeatures(config.Features{CLISharedMode: false, ForceDiscordBind: true})

	admin := &store.User{ID: "root", Username: "root", Role: store.RoleAdmin, Active: true}
	body := `{"model":"gemini-2.5-pro","messages":[{"role":"user","content":"hi"}]}`
	w := doRequest(h, h.ChatCompletions, http.MethodPost, "/v1/chat/completions", body, admin)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestModelsListPerDialect(t *testing.T) {
	fb := newFakeBackend()
	h, _, _ := testHandler(t, fb)

	w := doRequest(h, h.Models("openai"), http.MethodGet, "/v1/models", "", activeUser("u1"))
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "list", gjson.Get(w.Body.String(), "object").String())

	w2 := doRequest(h, h.Models("gemini"), http.MethodGet, "/v1beta/models", "", activeUser("u1"))
	require.True(t, strings.HasPrefix(gjson.Get(w2.Body.String(), "models.0.name").String(), "models/"))

	// format query overrides the route default
	w3 := doRequest(h, h.Models("openai"), http.MethodGet, "/v1/models?format=anthropic", "", activeUser("u1"))
	require.Equal(t, "model", gjson.Get(w3.Body.String(), "data.0.type").String())
}
