package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"runtime"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"omnirelay-go/internal/constants"
	"omnirelay-go/internal/oauth"
)

// Antigravity talks to the second upstream family. Same wrapper protocol
// as Cloud Code, different base URL and header fingerprint, and its own
// OAuth credential family with composite refresh tokens.
type Antigravity struct {
	base  string
	hc    *http.Client
	oauth *oauth.Client
}

// NewAntigravity builds a client for the given base URL.
func NewAntigravity(base, proxyURL string, oa *oauth.Client) *Antigravity {
	return &Antigravity{base: strings.TrimRight(base, "/"), hc: newHTTPClient(proxyURL), oauth: oa}
}

func platformUserAgent() string {
	return fmt.Sprintf("antigravity/1.16.5 %s/%s", runtime.GOOS, runtime.GOARCH)
}

func (c *Antigravity) applyHeaders(req *http.Request, auth Auth) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+auth.AccessToken)
	req.Header.Set("User-Agent", platformUserAgent())
	req.Header.Set("X-Goog-Api-Client", "google-cloud-sdk vscode_cloudshelleditor/0.1")
	req.Header.Set("Client-Metadata", "ideType=IDE_ANTIGRAVITY,platform=PLATFORM_UNSPECIFIED,pluginType=GEMINI")
}

// RefreshToken exchanges a (possibly composite "token|project|managed")
// refresh token. The project id embedded in the composite form is returned
// so callers can persist it alongside the fresh access token.
func (c *Antigravity) RefreshToken(ctx context.Context, clientID, clientSecret, composite string) (*oauth.RefreshedToken, string, error) {
	refreshToken, projectID, managed := oauth.SplitCompositeRefresh(composite)
	if managed != "" {
		projectID = managed
	}
	ctx, cancel := context.WithTimeout(ctx, constants.OAuthRefreshTimeout)
	defer cancel()
	tok, err := c.oauth.RefreshForm(ctx, clientID, clientSecret, refreshToken)
	if err != nil {
		return nil, "", err
	}
	return tok, projectID, nil
}

// Generate runs a non-stream call, retrying transient failures in place.
func (c *Antigravity) Generate(ctx context.Context, auth Auth, model string, geminiReq []byte) ([]byte, error) {
	body := wrapBody(model, auth, geminiReq)
	endpoint := c.base + "/v1internal:generateContent"

	var lastErr error
	for attempt := 0; attempt < constants.MaxTransientAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(constants.RetryBackoff[attempt-1]):
			}
		}
		raw, err := c.postJSON(ctx, endpoint, auth, body)
		if err == nil {
			return raw, nil
		}
		lastErr = err
		if !Transient(err) {
			return nil, err
		}
		log.WithError(err).WithField("attempt", attempt+1).Warn("antigravity transient failure")
	}
	return nil, lastErr
}

func (c *Antigravity) postJSON(ctx context.Context, endpoint string, auth Auth, body []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.NonStreamTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	c.applyHeaders(req, auth)

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		se := &StatusError{Code: resp.StatusCode, Body: raw}
		if resp.StatusCode == http.StatusTooManyRequests {
			se.ResetAt = parseRetryAfter(resp.Header)
		}
		return nil, se
	}
	return raw, nil
}

// Stream opens the SSE stream and hands each JSON chunk to fn.
func (c *Antigravity) Stream(ctx context.Context, auth Auth, model string, geminiReq []byte, fn func(chunk []byte) error) error {
	body := wrapBody(model, auth, geminiReq)
	endpoint := c.base + "/v1internal:streamGenerateContent?alt=sse"
	return streamSSE(ctx, c.hc, endpoint, body, func(req *http.Request) { c.applyHeaders(req, auth) }, fn)
}

// ModelQuota is one model's remaining allowance from fetchAvailableModels.
type ModelQuota struct {
	RemainingFraction *float64   `json:"remainingFraction"`
	ResetTime         *time.Time `json:"resetTime"`
}

type fetchModelsResponse struct {
	Models map[string]struct {
		QuotaInfo *ModelQuota `json:"quotaInfo"`
	} `json:"models"`
}

// FetchQuotas reads the per-model quota summary for one token. A missing
// remainingFraction with a resetTime present means the quota is exhausted.
func (c *Antigravity) FetchQuotas(ctx context.Context, auth Auth) (map[string]ModelQuota, error) {
	body := map[string]string{}
	if auth.ProjectID != "" {
		body["project"] = auth.ProjectID
	}
	payload, _ := json.Marshal(body)

	raw, err := c.postJSON(ctx, c.base+"/v1internal:fetchAvailableModels", auth, payload)
	if err != nil {
		return nil, err
	}

	var parsed fetchModelsResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("decode quota summary: %w", err)
	}

	out := make(map[string]ModelQuota, len(parsed.Models))
	for id, m := range parsed.Models {
		if m.QuotaInfo == nil {
			continue
		}
		q := *m.QuotaInfo
		if q.RemainingFraction == nil && q.ResetTime != nil {
			zero := 0.0
			q.RemainingFraction = &zero
		}
		out[id] = q
	}
	return out, nil
}
