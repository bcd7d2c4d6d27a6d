package upstream

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"runtime"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"omnirelay-go/internal/constants"
)

// CloudCode talks to the Gemini Code Assist internal API.
type CloudCode struct {
	base string
	hc   *http.Client
}

// NewCloudCode builds a client for the given base URL.
func NewCloudCode(base, proxyURL string) *CloudCode {
	return &CloudCode{base: strings.TrimRight(base, "/"), hc: newHTTPClient(proxyURL)}
}

// cliUserAgent mimics the Gemini CLI fingerprint the upstream expects.
func cliUserAgent() string {
	return fmt.Sprintf("gemini-code-assist-cli/1.0.0 (%s; %s) %s", runtime.GOOS, runtime.GOARCH, runtime.Version())
}

func (c *CloudCode) applyHeaders(req *http.Request, auth Auth) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+auth.AccessToken)
	req.Header.Set("User-Agent", cliUserAgent())
	gv := strings.TrimPrefix(runtime.Version(), "go")
	req.Header.Set("X-Goog-Api-Client", "gl-go/"+gv)
	req.Header.Set("Client-Metadata", "ideType=IDE_UNSPECIFIED,platform=PLATFORM_UNSPECIFIED,pluginType=GEMINI")
}

// wrapBody builds the v1internal envelope around a Gemini-shaped request.
func wrapBody(model string, auth Auth, geminiReq []byte) []byte {
	wrapper := map[string]interface{}{
		"model":          model,
		"user_prompt_id": uuid.NewString(),
		"request":        json.RawMessage(geminiReq),
	}
	if auth.ProjectID != "" {
		wrapper["project"] = auth.ProjectID
	}
	out, _ := json.Marshal(wrapper)
	return out
}

// Generate runs a non-stream call and returns the raw upstream JSON.
// 5xx and network failures retry in place with backoff; everything else
// returns immediately.
func (c *CloudCode) Generate(ctx context.Context, auth Auth, model string, geminiReq []byte) ([]byte, error) {
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
		log.WithError(err).WithField("attempt", attempt+1).Warn("cloudcode transient failure")
	}
	return nil, lastErr
}

func (c *CloudCode) postJSON(ctx context.Context, endpoint string, auth Auth, body []byte) ([]byte, error) {
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

// Stream opens the SSE stream and hands each JSON chunk to fn. The pump
// stops on fn error, stream end, or context cancellation.
func (c *CloudCode) Stream(ctx context.Context, auth Auth, model string, geminiReq []byte, fn func(chunk []byte) error) error {
	body := wrapBody(model, auth, geminiReq)
	endpoint := c.base + "/v1internal:streamGenerateContent?alt=sse"
	return streamSSE(ctx, c.hc, endpoint, body, func(req *http.Request) { c.applyHeaders(req, auth) }, fn)
}

// streamSSE is the shared pump for both upstream families.
func streamSSE(ctx context.Context, hc *http.Client, endpoint string, body []byte, decorate func(*http.Request), fn func(chunk []byte) error) error {
	ctx, cancel := context.WithTimeout(ctx, constants.StreamTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	decorate(req)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		se := &StatusError{Code: resp.StatusCode, Body: raw}
		if resp.StatusCode == http.StatusTooManyRequests {
			se.ResetAt = parseRetryAfter(resp.Header)
		}
		return se
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		payload := strings.TrimPrefix(line, "data: ")
		if payload == "" || payload == "[DONE]" {
			continue
		}
		if err := fn([]byte(payload)); err != nil {
			return err
		}
	}
	return scanner.Err()
}
