// Package upstream executes requests against the two generation backends:
// Cloud Code and Antigravity. Both speak the v1internal wrapper protocol;
// they differ in base URL, header fingerprint and credential family.
// Transient failures retry in place with a fixed backoff schedule; status
// codes that demand a credential state change surface as *StatusError for
// the router to act on.
package upstream

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"omnirelay-go/internal/constants"
)

// Auth carries the per-request upstream identity.
type Auth struct {
	AccessToken string
	ProjectID   string
}

// StatusError is a non-2xx upstream reply.
type StatusError struct {
	Code int
	Body []byte

	// ResetAt is the parsed Retry-After hint on 429s, when present.
	ResetAt *time.Time
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream status %d: %s", e.Code, truncateBody(e.Body))
}

func truncateBody(b []byte) string {
	const max = 200
	if len(b) <= max {
		return string(b)
	}
	return string(b[:max]) + "..."
}

// Transient reports whether the error is worth retrying on the same
// credential: network failures and 5xx replies.
func Transient(err error) bool {
	if se, ok := err.(*StatusError); ok {
		return se.Code >= 500 && se.Code <= 599
	}
	return err != nil
}

// newHTTPClient builds the shared transport. An explicit proxy URL wins
// over the environment.
func newHTTPClient(proxyURL string) *http.Client {
	tr := &http.Transport{
		Proxy: proxyFunc(proxyURL),
		DialContext: (&net.Dialer{
			Timeout:   constants.DialTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   constants.TLSHandshakeTimeout,
		ExpectContinueTimeout: constants.ExpectContinueWait,
		MaxIdleConns:          constants.MaxIdleConns,
		MaxIdleConnsPerHost:   constants.MaxIdleConnsPerHost,
		IdleConnTimeout:       constants.IdleConnTimeout,
	}
	return &http.Client{Transport: tr}
}

func proxyFunc(proxyURL string) func(*http.Request) (*url.URL, error) {
	if proxyURL != "" {
		if parsed, err := url.Parse(proxyURL); err == nil {
			return http.ProxyURL(parsed)
		}
	}
	return http.ProxyFromEnvironment
}

// parseRetryAfter reads a Retry-After header as either delay seconds or an
// HTTP date.
func parseRetryAfter(h http.Header) *time.Time {
	raw := h.Get("Retry-After")
	if raw == "" {
		return nil
	}
	if secs, err := strconv.Atoi(raw); err == nil && secs > 0 {
		t := time.Now().Add(time.Duration(secs) * time.Second)
		return &t
	}
	if t, err := http.ParseTime(raw); err == nil {
		return &t
	}
	return nil
}
