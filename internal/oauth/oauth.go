// Package oauth refreshes access tokens for both upstream credential
// families. Refresh failures are split into permanent (400/401 from the
// token endpoint: the grant is revoked or malformed) and transient
// (everything else); callers kill credentials only on permanent failures.
package oauth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"omnirelay-go/internal/constants"
)

// Token endpoints and probe URLs.
const (
	GoogleTokenURL     = "https://oauth2.googleapis.com/token"
	DefaultUserInfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"
)

// RefreshedToken is the outcome of a successful refresh.
type RefreshedToken struct {
	AccessToken string
	ExpiresAt   time.Time
}

// PermanentError marks a refresh failure that will never heal on retry.
type PermanentError struct {
	StatusCode int
	Inner      error
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("permanent refresh failure (status %d): %v", e.StatusCode, e.Inner)
}

func (e *PermanentError) Unwrap() error { return e.Inner }

// IsPermanent reports whether err is a permanent refresh failure.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// Client refreshes tokens against a configurable endpoint (tests point it at
// an httptest server).
type Client struct {
	httpClient  *http.Client
	tokenURL    string
	userInfoURL string
}

// Option customizes Client creation.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client used for outbound calls.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithTokenURL overrides the token endpoint.
func WithTokenURL(u string) Option {
	return func(c *Client) {
		if u != "" {
			c.tokenURL = u
		}
	}
}

// WithUserInfoURL overrides the userinfo probe endpoint.
func WithUserInfoURL(u string) Option {
	return func(c *Client) {
		if u != "" {
			c.userInfoURL = u
		}
	}
}

// NewClient builds a refresh client with Google defaults.
func NewClient(opts ...Option) *Client {
	c := &Client{
		httpClient:  &http.Client{Timeout: constants.OAuthRefreshTimeout},
		tokenURL:    GoogleTokenURL,
		userInfoURL: DefaultUserInfoURL,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Refresh exchanges a refresh token for a fresh access token.
func (c *Client) Refresh(ctx context.Context, clientID, clientSecret, refreshToken string) (*RefreshedToken, error) {
	cfg := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint: oauth2.Endpoint{
			AuthURL:  google.Endpoint.AuthURL,
			TokenURL: c.tokenURL,
		},
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)

	src := cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, classifyRefreshError(err)
	}
	return &RefreshedToken{AccessToken: tok.AccessToken, ExpiresAt: tok.Expiry}, nil
}

func classifyRefreshError(err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil {
		code := re.Response.StatusCode
		if code == http.StatusBadRequest || code == http.StatusUnauthorized {
			return &PermanentError{StatusCode: code, Inner: err}
		}
	}
	return fmt.Errorf("token refresh: %w", err)
}

// ProbeUserInfo performs the health-check GET against the userinfo endpoint
// with the given access token and returns the HTTP status.
func (c *Client) ProbeUserInfo(ctx context.Context, accessToken string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.userInfoURL, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	return resp.StatusCode, nil
}

// RefreshForm performs a raw refresh_token grant without client secrets in
// oauth2.Config form, for the Antigravity family whose refresh tokens embed
// project routing as composite values.
func (c *Client) RefreshForm(ctx context.Context, clientID, clientSecret, refreshToken string) (*RefreshedToken, error) {
	form := url.Values{
		"client_id":     {clientID},
		"client_secret": {clientSecret},
		"refresh_token": {refreshToken},
		"grant_type":    {"refresh_token"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, nil)
	if err != nil {
		return nil, err
	}
	req.Body = io.NopCloser(newFormReader(form))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token refresh: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode != http.StatusOK {
		inner := fmt.Errorf("token endpoint returned %d: %s", resp.StatusCode, truncate(body, 256))
		if resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnauthorized {
			return nil, &PermanentError{StatusCode: resp.StatusCode, Inner: inner}
		}
		return nil, inner
	}
	return parseTokenResponse(body)
}
