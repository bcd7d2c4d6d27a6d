package oauth

import (
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"
)

// tokenResponse mirrors the OAuth token endpoint payload.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

func parseTokenResponse(body []byte) (*RefreshedToken, error) {
	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, fmt.Errorf("decode token response: %w", err)
	}
	if tr.AccessToken == "" {
		return nil, fmt.Errorf("token response missing access_token")
	}
	expiresIn := tr.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = 3600
	}
	return &RefreshedToken{
		AccessToken: tr.AccessToken,
		ExpiresAt:   time.Now().Add(time.Duration(expiresIn) * time.Second),
	}, nil
}

func newFormReader(form url.Values) io.Reader {
	return strings.NewReader(form.Encode())
}

func truncate(b []byte, max int) string {
	if len(b) <= max {
		return string(b)
	}
	return string(b[:max]) + "..."
}

// SplitCompositeRefresh parses the Antigravity composite refresh token form
// "refreshToken|projectId|managedProjectId".
func SplitCompositeRefresh(composite string) (refreshToken, projectID, managedProjectID string) {
	parts := strings.Split(composite, "|")
	if len(parts) > 0 {
		refreshToken = parts[0]
	}
	if len(parts) > 1 {
		projectID = parts[1]
	}
	if len(parts) > 2 {
		managedProjectID = parts[2]
	}
	return refreshToken, projectID, managedProjectID
}
