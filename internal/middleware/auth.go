package middleware

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"

	"omnirelay-go/internal/apierr"
	"omnirelay-go/internal/dialect"
	"omnirelay-go/internal/store"
)

// KeyStore resolves API keys to users. *store.Store satisfies it.
type KeyStore interface {
	GetAPIKey(ctx context.Context, key string) (*store.APIKey, error)
	GetUser(ctx context.Context, id string) (*store.User, error)
}

// Context keys set by APIKeyAuth.
const (
	CtxUser       = "user"
	CtxAPIKeyType = "api_key_type"
)

// ExtractKey pulls the bearer credential from any of the supported
// locations: Authorization, x-api-key, x-goog-api-key, or ?key=.
func ExtractKey(c *gin.Context) string {
	if h := c.GetHeader("Authorization"); h != "" {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	if k := c.GetHeader("x-api-key"); k != "" {
		return k
	}
	if k := c.GetHeader("x-goog-api-key"); k != "" {
		return k
	}
	return c.Query("key")
}

// ErrDialect picks the error envelope shape from request headers.
func ErrDialect(c *gin.Context) apierr.Dialect {
	switch dialect.DetectHeaders(c.Request.Header) {
	case dialect.Gemini:
		return apierr.DialectGemini
	case dialect.Anthropic:
		return apierr.DialectAnthropic
	default:
		return apierr.DialectOpenAI
	}
}

// Abort renders an APIError in the caller's dialect and stops the chain.
func Abort(c *gin.Context, e *apierr.APIError) {
	c.AbortWithStatusJSON(e.HTTPStatus, e.Render(ErrDialect(c)))
}

// APIKeyAuth authenticates the request and loads the owning user into the
// context.
func APIKeyAuth(keys KeyStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := ExtractKey(c)
		if key == "" {
			Abort(c, apierr.Authentication("missing API key"))
			return
		}

		apiKey, err := keys.GetAPIKey(c.Request.Context(), key)
		if err != nil {
			Abort(c, apierr.Authentication("invalid API key"))
			return
		}
		if !apiKey.Active {
			Abort(c, apierr.Authentication("API key disabled"))
			return
		}

		user, err := keys.GetUser(c.Request.Context(), apiKey.UserID)
		if err != nil || !user.Active {
			Abort(c, apierr.Authentication("account disabled"))
			return
		}

		c.Set(CtxUser, user)
		c.Set("user_id", user.ID)
		c.Set(CtxAPIKeyType, apiKey.Type)
		c.Next()
	}
}

// UserFrom reads the authenticated user set by APIKeyAuth.
func UserFrom(c *gin.Context) *store.User {
	if v, ok := c.Get(CtxUser); ok {
		if u, ok := v.(*store.User); ok {
			return u
		}
	}
	return nil
}

// IsAdminKey reports whether the request authenticated with an ADMIN key.
func IsAdminKey(c *gin.Context) bool {
	return c.GetString(CtxAPIKeyType) == store.KeyTypeAdmin
}
