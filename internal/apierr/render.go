package apierr

import "net/http"

// Dialect selects the error envelope shape.
type Dialect string

const (
	DialectOpenAI    Dialect = "openai"
	DialectGemini    Dialect = "gemini"
	DialectAnthropic Dialect = "anthropic"
)

// googleStatusFor maps HTTP statuses onto google.rpc status strings.
func googleStatusFor(code int) string {
	switch code {
	case http.StatusBadRequest:
		return "INVALID_ARGUMENT"
	case http.StatusUnauthorized:
		return "UNAUTHENTICATED"
	case http.StatusForbidden, http.StatusPaymentRequired:
		return "PERMISSION_DENIED"
	case http.StatusNotFound:
		return "NOT_FOUND"
	case http.StatusTooManyRequests:
		return "RESOURCE_EXHAUSTED"
	case http.StatusBadGateway, http.StatusServiceUnavailable:
		return "UNAVAILABLE"
	default:
		return "INTERNAL"
	}
}

// anthropicTypeFor translates the taxonomy onto Anthropic's error type names.
func anthropicTypeFor(kind Kind) string {
	switch kind {
	case KindAuthentication:
		return "authentication_error"
	case KindPermission:
		return "permission_error"
	case KindRateLimit:
		return "rate_limit_error"
	case KindInvalidRequest:
		return "invalid_request_error"
	case KindQuotaExceeded:
		return "permission_error"
	case KindUpstream:
		return "api_error"
	default:
		return "api_error"
	}
}

// Render produces the JSON-serializable envelope for the given dialect.
func (e *APIError) Render(d Dialect) map[string]interface{} {
	switch d {
	case DialectGemini:
		return map[string]interface{}{
			"error": map[string]interface{}{
				"code":    e.HTTPStatus,
				"message": e.Message,
				"status":  googleStatusFor(e.HTTPStatus),
			},
		}
	case DialectAnthropic:
		return map[string]interface{}{
			"type": "error",
			"error": map[string]interface{}{
				"type":    anthropicTypeFor(e.Kind),
				"message": e.Message,
			},
		}
	default:
		return map[string]interface{}{
			"error": map[string]interface{}{
				"message": e.Message,
				"type":    string(e.Kind),
			},
		}
	}
}
