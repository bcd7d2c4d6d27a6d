package apierr

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConstructors(t *testing.T) {
	t.Parallel()
	require.Equal(t, http.StatusUnauthorized, Authentication("no key").HTTPStatus)
	require.Equal(t, http.StatusPaymentRequired, QuotaExceeded("spent").HTTPStatus)
	require.True(t, RateLimited("slow down").Retryable)
	require.True(t, Upstream("bad gateway").Retryable)
	require.False(t, Permission("nope").Retryable)
}

func TestFromPassthroughAndDefault(t *testing.T) {
	t.Parallel()
	orig := RateLimited("x")
	require.Same(t, orig, From(orig))

	wrapped := From(errors.New("boom"))
	require.Equal(t, KindServer, wrapped.Kind)
	require.Equal(t, http.StatusInternalServerError, wrapped.HTTPStatus)
	require.Nil(t, From(nil))
}

func TestRenderDialects(t *testing.T) {
	t.Parallel()
	e := RateLimited("per-minute limit reached")

	oai := e.Render(DialectOpenAI)
	inner := oai["error"].(map[string]interface{})
	require.Equal(t, "rate_limit_error", inner["type"])

	gem := e.Render(DialectGemini)
	ginner := gem["error"].(map[string]interface{})
	require.Equal(t, 429, ginner["code"])
	require.Equal(t, "RESOURCE_EXHAUSTED", ginner["status"])

	ant := e.Render(DialectAnthropic)
	require.Equal(t, "error", ant["type"])
	ainner := ant["error"].(map[string]interface{})
	require.Equal(t, "rate_limit_error", ainner["type"])
}

func TestRenderQuotaExceededAnthropic(t *testing.T) {
	t.Parallel()
	e := QuotaExceeded("daily quota exhausted")
	ainner := e.Render(DialectAnthropic)["error"].(map[string]interface{})
	require.Equal(t, "permission_error", ainner["type"])
}
