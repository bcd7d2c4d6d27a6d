package oauth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRefreshFormSuccess(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		require.Equal(t, "refresh_token", r.Form.Get("grant_type"))
		require.Equal(t, "rt-1", r.Form.Get("refresh_token"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"at-new","expires_in":3599,"token_type":"Bearer"}`))
	}))
	defer srv.Close()

	c := NewClient(WithTokenURL(srv.URL))
	tok, err := c.RefreshForm(context.Background(), "cid", "sec", "rt-1")
	require.NoError(t, err)
	require.Equal(t, "at-new", tok.AccessToken)
	require.WithinDuration(t, time.Now().Add(3599*time.Second), tok.ExpiresAt, 5*time.Second)
}

func TestRefreshFormPermanentOn400And401(t *testing.T) {
	t.Parallel()
	for _, code := range []int{http.StatusBadRequest, http.StatusUnauthorized} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(code)
			_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
		}))
		c := NewClient(WithTokenURL(srv.URL))
		_, err := c.RefreshForm(context.Background(), "cid", "sec", "rt-x")
		require.Error(t, err)
		require.True(t, IsPermanent(err), "status %d should be permanent", code)
		srv.Close()
	}
}

func TestRefreshFormTransientOn500(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(WithTokenURL(srv.URL))
	_, err := c.RefreshForm(context.Background(), "cid", "sec", "rt-x")
	require.Error(t, err)
	require.False(t, IsPermanent(err))
}

func TestRefreshViaOauth2Permanent(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"invalid_client"}`))
	}))
	defer srv.Close()

	c := NewClient(WithTokenURL(srv.URL))
	_, err := c.Refresh(context.Background(), "cid", "sec", "rt-1")
	require.Error(t, err)
	require.True(t, IsPermanent(err))
}

func TestProbeUserInfoStatus(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer at-1", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := NewClient(WithUserInfoURL(srv.URL))
	code, err := c.ProbeUserInfo(context.Background(), "at-1")
	require.NoError(t, err)
	require.Equal(t, http.StatusForbidden, code)
}

func TestSplitCompositeRefresh(t *testing.T) {
	t.Parallel()
	rt, proj, managed := SplitCompositeRefresh("tok|proj-1|managed-2")
	require.Equal(t, "tok", rt)
	require.Equal(t, "proj-1", proj)
	require.Equal(t, "managed-2", managed)

	rt, proj, managed = SplitCompositeRefresh("solo")
	require.Equal(t, "solo", rt)
	require.Empty(t, proj)
	require.Empty(t, managed)
}
