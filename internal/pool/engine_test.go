package pool

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"omnirelay-go/internal/constants"
	"omnirelay-go/internal/coordstore"
	"omnirelay-go/internal/oauth"
	"omnirelay-go/internal/store"
)

type fakeStore struct {
	mu    sync.Mutex
	creds map[string]*store.GoogleCredential
}

func newFakeStore(creds ...*store.GoogleCredential) *fakeStore {
	fs := &fakeStore{creds: map[string]*store.GoogleCredential{}}
	for _, c := range creds {
		fs.creds[c.ID] = c
	}
	return fs
}

func (f *fakeStore) ListActiveCredentials(ctx context.Context) ([]*store.GoogleCredential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*store.GoogleCredential
	for _, c := range f.creds {
		if c.Status == store.StatusActive {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeStore) GetCredential(ctx context.Context, id string) (*store.GoogleCredential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.creds[id]
	if !ok {
		return nil, &store.ErrNotFound{Entity: "credential", Key: id}
	}
	cp := *c
	return &cp, nil
}

func (f *fakeStore) UpdateCredentialToken(ctx context.Context, id, accessToken string, expiresAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creds[id].AccessToken = accessToken
	f.creds[id].ExpiresAt = expiresAt
	return nil
}

func (f *fakeStore) SetCredentialCooling(ctx context.Context, id string, resetAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creds[id].Status = store.StatusCooling
	return nil
}

func (f *fakeStore) SetCredentialDead(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creds[id].Status = store.StatusDead
	return nil
}

func (f *fakeStore) RestoreCredential(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creds[id].Status = store.StatusActive
	f.creds[id].FailCount = 0
	return nil
}

func (f *fakeStore) status(id string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.creds[id].Status
}

func activeCred(id string, v3 bool) *store.GoogleCredential {
	return &store.GoogleCredential{
		ID:           id,
		ClientID:     "cid-" + id,
		ClientSecret: "sec",
		RefreshToken: "rt-" + id,
		ProjectID:    "proj-" + id,
		AccessToken:  "at-" + id,
		ExpiresAt:    time.Now().Add(time.Hour),
		SupportsV3:   v3,
		Status:       store.StatusActive,
	}
}

func testEngine(t *testing.T, fs *fakeStore, tokenStatus int) (*Engine, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if tokenStatus != http.StatusOK {
			w.WriteHeader(tokenStatus)
			w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"refreshed-token","expires_in":3600,"token_type":"Bearer"}`))
	}))
	t.Cleanup(srv.Close)

	oa := oauth.NewClient(oauth.WithTokenURL(srv.URL), oauth.WithHTTPClient(srv.Client()))
	return New(fs, coordstore.NewFromClient(rdb), oa), mr
}

func TestSyncPopulatesPools(t *testing.T) {
	fs := newFakeStore(activeCred("a", false), activeCred("b", true))
	e, mr := testEngine(t, fs, http.StatusOK)

	require.NoError(t, e.Sync(context.Background()))

	general, err := mr.List(constants.KeyPoolGeneral)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"a", "b"}, general)
	v3, err := mr.List(constants.KeyPoolV3)
	require.NoError(t, err)
	require.Equal(t, []string{"b"}, v3)
}

func TestAcquireLocksAndReturnsDescriptor(t *testing.T) {
	fs := newFakeStore(activeCred("a", false))
	e, mr := testEngine(t, fs, http.StatusOK)
	ctx := context.Background()
	require.NoError(t, e.Sync(ctx))

	lease, err := e.Acquire(ctx, constants.KeyPoolGeneral, "user1", constants.LockTTLNonStream)
	require.NoError(t, err)
	require.NotNil(t, lease)
	require.Equal(t, "a", lease.CredentialID)
	require.Equal(t, "at-a", lease.AccessToken)
	require.Equal(t, "proj-a", lease.ProjectID)
	holder, err := mr.Get(constants.KeyPrefixCredLock + "a")
	require.NoError(t, err)
	require.Equal(t, "user1", holder)

	lease.Release(ctx)
	require.False(t, mr.Exists(constants.KeyPrefixCredLock+"a"))
}

func TestAcquireSkipsCredentialLockedByOtherUser(t *testing.T) {
	fs := newFakeStore(activeCred("a", false))
	e, _ := testEngine(t, fs, http.StatusOK)
	ctx := context.Background()
	require.NoError(t, e.Sync(ctx))

	first, err := e.Acquire(ctx, constants.KeyPoolGeneral, "user1", constants.LockTTLNonStream)
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := e.Acquire(ctx, constants.KeyPoolGeneral, "user2", constants.LockTTLNonStream)
	require.NoError(t, err)
	require.Nil(t, second)
}

func TestAcquireSameUserExtendsLock(t *testing.T) {
	fs := newFakeStore(activeCred("a", false))
	e, _ := testEngine(t, fs, http.StatusOK)
	ctx := context.Background()
	require.NoError(t, e.Sync(ctx))

	first, err := e.Acquire(ctx, constants.KeyPoolGeneral, "user1", constants.LockTTLNonStream)
	require.NoError(t, err)
	require.NotNil(t, first)

	again, err := e.Acquire(ctx, constants.KeyPoolGeneral, "user1", constants.LockTTLStream)
	require.NoError(t, err)
	require.NotNil(t, again)
	require.Equal(t, "a", again.CredentialID)
}

func TestAcquireSpreadsAcrossUsers(t *testing.T) {
	fs := newFakeStore(activeCred("a", false), activeCred("b", false))
	e, _ := testEngine(t, fs, http.StatusOK)
	ctx := context.Background()
	require.NoError(t, e.Sync(ctx))

	one, err := e.Acquire(ctx, constants.KeyPoolGeneral, "user1", constants.LockTTLNonStream)
	require.NoError(t, err)
	require.NotNil(t, one)
	two, err := e.Acquire(ctx, constants.KeyPoolGeneral, "user2", constants.LockTTLNonStream)
	require.NoError(t, err)
	require.NotNil(t, two)
	require.NotEqual(t, one.CredentialID, two.CredentialID)
}

func TestAcquireRefreshesExpiredToken(t *testing.T) {
	cred := activeCred("a", false)
	cred.ExpiresAt = time.Now().Add(time.Minute) // inside the skew
	fs := newFakeStore(cred)
	e, mr := testEngine(t, fs, http.StatusOK)
	ctx := context.Background()
	require.NoError(t, e.Sync(ctx))

	lease, err := e.Acquire(ctx, constants.KeyPoolGeneral, "user1", constants.LockTTLNonStream)
	require.NoError(t, err)
	require.NotNil(t, lease)
	require.Equal(t, "refreshed-token", lease.AccessToken)

	stored, err := fs.GetCredential(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, "refreshed-token", stored.AccessToken)
	require.True(t, time.Until(stored.ExpiresAt) > 50*time.Minute)

	cached, err := mr.Get(tokenCacheKey(cred.ClientID, cred.RefreshToken))
	require.NoError(t, err)
	require.Equal(t, "refreshed-token", cached)
}

func TestAcquireMarksDeadOnPermanentRefreshFailure(t *testing.T) {
	cred := activeCred("a", false)
	cred.AccessToken = ""
	fs := newFakeStore(cred)
	e, mr := testEngine(t, fs, http.StatusBadRequest)
	ctx := context.Background()
	require.NoError(t, e.Sync(ctx))

	lease, err := e.Acquire(ctx, constants.KeyPoolGeneral, "user1", constants.LockTTLNonStream)
	require.NoError(t, err)
	require.Nil(t, lease)
	require.Equal(t, store.StatusDead, fs.status("a"))

	// Redis deletes a list key once it is emptied, so miniredis reports
	// ErrKeyNotFound for a fully drained pool.
	general, err := mr.List(constants.KeyPoolGeneral)
	if err != nil {
		require.ErrorIs(t, err, miniredis.ErrKeyNotFound)
	}
	require.NotContains(t, general, "a")
}

func TestAcquireSkipsDemotedCredential(t *testing.T) {
	cred := activeCred("a", false)
	fs := newFakeStore(cred)
	e, mr := testEngine(t, fs, http.StatusOK)
	ctx := context.Background()
	require.NoError(t, e.Sync(ctx))

	// Demote after the pool was built, as a concurrent transition would.
	fs.mu.Lock()
	fs.creds["a"].Status = store.StatusCooling
	fs.mu.Unlock()

	lease, err := e.Acquire(ctx, constants.KeyPoolGeneral, "user1", constants.LockTTLNonStream)
	require.NoError(t, err)
	require.Nil(t, lease)

	general, err := mr.List(constants.KeyPoolGeneral)
	if err != nil {
		require.ErrorIs(t, err, miniredis.ErrKeyNotFound)
	}
	require.NotContains(t, general, "a")
}

func TestMarkCoolingAndRestore(t *testing.T) {
	cred := activeCred("a", true)
	fs := newFakeStore(cred)
	e, mr := testEngine(t, fs, http.StatusOK)
	ctx := context.Background()
	require.NoError(t, e.Sync(ctx))

	require.NoError(t, e.MarkCooling(ctx, "a", nil))
	require.Equal(t, store.StatusCooling, fs.status("a"))
	general, err := mr.List(constants.KeyPoolGeneral)
	if err != nil {
		require.ErrorIs(t, err, miniredis.ErrKeyNotFound)
	}
	require.NotContains(t, general, "a")
	members, err := mr.Members(constants.KeyCoolingSet)
	require.NoError(t, err)
	require.Contains(t, members, "a")

	require.NoError(t, e.Restore(ctx, "a", true))
	require.Equal(t, store.StatusActive, fs.status("a"))
	general, err = mr.List(constants.KeyPoolGeneral)
	require.NoError(t, err)
	require.Contains(t, general, "a")
	v3, err := mr.List(constants.KeyPoolV3)
	require.NoError(t, err)
	require.Contains(t, v3, "a")
	members, err = mr.Members(constants.KeyCoolingSet)
	if err != nil {
		require.ErrorIs(t, err, miniredis.ErrKeyNotFound)
	}
	require.NotContains(t, members, "a")
}

func TestAcquireEmptyPoolResyncs(t *testing.T) {
	fs := newFakeStore(activeCred("a", false))
	e, _ := testEngine(t, fs, http.StatusOK)
	ctx := context.Background()

	// No explicit Sync; Acquire must rebuild from the store.
	lease, err := e.Acquire(ctx, constants.KeyPoolGeneral, "user1", constants.LockTTLNonStream)
	require.NoError(t, err)
	require.NotNil(t, lease)
	require.Equal(t, "a", lease.CredentialID)
}
