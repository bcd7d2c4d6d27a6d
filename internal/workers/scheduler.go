// Package workers runs the scheduled maintenance jobs: the daily usage
// reset, cooling restore sweeps, credential health checks and the
// Antigravity quota cache refresh.
package workers

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"omnirelay-go/internal/constants"
	"omnirelay-go/internal/coordstore"
	"omnirelay-go/internal/oauth"
	"omnirelay-go/internal/store"
	"omnirelay-go/internal/timeutil"
	"omnirelay-go/internal/upstream"
)

// Store is the slice of the persistent store the jobs need.
// *store.Store satisfies it.
type Store interface {
	ResetAllTodayUsed(ctx context.Context) (int64, error)

	ListCoolingExpired(ctx context.Context, now time.Time) ([]*store.GoogleCredential, error)
	ListCredentialsForHealthCheck(ctx context.Context) ([]*store.GoogleCredential, error)
	UpdateCredentialToken(ctx context.Context, id, accessToken string, expiresAt time.Time) error
	BumpCredentialFailCount(ctx context.Context, id string) (int, error)
	ResetCredentialFailCount(ctx context.Context, id string) error

	ListAntigravityCoolingExpired(ctx context.Context, now time.Time) ([]*store.AntigravityToken, error)
	ListAntigravityForHealthCheck(ctx context.Context) ([]*store.AntigravityToken, error)
	ListUsableAntigravityTokens(ctx context.Context) ([]*store.AntigravityToken, error)
	RestoreAntigravityToken(ctx context.Context, id string) error
	UpdateAntigravityToken(ctx context.Context, id, accessToken string, expiresAt time.Time) error
	SetAntigravityDead(ctx context.Context, id string) error
	BumpAntigravityFailCount(ctx context.Context, id string) (int, error)
	ResetAntigravityFailCount(ctx context.Context, id string) error
}

// Pool is the credential pool surface the jobs drive.
type Pool interface {
	Sync(ctx context.Context) error
	Restore(ctx context.Context, id string, supportsV3 bool) error
	MarkDead(ctx context.Context, id string) error
}

// OAuthProbe covers the token exchange and identity probe for Google
// credentials.
type OAuthProbe interface {
	Refresh(ctx context.Context, clientID, clientSecret, refreshToken string) (*oauth.RefreshedToken, error)
	ProbeUserInfo(ctx context.Context, accessToken string) (int, error)
}

// AntigravityProbe covers the second family's refresh, trivial chat and
// quota summary calls.
type AntigravityProbe interface {
	RefreshToken(ctx context.Context, clientID, clientSecret, composite string) (*oauth.RefreshedToken, string, error)
	Generate(ctx context.Context, auth upstream.Auth, model string, geminiReq []byte) ([]byte, error)
	FetchQuotas(ctx context.Context, auth upstream.Auth) (map[string]upstream.ModelQuota, error)
}

// Scheduler owns the background jobs. Jobs are exported so tests and
// admin tooling can trigger a single run.
type Scheduler struct {
	db    Store
	pool  Pool
	coord *coordstore.Client
	oauth OAuthProbe
	anti  AntigravityProbe

	// probe pacing, shrunk in tests
	googleJitterMin time.Duration
	googleJitterMax time.Duration
	antiJitterMin   time.Duration
	antiJitterMax   time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a Scheduler with production pacing.
func New(db Store, pool Pool, coord *coordstore.Client, oa OAuthProbe, anti AntigravityProbe) *Scheduler {
	return &Scheduler{
		db:              db,
		pool:            pool,
		coord:           coord,
		oauth:           oa,
		anti:            anti,
		googleJitterMin: constants.GoogleProbeJitterMin,
		googleJitterMax: constants.GoogleProbeJitterMax,
		antiJitterMin:   constants.AntigravityProbeJitterMin,
		antiJitterMax:   constants.AntigravityProbeJitterMax,
	}
}

// Start launches all job loops. Stop cancels them and waits.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	s.loop(ctx, "daily_reset", s.untilStatsMidnight, s.RunDailyReset)
	s.loop(ctx, "cooling_restore", fixed(constants.CoolingRestoreInterval), s.RunCoolingRestore)
	s.loop(ctx, "google_health", s.untilHealthCheckHour, s.RunGoogleHealthCheck)
	s.loop(ctx, "antigravity_health", s.untilHealthCheckHour, s.RunAntigravityHealthCheck)
	s.loop(ctx, "quota_refresh", fixed(constants.QuotaRefreshInterval), s.RunQuotaRefresh)
}

// Stop cancels the loops and waits for in-flight runs to finish.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func fixed(d time.Duration) func() time.Duration {
	return func() time.Duration { return d }
}

func (s *Scheduler) untilStatsMidnight() time.Duration {
	return time.Until(timeutil.NextStatsMidnight(time.Now()))
}

// Health checks run at 03:00 in the stats zone, a quiet hour for the
// upstream.
func (s *Scheduler) untilHealthCheckHour() time.Duration {
	return time.Until(timeutil.NextClockIn(time.Now(), 3, 0, timeutil.StatsZone))
}

func (s *Scheduler) loop(ctx context.Context, name string, next func() time.Duration, job func(ctx context.Context)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			wait := next()
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
			log.WithField("job", name).Debug("scheduled job starting")
			job(ctx)
		}
	}()
}

// RunDailyReset zeroes every user's today_used at the stats-zone
// midnight.
func (s *Scheduler) RunDailyReset(ctx context.Context) {
	n, err := s.db.ResetAllTodayUsed(ctx)
	if err != nil {
		log.WithError(err).Error("daily usage reset failed")
		return
	}
	log.WithField("users", n).Info("daily usage counters reset")
}

// RunCoolingRestore returns credentials whose cooling window has lapsed
// to their pools.
func (s *Scheduler) RunCoolingRestore(ctx context.Context) {
	now := time.Now()

	creds, err := s.db.ListCoolingExpired(ctx, now)
	if err != nil {
		log.WithError(err).Error("cooling sweep query failed")
	} else {
		for _, c := range creds {
			if err := s.pool.Restore(ctx, c.ID, c.SupportsV3); err != nil {
				log.WithError(err).WithField("credential", c.ID).Error("cooling restore failed")
				continue
			}
			log.WithField("credential", c.ID).Info("credential restored from cooling")
		}
	}

	tokens, err := s.db.ListAntigravityCoolingExpired(ctx, now)
	if err != nil {
		log.WithError(err).Error("antigravity cooling sweep query failed")
		return
	}
	for _, t := range tokens {
		if err := s.db.RestoreAntigravityToken(ctx, t.ID); err != nil {
			log.WithError(err).WithField("token", t.ID).Error("antigravity restore failed")
			continue
		}
		log.WithField("token", t.ID).Info("antigravity token restored from cooling")
	}
}
