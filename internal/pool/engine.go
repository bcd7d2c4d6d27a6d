// Package pool implements the shared credential pools: two ordered queues
// of credential ids in the coordination store, rotated tail-to-head on
// acquisition so concurrent callers fan out across credentials. Status
// transitions (cooling, dead, restore) keep the queues and the persistent
// rows in step.
package pool

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"omnirelay-go/internal/constants"
	"omnirelay-go/internal/coordstore"
	"omnirelay-go/internal/oauth"
	"omnirelay-go/internal/store"
	"omnirelay-go/internal/timeutil"
)

// CredentialStore is the slice of the persistent store the engine needs.
// *store.Store satisfies it.
type CredentialStore interface {
	ListActiveCredentials(ctx context.Context) ([]*store.GoogleCredential, error)
	GetCredential(ctx context.Context, id string) (*store.GoogleCredential, error)
	UpdateCredentialToken(ctx context.Context, id, accessToken string, expiresAt time.Time) error
	SetCredentialCooling(ctx context.Context, id string, resetAt time.Time) error
	SetCredentialDead(ctx context.Context, id string) error
	RestoreCredential(ctx context.Context, id string) error
}

// Engine coordinates credential selection across all proxy instances.
type Engine struct {
	db    CredentialStore
	coord *coordstore.Client
	oauth *oauth.Client
}

// New builds an Engine over the given stores.
func New(db CredentialStore, coord *coordstore.Client, oa *oauth.Client) *Engine {
	return &Engine{db: db, coord: coord, oauth: oa}
}

// Lease is an acquired credential plus the lock protecting it.
type Lease struct {
	CredentialID string
	AccessToken  string
	ProjectID    string

	holder string
	engine *Engine
}

// Release gives the lock back. Safe to call after the lock already
// expired; only the holder's value is deleted.
func (l *Lease) Release(ctx context.Context) {
	if err := l.engine.coord.ReleaseLock(ctx, lockKey(l.CredentialID), l.holder); err != nil {
		log.WithError(err).WithField("credential", l.CredentialID).Warn("lock release failed")
	}
}

func lockKey(id string) string {
	return constants.KeyPrefixCredLock + id
}

// Sync rebuilds both pools from the persistent store. ACTIVE credentials
// enter the general pool; those with supports_v3 also enter the V3 pool.
func (e *Engine) Sync(ctx context.Context) error {
	creds, err := e.db.ListActiveCredentials(ctx)
	if err != nil {
		return err
	}
	general := make([]string, 0, len(creds))
	v3 := make([]string, 0)
	for _, c := range creds {
		general = append(general, c.ID)
		if c.SupportsV3 {
			v3 = append(v3, c.ID)
		}
	}
	if err := e.coord.PoolReplace(ctx, constants.KeyPoolGeneral, general); err != nil {
		return err
	}
	if err := e.coord.PoolReplace(ctx, constants.KeyPoolV3, v3); err != nil {
		return err
	}
	log.WithFields(log.Fields{"general": len(general), "v3": len(v3)}).Info("credential pools synced")
	return nil
}

// Acquire selects the next usable credential from the pool and locks it
// for userID. Returns nil when no credential can serve the request.
func (e *Engine) Acquire(ctx context.Context, poolKey, userID string, ttl time.Duration) (*Lease, error) {
	n, err := e.coord.PoolLen(ctx, poolKey)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		if err := e.Sync(ctx); err != nil {
			return nil, err
		}
		if n, err = e.coord.PoolLen(ctx, poolKey); err != nil || n == 0 {
			return nil, err
		}
	}

	maxAttempts := int(n) + 2
	for attempt := 0; attempt < maxAttempts; attempt++ {
		id, err := e.coord.RotateTail(ctx, poolKey)
		if err != nil {
			return nil, err
		}
		if id == "" {
			return nil, nil
		}

		holder, err := e.coord.LockHolder(ctx, lockKey(id))
		if err != nil {
			return nil, err
		}
		if holder != "" && holder != userID {
			continue
		}

		cred, err := e.db.GetCredential(ctx, id)
		if err != nil {
			if _, ok := err.(*store.ErrNotFound); ok {
				e.removeFromPools(ctx, id)
				continue
			}
			return nil, err
		}
		if cred.Status != store.StatusActive {
			e.removeFromPools(ctx, id)
			continue
		}

		token, err := e.freshToken(ctx, cred)
		if err != nil {
			if oauth.IsPermanent(err) {
				log.WithField("credential", id).Warn("refresh rejected, marking dead")
				if derr := e.MarkDead(ctx, id); derr != nil {
					log.WithError(derr).WithField("credential", id).Error("mark dead failed")
				}
			}
			continue
		}

		ok, err := e.coord.AcquireLock(ctx, lockKey(id), userID, ttl)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}

		return &Lease{
			CredentialID: id,
			AccessToken:  token,
			ProjectID:    cred.ProjectID,
			holder:       userID,
			engine:       e,
		}, nil
	}
	return nil, nil
}

// MarkCooling demotes a credential until resetAt (or the next UTC+7
// midnight when the upstream gave no hint) and removes it from rotation.
func (e *Engine) MarkCooling(ctx context.Context, id string, resetAt *time.Time) error {
	until := timeutil.NextCoolingMidnight(time.Now())
	if resetAt != nil {
		until = *resetAt
	}
	if err := e.db.SetCredentialCooling(ctx, id, until); err != nil {
		return err
	}
	e.removeFromPools(ctx, id)
	if err := e.coord.SetAdd(ctx, constants.KeyCoolingSet, id); err != nil {
		return err
	}
	log.WithFields(log.Fields{"credential": id, "until": until}).Info("credential cooling")
	return nil
}

// MarkDead retires a credential permanently.
func (e *Engine) MarkDead(ctx context.Context, id string) error {
	if err := e.db.SetCredentialDead(ctx, id); err != nil {
		return err
	}
	e.removeFromPools(ctx, id)
	if err := e.coord.SetRemove(ctx, constants.KeyCoolingSet, id); err != nil {
		return err
	}
	log.WithField("credential", id).Warn("credential dead")
	return nil
}

// Restore returns a cooled credential to rotation.
func (e *Engine) Restore(ctx context.Context, id string, supportsV3 bool) error {
	if err := e.db.RestoreCredential(ctx, id); err != nil {
		return err
	}
	if err := e.coord.SetRemove(ctx, constants.KeyCoolingSet, id); err != nil {
		return err
	}
	if err := e.coord.PoolPush(ctx, constants.KeyPoolGeneral, id); err != nil {
		return err
	}
	if supportsV3 {
		if err := e.coord.PoolPush(ctx, constants.KeyPoolV3, id); err != nil {
			return err
		}
	}
	log.WithField("credential", id).Info("credential restored")
	return nil
}

func (e *Engine) removeFromPools(ctx context.Context, id string) {
	for _, pool := range []string{constants.KeyPoolGeneral, constants.KeyPoolV3} {
		if err := e.coord.PoolRemove(ctx, pool, id); err != nil {
			log.WithError(err).WithFields(log.Fields{"credential": id, "pool": pool}).Warn("pool remove failed")
		}
	}
}
