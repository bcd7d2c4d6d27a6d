package coordstore

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Credential locks are fairness devices: the value is the holder's user id
// and the TTL bounds how long a dead handler can pin a credential. Release
// must be compare-and-delete so only the holder can unlock.

var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// AcquireLock takes key for holder with NX+PX semantics. When the lock is
// already held by the same holder the TTL is extended and the acquire
// succeeds; a different holder fails the acquire.
func (c *Client) AcquireLock(ctx context.Context, key, holder string, ttl time.Duration) (bool, error) {
	ok, err := c.rdb.SetNX(ctx, key, holder, ttl).Result()
	if err != nil {
		return false, err
	}
	if ok {
		return true, nil
	}
	current, err := c.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		// raced with expiry, one more shot
		return c.rdb.SetNX(ctx, key, holder, ttl).Result()
	}
	if err != nil {
		return false, err
	}
	if current == holder {
		if err := c.rdb.PExpire(ctx, key, ttl).Err(); err != nil {
			return false, err
		}
		return true, nil
	}
	return false, nil
}

// LockHolder reports the current holder of key ("" when unlocked).
func (c *Client) LockHolder(ctx context.Context, key string) (string, error) {
	v, err := c.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", nil
	}
	return v, err
}

// ReleaseLock deletes key only when held by holder.
func (c *Client) ReleaseLock(ctx context.Context, key, holder string) error {
	return releaseScript.Run(ctx, c.rdb, []string{key}, holder).Err()
}
