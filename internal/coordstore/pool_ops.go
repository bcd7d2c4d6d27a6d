package coordstore

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// Pool operations. A pool is an ordered Redis list of credential ids; the
// atomic tail-to-head rotate guarantees two concurrent acquirers observe
// distinct candidates.

// RotateTail pops the tail of the pool and pushes it back onto the head,
// returning the rotated id. Empty pool returns ("", nil).
func (c *Client) RotateTail(ctx context.Context, pool string) (string, error) {
	id, err := c.rdb.RPopLPush(ctx, pool, pool).Result()
	if err == redis.Nil {
		return "", nil
	}
	return id, err
}

// PoolLen reports the pool size.
func (c *Client) PoolLen(ctx context.Context, pool string) (int64, error) {
	return c.rdb.LLen(ctx, pool).Result()
}

// PoolMembers lists the whole pool in order.
func (c *Client) PoolMembers(ctx context.Context, pool string) ([]string, error) {
	return c.rdb.LRange(ctx, pool, 0, -1).Result()
}

// PoolReplace clears the pool and pushes ids in order, atomically via a
// pipeline so readers never observe a half-built pool.
func (c *Client) PoolReplace(ctx context.Context, pool string, ids []string) error {
	pipe := c.rdb.TxPipeline()
	pipe.Del(ctx, pool)
	if len(ids) > 0 {
		args := make([]interface{}, len(ids))
		for i, id := range ids {
			args[i] = id
		}
		pipe.RPush(ctx, pool, args...)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// PoolRemove deletes every occurrence of id from the pool.
func (c *Client) PoolRemove(ctx context.Context, pool, id string) error {
	return c.rdb.LRem(ctx, pool, 0, id).Err()
}

// PoolPush appends id to the pool tail unless already present.
func (c *Client) PoolPush(ctx context.Context, pool, id string) error {
	members, err := c.PoolMembers(ctx, pool)
	if err != nil {
		return err
	}
	for _, m := range members {
		if m == id {
			return nil
		}
	}
	return c.rdb.RPush(ctx, pool, id).Err()
}

// Set operations back the COOLING_SET.

// SetAdd adds members to a set.
func (c *Client) SetAdd(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	return c.rdb.SAdd(ctx, key, args...).Err()
}

// SetRemove removes members from a set.
func (c *Client) SetRemove(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	return c.rdb.SRem(ctx, key, args...).Err()
}

// SetMembers lists a set.
func (c *Client) SetMembers(ctx context.Context, key string) ([]string, error) {
	return c.rdb.SMembers(ctx, key).Result()
}
