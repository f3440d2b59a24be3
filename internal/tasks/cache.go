package tasks

import (
	"context"
	"errors"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// versionTTL bounds how long an id's version counter outlives its last write.
const versionTTL = 24 * time.Hour

// CachedRepo serves Get from Redis and evicts the entry on Update and
// Delete. List, Create and Ping go straight to the wrapped repository.
//
// Every eviction bumps a per-id version counter. A Get only caches what it
// read from the store if the counter did not move in the meantime, so a read
// that races a write never puts the old document back.
type CachedRepo struct {
	Repository
	redis *redis.Client
	ttl   time.Duration
}

func NewCachedRepo(base Repository, client *redis.Client, ttl time.Duration) *CachedRepo {
	if base == nil {
		panic("tasks.NewCachedRepo: base repository is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &CachedRepo{Repository: base, redis: client, ttl: ttl}
}

func (c *CachedRepo) Get(ctx context.Context, id primitive.ObjectID) (Task, error) {
	if c.redis == nil {
		return c.Repository.Get(ctx, id)
	}
	t, hit, err := c.load(ctx, id)
	if hit {
		return t, nil
	}
	if err != nil {
		// Redis is unreachable: serve from the store and leave the cache alone.
		return c.Repository.Get(ctx, id)
	}

	ver, err := c.redis.Get(ctx, taskVersionKey(id)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return c.Repository.Get(ctx, id)
	}

	t, err = c.Repository.Get(ctx, id)
	if err != nil {
		return Task{}, err
	}
	c.store(ctx, id, ver, t)
	return t, nil
}

func (c *CachedRepo) Update(ctx context.Context, id primitive.ObjectID, fields map[string]any) (UpdateResult, error) {
	res, err := c.Repository.Update(ctx, id, fields)
	if err != nil {
		return res, err
	}
	c.evict(ctx, id)
	return res, nil
}

func (c *CachedRepo) Delete(ctx context.Context, id primitive.ObjectID) error {
	if err := c.Repository.Delete(ctx, id); err != nil {
		return err
	}
	c.evict(ctx, id)
	return nil
}

// load reports a hit, a miss (nil error) or a Redis failure.
func (c *CachedRepo) load(ctx context.Context, id primitive.ObjectID) (Task, bool, error) {
	data, err := c.redis.Get(ctx, taskCacheKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Task{}, false, nil
	}
	if err != nil {
		return Task{}, false, err
	}
	var t Task
	if err := sonic.ConfigStd.Unmarshal(data, &t); err != nil {
		_ = c.redis.Del(ctx, taskCacheKey(id)).Err()
		return Task{}, false, nil
	}
	return t, true, nil
}

// store caches t unless the version of id has changed since ver was read.
func (c *CachedRepo) store(ctx context.Context, id primitive.ObjectID, ver string, t Task) {
	data, err := sonic.ConfigStd.Marshal(t)
	if err != nil {
		return
	}
	verKey := taskVersionKey(id)
	_ = c.redis.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, verKey).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if cur != ver {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, taskCacheKey(id), data, c.ttl)
			return nil
		})
		return err
	}, verKey)
}

func (c *CachedRepo) evict(ctx context.Context, id primitive.ObjectID) {
	if c.redis == nil {
		return
	}
	verKey := taskVersionKey(id)
	_, _ = c.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, verKey)
		pipe.Expire(ctx, verKey, versionTTL)
		pipe.Del(ctx, taskCacheKey(id))
		return nil
	})
}

func taskCacheKey(id primitive.ObjectID) string {
	return "tasks:task:" + id.Hex()
}

func taskVersionKey(id primitive.ObjectID) string {
	return "tasks:task:" + id.Hex() + ":version"
}
