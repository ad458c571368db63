package util

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// SeenCache remembers identities the durable ledger already admitted so
// replays can be dropped without a database round trip. It is only a fast
// path: a miss or a redis failure always falls through to the ledger.
type SeenCache struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewSeenCache(rdb *redis.Client, ttl time.Duration, logger *zap.Logger) *SeenCache {
	return &SeenCache{rdb: rdb, ttl: ttl, logger: logger}
}

func seenKey(scope, id string) string {
	return fmt.Sprintf("seen:%s:%s", scope, id)
}

// Seen reports whether id was remembered under scope.
func (c *SeenCache) Seen(ctx context.Context, scope, id string) bool {
	if c == nil || c.rdb == nil {
		return false
	}
	n, err := c.rdb.Exists(ctx, seenKey(scope, id)).Result()
	if err != nil {
		c.logger.Warn("Redis seen check failed, falling back to ledger",
			zap.String("scope", scope),
			zap.String("id", id),
			zap.Error(err),
		)
		return false
	}
	return n > 0
}

// Remember records id under scope. Call it only after the ledger commit.
func (c *SeenCache) Remember(ctx context.Context, scope, id string) {
	if c == nil || c.rdb == nil {
		return
	}
	if err := c.rdb.Set(ctx, seenKey(scope, id), 1, c.ttl).Err(); err != nil {
		c.logger.Warn("Redis seen write failed",
			zap.String("scope", scope),
			zap.String("id", id),
			zap.Error(err),
		)
	}
}

// Forget drops id so the next Seen asks the ledger again.
func (c *SeenCache) Forget(ctx context.Context, scope, id string) {
	if c == nil || c.rdb == nil {
		return
	}
	if err := c.rdb.Del(ctx, seenKey(scope, id)).Err(); err != nil {
		c.logger.Warn("Redis seen delete failed",
			zap.String("scope", scope),
			zap.String("id", id),
			zap.Error(err),
		)
	}
}
