package antifraud

import (
	"context"

	"growth-pipeline/pkg/rediskey"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// PublishInvalidate asks every instance to drop its cached config.
func PublishInvalidate(ctx context.Context, rdb *redis.Client) error {
	return rdb.Publish(ctx, rediskey.AntifraudInvalidateChannel(), "1").Err()
}

// listenInvalidate drops the cached config on every message until ctx is
// done.
func listenInvalidate(ctx context.Context, rdb *redis.Client, cache ConfigCache) {
	sub := rdb.Subscribe(ctx, rediskey.AntifraudInvalidateChannel())
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-ch:
			if !ok {
				return
			}
			cache.Invalidate()
			zap.L().Info("antifraud config cache invalidated")
		}
	}
}
