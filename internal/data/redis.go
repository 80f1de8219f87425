package data

import (
	"context"
	"time"

	"ConnectorLane/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/redis/go-redis/v9"
)

// NewRedisClient creates the Redis client backing the offline queue.
// It returns nil when the queue store is not redis. A failed ping is logged
// and the client is still returned; the queue degrades to memory until Redis
// answers.
func NewRedisClient(c *conf.Data, q *conf.Queue, logger log.Logger) (*redis.Client, func(), error) {
	helper := log.NewHelper(logger)

	if q != nil && q.Store != "redis" {
		return nil, func() {}, nil
	}
	if c == nil || c.Redis == nil || c.Redis.Addr == "" {
		helper.Warnw("msg", "Redis address is empty, skipping Redis initialization")
		return nil, func() {}, nil
	}

	network := c.Redis.Network
	if network == "" {
		network = "tcp"
	}

	rdb := redis.NewClient(&redis.Options{
		Network:         network,
		Addr:            c.Redis.Addr,
		Password:        c.Redis.Password,
		DB:              c.Redis.DB,
		PoolSize:        20,
		MinIdleConns:    2,
		DialTimeout:     3 * time.Second,
		ReadTimeout:     c.Redis.ReadTimeout,
		WriteTimeout:    c.Redis.WriteTimeout,
		ConnMaxIdleTime: 5 * time.Minute,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		helper.Warnw("msg", "failed to connect to Redis (degraded mode: queue stays in memory until it recovers)",
			"addr", c.Redis.Addr,
			"error", err)
	} else {
		helper.Infow("msg", "connected to Redis", "addr", c.Redis.Addr)
	}

	cleanup := func() {
		helper.Info("closing Redis client")
		if err := rdb.Close(); err != nil {
			helper.Errorf("failed to close Redis client: %v", err)
		}
	}

	return rdb, cleanup, nil
}
