package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/SandeepBunny16/secure-tempmail/internal/config"
)

// 启动时连接 Redis 的重试参数
const (
	dialAttempts  = 5
	dialTimeout   = 3 * time.Second
	dialMaxWait   = 5 * time.Second
	indexPoolSize = 16
)

// Client 持有到快速索引的连接
type Client struct {
	rdb *goredis.Client
	log *zap.Logger
}

// New 连接 Redis，启动阶段按指数退避重试
func New(ctx context.Context, cfg *config.RedisConfig, log *zap.Logger) (*Client, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  dialTimeout,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
		PoolSize:     indexPoolSize,
	})

	policy := backoff.NewExponentialBackOff()
	policy.MaxInterval = dialMaxWait

	_, err := backoff.Retry(ctx,
		func() (struct{}, error) {
			pingCtx, cancel := context.WithTimeout(ctx, dialTimeout)
			defer cancel()
			return struct{}{}, rdb.Ping(pingCtx).Err()
		},
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(dialAttempts),
		backoff.WithNotify(func(err error, next time.Duration) {
			log.Warn("redis not reachable yet", zap.String("address", cfg.Address), zap.Error(err), zap.Duration("retry_in", next))
		}),
	)
	if err != nil {
		_ = rdb.Close()
		return nil, indexErr("dial", fmt.Errorf("%s: %w", cfg.Address, err))
	}

	log.Info("fast index connected", zap.String("address", cfg.Address), zap.Int("db", cfg.DB))
	return &Client{rdb: rdb, log: log}, nil
}

// NewFromClient 包装现成的 go-redis 客户端
func NewFromClient(rdb *goredis.Client, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{rdb: rdb, log: log}
}

// Ping 探测索引是否可用
func (c *Client) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return indexErr("ping", err)
	}
	return nil
}

// Close 释放连接池
func (c *Client) Close() error {
	if err := c.rdb.Close(); err != nil {
		return indexErr("close", err)
	}
	c.log.Debug("fast index connection closed")
	return nil
}
