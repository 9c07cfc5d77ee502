// Package bootstrap 组装各进程共用的存储与指标组件。
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/SandeepBunny16/secure-tempmail/internal/config"
	"github.com/SandeepBunny16/secure-tempmail/internal/monitoring"
	"github.com/SandeepBunny16/secure-tempmail/internal/pool"
	"github.com/SandeepBunny16/secure-tempmail/internal/storage"
	"github.com/SandeepBunny16/secure-tempmail/internal/storage/memory"
	redisindex "github.com/SandeepBunny16/secure-tempmail/internal/storage/redis"
	sqlstore "github.com/SandeepBunny16/secure-tempmail/internal/storage/sql"
)

// Stores 持久化存储与快速索引
type Stores struct {
	Store *sqlstore.Store
	Index storage.FastIndex
	// ConfirmMisses 为 true 表示使用进程内索引，未命中需要回查持久化存储
	ConfirmMisses bool

	closers []func() error
}

// OpenStores 按配置打开持久化存储和快速索引
//
// Redis 关闭时退回进程内索引，只适用于单实例部署。
func OpenStores(ctx context.Context, cfg *config.Config, log *zap.Logger) (*Stores, error) {
	store, err := sqlstore.Open(ctx, &cfg.Database, log.Named("store"))
	if err != nil {
		return nil, fmt.Errorf("open durable store: %w", err)
	}
	s := &Stores{Store: store}
	s.closers = append(s.closers, store.Close)

	if !cfg.Redis.Enabled {
		log.Warn("redis disabled, using in-process index")
		s.Index = memory.NewIndex()
		s.ConfirmMisses = true
		return s, nil
	}

	client, err := redisindex.New(ctx, &cfg.Redis, log.Named("index"))
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("open fast index: %w", err)
	}
	s.Index = redisindex.NewIndex(client)
	s.closers = append(s.closers, client.Close)
	return s, nil
}

// RunIndexSweeper 定期清理进程内索引中的过期条目；Redis 索引直接返回
func (s *Stores) RunIndexSweeper(ctx context.Context, interval time.Duration, log *zap.Logger) error {
	idx, ok := s.Index.(*memory.Index)
	if !ok {
		return nil
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := idx.Sweep(); n > 0 {
				log.Debug("expired index entries swept", zap.Int("count", n))
			}
		}
	}
}

// Close 按打开的逆序关闭
func (s *Stores) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

// StartRecorder 启动异步指标记录器，返回的 stop 会等待队列中的事件写完
func StartRecorder(ctx context.Context, cfg config.MetricsConfig, metrics *monitoring.Metrics, log *zap.Logger) (*monitoring.Recorder, func()) {
	if cfg.Workers <= 0 {
		return monitoring.NewRecorder(metrics, nil, log), func() {}
	}

	workers := pool.NewWorkerPool(cfg.Workers, cfg.QueueSize, log.Named("recorder"))
	workers.Start(ctx)
	return monitoring.NewRecorder(metrics, workers, log), workers.Stop
}
