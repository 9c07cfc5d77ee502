package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/SandeepBunny16/secure-tempmail/internal/config"
	"github.com/SandeepBunny16/secure-tempmail/internal/domain"
	"github.com/SandeepBunny16/secure-tempmail/internal/monitoring"
	"github.com/SandeepBunny16/secure-tempmail/internal/storage"
)

// ExpiredInboxStore 是清理任务需要的持久化操作
type ExpiredInboxStore interface {
	ListExpiredInboxes(ctx context.Context, now time.Time, limit int) ([]domain.Inbox, error)
	CountMessages(ctx context.Context, inboxID string) (int64, error)
	DeleteInbox(ctx context.Context, id string) (int64, error)
}

// CycleResult 一轮清理的统计
type CycleResult struct {
	Inboxes  int64 // 删除的收件箱数
	Messages int64 // 删除的邮件数
	Failed   int   // 删除失败、留待下一轮的收件箱数
	Duration time.Duration
}

// Reaper 周期性删除过期收件箱
//
// 持久化存储是唯一的删除依据；索引键只是顺带清理。
type Reaper struct {
	store    ExpiredInboxStore
	index    storage.FastIndex
	cfg      config.ReaperConfig
	recorder *monitoring.Recorder
	log      *zap.Logger
	now      func() time.Time
}

// NewReaper 创建清理任务
func NewReaper(
	store ExpiredInboxStore,
	index storage.FastIndex,
	cfg config.ReaperConfig,
	recorder *monitoring.Recorder,
	log *zap.Logger,
) *Reaper {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 1
	}
	return &Reaper{
		store:    store,
		index:    index,
		cfg:      cfg,
		recorder: recorder,
		log:      log.Named("reaper"),
		now:      time.Now,
	}
}

// Run 立即执行一轮，之后每个周期执行一次，直到 ctx 取消
//
// 单轮失败按固定间隔重试；重试耗尽只记录日志，不会退出循环。
func (r *Reaper) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	r.log.Info("starting expired inbox reaper",
		zap.Duration("interval", r.cfg.Interval),
		zap.Int("batch_size", r.cfg.BatchSize),
	)

	for {
		if _, err := r.runCycleWithRetry(ctx); err != nil && ctx.Err() == nil {
			r.log.Error("reaper cycle failed after retries", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			r.log.Info("reaper stopped")
			return nil
		case <-ticker.C:
		}
	}
}

func (r *Reaper) runCycleWithRetry(ctx context.Context) (CycleResult, error) {
	return backoff.Retry(ctx,
		func() (CycleResult, error) {
			return r.RunCycle(ctx)
		},
		backoff.WithBackOff(backoff.NewConstantBackOff(r.cfg.RetryBackoff)),
		backoff.WithMaxTries(uint(r.cfg.MaxRetries)),
		backoff.WithNotify(func(err error, next time.Duration) {
			r.log.Warn("reaper cycle failed, retrying", zap.Error(err), zap.Duration("retry_in", next))
		}),
	)
}

// RunCycle 执行一轮清理
//
// 只有列出过期收件箱失败时返回错误；单个收件箱失败会被记录并跳过。
func (r *Reaper) RunCycle(ctx context.Context) (CycleResult, error) {
	start := r.now()
	var result CycleResult

	inboxes, err := r.store.ListExpiredInboxes(ctx, start.UTC(), r.cfg.BatchSize)
	if err != nil {
		result.Duration = time.Since(start)
		r.recorder.ReaperError()
		r.recorder.ReaperCycle(0, 0, result.Duration, true)
		return result, fmt.Errorf("list expired inboxes: %w", err)
	}

	for i := range inboxes {
		if ctx.Err() != nil {
			break
		}
		inbox := &inboxes[i]

		deleted, err := r.reapInbox(ctx, inbox)
		if err != nil {
			result.Failed++
			r.recorder.ReaperError()
			r.log.Error("failed to reap inbox",
				zap.String("inbox_id", inbox.ID),
				zap.Error(err),
			)
			continue
		}
		result.Inboxes++
		result.Messages += deleted
	}

	result.Duration = time.Since(start)
	r.recorder.ReaperCycle(result.Inboxes, result.Messages, result.Duration, false)
	if result.Inboxes > 0 || result.Failed > 0 {
		r.log.Info("expired inboxes reaped",
			zap.Int64("inboxes", result.Inboxes),
			zap.Int64("messages", result.Messages),
			zap.Int("failed", result.Failed),
			zap.Duration("duration", result.Duration),
		)
	}
	return result, nil
}

// reapInbox 删除单个收件箱，返回删除的邮件数
func (r *Reaper) reapInbox(ctx context.Context, inbox *domain.Inbox) (int64, error) {
	expected, err := r.store.CountMessages(ctx, inbox.ID)
	if err != nil {
		return 0, err
	}

	if err := r.index.PurgeInbox(ctx, inbox.ID, inbox.Address); err != nil {
		r.recorder.IndexFailure("purge")
		r.log.Warn("failed to purge index keys", zap.String("inbox_id", inbox.ID), zap.Error(err))
	}

	deleted, err := r.store.DeleteInbox(ctx, inbox.ID)
	if errors.Is(err, domain.ErrInboxNotFound) {
		// 另一个实例已删除
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	r.log.Debug("inbox reaped",
		zap.String("inbox_id", inbox.ID),
		zap.Int64("messages", deleted),
		zap.Int64("expected", expected),
	)
	return deleted, nil
}
