package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/SandeepBunny16/secure-tempmail/internal/bootstrap"
	"github.com/SandeepBunny16/secure-tempmail/internal/config"
	"github.com/SandeepBunny16/secure-tempmail/internal/health"
	"github.com/SandeepBunny16/secure-tempmail/internal/logger"
	"github.com/SandeepBunny16/secure-tempmail/internal/monitoring"
	httptransport "github.com/SandeepBunny16/secure-tempmail/internal/transport/http"
	"github.com/SandeepBunny16/secure-tempmail/internal/worker"
)

// main 单独运行过期收件箱清理任务。
//
// 与 server 共用 Redis 时可以独立扩缩；使用进程内索引时应由 server 自行清理。
func main() {
	once := flag.Bool("once", false, "只执行一轮清理后退出")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	gin.SetMode(gin.ReleaseMode)

	log, err := logger.New(cfg.Log)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log, *once); err != nil {
		log.Fatal("worker error", zap.Error(err))
	}
	log.Info("worker exited cleanly")
}

func run(cfg *config.Config, log *zap.Logger, once bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stores, err := bootstrap.OpenStores(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() { _ = stores.Close() }()
	if stores.ConfirmMisses {
		log.Warn("worker running with in-process index, only durable rows will be reaped")
	}

	metrics := monitoring.NewMetrics()
	recorder, stopRecorder := bootstrap.StartRecorder(context.Background(), cfg.Metrics, metrics, log)
	defer stopRecorder()

	reaper := worker.NewReaper(stores.Store, stores.Index, cfg.Reaper, recorder, log)

	if once {
		result, err := reaper.RunCycle(ctx)
		if err != nil {
			return err
		}
		log.Info("single reaper cycle finished",
			zap.Int64("inboxes", result.Inboxes),
			zap.Int64("messages", result.Messages),
			zap.Int("failed", result.Failed),
		)
		return nil
	}

	httpServer := httptransport.NewServer(cfg.Server, httptransport.NewRouter(httptransport.RouterDependencies{
		Metrics: metrics,
		Health:  health.NewChecker(stores.Store, stores.Index, metrics.Registry(), log),
		Logger:  log,
	}))

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return reaper.Run(groupCtx)
	})

	group.Go(func() error {
		log.Info("starting ops HTTP server", zap.String("address", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	return group.Wait()
}
