package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	gosmtp "github.com/emersion/go-smtp"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/SandeepBunny16/secure-tempmail/internal/bootstrap"
	"github.com/SandeepBunny16/secure-tempmail/internal/config"
	"github.com/SandeepBunny16/secure-tempmail/internal/crypto"
	"github.com/SandeepBunny16/secure-tempmail/internal/health"
	"github.com/SandeepBunny16/secure-tempmail/internal/logger"
	"github.com/SandeepBunny16/secure-tempmail/internal/monitoring"
	"github.com/SandeepBunny16/secure-tempmail/internal/security"
	"github.com/SandeepBunny16/secure-tempmail/internal/service"
	"github.com/SandeepBunny16/secure-tempmail/internal/smtp"
	httptransport "github.com/SandeepBunny16/secure-tempmail/internal/transport/http"
	"github.com/SandeepBunny16/secure-tempmail/internal/worker"
)

// shutdownTimeout 优雅关闭的最长等待时间
const shutdownTimeout = 15 * time.Second

// main 启动 SMTP 收信、过期清理与运维 HTTP 服务。
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	if cfg.Log.Development {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer func() { _ = log.Sync() }()

	log.Info("starting tempmail ingestion server",
		zap.String("smtp_addr", cfg.SMTP.BindAddr),
		zap.String("inbox_domain", cfg.Inbox.Domain),
		zap.String("database", cfg.Database.Type),
		zap.Bool("redis", cfg.Redis.Enabled),
	)

	if err := run(cfg, log); err != nil {
		log.Fatal("server error", zap.Error(err))
	}
	log.Info("server exited cleanly")
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	vault, err := crypto.NewVault(cfg.Crypto.EncryptionKey)
	if err != nil {
		return fmt.Errorf("init crypto vault: %w", err)
	}
	defer vault.Close()

	stores, err := bootstrap.OpenStores(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := stores.Close(); err != nil {
			log.Warn("failed to close stores", zap.Error(err))
		}
	}()

	metrics := monitoring.NewMetrics()
	recorder, stopRecorder := bootstrap.StartRecorder(context.Background(), cfg.Metrics, metrics, log)
	defer stopRecorder()

	// 服务层
	admission := service.NewAdmissionController(stores.Index, stores.Store, service.AdmissionOptions{
		MaxMessages:     cfg.Inbox.MaxMessages,
		MaxMessageBytes: cfg.Inbox.MaxMessageBytes,
		ConfirmMisses:   stores.ConfirmMisses,
		MissConfirmRate: cfg.Redis.MissConfirmRate,
	}, recorder, log)
	messages := service.NewMessageService(service.MessageServiceDeps{
		Store:     stores.Store,
		Index:     stores.Index,
		Cipher:    vault,
		Sanitizer: security.NewSanitizer(),
		Inspector: security.NewInspector(),
		Quota:     cfg.Inbox.MaxMessages,
		Recorder:  recorder,
		Log:       log,
	})
	reaper := worker.NewReaper(stores.Store, stores.Index, cfg.Reaper, recorder, log)

	// SMTP
	backend := smtp.NewBackend(admission, messages,
		smtp.NewConnectionLimiter(cfg.SMTP.MaxConnections, cfg.SMTP.ConnectionRate),
		recorder, log, smtp.BackendOptions{
			MaxMessageBytes: cfg.Inbox.MaxMessageBytes,
			ProcessTimeout:  cfg.SMTP.ProcessTimeout,
		})
	smtpServer := smtp.NewServer(cfg.SMTP, backend)

	// 运维 HTTP
	checker := health.NewChecker(stores.Store, stores.Index, metrics.Registry(), log)
	httpServer := httptransport.NewServer(cfg.Server, httptransport.NewRouter(httptransport.RouterDependencies{
		Metrics: metrics,
		Health:  checker,
		Logger:  log,
	}))

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		log.Info("starting SMTP server", zap.String("address", smtpServer.Addr), zap.String("domain", smtpServer.Domain))
		if err := smtpServer.ListenAndServe(); err != nil && !errors.Is(err, gosmtp.ErrServerClosed) {
			return fmt.Errorf("smtp server: %w", err)
		}
		return nil
	})

	group.Go(func() error {
		log.Info("starting ops HTTP server", zap.String("address", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	group.Go(func() error {
		return reaper.Run(groupCtx)
	})

	group.Go(func() error {
		return stores.RunIndexSweeper(groupCtx, time.Minute, log)
	})

	// 优雅关闭
	group.Go(func() error {
		<-groupCtx.Done()
		log.Info("shutdown signal received, gracefully shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := smtpServer.Shutdown(shutdownCtx); err != nil {
			log.Warn("SMTP server shutdown", zap.Error(err))
			_ = smtpServer.Close()
		}
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Warn("HTTP server shutdown", zap.Error(err))
		}

		log.Info("servers stopped")
		return nil
	})

	return group.Wait()
}
