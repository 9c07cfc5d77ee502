package health

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/heptiolabs/healthcheck"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// DefaultTimeout 单个检查的超时时间
const DefaultTimeout = 3 * time.Second

// maxGoroutines 超过该数量视为进程不健康
const maxGoroutines = 10000

// Pinger 可探测连通性的依赖
type Pinger interface {
	Ping(ctx context.Context) error
}

// Checker 健康检查器
//
// 持久化存储不可用时 not ready；快速索引不可用只会降级，不影响就绪状态。
type Checker struct {
	handler healthcheck.Handler
	store   Pinger
	index   Pinger
	timeout time.Duration
	logger  *zap.Logger
}

// NewChecker 创建健康检查器
//
// 参数:
//   - store: 持久化存储
//   - index: 快速索引，可为 nil
//   - registry: 检查结果以 gauge 形式注册到该 registry，可为 nil
//   - logger: 日志记录器
func NewChecker(store, index Pinger, registry prometheus.Registerer, logger *zap.Logger) *Checker {
	if logger == nil {
		logger = zap.NewNop()
	}

	handler := healthcheck.NewHandler()
	if registry != nil {
		handler = healthcheck.NewMetricsHandler(registry, "tempmail")
	}

	hc := &Checker{
		handler: handler,
		store:   store,
		index:   index,
		timeout: DefaultTimeout,
		logger:  logger.Named("health"),
	}
	hc.addChecks()
	return hc
}

// addChecks 添加健康检查
func (hc *Checker) addChecks() {
	hc.handler.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(maxGoroutines))
	hc.handler.AddReadinessCheck("database", healthcheck.Timeout(hc.pingCheck("database", hc.store), hc.timeout))
}

func (hc *Checker) pingCheck(name string, target Pinger) healthcheck.Check {
	return func() error {
		ctx, cancel := context.WithTimeout(context.Background(), hc.timeout)
		defer cancel()

		if err := target.Ping(ctx); err != nil {
			hc.logger.Warn("health check failed", zap.String("check", name), zap.Error(err))
			return err
		}
		return nil
	}
}

// LiveHandler 存活探针
func (hc *Checker) LiveHandler() http.HandlerFunc {
	return hc.handler.LiveEndpoint
}

// ReadyHandler 就绪探针
func (hc *Checker) ReadyHandler() http.HandlerFunc {
	return hc.handler.ReadyEndpoint
}

// Report 返回各依赖的详细状态
func (hc *Checker) Report(ctx context.Context) map[string]string {
	results := make(map[string]string, 3)

	if err := hc.ping(ctx, hc.store); err != nil {
		results["database"] = fmt.Sprintf("ERROR: %v", err)
	} else {
		results["database"] = "OK"
	}

	switch {
	case hc.index == nil:
		results["index"] = "NOT_AVAILABLE"
	case hc.ping(ctx, hc.index) != nil:
		results["index"] = "DEGRADED"
	default:
		results["index"] = "OK"
	}

	results["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	return results
}

func (hc *Checker) ping(ctx context.Context, target Pinger) error {
	ctx, cancel := context.WithTimeout(ctx, hc.timeout)
	defer cancel()
	return target.Ping(ctx)
}
