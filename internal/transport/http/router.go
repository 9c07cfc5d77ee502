package httptransport

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/SandeepBunny16/secure-tempmail/internal/config"
	"github.com/SandeepBunny16/secure-tempmail/internal/health"
	"github.com/SandeepBunny16/secure-tempmail/internal/middleware"
	"github.com/SandeepBunny16/secure-tempmail/internal/monitoring"
)

// RouterDependencies 路由器依赖项
type RouterDependencies struct {
	Metrics *monitoring.Metrics
	Health  *health.Checker
	Logger  *zap.Logger
}

// NewRouter 创建运维 HTTP 路由：指标与健康检查。
//
// 收件箱与邮件的对外接口不在本进程中提供。
func NewRouter(deps RouterDependencies) *gin.Engine {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("http")

	router := gin.New()

	router.Use(middleware.NewOps(deps.Metrics, log).Chain()...)

	router.GET("/metrics", gin.WrapH(deps.Metrics.HTTPHandler()))

	healthGroup := router.Group("/health")
	{
		healthGroup.GET("/live", gin.WrapF(deps.Health.LiveHandler()))
		healthGroup.GET("/ready", gin.WrapF(deps.Health.ReadyHandler()))
		healthGroup.GET("", healthReport(deps.Health))
	}

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})

	return router
}

// healthStatus 汇总状态：数据库异常为 UNAVAILABLE，仅索引异常为 DEGRADED
func healthStatus(report map[string]string) (int, string) {
	switch {
	case report["database"] != "OK":
		return http.StatusServiceUnavailable, "UNAVAILABLE"
	case report["index"] != "OK":
		return http.StatusOK, "DEGRADED"
	default:
		return http.StatusOK, "OK"
	}
}

// healthReport 返回各依赖的详细状态
func healthReport(checker *health.Checker) gin.HandlerFunc {
	return func(c *gin.Context) {
		report := checker.Report(c.Request.Context())
		code, status := healthStatus(report)
		c.JSON(code, gin.H{"status": status, "checks": report})
	}
}

// NewServer 创建运维 HTTP 服务器
func NewServer(cfg config.ServerConfig, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}
