// Package middleware 运维 HTTP 端口使用的 gin 中间件。
package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/SandeepBunny16/secure-tempmail/internal/monitoring"
)

// RequestIDHeader 请求追踪头
const RequestIDHeader = "X-Request-ID"

// unmatchedRoute 未命中路由时的 endpoint 标签
const unmatchedRoute = "unmatched"

// Ops 运维端口中间件：请求追踪、指标、panic 恢复
type Ops struct {
	metrics *monitoring.Metrics
	log     *zap.Logger
}

// NewOps 创建运维中间件，metrics 可为 nil
func NewOps(metrics *monitoring.Metrics, log *zap.Logger) *Ops {
	if log == nil {
		log = zap.NewNop()
	}
	return &Ops{metrics: metrics, log: log}
}

// Chain 按顺序返回全部中间件
func (o *Ops) Chain() []gin.HandlerFunc {
	return []gin.HandlerFunc{o.Recover(), o.Trace(), o.Harden()}
}

// Trace 分配请求 ID，记录指标与访问日志
//
// 健康检查请求很频繁，2xx 只记 debug。
func (o *Ops) Trace() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set(RequestIDHeader, requestID)
		c.Header(RequestIDHeader, requestID)

		start := time.Now()
		c.Next()
		elapsed := time.Since(start)

		route := c.FullPath()
		if route == "" {
			route = unmatchedRoute
		}
		status := c.Writer.Status()
		if o.metrics != nil {
			o.metrics.RecordHTTPRequest(c.Request.Method, route, strconv.Itoa(status), elapsed)
		}

		fields := []zap.Field{
			zap.String("request_id", requestID),
			zap.String("method", c.Request.Method),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Duration("duration", elapsed),
		}
		switch {
		case status >= http.StatusInternalServerError:
			o.log.Error("ops request failed", fields...)
		case status >= http.StatusBadRequest:
			o.log.Warn("ops request rejected", fields...)
		default:
			o.log.Debug("ops request", fields...)
		}
	}
}

// Recover 把 handler 中的 panic 转成 500 并计数
func (o *Ops) Recover() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if o.metrics != nil {
				o.metrics.RecordPanic()
			}
			o.log.Error("panic in ops handler",
				zap.Any("panic", rec),
				zap.String("path", c.Request.URL.Path),
				zap.String("request_id", c.GetString(RequestIDHeader)),
				zap.Stack("stack"),
			)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		}()
		c.Next()
	}
}

// Harden 运维端口只输出 JSON 与指标文本，禁止缓存和嵌入
func (o *Ops) Harden() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Content-Security-Policy", "default-src 'none'")
		h.Set("Cache-Control", "no-store")
		c.Next()
	}
}
