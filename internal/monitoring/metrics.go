package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 拒绝与失败原因标签
const (
	ReasonNoRecipient      = "no_recipient"
	ReasonUnknownRecipient = "unknown_recipient"
	ReasonQuotaExceeded    = "quota_exceeded"
	ReasonTooLarge         = "too_large"
	ReasonParseFailure     = "parse_failure"
	ReasonCryptoFailure    = "crypto_failure"
	ReasonStorageFailure   = "storage_failure"
	ReasonInternal         = "internal"
	ReasonConnectionLimit  = "connection_limit"
)

// Metrics 监控指标
type Metrics struct {
	registry *prometheus.Registry

	// HTTP 请求指标（运维端口）
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	PanicsTotal         prometheus.Counter

	// SMTP 会话指标
	SMTPConnections       *prometheus.CounterVec
	SMTPActiveConnections prometheus.Gauge

	// 邮件指标
	MessagesTotal       *prometheus.CounterVec
	MessagesRejected    *prometheus.CounterVec
	MessageSize         prometheus.Histogram
	AttachmentsTotal    prometheus.Counter
	EmailProcessingTime *prometheus.HistogramVec
	ContentFlagged      *prometheus.CounterVec

	// 索引指标
	IndexFailures *prometheus.CounterVec

	// 收件箱指标
	InboxesCreated prometheus.Counter
	InboxesExpired prometheus.Counter

	// 清理任务指标
	ReaperRuns            *prometheus.CounterVec
	ReaperDuration        prometheus.Histogram
	ReaperInboxesCleaned  prometheus.Counter
	ReaperMessagesCleaned prometheus.Counter
	ReaperErrors          prometheus.Counter

	// 记录器自身
	RecorderDropped prometheus.Counter
}

// NewMetrics 创建监控指标
//
// 指标注册到独立的 Registry（附带 Go 运行时与进程指标），
// 测试可以各自创建实例而不会重复注册。
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tempmail_http_requests_total",
				Help: "Total number of HTTP requests on the ops endpoint",
			},
			[]string{"method", "endpoint", "status_code"},
		),

		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tempmail_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		PanicsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "tempmail_panics_total",
				Help: "Total number of recovered panics",
			},
		),

		SMTPConnections: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tempmail_smtp_connections_total",
				Help: "Total number of SMTP connections by outcome",
			},
			[]string{"status"},
		),

		SMTPActiveConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "tempmail_smtp_active_connections",
				Help: "Number of open SMTP sessions",
			},
		),

		MessagesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tempmail_messages_total",
				Help: "Total number of messages by final status",
			},
			[]string{"status"},
		),

		MessagesRejected: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tempmail_messages_rejected_total",
				Help: "Total number of rejected or failed messages by reason",
			},
			[]string{"reason"},
		),

		MessageSize: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "tempmail_message_size_bytes",
				Help:    "Size of accepted messages in bytes",
				Buckets: prometheus.ExponentialBuckets(512, 4, 8),
			},
		),

		AttachmentsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "tempmail_attachments_total",
				Help: "Total number of stored attachments",
			},
		),

		EmailProcessingTime: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tempmail_email_processing_duration_seconds",
				Help:    "Time spent handling DATA, by status",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"status"},
		),

		ContentFlagged: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tempmail_content_flagged_total",
				Help: "Accepted messages flagged by content inspection",
			},
			[]string{"flag"},
		),

		IndexFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tempmail_index_failures_total",
				Help: "Fast index failures by operation",
			},
			[]string{"op"},
		),

		InboxesCreated: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "tempmail_inboxes_created_total",
				Help: "Total number of inboxes created",
			},
		),

		InboxesExpired: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "tempmail_inboxes_expired_total",
				Help: "Total number of expired inboxes purged",
			},
		),

		ReaperRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tempmail_reaper_runs_total",
				Help: "Total number of reaper cycles by result",
			},
			[]string{"result"},
		),

		ReaperDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "tempmail_reaper_cycle_duration_seconds",
				Help:    "Reaper cycle duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),

		ReaperInboxesCleaned: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "tempmail_reaper_inboxes_cleaned_total",
				Help: "Total number of inboxes removed by the reaper",
			},
		),

		ReaperMessagesCleaned: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "tempmail_reaper_messages_cleaned_total",
				Help: "Total number of messages removed by the reaper",
			},
		),

		ReaperErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "tempmail_reaper_errors_total",
				Help: "Total number of reaper failures",
			},
		),

		RecorderDropped: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "tempmail_recorder_dropped_total",
				Help: "Metric events dropped because the recorder queue was full",
			},
		),
	}
}

// RecordHTTPRequest 记录 HTTP 请求指标
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordPanic 记录 panic
func (m *Metrics) RecordPanic() {
	m.PanicsTotal.Inc()
}

// Registry 返回指标注册表
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// HTTPHandler 返回 Prometheus HTTP 处理器
func (m *Metrics) HTTPHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
