package monitoring

import (
	"time"

	"go.uber.org/zap"

	"github.com/SandeepBunny16/secure-tempmail/internal/pool"
)

// Recorder 异步记录业务指标
//
// 事件通过协程池在收信协程之外更新；队列满时直接丢弃并计数。
// 所有方法对 nil 接收者安全，未配置指标的组件可以直接传 nil。
type Recorder struct {
	metrics *Metrics
	pool    *pool.WorkerPool
	log     *zap.Logger
}

// NewRecorder 创建记录器
//
// 参数:
//   - metrics: 指标集合
//   - workers: 后台协程池；为 nil 时同步记录
//   - log: 日志器
func NewRecorder(metrics *Metrics, workers *pool.WorkerPool, log *zap.Logger) *Recorder {
	if log == nil {
		log = zap.NewNop()
	}
	return &Recorder{
		metrics: metrics,
		pool:    workers,
		log:     log,
	}
}

// Metrics 返回底层指标集合
func (r *Recorder) Metrics() *Metrics {
	if r == nil {
		return nil
	}
	return r.metrics
}

func (r *Recorder) submit(fn func(m *Metrics)) {
	if r == nil || r.metrics == nil {
		return
	}
	if r.pool == nil {
		fn(r.metrics)
		return
	}
	if !r.pool.TrySubmit(func() { fn(r.metrics) }) {
		r.metrics.RecorderDropped.Inc()
		r.log.Debug("metric event dropped, recorder queue full")
	}
}

// ========== SMTP ==========

// SessionOpened 记录新建会话
func (r *Recorder) SessionOpened() {
	r.submit(func(m *Metrics) {
		m.SMTPConnections.WithLabelValues("accepted").Inc()
		m.SMTPActiveConnections.Inc()
	})
}

// SessionRefused 记录因连接限制被拒绝的会话
func (r *Recorder) SessionRefused() {
	r.submit(func(m *Metrics) {
		m.SMTPConnections.WithLabelValues("refused").Inc()
	})
}

// SessionClosed 记录会话结束
func (r *Recorder) SessionClosed() {
	r.submit(func(m *Metrics) {
		m.SMTPActiveConnections.Dec()
	})
}

// MessageAccepted 记录一封成功保存的邮件
func (r *Recorder) MessageAccepted(sizeBytes int64, attachments int, elapsed time.Duration) {
	r.submit(func(m *Metrics) {
		m.MessagesTotal.WithLabelValues("accepted").Inc()
		m.MessageSize.Observe(float64(sizeBytes))
		m.AttachmentsTotal.Add(float64(attachments))
		m.EmailProcessingTime.WithLabelValues("accepted").Observe(elapsed.Seconds())
	})
}

// ContentFlagged 记录内容检查标记的邮件
func (r *Recorder) ContentFlagged(flag string) {
	r.submit(func(m *Metrics) {
		m.ContentFlagged.WithLabelValues(flag).Inc()
	})
}

// MessageRejected 记录策略拒绝（永久失败）
func (r *Recorder) MessageRejected(reason string, elapsed time.Duration) {
	r.submit(func(m *Metrics) {
		m.MessagesTotal.WithLabelValues("rejected").Inc()
		m.MessagesRejected.WithLabelValues(reason).Inc()
		m.EmailProcessingTime.WithLabelValues("rejected").Observe(elapsed.Seconds())
	})
}

// MessageFailed 记录基础设施失败（临时失败）
func (r *Recorder) MessageFailed(reason string, elapsed time.Duration) {
	r.submit(func(m *Metrics) {
		m.MessagesTotal.WithLabelValues("failed").Inc()
		m.MessagesRejected.WithLabelValues(reason).Inc()
		m.EmailProcessingTime.WithLabelValues("failed").Observe(elapsed.Seconds())
	})
}

// ========== 索引与收件箱 ==========

// IndexFailure 记录快速索引失败
func (r *Recorder) IndexFailure(op string) {
	r.submit(func(m *Metrics) {
		m.IndexFailures.WithLabelValues(op).Inc()
	})
}

// InboxCreated 记录收件箱创建
func (r *Recorder) InboxCreated() {
	r.submit(func(m *Metrics) {
		m.InboxesCreated.Inc()
	})
}

// ========== 清理任务 ==========

// ReaperCycle 记录一轮清理的结果
func (r *Recorder) ReaperCycle(inboxes, messages int64, elapsed time.Duration, failed bool) {
	r.submit(func(m *Metrics) {
		result := "success"
		if failed {
			result = "failure"
		}
		m.ReaperRuns.WithLabelValues(result).Inc()
		m.ReaperDuration.Observe(elapsed.Seconds())
		m.ReaperInboxesCleaned.Add(float64(inboxes))
		m.ReaperMessagesCleaned.Add(float64(messages))
		m.InboxesExpired.Add(float64(inboxes))
	})
}

// ReaperError 记录清理失败（整轮失败或单个收件箱失败）
func (r *Recorder) ReaperError() {
	r.submit(func(m *Metrics) {
		m.ReaperErrors.Inc()
	})
}
