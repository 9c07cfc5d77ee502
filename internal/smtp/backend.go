package smtp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	gosmtp "github.com/emersion/go-smtp"
	"go.uber.org/zap"

	"github.com/SandeepBunny16/secure-tempmail/internal/config"
	"github.com/SandeepBunny16/secure-tempmail/internal/domain"
	"github.com/SandeepBunny16/secure-tempmail/internal/monitoring"
	"github.com/SandeepBunny16/secure-tempmail/internal/service"
)

// Admitter 准入检查
type Admitter interface {
	Admit(ctx context.Context, address string, sizeBytes int64) (service.Decision, error)
}

// Persister 保存已接收的邮件
type Persister interface {
	Persist(ctx context.Context, in service.PersistInput) (string, error)
}

// BackendOptions Backend 的运行参数
type BackendOptions struct {
	MaxMessageBytes int64
	ProcessTimeout  time.Duration // <= 0 表示不设超时
}

// Backend 实现 go-smtp 的 Backend 接口。
//
// 只接收发往本系统临时收件箱的邮件，不做任何转发。
// 每个事务只接受一个收件人；所有判断都在 DATA 读完之后进行，
// 连接中途断开时不会留下任何数据。
type Backend struct {
	admission Admitter
	persister Persister
	limiter   *ConnectionLimiter
	recorder  *monitoring.Recorder
	log       *zap.Logger
	opts      BackendOptions
}

// NewBackend 创建 SMTP Backend。
//
// 参数:
//   - admission: 准入控制
//   - persister: 持久化流程
//   - limiter: 连接限流器，nil 表示不限制
//   - recorder: 指标记录器，可为 nil
//   - log: 日志记录器
//   - opts: 运行参数
func NewBackend(
	admission Admitter,
	persister Persister,
	limiter *ConnectionLimiter,
	recorder *monitoring.Recorder,
	log *zap.Logger,
	opts BackendOptions,
) *Backend {
	if log == nil {
		log = zap.NewNop()
	}
	return &Backend{
		admission: admission,
		persister: persister,
		limiter:   limiter,
		recorder:  recorder,
		log:       log.Named("smtp"),
		opts:      opts,
	}
}

// NewServer 按配置创建 go-smtp 服务器
//
// 协议层的大小上限放宽到两倍，超大邮件由准入控制给出 552 5.3.4。
func NewServer(cfg config.SMTPConfig, backend *Backend) *gosmtp.Server {
	s := gosmtp.NewServer(backend)
	s.Addr = cfg.BindAddr
	s.Domain = cfg.Domain
	s.ReadTimeout = cfg.ReadTimeout
	s.WriteTimeout = cfg.WriteTimeout
	s.MaxRecipients = 1
	s.AllowInsecureAuth = false
	if backend.opts.MaxMessageBytes > 0 {
		s.MaxMessageBytes = 2 * backend.opts.MaxMessageBytes
	}
	s.ErrorLog = zap.NewStdLog(backend.log)
	return s
}

// NewSession 创建新的 SMTP 会话。
func (b *Backend) NewSession(c *gosmtp.Conn) (gosmtp.Session, error) {
	if err := b.limiter.Admit(); err != nil {
		b.recorder.SessionRefused()
		b.log.Warn("connection refused by limiter", zap.String("remote_addr", remoteAddr(c)), zap.Error(err))
		return nil, ErrConnectionLimit
	}
	b.recorder.SessionOpened()

	return &session{
		backend:    b,
		conn:       c,
		remoteAddr: remoteAddr(c),
	}, nil
}

func remoteAddr(c *gosmtp.Conn) string {
	if c == nil || c.Conn() == nil {
		return ""
	}
	return c.Conn().RemoteAddr().String()
}

type session struct {
	backend    *Backend
	conn       *gosmtp.Conn
	remoteAddr string
	from       string
	to         string
}

// Mail 处理 MAIL 命令。
func (s *session) Mail(from string, _ *gosmtp.MailOptions) error {
	s.from = domain.NormalizeAddress(from)
	return nil
}

// Rcpt 处理 RCPT 命令。
//
// 只做语法检查并记录收件人；收件箱是否存在在 DATA 阶段判断。
func (s *session) Rcpt(to string, _ *gosmtp.RcptOptions) error {
	if s.to != "" {
		return ErrTooManyRecipients
	}
	addr := domain.NormalizeAddress(to)
	if err := domain.ValidateAddress(addr); err != nil {
		return ErrInvalidRecipient
	}
	s.to = addr
	return nil
}

// Data 读取邮件内容并依次执行 准入 -> 解析 -> 持久化。
func (s *session) Data(r io.Reader) error {
	start := time.Now()
	if s.to == "" {
		s.backend.recorder.MessageRejected(monitoring.ReasonNoRecipient, time.Since(start))
		return ErrNoRecipients
	}

	maxBytes := s.backend.opts.MaxMessageBytes
	raw, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	size := int64(len(raw))
	if err != nil {
		if !errors.Is(err, gosmtp.ErrDataTooLarge) {
			// 连接中断：此时尚未写入任何数据
			s.backend.log.Info("data read aborted", zap.String("remote_addr", s.remoteAddr), zap.Error(err))
			return fmt.Errorf("read data: %w", err)
		}
		size = maxBytes + 1
	}

	ctx, cancel := s.processContext()
	defer cancel()

	decision, err := s.backend.admission.Admit(ctx, s.to, size)
	if err != nil {
		return s.fail(err, start)
	}
	if !decision.Accepted {
		return s.reject(decision.Reason.Err(), size, start)
	}

	parsed, err := ParseEmail(raw)
	if err != nil {
		return s.fail(err, start)
	}

	messageID, err := s.backend.persister.Persist(ctx, service.PersistInput{
		InboxID:    decision.InboxID,
		Address:    s.to,
		Sender:     s.from,
		ExpiresAt:  decision.ExpiresAt,
		Parsed:     parsed,
		Raw:        raw,
		RemoteAddr: s.remoteAddr,
		Helo:       s.helo(),
	})
	if err != nil {
		if service.IsPolicyRejection(err) {
			return s.reject(err, size, start)
		}
		return s.fail(err, start)
	}

	s.backend.recorder.MessageAccepted(size, len(parsed.Attachments), time.Since(start))
	s.backend.log.Info("message accepted",
		zap.String("message_id", messageID),
		zap.String("inbox_id", decision.InboxID),
		zap.String("from", s.from),
		zap.Int64("size_bytes", size),
		zap.Duration("elapsed", time.Since(start)),
	)
	return nil
}

func (s *session) processContext() (context.Context, context.CancelFunc) {
	if s.backend.opts.ProcessTimeout > 0 {
		return context.WithTimeout(context.Background(), s.backend.opts.ProcessTimeout)
	}
	return context.WithCancel(context.Background())
}

func (s *session) helo() string {
	if s.conn == nil {
		return ""
	}
	return s.conn.Hostname()
}

// reject 策略拒绝，对发送方是永久失败
func (s *session) reject(err error, size int64, start time.Time) error {
	s.backend.recorder.MessageRejected(reasonOf(err), time.Since(start))
	s.backend.log.Info("message rejected",
		zap.String("to", s.to),
		zap.String("from", s.from),
		zap.Int64("size_bytes", size),
		zap.String("reason", reasonOf(err)),
	)
	return toSMTPError(err)
}

// fail 基础设施失败，发送方稍后重试
func (s *session) fail(err error, start time.Time) error {
	s.backend.recorder.MessageFailed(reasonOf(err), time.Since(start))
	s.backend.log.Error("message processing failed",
		zap.String("to", s.to),
		zap.String("from", s.from),
		zap.String("remote_addr", s.remoteAddr),
		zap.Error(err),
	)
	return toSMTPError(err)
}

// Reset 重置事务状态。
func (s *session) Reset() {
	s.from = ""
	s.to = ""
}

// Logout 会话结束。
func (s *session) Logout() error {
	s.backend.limiter.Leave()
	s.backend.recorder.SessionClosed()
	return nil
}
