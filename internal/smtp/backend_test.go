package smtp

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"path/filepath"
	"strings"
	"testing"
	"time"

	gosmtp "github.com/emersion/go-smtp"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"

	"github.com/SandeepBunny16/secure-tempmail/internal/config"
	"github.com/SandeepBunny16/secure-tempmail/internal/crypto"
	"github.com/SandeepBunny16/secure-tempmail/internal/domain"
	"github.com/SandeepBunny16/secure-tempmail/internal/monitoring"
	"github.com/SandeepBunny16/secure-tempmail/internal/security"
	"github.com/SandeepBunny16/secure-tempmail/internal/service"
	"github.com/SandeepBunny16/secure-tempmail/internal/storage/memory"
	sqlstore "github.com/SandeepBunny16/secure-tempmail/internal/storage/sql"
)

const testMaxBytes = 2048

type fixture struct {
	store    *sqlstore.Store
	index    *memory.Index
	metrics  *monitoring.Metrics
	messages *service.MessageService
	backend  *Backend
}

func newFixture(t *testing.T, quota int) *fixture {
	t.Helper()
	path := filepath.Join(t.TempDir(), "smtp.db")
	store, err := sqlstore.NewStoreWithDialector(sqlite.Open(sqlstore.SQLiteDSN(path)), config.DatabaseConfig{MaxOpenConns: 1})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	vault, err := crypto.NewVault(bytes.Repeat([]byte{7}, 32))
	require.NoError(t, err)
	t.Cleanup(vault.Close)

	index := memory.NewIndex()
	metrics := monitoring.NewMetrics()
	recorder := monitoring.NewRecorder(metrics, nil, nil)

	admission := service.NewAdmissionController(index, store,
		service.AdmissionOptions{MaxMessages: quota, MaxMessageBytes: testMaxBytes}, recorder, nil)
	messages := service.NewMessageService(service.MessageServiceDeps{
		Store:     store,
		Index:     index,
		Cipher:    vault,
		Sanitizer: security.NewSanitizer(),
		Inspector: security.NewInspector(),
		Quota:     quota,
		Recorder:  recorder,
	})

	return &fixture{
		store:    store,
		index:    index,
		metrics:  metrics,
		messages: messages,
		backend: NewBackend(admission, messages, nil, recorder, nil,
			BackendOptions{MaxMessageBytes: testMaxBytes, ProcessTimeout: 5 * time.Second}),
	}
}

func (f *fixture) addInbox(t *testing.T, address string) *domain.Inbox {
	t.Helper()
	now := time.Now().UTC()
	inbox := &domain.Inbox{
		ID:        uuid.NewString(),
		Address:   address,
		CreatedAt: now,
		ExpiresAt: now.Add(time.Hour),
		IsActive:  true,
	}
	require.NoError(t, f.store.CreateInbox(context.Background(), inbox))
	require.NoError(t, f.index.SeedInbox(context.Background(), inbox))
	return inbox
}

func (f *fixture) count(t *testing.T, inboxID string) int64 {
	t.Helper()
	n, err := f.store.CountMessages(context.Background(), inboxID)
	require.NoError(t, err)
	return n
}

// deliver 在一个新会话里完成一次投递
func deliver(t *testing.T, b *Backend, to string, raw []byte) error {
	t.Helper()
	sess, err := b.NewSession(nil)
	require.NoError(t, err)
	defer func() { _ = sess.Logout() }()

	require.NoError(t, sess.Mail("sender@example.com", nil))
	if err := sess.Rcpt(to, nil); err != nil {
		return err
	}
	return sess.Data(bytes.NewReader(raw))
}

// mailOfSize 生成恰好 n 字节的纯文本邮件
func mailOfSize(n int) []byte {
	header := "Subject: sized\r\n\r\n"
	return []byte(header + strings.Repeat("a", n-len(header)))
}

func requireSMTPError(t *testing.T, err error, code int, enhanced gosmtp.EnhancedCode) {
	t.Helper()
	var smtpErr *gosmtp.SMTPError
	require.ErrorAs(t, err, &smtpErr)
	assert.Equal(t, code, smtpErr.Code)
	assert.Equal(t, enhanced, smtpErr.EnhancedCode)
}

func TestSession_Deliver(t *testing.T) {
	f := newFixture(t, 50)
	inbox := f.addInbox(t, "tmp_live@drop.example")

	t.Run("正常接收", func(t *testing.T) {
		require.NoError(t, deliver(t, f.backend, "<TMP_Live@drop.example>", invoiceMail()))
		assert.Equal(t, int64(1), f.count(t, inbox.ID))

		msgs, err := f.messages.List(context.Background(), inbox.ID)
		require.NoError(t, err)
		require.Len(t, msgs, 1)
		view, err := f.messages.Get(context.Background(), msgs[0].ID)
		require.NoError(t, err)
		assert.Equal(t, "Your invoice", view.Subject)
		assert.Equal(t, "sender@example.com", view.From)
		require.Len(t, view.Attachments, 1)
		assert.Equal(t, "invoice.pdf", view.Attachments[0].Filename)
	})

	t.Run("大小等于上限接收", func(t *testing.T) {
		require.NoError(t, deliver(t, f.backend, inbox.Address, mailOfSize(testMaxBytes)))
		assert.Equal(t, int64(2), f.count(t, inbox.ID))
	})

	t.Run("超过上限一字节拒绝", func(t *testing.T) {
		err := deliver(t, f.backend, inbox.Address, mailOfSize(testMaxBytes+1))
		requireSMTPError(t, err, 552, gosmtp.EnhancedCode{5, 3, 4})
		assert.Equal(t, int64(2), f.count(t, inbox.ID))
	})

	t.Run("未知收件人", func(t *testing.T) {
		err := deliver(t, f.backend, "nobody@drop.example", invoiceMail())
		requireSMTPError(t, err, 550, gosmtp.EnhancedCode{5, 1, 1})
	})

	t.Run("无法解析的邮件", func(t *testing.T) {
		err := deliver(t, f.backend, inbox.Address, crlf("no colon here", "", "body"))
		requireSMTPError(t, err, 451, gosmtp.EnhancedCode{4, 6, 0})
		assert.Equal(t, int64(2), f.count(t, inbox.ID))
	})

	t.Run("指标", func(t *testing.T) {
		assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.MessagesTotal.WithLabelValues("accepted")))
		assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.MessagesRejected.WithLabelValues(monitoring.ReasonTooLarge)))
		assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.MessagesRejected.WithLabelValues(monitoring.ReasonUnknownRecipient)))
		assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.MessagesRejected.WithLabelValues(monitoring.ReasonParseFailure)))
	})
}

func TestSession_Quota(t *testing.T) {
	f := newFixture(t, 1)
	inbox := f.addInbox(t, "tmp_small@drop.example")

	require.NoError(t, deliver(t, f.backend, inbox.Address, mailOfSize(100)))

	err := deliver(t, f.backend, inbox.Address, mailOfSize(100))
	requireSMTPError(t, err, 552, gosmtp.EnhancedCode{5, 2, 2})

	t.Run("配额优先于超大", func(t *testing.T) {
		err := deliver(t, f.backend, inbox.Address, mailOfSize(testMaxBytes+10))
		requireSMTPError(t, err, 552, gosmtp.EnhancedCode{5, 2, 2})
	})
	assert.Equal(t, int64(1), f.count(t, inbox.ID))
}

func TestSession_Envelope(t *testing.T) {
	f := newFixture(t, 50)
	f.addInbox(t, "tmp_a@drop.example")

	t.Run("没有收件人", func(t *testing.T) {
		sess, err := f.backend.NewSession(nil)
		require.NoError(t, err)
		require.NoError(t, sess.Mail("sender@example.com", nil))
		err = sess.Data(strings.NewReader("Subject: x\r\n\r\nbody"))
		requireSMTPError(t, err, 554, gosmtp.EnhancedCode{5, 5, 1})
	})

	t.Run("第二个收件人", func(t *testing.T) {
		sess, err := f.backend.NewSession(nil)
		require.NoError(t, err)
		require.NoError(t, sess.Rcpt("tmp_a@drop.example", nil))
		err = sess.Rcpt("tmp_b@drop.example", nil)
		requireSMTPError(t, err, 452, gosmtp.EnhancedCode{4, 5, 3})
	})

	t.Run("地址语法错误", func(t *testing.T) {
		sess, err := f.backend.NewSession(nil)
		require.NoError(t, err)
		err = sess.Rcpt("not-an-address", nil)
		requireSMTPError(t, err, 501, gosmtp.EnhancedCode{5, 1, 3})
	})

	t.Run("Reset后可以重新指定收件人", func(t *testing.T) {
		sess, err := f.backend.NewSession(nil)
		require.NoError(t, err)
		require.NoError(t, sess.Rcpt("tmp_a@drop.example", nil))
		sess.Reset()
		assert.NoError(t, sess.Rcpt("tmp_a@drop.example", nil))
	})
}

// MockAdmitter 模拟准入控制
type MockAdmitter struct {
	mock.Mock
}

func (m *MockAdmitter) Admit(ctx context.Context, address string, sizeBytes int64) (service.Decision, error) {
	args := m.Called(ctx, address, sizeBytes)
	return args.Get(0).(service.Decision), args.Error(1)
}

// MockPersister 模拟持久化流程
type MockPersister struct {
	mock.Mock
}

func (m *MockPersister) Persist(ctx context.Context, in service.PersistInput) (string, error) {
	args := m.Called(ctx, in)
	return args.String(0), args.Error(1)
}

func TestSession_Failures(t *testing.T) {
	accepted := service.Decision{Accepted: true, InboxID: "inbox-1"}

	tests := []struct {
		name       string
		admitErr   error
		persistErr error
		code       int
		enhanced   gosmtp.EnhancedCode
		reason     string
		status     string
	}{
		{"存储不可用", fmt.Errorf("%w: connection refused", domain.ErrStorageFailure), nil, 451, gosmtp.EnhancedCode{4, 3, 0}, monitoring.ReasonStorageFailure, "failed"},
		{"加密失败", nil, fmt.Errorf("%w: seal", domain.ErrCryptoFailure), 451, gosmtp.EnhancedCode{4, 3, 0}, monitoring.ReasonCryptoFailure, "failed"},
		{"事务内配额拒绝", nil, domain.ErrQuotaExceeded, 552, gosmtp.EnhancedCode{5, 2, 2}, monitoring.ReasonQuotaExceeded, "rejected"},
		{"事务内收件箱已过期", nil, domain.ErrUnknownRecipient, 550, gosmtp.EnhancedCode{5, 1, 1}, monitoring.ReasonUnknownRecipient, "rejected"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			admitter := new(MockAdmitter)
			persister := new(MockPersister)
			admitter.On("Admit", mock.Anything, "tmp_x@drop.example", mock.Anything).Return(accepted, tt.admitErr)
			if tt.admitErr == nil {
				persister.On("Persist", mock.Anything, mock.MatchedBy(func(in service.PersistInput) bool {
					return in.InboxID == "inbox-1" && in.Address == "tmp_x@drop.example" && in.Sender == "sender@example.com"
				})).Return("", tt.persistErr)
			}

			metrics := monitoring.NewMetrics()
			b := NewBackend(admitter, persister, nil, monitoring.NewRecorder(metrics, nil, nil), nil,
				BackendOptions{MaxMessageBytes: testMaxBytes})

			err := deliver(t, b, "tmp_x@drop.example", mailOfSize(200))
			requireSMTPError(t, err, tt.code, tt.enhanced)
			assert.Equal(t, 1.0, testutil.ToFloat64(metrics.MessagesRejected.WithLabelValues(tt.reason)))
			assert.Equal(t, 1.0, testutil.ToFloat64(metrics.MessagesTotal.WithLabelValues(tt.status)))

			admitter.AssertExpectations(t)
			persister.AssertExpectations(t)
		})
	}

	t.Run("准入拒绝后不解析也不持久化", func(t *testing.T) {
		admitter := new(MockAdmitter)
		persister := new(MockPersister)
		admitter.On("Admit", mock.Anything, mock.Anything, int64(testMaxBytes+1)).
			Return(service.Decision{Reason: service.RejectTooLarge}, nil)

		b := NewBackend(admitter, persister, nil, nil, nil, BackendOptions{MaxMessageBytes: testMaxBytes})
		err := deliver(t, b, "tmp_x@drop.example", mailOfSize(10*testMaxBytes))
		requireSMTPError(t, err, 552, gosmtp.EnhancedCode{5, 3, 4})
		persister.AssertNotCalled(t, "Persist", mock.Anything, mock.Anything)
	})
}

func TestBackend_ConnectionLimit(t *testing.T) {
	metrics := monitoring.NewMetrics()
	b := NewBackend(new(MockAdmitter), new(MockPersister), NewConnectionLimiter(1, 0),
		monitoring.NewRecorder(metrics, nil, nil), nil, BackendOptions{MaxMessageBytes: testMaxBytes})

	first, err := b.NewSession(nil)
	require.NoError(t, err)

	_, err = b.NewSession(nil)
	requireSMTPError(t, err, 421, gosmtp.EnhancedCode{4, 7, 0})
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.SMTPConnections.WithLabelValues("refused")))

	require.NoError(t, first.Logout())
	_, err = b.NewSession(nil)
	assert.NoError(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.SMTPActiveConnections))
}

func TestServer_EndToEnd(t *testing.T) {
	f := newFixture(t, 50)
	inbox := f.addInbox(t, "tmp_wire@drop.example")

	srv := NewServer(config.SMTPConfig{
		Domain:       "mx.drop.example",
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}, f.backend)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(func() { _ = srv.Close() })

	dial := func(t *testing.T) *gosmtp.Client {
		c, err := gosmtp.Dial(ln.Addr().String())
		require.NoError(t, err)
		t.Cleanup(func() { _ = c.Close() })
		require.NoError(t, c.Hello("client.example"))
		return c
	}

	send := func(c *gosmtp.Client, raw []byte) error {
		w, err := c.Data()
		if err != nil {
			return err
		}
		if _, err := w.Write(raw); err != nil {
			return err
		}
		return w.Close()
	}

	t.Run("投递成功", func(t *testing.T) {
		c := dial(t)
		require.NoError(t, c.Mail("billing@example.com", nil))
		require.NoError(t, c.Rcpt("tmp_wire@drop.example", nil))
		require.NoError(t, send(c, invoiceMail()))
		require.NoError(t, c.Quit())

		msgs, err := f.store.ListMessages(context.Background(), inbox.ID)
		require.NoError(t, err)
		require.Len(t, msgs, 1)
		assert.Equal(t, "client.example", msgs[0].Metadata[domain.MetaHelo])
		assert.NotEmpty(t, msgs[0].Metadata[domain.MetaRemoteAddr])
		assert.True(t, msgs[0].HasAttachments)
	})

	t.Run("未知收件人在DATA后拒绝", func(t *testing.T) {
		c := dial(t)
		require.NoError(t, c.Mail("billing@example.com", nil))
		require.NoError(t, c.Rcpt("nobody@drop.example", nil))

		var smtpErr *gosmtp.SMTPError
		require.ErrorAs(t, send(c, invoiceMail()), &smtpErr)
		assert.Equal(t, 550, smtpErr.Code)
	})

	t.Run("每个事务只有一个收件人", func(t *testing.T) {
		c := dial(t)
		require.NoError(t, c.Mail("billing@example.com", nil))
		require.NoError(t, c.Rcpt("tmp_wire@drop.example", nil))

		var smtpErr *gosmtp.SMTPError
		require.ErrorAs(t, c.Rcpt("tmp_other@drop.example", nil), &smtpErr)
		assert.Equal(t, 452, smtpErr.Code)
	})
}
