package service

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"

	"github.com/SandeepBunny16/secure-tempmail/internal/config"
	"github.com/SandeepBunny16/secure-tempmail/internal/crypto"
	"github.com/SandeepBunny16/secure-tempmail/internal/domain"
	sqlstore "github.com/SandeepBunny16/secure-tempmail/internal/storage/sql"
)

// MockIndex 模拟快速索引
type MockIndex struct {
	mock.Mock
}

func (m *MockIndex) SeedInbox(ctx context.Context, inbox *domain.Inbox) error {
	args := m.Called(ctx, inbox)
	return args.Error(0)
}

func (m *MockIndex) LookupInbox(ctx context.Context, address string) (string, error) {
	args := m.Called(ctx, address)
	return args.String(0), args.Error(1)
}

func (m *MockIndex) LookupAddress(ctx context.Context, inboxID string) (string, error) {
	args := m.Called(ctx, inboxID)
	return args.String(0), args.Error(1)
}

func (m *MockIndex) MessageCount(ctx context.Context, address string) (int64, error) {
	args := m.Called(ctx, address)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockIndex) IncrementCount(ctx context.Context, address string, expiresAt time.Time) (int64, error) {
	args := m.Called(ctx, address, expiresAt)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockIndex) PurgeInbox(ctx context.Context, inboxID, address string) error {
	args := m.Called(ctx, inboxID, address)
	return args.Error(0)
}

func (m *MockIndex) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func newTestStore(t *testing.T) *sqlstore.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "service.db")
	store, err := sqlstore.NewStoreWithDialector(sqlite.Open(sqlstore.SQLiteDSN(path)), config.DatabaseConfig{MaxOpenConns: 1})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newTestVault(t *testing.T, seed byte) *crypto.Vault {
	t.Helper()
	vault, err := crypto.NewVault(bytes.Repeat([]byte{seed}, 32))
	require.NoError(t, err)
	t.Cleanup(vault.Close)
	return vault
}

func testInboxConfig() config.InboxConfig {
	return config.InboxConfig{
		Domain:          "drop.example",
		AddressPrefix:   "tmp_",
		AddressLength:   24,
		DefaultTTL:      24 * time.Hour,
		MaxTTL:          168 * time.Hour,
		MaxMessages:     50,
		MaxMessageBytes: 1024,
	}
}

// createInbox 直接写入持久化存储的收件箱
func createInbox(t *testing.T, store *sqlstore.Store, address string, ttl time.Duration) *domain.Inbox {
	t.Helper()
	now := time.Now().UTC()
	inbox := &domain.Inbox{
		ID:        address + "-id",
		Address:   address,
		CreatedAt: now.Add(-time.Minute),
		ExpiresAt: now.Add(ttl),
		IsActive:  true,
	}
	if ttl <= 0 {
		inbox.CreatedAt = inbox.ExpiresAt.Add(-time.Hour)
	}
	require.NoError(t, store.CreateInbox(context.Background(), inbox))
	return inbox
}

func strPtr(s string) *string { return &s }
