package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/SandeepBunny16/secure-tempmail/internal/config"
	"github.com/SandeepBunny16/secure-tempmail/internal/domain"
	"github.com/SandeepBunny16/secure-tempmail/internal/monitoring"
	"github.com/SandeepBunny16/secure-tempmail/internal/storage"
)

var (
	// ErrInvalidTTL 请求的生存时间不在 [MinInboxTTL, inbox.max_ttl] 之间
	ErrInvalidTTL = errors.New("ttl out of range")
	// ErrAddressExhausted 连续 maxAddressAttempts 次生成的地址都已被占用
	ErrAddressExhausted = errors.New("could not allocate a unique address")
)

// MinInboxTTL 是收件箱最短生存时间
const MinInboxTTL = time.Hour

// maxAddressAttempts 是生成地址遇到冲突时的最大尝试次数
const maxAddressAttempts = 5

const addressAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// InboxService 封装收件箱的创建与删除。
type InboxService struct {
	store    storage.InboxRepository
	index    storage.FastIndex
	cfg      config.InboxConfig
	recorder *monitoring.Recorder
	log      *zap.Logger
	now      func() time.Time
}

// NewInboxService 创建收件箱业务服务。
func NewInboxService(
	store storage.InboxRepository,
	index storage.FastIndex,
	cfg config.InboxConfig,
	recorder *monitoring.Recorder,
	log *zap.Logger,
) *InboxService {
	if log == nil {
		log = zap.NewNop()
	}
	return &InboxService{
		store:    store,
		index:    index,
		cfg:      cfg,
		recorder: recorder,
		log:      log.Named("inbox"),
		now:      time.Now,
	}
}

// CreateInboxInput 定义创建收件箱所需的输入。
type CreateInboxInput struct {
	TTL       time.Duration // 为 0 时使用默认生存时间
	CreatedBy string        // 调用方标识，写入元数据
}

// Create 创建新的临时收件箱，并把地址写入快速索引。
func (s *InboxService) Create(ctx context.Context, input CreateInboxInput) (*domain.Inbox, error) {
	ttl := input.TTL
	if ttl == 0 {
		ttl = s.cfg.DefaultTTL
	}
	if ttl < MinInboxTTL || ttl > s.cfg.MaxTTL {
		return nil, fmt.Errorf("%w: %s not in [%s, %s]", ErrInvalidTTL, ttl, MinInboxTTL, s.cfg.MaxTTL)
	}

	now := s.now().UTC()
	inbox := &domain.Inbox{
		ID:        uuid.NewString(),
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
		IsActive:  true,
		Metadata:  domain.Metadata{},
	}
	if input.CreatedBy != "" {
		inbox.Metadata[domain.MetaCreatedBy] = input.CreatedBy
	}

	if err := s.allocate(ctx, inbox); err != nil {
		return nil, err
	}

	if err := s.index.SeedInbox(ctx, inbox); err != nil {
		s.recorder.IndexFailure("seed")
		s.log.Warn("failed to seed fast index", zap.String("inbox_id", inbox.ID), zap.Error(err))
	}
	s.recorder.InboxCreated()
	s.log.Info("inbox created",
		zap.String("inbox_id", inbox.ID),
		zap.String("address", inbox.Address),
		zap.Time("expires_at", inbox.ExpiresAt),
	)
	return inbox, nil
}

// allocate 生成不冲突的地址并保存收件箱
func (s *InboxService) allocate(ctx context.Context, inbox *domain.Inbox) error {
	for attempt := 0; attempt < maxAddressAttempts; attempt++ {
		localPart, err := randomString(s.cfg.AddressLength)
		if err != nil {
			return err
		}
		address := domain.NormalizeAddress(s.cfg.AddressPrefix + localPart + "@" + s.cfg.Domain)
		if err := domain.ValidateAddress(address); err != nil {
			return err
		}

		exists, err := s.store.AddressExists(ctx, address)
		if err != nil {
			return err
		}
		if exists {
			continue
		}

		inbox.Address = address
		err = s.store.CreateInbox(ctx, inbox)
		if errors.Is(err, storage.ErrAddressTaken) {
			continue
		}
		return err
	}
	return ErrAddressExhausted
}

// Get 根据 ID 获取收件箱。
func (s *InboxService) Get(ctx context.Context, id string) (*domain.Inbox, error) {
	return s.store.GetInbox(ctx, id)
}

// Expire 让收件箱立即过期：不再接收邮件，由清理任务在下一轮删除。
func (s *InboxService) Expire(ctx context.Context, id string) error {
	inbox, err := s.store.GetInbox(ctx, id)
	if err != nil {
		return err
	}

	now := s.now().UTC()
	if !now.After(inbox.CreatedAt) {
		now = inbox.CreatedAt.Add(time.Second)
	}
	if err := s.store.SetInboxExpiry(ctx, id, now); err != nil {
		return err
	}

	if err := s.index.PurgeInbox(ctx, inbox.ID, inbox.Address); err != nil {
		s.recorder.IndexFailure("purge")
		s.log.Warn("failed to purge fast index", zap.String("inbox_id", id), zap.Error(err))
	}
	return nil
}

// Delete 删除收件箱及其全部邮件，返回删除的邮件数。
func (s *InboxService) Delete(ctx context.Context, id string) (int64, error) {
	inbox, err := s.store.GetInbox(ctx, id)
	if err != nil {
		return 0, err
	}

	if err := s.index.PurgeInbox(ctx, inbox.ID, inbox.Address); err != nil {
		s.recorder.IndexFailure("purge")
		s.log.Warn("failed to purge fast index", zap.String("inbox_id", id), zap.Error(err))
	}
	return s.store.DeleteInbox(ctx, id)
}

// randomString 用 crypto/rand 生成小写字母与数字组成的随机串
func randomString(length int) (string, error) {
	limit := big.NewInt(int64(len(addressAlphabet)))
	b := make([]byte, length)
	for i := range b {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", fmt.Errorf("generate address: %w", err)
		}
		b[i] = addressAlphabet[n.Int64()]
	}
	return string(b), nil
}
