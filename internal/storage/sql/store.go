package sql

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/SandeepBunny16/secure-tempmail/internal/config"
	"github.com/SandeepBunny16/secure-tempmail/internal/domain"
	"github.com/SandeepBunny16/secure-tempmail/internal/storage"
	"github.com/SandeepBunny16/secure-tempmail/internal/storage/postgres"
)

// Store 基于 GORM 的持久化存储（支持 PostgreSQL、MySQL 5.7+ 和 SQLite）
type Store struct {
	db      *gorm.DB
	release func()
}

var _ storage.DurableStore = (*Store)(nil)

// Open 根据配置选择数据库驱动并创建存储
//
// PostgreSQL 使用 pgx 连接池；SQLite 强制单连接以串行化写事务。
func Open(ctx context.Context, cfg *config.DatabaseConfig, log *zap.Logger) (*Store, error) {
	switch cfg.Type {
	case "postgres":
		pool, err := postgres.Connect(ctx, cfg, log)
		if err != nil {
			return nil, err
		}
		store, err := NewStoreWithDialector(pool.Dialector(), *cfg)
		if err != nil {
			pool.Close()
			return nil, err
		}
		store.release = pool.Close
		return store, nil

	case "mysql":
		return NewStoreWithDialector(mysql.Open(cfg.DSN), *cfg)

	case "sqlite":
		sqliteCfg := *cfg
		sqliteCfg.MaxOpenConns = 1
		sqliteCfg.MaxIdleConns = 1
		return NewStoreWithDialector(sqlite.Open(SQLiteDSN(cfg.DSN)), sqliteCfg)

	default:
		return nil, fmt.Errorf("unsupported database driver: %s (supported: postgres, mysql, sqlite)", cfg.Type)
	}
}

// SQLiteDSN 为 SQLite 文件路径补全外键与忙等待参数
func SQLiteDSN(path string) string {
	if strings.Contains(path, "?") {
		return path
	}
	return "file:" + path + "?_foreign_keys=on&_busy_timeout=5000"
}

// NewStoreWithDialector 使用指定的 GORM dialector 创建存储实例并自动迁移表结构
func NewStoreWithDialector(dialector gorm.Dialector, cfg config.DatabaseConfig) (*Store, error) {
	gormConfig := &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}

	db, err := gorm.Open(dialector, gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	store := &Store{db: db}
	if err := store.Migrate(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Migrate 自动迁移数据库表结构
func (s *Store) Migrate() error {
	return s.db.AutoMigrate(
		&domain.Inbox{},
		&domain.Message{},
		&domain.Attachment{},
	)
}

// Ping 检查数据库健康状态
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close 关闭数据库连接
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	err = sqlDB.Close()
	if s.release != nil {
		s.release()
	}
	return err
}

// storageErr 将底层错误归类为存储失败
func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", domain.ErrStorageFailure, op, err)
}
