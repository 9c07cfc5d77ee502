// Package postgres 为持久化存储提供 pgx 连接池。
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/SandeepBunny16/secure-tempmail/internal/config"
)

const connectTimeout = 10 * time.Second

// Pool 是 GORM 与健康检查共用的 pgx 连接池
type Pool struct {
	pool *pgxpool.Pool
	db   *sql.DB
}

// Connect 按数据库配置建立连接池并确认可用
func Connect(ctx context.Context, cfg *config.DatabaseConfig, log *zap.Logger) (*Pool, error) {
	if cfg.DSN == "" {
		return nil, errors.New("postgres: DSN is required")
	}

	pc, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse DSN: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		pc.MaxConns = int32(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		pc.MinConns = int32(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		pc.MaxConnLifetime = cfg.ConnMaxLifetime
	}

	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("postgres: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	log.Info("durable store connected",
		zap.String("driver", "postgres"),
		zap.String("host", pc.ConnConfig.Host),
		zap.Int32("max_conns", pc.MaxConns),
	)
	return &Pool{pool: pool, db: stdlib.OpenDBFromPool(pool)}, nil
}

// Dialector 让 GORM 复用该连接池
func (p *Pool) Dialector() gorm.Dialector {
	return gormpostgres.New(gormpostgres.Config{Conn: p.db})
}

// Close 先关闭 database/sql 包装，再关闭连接池
func (p *Pool) Close() {
	_ = p.db.Close()
	p.pool.Close()
}
