package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/SandeepBunny16/secure-tempmail/internal/config"
	"github.com/SandeepBunny16/secure-tempmail/internal/logger"
	sqlstore "github.com/SandeepBunny16/secure-tempmail/internal/storage/sql"
)

// main 创建或升级持久化存储的表结构。
//
// 未指定参数时使用 TEMPMAIL_DATABASE_* 配置。
func main() {
	dbType := flag.String("type", "", "数据库类型: postgres、mysql 或 sqlite")
	dbDSN := flag.String("dsn", "", "数据库连接字符串")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("错误: 加载配置失败: %v\n", err)
		os.Exit(1)
	}
	if *dbType != "" {
		cfg.Database.Type = *dbType
	}
	if *dbDSN != "" {
		cfg.Database.DSN = *dbDSN
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		fmt.Printf("错误: 初始化日志失败: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	// Open 内部执行 AutoMigrate
	store, err := sqlstore.Open(ctx, &cfg.Database, log)
	if err != nil {
		fmt.Printf("错误: 迁移失败: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	if err := store.Ping(ctx); err != nil {
		fmt.Printf("错误: 数据库连接失败: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("✓ %s 数据库迁移成功完成\n", cfg.Database.Type)
}
