package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/SandeepBunny16/secure-tempmail/internal/bootstrap"
	"github.com/SandeepBunny16/secure-tempmail/internal/config"
	"github.com/SandeepBunny16/secure-tempmail/internal/crypto"
	"github.com/SandeepBunny16/secure-tempmail/internal/logger"
	"github.com/SandeepBunny16/secure-tempmail/internal/monitoring"
	"github.com/SandeepBunny16/secure-tempmail/internal/security"
	"github.com/SandeepBunny16/secure-tempmail/internal/service"
)

const usage = `Usage:
  inboxctl create [-ttl 24h] [-created-by name]
  inboxctl show <inbox-id>
  inboxctl expire <inbox-id>
  inboxctl delete <inbox-id>
  inboxctl messages <inbox-id>
  inboxctl read [-raw] <message-id>`

// main 运维用的收件箱管理工具。
func main() {
	if len(os.Args) < 2 {
		fmt.Println(usage)
		os.Exit(1)
	}

	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("错误: 加载配置失败: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		fmt.Printf("错误: 初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	stores, err := bootstrap.OpenStores(ctx, cfg, log)
	if err != nil {
		fmt.Printf("错误: 打开存储失败: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = stores.Close() }()

	recorder, stopRecorder := bootstrap.StartRecorder(ctx, config.MetricsConfig{}, monitoring.NewMetrics(), log)
	defer stopRecorder()

	vault, err := crypto.NewVault(cfg.Crypto.EncryptionKey)
	if err != nil {
		fmt.Printf("错误: 初始化加密模块失败: %v\n", err)
		os.Exit(1)
	}
	defer vault.Close()

	messages := service.NewMessageService(service.MessageServiceDeps{
		Store:     stores.Store,
		Index:     stores.Index,
		Cipher:    vault,
		Sanitizer: security.NewSanitizer(),
		Quota:     cfg.Inbox.MaxMessages,
		Recorder:  recorder,
		Log:       log,
	})
	c := &commands{
		inboxes:  service.NewInboxService(stores.Store, stores.Index, cfg.Inbox, recorder, log),
		messages: messages,
	}

	if err := c.dispatch(ctx, os.Args[1], os.Args[2:]); err != nil {
		log.Debug("inboxctl failed", zap.String("command", os.Args[1]), zap.Error(err))
		fmt.Printf("错误: %v\n", err)
		os.Exit(1)
	}
}

type commands struct {
	inboxes  *service.InboxService
	messages *service.MessageService
}

func (c *commands) dispatch(ctx context.Context, command string, args []string) error {
	switch command {
	case "create":
		fs := flag.NewFlagSet("create", flag.ExitOnError)
		ttl := fs.Duration("ttl", 0, "收件箱生存时间，0 表示使用默认值")
		createdBy := fs.String("created-by", "inboxctl", "写入元数据的创建者标识")
		if err := fs.Parse(args); err != nil {
			return err
		}

		inbox, err := c.inboxes.Create(ctx, service.CreateInboxInput{TTL: *ttl, CreatedBy: *createdBy})
		if err != nil {
			return fmt.Errorf("创建收件箱失败: %w", err)
		}
		fmt.Printf("✓ 收件箱创建成功\n")
		fmt.Printf("  ID:      %s\n", inbox.ID)
		fmt.Printf("  Address: %s\n", inbox.Address)
		fmt.Printf("  Expires: %s\n", inbox.ExpiresAt.Format(time.RFC3339))
		return nil

	case "show":
		id, err := inboxID(args)
		if err != nil {
			return err
		}
		inbox, err := c.inboxes.Get(ctx, id)
		if err != nil {
			return err
		}
		fmt.Printf("ID:       %s\n", inbox.ID)
		fmt.Printf("Address:  %s\n", inbox.Address)
		fmt.Printf("Created:  %s\n", inbox.CreatedAt.Format(time.RFC3339))
		fmt.Printf("Expires:  %s\n", inbox.ExpiresAt.Format(time.RFC3339))
		fmt.Printf("Active:   %t\n", inbox.IsActive && !inbox.IsExpired(time.Now()))
		fmt.Printf("Messages: %d\n", inbox.MessageCount)
		return nil

	case "expire":
		id, err := inboxID(args)
		if err != nil {
			return err
		}
		if err := c.inboxes.Expire(ctx, id); err != nil {
			return err
		}
		fmt.Printf("✓ 收件箱 %s 已过期，将由清理任务删除\n", id)
		return nil

	case "delete":
		id, err := inboxID(args)
		if err != nil {
			return err
		}
		n, err := c.inboxes.Delete(ctx, id)
		if err != nil {
			return err
		}
		fmt.Printf("✓ 收件箱 %s 已删除，共删除 %d 封邮件\n", id, n)
		return nil

	case "messages":
		id, err := inboxID(args)
		if err != nil {
			return err
		}
		list, err := c.messages.List(ctx, id)
		if err != nil {
			return err
		}
		for _, m := range list {
			read := " "
			if m.IsRead {
				read = "✓"
			}
			fmt.Printf("%s %s  %s  %-30s  %s\n", read, m.ID, m.ReceivedAt.Format(time.RFC3339), m.FromAddress, m.Subject)
		}
		fmt.Printf("共 %d 封邮件\n", len(list))
		return nil

	case "read":
		return c.read(ctx, args)
	}

	return fmt.Errorf("未知命令 %q\n%s", command, usage)
}

func inboxID(args []string) (string, error) {
	if len(args) != 1 || args[0] == "" {
		return "", fmt.Errorf("需要提供收件箱 ID\n%s", usage)
	}
	return args[0], nil
}

// read 解密并打印一封邮件，然后标记为已读
func (c *commands) read(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("read", flag.ExitOnError)
	raw := fs.Bool("raw", false, "输出解密后的原始邮件")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("需要提供邮件 ID\n%s", usage)
	}
	id := fs.Arg(0)

	if *raw {
		data, err := c.messages.GetRaw(ctx, id)
		if err != nil {
			return err
		}
		_, _ = os.Stdout.Write(data)
	} else {
		view, err := c.messages.Get(ctx, id)
		if err != nil {
			return err
		}
		fmt.Printf("From:    %s\n", view.From)
		fmt.Printf("To:      %s\n", view.To)
		fmt.Printf("Subject: %s\n", view.Subject)
		fmt.Printf("Date:    %s\n\n", view.ReceivedAt.Format(time.RFC3339))
		if view.TextBody != nil {
			fmt.Println(*view.TextBody)
		} else if view.HTMLBody != nil {
			fmt.Println(*view.HTMLBody)
		}
		for _, att := range view.Attachments {
			fmt.Printf("[附件] %s (%s, %d bytes)\n", att.Filename, att.ContentType, att.SizeBytes)
		}
	}

	return c.messages.MarkRead(ctx, id)
}
