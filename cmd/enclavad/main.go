package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"Enclava-Chain/internal/api"
	"Enclava-Chain/internal/backend"
	"Enclava-Chain/internal/chat"
	"Enclava-Chain/internal/config"
	"Enclava-Chain/internal/events"
	"Enclava-Chain/internal/notify"
	"Enclava-Chain/internal/payment"
	"Enclava-Chain/internal/payment/ethereum"
	"Enclava-Chain/internal/purchase"
	"Enclava-Chain/internal/storage/mysql"
	"Enclava-Chain/internal/upload"
	"Enclava-Chain/pkg/logger"
)

// main 是 Enclava 网关守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("enclavad 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	configPath := os.Getenv("ENCLAVA_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "enclava.json")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: cfg.Logging.OutputPaths,
		Audit: logger.AuditConfig{
			Enabled: cfg.Logging.AuditPath != "",
			Path:    cfg.Logging.AuditPath,
		},
	}); err != nil {
		return err
	}
	defer logger.Sync()

	marketClient, err := backend.NewClient(cfg.Backend.BaseURL, &http.Client{
		Timeout: time.Duration(cfg.Backend.TimeoutSeconds) * time.Second,
	})
	if err != nil {
		return err
	}

	// 链上能力按配置装配。未配置链定义时网关仍可启动，支付入口
	// 会提示连接钱包。
	chainCfg := ethereum.Config{
		ChainName:       cfg.Chain.ChainName,
		DefinitionsPath: cfg.Chain.DefinitionsPath,
		ContractAddress: cfg.Chain.ContractAddress,
		ReceiptTimeout:  time.Duration(cfg.Chain.ReceiptTimeout) * time.Second,
	}
	var chainBackend ethereum.Backend
	if cfg.Chain.DefinitionsPath != "" {
		signer, err := ethereum.NewLocalSignerFromEnv(cfg.Chain.SignerKeyEnv)
		if err != nil {
			return err
		}
		chainCfg.Signer = signer

		dialed, closeBackend, err := ethereum.Dial(ctx, chainCfg)
		if err != nil {
			return err
		}
		defer closeBackend()
		chainBackend = dialed
	}

	var purchaseRepo purchase.Repository
	switch cfg.Storage.PurchaseStore.Driver {
	case "", "memory":
		purchaseRepo = purchase.NewMemoryRepository()
	case "mysql":
		repo, err := mysql.NewSQLPurchaseRepository(ctx, mysql.Config{DSN: cfg.Storage.PurchaseStore.DSN})
		if err != nil {
			return err
		}
		purchaseRepo = repo
	default:
		return fmt.Errorf("未知的购买流水存储驱动: %s", cfg.Storage.PurchaseStore.Driver)
	}
	defer purchaseRepo.Close()

	var eventBus events.Bus
	switch cfg.Events.Driver {
	case "", "memory":
		eventBus = events.NewMemoryBus(1024)
	case "redis":
		bus, err := events.NewRedisBus(events.RedisBusConfig{
			Address:  cfg.Events.Redis.Addr,
			Password: cfg.Events.Redis.Password,
			DB:       cfg.Events.Redis.DB,
			Key:      cfg.Events.Redis.Key,
		})
		if err != nil {
			return err
		}
		eventBus = bus
	case "rabbitmq":
		bus, err := events.NewRabbitMQBus(events.RabbitMQBusConfig{
			URL:   cfg.Events.RabbitMQ.URL,
			Queue: cfg.Events.RabbitMQ.Queue,
		})
		if err != nil {
			return err
		}
		eventBus = bus
	default:
		return fmt.Errorf("未知的事件总线驱动: %s", cfg.Events.Driver)
	}
	defer func() {
		if err := eventBus.Close(); err != nil {
			log.Printf("关闭事件总线失败: %v", err)
		}
	}()

	notices := notify.NewBufferSink(64)
	sinks := []notify.Sink{notify.LogSink{}, notices}
	if cfg.Notify.WebhookURL != "" {
		sinks = append(sinks, notify.NewWebhookSink(cfg.Notify.WebhookURL, &http.Client{
			Timeout: time.Duration(cfg.Notify.TimeoutSeconds) * time.Second,
		}))
	}
	fanout := notify.NewFanout(sinks...)

	factory := func() payment.Adapter {
		return ethereum.NewAdapterWithBackend(chainBackend, chainCfg)
	}
	sessions := chat.NewManager(marketClient, factory,
		chat.WithNotifier(fanout),
		chat.WithRecorder(purchase.WorkflowRecorder{Repo: purchaseRepo}),
	)

	deps := api.Deps{
		Sessions:  sessions,
		Market:    marketClient,
		Purchases: purchaseRepo,
		Notices:   notices,
	}

	if chainBackend != nil {
		shared := ethereum.NewAdapterWithBackend(chainBackend, chainCfg)
		deps.Earnings = shared
		uploads := upload.NewService(marketClient, shared)
		deps.Uploads = uploads

		watcher := ethereum.NewMintWatcher(chainBackend, eventBus, ethereum.MintWatcherConfig{
			ContractAddress: cfg.Chain.ContractAddress,
		})
		go func() {
			if err := watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("铸造事件监听异常退出: %v", err)
			}
		}()

		tracker := upload.NewTracker(uploads, eventBus, 1)
		go func() {
			if err := tracker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("铸造确认消费异常退出: %v", err)
			}
		}()
	} else {
		// 无链上能力时仍提供上传与 AI 元数据生成。
		deps.Uploads = upload.NewService(marketClient, nil)
	}

	server := api.NewServer(cfg.Server.Address, deps)
	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
