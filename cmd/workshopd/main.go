package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/chopan123/stellar-workshop-dmb/internal/api"
	"github.com/chopan123/stellar-workshop-dmb/internal/auth"
	"github.com/chopan123/stellar-workshop-dmb/internal/config"
	"github.com/chopan123/stellar-workshop-dmb/internal/defindex"
	"github.com/chopan123/stellar-workshop-dmb/internal/ledger"
	"github.com/chopan123/stellar-workshop-dmb/internal/observability/alerting"
	"github.com/chopan123/stellar-workshop-dmb/internal/run"
	"github.com/chopan123/stellar-workshop-dmb/internal/wallet"
	"github.com/chopan123/stellar-workshop-dmb/internal/workflow"
	"github.com/chopan123/stellar-workshop-dmb/pkg/logger"
)

// main 是 workshopd 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := runDaemon(ctx); err != nil {
		log.Fatalf("workshopd 运行失败: %v", err)
	}
}

func runDaemon(ctx context.Context) error {
	configPath := os.Getenv("WORKSHOPD_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "workshop.json")
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
			Enabled:    cfg.Logging.Audit.Enabled,
			Path:       cfg.Logging.Audit.Path,
			MaxSizeMB:  cfg.Logging.Audit.MaxSizeMB,
			MaxBackups: cfg.Logging.Audit.MaxBackups,
			MaxAgeDays: cfg.Logging.Audit.MaxAgeDays,
		},
	}); err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	// 解析网络定义并构造账本网关。
	definitions, err := ledger.LoadNetworkDefinitions(cfg.Network.Definitions)
	if err != nil {
		return err
	}
	netDef, err := ledger.ResolveNetwork(definitions, cfg.Network.Name)
	if err != nil {
		return err
	}
	gateway := ledger.NewHorizonGateway(netDef)

	ledgerClient, err := ledger.NewClient(gateway, netDef.Passphrase)
	if err != nil {
		return err
	}

	// 金库网关。API 地址优先取 vault 配置，缺省回落到网络定义。
	vaultURL := cfg.Vault.APIURL
	if vaultURL == "" {
		vaultURL = netDef.VaultAPIURL
	}
	var vaultGateway defindex.Gateway
	if vaultURL != "" {
		client, err := defindex.NewClient(defindex.Config{
			BaseURL: vaultURL,
			APIKey:  cfg.Vault.APIKey,
			Network: cfg.Network.Name,
			Timeout: time.Duration(cfg.Vault.TimeoutSeconds) * time.Second,
		})
		if err != nil {
			return err
		}
		vaultGateway = client
	} else {
		logger.L().Warn("未配置金库网关地址，金库工作流不可用")
	}

	executor, err := workflow.New(ledgerClient, vaultGateway, workflow.Params{
		AssetCode:         cfg.Workshop.AssetCode,
		AssetSupply:       cfg.Workshop.AssetSupply,
		PoolNativeAmount:  cfg.Workshop.PoolNativeAmt,
		PoolAssetAmount:   cfg.Workshop.PoolAssetAmt,
		SwapSendAmount:    cfg.Workshop.SwapSendAmt,
		SwapDestMin:       cfg.Workshop.SwapDestMin,
		SlippageBPS:       cfg.Workshop.SlippageBPS,
		VaultName:         cfg.Workshop.VaultName,
		VaultSymbol:       cfg.Workshop.VaultSymbol,
		VaultFeeBPS:       cfg.Workshop.VaultFeeBPS,
		VaultAsset:        cfg.Workshop.VaultAsset,
		VaultStrategy:     cfg.Workshop.VaultStrategy,
		VaultStrategyName: cfg.Workshop.VaultStrategyName,
		VaultDeposit:      cfg.Workshop.VaultDeposit,
		DepositAmount:     cfg.Workshop.DepositAmount,
		InvestOnDeposit:   cfg.Workshop.InvestOnDeposit,
		SettleDelay:       time.Duration(cfg.Vault.SettleDelayMS) * time.Millisecond,
	})
	if err != nil {
		return err
	}

	runStore, err := createRunStore(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if runStore != nil {
			_ = runStore.Close()
		}
	}()

	runQueue, err := createRunQueue(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if runQueue != nil {
			if err := runQueue.Close(); err != nil {
				logger.L().Error("关闭运行队列失败", slog.Any("error", err))
			}
		}
	}()

	runService := run.NewService(runStore, runQueue, cfg.Storage.RunStore.Retries)
	processorOpts := []run.ProcessorOption{
		run.WithWorkerCount(cfg.RunQueue.Worker),
		run.WithProcessorLogger(logger.Named("processor")),
	}
	if dispatcher := createAlertDispatcher(cfg); dispatcher != nil {
		processorOpts = append(processorOpts, run.WithAlertDispatcher(dispatcher))
	}
	processor := run.NewProcessor(executor, runStore, runQueue, runQueue, processorOpts...)

	processorCtx, processorCancel := context.WithCancel(ctx)
	defer processorCancel()

	go func() {
		if err := processor.Start(processorCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.L().Error("运行处理器异常退出", slog.Any("error", err))
		}
	}()

	// 钱包与会话服务，供界面查询余额。
	demoWallet, err := wallet.New(gateway)
	if err != nil {
		return err
	}
	sessions, err := auth.NewService(auth.Config{
		Enabled:      cfg.Auth.Enabled,
		SessionTTL:   time.Duration(cfg.Auth.SessionTTLMin) * time.Minute,
		DemoUser:     cfg.Auth.DemoUser,
		DemoPassword: cfg.Auth.DemoPassword,
	})
	if err != nil {
		return err
	}

	server := api.NewServer(cfg.Server.Address, runService,
		api.WithWallet(demoWallet),
		api.WithSessions(sessions),
	)

	logger.L().Info("workshopd 启动",
		slog.String("address", cfg.Server.Address),
		slog.String("network", cfg.Network.Name),
	)

	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// createAlertDispatcher 按配置组装告警通道，未启用或无可用通道时返回 nil。
func createAlertDispatcher(cfg *config.Config) alerting.Dispatcher {
	if !cfg.Alerting.Enabled {
		return nil
	}
	var notifiers []alerting.Notifier
	if cfg.Alerting.DingTalkWebhook != "" {
		notifiers = append(notifiers, &alerting.DingTalkNotifier{
			Sender: &alerting.DingTalkWebhook{URL: cfg.Alerting.DingTalkWebhook},
		})
	}
	if cfg.Alerting.SlackWebhook != "" {
		notifiers = append(notifiers, &alerting.SlackNotifier{
			Sender:    &alerting.SlackWebhook{URL: cfg.Alerting.SlackWebhook},
			ChannelID: cfg.Alerting.SlackChannel,
		})
	}
	if cfg.Alerting.Email.SMTPHost != "" && len(cfg.Alerting.Email.To) > 0 {
		notifiers = append(notifiers, &alerting.EmailNotifier{
			Sender: &alerting.SMTPEmailSender{
				Host:     cfg.Alerting.Email.SMTPHost,
				Port:     cfg.Alerting.Email.SMTPPort,
				Username: cfg.Alerting.Email.Username,
				Password: cfg.Alerting.Email.Password,
				From:     cfg.Alerting.Email.From,
			},
			To:            cfg.Alerting.Email.To,
			SubjectPrefix: cfg.Alerting.Email.SubjectPrefix,
		})
	}
	if len(notifiers) == 0 {
		logger.L().Warn("告警已启用但未配置任何通道")
		return nil
	}
	return alerting.NewFanout(notifiers...)
}

func createRunStore(cfg *config.Config) (run.Store, error) {
	switch cfg.Storage.RunStore.Driver {
	case "", "memory":
		return run.NewMemoryStore(), nil
	case "mysql":
		return run.NewMySQLStore(cfg.Storage.RunStore.DSN)
	default:
		return nil, fmt.Errorf("未知的存储驱动: %s", cfg.Storage.RunStore.Driver)
	}
}

func createRunQueue(cfg *config.Config) (run.Queue, error) {
	switch cfg.RunQueue.Driver {
	case "", "memory":
		return run.NewMemoryQueue(1024), nil
	case "redis":
		return run.NewRedisQueue(run.RedisQueueConfig{
			Address:   cfg.RunQueue.Redis.Address,
			Password:  cfg.RunQueue.Redis.Password,
			DB:        cfg.RunQueue.Redis.DB,
			Queue:     cfg.RunQueue.Redis.Queue,
			BlockWait: time.Duration(cfg.RunQueue.Redis.BlockWait) * time.Second,
		})
	case "rabbitmq":
		return run.NewRabbitMQQueue(run.RabbitMQConfig{
			URL:        cfg.RunQueue.RabbitMQ.URL,
			Queue:      cfg.RunQueue.RabbitMQ.Queue,
			Prefetch:   cfg.RunQueue.RabbitMQ.Prefetch,
			Durable:    cfg.RunQueue.RabbitMQ.Durable,
			AutoDelete: cfg.RunQueue.RabbitMQ.AutoDelete,
		})
	default:
		return nil, fmt.Errorf("未知的队列驱动: %s", cfg.RunQueue.Driver)
	}
}
