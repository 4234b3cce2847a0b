package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Config 描述了 workshopd 在启动阶段需要加载的核心配置。
type Config struct {
	Server   ServerConfig   `json:"server"`
	Logging  LoggingConfig  `json:"logging"`
	Network  NetworkConfig  `json:"network"`
	Vault    VaultConfig    `json:"vault"`
	Workshop WorkshopConfig `json:"workshop"`
	Storage  StorageConfig  `json:"storage"`
	RunQueue RunQueueConfig `json:"run_queue"`
	Auth     AuthConfig     `json:"auth"`
	Alerting AlertingConfig `json:"alerting"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address string `json:"address"`
}

// LoggingConfig 映射到 pkg/logger 的初始化参数。
type LoggingConfig struct {
	Level       string         `json:"level"`
	Format      string         `json:"format"`
	OutputPaths []string       `json:"output_paths"`
	Audit       AuditLogConfig `json:"audit"`
}

// AuditLogConfig 控制审计日志的滚动策略。
type AuditLogConfig struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
}

// NetworkConfig 指定要使用的 Stellar 网络定义。
// Definitions 指向一个 YAML 文件，其中列出可用网络（testnet、futurenet 等），
// Name 选择其中一个作为默认网络。
type NetworkConfig struct {
	Name        string `json:"name"`
	Definitions string `json:"definitions"`
}

// VaultConfig 描述访问 DefIndex 金库网关所需的参数。
type VaultConfig struct {
	APIURL         string `json:"api_url"`
	APIKey         string `json:"api_key"`
	TimeoutSeconds int    `json:"timeout_seconds"`
	// SettleDelayMS 是金库存款提交前的固定等待时间（毫秒）。
	// 这是对网关自身状态传播的经验性让步，并非正确性保证。
	SettleDelayMS int `json:"settle_delay_ms"`
}

// WorkshopConfig 收敛两个工作流的业务参数，便于在演示时调整。
type WorkshopConfig struct {
	AssetCode         string `json:"asset_code"`
	AssetSupply       string `json:"asset_supply"`
	PoolNativeAmt     string `json:"pool_native_amount"`
	PoolAssetAmt      string `json:"pool_asset_amount"`
	SwapSendAmt       string `json:"swap_send_amount"`
	SwapDestMin       string `json:"swap_dest_min"`
	VaultFeeBPS       int    `json:"vault_fee_bps"`
	VaultName         string `json:"vault_name"`
	VaultSymbol       string `json:"vault_symbol"`
	VaultAsset        string `json:"vault_asset"`
	VaultStrategy     string `json:"vault_strategy"`
	VaultStrategyName string `json:"vault_strategy_name"`
	VaultDeposit      string `json:"vault_deposit"`
	DepositAmount     string `json:"deposit_amount"`
	SlippageBPS       int    `json:"slippage_bps"`
	InvestOnDeposit   bool   `json:"invest_on_deposit"`
}

// StorageConfig 统一描述运行记录的持久化后端。
type StorageConfig struct {
	RunStore RunStoreConfig `json:"run_store"`
}

// RunStoreConfig 支持 memory 与 mysql 两种驱动。
type RunStoreConfig struct {
	Driver  string `json:"driver"`
	DSN     string `json:"dsn"`
	Retries int    `json:"retries"`
}

// RunQueueConfig 描述运行队列的驱动与连接参数。
type RunQueueConfig struct {
	Driver   string              `json:"driver"`
	Worker   int                 `json:"worker"`
	Redis    RedisQueueConfig    `json:"redis"`
	RabbitMQ RabbitMQQueueConfig `json:"rabbitmq"`
}

// RedisQueueConfig 描述 Redis 队列的连接信息。
type RedisQueueConfig struct {
	Address   string `json:"address"`
	Password  string `json:"password"`
	DB        int    `json:"db"`
	Queue     string `json:"queue"`
	BlockWait int    `json:"block_wait_seconds"`
}

// RabbitMQQueueConfig 描述 RabbitMQ 队列的连接信息。
type RabbitMQQueueConfig struct {
	URL        string `json:"url"`
	Queue      string `json:"queue"`
	Prefetch   int    `json:"prefetch"`
	Durable    bool   `json:"durable"`
	AutoDelete bool   `json:"auto_delete"`
}

// AuthConfig 控制会话服务的行为，仅用于钱包 UI 的接口门禁。
type AuthConfig struct {
	Enabled       bool   `json:"enabled"`
	SessionTTLMin int    `json:"session_ttl_minutes"`
	DemoUser      string `json:"demo_user"`
	DemoPassword  string `json:"demo_password"`
}

// AlertingConfig 描述终态失败告警的投递渠道，留空的渠道不会注册。
type AlertingConfig struct {
	Enabled         bool             `json:"enabled"`
	DingTalkWebhook string           `json:"dingtalk_webhook"`
	SlackWebhook    string           `json:"slack_webhook"`
	SlackChannel    string           `json:"slack_channel"`
	Email           EmailAlertConfig `json:"email"`
}

// EmailAlertConfig 描述邮件告警所需的 SMTP 参数与收件人。
type EmailAlertConfig struct {
	SMTPHost      string   `json:"smtp_host"`
	SMTPPort      int      `json:"smtp_port"`
	Username      string   `json:"username"`
	Password      string   `json:"password"`
	From          string   `json:"from"`
	To            []string `json:"to"`
	SubjectPrefix string   `json:"subject_prefix"`
}

// Load 负责解析指定路径的 JSON 配置文件。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开配置文件失败: %w", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))

	return &cfg, nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	if c.Network.Name == "" {
		c.Network.Name = "testnet"
	}
	if c.Network.Definitions == "" {
		c.Network.Definitions = filepath.Join(baseDir, "networks.yaml")
	} else if !filepath.IsAbs(c.Network.Definitions) {
		c.Network.Definitions = filepath.Join(baseDir, c.Network.Definitions)
	}

	if c.Vault.TimeoutSeconds <= 0 {
		c.Vault.TimeoutSeconds = 30
	}
	if c.Vault.SettleDelayMS <= 0 {
		c.Vault.SettleDelayMS = 1000
	}

	if c.Workshop.AssetCode == "" {
		c.Workshop.AssetCode = "DMB"
	}
	if c.Workshop.AssetSupply == "" {
		c.Workshop.AssetSupply = "1000000"
	}
	if c.Workshop.PoolNativeAmt == "" {
		c.Workshop.PoolNativeAmt = "1000"
	}
	if c.Workshop.PoolAssetAmt == "" {
		c.Workshop.PoolAssetAmt = "500000"
	}
	if c.Workshop.SwapSendAmt == "" {
		c.Workshop.SwapSendAmt = "10"
	}
	if c.Workshop.SwapDestMin == "" {
		c.Workshop.SwapDestMin = "1"
	}
	if c.Workshop.VaultFeeBPS <= 0 {
		c.Workshop.VaultFeeBPS = 100
	}
	if c.Workshop.VaultName == "" {
		c.Workshop.VaultName = "Workshop Vault"
	}
	if c.Workshop.VaultSymbol == "" {
		c.Workshop.VaultSymbol = "WSV"
	}
	if c.Workshop.VaultStrategyName == "" {
		c.Workshop.VaultStrategyName = "hodl"
	}
	if c.Workshop.VaultDeposit == "" {
		c.Workshop.VaultDeposit = "10000000"
	}
	if c.Workshop.DepositAmount == "" {
		c.Workshop.DepositAmount = "5000000"
	}
	if c.Workshop.SlippageBPS <= 0 {
		c.Workshop.SlippageBPS = 50
	}

	if c.Storage.RunStore.Driver == "" {
		c.Storage.RunStore.Driver = "memory"
	}
	if c.Storage.RunStore.Retries <= 0 {
		c.Storage.RunStore.Retries = 3
	}

	if c.RunQueue.Driver == "" {
		c.RunQueue.Driver = "memory"
	}
	if c.RunQueue.Worker <= 0 {
		c.RunQueue.Worker = 1
	}

	if c.Auth.SessionTTLMin <= 0 {
		c.Auth.SessionTTLMin = 60
	}

	if c.Alerting.Email.SubjectPrefix == "" {
		c.Alerting.Email.SubjectPrefix = "[workshopd] "
	}
}
