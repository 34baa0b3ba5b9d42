package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Config 描述 Enclava 网关启动阶段需要加载的核心配置。
type Config struct {
	Server  ServerConfig  `json:"server"`
	Backend BackendConfig `json:"backend"`
	Chain   ChainConfig   `json:"chain"`
	Storage StorageConfig `json:"storage"`
	Events  EventsConfig  `json:"events"`
	Notify  NotifyConfig  `json:"notify"`
	Logging LoggingConfig `json:"logging"`
	Runtime RuntimeConfig `json:"runtime"`
}

// ServerConfig 控制 REST 网关的监听地址等参数。
type ServerConfig struct {
	Address string `json:"address"`
}

// BackendConfig 描述数据市场后端 API 的访问方式。
type BackendConfig struct {
	BaseURL        string `json:"base_url"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// ChainConfig 包含访问区块链节点与数据集合约所需的信息。
type ChainConfig struct {
	DefinitionsPath string `json:"definitions_path"`
	ChainName       string `json:"chain_name"`
	ContractAddress string `json:"contract_address"`
	SignerKeyEnv    string `json:"signer_key_env"`
	ReceiptTimeout  int    `json:"receipt_timeout_seconds"`
}

// StorageConfig 统一描述购买流水存储后端的连接信息。
type StorageConfig struct {
	PurchaseStore PurchaseStoreConfig `json:"purchase_store"`
}

// PurchaseStoreConfig 默认提供内存实现，生产环境切换到 MySQL。
type PurchaseStoreConfig struct {
	Driver string `json:"driver"`
	DSN    string `json:"dsn"`
}

// EventsConfig 配置铸造事件总线的实现方式。
type EventsConfig struct {
	Driver   string         `json:"driver"`
	Redis    RedisConfig    `json:"redis"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq"`
}

// RedisConfig 描述 Redis 连接参数。
type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	Key      string `json:"key"`
}

// RabbitMQConfig 描述 RabbitMQ 连接参数。
type RabbitMQConfig struct {
	URL   string `json:"url"`
	Queue string `json:"queue"`
}

// NotifyConfig 配置用户提示的额外出口。WebhookURL 为空时只保留
// 日志与轮询缓冲两个出口。
type NotifyConfig struct {
	WebhookURL     string `json:"webhook_url"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// LoggingConfig 控制日志输出。
type LoggingConfig struct {
	Level       string   `json:"level"`
	Format      string   `json:"format"`
	OutputPaths []string `json:"output_paths"`
	AuditPath   string   `json:"audit_path"`
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir string `json:"data_dir"`
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

	if c.Backend.TimeoutSeconds <= 0 {
		c.Backend.TimeoutSeconds = 30
	}

	if c.Chain.ChainName == "" {
		c.Chain.ChainName = "sepolia"
	}
	if c.Chain.SignerKeyEnv == "" {
		c.Chain.SignerKeyEnv = "ENCLAVA_SIGNER_KEY"
	}
	if c.Chain.ReceiptTimeout <= 0 {
		c.Chain.ReceiptTimeout = 120
	}
	if c.Chain.DefinitionsPath != "" && !filepath.IsAbs(c.Chain.DefinitionsPath) {
		c.Chain.DefinitionsPath = filepath.Join(baseDir, c.Chain.DefinitionsPath)
	}

	if c.Storage.PurchaseStore.Driver == "" {
		c.Storage.PurchaseStore.Driver = "memory"
	}

	if c.Events.Driver == "" {
		c.Events.Driver = "memory"
	}
	if c.Events.Redis.Key == "" {
		c.Events.Redis.Key = "enclava:mint-events"
	}
	if c.Events.RabbitMQ.Queue == "" {
		c.Events.RabbitMQ.Queue = "enclava.mint-events"
	}

	if c.Notify.TimeoutSeconds <= 0 {
		c.Notify.TimeoutSeconds = 5
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	if c.Runtime.DataDir == "" {
		c.Runtime.DataDir = filepath.Join(baseDir, "data")
	} else if !filepath.IsAbs(c.Runtime.DataDir) {
		c.Runtime.DataDir = filepath.Join(baseDir, c.Runtime.DataDir)
	}
}
