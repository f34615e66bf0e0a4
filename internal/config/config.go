package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Log       LogConfig       `yaml:"log"`
	Webhook   WebhookConfig   `yaml:"webhook"`
	Telegram  TelegramConfig  `yaml:"telegram"`
	Delivery  DeliveryConfig  `yaml:"delivery"`
	Processor ProcessorConfig `yaml:"processor"`
	Payment   PaymentConfig   `yaml:"payment"`
	Admin     AdminConfig     `yaml:"admin"`
	Plans     []PlanConfig    `yaml:"plans"`
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Port string `yaml:"port"`
	Host string `yaml:"host"`
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	DSN      string `yaml:"dsn"`
	LogLevel string `yaml:"log_level"` // silent, error, warn, info
}

// LogConfig represents logging configuration
type LogConfig struct {
	Level      string `yaml:"level"`
	Console    bool   `yaml:"console"`
	File       bool   `yaml:"file"`
	FilePath   string `yaml:"file_path"`
	MaxSize    int    `yaml:"max_size"` // megabytes
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"` // days
}

// WebhookConfig represents inbound webhook configuration
type WebhookConfig struct {
	Secret string `yaml:"secret,omitempty"`
	Source string `yaml:"source"`
}

// TelegramConfig represents the Telegram Bot API configuration
type TelegramConfig struct {
	Token         string        `yaml:"token"`
	BaseURL       string        `yaml:"base_url"`
	RatePerSecond float64       `yaml:"rate_per_second"`
	Timeout       time.Duration `yaml:"timeout"`
}

// DeliveryConfig controls the per-recipient fan-out
type DeliveryConfig struct {
	Workers        int           `yaml:"workers"`
	Timeout        time.Duration `yaml:"timeout"`
	MaxAttempts    int           `yaml:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
}

// ProcessorConfig controls the asynchronous alert workers
type ProcessorConfig struct {
	Workers   int `yaml:"workers"`
	QueueSize int `yaml:"queue_size"`

	// RequeueInterval is how often received alerts are swept back into the queue
	RequeueInterval time.Duration `yaml:"requeue_interval"`
}

// PaymentConfig represents payment instruction and proof settings
type PaymentConfig struct {
	TTL           time.Duration `yaml:"ttl"`
	PayeeVPA      string        `yaml:"payee_vpa"`
	PayeeName     string        `yaml:"payee_name"`
	MerchantCode  string        `yaml:"merchant_code"`
	Currency      string        `yaml:"currency"`
	UploadDir     string        `yaml:"upload_dir"`
	QRDir         string        `yaml:"qr_dir"`
	MaxProofBytes int64         `yaml:"max_proof_bytes"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
	NodeID        int64         `yaml:"node_id"` // snowflake node for transaction ids
}

// AdminConfig represents admin authentication settings
type AdminConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// PlanConfig represents a subscription plan seeded at startup
type PlanConfig struct {
	Code           string `yaml:"code"`
	Name           string `yaml:"name"`
	Price          string `yaml:"price"`
	Currency       string `yaml:"currency"`
	DurationMonths int    `yaml:"duration_months"`
	DurationDays   int    `yaml:"duration_days"`
}

// LoadConfig loads configuration from a YAML file
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.ApplyDefaults()
	return &config, nil
}

// SaveConfig saves configuration to a YAML file
func SaveConfig(config *Config, filename string) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// ApplyDefaults fills in zero values
func (c *Config) ApplyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
	if c.Database.DSN == "" {
		c.Database.DSN = "alertbot.db"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if !c.Log.Console && !c.Log.File {
		c.Log.Console = true
	}
	if c.Log.FilePath == "" {
		c.Log.FilePath = "logs/alertbot.log"
	}
	if c.Log.MaxSize == 0 {
		c.Log.MaxSize = 100
	}
	if c.Log.MaxBackups == 0 {
		c.Log.MaxBackups = 7
	}
	if c.Log.MaxAge == 0 {
		c.Log.MaxAge = 30
	}
	if c.Webhook.Source == "" {
		c.Webhook.Source = "tradingview"
	}
	if c.Telegram.BaseURL == "" {
		c.Telegram.BaseURL = "https://api.telegram.org"
	}
	if c.Telegram.RatePerSecond <= 0 {
		c.Telegram.RatePerSecond = 25
	}
	if c.Telegram.Timeout <= 0 {
		c.Telegram.Timeout = 10 * time.Second
	}
	if c.Delivery.Workers <= 0 {
		c.Delivery.Workers = 8
	}
	if c.Delivery.Timeout <= 0 {
		c.Delivery.Timeout = 5 * time.Second
	}
	if c.Delivery.MaxAttempts <= 0 {
		c.Delivery.MaxAttempts = 3
	}
	if c.Delivery.InitialBackoff <= 0 {
		c.Delivery.InitialBackoff = 500 * time.Millisecond
	}
	if c.Delivery.MaxBackoff <= 0 {
		c.Delivery.MaxBackoff = 5 * time.Second
	}
	if c.Processor.Workers <= 0 {
		c.Processor.Workers = 4
	}
	if c.Processor.QueueSize <= 0 {
		c.Processor.QueueSize = 256
	}
	if c.Processor.RequeueInterval <= 0 {
		c.Processor.RequeueInterval = 30 * time.Second
	}
	if c.Payment.TTL <= 0 {
		c.Payment.TTL = 24 * time.Hour
	}
	if c.Payment.Currency == "" {
		c.Payment.Currency = "INR"
	}
	if c.Payment.UploadDir == "" {
		c.Payment.UploadDir = "uploads/proofs"
	}
	if c.Payment.QRDir == "" {
		c.Payment.QRDir = "uploads/qr"
	}
	if c.Payment.MaxProofBytes <= 0 {
		c.Payment.MaxProofBytes = 5 << 20
	}
	if c.Payment.SweepInterval <= 0 {
		c.Payment.SweepInterval = time.Minute
	}
}
