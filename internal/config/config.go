package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration
type Config struct {
	Env      string         `envconfig:"ENV" default:"development"`
	Server   ServerConfig   `envconfig:"SERVER"`
	Database DatabaseConfig `envconfig:"POSTGRES"`
	RabbitMQ RabbitMQConfig `envconfig:"RABBITMQ"`
	Redis    RedisConfig    `envconfig:"REDIS"`
	Log      LogConfig      `envconfig:"LOG"`
	Vendor   VendorConfig   `envconfig:"VENDOR"`
	Tagging  TaggingConfig  `envconfig:"TAGGING"`
	Pipeline PipelineConfig `envconfig:"PIPELINE"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port      string  `envconfig:"PORT" default:"8080"`
	RateLimit float64 `envconfig:"RATE_LIMIT" default:"100"`
	RateBurst int     `envconfig:"RATE_BURST" default:"200"`
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Host         string `envconfig:"HOST" default:"localhost"`
	Port         string `envconfig:"PORT" default:"5432"`
	User         string `envconfig:"USER" default:"xeno"`
	Password     string `envconfig:"PASSWORD"`
	DBName       string `envconfig:"DB" default:"xeno_crm"`
	SSLMode      string `envconfig:"SSLMODE" default:"disable"`
	MaxOpenConns int    `envconfig:"MAX_OPEN_CONNS" default:"20"`
}

// RabbitMQConfig holds RabbitMQ configuration
type RabbitMQConfig struct {
	Host     string `envconfig:"HOST" default:"localhost"`
	Port     string `envconfig:"PORT" default:"5672"`
	User     string `envconfig:"DEFAULT_USER" default:"guest"`
	Password string `envconfig:"DEFAULT_PASS" default:"guest"`
	VHost    string `envconfig:"VHOST" default:"/"`
}

// RedisConfig holds Redis configuration. An empty address disables the
// scheduler claim lock.
type RedisConfig struct {
	Address  string `envconfig:"ADDRESS"`
	Password string `envconfig:"PASSWORD"`
	DB       int    `envconfig:"DB" default:"0"`
}

// LogConfig holds logger configuration
type LogConfig struct {
	Level  string `envconfig:"LEVEL" default:"info"`
	Format string `envconfig:"FORMAT" default:"console"`
}

// VendorConfig holds the messaging vendor integration settings
type VendorConfig struct {
	APIURL      string        `envconfig:"API_URL" default:"http://localhost:9000"`
	Timeout     time.Duration `envconfig:"TIMEOUT" default:"10s"`
	CallbackURL string        `envconfig:"CALLBACK_URL" default:"http://localhost:8080"`
	SuccessRate float64       `envconfig:"SUCCESS_RATE" default:"0.9"`
	Port        string        `envconfig:"PORT" default:"9000"`
	RateLimit   float64       `envconfig:"RATE_LIMIT" default:"50"`
	RateBurst   int           `envconfig:"RATE_BURST" default:"10"`
}

// TaggingConfig holds the text-generation collaborator settings
type TaggingConfig struct {
	BaseURL string        `envconfig:"BASE_URL" default:"https://generativelanguage.googleapis.com"`
	APIKey  string        `envconfig:"API_KEY"`
	Model   string        `envconfig:"MODEL" default:"gemini-2.0-flash"`
	Timeout time.Duration `envconfig:"TIMEOUT" default:"8s"`
	// consecutive failures before the breaker opens
	BreakerThreshold uint32        `envconfig:"BREAKER_THRESHOLD" default:"5"`
	BreakerCooldown  time.Duration `envconfig:"BREAKER_COOLDOWN" default:"30s"`
}

// PipelineConfig holds the tuning knobs of the delivery pipeline
type PipelineConfig struct {
	SchedulerInterval    time.Duration `envconfig:"SCHEDULER_INTERVAL" default:"60s"`
	SchedulerBatchSize   int           `envconfig:"SCHEDULER_BATCH_SIZE" default:"100"`
	SchedulerLockTTL     time.Duration `envconfig:"SCHEDULER_LOCK_TTL" default:"50s"`
	FanoutBatchSize      int           `envconfig:"FANOUT_BATCH_SIZE" default:"100"`
	ReceiptBatchSize     int           `envconfig:"RECEIPT_BATCH_SIZE" default:"100"`
	ReceiptFlushInterval time.Duration `envconfig:"RECEIPT_FLUSH_INTERVAL" default:"5s"`
	ReceiptBufferMax     int           `envconfig:"RECEIPT_BUFFER_MAX" default:"10000"`
	RejectPolicy         string        `envconfig:"REJECT_POLICY" default:"drop"`
	CampaignCacheTTL     time.Duration `envconfig:"CAMPAIGN_CACHE_TTL" default:"5m"`
}

// Load reads configuration from the environment, after loading a .env file
// if one is present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// VendorOnly is the configuration subset used by the vendor simulator
type VendorOnly struct {
	Log    LogConfig    `envconfig:"LOG"`
	Vendor VendorConfig `envconfig:"VENDOR"`
}

// LoadVendor reads the vendor simulator configuration
func LoadVendor() (*VendorOnly, error) {
	_ = godotenv.Load()

	var cfg VendorOnly
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Vendor.SuccessRate < 0 || cfg.Vendor.SuccessRate > 1 {
		return nil, fmt.Errorf("VENDOR_SUCCESS_RATE must be between 0 and 1")
	}
	return &cfg, nil
}

// Validate checks values envconfig cannot express as tags
func (c *Config) Validate() error {
	if c.Database.Password == "" {
		return fmt.Errorf("POSTGRES_PASSWORD is required")
	}
	switch c.Pipeline.RejectPolicy {
	case "drop", "requeue", "dead_letter":
	default:
		return fmt.Errorf("PIPELINE_REJECT_POLICY must be one of drop, requeue, dead_letter")
	}
	if c.Pipeline.ReceiptBatchSize <= 0 {
		return fmt.Errorf("PIPELINE_RECEIPT_BATCH_SIZE must be greater than 0")
	}
	if c.Pipeline.ReceiptBufferMax < c.Pipeline.ReceiptBatchSize {
		return fmt.Errorf("PIPELINE_RECEIPT_BUFFER_MAX must be at least PIPELINE_RECEIPT_BATCH_SIZE")
	}
	if c.Pipeline.FanoutBatchSize <= 0 {
		return fmt.Errorf("PIPELINE_FANOUT_BATCH_SIZE must be greater than 0")
	}
	if c.Pipeline.SchedulerInterval <= 0 || c.Pipeline.ReceiptFlushInterval <= 0 {
		return fmt.Errorf("pipeline intervals must be positive")
	}
	return nil
}

// GetDatabaseDSN returns PostgreSQL connection string
func (c *Config) GetDatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host,
		c.Database.Port,
		c.Database.User,
		c.Database.Password,
		c.Database.DBName,
		c.Database.SSLMode,
	)
}

// GetRabbitMQURL returns RabbitMQ connection URL
func (c *Config) GetRabbitMQURL() string {
	vhost := c.RabbitMQ.VHost
	if vhost == "/" {
		vhost = ""
	}
	return fmt.Sprintf(
		"amqp://%s:%s@%s:%s/%s",
		c.RabbitMQ.User,
		c.RabbitMQ.Password,
		c.RabbitMQ.Host,
		c.RabbitMQ.Port,
		vhost,
	)
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}
