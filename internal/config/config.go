package config

import (
	"fmt"
	"log"
	"net/url"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	GHL      GHLConfig
	Meta     MetaConfig
	Claude   ClaudeConfig
	SMTP     SMTPConfig
	Telegram TelegramConfig
	RabbitMQ RabbitMQConfig
	Sentry   SentryConfig
	Sync     SyncConfig
	Log      LogConfig
}

type ServerConfig struct {
	Port int
	Env  string // "development", "production"
}

type DatabaseConfig struct {
	Driver  string // "mysql", "postgres", "sqlite"
	Host    string
	Port    string
	Name    string
	User    string
	Pass    string
	Charset string
	SSLMode string
	Path    string // sqlite file or DSN
}

type RedisConfig struct {
	Addr string
	Pass string
	DB   int
}

type GHLConfig struct {
	BaseURL      string
	APIKey       string
	LocationID   string
	LocationName string
	PageDelay    time.Duration
}

type MetaConfig struct {
	BaseURL     string
	AccessToken string
	AdAccountID string
	BusinessID  string
}

type ClaudeConfig struct {
	BaseURL   string
	APIKey    string
	Model     string
	MaxTokens int
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       string
}

// Enabled reports whether enough is set to deliver mail.
func (s SMTPConfig) Enabled() bool {
	return s.Host != "" && s.To != ""
}

type TelegramConfig struct {
	Token  string
	ChatID int64
}

type RabbitMQConfig struct {
	URL   string
	Queue string
}

type SentryConfig struct {
	DSN string
}

type SyncConfig struct {
	Cron string
	// Seed for the first configuration row when the table is empty.
	LTVFieldKey  string
	LTVFieldName string
}

type LogConfig struct {
	Level string
	File  string
}

func setDefaults() {
	viper.SetDefault("APP_PORT", 9876)
	viper.SetDefault("APP_ENV", "production")
	viper.SetDefault("DB_DRIVER", "postgres")
	viper.SetDefault("DB_HOST", "localhost")
	viper.SetDefault("DB_PORT", "5432")
	viper.SetDefault("DB_NAME", "ghl_meta_sync")
	viper.SetDefault("DB_USER", "postgres")
	viper.SetDefault("DB_CHARSET", "utf8mb4")
	viper.SetDefault("DB_SSLMODE", "disable")
	viper.SetDefault("DB_PATH", "ltvsync.db")
	viper.SetDefault("REDIS_DB", 0)
	viper.SetDefault("GHL_BASE_URL", "https://services.leadconnectorhq.com")
	viper.SetDefault("GHL_PAGE_DELAY", "500ms")
	viper.SetDefault("META_BASE_URL", "https://graph.facebook.com/v21.0")
	viper.SetDefault("CLAUDE_BASE_URL", "https://api.anthropic.com")
	viper.SetDefault("CLAUDE_MODEL", "claude-sonnet-4-20250514")
	viper.SetDefault("CLAUDE_MAX_TOKENS", 4096)
	viper.SetDefault("SMTP_PORT", 587)
	viper.SetDefault("RABBITMQ_QUEUE", "sync_runs")
	viper.SetDefault("SYNC_SCHEDULE_CRON", "0 2 * * *")
	viper.SetDefault("LOG_LEVEL", "info")
}

// Load reads configuration from .env file and environment variables.
func Load() (*Config, error) {
	// Load .env file (ignore error if missing)
	_ = godotenv.Load()

	viper.AutomaticEnv()
	setDefaults()

	pageDelay, err := time.ParseDuration(viper.GetString("GHL_PAGE_DELAY"))
	if err != nil {
		pageDelay = 500 * time.Millisecond
	}

	cfg := &Config{
		Server: ServerConfig{
			Port: viper.GetInt("APP_PORT"),
			Env:  viper.GetString("APP_ENV"),
		},
		Database: databaseFromEnv(),
		Redis: RedisConfig{
			Addr: viper.GetString("REDIS_ADDR"),
			Pass: viper.GetString("REDIS_PASS"),
			DB:   viper.GetInt("REDIS_DB"),
		},
		GHL: GHLConfig{
			BaseURL:      viper.GetString("GHL_BASE_URL"),
			APIKey:       viper.GetString("GHL_API_KEY"),
			LocationID:   viper.GetString("GHL_LOCATION_ID"),
			LocationName: viper.GetString("GHL_LOCATION_NAME"),
			PageDelay:    pageDelay,
		},
		Meta: MetaConfig{
			BaseURL:     viper.GetString("META_BASE_URL"),
			AccessToken: viper.GetString("META_ACCESS_TOKEN"),
			AdAccountID: viper.GetString("META_AD_ACCOUNT_ID"),
			BusinessID:  viper.GetString("META_BUSINESS_ID"),
		},
		Claude: ClaudeConfig{
			BaseURL:   viper.GetString("CLAUDE_BASE_URL"),
			APIKey:    viper.GetString("CLAUDE_API_KEY"),
			Model:     viper.GetString("CLAUDE_MODEL"),
			MaxTokens: viper.GetInt("CLAUDE_MAX_TOKENS"),
		},
		SMTP: SMTPConfig{
			Host:     viper.GetString("SMTP_HOST"),
			Port:     viper.GetInt("SMTP_PORT"),
			Username: viper.GetString("SMTP_USERNAME"),
			Password: viper.GetString("SMTP_PASSWORD"),
			From:     viper.GetString("SMTP_FROM_EMAIL"),
			To:       viper.GetString("SMTP_TO_EMAIL"),
		},
		Telegram: TelegramConfig{
			Token:  viper.GetString("TELEGRAM_BOT_TOKEN"),
			ChatID: viper.GetInt64("TELEGRAM_CHAT_ID"),
		},
		RabbitMQ: RabbitMQConfig{
			URL:   viper.GetString("RABBITMQ_URL"),
			Queue: viper.GetString("RABBITMQ_QUEUE"),
		},
		Sentry: SentryConfig{
			DSN: viper.GetString("SENTRY_DSN"),
		},
		Sync: SyncConfig{
			Cron:         viper.GetString("SYNC_SCHEDULE_CRON"),
			LTVFieldKey:  viper.GetString("GHL_LTV_FIELD_KEY"),
			LTVFieldName: viper.GetString("GHL_LTV_FIELD_NAME"),
		},
		Log: LogConfig{
			Level: viper.GetString("LOG_LEVEL"),
			File:  viper.GetString("LOG_FILE"),
		},
	}

	for _, w := range cfg.Warnings() {
		log.Println("WARNING: " + w)
	}

	return cfg, nil
}

// LoadDatabaseOnly reads just the database settings, for migrations.
func LoadDatabaseOnly() (*DatabaseConfig, error) {
	_ = godotenv.Load()
	viper.AutomaticEnv()
	setDefaults()

	db := databaseFromEnv()
	return &db, nil
}

func databaseFromEnv() DatabaseConfig {
	return DatabaseConfig{
		Driver:  viper.GetString("DB_DRIVER"),
		Host:    viper.GetString("DB_HOST"),
		Port:    viper.GetString("DB_PORT"),
		Name:    viper.GetString("DB_NAME"),
		User:    viper.GetString("DB_USER"),
		Pass:    viper.GetString("DB_PASS"),
		Charset: viper.GetString("DB_CHARSET"),
		SSLMode: viper.GetString("DB_SSLMODE"),
		Path:    viper.GetString("DB_PATH"),
	}
}

// Warnings lists missing credentials. The service still starts without them.
func (c *Config) Warnings() []string {
	var out []string
	if c.GHL.APIKey == "" {
		out = append(out, "GHL_API_KEY is not set")
	}
	if c.GHL.LocationID == "" {
		out = append(out, "GHL_LOCATION_ID is not set")
	}
	if c.Meta.AccessToken == "" {
		out = append(out, "META_ACCESS_TOKEN is not set")
	}
	if c.Meta.AdAccountID == "" {
		out = append(out, "META_AD_ACCOUNT_ID is not set")
	}
	if c.Claude.APIKey == "" {
		out = append(out, "CLAUDE_API_KEY is not set")
	}
	return out
}

// DSN returns the driver-specific connection string for GORM.
func (d *DatabaseConfig) DSN() string {
	switch d.Driver {
	case "mysql":
		return d.User + ":" + d.Pass + "@tcp(" + d.Host + ":" + d.Port + ")/" + d.Name + "?charset=" + d.Charset + "&parseTime=True&loc=UTC"
	case "sqlite":
		return d.Path
	default:
		u := url.URL{
			Scheme:   "postgres",
			User:     url.UserPassword(d.User, d.Pass),
			Host:     d.Host + ":" + d.Port,
			Path:     "/" + d.Name,
			RawQuery: "sslmode=" + d.SSLMode,
		}
		return u.String()
	}
}

func (d *DatabaseConfig) String() string {
	if d.Driver == "sqlite" {
		return fmt.Sprintf("sqlite(%s)", d.Path)
	}
	return fmt.Sprintf("%s(%s@%s:%s/%s)", d.Driver, d.User, d.Host, d.Port, d.Name)
}
