package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App         AppConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	Log         LogConfig
	HTTP        HTTPConfig
	Webhook     WebhookConfig
	ERP         ERPConfig
	Gateway     GatewayConfig
	StatusCache StatusCacheConfig
	Reconcile   ReconcileConfig
	Admin       AdminConfig
}

// AppConfig holds application-specific settings
type AppConfig struct {
	Name string
	Env  string
	Port string
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime int // in minutes
	ConnMaxIdleTime int // in minutes
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, or file path
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	MaxHeaderBytes int
	MaxBodySize    int64
	TrustedProxies []string
}

// WebhookConfig holds inbound webhook settings.
// PermissiveSignatures skips verification when a source secret is not
// configured. It is an explicit opt-in for non-production environments;
// production refuses to start with it enabled.
type WebhookConfig struct {
	ERPSecret            string
	PaymentSecret        string
	PermissiveSignatures bool
	DedupTTL             time.Duration
	MarkerTTL            time.Duration
}

// ERPConfig holds outbound ERP client settings
type ERPConfig struct {
	BaseURL         string
	ClientID        string
	ClientSecret    string
	RefreshToken    string
	Timeout         time.Duration
	RateLimitPerSec float64
	RateBurst       int
	RateWaitBudget  time.Duration
}

// GatewayConfig holds payment gateway read-back settings
type GatewayConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// StatusCacheConfig holds status resolution cache settings
type StatusCacheConfig struct {
	TTL time.Duration
}

// ReconcileConfig holds batch reconciliation loop settings
type ReconcileConfig struct {
	Enabled    bool
	Interval   time.Duration
	StaleAfter time.Duration
	BatchSize  int
}

// AdminConfig holds admin API access settings. Admin endpoints (replay,
// cache refresh, manual reconciliation) are disabled when the secret is
// empty.
type AdminConfig struct {
	JWTSecret string
	TokenTTL  time.Duration
	Issuer    string
}

// Load loads configuration from TOML file and environment variables
// Priority (highest to lowest):
// 1. Environment variables with INTEGRATION_ prefix (e.g. INTEGRATION_DATABASE_PASSWORD)
// 2. config.toml
// 3. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("/app")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults and env vars
	}

	v.SetEnvPrefix("INTEGRATION")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
			Port: v.GetString("app.port"),
		},
		Database: DatabaseConfig{
			Host:            v.GetString("database.host"),
			Port:            v.GetInt("database.port"),
			User:            v.GetString("database.user"),
			Password:        v.GetString("database.password"),
			DBName:          v.GetString("database.dbname"),
			SSLMode:         v.GetString("database.sslmode"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetInt("database.conn_max_lifetime"),
			ConnMaxIdleTime: v.GetInt("database.conn_max_idle_time"),
		},
		Redis: RedisConfig{
			Host:     v.GetString("redis.host"),
			Port:     v.GetInt("redis.port"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		HTTP: HTTPConfig{
			ReadTimeout:    v.GetDuration("http.read_timeout"),
			WriteTimeout:   v.GetDuration("http.write_timeout"),
			IdleTimeout:    v.GetDuration("http.idle_timeout"),
			MaxHeaderBytes: v.GetInt("http.max_header_bytes"),
			MaxBodySize:    v.GetInt64("http.max_body_size"),
			TrustedProxies: v.GetStringSlice("http.trusted_proxies"),
		},
		Webhook: WebhookConfig{
			ERPSecret:            v.GetString("webhook.erp_secret"),
			PaymentSecret:        v.GetString("webhook.payment_secret"),
			PermissiveSignatures: v.GetBool("webhook.permissive_signatures"),
			DedupTTL:             v.GetDuration("webhook.dedup_ttl"),
			MarkerTTL:            v.GetDuration("webhook.marker_ttl"),
		},
		ERP: ERPConfig{
			BaseURL:         v.GetString("erp.base_url"),
			ClientID:        v.GetString("erp.client_id"),
			ClientSecret:    v.GetString("erp.client_secret"),
			RefreshToken:    v.GetString("erp.refresh_token"),
			Timeout:         v.GetDuration("erp.timeout"),
			RateLimitPerSec: v.GetFloat64("erp.rate_limit_per_sec"),
			RateBurst:       v.GetInt("erp.rate_burst"),
			RateWaitBudget:  v.GetDuration("erp.rate_wait_budget"),
		},
		Gateway: GatewayConfig{
			BaseURL: v.GetString("gateway.base_url"),
			APIKey:  v.GetString("gateway.api_key"),
			Timeout: v.GetDuration("gateway.timeout"),
		},
		StatusCache: StatusCacheConfig{
			TTL: v.GetDuration("status_cache.ttl"),
		},
		Reconcile: ReconcileConfig{
			Enabled:    v.GetBool("reconcile.enabled"),
			Interval:   v.GetDuration("reconcile.interval"),
			StaleAfter: v.GetDuration("reconcile.stale_after"),
			BatchSize:  v.GetInt("reconcile.batch_size"),
		},
		Admin: AdminConfig{
			JWTSecret: v.GetString("admin.jwt_secret"),
			TokenTTL:  v.GetDuration("admin.token_ttl"),
			Issuer:    v.GetString("admin.issuer"),
		},
	}

	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyDefaults sets default values for any empty config fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "integration-backend"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.App.Port == "" {
		cfg.App.Port = "8080"
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.User == "" {
		cfg.Database.User = "postgres"
	}
	if cfg.Database.DBName == "" {
		cfg.Database.DBName = "integration"
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 60
	}
	if cfg.Database.ConnMaxIdleTime == 0 {
		cfg.Database.ConnMaxIdleTime = 30
	}
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stdout"
	}
	if cfg.HTTP.ReadTimeout == 0 {
		cfg.HTTP.ReadTimeout = 15 * time.Second
	}
	if cfg.HTTP.WriteTimeout == 0 {
		// The ERP expects a 2xx within 5 seconds; leave headroom for the
		// response to actually reach the wire.
		cfg.HTTP.WriteTimeout = 10 * time.Second
	}
	if cfg.HTTP.IdleTimeout == 0 {
		cfg.HTTP.IdleTimeout = 60 * time.Second
	}
	if cfg.HTTP.MaxHeaderBytes == 0 {
		cfg.HTTP.MaxHeaderBytes = 1 << 20 // 1MB
	}
	if cfg.HTTP.MaxBodySize == 0 {
		cfg.HTTP.MaxBodySize = 1 << 20 // 1MB, webhook payloads are small
	}
	if cfg.Webhook.DedupTTL == 0 {
		cfg.Webhook.DedupTTL = 24 * time.Hour
	}
	if cfg.Webhook.MarkerTTL == 0 {
		cfg.Webhook.MarkerTTL = 10 * time.Minute
	}
	if cfg.ERP.Timeout == 0 {
		cfg.ERP.Timeout = 10 * time.Second
	}
	if cfg.ERP.RateLimitPerSec == 0 {
		cfg.ERP.RateLimitPerSec = 3 // observed ERP limit
	}
	if cfg.ERP.RateBurst == 0 {
		cfg.ERP.RateBurst = 1
	}
	if cfg.ERP.RateWaitBudget == 0 {
		cfg.ERP.RateWaitBudget = 10 * time.Second
	}
	if cfg.Gateway.Timeout == 0 {
		cfg.Gateway.Timeout = 10 * time.Second
	}
	if cfg.StatusCache.TTL == 0 {
		cfg.StatusCache.TTL = 24 * time.Hour
	}
	if cfg.Reconcile.Interval == 0 {
		cfg.Reconcile.Interval = 15 * time.Minute
	}
	if cfg.Reconcile.StaleAfter == 0 {
		cfg.Reconcile.StaleAfter = 6 * time.Hour
	}
	if cfg.Reconcile.BatchSize == 0 {
		cfg.Reconcile.BatchSize = 50
	}
	if cfg.Admin.TokenTTL == 0 {
		cfg.Admin.TokenTTL = time.Hour
	}
	if cfg.Admin.Issuer == "" {
		cfg.Admin.Issuer = "integration-backend"
	}
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	if c.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("database.max_open_conns must be positive")
	}
	if c.Database.MaxIdleConns < 0 {
		return fmt.Errorf("database.max_idle_conns cannot be negative")
	}
	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return fmt.Errorf("database.max_idle_conns (%d) cannot exceed database.max_open_conns (%d)",
			c.Database.MaxIdleConns, c.Database.MaxOpenConns)
	}
	if c.ERP.RateLimitPerSec <= 0 {
		return fmt.Errorf("erp.rate_limit_per_sec must be positive")
	}

	if c.App.Env == "production" {
		if c.Webhook.PermissiveSignatures {
			return fmt.Errorf("webhook.permissive_signatures must be false in production (fail closed)")
		}
		if c.Webhook.ERPSecret == "" {
			return fmt.Errorf("webhook.erp_secret is required in production")
		}
		if c.Webhook.PaymentSecret == "" {
			return fmt.Errorf("webhook.payment_secret is required in production")
		}
		if c.Database.Password == "" {
			return fmt.Errorf("database.password is required in production")
		}
		if c.Database.SSLMode == "disable" {
			return fmt.Errorf("database.sslmode cannot be 'disable' in production")
		}
	}

	return nil
}

// DSN returns the database connection string with properly escaped values
func (d *DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   d.DBName,
	}
	q := u.Query()
	q.Set("sslmode", d.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}

// Addr returns the Redis address in host:port form
func (r *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}
