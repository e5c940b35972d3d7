// Package config loads the gateway configuration from the environment, with
// per-environment profile defaults and an optional YAML overlay for
// non-secret settings.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

type Environment string

const (
	EnvDev        Environment = "dev"
	EnvStaging    Environment = "staging"
	EnvProduction Environment = "production"
)

type Config struct {
	Env             Environment
	Port            string
	Version         string
	DebugAuthBypass bool

	DB        DBConfig
	Redis     RedisConfig
	Keycloak  KeycloakConfig
	Admission AdmissionConfig
	RateLimit RateLimitConfig
	WS        WSConfig
	Audit     AuditConfig
	Log       LogConfig
}

type DBConfig struct {
	User        string
	Password    string
	Host        string
	Port        int
	Name        string
	PoolSize    int
	MaxOverflow int
	PoolRecycle time.Duration
	PoolPrePing bool
}

// DSN renders the lib/pq connection string.
func (c DBConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		c.Host, c.Port, c.User, c.Password, c.Name)
}

// MaxOpenConns is the pool ceiling: base pool plus overflow.
func (c DBConfig) MaxOpenConns() int {
	return c.PoolSize + c.MaxOverflow
}

type RedisConfig struct {
	IP             string
	Port           int
	MainDB         int
	AuthDB         int
	MaxConnections int
	SocketTimeout  time.Duration
	ConnectTimeout time.Duration
	HealthCheck    time.Duration
	RetryOnTimeout bool
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.IP, c.Port)
}

type KeycloakConfig struct {
	Realm         string
	ClientID      string
	BaseURL       string
	AdminUsername string
	AdminPassword string
	// RoleClaim is the claim path yielding the principal's role list.
	RoleClaim string
}

// JWKSURL is the realm certificate endpoint used for token validation.
func (c KeycloakConfig) JWKSURL() string {
	return fmt.Sprintf("%s/realms/%s/protocol/openid-connect/certs",
		strings.TrimRight(c.BaseURL, "/"), c.Realm)
}

type AdmissionConfig struct {
	AllowedHosts       []string
	TrustedProxies     []string
	MaxRequestBodySize int64
}

type FailMode string

const (
	FailOpen   FailMode = "open"
	FailClosed FailMode = "closed"
)

type RateLimitConfig struct {
	Enabled   bool
	PerMinute int
	Burst     int
	FailMode  FailMode
}

type WSConfig struct {
	MaxConnectionsPerUser int
	MessageRateLimit      int
}

type AuditConfig struct {
	Enabled      bool
	QueueMaxSize int
	BatchSize    int
	BatchTimeout time.Duration
	QueueTimeout time.Duration
}

type LogConfig struct {
	Level         string
	ConsoleFormat string // json or human
	FilePath      string
}

// fileConfig is the optional YAML overlay (CONFIG_FILE). It carries only
// non-secret settings; environment variables always win.
type fileConfig struct {
	AllowedHosts   []string `yaml:"allowed_hosts"`
	TrustedProxies []string `yaml:"trusted_proxies"`
	RateLimit      struct {
		PerMinute int `yaml:"per_minute"`
		Burst     int `yaml:"burst"`
	} `yaml:"rate_limit"`
	WS struct {
		MaxConnectionsPerUser int `yaml:"max_connections_per_user"`
		MessageRateLimit      int `yaml:"message_rate_limit"`
	} `yaml:"ws"`
	Audit struct {
		QueueMaxSize int `yaml:"queue_max_size"`
		BatchSize    int `yaml:"batch_size"`
	} `yaml:"audit"`
}

// Load reads configuration from the environment. Profile defaults depend on
// ENV; the YAML overlay (if CONFIG_FILE is set) applies between defaults and
// environment variables.
func Load() (*Config, error) {
	env := Environment(envStr("ENV", string(EnvDev)))

	cfg := &Config{
		Env:             env,
		Port:            envStr("PORT", "8000"),
		Version:         envStr("VERSION", "dev"),
		DebugAuthBypass: envBool("DEBUG_AUTH_BYPASS", false),
		DB: DBConfig{
			User:        os.Getenv("DB_USER"),
			Password:    os.Getenv("DB_PASSWORD"),
			Host:        os.Getenv("DB_HOST"),
			Port:        envInt("DB_PORT", 5432),
			Name:        os.Getenv("DB_NAME"),
			PoolSize:    envInt("DB_POOL_SIZE", 10),
			MaxOverflow: envInt("DB_MAX_OVERFLOW", 10),
			PoolRecycle: envSeconds("DB_POOL_RECYCLE", 1800*time.Second),
			PoolPrePing: envBool("DB_POOL_PRE_PING", true),
		},
		Redis: RedisConfig{
			IP:             os.Getenv("REDIS_IP"),
			Port:           envInt("REDIS_PORT", 6379),
			MainDB:         envInt("MAIN_REDIS_DB", 0),
			AuthDB:         envInt("AUTH_REDIS_DB", 1),
			MaxConnections: envInt("REDIS_MAX_CONNECTIONS", 50),
			SocketTimeout:  envSeconds("REDIS_SOCKET_TIMEOUT", 5*time.Second),
			ConnectTimeout: envSeconds("REDIS_CONNECT_TIMEOUT", 5*time.Second),
			HealthCheck:    envSeconds("REDIS_HEALTH_CHECK_INTERVAL", 30*time.Second),
			RetryOnTimeout: envBool("REDIS_RETRY_ON_TIMEOUT", true),
		},
		Keycloak: KeycloakConfig{
			Realm:         os.Getenv("KEYCLOAK_REALM"),
			ClientID:      os.Getenv("KEYCLOAK_CLIENT_ID"),
			BaseURL:       os.Getenv("KEYCLOAK_BASE_URL"),
			AdminUsername: os.Getenv("KEYCLOAK_ADMIN_USERNAME"),
			AdminPassword: os.Getenv("KEYCLOAK_ADMIN_PASSWORD"),
			RoleClaim:     "realm_access.roles",
		},
		Admission: AdmissionConfig{
			AllowedHosts:       envList("ALLOWED_HOSTS", defaultHosts(env)),
			TrustedProxies:     envList("TRUSTED_PROXIES", nil),
			MaxRequestBodySize: int64(envInt("MAX_REQUEST_BODY_SIZE", 1<<20)),
		},
		RateLimit: RateLimitConfig{
			Enabled:   envBool("RATE_LIMIT_ENABLED", env == EnvProduction),
			PerMinute: envInt("RATE_LIMIT_PER_MINUTE", 120),
			Burst:     envInt("RATE_LIMIT_BURST", 0),
			FailMode:  FailMode(envStr("RATE_LIMIT_FAIL_MODE", string(FailOpen))),
		},
		WS: WSConfig{
			MaxConnectionsPerUser: envInt("WS_MAX_CONNECTIONS_PER_USER", 5),
			MessageRateLimit:      envInt("WS_MESSAGE_RATE_LIMIT", 120),
		},
		Audit: AuditConfig{
			Enabled:      envBool("AUDIT_LOG_ENABLED", true),
			QueueMaxSize: envInt("AUDIT_QUEUE_MAX_SIZE", 10000),
			BatchSize:    envInt("AUDIT_BATCH_SIZE", 100),
			BatchTimeout: envSeconds("AUDIT_BATCH_TIMEOUT", 5*time.Second),
			QueueTimeout: envSeconds("AUDIT_QUEUE_TIMEOUT", 1*time.Second),
		},
		Log: LogConfig{
			Level:         envStr("LOG_LEVEL", defaultLogLevel(env)),
			ConsoleFormat: envStr("LOG_CONSOLE_FORMAT", defaultLogFormat(env)),
			FilePath:      os.Getenv("LOG_FILE_PATH"),
		},
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.applyOverlay(path); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func (c *Config) applyOverlay(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var overlay fileConfig
	if err := yaml.Unmarshal(raw, &overlay); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	// Environment variables win over the overlay.
	if len(overlay.AllowedHosts) > 0 && os.Getenv("ALLOWED_HOSTS") == "" {
		c.Admission.AllowedHosts = overlay.AllowedHosts
	}
	if len(overlay.TrustedProxies) > 0 && os.Getenv("TRUSTED_PROXIES") == "" {
		c.Admission.TrustedProxies = overlay.TrustedProxies
	}
	if overlay.RateLimit.PerMinute > 0 && os.Getenv("RATE_LIMIT_PER_MINUTE") == "" {
		c.RateLimit.PerMinute = overlay.RateLimit.PerMinute
	}
	if overlay.RateLimit.Burst > 0 && os.Getenv("RATE_LIMIT_BURST") == "" {
		c.RateLimit.Burst = overlay.RateLimit.Burst
	}
	if overlay.WS.MaxConnectionsPerUser > 0 && os.Getenv("WS_MAX_CONNECTIONS_PER_USER") == "" {
		c.WS.MaxConnectionsPerUser = overlay.WS.MaxConnectionsPerUser
	}
	if overlay.WS.MessageRateLimit > 0 && os.Getenv("WS_MESSAGE_RATE_LIMIT") == "" {
		c.WS.MessageRateLimit = overlay.WS.MessageRateLimit
	}
	if overlay.Audit.QueueMaxSize > 0 && os.Getenv("AUDIT_QUEUE_MAX_SIZE") == "" {
		c.Audit.QueueMaxSize = overlay.Audit.QueueMaxSize
	}
	if overlay.Audit.BatchSize > 0 && os.Getenv("AUDIT_BATCH_SIZE") == "" {
		c.Audit.BatchSize = overlay.Audit.BatchSize
	}
	return nil
}

// Validate enforces the startup preconditions that do not require I/O.
// Store connectivity is checked separately by the supervisor.
func (c *Config) Validate() error {
	switch c.Env {
	case EnvDev, EnvStaging, EnvProduction:
	default:
		return fmt.Errorf("ENV must be dev, staging, or production, got %q", c.Env)
	}
	if c.Env == EnvProduction && c.DebugAuthBypass {
		return fmt.Errorf("DEBUG_AUTH_BYPASS must be false in production")
	}

	required := map[string]string{
		"DB_USER":            c.DB.User,
		"DB_HOST":            c.DB.Host,
		"DB_NAME":            c.DB.Name,
		"REDIS_IP":           c.Redis.IP,
		"KEYCLOAK_REALM":     c.Keycloak.Realm,
		"KEYCLOAK_CLIENT_ID": c.Keycloak.ClientID,
		"KEYCLOAK_BASE_URL":  c.Keycloak.BaseURL,
	}
	for name, val := range required {
		if strings.TrimSpace(val) == "" {
			return fmt.Errorf("%s is required", name)
		}
	}

	if _, err := url.ParseRequestURI(c.Keycloak.BaseURL); err != nil {
		return fmt.Errorf("KEYCLOAK_BASE_URL is not a valid URL: %w", err)
	}
	if c.RateLimit.FailMode != FailOpen && c.RateLimit.FailMode != FailClosed {
		return fmt.Errorf("RATE_LIMIT_FAIL_MODE must be open or closed, got %q", c.RateLimit.FailMode)
	}
	if c.RateLimit.PerMinute <= 0 {
		return fmt.Errorf("RATE_LIMIT_PER_MINUTE must be positive")
	}
	if c.WS.MaxConnectionsPerUser <= 0 || c.WS.MessageRateLimit <= 0 {
		return fmt.Errorf("WebSocket limits must be positive")
	}
	if c.Audit.QueueMaxSize <= 0 || c.Audit.BatchSize <= 0 {
		return fmt.Errorf("audit queue and batch sizes must be positive")
	}
	if c.Admission.MaxRequestBodySize <= 0 {
		return fmt.Errorf("MAX_REQUEST_BODY_SIZE must be positive")
	}
	return nil
}

func defaultHosts(env Environment) []string {
	if env == EnvProduction {
		return nil // must be configured explicitly
	}
	return []string{"localhost", "127.0.0.1"}
}

func defaultLogLevel(env Environment) string {
	if env == EnvProduction {
		return "info"
	}
	return "debug"
}

func defaultLogFormat(env Environment) string {
	if env == EnvProduction {
		return "json"
	}
	return "human"
}

func envStr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

func envInt(name string, fallback int) int {
	v := os.Getenv(name)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envBool(name string, fallback bool) bool {
	v := os.Getenv(name)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envSeconds(name string, fallback time.Duration) time.Duration {
	v := os.Getenv(name)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return time.Duration(f * float64(time.Second))
}

func envList(name string, fallback []string) []string {
	v := os.Getenv(name)
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
