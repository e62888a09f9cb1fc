package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
)

// Credential store backends.
const (
	StoreFile   = "file"
	StoreRedis  = "redis"
	StoreMongo  = "mongo"
	StoreMemory = "memory"
)

// Auth gateway backends.
const (
	GatewayHTTP = "http"
	GatewayDemo = "demo"
)

type Config struct {
	Port     string `env:"PORT,      default=8080"`
	Env      string `env:"ENV,       default=development"`
	LogLevel string `env:"LOG_LEVEL, default=info"`

	Auth    AuthConfig
	Session SessionConfig
	Mongo   MongoConfig
	Redis   RedisConfig
}

type AuthConfig struct {
	APIURL        string        `env:"AUTH_API_URL,      default=http://localhost:5000/api"`
	Gateway       string        `env:"AUTH_GATEWAY,      default=http"`
	HTTPTimeout   time.Duration `env:"AUTH_HTTP_TIMEOUT, default=30s"`
	DemoJWTSecret string        `env:"DEMO_JWT_SECRET,   default=bewithu-demo-secret"`
}

type SessionConfig struct {
	Store           string        `env:"SESSION_STORE,            default=file"`
	File            string        `env:"SESSION_FILE"`
	StoreKey        string        `env:"SESSION_STORE_KEY"`
	RefreshInterval time.Duration `env:"SESSION_REFRESH_INTERVAL, default=1m"`
	RefreshWindow   time.Duration `env:"SESSION_REFRESH_WINDOW,   default=5m"`
	RefreshTimeout  time.Duration `env:"SESSION_REFRESH_TIMEOUT,  default=30s"`
	WatchStore      bool          `env:"SESSION_WATCH_STORE,      default=true"`
}

type MongoConfig struct {
	URI      string `env:"MONGO_URI,     default=mongodb://localhost:27017"`
	Database string `env:"MONGO_DB,      default=bewithu_dashboard"`
	Profile  string `env:"MONGO_PROFILE, default=default"`
}

type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR,   default=localhost:6379"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB,     default=0"`
	Prefix   string `env:"REDIS_PREFIX, default=bewithU"`
}

// IsDevelopment reports whether human-readable logs should be used.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// Load reads a .env file from the working directory when present, then
// resolves the configuration from the environment. Variables already set in
// the environment win over the file.
func Load(ctx context.Context) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}
	return process(ctx, envconfig.OsLookuper())
}

// MustLoad is Load for process entry points.
func MustLoad(ctx context.Context) *Config {
	cfg, err := Load(ctx)
	if err != nil {
		panic(fmt.Sprintf("config: failed to load configuration: %v", err))
	}
	return cfg
}

func process(ctx context.Context, lookuper envconfig.Lookuper) (*Config, error) {
	var cfg Config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{Target: &cfg, Lookuper: lookuper}); err != nil {
		return nil, fmt.Errorf("config: failed to load configuration: %w", err)
	}
	if cfg.Session.File == "" {
		cfg.Session.File = defaultSessionFile()
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Session.Store {
	case StoreFile, StoreRedis, StoreMongo, StoreMemory:
	default:
		return fmt.Errorf("config: SESSION_STORE must be one of file, redis, mongo, memory; got %q", c.Session.Store)
	}
	switch c.Auth.Gateway {
	case GatewayHTTP, GatewayDemo:
	default:
		return fmt.Errorf("config: AUTH_GATEWAY must be http or demo; got %q", c.Auth.Gateway)
	}
	if c.Session.RefreshWindow <= 0 || c.Session.RefreshInterval <= 0 || c.Session.RefreshTimeout <= 0 {
		return errors.New("config: session refresh durations must be positive")
	}
	return nil
}

func defaultSessionFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".bewithu", "session.json")
	}
	return filepath.Join(home, ".bewithu", "session.json")
}
