// Package config loads the server configuration from a YAML file and
// environment overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"unchained/internal/infrastructure/cache"
	"unchained/internal/infrastructure/storage/postgres"
)

type Config struct {
	Env      string         `yaml:"env"`
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Cache    CacheConfig    `yaml:"cache"`
	Auth     AuthConfig     `yaml:"auth"`
	Media    MediaConfig    `yaml:"media"`
	Entities EntitiesConfig `yaml:"entities"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ServerConfig struct {
	Port            string        `yaml:"port"`
	PublicURI       string        `yaml:"public_uri"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type DatabaseConfig struct {
	URL             string        `yaml:"url"`
	MaxConns        int32         `yaml:"max_conns"`
	MinConns        int32         `yaml:"min_conns"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time"`
	// ListenSchema enables LISTEN/NOTIFY schema cache invalidation across instances.
	ListenSchema bool `yaml:"listen_schema"`
	// StatsInterval is how often pool statistics are logged; 0 disables it.
	StatsInterval time.Duration `yaml:"stats_interval"`
}

type CacheConfig struct {
	Driver            string `yaml:"driver"`
	Addr              string `yaml:"addr"`
	Username          string `yaml:"username"`
	Password          string `yaml:"password"`
	DB                int    `yaml:"db"`
	CompressThreshold int    `yaml:"compress_threshold"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
	Issuer    string `yaml:"issuer"`
}

type MediaConfig struct {
	// Public is the directory served as the web root; uploads land below it.
	Public string `yaml:"public"`
}

type EntitiesConfig struct {
	Dir string `yaml:"dir"`
	// Translations is an optional YAML file of labels per entity table.
	Translations string `yaml:"translations"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Env: "development",
		Server: ServerConfig{
			Port:            "8080",
			PublicURI:       "/",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			MaxConns:        25,
			MinConns:        2,
			MaxConnLifetime: time.Hour,
			MaxConnIdleTime: 30 * time.Minute,
			ListenSchema:    true,
			StatsInterval:   time.Minute,
		},
		Cache: CacheConfig{
			Driver:            "memory",
			CompressThreshold: 4 << 10,
		},
		Auth: AuthConfig{
			Issuer: "unchained",
		},
		Media:    MediaConfig{Public: "public"},
		Entities: EntitiesConfig{Dir: "config/entities"},
		Logging:  LoggingConfig{Level: "info"},
	}
}

// Load reads path over the defaults and applies environment overrides.
// An empty path loads the defaults only.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Env = getEnv("APP_ENV", c.Env)
	c.Server.Port = getEnv("APP_PORT", c.Server.Port)
	c.Server.PublicURI = getEnv("PUBLIC_URI", c.Server.PublicURI)
	c.Database.URL = getEnv("DATABASE_URL", c.Database.URL)
	c.Database.MaxConns = int32(getEnvInt("DATABASE_MAX_CONNS", int(c.Database.MaxConns)))
	c.Database.StatsInterval = getEnvDuration("DATABASE_STATS_INTERVAL", c.Database.StatsInterval)
	c.Cache.Driver = getEnv("CACHE_DRIVER", c.Cache.Driver)
	c.Cache.Addr = getEnv("REDIS_ADDR", c.Cache.Addr)
	c.Cache.Password = getEnv("REDIS_PASSWORD", c.Cache.Password)
	c.Cache.DB = getEnvInt("REDIS_DB", c.Cache.DB)
	c.Auth.JWTSecret = getEnv("JWT_SECRET", c.Auth.JWTSecret)
	c.Media.Public = getEnv("MEDIA_PUBLIC_DIR", c.Media.Public)
	c.Entities.Dir = getEnv("ENTITIES_DIR", c.Entities.Dir)
	c.Entities.Translations = getEnv("TRANSLATIONS_FILE", c.Entities.Translations)
	c.Logging.Level = getEnv("LOG_LEVEL", c.Logging.Level)
	c.Logging.Format = getEnv("LOG_FORMAT", c.Logging.Format)
}

// Validate checks the settings the server cannot start without.
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("database.url is required (or DATABASE_URL)")
	}
	if c.Entities.Dir == "" {
		return fmt.Errorf("entities.dir is required")
	}
	switch c.Cache.Driver {
	case "memory", "redis":
	default:
		return fmt.Errorf("unknown cache driver %q", c.Cache.Driver)
	}
	if c.Cache.Driver == "redis" && c.Cache.Addr == "" {
		return fmt.Errorf("cache.addr is required for the redis driver")
	}
	return nil
}

func (c *Config) Development() bool { return c.Env == "development" }

// PoolConfig maps the database section onto the pool settings.
func (c *Config) PoolConfig() postgres.PoolConfig {
	pc := postgres.DefaultPoolConfig(c.Database.URL)
	if c.Database.MaxConns > 0 {
		pc.MaxConns = c.Database.MaxConns
	}
	if c.Database.MinConns > 0 {
		pc.MinConns = c.Database.MinConns
	}
	if c.Database.MaxConnLifetime > 0 {
		pc.MaxConnLifetime = c.Database.MaxConnLifetime
	}
	if c.Database.MaxConnIdleTime > 0 {
		pc.MaxConnIdleTime = c.Database.MaxConnIdleTime
	}
	return pc
}

func (c *Config) CacheConfig() cache.Config {
	return cache.Config{
		Driver:            c.Cache.Driver,
		Addr:              c.Cache.Addr,
		Username:          c.Cache.Username,
		Password:          c.Cache.Password,
		DB:                c.Cache.DB,
		CompressThreshold: c.Cache.CompressThreshold,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
