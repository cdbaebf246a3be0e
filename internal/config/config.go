package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/brk3/habitd/internal/clock"
	"github.com/brk3/habitd/internal/logger"
	"go.yaml.in/yaml/v4"
)

const defaultConfigFile = "config.yaml"

type Config struct {
	ListenAddr string `yaml:"listen_addr"`
	APIBaseURL string `yaml:"api_base"`
	Store      string `yaml:"store"`
	DBPath     string `yaml:"db_path"`
	AuthToken  string `yaml:"auth_token"`
	// Timezone normalizes calendar days. Empty or "Local" is the host zone.
	Timezone   string           `yaml:"timezone"`
	Log        LogConfig        `yaml:"log"`
	Engine     EngineConfig     `yaml:"engine"`
	Dispatcher DispatcherConfig `yaml:"dispatcher"`
	Notify     NotifyConfig     `yaml:"notify"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
	File  string `yaml:"file"`
}

type EngineConfig struct {
	HorizonDays         int           `yaml:"horizon_days"`
	AllowBackfill       bool          `yaml:"allow_backfill"`
	DispatchConcurrency int           `yaml:"dispatch_concurrency"`
	RolloverConcurrency int           `yaml:"rollover_concurrency"`
	RolloverInterval    time.Duration `yaml:"rollover_interval"`
}

type DispatcherConfig struct {
	Kind  string      `yaml:"kind"`
	Redis RedisConfig `yaml:"redis"`
}

type RedisConfig struct {
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	Prefix       string        `yaml:"prefix"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

type NotifyConfig struct {
	ResendAPIKey string `yaml:"resend_api_key"`
	Email        string `yaml:"email"`
	From         string `yaml:"from"`
}

func Default() Config {
	return Config{
		ListenAddr: ":8080",
		APIBaseURL: "http://localhost:8080",
		Store:      "bolt",
		DBPath:     "habits.db",
		Log:        LogConfig{Level: "info"},
		Engine: EngineConfig{
			HorizonDays:         7,
			AllowBackfill:       true,
			DispatchConcurrency: 4,
			RolloverConcurrency: 4,
			RolloverInterval:    time.Minute,
		},
		Dispatcher: DispatcherConfig{
			Kind: "local",
			Redis: RedisConfig{
				Prefix:       "habits:",
				PollInterval: 15 * time.Second,
			},
		},
	}
}

// Load reads the YAML file named by HABITS_CONFIG, or config.yaml when it
// exists, then applies environment overrides.
func Load() (*Config, error) {
	cfg := Default()

	path, explicit := os.LookupEnv("HABITS_CONFIG")
	if !explicit || path == "" {
		path, explicit = defaultConfigFile, false
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	cfg.applyEnv()
	return &cfg, nil
}

func (c *Config) applyEnv() {
	c.APIBaseURL = getenv("HABITS_API_BASE", c.APIBaseURL)
	c.DBPath = getenv("HABITS_DB_PATH", c.DBPath)
	c.AuthToken = getenv("HABITS_AUTH_TOKEN", c.AuthToken)
	c.Timezone = getenv("HABITS_TIMEZONE", c.Timezone)
	c.Log.Level = getenv("HABITS_LOG_LEVEL", c.Log.Level)
	c.Notify.ResendAPIKey = getenv("HABITS_RESEND_API_KEY", c.Notify.ResendAPIKey)
	c.Notify.Email = getenv("HABITS_NOTIFY_EMAIL", c.Notify.Email)
	if addr := os.Getenv("HABITS_REDIS_ADDR"); addr != "" {
		c.Dispatcher.Kind = "redis"
		c.Dispatcher.Redis.Addr = addr
	}
}

func (c *Config) Validate() error {
	switch c.Store {
	case "bolt", "sqlite":
	default:
		return fmt.Errorf("unknown store %q: must be bolt or sqlite", c.Store)
	}
	switch c.Dispatcher.Kind {
	case "local":
	case "redis":
		if c.Dispatcher.Redis.Addr == "" {
			return fmt.Errorf("dispatcher.redis.addr is required for the redis dispatcher")
		}
	default:
		return fmt.Errorf("unknown dispatcher %q: must be local or redis", c.Dispatcher.Kind)
	}
	if c.Engine.HorizonDays < 1 || c.Engine.HorizonDays > 366 {
		return fmt.Errorf("engine.horizon_days must be between 1 and 366, got %d", c.Engine.HorizonDays)
	}
	if c.Engine.DispatchConcurrency < 1 || c.Engine.RolloverConcurrency < 1 {
		return fmt.Errorf("engine concurrency limits must be at least 1")
	}
	if c.Engine.RolloverInterval < time.Second {
		return fmt.Errorf("engine.rollover_interval must be at least 1s, got %s", c.Engine.RolloverInterval)
	}
	if _, err := clock.LoadLocation(c.Timezone); err != nil {
		return err
	}
	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		return err
	}
	if (c.Notify.ResendAPIKey == "") != (c.Notify.Email == "") {
		return fmt.Errorf("notify.resend_api_key and notify.email must be set together")
	}
	return nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
