// Package config loads the service configuration from a YAML file and
// applies environment overrides on top of it.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvConfigPath names the environment variable holding the config file path.
const EnvConfigPath = "DOWNTIME_CONFIG"

type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	DataDir   string          `yaml:"data_dir"`
	Zabbix    ZabbixConfig    `yaml:"zabbix"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Engine    EngineConfig    `yaml:"engine"`
	Auth      AuthConfig      `yaml:"auth"`
	Mongo     MongoConfig     `yaml:"mongo"`
	Redis     RedisConfig     `yaml:"redis"`
	Log       LogConfig       `yaml:"log"`
}

type HTTPConfig struct {
	Addr           string   `yaml:"addr"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type ZabbixConfig struct {
	// Server is the frontend base URL; the JSON-RPC endpoint is appended.
	Server             string        `yaml:"server"`
	APIToken           string        `yaml:"api_token"`
	Timeout            time.Duration `yaml:"timeout"`
	InsecureSkipVerify bool          `yaml:"insecure_skip_verify"`

	// StoppedMarker must appear in a trigger name, together with the
	// service name, for the event to count as a stopped-service problem.
	StoppedMarker string `yaml:"stopped_marker"`

	Breaker BreakerConfig `yaml:"breaker"`
}

type BreakerConfig struct {
	MaxRequests         uint32        `yaml:"max_requests"`
	Interval            time.Duration `yaml:"interval"`
	Timeout             time.Duration `yaml:"timeout"`
	ConsecutiveFailures uint32        `yaml:"consecutive_failures"`
}

type SchedulerConfig struct {
	Interval         time.Duration `yaml:"interval"`
	InitialDelay     time.Duration `yaml:"initial_delay"`
	Days             int           `yaml:"days"`
	JournalRetention time.Duration `yaml:"journal_retention"`
}

type EngineConfig struct {
	// Concurrency bounds the services reconciled in parallel for one client.
	Concurrency int `yaml:"concurrency"`
}

type AuthConfig struct {
	JWTSecret  string        `yaml:"jwt_secret"`
	TokenTTL   time.Duration `yaml:"token_ttl"`
	RefreshTTL time.Duration `yaml:"refresh_ttl"`
}

type MongoConfig struct {
	URI      string `yaml:"uri"`
	Database string `yaml:"database"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Default returns a config with every field set to its default.
func Default() Config {
	return Config{
		HTTP: HTTPConfig{
			Addr: ":8080",
		},
		DataDir: "data",
		Zabbix: ZabbixConfig{
			Timeout:       30 * time.Second,
			StoppedMarker: "is not running",
			Breaker: BreakerConfig{
				MaxRequests:         1,
				Interval:            time.Minute,
				Timeout:             30 * time.Second,
				ConsecutiveFailures: 5,
			},
		},
		Scheduler: SchedulerConfig{
			Interval:         time.Minute,
			InitialDelay:     10 * time.Second,
			Days:             30,
			JournalRetention: 90 * 24 * time.Hour,
		},
		Engine: EngineConfig{
			Concurrency: 4,
		},
		Auth: AuthConfig{
			TokenTTL:   8 * time.Hour,
			RefreshTTL: 24 * time.Hour,
		},
		Mongo: MongoConfig{
			URI:      "mongodb://localhost:27017",
			Database: "downtime",
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads path (or $DOWNTIME_CONFIG when path is empty) over the
// defaults, applies environment overrides and validates the result.
// With neither a path nor the variable set, only defaults and environment
// apply.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("reading config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	applyEnv(&cfg, os.Getenv)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config, getenv func(string) string) {
	setString := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}

	setString("HTTP_ADDR", &cfg.HTTP.Addr)
	setString("DATA_DIR", &cfg.DataDir)
	setString("ZABBIX_SERVER", &cfg.Zabbix.Server)
	setString("ZABBIX_API_TOKEN", &cfg.Zabbix.APIToken)
	setString("JWT_SECRET", &cfg.Auth.JWTSecret)
	setString("MONGO_URI", &cfg.Mongo.URI)
	setString("MONGO_DB", &cfg.Mongo.Database)
	setString("REDIS_URI", &cfg.Redis.Addr)
	setString("REDIS_PASSWORD", &cfg.Redis.Password)
	setString("LOG_LEVEL", &cfg.Log.Level)

	if v := getenv("SCHEDULER_DAYS"); v != "" {
		if days, err := strconv.Atoi(v); err == nil {
			cfg.Scheduler.Days = days
		}
	}
}

// Validate reports every invalid setting.
func (c Config) Validate() error {
	var errs []error
	if c.DataDir == "" {
		errs = append(errs, errors.New("data_dir must not be empty"))
	}
	if c.Scheduler.Days < 1 || c.Scheduler.Days > 90 {
		errs = append(errs, fmt.Errorf("scheduler.days must be between 1 and 90, got %d", c.Scheduler.Days))
	}
	if c.Scheduler.Interval <= 0 {
		errs = append(errs, errors.New("scheduler.interval must be positive"))
	}
	if c.Scheduler.InitialDelay < 0 {
		errs = append(errs, errors.New("scheduler.initial_delay must not be negative"))
	}
	if r := c.Scheduler.JournalRetention; r < 0 {
		errs = append(errs, errors.New("scheduler.journal_retention must not be negative"))
	} else if lookback := time.Duration(c.Scheduler.Days) * 24 * time.Hour; r > 0 && r < lookback {
		errs = append(errs, fmt.Errorf("scheduler.journal_retention %s is shorter than the %d day lookback", r, c.Scheduler.Days))
	}
	if c.Engine.Concurrency < 1 {
		errs = append(errs, errors.New("engine.concurrency must be at least 1"))
	}
	return errors.Join(errs...)
}

// ClientsDir is the root holding one directory per client.
func (c Config) ClientsDir() string {
	return filepath.Join(c.DataDir, "clients")
}
