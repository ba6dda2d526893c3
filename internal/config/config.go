package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store       StoreConfig       `yaml:"store" mapstructure:"store"`
	Catalog     CatalogConfig     `yaml:"catalog" mapstructure:"catalog"`
	Investigate InvestigateConfig `yaml:"investigate" mapstructure:"investigate"`
	Notify      NotifyConfig      `yaml:"notify" mapstructure:"notify"`
	Audit       AuditConfig       `yaml:"audit" mapstructure:"audit"`
	Auth        AuthConfig        `yaml:"auth" mapstructure:"auth"`
	Throttle    ThrottleConfig    `yaml:"throttle" mapstructure:"throttle"`
	Server      ServerConfig      `yaml:"server" mapstructure:"server"`
	Log         LogConfig         `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// CatalogConfig points at an optional YAML overlay for the built-in investigator types.
type CatalogConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// InvestigateConfig configures the orchestrator's ledger write path.
type InvestigateConfig struct {
	AppendRetries   int `yaml:"append_retries" mapstructure:"append_retries"`
	AppendBackoffMs int `yaml:"append_backoff_ms" mapstructure:"append_backoff_ms"`
}

// NotifyConfig configures live event fan-out.
type NotifyConfig struct {
	SubscriberBuffer   int         `yaml:"subscriber_buffer" mapstructure:"subscriber_buffer"`
	ResultEventsPerSec float64     `yaml:"result_events_per_sec" mapstructure:"result_events_per_sec"`
	ResultEventBurst   int         `yaml:"result_event_burst" mapstructure:"result_event_burst"`
	Redis              RedisConfig `yaml:"redis" mapstructure:"redis"`
}

// RedisConfig configures the optional Redis event relay. Empty Addr disables it.
type RedisConfig struct {
	Addr      string `yaml:"addr" mapstructure:"addr"`
	Password  string `yaml:"password" mapstructure:"password"`
	DB        int    `yaml:"db" mapstructure:"db"`
	Channel   string `yaml:"channel" mapstructure:"channel"`
	QueueSize int    `yaml:"queue_size" mapstructure:"queue_size"` // overflow is dropped
}

// AuditConfig configures the integrity auditor and its maintenance sweep.
type AuditConfig struct {
	Concurrency       int `yaml:"concurrency" mapstructure:"concurrency"`
	SweepIntervalSecs int `yaml:"sweep_interval_secs" mapstructure:"sweep_interval_secs"`
}

// AuthConfig configures the JWT authorization gate. Empty secret allows all callers.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" mapstructure:"jwt_secret"`
	Issuer    string `yaml:"issuer" mapstructure:"issuer"`
}

// ThrottleConfig configures the per-client request gate.
type ThrottleConfig struct {
	RequestsPerSec float64 `yaml:"requests_per_sec" mapstructure:"requests_per_sec"`
	Burst          int     `yaml:"burst" mapstructure:"burst"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("INVESTIGATOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("investigate.append_retries", 3)
	v.SetDefault("investigate.append_backoff_ms", 100)
	v.SetDefault("notify.subscriber_buffer", 64)
	v.SetDefault("notify.result_events_per_sec", 20.0)
	v.SetDefault("notify.result_event_burst", 10)
	v.SetDefault("notify.redis.addr", "")
	v.SetDefault("notify.redis.password", "")
	v.SetDefault("notify.redis.db", 0)
	v.SetDefault("notify.redis.channel", "investigator:events")
	v.SetDefault("notify.redis.queue_size", 256)
	v.SetDefault("catalog.path", "")
	v.SetDefault("audit.concurrency", 4)
	v.SetDefault("audit.sweep_interval_secs", 0)
	// Keys without defaults are invisible to AutomaticEnv during Unmarshal.
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.issuer", "investigator")
	v.SetDefault("throttle.requests_per_sec", 10.0)
	v.SetDefault("throttle.burst", 20)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings required by the given mode ("serve", "store").
// All problems are reported together.
func (c *Config) Validate(mode string) error {
	var problems []string

	switch mode {
	case "store":
	case "serve":
		if c.Server.Port <= 0 {
			problems = append(problems, "server.port must be > 0")
		}
		if c.Throttle.RequestsPerSec < 0 {
			problems = append(problems, "throttle.requests_per_sec must be >= 0")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	switch c.Store.Driver {
	case "postgres":
		if c.Store.DatabaseURL == "" {
			problems = append(problems, "store.database_url is required for the postgres driver")
		}
	case "sqlite":
	default:
		problems = append(problems, fmt.Sprintf("store.driver %q is not supported (postgres, sqlite)", c.Store.Driver))
	}

	if c.Audit.Concurrency < 1 || c.Audit.Concurrency > 32 {
		problems = append(problems, "audit.concurrency must be between 1 and 32")
	}
	if c.Audit.SweepIntervalSecs < 0 {
		problems = append(problems, "audit.sweep_interval_secs must be >= 0")
	}
	if c.Investigate.AppendRetries < 1 {
		problems = append(problems, "investigate.append_retries must be >= 1")
	}

	if len(problems) > 0 {
		return eris.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
