package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Risk      RiskConfig      `yaml:"risk" mapstructure:"risk"`
	Dashboard DashboardConfig `yaml:"dashboard" mapstructure:"dashboard"`
	AI        AIConfig        `yaml:"ai" mapstructure:"ai"`
	Docs      DocsConfig      `yaml:"docs" mapstructure:"docs"`
	Scheduler SchedulerConfig `yaml:"scheduler" mapstructure:"scheduler"`
}

// StoreConfig configures the Postgres backend.
type StoreConfig struct {
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// ServerConfig configures the HTTP read surface.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	RequestTimeout int      `yaml:"request_timeout_secs" mapstructure:"request_timeout_secs"`
}

// RiskConfig configures score banding and the batch recompute.
type RiskConfig struct {
	WarnThreshold float64 `yaml:"warn_threshold" mapstructure:"warn_threshold"`
	RiskThreshold float64 `yaml:"risk_threshold" mapstructure:"risk_threshold"`
	Concurrency   int     `yaml:"concurrency" mapstructure:"concurrency"`
	PageSize      int     `yaml:"page_size" mapstructure:"page_size"`
}

// Thresholds returns the banding cutoffs as decimals.
func (r RiskConfig) Thresholds() (warn, risk decimal.Decimal) {
	return decimal.NewFromFloat(r.WarnThreshold), decimal.NewFromFloat(r.RiskThreshold)
}

// DashboardConfig tunes dashboard analytics.
type DashboardConfig struct {
	DwellLookback       int `yaml:"dwell_lookback" mapstructure:"dwell_lookback"`
	DefaultRecordsLimit int `yaml:"default_records_limit" mapstructure:"default_records_limit"`
	MaxRecordsLimit     int `yaml:"max_records_limit" mapstructure:"max_records_limit"`
}

// AIConfig configures the AI prediction service client.
type AIConfig struct {
	BaseURL          string  `yaml:"base_url" mapstructure:"base_url"`
	Key              string  `yaml:"key" mapstructure:"key"`
	TimeoutSecs      int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RateLimit        float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
	RateBurst        int     `yaml:"rate_burst" mapstructure:"rate_burst"`
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	FailureThreshold int     `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int     `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// Timeout is the per-request HTTP timeout.
func (a AIConfig) Timeout() time.Duration {
	return time.Duration(a.TimeoutSecs) * time.Second
}

// DocsConfig configures the local document store.
type DocsConfig struct {
	Dir     string `yaml:"dir" mapstructure:"dir"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// SchedulerConfig configures the cron jobs run by serve. An empty schedule
// disables the job.
type SchedulerConfig struct {
	RiskRecompute string `yaml:"risk_recompute" mapstructure:"risk_recompute"`
	Averages      string `yaml:"averages" mapstructure:"averages"`
	TimeoutMins   int    `yaml:"timeout_mins" mapstructure:"timeout_mins"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("FINRISK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 1)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.request_timeout_secs", 30)
	v.SetDefault("risk.warn_threshold", 40)
	v.SetDefault("risk.risk_threshold", 60)
	v.SetDefault("risk.concurrency", 8)
	v.SetDefault("risk.page_size", 200)
	v.SetDefault("dashboard.dwell_lookback", 40)
	v.SetDefault("dashboard.default_records_limit", 20)
	v.SetDefault("dashboard.max_records_limit", 500)
	v.SetDefault("ai.base_url", "http://localhost:8000")
	v.SetDefault("ai.key", "")
	v.SetDefault("ai.timeout_secs", 20)
	v.SetDefault("ai.rate_limit", 5)
	v.SetDefault("ai.rate_burst", 5)
	v.SetDefault("ai.max_attempts", 3)
	v.SetDefault("ai.initial_backoff_ms", 500)
	v.SetDefault("ai.failure_threshold", 5)
	v.SetDefault("ai.reset_timeout_secs", 30)
	v.SetDefault("docs.dir", "./data/documents")
	v.SetDefault("docs.base_url", "/documents")
	v.SetDefault("scheduler.risk_recompute", "0 0 3 * * *")
	v.SetDefault("scheduler.averages", "0 30 3 * * *")
	v.SetDefault("scheduler.timeout_mins", 30)

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

// Validate checks the settings a command needs. mode is the command name.
func (c *Config) Validate(mode string) error {
	var problems []string
	needDB := func() {
		if c.Store.DatabaseURL == "" {
			problems = append(problems, "store.database_url is required")
		}
	}
	checkRisk := func() {
		if c.Risk.WarnThreshold >= c.Risk.RiskThreshold {
			problems = append(problems, "risk.warn_threshold must be below risk.risk_threshold")
		}
		if c.Risk.Concurrency < 1 || c.Risk.Concurrency > 64 {
			problems = append(problems, "risk.concurrency must be between 1 and 64")
		}
		if c.Risk.PageSize < 1 {
			problems = append(problems, "risk.page_size must be > 0")
		}
	}

	switch mode {
	case "migrate", "seed-metrics", "import", "averages":
		needDB()
	case "document":
		needDB()
		if c.Docs.Dir == "" {
			problems = append(problems, "docs.dir is required")
		}
	case "risk":
		needDB()
		checkRisk()
	case "predict":
		needDB()
		if c.AI.BaseURL == "" {
			problems = append(problems, "ai.base_url is required")
		}
	case "serve":
		needDB()
		checkRisk()
		if c.Server.Port <= 0 {
			problems = append(problems, "server.port must be > 0")
		}
		if c.Dashboard.DwellLookback < 1 {
			problems = append(problems, "dashboard.dwell_lookback must be > 0")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
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
