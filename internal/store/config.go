package store

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"scheduled-trader/internal/types"
)

type Config struct {
	Mode string `yaml:"mode"`

	Schedule struct {
		Interval      time.Duration `yaml:"interval"`
		RunOnStart    *bool         `yaml:"run_on_start"`
		ShutdownGrace time.Duration `yaml:"shutdown_grace"`
	} `yaml:"schedule"`

	Broker struct {
		Provider        string        `yaml:"provider"`
		Exchange        string        `yaml:"exchange"`
		Product         string        `yaml:"product"`
		CallTimeout     time.Duration `yaml:"call_timeout"`
		RateLimitPerSec int           `yaml:"rate_limit_per_sec"`
		Retry           struct {
			MaxAttempts int           `yaml:"max_attempts"`
			BaseDelay   time.Duration `yaml:"base_delay"`
			MaxDelay    time.Duration `yaml:"max_delay"`
			Multiplier  float64       `yaml:"multiplier"`
		} `yaml:"retry"`
		Paper struct {
			BuyingPower decimal.Decimal            `yaml:"buying_power"`
			Prices      map[string]decimal.Decimal `yaml:"prices"`
		} `yaml:"paper"`
	} `yaml:"broker"`

	Reconcile struct {
		MinOrderSize decimal.Decimal `yaml:"min_order_size"`
		WholeUnits   bool            `yaml:"whole_units"`
	} `yaml:"reconcile"`

	Signal struct {
		Provider string                     `yaml:"provider"`
		Targets  map[string]decimal.Decimal `yaml:"targets"`
		Path     string                     `yaml:"path"`
		Endpoint string                     `yaml:"endpoint"`
		Timeout  time.Duration              `yaml:"timeout"`
	} `yaml:"signal"`

	State struct {
		Backend      string `yaml:"backend"`
		Path         string `yaml:"path"`
		HistoryLimit int    `yaml:"history_limit"`
		Redis        struct {
			Addr      string `yaml:"addr"`
			DB        int    `yaml:"db"`
			KeyPrefix string `yaml:"key_prefix"`
		} `yaml:"redis"`
	} `yaml:"state"`

	Metrics struct {
		ListenAddr string `yaml:"listen_addr"`
	} `yaml:"metrics"`

	Journal struct {
		Dir           string `yaml:"dir"`
		RetentionDays int    `yaml:"retention_days"`
		// SummaryAt is the local "HH:MM" after which the day's summary is written.
		SummaryAt string `yaml:"summary_at"`
	} `yaml:"journal"`

	// Secrets come from the environment only.
	Credentials Credentials `yaml:"-"`
}

type Credentials struct {
	APIKey       string
	APISecret    string
	AccessToken  string
	RequestToken string
	PostgresDSN  string
	RedisPass    string
	SignalToken  string
}

// RunOnStart defaults to true: the first tick fires immediately.
func (c *Config) RunOnStart() bool {
	return c.Schedule.RunOnStart == nil || *c.Schedule.RunOnStart
}

func (c *Config) Validate() error {
	if c.Mode != "DRY_RUN" && c.Mode != "LIVE" {
		return fmt.Errorf("invalid mode '%s': must be 'DRY_RUN' or 'LIVE'", c.Mode)
	}
	if c.Schedule.Interval <= 0 {
		return fmt.Errorf("schedule.interval must be positive, got %s", c.Schedule.Interval)
	}
	switch c.Broker.Provider {
	case "paper":
	case "kite":
		if c.Credentials.APIKey == "" {
			return errors.New("BROKER_API_KEY is required for the kite provider")
		}
		if c.Credentials.AccessToken == "" && (c.Credentials.RequestToken == "" || c.Credentials.APISecret == "") {
			return errors.New("kite provider needs BROKER_ACCESS_TOKEN or BROKER_REQUEST_TOKEN with BROKER_API_SECRET")
		}
	default:
		return fmt.Errorf("broker.provider must be 'paper' or 'kite', got '%s'", c.Broker.Provider)
	}
	if c.Mode == "LIVE" && c.Broker.Provider == "paper" {
		return errors.New("LIVE mode cannot use the paper broker")
	}
	if c.Broker.Retry.MaxAttempts < 1 {
		return fmt.Errorf("broker.retry.max_attempts must be >= 1, got %d", c.Broker.Retry.MaxAttempts)
	}
	if c.Broker.CallTimeout <= 0 {
		return fmt.Errorf("broker.call_timeout must be positive, got %s", c.Broker.CallTimeout)
	}
	if c.Reconcile.MinOrderSize.IsNegative() {
		return fmt.Errorf("reconcile.min_order_size must not be negative, got %s", c.Reconcile.MinOrderSize)
	}
	switch c.Signal.Provider {
	case "noop", "static":
	case "file":
		if c.Signal.Path == "" {
			return errors.New("signal.path is required for the file provider")
		}
	case "http":
		if c.Signal.Endpoint == "" {
			return errors.New("signal.endpoint is required for the http provider")
		}
	default:
		return fmt.Errorf("signal.provider must be 'noop', 'static', 'file' or 'http', got '%s'", c.Signal.Provider)
	}
	switch c.State.Backend {
	case "file":
		if c.State.Path == "" {
			return errors.New("state.path is required for the file backend")
		}
	case "postgres":
		if c.Credentials.PostgresDSN == "" {
			return errors.New("STATE_POSTGRES_DSN is required for the postgres backend")
		}
	case "redis":
		if c.State.Redis.Addr == "" {
			return errors.New("state.redis.addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("state.backend must be 'file', 'postgres' or 'redis', got '%s'", c.State.Backend)
	}
	if c.Journal.SummaryAt != "" {
		if _, err := time.Parse("15:04", c.Journal.SummaryAt); err != nil {
			return fmt.Errorf("journal.summary_at must be HH:MM, got '%s'", c.Journal.SummaryAt)
		}
	}
	return nil
}

// LoadConfig reads the YAML file, applies defaults and environment overrides, then validates.
// Every failure wraps types.ErrConfiguration.
func LoadConfig(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrConfiguration, err)
	}
	return ParseConfig(b)
}

func ParseConfig(b []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrConfiguration, err)
	}

	c.applyDefaults()
	if err := c.applyEnv(); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrConfiguration, err)
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%w: config validation failed: %v", types.ErrConfiguration, err)
	}

	return &c, nil
}

func (c *Config) applyDefaults() {
	if c.Mode == "" {
		c.Mode = "DRY_RUN"
	}
	if c.Schedule.Interval == 0 {
		c.Schedule.Interval = time.Hour
	}
	if c.Schedule.ShutdownGrace == 0 {
		c.Schedule.ShutdownGrace = 30 * time.Second
	}
	if c.Broker.Provider == "" {
		c.Broker.Provider = "paper"
	}
	if c.Broker.Exchange == "" {
		c.Broker.Exchange = "NSE"
	}
	if c.Broker.Product == "" {
		c.Broker.Product = "CNC"
	}
	if c.Broker.CallTimeout == 0 {
		c.Broker.CallTimeout = 10 * time.Second
	}
	if c.Broker.Retry.MaxAttempts == 0 {
		c.Broker.Retry.MaxAttempts = 5
	}
	if c.Broker.Retry.BaseDelay == 0 {
		c.Broker.Retry.BaseDelay = 500 * time.Millisecond
	}
	if c.Broker.Retry.MaxDelay == 0 {
		c.Broker.Retry.MaxDelay = 30 * time.Second
	}
	if c.Broker.Retry.Multiplier == 0 {
		c.Broker.Retry.Multiplier = 2
	}
	if c.Reconcile.MinOrderSize.IsZero() {
		c.Reconcile.MinOrderSize = decimal.NewFromInt(1)
	}
	if c.Signal.Provider == "" {
		c.Signal.Provider = "noop"
	}
	if c.Signal.Timeout == 0 {
		c.Signal.Timeout = 10 * time.Second
	}
	if c.State.Backend == "" {
		c.State.Backend = "file"
	}
	if c.State.Path == "" {
		c.State.Path = "data/tickstate.json"
	}
	if c.State.HistoryLimit == 0 {
		c.State.HistoryLimit = 500
	}
	if c.State.Redis.KeyPrefix == "" {
		c.State.Redis.KeyPrefix = "trader"
	}
	if c.Journal.Dir == "" {
		c.Journal.Dir = "logs"
	}
}

func (c *Config) applyEnv() error {
	c.Credentials = Credentials{
		APIKey:       os.Getenv("BROKER_API_KEY"),
		APISecret:    os.Getenv("BROKER_API_SECRET"),
		AccessToken:  os.Getenv("BROKER_ACCESS_TOKEN"),
		RequestToken: os.Getenv("BROKER_REQUEST_TOKEN"),
		PostgresDSN:  os.Getenv("STATE_POSTGRES_DSN"),
		RedisPass:    os.Getenv("STATE_REDIS_PASSWORD"),
		SignalToken:  os.Getenv("SIGNAL_API_TOKEN"),
	}

	if v := os.Getenv("SCHEDULE_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("SCHEDULE_INTERVAL: %w", err)
		}
		c.Schedule.Interval = d
	}
	if v := os.Getenv("MIN_ORDER_SIZE"); v != "" {
		d, err := decimal.NewFromString(v)
		if err != nil {
			return fmt.Errorf("MIN_ORDER_SIZE: %w", err)
		}
		c.Reconcile.MinOrderSize = d
	}
	if v := os.Getenv("BROKER_MAX_RETRIES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("BROKER_MAX_RETRIES: %w", err)
		}
		c.Broker.Retry.MaxAttempts = n
	}
	return nil
}
