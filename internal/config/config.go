package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/psantana5/prefork/internal/listener"
	"github.com/psantana5/prefork/pkg/logging"
)

// EnvPrefix is prepended to every environment override (PREFORK_PORT, ...)
const EnvPrefix = "PREFORK"

// Config is the complete configuration of a supervisor and its workers
type Config struct {
	Workers         int           `mapstructure:"workers" yaml:"workers" json:"workers"` // 0 = one per usable CPU
	Host            string        `mapstructure:"host" yaml:"host" json:"host"`
	Port            int           `mapstructure:"port" yaml:"port" json:"port"`
	Listener        string        `mapstructure:"listener" yaml:"listener" json:"listener"` // inherit|reuseport
	RestartOnExit   bool          `mapstructure:"restart_on_exit" yaml:"restart_on_exit" json:"restart_on_exit"`
	Restart         RestartConfig `mapstructure:"restart" yaml:"restart" json:"restart"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" json:"shutdown_timeout"`
	AdminAddr       string        `mapstructure:"admin_addr" yaml:"admin_addr" json:"admin_addr"` // empty = disabled
	Log             LogConfig     `mapstructure:"log" yaml:"log" json:"log"`
	Worker          WorkerConfig  `mapstructure:"worker" yaml:"worker" json:"worker"`
	Tracing         TracingConfig `mapstructure:"tracing" yaml:"tracing" json:"tracing"`
}

// RestartConfig bounds how exited workers are replaced
type RestartConfig struct {
	MaxRestarts    int           `mapstructure:"max_restarts" yaml:"max_restarts" json:"max_restarts"` // per slot within Window, 0 = unlimited
	Window         time.Duration `mapstructure:"window" yaml:"window" json:"window"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff" yaml:"initial_backoff" json:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff" yaml:"max_backoff" json:"max_backoff"`
	Multiplier     float64       `mapstructure:"multiplier" yaml:"multiplier" json:"multiplier"`
}

// LogConfig selects log level, format and optional file
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level" json:"level"`
	Format string `mapstructure:"format" yaml:"format" json:"format"`
	File   string `mapstructure:"file" yaml:"file" json:"file"`
}

// WorkerConfig tunes each worker process
type WorkerConfig struct {
	MaxProcs int `mapstructure:"max_procs" yaml:"max_procs" json:"max_procs"` // 0 = automaxprocs
}

// TracingConfig enables request tracing in workers
type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	Endpoint    string `mapstructure:"endpoint" yaml:"endpoint" json:"endpoint"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name" json:"service_name"`
}

// SetDefaults registers every key with its default on v
func SetDefaults(v *viper.Viper) {
	v.SetDefault("workers", 0)
	v.SetDefault("host", "")
	v.SetDefault("port", 3000)
	v.SetDefault("listener", string(listener.ModeInherit))
	v.SetDefault("restart_on_exit", false)
	v.SetDefault("restart.max_restarts", 5)
	v.SetDefault("restart.window", time.Minute)
	v.SetDefault("restart.initial_backoff", 100*time.Millisecond)
	v.SetDefault("restart.max_backoff", 10*time.Second)
	v.SetDefault("restart.multiplier", 2.0)
	v.SetDefault("shutdown_timeout", 10*time.Second)
	v.SetDefault("admin_addr", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file", "")
	v.SetDefault("worker.max_procs", 0)
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.endpoint", "localhost:4318")
	v.SetDefault("tracing.service_name", "prefork-worker")
}

// NewViper returns a viper instance with defaults and PREFORK_* env binding
func NewViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Default returns the built-in configuration
func Default() *Config {
	cfg, err := Load(NewViper())
	if err != nil {
		panic(fmt.Sprintf("built-in defaults are invalid: %v", err))
	}
	return cfg
}

// Load unmarshals and validates the configuration held by v
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks ranges and enumerations
func (c *Config) Validate() error {
	if c.Workers < 0 {
		return fmt.Errorf("invalid workers %d: must be >= 0", c.Workers)
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d: must be between 0 and 65535", c.Port)
	}
	if _, err := listener.ParseMode(c.Listener); err != nil {
		return err
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return err
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("unknown log format %q (expected text or json)", c.Log.Format)
	}
	if c.Restart.MaxRestarts < 0 {
		return fmt.Errorf("invalid restart.max_restarts %d: must be >= 0", c.Restart.MaxRestarts)
	}
	if c.Restart.Multiplier != 0 && c.Restart.Multiplier < 1 {
		return fmt.Errorf("invalid restart.multiplier %.2f: must be >= 1", c.Restart.Multiplier)
	}
	if c.Restart.MaxBackoff > 0 && c.Restart.InitialBackoff > c.Restart.MaxBackoff {
		return fmt.Errorf("restart.initial_backoff %s exceeds restart.max_backoff %s",
			c.Restart.InitialBackoff, c.Restart.MaxBackoff)
	}
	if c.Worker.MaxProcs < 0 {
		return fmt.Errorf("invalid worker.max_procs %d: must be >= 0", c.Worker.MaxProcs)
	}
	return nil
}

// Addr is the host:port the workers serve on
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// ListenerMode returns the validated listener mode
func (c *Config) ListenerMode() listener.Mode {
	mode, err := listener.ParseMode(c.Listener)
	if err != nil {
		return listener.ModeInherit
	}
	return mode
}

// LoggingOptions converts the log section for logging.Open
func (c *Config) LoggingOptions() logging.Options {
	return logging.Options{Level: c.Log.Level, Format: c.Log.Format, File: c.Log.File}
}
