package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/DoyleJ11/cultist-backend/internal/engine"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Addr     string `env:"CULTIST_ADDR" envDefault:":8080"`
	Env      string `env:"CULTIST_ENV" envDefault:"development"`
	LogLevel string `env:"CULTIST_LOG_LEVEL" envDefault:"info"`

	MinParticipants int           `env:"CULTIST_MIN_PARTICIPANTS" envDefault:"5"`
	MaxParticipants int           `env:"CULTIST_MAX_PARTICIPANTS" envDefault:"10"`
	MaxNameLength   int           `env:"CULTIST_MAX_NAME_LENGTH" envDefault:"24"`
	TaskTotal       int           `env:"CULTIST_TASK_TOTAL" envDefault:"5"`
	GracePeriod     time.Duration `env:"CULTIST_GRACE_PERIOD" envDefault:"2s"`
	AllowLateJoin   bool          `env:"CULTIST_ALLOW_LATE_JOIN" envDefault:"false"`

	ClientBuffer   int           `env:"CULTIST_CLIENT_BUFFER" envDefault:"64"`
	WriteTimeout   time.Duration `env:"CULTIST_WRITE_TIMEOUT" envDefault:"3s"`
	PingInterval   time.Duration `env:"CULTIST_PING_INTERVAL" envDefault:"30s"`
	OriginPatterns []string      `env:"CULTIST_ORIGIN_PATTERNS" envSeparator:","`
}

// Load reads optional dotenv files, then the environment. Variables already
// set in the environment win over file values. Missing files are skipped.
func Load(files ...string) (Config, error) {
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", f, err)
		}
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every problem at once.
func (c Config) Validate() error {
	var err error
	if c.Env != EnvDevelopment && c.Env != EnvProduction {
		err = multierr.Append(err, fmt.Errorf("CULTIST_ENV must be %q or %q, got %q", EnvDevelopment, EnvProduction, c.Env))
	}
	if _, perr := zapcore.ParseLevel(c.LogLevel); perr != nil {
		err = multierr.Append(err, fmt.Errorf("CULTIST_LOG_LEVEL: %w", perr))
	}
	if c.MinParticipants < 1 {
		err = multierr.Append(err, fmt.Errorf("CULTIST_MIN_PARTICIPANTS must be at least 1, got %d", c.MinParticipants))
	}
	if c.MaxParticipants < c.MinParticipants {
		err = multierr.Append(err, fmt.Errorf("CULTIST_MAX_PARTICIPANTS (%d) is below the minimum (%d)", c.MaxParticipants, c.MinParticipants))
	}
	if c.MaxNameLength < 1 {
		err = multierr.Append(err, fmt.Errorf("CULTIST_MAX_NAME_LENGTH must be positive, got %d", c.MaxNameLength))
	}
	if c.TaskTotal < 1 {
		err = multierr.Append(err, fmt.Errorf("CULTIST_TASK_TOTAL must be positive, got %d", c.TaskTotal))
	}
	if c.GracePeriod < 0 {
		err = multierr.Append(err, fmt.Errorf("CULTIST_GRACE_PERIOD must not be negative, got %s", c.GracePeriod))
	}
	if c.ClientBuffer < 8 {
		// Connect alone queues four messages.
		err = multierr.Append(err, fmt.Errorf("CULTIST_CLIENT_BUFFER must be at least 8, got %d", c.ClientBuffer))
	}
	if c.WriteTimeout <= 0 {
		err = multierr.Append(err, fmt.Errorf("CULTIST_WRITE_TIMEOUT must be positive, got %s", c.WriteTimeout))
	}
	if c.PingInterval <= 0 {
		err = multierr.Append(err, fmt.Errorf("CULTIST_PING_INTERVAL must be positive, got %s", c.PingInterval))
	}
	return err
}

func (c Config) Rules() engine.Rules {
	return engine.Rules{
		MinParticipants: c.MinParticipants,
		MaxParticipants: c.MaxParticipants,
		MaxNameLength:   c.MaxNameLength,
		TaskTotal:       c.TaskTotal,
		AllowLateJoin:   c.AllowLateJoin,
		GracePeriod:     c.GracePeriod,
	}
}

func (c Config) Logger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	if c.Env == EnvDevelopment {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}
