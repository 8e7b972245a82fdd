// Package config provides application configuration.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ashureev/quizdeck/internal/question"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

// Config holds all application configuration, loaded from an optional
// config.yaml and environment variables.
type Config struct {
	Env                   string             `mapstructure:"env"`
	Port                  string             `mapstructure:"port"`
	FrontendURL           string             `mapstructure:"frontend_url"`
	DataDir               string             `mapstructure:"data_dir"`
	SourceBaseURL         string             `mapstructure:"source_base_url"`
	Subjects              []question.Subject `mapstructure:"subjects"` // empty = every CSV in DataDir
	TranslatorAddr        string             `mapstructure:"translator_addr"`
	FeedbackRatePerMinute int                `mapstructure:"feedback_rate_per_minute"`
	Store                 StoreConfig        `mapstructure:"store"`
	Quiz                  QuizConfig         `mapstructure:"quiz"`
	Retention             RetentionConfig    `mapstructure:"retention"`
}

// StoreConfig selects the document store.
type StoreConfig struct {
	Driver          string        `mapstructure:"driver"`  // "sqlite" or "postgres"
	DBPath          string        `mapstructure:"db_path"` // SQLite file
	DatabaseURL     string        `mapstructure:"-"`       // Postgres DSN, environment only
	MaxConns        int32         `mapstructure:"max_connections"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// QuizConfig tunes live sessions.
type QuizConfig struct {
	AutoAdvanceDelay   time.Duration `mapstructure:"auto_advance_delay"`
	ResumeCodeAttempts int           `mapstructure:"resume_code_attempts"`
	IdleSessionTTL     time.Duration `mapstructure:"idle_session_ttl"`
}

// RetentionConfig controls the cleanup of stale saved sessions.
type RetentionConfig struct {
	TTL      time.Duration `mapstructure:"ttl"`
	Schedule string        `mapstructure:"schedule"`
}

// envBindings maps nested keys to their environment variable names.
var envBindings = map[string]string{
	"env":                       "APP_ENV",
	"store.driver":              "STORE_DRIVER",
	"store.db_path":             "DB_PATH",
	"database_url":              "DATABASE_URL",
	"quiz.auto_advance_delay":   "AUTO_ADVANCE_DELAY",
	"quiz.resume_code_attempts": "RESUME_CODE_ATTEMPTS",
	"quiz.idle_session_ttl":     "IDLE_SESSION_TTL",
	"retention.ttl":             "RETENTION_TTL",
	"retention.schedule":        "RETENTION_SCHEDULE",
}

// Load reads configuration from config.yaml (searched in paths, default
// ./config and .) and environment variables, which take precedence.
func Load(paths ...string) (*Config, error) {
	if len(paths) == 0 {
		paths = []string{"./config", "."}
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	v.SetDefault("env", "")
	v.SetDefault("port", "8080")
	v.SetDefault("frontend_url", "")
	v.SetDefault("data_dir", "./data/questions")
	v.SetDefault("source_base_url", "")
	v.SetDefault("translator_addr", "")
	v.SetDefault("feedback_rate_per_minute", 6)
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.db_path", "./data/quizdeck.db")
	v.SetDefault("store.max_connections", 10)
	v.SetDefault("store.max_conn_lifetime", "30m")
	v.SetDefault("quiz.auto_advance_delay", "1500ms")
	v.SetDefault("quiz.resume_code_attempts", 10)
	v.SetDefault("quiz.idle_session_ttl", "30m")
	v.SetDefault("retention.ttl", "720h")
	v.SetDefault("retention.schedule", "@every 1h")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range envBindings {
		_ = v.BindEnv(key, env)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Store.DatabaseURL = v.GetString("database_url")

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DataDir == "" {
		return fmt.Errorf("DATA_DIR cannot be empty")
	}
	switch c.Store.Driver {
	case "sqlite":
		if c.Store.DBPath == "" {
			return fmt.Errorf("DB_PATH cannot be empty")
		}
	case "postgres":
		if c.Store.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE_DRIVER=postgres")
		}
	default:
		return fmt.Errorf("STORE_DRIVER must be sqlite or postgres, got %q", c.Store.Driver)
	}
	if c.Quiz.AutoAdvanceDelay <= 0 {
		return fmt.Errorf("AUTO_ADVANCE_DELAY must be > 0")
	}
	if c.Quiz.ResumeCodeAttempts <= 0 {
		return fmt.Errorf("RESUME_CODE_ATTEMPTS must be > 0")
	}
	if c.Quiz.IdleSessionTTL <= 0 {
		return fmt.Errorf("IDLE_SESSION_TTL must be > 0")
	}
	if c.Retention.TTL <= 0 {
		return fmt.Errorf("RETENTION_TTL must be > 0")
	}
	if _, err := cron.ParseStandard(c.Retention.Schedule); err != nil {
		return fmt.Errorf("RETENTION_SCHEDULE is invalid: %w", err)
	}
	if c.FeedbackRatePerMinute <= 0 {
		return fmt.Errorf("FEEDBACK_RATE_PER_MINUTE must be > 0")
	}
	for _, s := range c.Subjects {
		if s.Name == "" || s.File == "" {
			return fmt.Errorf("subjects need both name and file")
		}
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	if c.Env != "" {
		return c.Env == "development"
	}
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// AllowedOrigins returns the CORS origins for the configured frontend.
func (c *Config) AllowedOrigins() []string {
	if c.IsDevelopment() || c.FrontendURL == "" {
		return []string{"*"}
	}
	return []string{strings.TrimRight(c.FrontendURL, "/")}
}
