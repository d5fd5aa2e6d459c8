package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Token    TokenConfig    `mapstructure:"token"`
	Reminder ReminderConfig `mapstructure:"reminder"`
	Logger   LoggerConfig   `mapstructure:"logger"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`

	// BaseURL is the externally reachable prefix used to render approval
	// links in notifications
	BaseURL string `mapstructure:"base_url"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// TokenConfig holds capability token configuration
type TokenConfig struct {
	SigningKey string        `mapstructure:"signing_key"`
	TTL        time.Duration `mapstructure:"ttl"`
}

// ReminderConfig holds reminder sweeper configuration
type ReminderConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Interval       time.Duration `mapstructure:"interval"`
	StaleThreshold time.Duration `mapstructure:"stale_threshold"`
	ResendWindow   time.Duration `mapstructure:"resend_window"`
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
	Format     string `mapstructure:"format"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	bindEnvVars()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", 30*time.Second)
	viper.SetDefault("server.write_timeout", 30*time.Second)
	viper.SetDefault("server.base_url", "http://localhost:8080")

	viper.SetDefault("database.path", "data/taskflow.db")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", 5*time.Minute)

	viper.SetDefault("token.ttl", 7*24*time.Hour)

	viper.SetDefault("reminder.enabled", true)
	viper.SetDefault("reminder.interval", time.Hour)
	viper.SetDefault("reminder.stale_threshold", 24*time.Hour)
	viper.SetDefault("reminder.resend_window", 23*time.Hour)

	viper.SetDefault("logger.level", "info")
	viper.SetDefault("logger.output_path", "stdout")
	viper.SetDefault("logger.format", "json")
}

// bindEnvVars binds environment variables to configuration
func bindEnvVars() {
	viper.BindEnv("token.signing_key", "TOKEN_SIGNING_KEY")
	viper.BindEnv("server.base_url", "SERVER_BASE_URL")
	viper.BindEnv("database.path", "DATABASE_PATH")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Token.SigningKey == "" {
		return fmt.Errorf("token.signing_key is required")
	}
	if len(c.Token.SigningKey) < 32 {
		return fmt.Errorf("token.signing_key must be at least 32 bytes")
	}
	if c.Reminder.ResendWindow >= c.Reminder.StaleThreshold {
		return fmt.Errorf("reminder.resend_window must be shorter than reminder.stale_threshold")
	}
	return nil
}
