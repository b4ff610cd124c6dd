package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Realtime RealtimeConfig `mapstructure:"realtime"`
	Debug    bool           `mapstructure:"debug"`
}

// ServerConfig contains HTTP server settings. There is deliberately no
// write deadline: the server's responses include long-lived event streams,
// and a write deadline applies to the whole streamed response.
type ServerConfig struct {
	Address     string        `mapstructure:"address"`
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`
	BodyLimit   int           `mapstructure:"body_limit"`
}

// DatabaseConfig contains PostgreSQL connection settings
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxConnections  int32         `mapstructure:"max_connections"`
	MinConnections  int32         `mapstructure:"min_connections"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
	HealthCheck     time.Duration `mapstructure:"health_check_period"`
}

// RedisConfig contains Redis connection settings. Redis backs presence and
// notification preferences, and optionally the event broker.
type RedisConfig struct {
	URL string `mapstructure:"url"`
}

// AuthConfig contains authentication settings
type AuthConfig struct {
	JWTSecret         string        `mapstructure:"jwt_secret"`
	JWTExpiry         time.Duration `mapstructure:"jwt_expiry"`
	UsernameMinLength int           `mapstructure:"username_min_length"`
	PasswordMinLength int           `mapstructure:"password_min_length"`
}

// RealtimeConfig contains event fan-out settings
type RealtimeConfig struct {
	// Backend selects the broker: "local", "postgres" or "redis".
	Backend           string        `mapstructure:"backend"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	StreamBufferSize  int           `mapstructure:"stream_buffer_size"`
}

// Load loads configuration from file and environment variables
func Load() (*Config, error) {
	if err := loadEnvFile(); err != nil {
		log.Debug().Err(err).Msg("No .env file loaded")
	}

	viper.SetConfigName("threadwell")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/threadwell")

	setDefaults()

	viper.AutomaticEnv()
	viper.SetEnvPrefix("THREADWELL")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		log.Info().Msg("No config file found, using environment variables and defaults")
	} else {
		log.Info().Str("file", viper.ConfigFileUsed()).Msg("Config file loaded")
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// loadEnvFile loads environment variables from .env file
func loadEnvFile() error {
	locations := []string{
		".env",
		".env.local",
		"../.env",
	}

	for _, location := range locations {
		if _, err := os.Stat(location); err == nil {
			if err := godotenv.Load(location); err != nil {
				return fmt.Errorf("error loading .env file from %s: %w", location, err)
			}
			log.Info().Str("file", location).Msg(".env file loaded")
			return nil
		}
	}

	return fmt.Errorf("no .env file found")
}

// setDefaults sets default configuration values
func setDefaults() {
	// Server defaults
	viper.SetDefault("server.address", ":3001")
	viper.SetDefault("server.read_timeout", "15s")
	viper.SetDefault("server.idle_timeout", "60s")
	viper.SetDefault("server.body_limit", 1*1024*1024) // 1MB

	// Database defaults
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.user", "postgres")
	viper.SetDefault("database.password", "postgres")
	viper.SetDefault("database.database", "threadwell")
	viper.SetDefault("database.ssl_mode", "disable")
	viper.SetDefault("database.max_connections", 25)
	viper.SetDefault("database.min_connections", 5)
	viper.SetDefault("database.max_conn_lifetime", "1h")
	viper.SetDefault("database.max_conn_idle_time", "30m")
	viper.SetDefault("database.health_check_period", "1m")

	// Redis defaults
	viper.SetDefault("redis.url", "redis://localhost:6379/0")

	// Auth defaults
	viper.SetDefault("auth.jwt_secret", "your-secret-key-change-in-production")
	viper.SetDefault("auth.jwt_expiry", "24h")
	viper.SetDefault("auth.username_min_length", 2)
	viper.SetDefault("auth.password_min_length", 4)

	// Realtime defaults
	viper.SetDefault("realtime.backend", "redis")
	viper.SetDefault("realtime.heartbeat_interval", "30s")
	viper.SetDefault("realtime.stream_buffer_size", 64)

	// General defaults
	viper.SetDefault("debug", false)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Auth.JWTSecret == "your-secret-key-change-in-production" {
		return fmt.Errorf("please set a secure JWT secret")
	}

	if c.Database.MaxConnections < c.Database.MinConnections {
		return fmt.Errorf("max_connections must be greater than or equal to min_connections")
	}

	switch c.Realtime.Backend {
	case "local", "postgres", "redis":
	default:
		return fmt.Errorf("realtime backend must be 'local', 'postgres' or 'redis'")
	}

	if c.Realtime.Backend == "redis" && c.Redis.URL == "" {
		return fmt.Errorf("redis.url is required when the realtime backend is redis")
	}

	return nil
}

// ConnectionString returns the PostgreSQL connection string
func (dc *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		dc.User, dc.Password, dc.Host, dc.Port, dc.Database, dc.SSLMode)
}
