package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config represents the application configuration
type Config struct {
	Server    ServerConfig    `json:"server"`
	Mongo     MongoConfig     `json:"mongo"`
	Postgres  PostgresConfig  `json:"postgres"`
	Ledger    LedgerConfig    `json:"ledger"`
	Reconcile ReconcileConfig `json:"reconcile"`
	Logging   LoggingConfig   `json:"logging"`
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Host         string        `json:"host"`
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
}

// MongoConfig represents the record store connection
type MongoConfig struct {
	URI    string `json:"uri"`
	DBName string `json:"db_name"`
}

// PostgresConfig represents the audit database connection
type PostgresConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	DBName   string `json:"db_name"`
	SSLMode  string `json:"ssl_mode"`
}

// LedgerConfig represents the contract gateway
type LedgerConfig struct {
	GatewayURL string        `json:"gateway_url"`
	Timeout    time.Duration `json:"timeout"`
}

// ReconcileConfig tunes the reconciliation loops
type ReconcileConfig struct {
	PollInterval  time.Duration `json:"poll_interval"`
	SweepInterval time.Duration `json:"sweep_interval"`
}

// LoggingConfig
type LoggingConfig struct {
	Level string `json:"level"`
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig(configPath string) (*Config, error) {
	// Default config
	config := &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Mongo: MongoConfig{
			URI:    "mongodb://localhost:27017",
			DBName: "credlock_portal",
		},
		Postgres: PostgresConfig{
			Host:    "localhost",
			Port:    5432,
			User:    os.Getenv("USER"),
			DBName:  "credlock_audit",
			SSLMode: "disable",
		},
		Ledger: LedgerConfig{
			GatewayURL: "http://localhost:9090",
			Timeout:    5 * time.Second,
		},
		Reconcile: ReconcileConfig{
			PollInterval:  15 * time.Second,
			SweepInterval: 5 * time.Minute,
		},
	}

	// Load from file if exists
	if configPath != "" {
		if data, err := os.ReadFile(configPath); err == nil {
			if err := json.Unmarshal(data, config); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	// Override with environment variables
	overrideWithEnv(config)

	return config, nil
}

func overrideWithEnv(config *Config) {
	if host := os.Getenv("SERVER_HOST"); host != "" {
		config.Server.Host = host
	}
	if port := os.Getenv("SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if uri := os.Getenv("MONGO_URI"); uri != "" {
		config.Mongo.URI = uri
	}
	if name := os.Getenv("MONGO_DBNAME"); name != "" {
		config.Mongo.DBName = name
	}
	if host := os.Getenv("POSTGRES_HOST"); host != "" {
		config.Postgres.Host = host
	}
	if user := os.Getenv("POSTGRES_USER"); user != "" {
		config.Postgres.User = user
	}
	if pass := os.Getenv("POSTGRES_PASSWORD"); pass != "" {
		config.Postgres.Password = pass
	}
	if name := os.Getenv("POSTGRES_DBNAME"); name != "" {
		config.Postgres.DBName = name
	}
	if url := os.Getenv("LEDGER_GATEWAY_URL"); url != "" {
		config.Ledger.GatewayURL = url
	}
	if timeout := os.Getenv("LEDGER_TIMEOUT"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil {
			config.Ledger.Timeout = d
		}
	}
	if interval := os.Getenv("RECONCILE_POLL_INTERVAL"); interval != "" {
		if d, err := time.ParseDuration(interval); err == nil {
			config.Reconcile.PollInterval = d
		}
	}
}

// GetPostgresDSN returns the audit database connection string
func (c *PostgresConfig) GetPostgresDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

// GetServerAddr returns the server address
func (c *ServerConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
