// Package config provides environment configuration for the API server.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Store and bus drivers.
const (
	DriverMongo  = "mongo"
	DriverMemory = "memory"
	DriverNATS   = "nats"
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	ServerPort         string        `envconfig:"PORT" default:"8080"`
	ServerReadTimeout  time.Duration `envconfig:"SERVER_READ_TIMEOUT" default:"30s"`
	ServerWriteTimeout time.Duration `envconfig:"SERVER_WRITE_TIMEOUT" default:"0s"`
	AllowedOrigins     []string      `envconfig:"ALLOWED_ORIGINS" default:"https://*,http://*"`

	// Message store
	StoreDriver   string `envconfig:"STORE_DRIVER" default:"mongo"`
	MongoURL      string `envconfig:"MONGO_URL" default:"mongodb://localhost:27017/?replicaSet=rs0"`
	MongoDatabase string `envconfig:"MONGO_DATABASE" default:"pawpal"`
	DevUsersFile  string `envconfig:"DEV_USERS_FILE"`

	// Event bus
	BusDriver    string `envconfig:"BUS_DRIVER" default:"nats"`
	NATSURL      string `envconfig:"NATS_URL" default:"nats://localhost:4222"`
	NATSCAFile   string `envconfig:"NATS_CA_FILE"`
	NATSCertFile string `envconfig:"NATS_CERT_FILE"`
	NATSKeyFile  string `envconfig:"NATS_KEY_FILE"`
	NATSToken    string `envconfig:"NATS_TOKEN"`

	// JWT settings
	JWTSecret string `envconfig:"JWT_SECRET" default:"development-secret-change-in-production"`

	// Rate limiting
	RateLimitRequests int           `envconfig:"RATE_LIMIT_REQUESTS" default:"120"`
	RateLimitWindow   time.Duration `envconfig:"RATE_LIMIT_WINDOW" default:"1m"`

	// Realtime
	WSSendBuffer         int           `envconfig:"WS_SEND_BUFFER" default:"256"`
	WSPingInterval       time.Duration `envconfig:"WS_PING_INTERVAL" default:"25s"`
	SSEHeartbeatInterval time.Duration `envconfig:"SSE_HEARTBEAT_INTERVAL" default:"30s"`

	// Logging
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	// Tracing
	TracingEndpoint string `envconfig:"TRACING_ENDPOINT" default:"localhost:4318"`
	TracingEnabled  bool   `envconfig:"TRACING_ENABLED" default:"false"`
}

// Load reads an optional .env file and then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env file: %w", err)
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks driver names and bounds.
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case DriverMongo, DriverMemory:
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}
	switch c.BusDriver {
	case DriverNATS, DriverMemory:
	default:
		return fmt.Errorf("unknown BUS_DRIVER %q", c.BusDriver)
	}
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET must not be empty")
	}
	if c.WSSendBuffer <= 0 {
		return errors.New("WS_SEND_BUFFER must be positive")
	}
	return nil
}
