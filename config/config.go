// Package config reads the process configuration from the environment.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env"
	"github.com/joho/godotenv"

	"github.com/jgabriele321/remindd/logger"
)

// Configuration holds everything needed to run the reminder engine.
type Configuration struct {
	Address string `env:"ADDRESS" envDefault:":8080"`

	// memory, sqlite or mongo
	StoreDriver      string `env:"STORE_DRIVER" envDefault:"sqlite"`
	DataDir          string `env:"DATA_DIR" envDefault:"data"`
	MongoURI         string `env:"MONGODB_CONNECTION_URI"`
	MongoDatabase    string `env:"MONGODB_DBNAME" envDefault:"crm"`
	MongoPoolMaxSize int    `env:"MONGODB_MAX_POOL_SIZE" envDefault:"50"`

	PollInterval       time.Duration `env:"SCHEDULER_POLL_INTERVAL" envDefault:"30s"`
	DispatchWorkers    int           `env:"SCHEDULER_WORKERS" envDefault:"8"`
	DueBatchSize       int           `env:"SCHEDULER_BATCH_SIZE" envDefault:"200"`
	LeaseTimeout       time.Duration `env:"SCHEDULER_LEASE_TIMEOUT" envDefault:"5m"`
	RetryDelay         time.Duration `env:"SCHEDULER_RETRY_DELAY" envDefault:"1m"`
	MaxDeliveryRetries int           `env:"SCHEDULER_MAX_DELIVERY_RETRIES" envDefault:"3"`
	GatewayTimeout     time.Duration `env:"GATEWAY_TIMEOUT" envDefault:"10s"`
	// Must cover one primary and one fallback gateway call.
	BusyWait           time.Duration `env:"LIFECYCLE_BUSY_WAIT" envDefault:"30s"`
	DisplayTimezone    string        `env:"DISPLAY_TIMEZONE" envDefault:"Local"`

	FirebaseProjectID       string `env:"FIREBASE_PROJECT_ID"`
	FirebaseCredentialsPath string `env:"FIREBASE_CREDENTIALS_PATH"`
	TelegramBotToken        string `env:"TELEGRAM_BOT_TOKEN"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`
	LogOutput string `env:"LOG_OUTPUT" envDefault:"stdout"`
	LogPath   string `env:"LOG_PATH" envDefault:"logs"`
}

// NewConfig loads the given .env files (missing files are skipped) and parses the environment.
func NewConfig(files ...string) (*Configuration, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", f, err)
		}
	}

	cfg := Configuration{}
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field requirements that struct tags cannot express.
func (c *Configuration) Validate() error {
	switch c.StoreDriver {
	case "memory", "sqlite":
	case "mongo":
		if c.MongoURI == "" {
			return fmt.Errorf("MONGODB_CONNECTION_URI is required for the mongo store")
		}
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}
	if c.DispatchWorkers < 1 {
		return fmt.Errorf("SCHEDULER_WORKERS must be at least 1")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("SCHEDULER_POLL_INTERVAL must be positive")
	}
	if c.BusyWait < 2*c.GatewayTimeout {
		return fmt.Errorf("LIFECYCLE_BUSY_WAIT (%s) must be at least twice GATEWAY_TIMEOUT (%s)", c.BusyWait, c.GatewayTimeout)
	}
	return nil
}

// LogConfig maps the logging fields onto the logger package.
func (c *Configuration) LogConfig() *logger.LogConfig {
	lc := logger.DefaultConfig()
	lc.Level = c.LogLevel
	lc.Format = c.LogFormat
	lc.Output = c.LogOutput
	lc.LogPath = c.LogPath
	return lc
}
