package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultAppName           = "PayperPlane"
	defaultAppEnv            = "development"
	defaultPort              = "8080"
	defaultLogLevel          = "info"
	defaultAPIKey            = "changeme"
	defaultProviderURI       = "http://127.0.0.1:8545"
	defaultLithicEnvironment = "sandbox"
	defaultShutdownDelay     = 10 * time.Second
	defaultIdempotencyTTL    = 24 * time.Hour
	defaultPollInterval      = time.Second
	defaultChainCallTimeout  = 2 * time.Second
	defaultPollerStopTimeout = 5 * time.Second
	defaultSimulatePerMinute = 30

	// ZeroAddress is the placeholder contract address that keeps the poller idle.
	ZeroAddress = "0x0000000000000000000000000000000000000000"
)

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName        string
	AppEnv         string
	Port           string
	LogLevel       string
	APIKey         string
	DatabaseURL    string
	RedisURL       string
	ShutdownPeriod time.Duration
	IdempotencyTTL time.Duration

	Web3ProviderURI     string
	ContractAddress     string
	PollInterval        time.Duration
	ChainCallTimeout    time.Duration
	PollerStopTimeout   time.Duration
	PersistPollerCursor bool
	PollerMaxBlockRange uint64

	LithicAPIKey      string
	LithicEnvironment string

	SimulateRateLimit int
}

// Load reads configuration values from the environment (and an optional .env file)
// and populates a Config instance.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		AppName:           getEnv("APP_NAME", defaultAppName),
		AppEnv:            getEnv("APP_ENV", defaultAppEnv),
		Port:              getEnv("PORT", defaultPort),
		LogLevel:          strings.ToLower(getEnv("LOG_LEVEL", defaultLogLevel)),
		APIKey:            getEnv("API_KEY", defaultAPIKey),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		RedisURL:          os.Getenv("REDIS_URL"),
		Web3ProviderURI:   getEnv("WEB3_PROVIDER_URI", defaultProviderURI),
		ContractAddress:   strings.TrimSpace(getEnv("CONTRACT_ADDRESS", ZeroAddress)),
		LithicAPIKey:      os.Getenv("LITHIC_API_KEY"),
		LithicEnvironment: strings.ToLower(getEnv("LITHIC_ENVIRONMENT", defaultLithicEnvironment)),
	}

	var err error
	if cfg.ShutdownPeriod, err = durationFromEnv("SHUTDOWN_TIMEOUT_SECONDS", "SHUTDOWN_TIMEOUT", defaultShutdownDelay); err != nil {
		return Config{}, err
	}
	if cfg.IdempotencyTTL, err = durationFromEnv("IDEMPOTENCY_TTL_SECONDS", "IDEMPOTENCY_TTL", defaultIdempotencyTTL); err != nil {
		return Config{}, err
	}
	if cfg.PollInterval, err = durationFromEnv("POLL_INTERVAL_SECONDS", "POLL_INTERVAL", defaultPollInterval); err != nil {
		return Config{}, err
	}
	if cfg.ChainCallTimeout, err = durationFromEnv("CHAIN_CALL_TIMEOUT_SECONDS", "CHAIN_CALL_TIMEOUT", defaultChainCallTimeout); err != nil {
		return Config{}, err
	}
	if cfg.PollerStopTimeout, err = durationFromEnv("POLLER_STOP_TIMEOUT_SECONDS", "POLLER_STOP_TIMEOUT", defaultPollerStopTimeout); err != nil {
		return Config{}, err
	}

	if v := os.Getenv("POLLER_PERSIST_CURSOR"); v != "" {
		persist, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid POLLER_PERSIST_CURSOR: %w", err)
		}
		cfg.PersistPollerCursor = persist
	}

	if v := os.Getenv("POLLER_MAX_BLOCK_RANGE"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("invalid POLLER_MAX_BLOCK_RANGE: %w", err)
		}
		cfg.PollerMaxBlockRange = n
	}

	cfg.SimulateRateLimit = defaultSimulatePerMinute
	if v := os.Getenv("SIMULATE_RATE_LIMIT_PER_MINUTE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid SIMULATE_RATE_LIMIT_PER_MINUTE: %w", err)
		}
		cfg.SimulateRateLimit = n
	}

	if cfg.PollInterval <= 0 {
		return Config{}, fmt.Errorf("poll interval must be positive")
	}

	if cfg.PersistPollerCursor && cfg.RedisURL == "" {
		return Config{}, fmt.Errorf("REDIS_URL must be set when POLLER_PERSIST_CURSOR is enabled")
	}

	if !cfg.IsDev() {
		if cfg.APIKey == defaultAPIKey {
			return Config{}, fmt.Errorf("API_KEY must be set when APP_ENV=%s", cfg.AppEnv)
		}
		if cfg.DatabaseURL == "" {
			return Config{}, fmt.Errorf("DATABASE_URL must be set when APP_ENV=%s", cfg.AppEnv)
		}
	}

	return cfg, nil
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

// IsDev reports whether the process runs in a local/development environment.
func (c Config) IsDev() bool {
	switch strings.ToLower(c.AppEnv) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

// PollerEnabled reports whether a real contract address is configured.
func (c Config) PollerEnabled() bool {
	return c.ContractAddress != "" && !strings.EqualFold(c.ContractAddress, ZeroAddress)
}

// SQLitePath returns the database file path when DATABASE_URL uses the sqlite scheme.
func (c Config) SQLitePath() (string, bool) {
	for _, prefix := range []string{"sqlite:///", "sqlite://"} {
		if strings.HasPrefix(c.DatabaseURL, prefix) {
			return strings.TrimPrefix(c.DatabaseURL, prefix), true
		}
	}
	return "", false
}

func durationFromEnv(secondsKey, durationKey string, fallback time.Duration) (time.Duration, error) {
	if v := os.Getenv(secondsKey); v != "" {
		seconds, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", secondsKey, err)
		}
		return time.Duration(seconds * float64(time.Second)), nil
	}
	if v := os.Getenv(durationKey); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", durationKey, err)
		}
		return d, nil
	}
	return fallback, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
