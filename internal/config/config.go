package config

import (
	"errors"
	"fmt"
	"os"
)

var ErrMissingRequiredValue = errors.New("missing required value")
var ErrInvalidValue = errors.New("invalid value")

type environment string

const (
	production  environment = "production"
	staging     environment = "staging"
	development environment = "development"
)

type KVBackend string

const (
	KVBackendMemory   KVBackend = "memory"
	KVBackendLevelDB  KVBackend = "leveldb"
	KVBackendRedis    KVBackend = "redis"
	KVBackendPostgres KVBackend = "postgres"
)

type Config struct {
	apiBaseURL string
	sentryDSN  string
	kvBackend  KVBackend
	kvPath     string
	redisAddr  string
	dBUsername string
	dBPassword string
	env        environment
}

func (c *Config) APIBaseURL() string {
	return c.apiBaseURL
}

func (c *Config) SentryDSN() string {
	return c.sentryDSN
}

func (c *Config) KVBackend() KVBackend {
	return c.kvBackend
}

func (c *Config) KVPath() string {
	return c.kvPath
}

func (c *Config) RedisAddr() string {
	return c.redisAddr
}

func (c *Config) DBUsername() string {
	return c.dBUsername
}

func (c *Config) DBPassword() string {
	return c.dBPassword
}

func (c *Config) IsProduction() bool {
	return c.env == production
}

func (c *Config) IsStaging() bool {
	return c.env == staging
}

func (c *Config) IsDevelopment() bool {
	return c.env == development
}

// Return a string representation suitable for logging etc
func (c *Config) NonSensitiveString() string {
	return fmt.Sprintf("Config{env: %s, kvBackend: %s, apiBaseURL: %s, ...}", string(c.env), string(c.kvBackend), c.apiBaseURL)
}

func ConfigFromEnv() (Config, error) {
	missingKey := func(key string) (Config, error) {
		return Config{}, fmt.Errorf("%w: %s", ErrMissingRequiredValue, key)
	}

	var env environment
	rawEnv, ok := os.LookupEnv("LEDGERLIGHT_ENVIRONMENT")
	if !ok {
		return missingKey("LEDGERLIGHT_ENVIRONMENT")
	}
	switch rawEnv {
	case "production":
		env = production
	case "staging":
		env = staging
	case "development":
		env = development
	default:
		return Config{}, fmt.Errorf("%w: LEDGERLIGHT_ENVIRONMENT (%s)", ErrInvalidValue, rawEnv)
	}

	var kvBackend KVBackend
	rawBackend, ok := os.LookupEnv("KV_BACKEND")
	if !ok {
		// Development gets a throwaway store by default
		if env != development {
			return missingKey("KV_BACKEND")
		}
		rawBackend = string(KVBackendMemory)
	}
	switch KVBackend(rawBackend) {
	case KVBackendMemory, KVBackendLevelDB, KVBackendRedis, KVBackendPostgres:
		kvBackend = KVBackend(rawBackend)
	default:
		return Config{}, fmt.Errorf("%w: KV_BACKEND (%s)", ErrInvalidValue, rawBackend)
	}

	apiBaseURL := os.Getenv("API_BASE_URL")
	sentryDSN := os.Getenv("SENTRY_DSN")
	kvPath := os.Getenv("KV_PATH")
	redisAddr := os.Getenv("REDIS_ADDR")
	dbUsername := os.Getenv("DB_USERNAME")
	dbPassword := os.Getenv("DB_PASSWORD")

	if env == production || env == staging {
		if apiBaseURL == "" {
			return missingKey("API_BASE_URL")
		}
		if sentryDSN == "" {
			return missingKey("SENTRY_DSN")
		}
	}

	switch kvBackend {
	case KVBackendLevelDB:
		if kvPath == "" {
			return missingKey("KV_PATH")
		}
	case KVBackendRedis:
		if redisAddr == "" {
			return missingKey("REDIS_ADDR")
		}
	case KVBackendPostgres:
		if dbUsername == "" {
			return missingKey("DB_USERNAME")
		}
		if dbPassword == "" {
			return missingKey("DB_PASSWORD")
		}
	}

	return Config{
		apiBaseURL: apiBaseURL,
		sentryDSN:  sentryDSN,
		kvBackend:  kvBackend,
		kvPath:     kvPath,
		redisAddr:  redisAddr,
		dBUsername: dbUsername,
		dBPassword: dbPassword,
		env:        env,
	}, nil
}
