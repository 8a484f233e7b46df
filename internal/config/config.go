package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds infrastructure-level configuration
type Config struct {
	// Database
	PostgresDSN string

	// Ledger
	RPCURL        string
	VaultContract string

	// Signing surface
	SigningBaseURL string
	DomainName     string
	DomainVersion  string

	// Secret cipher backend: local, aws-kms or vault
	CipherBackend     string
	LocalMasterSecret string
	AWSKMSKeyID       string
	AWSKMSRegion      string
	VaultAddress      string
	VaultToken        string
	VaultTransitKey   string

	// Session
	SessionWindow time.Duration
	ChallengeTTL  time.Duration

	// Server
	Port             int
	RateLimitRPS     int
	RateLimitBurst   int
	RateLimitEnabled bool
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		PostgresDSN:       getEnv("POSTGRES_DSN", ""),
		RPCURL:            getEnv("RPC_URL", ""),
		VaultContract:     getEnv("VAULT_CONTRACT", ""),
		SigningBaseURL:    getEnv("SIGNING_BASE_URL", ""),
		DomainName:        getEnv("SIG_DOMAIN_NAME", "ChatWallet"),
		DomainVersion:     getEnv("SIG_DOMAIN_VERSION", "1"),
		CipherBackend:     getEnv("CIPHER_BACKEND", "local"),
		LocalMasterSecret: getEnv("CIPHER_LOCAL_MASTER_SECRET", ""),
		AWSKMSKeyID:       getEnv("CIPHER_AWS_KMS_KEY_ID", ""),
		AWSKMSRegion:      getEnv("CIPHER_AWS_KMS_REGION", ""),
		VaultAddress:      getEnv("CIPHER_VAULT_ADDR", ""),
		VaultToken:        getEnv("CIPHER_VAULT_TOKEN", ""),
		VaultTransitKey:   getEnv("CIPHER_VAULT_TRANSIT_KEY", ""),
		SessionWindow:     getEnvDuration("SESSION_WINDOW", 5*time.Minute),
		ChallengeTTL:      getEnvDuration("PIN_CHALLENGE_TTL", 10*time.Minute),
		Port:              getEnvInt("PORT", 8080),
		RateLimitRPS:      getEnvInt("RATE_LIMIT_RPS", 10),
		RateLimitBurst:    getEnvInt("RATE_LIMIT_BURST", 20),
		RateLimitEnabled:  getEnvBool("RATE_LIMIT_ENABLED", true),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.PostgresDSN == "" {
		return fmt.Errorf("POSTGRES_DSN is required")
	}

	if c.RPCURL == "" {
		return fmt.Errorf("RPC_URL is required")
	}

	if c.VaultContract == "" {
		return fmt.Errorf("VAULT_CONTRACT is required")
	}

	if c.SigningBaseURL == "" {
		return fmt.Errorf("SIGNING_BASE_URL is required")
	}

	switch c.CipherBackend {
	case "local":
		if c.LocalMasterSecret == "" {
			return fmt.Errorf("CIPHER_LOCAL_MASTER_SECRET is required when CIPHER_BACKEND is 'local'")
		}
	case "aws-kms":
		if c.AWSKMSKeyID == "" {
			return fmt.Errorf("CIPHER_AWS_KMS_KEY_ID is required when CIPHER_BACKEND is 'aws-kms'")
		}
		if c.AWSKMSRegion == "" {
			return fmt.Errorf("CIPHER_AWS_KMS_REGION is required when CIPHER_BACKEND is 'aws-kms'")
		}
	case "vault":
		if c.VaultAddress == "" || c.VaultToken == "" || c.VaultTransitKey == "" {
			return fmt.Errorf("CIPHER_VAULT_ADDR, CIPHER_VAULT_TOKEN and CIPHER_VAULT_TRANSIT_KEY are required when CIPHER_BACKEND is 'vault'")
		}
	default:
		return fmt.Errorf("CIPHER_BACKEND must be 'local', 'aws-kms' or 'vault', got: %s", c.CipherBackend)
	}

	if c.SessionWindow <= 0 {
		return fmt.Errorf("SESSION_WINDOW must be positive")
	}

	if c.ChallengeTTL <= 0 {
		return fmt.Errorf("PIN_CHALLENGE_TTL must be positive")
	}

	return nil
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvInt gets an integer environment variable with a default value
func getEnvInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvBool gets a boolean environment variable with a default value
func getEnvBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	valueStr = strings.ToLower(valueStr)
	return valueStr == "true" || valueStr == "1" || valueStr == "yes"
}

// getEnvDuration gets a duration environment variable with a default value
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
