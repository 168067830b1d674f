// Package config loads runtime configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	EnvListenAddr      = "MM_LISTEN_ADDR"
	EnvRPID            = "MM_RP_ID"
	EnvRPName          = "MM_RP_NAME"
	EnvAllowedOrigins  = "MM_ALLOWED_ORIGINS"
	EnvArkivEndpoint   = "MM_ARKIV_ENDPOINT"
	EnvArkivTimeoutSec = "MM_ARKIV_TIMEOUT_SEC"
	EnvKeystoreDir     = "MM_KEYSTORE_DIR"
	EnvKeystoreSecret  = "MM_KEYSTORE_SECRET"
	EnvTokenSecret     = "MM_TOKEN_SECRET"
	EnvTokenIssuer     = "MM_TOKEN_ISSUER"
	EnvSessionTTLHours = "MM_SESSION_TTL_HOURS"
	EnvChallengeTTLSec = "MM_CHALLENGE_TTL_SEC"
	EnvRateLimitRPS    = "MM_RATE_LIMIT_RPS"
	EnvRateLimitBurst  = "MM_RATE_LIMIT_BURST"
)

// Config holds the auth service runtime configuration.
type Config struct {
	ListenAddr     string
	RPID           string
	RPName         string
	AllowedOrigins []string
	ArkivEndpoint  string
	ArkivTimeout   time.Duration
	KeystoreDir    string
	KeystoreSecret string
	TokenSecret    string
	TokenIssuer    string
	SessionTTL     time.Duration
	ChallengeTTL   time.Duration
	RateLimitRPS   float64
	RateLimitBurst int
}

// LoadFromEnv loads and validates configuration from the environment.
func LoadFromEnv() (Config, error) {
	cfg := Config{
		ListenAddr:     envOrDefault(EnvListenAddr, ":8686"),
		RPID:           envOrDefault(EnvRPID, "localhost"),
		RPName:         envOrDefault(EnvRPName, "MentorMesh"),
		AllowedOrigins: splitList(envOrDefault(EnvAllowedOrigins, "http://localhost:3000")),
		ArkivEndpoint:  strings.TrimSpace(os.Getenv(EnvArkivEndpoint)),
		ArkivTimeout:   time.Duration(intEnvOrDefault(EnvArkivTimeoutSec, 10)) * time.Second,
		KeystoreDir:    envOrDefault(EnvKeystoreDir, ".mentormesh/keystore"),
		KeystoreSecret: strings.TrimSpace(os.Getenv(EnvKeystoreSecret)),
		TokenSecret:    strings.TrimSpace(os.Getenv(EnvTokenSecret)),
		TokenIssuer:    envOrDefault(EnvTokenIssuer, "mentormesh-auth"),
		SessionTTL:     time.Duration(intEnvOrDefault(EnvSessionTTLHours, 12)) * time.Hour,
		ChallengeTTL:   time.Duration(intEnvOrDefault(EnvChallengeTTLSec, 60)) * time.Second,
		RateLimitRPS:   floatEnvOrDefault(EnvRateLimitRPS, 5),
		RateLimitBurst: intEnvOrDefault(EnvRateLimitBurst, 10),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that the configuration is coherent.
func (c Config) Validate() error {
	if c.RPID == "" {
		return fmt.Errorf("invalid %s: must not be empty", EnvRPID)
	}
	if len(c.AllowedOrigins) == 0 {
		return fmt.Errorf("invalid %s: must list at least one origin", EnvAllowedOrigins)
	}
	if c.KeystoreSecret == "" {
		return fmt.Errorf("invalid %s: must not be empty", EnvKeystoreSecret)
	}
	if c.TokenSecret == "" {
		return fmt.Errorf("invalid %s: must not be empty", EnvTokenSecret)
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		return fmt.Errorf("invalid rate limit: %s and %s must be > 0", EnvRateLimitRPS, EnvRateLimitBurst)
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func envOrDefault(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func intEnvOrDefault(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func floatEnvOrDefault(key string, fallback float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}
