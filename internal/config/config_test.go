package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Setenv(EnvKeystoreSecret, "ks-secret")
	t.Setenv(EnvTokenSecret, "tok-secret")
}

func TestLoadFromEnvDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.Equal(t, ":8686", cfg.ListenAddr)
	assert.Equal(t, "localhost", cfg.RPID)
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.AllowedOrigins)
	assert.Equal(t, 12*time.Hour, cfg.SessionTTL)
	assert.Equal(t, 60*time.Second, cfg.ChallengeTTL)
	assert.Empty(t, cfg.ArkivEndpoint)
}

func TestLoadFromEnvOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv(EnvRPID, "auth.example.com")
	t.Setenv(EnvAllowedOrigins, "https://app.example.com, https://staging.example.com")
	t.Setenv(EnvArkivEndpoint, "https://node.example.com/rpc")
	t.Setenv(EnvSessionTTLHours, "2")
	t.Setenv(EnvChallengeTTLSec, "30")
	t.Setenv(EnvRateLimitRPS, "2.5")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.Equal(t, "auth.example.com", cfg.RPID)
	assert.Equal(t, []string{"https://app.example.com", "https://staging.example.com"}, cfg.AllowedOrigins)
	assert.Equal(t, "https://node.example.com/rpc", cfg.ArkivEndpoint)
	assert.Equal(t, 2*time.Hour, cfg.SessionTTL)
	assert.Equal(t, 30*time.Second, cfg.ChallengeTTL)
	assert.Equal(t, 2.5, cfg.RateLimitRPS)
}

func TestLoadFromEnvRequiresSecrets(t *testing.T) {
	t.Setenv(EnvKeystoreSecret, "")
	t.Setenv(EnvTokenSecret, "tok-secret")
	_, err := LoadFromEnv()
	assert.Error(t, err)

	t.Setenv(EnvKeystoreSecret, "ks-secret")
	t.Setenv(EnvTokenSecret, "")
	_, err = LoadFromEnv()
	assert.Error(t, err)
}

func TestValidateRateLimits(t *testing.T) {
	setRequired(t)
	t.Setenv(EnvRateLimitRPS, "0")
	_, err := LoadFromEnv()
	assert.Error(t, err)
}

func TestSplitListDropsEmptyEntries(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, splitList(" a ,, b "))
	assert.Empty(t, splitList("  "))
}
