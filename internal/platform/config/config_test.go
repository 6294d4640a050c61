package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsAndEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("ONBOARDING_AUTH_JWT_SIGNING_KEY", "secret")
	t.Setenv("ONBOARDING_SERVER_ADDR", ":9090")
	t.Setenv("ONBOARDING_KAFKA_BROKERS", "k1:9092, k2:9092")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 8, cfg.Agents.Workers)
	assert.Equal(t, 30*time.Minute, cfg.Agents.CapabilityDeadline("risk_scoring"))
	assert.Equal(t, time.Hour, cfg.Agents.CapabilityDeadline("procurement_screening"))
	assert.Equal(t, defaultCapabilityDeadline, cfg.Agents.CapabilityDeadline("unknown"))
	assert.Equal(t, 60, cfg.RateLimit.PublicForms)
	assert.Equal(t, time.Minute, cfg.RateLimit.Window)
}

func TestLoad_RequiresSigningKey(t *testing.T) {
	t.Chdir(t.TempDir())

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "jwt_signing_key")
}

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte("auth:\n  jwt_signing_key: from-file\nsweep:\n  interval: 5s\n")
	require.NoError(t, os.WriteFile(path, content, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.Auth.JWTSigningKey)
	assert.Equal(t, 5*time.Second, cfg.Sweep.Interval)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}
