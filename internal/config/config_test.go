package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFromEnvDefaults(t *testing.T) {
	cfg := FromEnv()

	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, 10, cfg.DefaultQuota)
	assert.Equal(t, 55*time.Second, cfg.LockTTL)
	assert.Equal(t, 30*24*time.Hour, cfg.RenewalWindow)
	assert.Equal(t, 6, cfg.RenewalMonths)
	assert.Equal(t, 6, cfg.LeaseMonths)
	assert.Empty(t, cfg.RedisAddress)
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("SUBDNS_ADDR", ":9090")
	t.Setenv("SUBDNS_DEFAULT_QUOTA", "3")
	t.Setenv("SUBDNS_LOCK_TTL", "10s")
	t.Setenv("SUBDNS_JSON_LOGS", "false")

	cfg := FromEnv()

	assert.Equal(t, ":9090", cfg.ListenAddr)
	assert.Equal(t, 3, cfg.DefaultQuota)
	assert.Equal(t, 10*time.Second, cfg.LockTTL)
	assert.False(t, cfg.JSONLogs)
}

func TestFromEnvBadValuesFallBack(t *testing.T) {
	t.Setenv("SUBDNS_DEFAULT_QUOTA", "lots")
	t.Setenv("SUBDNS_LOCK_TTL", "soon")

	cfg := FromEnv()

	assert.Equal(t, 10, cfg.DefaultQuota)
	assert.Equal(t, 55*time.Second, cfg.LockTTL)
}
