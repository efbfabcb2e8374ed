// Package config loads service settings from the environment.
package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	ListenAddr string

	PDNSBaseURL string
	PDNSAPIKey  string

	// RedisAddress empty means single-instance mode with in-process locks.
	RedisAddress string

	SQLitePath  string
	DefaultZone string

	DefaultQuota  int
	LockTTL       time.Duration
	RenewalWindow time.Duration
	RenewalMonths int
	LeaseMonths   int

	// Cron specs for the expiry sweep and the zone snapshot refresh.
	SweepSpec   string
	RefreshSpec string

	JSONLogs bool
}

func FromEnv() Config {
	return Config{
		ListenAddr:    getenv("SUBDNS_ADDR", ":8080"),
		PDNSBaseURL:   getenv("SUBDNS_PDNS_URL", "http://localhost:8081"),
		PDNSAPIKey:    getenv("SUBDNS_PDNS_API_KEY", ""),
		RedisAddress:  getenv("SUBDNS_REDIS_ADDR", ""),
		SQLitePath:    getenv("SUBDNS_DB", "./subdns.db"),
		DefaultZone:   getenv("SUBDNS_DEFAULT_ZONE", "example.org"),
		DefaultQuota:  getenvInt("SUBDNS_DEFAULT_QUOTA", 10),
		LockTTL:       getenvDuration("SUBDNS_LOCK_TTL", 55*time.Second),
		RenewalWindow: getenvDuration("SUBDNS_RENEWAL_WINDOW", 30*24*time.Hour),
		RenewalMonths: getenvInt("SUBDNS_RENEWAL_MONTHS", 6),
		LeaseMonths:   getenvInt("SUBDNS_LEASE_MONTHS", 6),
		SweepSpec:     getenv("SUBDNS_SWEEP_SPEC", "0 0 * * *"),
		RefreshSpec:   getenv("SUBDNS_REFRESH_SPEC", "30 0 * * *"),
		JSONLogs:      getenvBool("SUBDNS_JSON_LOGS", true),
	}
}

func getenv(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}

func getenvInt(k string, def int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getenvDuration(k string, def time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func getenvBool(k string, def bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
