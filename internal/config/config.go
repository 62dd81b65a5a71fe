// Package config loads portal-gate settings from the environment.
// Call LoadEnvFile(".env") before Load() to use a .env file.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds portal, gateway and tuning settings.
type Config struct {
	// Portal
	PortalURL     string // e.g. http://portal.example.com
	DeviceAddress string // MAC-form device address, e.g. 00:1A:79:00:13:DA
	PortalVariant string // "stalker_portal" (default) or "portal"

	// Paths
	PlaylistPath  string // offline-mode playlist output
	SessionDBPath string // SQLite session store

	// Gateway
	ListenAddr string
	BaseURL    string // external base URL used in redirect playlist entries

	// Tuning. Empirical defaults; none of these are protocol contracts.
	ResolveAttempts int
	ResolveDelay    time.Duration
	Concurrency     int           // batch resolver worker pool size
	PortalRate      float64       // max create_link calls per second; 0 = unlimited
	RefreshInterval time.Duration // periodic catalog refresh in run mode; 0 = startup only

	// Per-endpoint timeouts.
	HandshakeTimeout time.Duration
	ProfileTimeout   time.Duration
	CatalogTimeout   time.Duration
	LinkTimeout      time.Duration
}

// Load reads config from environment with defaults.
func Load() *Config {
	return &Config{
		PortalURL:        strings.TrimSuffix(os.Getenv("PORTAL_GATE_PORTAL_URL"), "/"),
		DeviceAddress:    os.Getenv("PORTAL_GATE_DEVICE_ADDRESS"),
		PortalVariant:    os.Getenv("PORTAL_GATE_PORTAL_VARIANT"),
		PlaylistPath:     getEnv("PORTAL_GATE_PLAYLIST", "./playlist.m3u"),
		SessionDBPath:    getEnv("PORTAL_GATE_SESSION_DB", "./sessions.db"),
		ListenAddr:       getEnv("PORTAL_GATE_ADDR", ":8080"),
		BaseURL:          os.Getenv("PORTAL_GATE_BASE_URL"),
		ResolveAttempts:  getEnvInt("PORTAL_GATE_RESOLVE_ATTEMPTS", 3),
		ResolveDelay:     getEnvDuration("PORTAL_GATE_RESOLVE_DELAY", time.Second),
		Concurrency:      getEnvInt("PORTAL_GATE_CONCURRENCY", 6),
		PortalRate:       getEnvFloat("PORTAL_GATE_PORTAL_RATE", 0),
		RefreshInterval:  getEnvDuration("PORTAL_GATE_REFRESH", 0),
		HandshakeTimeout: getEnvDuration("PORTAL_GATE_HANDSHAKE_TIMEOUT", 10*time.Second),
		ProfileTimeout:   getEnvDuration("PORTAL_GATE_PROFILE_TIMEOUT", 10*time.Second),
		CatalogTimeout:   getEnvDuration("PORTAL_GATE_CATALOG_TIMEOUT", 20*time.Second),
		LinkTimeout:      getEnvDuration("PORTAL_GATE_LINK_TIMEOUT", 8*time.Second),
	}
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
