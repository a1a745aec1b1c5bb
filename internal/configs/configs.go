/*
Package configs is responsible for loading and parsing the application's configuration settings.

It reads operating system environment variables for the running environment, the chat listener
address, the optional admin HTTP port, event bus sizing, socket timeouts and accept rate limits.
*/
package configs

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"
)

// AppConfig contains all configuration parameters required for the server to run.
// All configuration values are loaded from environment variables.
type AppConfig struct {
	// General Server Settings
	Environment string
	Host        string
	Port        int

	// Admin HTTP Settings (AdminPort 0 disables the surface)
	AdminPort      int
	AllowedOrigins []string

	// Chat Core Settings
	BusCapacity      int
	MaxFrameBytes    int
	WriteTimeout     time.Duration
	HandshakeTimeout time.Duration

	// Abuse Protection Settings
	AcceptRate  float64
	AcceptBurst int
}

// Addr returns the host:port the chat listener binds to.
func (c *AppConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// AcceptThrottled reports whether accepted sockets are rate limited per IP.
func (c *AppConfig) AcceptThrottled() bool {
	return c.AcceptRate > 0
}

// IsDevelopment reports whether the server runs in the development environment.
func (c *AppConfig) IsDevelopment() bool {
	return c.Environment == "development"
}

// LoadConfig reads and parses the application configuration from environment variables.
// It provides default values for each configuration item and performs necessary type conversions and validation.
func LoadConfig() (*AppConfig, error) {
	return loadConfig(os.Getenv)
}

func loadConfig(getenv func(string) string) (*AppConfig, error) {
	cfg := &AppConfig{}
	var err error

	// --- General Server Settings ---
	cfg.Environment = getenv("ENVIRONMENT")
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}

	cfg.Host = getenv("HOST")
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}

	if cfg.Port, err = intEnv(getenv, "PORT", 8080); err != nil {
		return nil, err
	}
	if err := checkPort("PORT", cfg.Port); err != nil {
		return nil, err
	}

	// --- Admin HTTP Settings ---
	if cfg.AdminPort, err = intEnv(getenv, "ADMIN_PORT", 0); err != nil {
		return nil, err
	}
	if cfg.AdminPort != 0 {
		if err := checkPort("ADMIN_PORT", cfg.AdminPort); err != nil {
			return nil, err
		}
		if cfg.AdminPort == cfg.Port {
			return nil, fmt.Errorf("ADMIN_PORT must differ from PORT (%d)", cfg.Port)
		}
	}

	cfg.AllowedOrigins = []string{}
	if originsStr := getenv("ALLOWED_ORIGINS"); originsStr != "" {
		for _, origin := range strings.Split(originsStr, ",") {
			if trimmed := strings.TrimSpace(origin); trimmed != "" {
				cfg.AllowedOrigins = append(cfg.AllowedOrigins, trimmed)
			}
		}
	}

	// --- Chat Core Settings ---
	if cfg.BusCapacity, err = intEnv(getenv, "BUS_CAPACITY", 128); err != nil {
		return nil, err
	}
	if cfg.BusCapacity < 1 {
		return nil, fmt.Errorf("BUS_CAPACITY must be positive, got %d", cfg.BusCapacity)
	}

	if cfg.MaxFrameBytes, err = intEnv(getenv, "MAX_FRAME_BYTES", 64*1024); err != nil {
		return nil, err
	}
	if cfg.MaxFrameBytes < 256 {
		return nil, fmt.Errorf("MAX_FRAME_BYTES must be at least 256, got %d", cfg.MaxFrameBytes)
	}

	if cfg.WriteTimeout, err = durationEnv(getenv, "WRITE_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.HandshakeTimeout, err = durationEnv(getenv, "HANDSHAKE_TIMEOUT", 0); err != nil {
		return nil, err
	}

	// --- Abuse Protection Settings ---
	if rateStr := getenv("ACCEPT_RATE"); rateStr != "" {
		cfg.AcceptRate, err = strconv.ParseFloat(rateStr, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid ACCEPT_RATE environment variable: %w", err)
		}
	}
	if cfg.AcceptRate < 0 {
		return nil, fmt.Errorf("ACCEPT_RATE must not be negative, got %v", cfg.AcceptRate)
	}

	if cfg.AcceptBurst, err = intEnv(getenv, "ACCEPT_BURST", 10); err != nil {
		return nil, err
	}
	if cfg.AcceptBurst < 1 {
		return nil, fmt.Errorf("ACCEPT_BURST must be positive, got %d", cfg.AcceptBurst)
	}

	return cfg, nil
}

func intEnv(getenv func(string) string, key string, def int) (int, error) {
	raw := getenv(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s environment variable: %w", key, err)
	}
	return v, nil
}

// durationEnv accepts Go duration strings ("15s") or a bare number of seconds.
func durationEnv(getenv func(string) string, key string, def time.Duration) (time.Duration, error) {
	raw := getenv(key)
	if raw == "" {
		return def, nil
	}
	var d time.Duration
	if secs, err := strconv.Atoi(raw); err == nil {
		d = time.Duration(secs) * time.Second
	} else if d, err = time.ParseDuration(raw); err != nil {
		return 0, fmt.Errorf("invalid %s environment variable: %w", key, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s must not be negative, got %s", key, d)
	}
	return d, nil
}

func checkPort(key string, port int) error {
	if port < 1024 || port > 65535 {
		return fmt.Errorf("%s %d is outside the recommended range (%d-%d) to avoid privileged ports", key, port, 1024, 65535)
	}
	return nil
}
