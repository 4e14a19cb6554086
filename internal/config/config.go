// Package config loads the ring server configuration from an INI file with
// environment variable overrides.
// Precedence: environment variables > config file > defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/ini.v1"
)

// EnvPrefix prefixes every environment override, e.g. RING_HTTP_ADDR.
const EnvPrefix = "RING_"

// Config holds the server options.
type Config struct {
	HTTPAddr            string
	GRPCAddr            string
	DBPath              string
	DockerHost          string
	ReconcileInterval   time.Duration
	StopGrace           time.Duration
	MaxConcurrentPasses int
	PassTimeout         time.Duration
	JWTSecret           string
	TokenTTL            time.Duration
	TLSDir              string
	LogLevel            string
	LogFormat           string
	OTLPEndpoint        string
}

func Default() *Config {
	return &Config{
		HTTPAddr:            ":3030",
		GRPCAddr:            ":3031",
		DBPath:              "ring.db",
		ReconcileInterval:   10 * time.Second,
		StopGrace:           10 * time.Second,
		MaxConcurrentPasses: 8,
		TokenTTL:            720 * time.Hour,
		LogLevel:            "info",
		LogFormat:           "text",
	}
}

// Load reads path if it exists and applies environment overrides. A missing
// file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	values := map[string]string{}

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			f, err := ini.Load(path)
			if err != nil {
				return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
			}
			for _, k := range f.Section("").Keys() {
				values[k.Name()] = k.String()
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("cannot access config file %s: %w", path, err)
		}
	}

	for _, key := range keys {
		if v, ok := os.LookupEnv(EnvPrefix + strings.ToUpper(key)); ok {
			values[key] = v
		}
	}

	if err := cfg.apply(values); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

var keys = []string{
	"http_addr", "grpc_addr", "db_path", "docker_host", "reconcile_interval",
	"stop_grace", "max_concurrent_passes", "pass_timeout", "jwt_secret",
	"token_ttl", "tls_dir", "log_level", "log_format", "otlp_endpoint",
}

func (c *Config) apply(values map[string]string) error {
	strs := map[string]*string{
		"http_addr":     &c.HTTPAddr,
		"grpc_addr":     &c.GRPCAddr,
		"db_path":       &c.DBPath,
		"docker_host":   &c.DockerHost,
		"jwt_secret":    &c.JWTSecret,
		"tls_dir":       &c.TLSDir,
		"log_level":     &c.LogLevel,
		"log_format":    &c.LogFormat,
		"otlp_endpoint": &c.OTLPEndpoint,
	}
	durations := map[string]*time.Duration{
		"reconcile_interval": &c.ReconcileInterval,
		"stop_grace":         &c.StopGrace,
		"pass_timeout":       &c.PassTimeout,
		"token_ttl":          &c.TokenTTL,
	}
	for key, v := range values {
		v = strings.TrimSpace(v)
		if p, ok := strs[key]; ok {
			*p = v
			continue
		}
		if p, ok := durations[key]; ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*p = d
			continue
		}
		if key == "max_concurrent_passes" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			c.MaxConcurrentPasses = n
		}
	}
	return nil
}

func (c *Config) Validate() error {
	if c.ReconcileInterval <= 0 {
		return fmt.Errorf("reconcile_interval must be positive, got %s", c.ReconcileInterval)
	}
	if c.StopGrace < 0 || c.PassTimeout < 0 {
		return fmt.Errorf("stop_grace and pass_timeout must not be negative")
	}
	if c.MaxConcurrentPasses <= 0 {
		return fmt.Errorf("max_concurrent_passes must be positive, got %d", c.MaxConcurrentPasses)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("log_format must be text or json, got %q", c.LogFormat)
	}
	return nil
}
