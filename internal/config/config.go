// Package config loads the tracktrip YAML configuration.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"tracktrip/internal/notify"
	"tracktrip/internal/util"
)

// Notification drivers.
const (
	DriverExpo = "expo"
	DriverNATS = "nats"
	DriverNone = "none"
)

// Config is the root of tracktrip.yaml.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Agent        AgentConfig        `yaml:"agent"`
	Notify       NotifyConfig       `yaml:"notify"`
	Connectivity ConnectivityConfig `yaml:"connectivity"`
}

// ServerConfig configures the remote task store service.
type ServerConfig struct {
	Addr   string `yaml:"addr"`
	DBPath string `yaml:"db_path"`
}

// AgentConfig configures the on-device agent.
type AgentConfig struct {
	Addr      string `yaml:"addr"`
	DBPath    string `yaml:"db_path"`
	RemoteURL string `yaml:"remote_url"`
	// UserID acts for requests that carry no X-User-ID header.
	UserID string `yaml:"user_id"`
}

// NotifyConfig selects and configures the push dispatcher.
type NotifyConfig struct {
	Driver       string        `yaml:"driver"`
	ExpoEndpoint string        `yaml:"expo_endpoint"`
	NATSURL      string        `yaml:"nats_url"`
	Subject      string        `yaml:"subject"`
	Timeout      time.Duration `yaml:"timeout"`
}

// ConnectivityConfig tunes the reachability monitor.
type ConnectivityConfig struct {
	Interval time.Duration `yaml:"interval"`
	Timeout  time.Duration `yaml:"timeout"`
}

// Default returns a configuration usable without any file.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:   ":8080",
			DBPath: "data/remote.db",
		},
		Agent: AgentConfig{
			Addr:      "127.0.0.1:8090",
			DBPath:    "data/agent.db",
			RemoteURL: "http://localhost:8080",
		},
		Notify: NotifyConfig{
			Driver:       DriverNone,
			ExpoEndpoint: notify.DefaultExpoEndpoint,
			Subject:      notify.DefaultSubject,
			Timeout:      10 * time.Second,
		},
		Connectivity: ConnectivityConfig{
			Interval: 15 * time.Second,
			Timeout:  5 * time.Second,
		},
	}
}

// Load reads configPath over the defaults. An empty path skips the file.
// A .env file in the working directory is loaded first without overriding
// the process environment, then ${VAR} references in the YAML are expanded
// and TRACKTRIP_* variables override individual fields.
func Load(configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := Default()
	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config: %w", err)
		}
	}

	applyEnv(cfg)
	cfg.Notify.Driver = strings.ToLower(strings.TrimSpace(cfg.Notify.Driver))

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.Server.Addr = util.EnvOrDefault("TRACKTRIP_SERVER_ADDR", cfg.Server.Addr)
	cfg.Server.DBPath = util.EnvOrDefault("TRACKTRIP_SERVER_DB", cfg.Server.DBPath)
	cfg.Agent.Addr = util.EnvOrDefault("TRACKTRIP_AGENT_ADDR", cfg.Agent.Addr)
	cfg.Agent.DBPath = util.EnvOrDefault("TRACKTRIP_AGENT_DB", cfg.Agent.DBPath)
	cfg.Agent.RemoteURL = util.EnvOrDefault("TRACKTRIP_REMOTE_URL", cfg.Agent.RemoteURL)
	cfg.Agent.UserID = util.EnvOrDefault("TRACKTRIP_USER_ID", cfg.Agent.UserID)
	cfg.Notify.Driver = util.EnvOrDefault("TRACKTRIP_NOTIFY_DRIVER", cfg.Notify.Driver)
	cfg.Notify.ExpoEndpoint = util.EnvOrDefault("TRACKTRIP_EXPO_ENDPOINT", cfg.Notify.ExpoEndpoint)
	cfg.Notify.NATSURL = util.EnvOrDefault("TRACKTRIP_NATS_URL", cfg.Notify.NATSURL)
	cfg.Connectivity.Interval = util.DurationOrDefault("TRACKTRIP_PROBE_INTERVAL", cfg.Connectivity.Interval)
}

// Validate reports the first inconsistent setting.
func (c *Config) Validate() error {
	switch c.Notify.Driver {
	case DriverExpo, DriverNone:
	case DriverNATS:
		if c.Notify.NATSURL == "" {
			return fmt.Errorf("notify.nats_url is required for the nats driver")
		}
	default:
		return fmt.Errorf("unknown notify driver %q", c.Notify.Driver)
	}

	if c.Agent.RemoteURL != "" {
		u, err := url.Parse(c.Agent.RemoteURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("agent.remote_url %q is not an absolute URL", c.Agent.RemoteURL)
		}
	}
	if c.Connectivity.Interval <= 0 {
		return fmt.Errorf("connectivity.interval must be positive")
	}
	if c.Connectivity.Timeout <= 0 {
		return fmt.Errorf("connectivity.timeout must be positive")
	}
	if c.Notify.Timeout <= 0 {
		return fmt.Errorf("notify.timeout must be positive")
	}
	return nil
}

// RemoteHost returns host:port of the agent's remote URL, defaulting the
// port from the scheme.
func (c *Config) RemoteHost() (string, error) {
	u, err := url.Parse(c.Agent.RemoteURL)
	if err != nil {
		return "", fmt.Errorf("parse remote url: %w", err)
	}
	if u.Port() != "" {
		return u.Host, nil
	}
	port := "80"
	if u.Scheme == "https" {
		port = "443"
	}
	return net.JoinHostPort(u.Hostname(), port), nil
}
