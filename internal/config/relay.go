package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// RelayConfig holds the relay daemon's configuration, loadable from a YAML
// file with environment overrides. Durations are given in seconds.
type RelayConfig struct {
	ListenAddr     string   `yaml:"listen_addr"`
	RoomTTLSeconds int      `yaml:"room_ttl_seconds"`
	PruneSeconds   int      `yaml:"prune_seconds"`
	MaxMessageSize int64    `yaml:"max_message_size"`
	TURNSecret     string   `yaml:"turn_secret"`
	TURNTTLSeconds int      `yaml:"turn_ttl_seconds"`
	ICEServers     []string `yaml:"ice_servers"`
	LogLevel       string   `yaml:"log_level"`
}

func defaultRelayConfig() *RelayConfig {
	return &RelayConfig{
		ListenAddr:     ":8080",
		RoomTTLSeconds: 300,
		PruneSeconds:   10,
		MaxMessageSize: 64 * 1024,
		TURNTTLSeconds: 6 * 60 * 60,
		LogLevel:       "info",
	}
}

// LoadRelay reads the relay configuration: defaults, then the YAML file if
// path is non-empty, then environment variables on top.
func LoadRelay(path string) (*RelayConfig, error) {
	cfg := defaultRelayConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if v := os.Getenv("TANDEM_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("TANDEM_TURN_SECRET"); v != "" {
		cfg.TURNSecret = v
	}
	if v := os.Getenv("TANDEM_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}

	return cfg, nil
}

// RoomTTL returns the room idle TTL as a duration.
func (c *RelayConfig) RoomTTL() time.Duration {
	return time.Duration(c.RoomTTLSeconds) * time.Second
}

// PruneInterval returns the prune sweep period as a duration.
func (c *RelayConfig) PruneInterval() time.Duration {
	return time.Duration(c.PruneSeconds) * time.Second
}

// TURNTTL returns the credential validity window as a duration.
func (c *RelayConfig) TURNTTL() time.Duration {
	return time.Duration(c.TURNTTLSeconds) * time.Second
}
