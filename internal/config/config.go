package config

import (
	"fmt"
	"os"
	"time"
)

// Default configuration values (production)
const (
	DefaultDomain   = "relay.softlock.games"
	DefaultSTUN     = "stun:stun.l.google.com:19302"
	DefaultTURN     = "" // no TURN fallback unless configured
	DefaultTURNUser = ""
	DefaultTURNPass = ""

	DefaultTickRate  = 30
	DefaultWatchdog  = 8 * time.Second
	DefaultFreshness = time.Second
)

// Config holds client configuration.
type Config struct {
	// Domain is the rendezvous relay domain.
	Domain string

	// WebSocketURL is constructed from Domain unless overridden.
	WebSocketURL string

	// ICE servers for the peer connection.
	STUNServer string
	TURNServer string
	TURNUser   string
	TURNPass   string
	ForceRelay bool

	// Replication cadence and failure detection.
	TickRate  int
	Watchdog  time.Duration
	Freshness time.Duration

	// Ordered selects the data channel's ordering mode. The replication
	// protocol tags every message with a sequence number, so unordered
	// delivery is the default.
	Ordered bool
}

// Options for loading config with CLI flag overrides.
type Options struct {
	Domain     string
	RelayURL   string
	STUNServer string
	TURNServer string
	TURNUser   string
	TURNPass   string
	ForceRelay bool

	TickRate  int
	Watchdog  time.Duration
	Freshness time.Duration
	Ordered   bool
}

// Load reads configuration with the following priority:
// 1. CLI flags (passed via Options) - highest priority
// 2. Environment variables
// 3. Hardcoded defaults - lowest priority
func Load(opts Options) (*Config, error) {
	domain := opts.Domain
	if domain == "" {
		domain = os.Getenv("TANDEM_DOMAIN")
	}
	if domain == "" {
		domain = DefaultDomain
	}

	stunServer := opts.STUNServer
	if stunServer == "" {
		stunServer = os.Getenv("TANDEM_STUN_SERVER")
	}
	if stunServer == "" {
		stunServer = DefaultSTUN
	}

	turnServer := opts.TURNServer
	if turnServer == "" {
		turnServer = os.Getenv("TANDEM_TURN_SERVER")
	}
	if turnServer == "" {
		turnServer = DefaultTURN
	}

	turnUser := opts.TURNUser
	if turnUser == "" {
		turnUser = os.Getenv("TANDEM_TURN_USERNAME")
	}
	if turnUser == "" {
		turnUser = DefaultTURNUser
	}

	turnPass := opts.TURNPass
	if turnPass == "" {
		turnPass = os.Getenv("TANDEM_TURN_PASSWORD")
	}
	if turnPass == "" {
		turnPass = DefaultTURNPass
	}

	wsURL := opts.RelayURL
	if wsURL == "" {
		wsURL = os.Getenv("TANDEM_RELAY_URL")
	}
	if wsURL == "" {
		wsURL = fmt.Sprintf("wss://%s/ws", domain)
	}

	tickRate := opts.TickRate
	if tickRate <= 0 {
		tickRate = DefaultTickRate
	}
	watchdog := opts.Watchdog
	if watchdog <= 0 {
		watchdog = DefaultWatchdog
	}
	freshness := opts.Freshness
	if freshness <= 0 {
		freshness = DefaultFreshness
	}

	return &Config{
		Domain:       domain,
		WebSocketURL: wsURL,
		STUNServer:   stunServer,
		TURNServer:   turnServer,
		TURNUser:     turnUser,
		TURNPass:     turnPass,
		ForceRelay:   opts.ForceRelay,
		TickRate:     tickRate,
		Watchdog:     watchdog,
		Freshness:    freshness,
		Ordered:      opts.Ordered,
	}, nil
}

// CredentialsURL returns the relay's TURN credential endpoint.
func (c *Config) CredentialsURL() string {
	return fmt.Sprintf("https://%s/turn-credentials", c.Domain)
}

// GetSTUNServers returns STUN server URLs if configured.
func (c *Config) GetSTUNServers() []string {
	if c.STUNServer == "" {
		return nil
	}
	return []string{c.STUNServer}
}

// GetTURNServers returns TURN server URLs if configured.
func (c *Config) GetTURNServers() []string {
	if c.TURNServer == "" {
		return nil
	}
	return []string{
		fmt.Sprintf("%s:3478?transport=udp", c.TURNServer),
		fmt.Sprintf("%s:3478?transport=tcp", c.TURNServer),
		fmt.Sprintf("turns:%s:5349?transport=tcp", c.TURNServer),
	}
}

// GetTURNCredentials returns TURN username and password.
func (c *Config) GetTURNCredentials() (string, string) {
	return c.TURNUser, c.TURNPass
}
