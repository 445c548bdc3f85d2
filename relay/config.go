package relay

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	"gopkg.in/yaml.v3"

	"github.com/opd-ai/punchchat/crypto"
)

// DefaultPort is the TCP port the relay listens on.
const DefaultPort = 4001

// DefaultMaxCircuitDuration bounds the lifetime of a relayed connection.
const DefaultMaxCircuitDuration = time.Hour

// Config holds the relay server settings.
type Config struct {
	Port uint16 `yaml:"port"`
	IPv6 bool   `yaml:"ipv6"`
	// SeedByte derives a deterministic identity when Secret is empty.
	SeedByte uint8  `yaml:"secretKeySeed"`
	Secret   string `yaml:"secret"`

	MaxCircuitDuration time.Duration `yaml:"maxCircuitDuration"`
	// MaxReservations caps concurrent reservations; zero keeps the
	// libp2p default.
	MaxReservations int `yaml:"maxReservations"`
	// Allow restricts reservations to these peer ids when non-empty.
	Allow []string `yaml:"allow"`
	// Rendezvous enables the rendezvous registry on the relay host.
	Rendezvous  bool   `yaml:"rendezvous"`
	MetricsAddr string `yaml:"metricsAddr"`
}

// DefaultConfig returns the relay defaults.
func DefaultConfig() Config {
	return Config{
		Port:               DefaultPort,
		MaxCircuitDuration: DefaultMaxCircuitDuration,
	}
}

// LoadConfig reads a YAML file over the defaults and validates it.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file at %s: %w", path, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal yaml from %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// Validate checks the settings that cannot be defaulted.
func (c *Config) Validate() error {
	if c.MaxCircuitDuration <= 0 {
		return errors.New("maxCircuitDuration must be positive")
	}
	if c.MaxReservations < 0 {
		return errors.New("maxReservations cannot be negative")
	}
	if _, err := c.AllowedPeers(); err != nil {
		return err
	}
	return nil
}

// AllowedPeers parses the allowlist.
func (c *Config) AllowedPeers() ([]peer.ID, error) {
	peers := make([]peer.ID, 0, len(c.Allow))
	for _, s := range c.Allow {
		id, err := peer.Decode(s)
		if err != nil {
			return nil, fmt.Errorf("invalid peer id %q in allowlist: %w", s, err)
		}
		peers = append(peers, id)
	}
	return peers, nil
}

// Identity returns the relay identity, from Secret when set and from
// SeedByte otherwise.
func (c *Config) Identity() (*crypto.Identity, error) {
	if c.Secret != "" {
		return crypto.DeriveIdentity(c.Secret)
	}
	return crypto.IdentityFromSeedByte(c.SeedByte)
}
