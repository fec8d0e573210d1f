package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	tmcfg "github.com/tendermint/tendermint/config"
)

// Config is the full node configuration: the tendermint base config (node
// key, p2p listen address, rpc, log level) plus the relay engine section.
type Config struct {
	*tmcfg.Config `mapstructure:",squash"`

	Relay *RelayConfig `mapstructure:"relay"`
}

// RelayConfig holds the synchronization engine options.
type RelayConfig struct {
	// RelayPeers are the peer endpoints (id@host:port) dialed at startup and
	// tracked by the membership layer.
	RelayPeers string `mapstructure:"relay_peers"`

	// AckTimeout bounds how long a pushed record may stay unacknowledged
	// before the link is degraded.
	AckTimeout time.Duration `mapstructure:"ack_timeout"`

	// HeartbeatInterval is how often an idle link is pinged.
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`

	// LivenessTimeout degrades a link with no inbound traffic (acks, pushes,
	// ping responses) for this long.
	LivenessTimeout time.Duration `mapstructure:"liveness_timeout"`

	// BackoffBase and BackoffMax bound the jittered exponential reconnect
	// backoff.
	BackoffBase time.Duration `mapstructure:"backoff_base"`
	BackoffMax  time.Duration `mapstructure:"backoff_max"`

	// MaxReconnectAttempts caps reconnect retries per peer. 0 retries
	// forever; removing the peer is then the only way to stop.
	MaxReconnectAttempts int `mapstructure:"max_reconnect_attempts"`

	// DedupCacheSize bounds the recent-record cache that stops relay storms
	// in cyclic topologies.
	DedupCacheSize int `mapstructure:"dedup_cache_size"`

	// LogRetention is the horizon after which fully relayed records are
	// pruned from the relay log even without full acknowledgment.
	LogRetention time.Duration `mapstructure:"log_retention"`

	// PruneInterval is how often the relay log GC runs.
	PruneInterval time.Duration `mapstructure:"prune_interval"`

	// SerializationStrikeLimit degrades a link after this many malformed
	// messages in a row.
	SerializationStrikeLimit int `mapstructure:"serialization_strike_limit"`
}

// DefaultRelayConfig returns the production defaults.
func DefaultRelayConfig() *RelayConfig {
	return &RelayConfig{
		RelayPeers:               "",
		AckTimeout:               5 * time.Second,
		HeartbeatInterval:        10 * time.Second,
		LivenessTimeout:          45 * time.Second,
		BackoffBase:              500 * time.Millisecond,
		BackoffMax:               30 * time.Second,
		MaxReconnectAttempts:     0,
		DedupCacheSize:           65536,
		LogRetention:             24 * time.Hour,
		PruneInterval:            time.Minute,
		SerializationStrikeLimit: 5,
	}
}

// TestRelayConfig returns tight timeouts for tests.
func TestRelayConfig() *RelayConfig {
	cfg := DefaultRelayConfig()
	cfg.AckTimeout = 500 * time.Millisecond
	cfg.HeartbeatInterval = 50 * time.Millisecond
	cfg.LivenessTimeout = 250 * time.Millisecond
	cfg.BackoffBase = 10 * time.Millisecond
	cfg.BackoffMax = 100 * time.Millisecond
	cfg.DedupCacheSize = 1024
	cfg.LogRetention = time.Minute
	cfg.PruneInterval = 20 * time.Millisecond
	return cfg
}

func (cfg *RelayConfig) ValidateBasic() error {
	if cfg.AckTimeout <= 0 {
		return fmt.Errorf("ack_timeout must be positive, got %v", cfg.AckTimeout)
	}
	if cfg.LivenessTimeout <= cfg.HeartbeatInterval {
		return fmt.Errorf("liveness_timeout (%v) must exceed heartbeat_interval (%v)",
			cfg.LivenessTimeout, cfg.HeartbeatInterval)
	}
	if cfg.BackoffBase <= 0 || cfg.BackoffMax < cfg.BackoffBase {
		return fmt.Errorf("backoff bounds invalid: base %v, max %v", cfg.BackoffBase, cfg.BackoffMax)
	}
	if cfg.MaxReconnectAttempts < 0 {
		return fmt.Errorf("max_reconnect_attempts may not be negative")
	}
	if cfg.DedupCacheSize <= 0 {
		return fmt.Errorf("dedup_cache_size must be positive, got %d", cfg.DedupCacheSize)
	}
	if cfg.SerializationStrikeLimit <= 0 {
		return fmt.Errorf("serialization_strike_limit must be positive")
	}
	return nil
}

// DefaultConfig returns a full default configuration rooted at the default
// home dir.
func DefaultConfig() *Config {
	return &Config{
		Config: tmcfg.DefaultConfig(),
		Relay:  DefaultRelayConfig(),
	}
}

// TestConfig returns a configuration for tests, rooted at a throwaway dir.
func TestConfig() *Config {
	return &Config{
		Config: tmcfg.TestConfig(),
		Relay:  TestRelayConfig(),
	}
}

// ResetTestRoot sets up a fresh test root dir with default files and returns
// the matching config.
func ResetTestRoot(testName string) *Config {
	return &Config{
		Config: tmcfg.ResetTestRoot(testName),
		Relay:  TestRelayConfig(),
	}
}

func (cfg *Config) ValidateBasic() error {
	if err := cfg.Config.ValidateBasic(); err != nil {
		return err
	}
	return cfg.Relay.ValidateBasic()
}

// EnsureRoot creates the directory tree under root if missing.
func EnsureRoot(root string) error {
	for _, dir := range []string{
		root,
		filepath.Join(root, "config"),
		filepath.Join(root, "data"),
	} {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return err
		}
	}
	return nil
}
