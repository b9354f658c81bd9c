// Package config handles application configuration.
//
// Configuration is split into two categories:
//   - Protocol tuning: the fork-choice/finalization constants that must match
//     the sibling consensus engine (delay, retry counts, cooldowns).
//   - Node settings: runtime configuration that can vary per node.
package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// NetworkType identifies mainnet or testnet.
type NetworkType string

const (
	Mainnet NetworkType = "mainnet"
	Testnet NetworkType = "testnet"
)

// =============================================================================
// Node Configuration (runtime, per-node settings)
// =============================================================================

// Config holds node-specific runtime configuration.
type Config struct {
	// Core
	Network NetworkType `conf:"network"`
	DataDir string      `conf:"datadir"`

	// Fork-tree / finalization tuning.
	Controller ControllerConfig

	// Filesystem pub/sub paths watched for sync artifacts.
	Watch WatchConfig

	// P2P networking
	P2P P2PConfig

	// RPC server
	RPC RPCConfig

	// Logging
	Log LogConfig
}

// ControllerConfig holds the chain state machine's tuning constants.
type ControllerConfig struct {
	Delay                   uint64 `conf:"controller.delay"`                     // Block confirmation depth.
	PoolCapacity            int    `conf:"controller.pool_capacity"`             // Max pending tx hashes held by the pool.
	PackageLimit            int    `conf:"controller.package_limit"`             // Max tx hashes packaged per proposal.
	GrabNodeNum             int    `conf:"controller.grab_node_num"`             // Peers returned by NodeManager.GrabNode.
	MisbehaviorCooldownBase int    `conf:"controller.misbehavior_cooldown_base"` // Seconds; cooldown = base * 2^ban_times.
	SyncPollIntervalMS      int    `conf:"controller.sync_poll_interval_ms"`     // Watcher dispatch cadence.
	SyncRangeInterval       uint64 `conf:"controller.sync_range_interval"`       // Max heights per sync request.
	ProposalRetryAttempts   int    `conf:"controller.proposal_retry_attempts"`   // add_proposal pool.package() retries.
	ValidUntilWindow        uint64 `conf:"controller.valid_until_window"`        // Max (valid_until - current) accepted by Authentication.
}

// WatchConfig holds the four sync directories; the controller watches txs,
// proposals and blocks, and only writes to txs-finalized.
type WatchConfig struct {
	TxsDir           string `conf:"watch.txs_dir"`
	TxsFinalizedDir  string `conf:"watch.txs_finalized_dir"`
	ProposalsDir     string `conf:"watch.proposals_dir"`
	BlocksDir        string `conf:"watch.blocks_dir"`
}

// P2PConfig holds peer-to-peer network settings.
type P2PConfig struct {
	Enabled    bool     `conf:"p2p.enabled"`
	ListenAddr string   `conf:"p2p.listen"`
	Port       int      `conf:"p2p.port"`
	Seeds      []string `conf:"p2p.seeds"`
	MaxPeers   int      `conf:"p2p.maxpeers"`
	NoDiscover bool     `conf:"p2p.nodiscover"`
	DHTServer  bool     `conf:"p2p.dhtserver"` // Run DHT in server mode (for seeds/validators)
}

// RPCConfig holds RPC server settings.
type RPCConfig struct {
	Enabled    bool     `conf:"rpc.enabled"`
	Addr       string   `conf:"rpc.addr"`
	Port       int      `conf:"rpc.port"`
	AllowedIPs []string `conf:"rpc.allowed"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `conf:"log.level"`
	File  string `conf:"log.file"`
	JSON  bool   `conf:"log.json"`
}

// =============================================================================
// Directory helpers
// =============================================================================

// DefaultDataDir returns the platform-specific default data directory.
//
//	Linux:   ~/.ctlcore
//	macOS:   ~/Library/Application Support/CtlCore
//	Windows: %APPDATA%\CtlCore
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".ctlcore"
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "CtlCore")
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData != "" {
			return filepath.Join(appData, "CtlCore")
		}
		return filepath.Join(home, "AppData", "Roaming", "CtlCore")
	default:
		return filepath.Join(home, ".ctlcore")
	}
}

// ChainDataDir returns the network-specific data directory.
func (c *Config) ChainDataDir() string {
	return filepath.Join(c.DataDir, string(c.Network))
}

// StorageDir returns the region-keyed storage directory.
func (c *Config) StorageDir() string {
	return filepath.Join(c.ChainDataDir(), "storage")
}

// LogsDir returns the logs directory.
func (c *Config) LogsDir() string {
	return filepath.Join(c.DataDir, "logs")
}

// ConfigFile returns the config file path.
func (c *Config) ConfigFile() string {
	return filepath.Join(c.DataDir, "ctlcore.conf")
}
