package config

import (
	"fmt"
	"os"
	"strings"
)

// Load builds the node config from defaults, then a config file, then
// command-line flags, in increasing order of precedence.
func Load() (*Config, *Flags, error) {
	flags := ParseFlags()

	if flags.Help {
		printUsage()
		os.Exit(0)
	}
	if flags.Version {
		fmt.Println("controllerd version 0.1.0")
		os.Exit(0)
	}

	network := Mainnet
	if strings.ToLower(flags.Network) == "testnet" {
		network = Testnet
	}

	cfg := Default(network)
	if flags.DataDir != "" {
		cfg.DataDir = flags.DataDir
	}

	if err := EnsureDataDirs(cfg); err != nil {
		return nil, nil, fmt.Errorf("ensuring data dirs: %w", err)
	}

	configPath := flags.Config
	if configPath == "" {
		configPath = cfg.ConfigFile()
	}

	fileValues, err := LoadFile(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config file: %w", err)
	}
	if err := ApplyFileConfig(cfg, fileValues); err != nil {
		return nil, nil, fmt.Errorf("applying config file: %w", err)
	}

	ApplyFlags(cfg, flags)
	if err := Validate(cfg); err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, flags, nil
}

// EnsureDataDirs creates the data directory structure and a default config
// file if they don't already exist. Idempotent.
func EnsureDataDirs(cfg *Config) error {
	dirs := []string{
		cfg.DataDir,
		cfg.ChainDataDir(),
		cfg.StorageDir(),
		cfg.LogsDir(),
		syncDir(cfg, cfg.Watch.TxsDir),
		syncDir(cfg, cfg.Watch.TxsFinalizedDir),
		syncDir(cfg, cfg.Watch.ProposalsDir),
		syncDir(cfg, cfg.Watch.BlocksDir),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating directory %s: %w", dir, err)
		}
	}

	configPath := cfg.ConfigFile()
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := WriteDefaultConfig(configPath, cfg.Network); err != nil {
			return fmt.Errorf("writing config file: %w", err)
		}
	}
	return nil
}

func syncDir(cfg *Config, name string) string {
	return cfg.ChainDataDir() + "/" + name
}

// WriteDefaultConfig writes a commented starter config file for network.
func WriteDefaultConfig(path string, network NetworkType) error {
	content := `# Controller core node configuration.
#
# Node settings only; the controller.* tuning keys are not listed here and
# keep their built-in defaults unless added.

network = ` + string(network) + `
# datadir = ~/.ctlcore

# ============================================================================
# P2P Network
# ============================================================================

p2p.enabled = true
p2p.listen = 0.0.0.0
p2p.maxpeers = 50
# p2p.seeds = /dns4/seed1.example.com/tcp/30403/p2p/12D3KooW...
# p2p.nodiscover = false
# p2p.dhtserver = false

# ============================================================================
# RPC Server
# ============================================================================

rpc.enabled = true
rpc.addr = 127.0.0.1
rpc.allowed = 127.0.0.1

# ============================================================================
# Logging
# ============================================================================

log.level = info
# log.file = /path/to/log
# log.json = false
`
	return os.WriteFile(path, []byte(content), 0644)
}
