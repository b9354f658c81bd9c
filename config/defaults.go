package config

// DefaultMainnet returns the default node configuration for mainnet.
func DefaultMainnet() *Config {
	dataDir := DefaultDataDir()
	return &Config{
		Network: Mainnet,
		DataDir: dataDir,
		Controller: ControllerConfig{
			Delay:                   2,
			PoolCapacity:            500,
			PackageLimit:            100,
			GrabNodeNum:             5,
			MisbehaviorCooldownBase: 30,
			SyncPollIntervalMS:      1000,
			SyncRangeInterval:       50,
			ProposalRetryAttempts:   6,
			ValidUntilWindow:        100,
		},
		Watch: WatchConfig{
			TxsDir:          "txs",
			TxsFinalizedDir: "txs-finalized",
			ProposalsDir:    "proposals",
			BlocksDir:       "blocks",
		},
		P2P: P2PConfig{
			Enabled:    true,
			ListenAddr: "0.0.0.0",
			Port:       30303,
			MaxPeers:   50,
			// Bootnodes are seed nodes that help new peers join the network.
			// Format: multiaddr strings, e.g.:
			//   "/ip4/203.0.113.1/tcp/30303/p2p/12D3KooW..."
			Seeds: []string{},
		},
		RPC: RPCConfig{
			Enabled:    true,
			Addr:       "127.0.0.1",
			Port:       8545,
			AllowedIPs: []string{"127.0.0.1"},
		},
		Log: LogConfig{
			Level: "info",
			JSON:  false,
		},
	}
}

// DefaultTestnet returns the default node configuration for testnet.
func DefaultTestnet() *Config {
	cfg := DefaultMainnet()
	cfg.Network = Testnet
	cfg.P2P.Port = 30304
	cfg.RPC.Port = 8645
	return cfg
}

// Default returns the default node configuration for the given network.
func Default(network NetworkType) *Config {
	switch network {
	case Testnet:
		return DefaultTestnet()
	default:
		return DefaultMainnet()
	}
}
