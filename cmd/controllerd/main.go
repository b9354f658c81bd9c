// Controller core daemon.
//
// Usage:
//
//	controllerd [--node-key=...] Run node
//	controllerd --help            Show help
package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/Klingon-tech/controller-core/config"
	"github.com/Klingon-tech/controller-core/internal/adapters/consensus"
	"github.com/Klingon-tech/controller-core/internal/adapters/executor"
	"github.com/Klingon-tech/controller-core/internal/adapters/kms"
	"github.com/Klingon-tech/controller-core/internal/adapters/network"
	storageadapter "github.com/Klingon-tech/controller-core/internal/adapters/storage"
	"github.com/Klingon-tech/controller-core/internal/adapters/syncstore"
	"github.com/Klingon-tech/controller-core/internal/auth"
	"github.com/Klingon-tech/controller-core/internal/chain"
	"github.com/Klingon-tech/controller-core/internal/controller"
	ctllog "github.com/Klingon-tech/controller-core/internal/log"
	"github.com/Klingon-tech/controller-core/internal/nodemgr"
	"github.com/Klingon-tech/controller-core/internal/pool"
	"github.com/Klingon-tech/controller-core/internal/rpc"
	"github.com/Klingon-tech/controller-core/internal/storage"
	"github.com/Klingon-tech/controller-core/internal/syncmgr"
	"github.com/Klingon-tech/controller-core/internal/watcher"
	"github.com/Klingon-tech/controller-core/pkg/block"
	"github.com/Klingon-tech/controller-core/pkg/crypto"
	"github.com/Klingon-tech/controller-core/pkg/types"
)

func main() {
	// ── 1. Load config (defaults → file → flags) ────────────────────────
	cfg, flags, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	// ── 2. Init logger ───────────────────────────────────────────────────
	logFile := cfg.Log.File
	if logFile == "" {
		logsDir := cfg.LogsDir()
		if err := os.MkdirAll(logsDir, 0755); err != nil {
			fmt.Fprintf(os.Stderr, "Error creating logs dir: %v\n", err)
			os.Exit(1)
		}
		logFile = logsDir + "/controllerd.log"
	}
	if err := ctllog.Init(cfg.Log.Level, cfg.Log.JSON, logFile); err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing logger: %v\n", err)
		os.Exit(1)
	}
	logger := ctllog.WithComponent("main")

	// ── 3. Node identity ─────────────────────────────────────────────────
	nodeKey, err := loadOrCreateNodeKey(nodeKeyPath(cfg, flags))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load node key")
	}
	defer nodeKey.Zero()
	nodeAddress := crypto.AddressFromPubKey(nodeKey.PublicKey())

	logger.Info().
		Str("network", string(cfg.Network)).
		Str("node_address", nodeAddress.String()).
		Msg("starting controller core")

	// ── 4. Open storage ───────────────────────────────────────────────────
	db, err := storage.NewBadger(cfg.StorageDir())
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.StorageDir()).Msg("failed to open database")
	}
	defer db.Close()
	storageAdapter := storageadapter.New(db)

	// ── 5. Filesystem sync store + watcher ───────────────────────────────
	chainDir := cfg.ChainDataDir()
	txsDir := chainDir + "/" + cfg.Watch.TxsDir
	txsFinalizedDir := chainDir + "/" + cfg.Watch.TxsFinalizedDir
	proposalsDir := chainDir + "/" + cfg.Watch.ProposalsDir
	blocksDir := chainDir + "/" + cfg.Watch.BlocksDir

	syncStore, err := syncstore.New(txsDir, txsFinalizedDir, proposalsDir, blocksDir)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create sync store")
	}

	dispatchTick := time.Duration(cfg.Controller.SyncPollIntervalMS) * time.Millisecond
	w, err := watcher.New(map[string]string{
		"txs":       txsDir,
		"proposals": proposalsDir,
		"blocks":    blocksDir,
	}, dispatchTick)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create watcher")
	}
	defer w.Close()

	// ── 6. Core components ───────────────────────────────────────────────
	chainID := types.ChainID(crypto.Hash([]byte(cfg.Network)))

	txPool := pool.New(cfg.Controller.PoolCapacity)
	// ValidUntilWindow bounds how far into the future a tx's valid_until_block
	// may sit and doubles as the included-hash eviction horizon.
	authComp := auth.New(chainID, 1, nil, 1, cfg.Controller.ValidUntilWindow)
	nodeMgr := nodemgr.New(cfg.Controller.GrabNodeNum, time.Duration(cfg.Controller.MisbehaviorCooldownBase)*time.Second)
	syncMgr := syncmgr.New(cfg.Controller.SyncRangeInterval)
	kmsAdapter := kms.New()
	executorAdapter := executor.New()
	consensusAdapter := consensus.New()

	// ── 7. Network ────────────────────────────────────────────────────────
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var net *network.Adapter
	if cfg.P2P.Enabled {
		net, err = network.New(ctx, network.Config{
			ListenAddr: cfg.P2P.ListenAddr,
			Port:       cfg.P2P.Port,
			Seeds:      cfg.P2P.Seeds,
			MaxPeers:   cfg.P2P.MaxPeers,
			NoDiscover: cfg.P2P.NoDiscover,
			DHTServer:  cfg.P2P.DHTServer,
			NetworkID:  hex.EncodeToString(chainID[:])[:16],
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to start network")
		}
		defer net.Close()
	} else {
		net, err = network.New(ctx, network.Config{ListenAddr: "127.0.0.1", Port: 0, NoDiscover: true})
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to start loopback network")
		}
		defer net.Close()
	}

	// ── 8. Chain (fork tree + finalize) ──────────────────────────────────
	ch, err := chain.New(chain.Config{
		Delay:                 cfg.Controller.Delay,
		PackageLimit:          cfg.Controller.PackageLimit,
		ProposalRetryAttempts: cfg.Controller.ProposalRetryAttempts,
	}, 0, types.Hash{}, nodeAddress, txPool, authComp, storageAdapter, syncStore, executorAdapter, consensusAdapter, kmsAdapter)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create chain")
	}

	// ── 9. Controller facade ──────────────────────────────────────────────
	ctl := controller.New(txPool, authComp, ch, nodeMgr, syncMgr, net, storageAdapter, syncStore, w, dispatchTick)

	genesis := genesisBlock(nodeAddress)
	if err := ctl.Init(ctx, 0, genesis); err != nil {
		logger.Fatal().Err(err).Msg("failed to init controller")
	}
	defer ctl.Stop()

	// Peer status announcements arrive as gossiped ChainStatusInit messages;
	// feed them into the same validation path an RPC probe would use.
	if cfg.P2P.Enabled {
		net.OnAnnouncement(ctx, func(from peer.ID, data []byte) {
			var init types.ChainStatusInit
			if err := json.Unmarshal(data, &init); err != nil {
				logger.Debug().Err(err).Str("peer", from.String()).Msg("malformed chain status announcement")
				return
			}
			if err := ctl.ProcessNetworkMsg(init); err != nil {
				logger.Debug().Err(err).Str("peer", from.String()).Msg("rejected chain status announcement")
			}
		})
	}

	// ── 10. RPC server ────────────────────────────────────────────────────
	if cfg.RPC.Enabled {
		rpcAddr := fmt.Sprintf("%s:%d", cfg.RPC.Addr, cfg.RPC.Port)
		rpcServer := rpc.New(rpcAddr, ctl, cfg.RPC.AllowedIPs)
		if err := rpcServer.Start(); err != nil {
			logger.Fatal().Err(err).Str("addr", rpcAddr).Msg("failed to start RPC server")
		}
		defer rpcServer.Stop()
		logger.Info().Str("addr", rpcServer.Addr()).Msg("RPC server started")
	}

	logger.Info().Msg("controller core started successfully")

	// ── 11. Wait for shutdown ─────────────────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info().Str("signal", sig.String()).Msg("shutdown signal received")
}

// nodeKeyPath resolves the node identity key file path, defaulting to
// <datadir>/node.key.
func nodeKeyPath(cfg *config.Config, flags *config.Flags) string {
	if flags.NodeKey != "" {
		return flags.NodeKey
	}
	return cfg.DataDir + "/node.key"
}

// loadOrCreateNodeKey reads the node's identity key from path, generating
// and persisting a new one on first start.
func loadOrCreateNodeKey(path string) (*crypto.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		keyBytes, derr := hex.DecodeString(string(data))
		if derr != nil {
			return nil, fmt.Errorf("decode node key: %w", derr)
		}
		return crypto.PrivateKeyFromBytes(keyBytes)
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read node key: %w", err)
	}

	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("generate node key: %w", err)
	}
	if werr := os.WriteFile(path, []byte(hex.EncodeToString(key.Serialize())), 0600); werr != nil {
		return nil, fmt.Errorf("persist node key: %w", werr)
	}
	return key, nil
}

// genesisBlock builds the hardcoded height-0 block finalized on first start.
func genesisBlock(proposer types.Address) *block.CompactBlock {
	header := &block.Header{
		Version:          1,
		PrevHash:         types.Hash{},
		Timestamp:        0,
		Height:           0,
		TransactionsRoot: types.Hash{},
		Proposer:         proposer,
	}
	return block.NewCompactBlock(header, nil)
}
