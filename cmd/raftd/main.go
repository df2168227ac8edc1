// Command raftd bootstraps one replicated server: it loads a config file,
// opens durable state and log, wires the reference kv state machine, and
// runs until interrupted. Cluster transport is out of scope for the core
// (§1); raftd binds only itself via raft.LocalPeer and every other member
// declared in config as an unreachable placeholder, making this a
// single-process demo harness rather than a networked daemon — a real
// deployment swaps those placeholders for a gRPC- or HTTP-backed raft.Peer
// without touching anything under raft/.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sentinel-raft/core/kvmachine"
	"github.com/sentinel-raft/core/raft"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:           "raftd",
		Short:         "raftd runs one server of a replicated consensus cluster",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "raftd.yaml", "path to the cluster config file")
	root.AddCommand(serveCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "run this server until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func runServe() error {
	cfg, err := raft.LoadConfigFile(configPath)
	if err != nil {
		return err
	}

	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("raftd: build logger: %w", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar().With("server_id", cfg.ServerID)

	durable, err := raft.OpenDurableState(cfg.StateDir, &cfg.ServerID, sugar)
	if err != nil {
		return fmt.Errorf("raftd: open durable state: %w", err)
	}
	defer durable.Close()

	router := raft.NewRouter()
	store := kvmachine.New()
	router.Register(kvmachine.Identifier, store)

	var log raft.Log
	if cfg.LogDir != "" {
		durableLog, err := raft.OpenDurableLog(cfg.LogDir, router, sugar)
		if err != nil {
			return fmt.Errorf("raftd: open durable log: %w", err)
		}
		defer durableLog.Close()
		if err := durableLog.ReplayCommitted(durable.CommitIndex()); err != nil {
			return fmt.Errorf("raftd: replay committed entries: %w", err)
		}
		log = durableLog
	} else {
		log = raft.NewMemoryLog(router)
	}

	metrics := raft.NewMetrics(prometheus.DefaultRegisterer, cfg.ServerID)

	// The server's own majority arithmetic (raft.Tracker) divides by
	// membership.Count(), which must equal the full cluster size
	// including self — not just the peers a transport can actually
	// reach. Build membership empty, construct the server (so self can
	// be wrapped in a raft.LocalPeer), then bind self plus one
	// placeholder per remote member before Start(). This demo harness
	// wires no real transport, so every remote id stays permanently
	// unreachable; an embedder replaces those placeholders with real
	// raft.Peer implementations (e.g. over gRPC) instead of leaving them
	// absent from the map entirely.
	membership := raft.NewStaticMembership(nil)
	self := raft.NewServer(cfg.ServerID, log, durable, membership, cfg, metrics, sugar)

	peers := []raft.Peer{raft.NewLocalPeer(cfg.ServerID, self)}
	for id := range cfg.Members {
		if id == cfg.ServerID {
			continue
		}
		peers = append(peers, raft.NewUnreachablePeer(id))
	}
	membership.SetPeers(peers)

	self.Start()
	defer self.Shutdown()

	sugar.Infow("raftd started", "members", len(cfg.Members))

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	sugar.Infow("raftd shutting down")
	return nil
}
