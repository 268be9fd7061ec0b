// Command raftauctiond runs a single Raft node of the auction cluster:
// the consensus core, its durable log store, the relational auction/bidding
// executor, the peer RPC listener, the client submission listener, and a
// Prometheus /metrics endpoint.
package main

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/kartikbazzad/raftauction/executor"
	"github.com/kartikbazzad/raftauction/pkg/config"
	"github.com/kartikbazzad/raftauction/pkg/logger"
	"github.com/kartikbazzad/raftauction/raft"
	"github.com/kartikbazzad/raftauction/store"
)

// daemonConfig is unmarshalled by pkg/config.Load (spf13/viper,
// RAFTAUCTION_-prefixed env vars) and then overlaid by any cobra flags the
// operator passed explicitly. Only the single-word keys (id, peers) can be
// set from the environment: Load turns every underscore after the prefix
// into a dot, so e.g. RAFTAUCTION_DATA_DIR becomes "data.dir" and does not
// reach DataDir; the multi-word fields are set by flags only.
type daemonConfig struct {
	ID          string `mapstructure:"id"`
	Peers       string `mapstructure:"peers"` // "id1=host:port,id2=host:port,..." — includes self
	DataDir     string `mapstructure:"data_dir"`
	ClientAddr  string `mapstructure:"client_addr"`
	MetricsAddr string `mapstructure:"metrics_addr"`
	LogLevel    string `mapstructure:"log_level"`
	LogFormat   string `mapstructure:"log_format"`
}

func main() {
	var cfg daemonConfig
	if err := config.Load("RAFTAUCTION_", &cfg); err != nil {
		fmt.Fprintln(os.Stderr, "raftauctiond: load config:", err)
	}

	rootCmd := &cobra.Command{
		Use:   "raftauctiond",
		Short: "Run a raftauction cluster node",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cfg)
		},
	}
	rootCmd.Flags().StringVar(&cfg.ID, "id", cfg.ID, "this node's id (must be a key in --peers)")
	rootCmd.Flags().StringVar(&cfg.Peers, "peers", cfg.Peers, "comma-separated id=host:port list, including self")
	rootCmd.Flags().StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "directory for the raft log and executor databases")
	rootCmd.Flags().StringVar(&cfg.ClientAddr, "client-addr", cfg.ClientAddr, "address for the client submission listener")
	rootCmd.Flags().StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "address for the Prometheus /metrics endpoint")
	rootCmd.Flags().StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "DEBUG, INFO, WARN, or ERROR")
	rootCmd.Flags().StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "json or text")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "raftauctiond:", err)
		os.Exit(1)
	}
}

func run(cfg daemonConfig) error {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "INFO"
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = "json"
	}
	logger.Init(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	if cfg.ID == "" {
		return fmt.Errorf("--id is required")
	}
	if cfg.DataDir == "" {
		return fmt.Errorf("--data-dir is required")
	}

	peers, raftAddr, err := parsePeers(cfg.Peers, cfg.ID)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	st, err := store.Open(filepath.Join(cfg.DataDir, "raft.db"))
	if err != nil {
		return fmt.Errorf("open raft store: %w", err)
	}
	defer st.Close()

	app, err := executor.Open(filepath.Join(cfg.DataDir, "executor.db"))
	if err != nil {
		return fmt.Errorf("open executor: %w", err)
	}
	defer app.Close()

	nodeCfg := raft.DefaultConfig(cfg.ID, peers)
	transport := raft.NewTCPTransport()

	node, err := raft.NewNode(nodeCfg, st, transport, app)
	if err != nil {
		return fmt.Errorf("create node: %w", err)
	}
	node.Start()
	defer node.Stop()

	rpcServer, err := raft.NewRPCServer(raftAddr, node)
	if err != nil {
		return fmt.Errorf("bind raft rpc listener: %w", err)
	}
	go func() {
		if err := rpcServer.Serve(); err != nil {
			logger.Error("raftauctiond: rpc server stopped", "err", err)
		}
	}()
	defer rpcServer.Close()

	if cfg.ClientAddr != "" {
		cs, err := newClientServer(cfg.ClientAddr, node)
		if err != nil {
			return fmt.Errorf("bind client listener: %w", err)
		}
		go func() {
			if err := cs.serve(); err != nil {
				logger.Error("raftauctiond: client server stopped", "err", err)
			}
		}()
		defer cs.close()
	}

	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		go func() {
			if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
				logger.Error("raftauctiond: metrics server stopped", "err", err)
			}
		}()
	}

	logger.Info("raftauctiond: started", "id", cfg.ID, "raft_addr", raftAddr)
	select {}
}

// parsePeers parses "id1=host:port,id2=host:port,..." into a dialAddr->id
// map (raft.Config.Peers' shape) and returns the bind address belonging to
// selfID.
func parsePeers(spec string, selfID string) (map[string]string, string, error) {
	peers := make(map[string]string)
	var selfAddr string
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			return nil, "", fmt.Errorf("invalid --peers entry %q, want id=host:port", part)
		}
		id, addr := kv[0], kv[1]
		peers[addr] = id
		if id == selfID {
			selfAddr = addr
		}
	}
	if selfAddr == "" {
		return nil, "", fmt.Errorf("--id %q not found in --peers", selfID)
	}
	return peers, selfAddr, nil
}
