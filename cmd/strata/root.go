package main

import (
	"io"

	json "github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dreamware/strata/internal/cluster"
	"github.com/dreamware/strata/internal/config"
	"github.com/dreamware/strata/internal/logging"
	"github.com/dreamware/strata/internal/metrics"
	"github.com/dreamware/strata/internal/shard"
	"github.com/dreamware/strata/internal/storage"
)

// app is the state shared by every command of one invocation.
type app struct {
	configPath string
	logLevel   string

	cfg      *config.Config
	logger   *zap.Logger
	registry *prometheus.Registry
	metrics  *metrics.Collector
	shards   *shard.Registry
	pool     *cluster.Pool
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "strata",
		Short:         "Inspect and operate sharded entity storage",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return a.setup()
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", getenv("STRATA_CONFIG", "strata.yaml"),
		"config file (yaml, json or toml)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "override the configured log level")

	root.AddCommand(
		newDescribeCmd(a),
		newShardsCmd(a),
		newExecCmd(a),
		newPingCmd(a),
		newWatchCmd(a),
	)
	return root
}

// setup loads the configuration, the logger and the shard maps. Connections
// are opened on demand by the commands that need them.
func (a *app) setup() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}

	a.cfg = cfg
	a.logger = logger
	a.registry = prometheus.NewRegistry()
	a.metrics = metrics.New(a.registry)
	a.shards = shard.NewRegistry()
	if cfg.ShardMapFile != "" {
		if err := shard.LoadFile(cfg.ShardMapFile, a.shards); err != nil {
			return err
		}
	}
	return nil
}

// openPool opens every configured connection. Callers close the pool.
func (a *app) openPool() (*cluster.Pool, error) {
	opts := append(a.cfg.GatewayOptions(),
		storage.WithLogger(a.logger),
		storage.WithMetrics(a.metrics))
	pool, err := cluster.OpenAll(a.cfg.Connections, opts...)
	if err != nil {
		return nil, err
	}
	a.pool = pool
	return pool, nil
}

func (a *app) closePool() {
	if a.pool == nil {
		return
	}
	if err := a.pool.Close(); err != nil {
		a.logger.Warn("closing connections", zap.Error(err))
	}
	a.pool = nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
