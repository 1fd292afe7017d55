package main

import (
	"errors"
	"flag"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"workchain/config"
	"workchain/core"
	"workchain/core/state"
	"workchain/gateway"
	"workchain/observability"
	"workchain/observability/logging"
	"workchain/rpc"
	"workchain/storage"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("WORKCHAIN_ENV"))
	logger := logging.Setup("workd", env)

	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	if env == "" && cfg.Environment != "" {
		logger = logging.Setup("workd", cfg.Environment)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		logger.Error("failed to create data dir", "dir", cfg.DataDir, "err", err)
		os.Exit(1)
	}
	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "state"))
	if err != nil {
		logger.Error("failed to open database", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	oracle := newOracleClient(cfg, logger)
	node := core.NewNode(
		state.NewManager(db),
		oracle,
		core.WithLogger(logging.Component(logger, "node")),
		core.WithMetrics(observability.NodeMetrics()),
	)

	if _, err := node.Params(); err != nil {
		if !errors.Is(err, core.ErrNotInitialised) {
			logger.Error("failed to read platform params", "err", err)
			os.Exit(1)
		}
		platform, err := cfg.Platform()
		if err != nil {
			logger.Error("invalid platform configuration", "err", err)
			os.Exit(1)
		}
		if err := node.Initialise(platform); err != nil {
			logger.Error("failed to initialise platform params", "err", err)
			os.Exit(1)
		}
		logger.Info("platform params initialised",
			"admin", platform.Admin.String(),
			"feePercent", platform.PlatformFeePercent)
	}

	errCh := make(chan error, 2)
	go func() {
		errCh <- gateway.NewServer(node, logging.Component(logger, "gateway")).Start(cfg.GatewayAddress)
	}()
	go func() {
		errCh <- rpc.NewServer(node, logging.Component(logger, "rpc")).Start(cfg.RPCAddress)
	}()
	if err := <-errCh; err != nil {
		logger.Error("server exited", "err", err)
		os.Exit(1)
	}
}

// newOracleClient wires the marketplace subject directory. The job and bounty
// records live in the marketplace service; until its transport lands the node
// runs against the local subject store so single-process deployments work out
// of the box.
func newOracleClient(cfg *config.Config, logger *slog.Logger) core.SubjectOracle {
	path := filepath.Join(cfg.DataDir, "subjects.json")
	oracle, err := core.NewFileSubjectStore(path)
	if err != nil {
		logger.Error("failed to open subject store", "path", path, "err", err)
		os.Exit(1)
	}
	return oracle
}
