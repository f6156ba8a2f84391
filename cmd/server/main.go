// AgentBazaar - Pay-per-call marketplace for AI agents
package main

import (
	"context"
	"os"
	"time"

	"github.com/mbd888/agentbazaar/internal/config"
	"github.com/mbd888/agentbazaar/internal/logging"
	"github.com/mbd888/agentbazaar/internal/server"
	"github.com/mbd888/agentbazaar/internal/traces"
)

// Build info - set by ldflags
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	// Bootstrap logger until the configured level and format are known
	logger := logging.New("info", "text")

	logger.Info("starting agentbazaar",
		"version", Version,
		"commit", Commit,
		"build_time", BuildTime,
	)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger = logging.New(cfg.LogLevel, cfg.LogFormat)

	logger.Info("configuration loaded",
		"env", cfg.Env,
		"network", cfg.Network,
		"chain_id", cfg.ChainID,
		"usdc_contract", cfg.USDCContract,
		"registry", cfg.RegistryAddress,
		"payments_configured", cfg.PaymentConfigured(),
	)

	ctx := context.Background()

	shutdownTraces, err := traces.Init(ctx, cfg.OTLPEndpoint, Version, logger)
	if err != nil {
		logger.Warn("tracing disabled", "error", err)
	}
	if shutdownTraces != nil {
		defer func() {
			tctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownTraces(tctx); err != nil {
				logger.Warn("trace flush failed", "error", err)
			}
		}()
	}

	srv, err := server.New(cfg, server.WithLogger(logger))
	if err != nil {
		logger.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	if err := srv.Run(ctx); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
