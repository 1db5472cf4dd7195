package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/tripab/replicanode/pkg/config"
	"github.com/tripab/replicanode/pkg/logging"
	"github.com/tripab/replicanode/pkg/node"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "replicanode:", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "JSON config file")
	nodeID := flag.String("id", "", "Node ID (overrides config)")
	peers := flag.String("peers", "", "Comma-separated replica addresses (overrides config)")
	adminAddr := flag.String("admin", "", "Admin API address (overrides config)")
	listen := flag.String("listen", "", "Enable the frame receiver on this address")
	logLevel := flag.String("log-level", "", "debug, info, warn or error")
	demoWrites := flag.Int("demo-writes", 0, "Issue this many demo writes after startup")
	workers := flag.Int("workers", 4, "Goroutines used by -demo-writes")
	flag.Parse()

	cfg := config.DefaultConfig()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	if *nodeID != "" {
		cfg.NodeID = *nodeID
	}
	if *peers != "" {
		cfg.Peers = strings.Split(*peers, ",")
	}
	if *adminAddr != "" {
		cfg.AdminAddr = *adminAddr
	}
	if *listen != "" {
		cfg.Receiver.Enabled = true
		cfg.Receiver.ListenAddr = *listen
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if cfg.Log.Service == logging.DefaultConfig().Service {
		cfg.Log.Service = "replicanode-" + cfg.NodeID
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Sync()

	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	}

	n, err := node.NewNode(cfg, logger)
	if err != nil {
		return err
	}
	if err := n.Start(); err != nil {
		return err
	}
	defer n.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *demoWrites > 0 {
		res := n.RunWorkload(ctx, *demoWrites, *workers)
		if res.Failed > 0 {
			logger.Warn("demo writes failed", zap.Int64("failed", res.Failed))
		}
	}

	<-ctx.Done()
	logger.Info("shutting down")
	return nil
}
