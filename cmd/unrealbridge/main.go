package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dhelmrich/UnrealReceiver/pkg/bridge"
	"github.com/dhelmrich/UnrealReceiver/pkg/config"
	"github.com/dhelmrich/UnrealReceiver/pkg/logger"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	configFile := flag.String("config", "config.yaml", "Path to config file")
	devMode := flag.Bool("dev", false, "Enable development mode")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("unrealbridge %s (commit: %s, built: %s)\n", version, commit, date)
		return
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logLevel := logger.ParseLevel(cfg.Logging.Level)
	log := logger.NewDefaultLogger(logLevel, cfg.Logging.Format)
	if *devMode {
		log = logger.NewDefaultLogger(logger.DebugLevel, "text")
		log.Info("running in development mode")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := bridge.New(cfg, log)
	if err := b.Start(ctx); err != nil {
		log.Error("failed to start bridge", logger.Err(err))
		os.Exit(1)
	}

	log.Info("unrealbridge started",
		logger.String("signalling_url", cfg.Signalling.URL),
		logger.Int("local_port", cfg.Bridge.LocalPort),
		logger.Int("data_port", cfg.Bridge.DataPort),
	)
	log.Info("press Ctrl+C to shutdown")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info("shutdown signal received, stopping bridge")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = shutdownCtx // Stop is synchronous; reserved for a future drain deadline

	b.Stop()
	log.Info("unrealbridge stopped")
}
