package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"docflow/internal/config"
	"docflow/internal/daemon"
	"docflow/internal/logging"
)

func main() {
	configPath := flag.String("config", "", "path to the configuration file")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, loaded, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	if !loaded {
		logger.Info("no config file found, using defaults")
	}

	d, err := daemon.New(cfg, logger)
	if err != nil {
		logger.Error("create daemon", logging.Error(err))
		os.Exit(1)
	}

	runErr := d.Run(ctx)
	if closeErr := d.Close(); closeErr != nil {
		logger.Warn("close daemon", logging.Error(closeErr))
	}
	if runErr != nil {
		logger.Error("daemon run", logging.Error(runErr))
		os.Exit(1)
	}
	logger.Info("docflowd shut down")
}
