package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"tide-controller/internal/agent"
	"tide-controller/internal/config"
	"tide-controller/internal/logger"
	"tide-controller/internal/status"
)

// These variables will be set by the build script
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	configPath := flag.String("config", "config.json", "path to the JSON configuration file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("tide-master %s (commit %s, built %s)\n", version, commit, date)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(log)
	log.Info("starting tide master", slog.String("version", version), slog.String("commit", commit), slog.String("built", date))

	a, err := agent.NewAgent(cfg, status.BuildInfo{Version: version, Commit: commit, Date: date}, log)
	if err != nil {
		log.Error("failed to create agent", logger.Error(err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.Run(ctx); err != nil {
		log.Error("agent stopped with error", logger.Error(err))
		os.Exit(1)
	}
	log.Info("agent shut down gracefully")
}
