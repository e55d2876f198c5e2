package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"devserve/internal/config"
	"devserve/internal/logging"
	"devserve/internal/server"

	"go.uber.org/zap"
)

// Build information (set by linker flags during build)
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	var showVersion bool
	flag.BoolVar(&showVersion, "version", false, "Show version information")

	cfg, err := config.Load(flag.CommandLine, os.Args[1:])
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if showVersion {
		fmt.Println("devserve - local development file server")
		fmt.Printf("Version: %s\n", version)
		if commit != "unknown" {
			fmt.Printf("Commit: %s\n", commit)
		}
		if date != "unknown" {
			fmt.Printf("Built: %s\n", date)
		}
		os.Exit(0)
	}

	if err := logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat}); err != nil {
		log.Fatalf("Failed to initialize logging: %v", err)
	}
	defer logging.Sync()
	logger := logging.L()

	if err := cfg.Validate(); err != nil {
		logger.Fatal("configuration validation failed", zap.Error(err))
	}

	// No serving without a primary root.
	if err := cfg.ResolveRoot(); err != nil {
		logger.Fatal("cannot determine primary root", zap.Error(err))
	}

	srv, err := server.New(cfg)
	if err != nil {
		logger.Fatal("failed to create server", zap.Error(err))
	}

	if err := srv.Start(); err != nil {
		logger.Error("server failed", zap.Error(err))
		logging.Sync()
		os.Exit(1)
	}
}
