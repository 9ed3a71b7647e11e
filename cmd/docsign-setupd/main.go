// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-docsign.
//
// go-docsign is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// docsign-setupd is the elevated setup daemon. It owns the privileged
// hardware module operations (key creation in the owner hierarchy,
// vault resealing) and exposes them to standard-privilege processes
// over a root-owned unix socket. Keys leave it only as serialized
// envelopes.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jeremyhahn/go-docsign/internal/config"
	"github.com/jeremyhahn/go-docsign/internal/setupd"
	"github.com/jeremyhahn/go-docsign/pkg/docsign"
	"github.com/jeremyhahn/go-docsign/pkg/logging"
	"github.com/jeremyhahn/go-docsign/pkg/metrics"
	"github.com/jeremyhahn/go-docsign/pkg/storage"
	"github.com/jeremyhahn/go-docsign/pkg/storage/file"
	"github.com/jeremyhahn/go-docsign/pkg/tpm"
)

var (
	// Version information (set during build)
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("docsign-setupd\n")
		fmt.Printf("  Version:    %s\n", version)
		fmt.Printf("  Git Commit: %s\n", commit)
		fmt.Printf("  Built:      %s\n", date)
		os.Exit(0)
	}

	if envConfig := os.Getenv("DOCSIGN_CONFIG"); envConfig != "" && *configPath == "" {
		*configPath = envConfig
	}

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg.Debug())
	metrics.SetEnabled(cfg.Metrics.Enabled)

	if os.Geteuid() != 0 {
		logger.Warn("setupd is not running as root; hardware provisioning may fail")
	}

	var store storage.Backend
	switch cfg.Storage.Backend {
	case "memory":
		store = storage.NewMemory()
	default:
		store, err = file.New(cfg.Storage.Path)
		if err != nil {
			logger.Fatalf("Failed to open storage at %s: %v", cfg.Storage.Path, err)
		}
	}
	defer store.Close()

	module := tpm.NewTPM2Module(&tpm.Config{
		Device:       cfg.TPM.DevicePath,
		UseSimulator: cfg.TPM.UseSimulator,
		SRKHandle:    cfg.TPM.SRKHandle,
	}, logger)
	defer module.Close()

	// Take ownership of the storage hierarchy up front so standard
	// processes never need to.
	if err := module.Provision(); err != nil {
		logger.Warnf("Hardware provisioning failed, continuing degraded: %v", err)
	}

	service, err := docsign.NewService(module, store, logger)
	if err != nil {
		logger.Fatalf("Failed to initialize service: %v", err)
	}

	server, err := setupd.NewServer(&setupd.Config{
		SocketPath:     cfg.Setupd.SocketPath,
		RequestsPerMin: cfg.Setupd.RequestsPerMin,
		Service:        service,
		Logger:         logger,
	})
	if err != nil {
		logger.Fatalf("Failed to create setup daemon: %v", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Infof("Received signal %s, shutting down", sig)
	case err := <-errCh:
		if err != nil {
			logger.Fatalf("Setup daemon failed: %v", err)
		}
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Stop(ctx); err != nil {
		logger.Errorf("Shutdown error: %v", err)
		os.Exit(1)
	}
}
