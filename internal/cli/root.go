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

// Package cli implements the docsign command line interface.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jeremyhahn/go-docsign/internal/config"
	"github.com/jeremyhahn/go-docsign/pkg/docsign"
	"github.com/jeremyhahn/go-docsign/pkg/logging"
	"github.com/jeremyhahn/go-docsign/pkg/metrics"
	"github.com/jeremyhahn/go-docsign/pkg/storage"
	"github.com/jeremyhahn/go-docsign/pkg/storage/file"
	"github.com/jeremyhahn/go-docsign/pkg/tpm"
)

var (
	configFile   string
	outputFormat string
	verbose      bool
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "docsign",
	Short: "docsign - hardware-backed document signing",
	Long: `docsign signs documents with ECDSA P-256 keys held in a TPM 2.0
hardware module when one is available, falling back to software keys
otherwise. Hardware keys can be archived as sealed envelopes that only
the same device can reopen.

Key creation on hardware requires elevated privileges; run the
docsign-setupd daemon as root and use "docsign setup" from a standard
account.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "",
		"config file (default is built-in defaults plus environment overrides)")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "text",
		"output format (text, json)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"verbose output")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(keyCmd)
	rootCmd.AddCommand(signCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(csrCmd)
	rootCmd.AddCommand(capabilityCmd)
	rootCmd.AddCommand(setupCmd)
}

// loadConfig loads the configuration honoring the --config flag.
func loadConfig() (*config.Config, error) {
	return config.LoadOrDefault(configFile)
}

// newService builds the signing service from configuration. The caller
// owns the returned closer.
func newService() (*docsign.Service, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}

	logger := logging.NewLogger(verbose || cfg.Debug())
	metrics.SetEnabled(cfg.Metrics.Enabled)

	store, err := newStorageBackend(cfg)
	if err != nil {
		return nil, nil, err
	}

	module := tpm.NewTPM2Module(&tpm.Config{
		Device:       cfg.TPM.DevicePath,
		UseSimulator: cfg.TPM.UseSimulator,
		SRKHandle:    cfg.TPM.SRKHandle,
	}, logger)

	service, err := docsign.NewService(module, store, logger)
	if err != nil {
		_ = module.Close()
		_ = store.Close()
		return nil, nil, err
	}

	closer := func() {
		_ = module.Close()
		_ = store.Close()
	}
	return service, closer, nil
}

func newStorageBackend(cfg *config.Config) (storage.Backend, error) {
	switch cfg.Storage.Backend {
	case "memory":
		return storage.NewMemory(), nil
	case "file":
		return file.New(cfg.Storage.Path)
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", cfg.Storage.Backend)
	}
}

// handleError prints an error and exits with code 1
func handleError(err error) {
	printer := NewPrinter(outputFormat, os.Stderr)
	_ = printer.PrintError(err)
	os.Exit(1)
}

// printVerbose prints a message if verbose mode is enabled
func printVerbose(format string, args ...interface{}) {
	if verbose {
		fmt.Fprintf(os.Stderr, "[VERBOSE] "+format+"\n", args...)
	}
}
