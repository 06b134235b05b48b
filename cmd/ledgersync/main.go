package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/ledgersync/ledgersync/internal/adapters/aggregator"
	"github.com/ledgersync/ledgersync/internal/application/download"
	"github.com/ledgersync/ledgersync/internal/application/register"
	syncapp "github.com/ledgersync/ledgersync/internal/application/sync"
	"github.com/ledgersync/ledgersync/internal/infrastructure/config"
	"github.com/ledgersync/ledgersync/internal/observability"
)

func main() {
	var (
		mode         = flag.String("mode", "transactions", "Mode: transactions, register, or token")
		configFile   = flag.String("config", "config.yaml", "Configuration file path")
		registryFile = flag.String("registry", "", "Account registry path (overrides config)")
		verbose      = flag.Bool("verbose", false, "Enable verbose logging")
	)
	flag.Parse()

	cfg := config.LoadOrEnv(*configFile)
	if *verbose {
		cfg.Observability.Logging.Level = "debug"
	}
	logger := observability.NewLogger(cfg.Observability.Logging)

	registryPath := *registryFile
	if registryPath == "" {
		registryPath = cfg.RegistryPath
	}
	if registryPath == "" {
		var err error
		registryPath, err = config.DefaultRegistryPath()
		if err != nil {
			logger.Error("Failed to locate registry", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	registry, err := config.LoadRegistry(registryPath)
	if err != nil {
		logger.Error("Failed to load registry", slog.String("error", err.Error()))
		os.Exit(1)
	}

	client := aggregator.NewClient(cfg.Aggregator.BaseURL, registry, logger)
	ctx := context.Background()

	switch *mode {
	case "transactions":
		if err := runTransactions(ctx, registry, client, logger); err != nil {
			logger.Error("Reconciliation failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
	case "register":
		flow := register.NewFlow(client, registry, os.Stdin, os.Stdout)
		if err := flow.RegisterAccounts(ctx); err != nil {
			logger.Error("Registration failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
	case "token":
		flow := register.NewFlow(client, registry, os.Stdin, os.Stdout)
		if err := flow.FetchToken(ctx); err != nil {
			logger.Error("Token fetch failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown mode %q\n", *mode)
		os.Exit(2)
	}
}

// runTransactions is the default mode: download, reconcile, report.
// Warnings leave the exit status at zero; per-file fatal errors do not.
func runTransactions(ctx context.Context, registry *config.Registry, client *aggregator.Client, logger *slog.Logger) error {
	downloader := download.NewDownloader(client, logger)
	orchestrator := syncapp.NewOrchestrator(registry, downloader, nil, logger)

	result, err := orchestrator.Run(ctx)
	if err != nil {
		return err
	}
	if len(result.FileErrors) > 0 {
		return fmt.Errorf("%d ledger file(s) failed", len(result.FileErrors))
	}
	return nil
}
