// Package sync orchestrates a full reconciliation run: download everything
// first, then merge the results into each configured ledger file.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/ledgersync/ledgersync/internal/application/download"
	"github.com/ledgersync/ledgersync/internal/domain/reconciler"
	"github.com/ledgersync/ledgersync/internal/infrastructure/config"
	"github.com/ledgersync/ledgersync/internal/ledger"
)

// ErrNoAccounts means the registry has no registered accounts; there is
// nothing to reconcile.
var ErrNoAccounts = errors.New("sync: no accounts registered")

// StoreOpener opens the ledger store for one ledger file path.
type StoreOpener func(path string) (ledger.Store, error)

// Result holds the outcome of one run across all ledger files.
type Result struct {
	Reports []*reconciler.Report

	// FileErrors are fatal per-ledger-file failures. They halt that file's
	// processing but not the run.
	FileErrors []error
}

// HasWarnings reports whether any account produced a non-fatal warning.
func (r *Result) HasWarnings() bool {
	for _, rep := range r.Reports {
		if rep.HasWarnings() {
			return true
		}
	}
	return false
}

// Orchestrator runs the download-then-reconcile flow.
type Orchestrator struct {
	registry   *config.Registry
	downloader *download.Downloader
	openStore  StoreOpener
	logger     *slog.Logger
}

// NewOrchestrator creates an orchestrator. openStore defaults to the SQLite
// ledger store.
func NewOrchestrator(
	registry *config.Registry,
	downloader *download.Downloader,
	openStore StoreOpener,
	logger *slog.Logger,
) *Orchestrator {
	if openStore == nil {
		openStore = func(path string) (ledger.Store, error) {
			return ledger.OpenSQLite(path)
		}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		registry:   registry,
		downloader: downloader,
		openStore:  openStore,
		logger:     logger,
	}
}

// Run downloads all configured accounts, then reconciles each ledger file
// sequentially. A download failure is fatal for the whole run; a ledger
// file failure is recorded and the remaining files still run.
func (o *Orchestrator) Run(ctx context.Context) (*Result, error) {
	accountIDs := o.registry.AllAccountIDs()
	if len(accountIDs) == 0 {
		return nil, ErrNoAccounts
	}

	downloads, err := o.downloader.FetchAll(ctx, accountIDs)
	if err != nil {
		return nil, err
	}

	result := &Result{}

	files := o.registry.LedgerFiles()
	sort.Strings(files)
	for _, file := range files {
		if err := o.reconcileFile(file, o.registry.Accounts[file], downloads, result); err != nil {
			o.logger.Error("ledger file failed",
				slog.String("file", file),
				slog.String("error", err.Error()),
			)
			result.FileErrors = append(result.FileErrors, fmt.Errorf("%s: %w", file, err))
		}
	}

	return result, nil
}

func (o *Orchestrator) reconcileFile(
	file string,
	accounts map[string]config.AccountMapping,
	downloads map[string]download.Result,
	result *Result,
) error {
	store, err := o.openStore(file)
	if err != nil {
		return fmt.Errorf("failed to open ledger: %w", err)
	}
	defer store.Close()

	rec := reconciler.New(store, o.logger)

	// Accounts within one file run sequentially: the fuzzy-match candidate
	// pool is consumed as transactions match.
	accountIDs := make([]string, 0, len(accounts))
	for id := range accounts {
		accountIDs = append(accountIDs, id)
	}
	sort.Strings(accountIDs)

	// Two passes: reconcile every account first, verify balances after.
	// A recurring fan-out can book a leg into a sibling account of the
	// same file, so no balance is final until the whole file is done.
	reports := make(map[string]*reconciler.Report, len(accountIDs))
	for _, accountID := range accountIDs {
		mapping := accounts[accountID]
		data, ok := downloads[accountID]
		if !ok {
			return fmt.Errorf("no download result for account %s", accountID)
		}

		report, err := rec.ReconcileAccount(mapping.LedgerAccount, mapping.DateKey, data.Transactions.Booked)
		if err != nil {
			return err
		}
		reports[accountID] = report
	}

	for _, accountID := range accountIDs {
		mapping := accounts[accountID]
		report := reports[accountID]
		if err := rec.VerifyBalance(mapping.LedgerAccount, downloads[accountID].Balance, report); err != nil {
			return err
		}

		o.logger.Info("account reconciled",
			slog.String("file", file),
			slog.String("account", mapping.LedgerAccount),
			slog.Int("reconciled", report.Reconciled),
			slog.Int("annotated", report.Annotated),
			slog.Int("created", report.Created),
			slog.Int("skipped", report.Skipped),
		)
		result.Reports = append(result.Reports, report)
	}

	return nil
}
