// Package download fetches per-account balances and transactions from the
// aggregator, fanning out across all configured accounts concurrently.
package download

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/ledgersync/ledgersync/internal/adapters/aggregator"
)

// ErrNoBalanceAvailable means the aggregator reported none of the balance
// types we know how to interpret. Fatal for that account's download.
var ErrNoBalanceAvailable = errors.New("download: no usable balance type")

// balancePriority orders balance types most-authoritative first. The first
// type present in the response wins.
var balancePriority = []string{
	"expectedClosed",
	"interimBooked",
	"closingBooked",
	"openingBooked",
	"information",
	"interimAvailable",
	"closingAvailable",
	"openingAvailable",
}

// Fetcher is the slice of the aggregator client the downloader needs.
type Fetcher interface {
	Balances(ctx context.Context, accountID string) ([]aggregator.Balance, error)
	Transactions(ctx context.Context, accountID string) (aggregator.TransactionsGroup, error)
}

// Result is one account's downloaded state.
type Result struct {
	Balance      float64
	Transactions aggregator.TransactionsGroup
}

// Downloader fans requests out across accounts.
type Downloader struct {
	fetcher Fetcher
	logger  *slog.Logger
}

// NewDownloader creates a downloader over the given client.
func NewDownloader(fetcher Fetcher, logger *slog.Logger) *Downloader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Downloader{fetcher: fetcher, logger: logger}
}

// FetchAll downloads balance and transactions for every account id.
// All accounts run concurrently; the two requests of one account run
// sequentially inside its goroutine so the account result is complete.
// Fail-fast: the first error cancels the remaining fetches and FetchAll
// returns it.
func (d *Downloader) FetchAll(ctx context.Context, accountIDs []string) (map[string]Result, error) {
	g, ctx := errgroup.WithContext(ctx)

	var mu sync.Mutex
	results := make(map[string]Result, len(accountIDs))

	for _, id := range accountIDs {
		g.Go(func() error {
			res, err := d.fetchAccount(ctx, id)
			if err != nil {
				return fmt.Errorf("account %s: %w", id, err)
			}
			mu.Lock()
			results[id] = res
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (d *Downloader) fetchAccount(ctx context.Context, accountID string) (Result, error) {
	balances, err := d.fetcher.Balances(ctx, accountID)
	if err != nil {
		return Result{}, err
	}

	balance, err := pickBalance(balances)
	if err != nil {
		return Result{}, err
	}

	group, err := d.fetcher.Transactions(ctx, accountID)
	if err != nil {
		return Result{}, err
	}

	d.logger.Debug("downloaded account",
		slog.String("account_id", accountID),
		slog.Float64("balance", balance),
		slog.Int("booked", len(group.Booked)),
		slog.Int("pending", len(group.Pending)),
	)

	return Result{Balance: balance, Transactions: group}, nil
}

// pickBalance selects the first balance type present in priority order.
func pickBalance(balances []aggregator.Balance) (float64, error) {
	byType := make(map[string]aggregator.Balance, len(balances))
	for _, b := range balances {
		byType[b.BalanceType] = b
	}

	for _, key := range balancePriority {
		if b, ok := byType[key]; ok {
			v, err := b.BalanceAmount.Float()
			if err != nil {
				return 0, err
			}
			return v, nil
		}
	}
	return 0, ErrNoBalanceAvailable
}
