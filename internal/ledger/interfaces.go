package ledger

import (
	"errors"
	"time"
)

var (
	// ErrAccountNotFound means the requested account path does not exist
	// in the ledger. Fatal for that ledger file's reconciliation.
	ErrAccountNotFound = errors.New("ledger: account not found")

	// ErrUnknownCurrency means the currency code has no entry in the
	// ledger's commodity table.
	ErrUnknownCurrency = errors.New("ledger: unknown currency")
)

// Store defines the complete ledger access interface.
// This interface allows swapping implementations (SQLite file, in-memory)
// and keeps the reconciler independent of the storage engine.
type Store interface {
	// LookupAccount resolves a full account path, e.g. "Assets.Current Account".
	LookupAccount(path string) (*Account, error)

	// LookupCurrency resolves an ISO currency code against the commodity table.
	LookupCurrency(code string) (*Currency, error)

	// ListSplits returns all splits booked against the account, with
	// entry date and description filled in.
	ListSplits(account *Account) ([]*Split, error)

	// ListEntrySplits returns all splits of one entry, in creation order.
	ListEntrySplits(entryGUID string) ([]*Split, error)

	// GetBalance returns the sum of split values booked against the account.
	GetBalance(account *Account) (float64, error)

	// BeginEntry opens a scoped edit for a new entry in the given currency.
	// Nothing is visible in the ledger until the builder's Commit succeeds.
	BeginEntry(currency *Currency) EntryBuilder

	// SetSplitMemo replaces the memo text of an existing split.
	SetSplitMemo(splitGUID, memo string) error

	// SetEntryDate overwrites the post date of an existing entry.
	SetEntryDate(entryGUID string, date time.Time) error

	// SetReconciled updates the reconciliation state of an existing split.
	SetReconciled(splitGUID string, state ReconcileState) error

	Close() error
}

// EntryBuilder accumulates a new entry and its splits. Commit writes
// everything atomically; abandoning the builder without Commit leaves the
// ledger untouched.
type EntryBuilder interface {
	AddSplit(accountGUID string, value float64, memo string)
	SetDate(date time.Time)
	SetDescription(text string)

	// Commit persists the entry and all added splits in one transaction
	// and returns the splits as stored.
	Commit() ([]*Split, error)
}
