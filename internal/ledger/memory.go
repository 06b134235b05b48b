package ledger

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory implementation of Store for testing.
// It mirrors the SQLite store's semantics, including all-or-nothing
// entry commits.
type MemoryStore struct {
	accounts   map[string]*Account  // keyed by path
	currencies map[string]*Currency // keyed by code
	entries    map[string]*memEntry
	splits     []*Split // insertion order

	// Error injection for testing error paths
	CommitErr error
}

type memEntry struct {
	guid        string
	date        time.Time
	description string
}

// NewMemoryStore creates an empty in-memory ledger
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts:   make(map[string]*Account),
		currencies: make(map[string]*Currency),
		entries:    make(map[string]*memEntry),
	}
}

// Compile-time check that MemoryStore implements Store
var _ Store = (*MemoryStore)(nil)

// CreateAccount inserts a new account
func (m *MemoryStore) CreateAccount(path string) (*Account, error) {
	if _, ok := m.accounts[path]; ok {
		return nil, fmt.Errorf("account %q already exists", path)
	}
	acc := &Account{GUID: uuid.NewString(), Path: path}
	m.accounts[path] = acc
	return acc, nil
}

// CreateCurrency inserts a new commodity-table entry
func (m *MemoryStore) CreateCurrency(code string) (*Currency, error) {
	if _, ok := m.currencies[code]; ok {
		return nil, fmt.Errorf("currency %q already exists", code)
	}
	cur := &Currency{GUID: uuid.NewString(), Code: code}
	m.currencies[code] = cur
	return cur, nil
}

func (m *MemoryStore) LookupAccount(path string) (*Account, error) {
	acc, ok := m.accounts[path]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, path)
	}
	return acc, nil
}

func (m *MemoryStore) LookupCurrency(code string) (*Currency, error) {
	cur, ok := m.currencies[code]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCurrency, code)
	}
	return cur, nil
}

func (m *MemoryStore) ListSplits(account *Account) ([]*Split, error) {
	var out []*Split
	for _, sp := range m.splits {
		if sp.AccountGUID == account.GUID {
			out = append(out, m.viewOf(sp))
		}
	}
	return out, nil
}

func (m *MemoryStore) ListEntrySplits(entryGUID string) ([]*Split, error) {
	var out []*Split
	for _, sp := range m.splits {
		if sp.EntryGUID == entryGUID {
			out = append(out, m.viewOf(sp))
		}
	}
	return out, nil
}

// viewOf copies a split with its entry fields refreshed, so callers see
// date/description updates the same way a SQLite re-query would.
func (m *MemoryStore) viewOf(sp *Split) *Split {
	view := *sp
	if e, ok := m.entries[sp.EntryGUID]; ok {
		view.EntryDate = e.date
		view.EntryDescription = e.description
	}
	return &view
}

func (m *MemoryStore) GetBalance(account *Account) (float64, error) {
	var balance float64
	for _, sp := range m.splits {
		if sp.AccountGUID == account.GUID {
			balance += sp.Value
		}
	}
	return balance, nil
}

func (m *MemoryStore) SetSplitMemo(splitGUID, memo string) error {
	sp, err := m.findSplit(splitGUID)
	if err != nil {
		return err
	}
	sp.Memo = memo
	return nil
}

func (m *MemoryStore) SetEntryDate(entryGUID string, date time.Time) error {
	e, ok := m.entries[entryGUID]
	if !ok {
		return fmt.Errorf("no entry %s", entryGUID)
	}
	e.date = date
	return nil
}

func (m *MemoryStore) SetReconciled(splitGUID string, state ReconcileState) error {
	sp, err := m.findSplit(splitGUID)
	if err != nil {
		return err
	}
	sp.Reconciled = state
	return nil
}

func (m *MemoryStore) findSplit(guid string) (*Split, error) {
	for _, sp := range m.splits {
		if sp.GUID == guid {
			return sp, nil
		}
	}
	return nil, fmt.Errorf("no split %s", guid)
}

func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) BeginEntry(currency *Currency) EntryBuilder {
	return &memoryEntryBuilder{store: m, guid: uuid.NewString()}
}

type memoryEntryBuilder struct {
	store       *MemoryStore
	guid        string
	date        time.Time
	description string
	splits      []pendingSplit
}

func (b *memoryEntryBuilder) AddSplit(accountGUID string, value float64, memo string) {
	b.splits = append(b.splits, pendingSplit{accountGUID: accountGUID, value: value, memo: memo})
}

func (b *memoryEntryBuilder) SetDate(date time.Time)     { b.date = date }
func (b *memoryEntryBuilder) SetDescription(text string) { b.description = text }

func (b *memoryEntryBuilder) Commit() ([]*Split, error) {
	if b.store.CommitErr != nil {
		return nil, b.store.CommitErr
	}

	b.store.entries[b.guid] = &memEntry{guid: b.guid, date: b.date, description: b.description}

	splits := make([]*Split, 0, len(b.splits))
	for _, p := range b.splits {
		sp := &Split{
			GUID:             uuid.NewString(),
			EntryGUID:        b.guid,
			AccountGUID:      p.accountGUID,
			Memo:             p.memo,
			Value:            p.value,
			Quantity:         p.value,
			Reconciled:       Unreconciled,
			EntryDate:        b.date,
			EntryDescription: b.description,
		}
		b.store.splits = append(b.store.splits, sp)
		splits = append(splits, sp)
	}
	return splits, nil
}
