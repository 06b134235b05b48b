// Package ledger provides access to the double-entry ledger the reconciler
// mutates. The SQLite store is the on-disk format; the memory store mirrors
// its semantics for tests.
package ledger

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

const dateFormat = "2006-01-02"

// SQLiteStore provides SQLite database access to a ledger file.
// It implements the Store interface.
type SQLiteStore struct {
	db *sql.DB
}

// Compile-time check that SQLiteStore implements Store
var _ Store = (*SQLiteStore)(nil)

// OpenSQLite opens (or creates) a ledger file at the given path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	// Foreign keys are per-connection in SQLite; the DSN option applies
	// them to every connection the pool opens.
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on")
	if err != nil {
		return nil, err
	}

	s := &SQLiteStore{db: db}

	if err := s.runMigrations(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return s, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// LookupAccount resolves a full account path
func (s *SQLiteStore) LookupAccount(path string) (*Account, error) {
	var acc Account
	err := s.db.QueryRow("SELECT guid, path FROM accounts WHERE path = ?", path).
		Scan(&acc.GUID, &acc.Path)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, path)
	}
	if err != nil {
		return nil, err
	}
	return &acc, nil
}

// LookupCurrency resolves a currency code against the commodity table
func (s *SQLiteStore) LookupCurrency(code string) (*Currency, error) {
	var cur Currency
	err := s.db.QueryRow(
		"SELECT guid, mnemonic FROM commodities WHERE namespace = 'CURRENCY' AND mnemonic = ?",
		code,
	).Scan(&cur.GUID, &cur.Code)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCurrency, code)
	}
	if err != nil {
		return nil, err
	}
	return &cur, nil
}

// CreateAccount inserts a new account. Used when seeding a fresh ledger.
func (s *SQLiteStore) CreateAccount(path string) (*Account, error) {
	acc := &Account{GUID: uuid.NewString(), Path: path}
	_, err := s.db.Exec("INSERT INTO accounts (guid, path) VALUES (?, ?)", acc.GUID, acc.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to create account %q: %w", path, err)
	}
	return acc, nil
}

// CreateCurrency inserts a new commodity-table entry.
func (s *SQLiteStore) CreateCurrency(code string) (*Currency, error) {
	cur := &Currency{GUID: uuid.NewString(), Code: code}
	_, err := s.db.Exec(
		"INSERT INTO commodities (guid, namespace, mnemonic) VALUES (?, 'CURRENCY', ?)",
		cur.GUID, cur.Code,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create currency %q: %w", code, err)
	}
	return cur, nil
}

const splitColumns = `s.guid, s.entry_guid, s.account_guid, s.memo, s.value, s.quantity,
	s.reconcile_state, e.post_date, e.description`

// ListSplits returns all splits booked against the account
func (s *SQLiteStore) ListSplits(account *Account) ([]*Split, error) {
	rows, err := s.db.Query(`
	SELECT `+splitColumns+`
	FROM splits s JOIN entries e ON e.guid = s.entry_guid
	WHERE s.account_guid = ?
	ORDER BY e.post_date, s.rowid`, account.GUID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSplits(rows)
}

// ListEntrySplits returns all splits of one entry, in creation order
func (s *SQLiteStore) ListEntrySplits(entryGUID string) ([]*Split, error) {
	rows, err := s.db.Query(`
	SELECT `+splitColumns+`
	FROM splits s JOIN entries e ON e.guid = s.entry_guid
	WHERE s.entry_guid = ?
	ORDER BY s.rowid`, entryGUID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSplits(rows)
}

func scanSplits(rows *sql.Rows) ([]*Split, error) {
	var splits []*Split
	for rows.Next() {
		var sp Split
		var state, postDate string
		if err := rows.Scan(&sp.GUID, &sp.EntryGUID, &sp.AccountGUID, &sp.Memo,
			&sp.Value, &sp.Quantity, &state, &postDate, &sp.EntryDescription); err != nil {
			return nil, err
		}
		date, err := time.Parse(dateFormat, postDate)
		if err != nil {
			return nil, fmt.Errorf("bad post_date %q: %w", postDate, err)
		}
		sp.Reconciled = ReconcileState(state)
		sp.EntryDate = date
		splits = append(splits, &sp)
	}
	return splits, rows.Err()
}

// GetBalance returns the sum of split values booked against the account
func (s *SQLiteStore) GetBalance(account *Account) (float64, error) {
	var balance float64
	err := s.db.QueryRow(
		"SELECT COALESCE(SUM(value), 0) FROM splits WHERE account_guid = ?",
		account.GUID,
	).Scan(&balance)
	if err != nil {
		return 0, err
	}
	return balance, nil
}

// SetSplitMemo replaces the memo text of an existing split
func (s *SQLiteStore) SetSplitMemo(splitGUID, memo string) error {
	return s.execOne("UPDATE splits SET memo = ? WHERE guid = ?", memo, splitGUID)
}

// SetEntryDate overwrites the post date of an existing entry
func (s *SQLiteStore) SetEntryDate(entryGUID string, date time.Time) error {
	return s.execOne("UPDATE entries SET post_date = ? WHERE guid = ?",
		date.Format(dateFormat), entryGUID)
}

// SetReconciled updates the reconciliation state of an existing split
func (s *SQLiteStore) SetReconciled(splitGUID string, state ReconcileState) error {
	return s.execOne("UPDATE splits SET reconcile_state = ? WHERE guid = ?",
		string(state), splitGUID)
}

func (s *SQLiteStore) execOne(query string, args ...any) error {
	res, err := s.db.Exec(query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("no row matched update %q", query)
	}
	return nil
}

// BeginEntry opens a scoped edit for a new entry
func (s *SQLiteStore) BeginEntry(currency *Currency) EntryBuilder {
	return &sqliteEntryBuilder{
		store:    s,
		guid:     uuid.NewString(),
		currency: currency,
	}
}

type pendingSplit struct {
	accountGUID string
	value       float64
	memo        string
}

// sqliteEntryBuilder accumulates the entry in memory; Commit writes entry
// and splits inside a single database transaction so a failure anywhere
// leaves no partial entry behind.
type sqliteEntryBuilder struct {
	store       *SQLiteStore
	guid        string
	currency    *Currency
	date        time.Time
	description string
	splits      []pendingSplit
}

func (b *sqliteEntryBuilder) AddSplit(accountGUID string, value float64, memo string) {
	b.splits = append(b.splits, pendingSplit{accountGUID: accountGUID, value: value, memo: memo})
}

func (b *sqliteEntryBuilder) SetDate(date time.Time)     { b.date = date }
func (b *sqliteEntryBuilder) SetDescription(text string) { b.description = text }

func (b *sqliteEntryBuilder) Commit() ([]*Split, error) {
	tx, err := b.store.db.Begin()
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(
		"INSERT INTO entries (guid, currency_guid, post_date, description) VALUES (?, ?, ?, ?)",
		b.guid, b.currency.GUID, b.date.Format(dateFormat), b.description,
	); err != nil {
		return nil, fmt.Errorf("failed to insert entry: %w", err)
	}

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
		if _, err := tx.Exec(
			`INSERT INTO splits (guid, entry_guid, account_guid, memo, value, quantity, reconcile_state)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			sp.GUID, sp.EntryGUID, sp.AccountGUID, sp.Memo, sp.Value, sp.Quantity, string(sp.Reconciled),
		); err != nil {
			return nil, fmt.Errorf("failed to insert split: %w", err)
		}
		splits = append(splits, sp)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit entry: %w", err)
	}
	return splits, nil
}
