package ledger

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTempStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := OpenSQLite(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func date(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := time.Parse("2006-01-02", s)
	require.NoError(t, err)
	return d
}

func TestSQLiteStore_LookupAccountAndCurrency(t *testing.T) {
	store := openTempStore(t)

	acc, err := store.CreateAccount("Assets.Current Account")
	require.NoError(t, err)
	cur, err := store.CreateCurrency("EUR")
	require.NoError(t, err)

	found, err := store.LookupAccount("Assets.Current Account")
	require.NoError(t, err)
	assert.Equal(t, acc.GUID, found.GUID)

	_, err = store.LookupAccount("Assets.Missing")
	assert.ErrorIs(t, err, ErrAccountNotFound)

	foundCur, err := store.LookupCurrency("EUR")
	require.NoError(t, err)
	assert.Equal(t, cur.GUID, foundCur.GUID)

	_, err = store.LookupCurrency("XXX")
	assert.ErrorIs(t, err, ErrUnknownCurrency)
}

func TestSQLiteStore_EntryRoundTrip(t *testing.T) {
	store := openTempStore(t)

	acc, err := store.CreateAccount("Assets.Current Account")
	require.NoError(t, err)
	other, err := store.CreateAccount("Expenses.Rent")
	require.NoError(t, err)
	cur, err := store.CreateCurrency("EUR")
	require.NoError(t, err)

	b := store.BeginEntry(cur)
	b.SetDate(date(t, "2024-03-10"))
	b.SetDescription("Monthly payroll")
	b.AddSplit(acc.GUID, 100.00, "TXID: t1; TXNAME: Payroll;")
	b.AddSplit(other.GUID, -100.00, "")
	created, err := b.Commit()
	require.NoError(t, err)
	require.Len(t, created, 2)

	splits, err := store.ListSplits(acc)
	require.NoError(t, err)
	require.Len(t, splits, 1)
	assert.Equal(t, 100.00, splits[0].Value)
	assert.Equal(t, 100.00, splits[0].Quantity)
	assert.Equal(t, "TXID: t1; TXNAME: Payroll;", splits[0].Memo)
	assert.Equal(t, "Monthly payroll", splits[0].EntryDescription)
	assert.Equal(t, date(t, "2024-03-10"), splits[0].EntryDate)
	assert.Equal(t, Unreconciled, splits[0].Reconciled)

	entrySplits, err := store.ListEntrySplits(created[0].EntryGUID)
	require.NoError(t, err)
	assert.Len(t, entrySplits, 2)

	balance, err := store.GetBalance(acc)
	require.NoError(t, err)
	assert.InDelta(t, 100.00, balance, 1e-9)
}

func TestSQLiteStore_UncommittedEntryIsInvisible(t *testing.T) {
	store := openTempStore(t)

	acc, err := store.CreateAccount("Assets.Current Account")
	require.NoError(t, err)
	cur, err := store.CreateCurrency("EUR")
	require.NoError(t, err)

	b := store.BeginEntry(cur)
	b.SetDate(date(t, "2024-03-10"))
	b.AddSplit(acc.GUID, 55.00, "")
	// Builder abandoned: no Commit.
	_ = b

	splits, err := store.ListSplits(acc)
	require.NoError(t, err)
	assert.Empty(t, splits)
}

func TestSQLiteStore_CommitFailureLeavesNoPartialEntry(t *testing.T) {
	store := openTempStore(t)

	acc, err := store.CreateAccount("Assets.Current Account")
	require.NoError(t, err)
	cur, err := store.CreateCurrency("EUR")
	require.NoError(t, err)

	// Second split references an account that does not exist, so the
	// insert fails after the entry row and first split were written
	// inside the transaction.
	b := store.BeginEntry(cur)
	b.SetDate(date(t, "2024-03-10"))
	b.AddSplit(acc.GUID, 10.00, "")
	b.AddSplit("no-such-account-guid", -10.00, "")
	_, err = b.Commit()
	require.Error(t, err)

	splits, err := store.ListSplits(acc)
	require.NoError(t, err)
	assert.Empty(t, splits, "rolled-back entry must not leave splits behind")

	balance, err := store.GetBalance(acc)
	require.NoError(t, err)
	assert.Zero(t, balance)
}

func TestSQLiteStore_SplitMutations(t *testing.T) {
	store := openTempStore(t)

	acc, err := store.CreateAccount("Assets.Current Account")
	require.NoError(t, err)
	cur, err := store.CreateCurrency("EUR")
	require.NoError(t, err)

	b := store.BeginEntry(cur)
	b.SetDate(date(t, "2024-03-10"))
	b.AddSplit(acc.GUID, 10.00, "note")
	created, err := b.Commit()
	require.NoError(t, err)
	sp := created[0]

	require.NoError(t, store.SetSplitMemo(sp.GUID, "note; TXID: t1; TXNAME: X;"))
	require.NoError(t, store.SetEntryDate(sp.EntryGUID, date(t, "2024-03-12")))
	require.NoError(t, store.SetReconciled(sp.GUID, Reconciled))

	splits, err := store.ListSplits(acc)
	require.NoError(t, err)
	require.Len(t, splits, 1)
	assert.Equal(t, "note; TXID: t1; TXNAME: X;", splits[0].Memo)
	assert.Equal(t, date(t, "2024-03-12"), splits[0].EntryDate)
	assert.Equal(t, Reconciled, splits[0].Reconciled)

	assert.Error(t, store.SetSplitMemo("missing-guid", "x"))
}

func TestSQLiteStore_ReopenKeepsData(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ledger.db")

	store, err := OpenSQLite(path)
	require.NoError(t, err)
	acc, err := store.CreateAccount("Assets.Current Account")
	require.NoError(t, err)
	cur, err := store.CreateCurrency("EUR")
	require.NoError(t, err)

	b := store.BeginEntry(cur)
	b.SetDate(date(t, "2024-03-10"))
	b.AddSplit(acc.GUID, 1.00, "")
	_, err = b.Commit()
	require.NoError(t, err)
	require.NoError(t, store.Close())

	reopened, err := OpenSQLite(path)
	require.NoError(t, err)
	defer reopened.Close()

	found, err := reopened.LookupAccount("Assets.Current Account")
	require.NoError(t, err)
	splits, err := reopened.ListSplits(found)
	require.NoError(t, err)
	assert.Len(t, splits, 1)
}
