package ledger

import "time"

// ReconcileState is the per-split reconciliation flag. The single-letter
// encoding matches what desktop ledger tools persist.
type ReconcileState string

const (
	Unreconciled ReconcileState = "n"
	Cleared      ReconcileState = "c"
	Reconciled   ReconcileState = "y"
)

// Account is one ledger account, addressed by its full dotted path
// (e.g. "Assets.Current Account").
type Account struct {
	GUID string
	Path string
}

// Currency is one entry in the ledger's commodity table.
type Currency struct {
	GUID string
	Code string
}

// Split is one leg of a ledger entry. Value is the monetary amount in the
// entry's currency; Quantity is the amount in the split account's own
// commodity. Single-currency ledgers keep the two equal.
//
// EntryDate and EntryDescription are denormalized from the owning entry so
// that callers scanning an account's splits don't need a second lookup.
type Split struct {
	GUID             string
	EntryGUID        string
	AccountGUID      string
	Memo             string
	Value            float64
	Quantity         float64
	Reconciled       ReconcileState
	EntryDate        time.Time
	EntryDescription string
}
