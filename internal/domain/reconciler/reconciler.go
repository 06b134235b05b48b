// Package reconciler merges downloaded bank transactions into a ledger
// account: exact TXID dedup first, then fuzzy matching against unannotated
// splits by amount and date proximity, and finally entry creation with
// proportional split fan-out for recurring payments.
package reconciler

import (
	"log/slog"
	"math"
	"time"

	"github.com/ledgersync/ledgersync/internal/adapters/aggregator"
	"github.com/ledgersync/ledgersync/internal/ledger"
)

// matchWindowDays is the inclusive distance, in calendar days, between a
// record's date and a candidate split's entry date for a fuzzy match.
const matchWindowDays = 5

// AmountMismatch is a previously imported transaction whose ledger amount
// no longer agrees with the aggregator. The record is skipped; the split
// is left untouched.
type AmountMismatch struct {
	AccountPath string
	TXID        string
	Description string
	Existing    float64
	Incoming    float64
}

// BalanceDivergence is a post-pass disagreement between the downloaded
// balance and the ledger's computed balance.
type BalanceDivergence struct {
	AccountPath string
	Expected    float64
	Actual      float64
}

// DivisionUndefined is a recurring-pattern record whose prior matched split
// has value zero, making the fan-out ratio undefined. The record is skipped
// without mutation.
type DivisionUndefined struct {
	AccountPath string
	TXID        string
	Description string
}

// Report accumulates one account's reconciliation outcome. Warnings are
// non-fatal: they are surfaced but never abort processing.
type Report struct {
	AccountPath string

	Reconciled int // exact dedup hits marked reconciled
	Annotated  int // fuzzy matches annotated in place
	Created    int // new entries materialized
	Skipped    int // records skipped with a warning

	Mismatches  []AmountMismatch
	Divergences []BalanceDivergence
	Undefined   []DivisionUndefined
}

// HasWarnings reports whether any non-fatal condition was recorded.
func (r *Report) HasWarnings() bool {
	return len(r.Mismatches) > 0 || len(r.Divergences) > 0 || len(r.Undefined) > 0
}

// Reconciler applies downloaded transactions to ledger accounts through a
// ledger.Store. It never owns ledger data and performs no retries; transport
// concerns live in the aggregator client.
type Reconciler struct {
	store  ledger.Store
	logger *slog.Logger
}

// New creates a reconciler over the given store.
func New(store ledger.Store, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{store: store, logger: logger}
}

// ReconcileAccount processes the booked records against the ledger account
// at the given path, in input order. dateKey selects which transaction date
// is authoritative. Returned errors are fatal for this ledger file;
// recoverable conditions land on the report instead.
func (r *Reconciler) ReconcileAccount(path, dateKey string, records []aggregator.TransactionRecord) (*Report, error) {
	account, err := r.store.LookupAccount(path)
	if err != nil {
		return nil, err
	}

	splits, err := r.store.ListSplits(account)
	if err != nil {
		return nil, err
	}
	idx := buildIndex(splits)

	report := &Report{AccountPath: path}
	for _, rec := range records {
		if err := r.processRecord(account, dateKey, rec, idx, report); err != nil {
			return report, err
		}
	}
	return report, nil
}

func (r *Reconciler) processRecord(
	account *ledger.Account,
	dateKey string,
	rec aggregator.TransactionRecord,
	idx *accountIndex,
	report *Report,
) error {
	amount, err := rec.TransactionAmount.Float()
	if err != nil {
		return err
	}
	date, err := rec.Date(dateKey)
	if err != nil {
		return err
	}

	// Exact dedup: the transaction was imported on a previous run.
	if existing, ok := idx.tagged[rec.InternalTransactionID]; ok {
		if !nearlyEqual(existing.Value, amount) {
			report.Mismatches = append(report.Mismatches, AmountMismatch{
				AccountPath: account.Path,
				TXID:        rec.InternalTransactionID,
				Description: rec.RemittanceInformation,
				Existing:    existing.Value,
				Incoming:    amount,
			})
			report.Skipped++
			r.logger.Warn("cannot reconcile, amounts differ",
				slog.String("account", account.Path),
				slog.String("txid", rec.InternalTransactionID),
				slog.Float64("ledger_amount", existing.Value),
				slog.Float64("bank_amount", amount),
			)
			return nil
		}
		if err := r.store.SetReconciled(existing.GUID, ledger.Reconciled); err != nil {
			return err
		}
		report.Reconciled++
		return nil
	}

	// Fuzzy match: same amount, entry date within the window. Closest
	// date wins; the first candidate in ledger order breaks ties.
	best := -1
	var bestDiff float64
	for i, sp := range idx.untagged {
		if !nearlyEqual(sp.Value, amount) {
			continue
		}
		diff := math.Abs(sp.EntryDate.Sub(date).Hours() / 24)
		if diff > matchWindowDays {
			continue
		}
		if best == -1 || diff < bestDiff {
			best, bestDiff = i, diff
		}
	}
	if best >= 0 {
		matched := idx.untagged[best]
		memo := appendAnnotation(matched.Memo, rec.InternalTransactionID, rec.RemittanceInformation)
		if err := r.store.SetSplitMemo(matched.GUID, memo); err != nil {
			return err
		}
		if err := r.store.SetEntryDate(matched.EntryGUID, date); err != nil {
			return err
		}
		matched.Memo = memo
		matched.EntryDate = date
		idx.consume(best)
		idx.tagged[rec.InternalTransactionID] = matched
		report.Annotated++
		return nil
	}

	return r.createEntry(account, rec, amount, date, idx, report)
}

// createEntry materializes a new ledger entry for an unmatched record. When
// the record's description has a recurring history, every leg of the most
// recent prior entry is rescaled by new_total/old_total and copied over.
func (r *Reconciler) createEntry(
	account *ledger.Account,
	rec aggregator.TransactionRecord,
	amount float64,
	date time.Time,
	idx *accountIndex,
	report *Report,
) error {
	currency, err := r.store.LookupCurrency(rec.TransactionAmount.Currency)
	if err != nil {
		return err
	}

	description := rec.RemittanceInformation
	var siblings []*ledger.Split
	var prev *ledger.Split

	if prev = idx.latestByName(rec.RemittanceInformation); prev != nil {
		if prev.Value == 0 {
			report.Undefined = append(report.Undefined, DivisionUndefined{
				AccountPath: account.Path,
				TXID:        rec.InternalTransactionID,
				Description: rec.RemittanceInformation,
			})
			report.Skipped++
			r.logger.Warn("prior split has zero value, cannot scale recurring splits",
				slog.String("account", account.Path),
				slog.String("txid", rec.InternalTransactionID),
			)
			return nil
		}

		siblings, err = r.store.ListEntrySplits(prev.EntryGUID)
		if err != nil {
			return err
		}
		description = prev.EntryDescription
	}

	entry := r.store.BeginEntry(currency)
	entry.SetDate(date)
	entry.SetDescription(description)
	entry.AddSplit(account.GUID, amount, formatAnnotation(rec.InternalTransactionID, rec.RemittanceInformation))

	for _, other := range siblings {
		if other.GUID == prev.GUID {
			continue
		}
		entry.AddSplit(other.AccountGUID, amount*(other.Value/prev.Value), "")
	}

	created, err := entry.Commit()
	if err != nil {
		return err
	}

	// The new primary split joins the tagged index so a duplicate id later
	// in the input dedups instead of creating a second entry.
	idx.tagged[rec.InternalTransactionID] = created[0]
	report.Created++
	return nil
}

// VerifyBalance compares the ledger's resulting balance against the balance
// the aggregator reported. Divergence is a warning, never a rollback.
func (r *Reconciler) VerifyBalance(path string, expected float64, report *Report) error {
	account, err := r.store.LookupAccount(path)
	if err != nil {
		return err
	}
	actual, err := r.store.GetBalance(account)
	if err != nil {
		return err
	}

	if !nearlyEqual(actual, expected) {
		report.Divergences = append(report.Divergences, BalanceDivergence{
			AccountPath: path,
			Expected:    expected,
			Actual:      actual,
		})
		r.logger.Warn("balance out of sync, please reconcile",
			slog.String("account", path),
			slog.Float64("expected", expected),
			slog.Float64("actual", actual),
		)
	}
	return nil
}

// nearlyEqual is floating-point near-equality with a relative tolerance of
// 1e-9 and no absolute tolerance.
func nearlyEqual(a, b float64) bool {
	return math.Abs(a-b) <= 1e-9*math.Max(math.Abs(a), math.Abs(b))
}
