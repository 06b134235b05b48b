package aggregator

import (
	"fmt"
	"strconv"
	"time"
)

// Amount is the aggregator's money representation: a decimal string plus
// an ISO currency code.
type Amount struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

// Float parses the decimal string.
func (a Amount) Float() (float64, error) {
	v, err := strconv.ParseFloat(a.Amount, 64)
	if err != nil {
		return 0, fmt.Errorf("bad amount %q: %w", a.Amount, err)
	}
	return v, nil
}

// Date keys selecting which transaction date is authoritative for matching.
const (
	DateKeyBooking = "bookingDate"
	DateKeyValue   = "valueDate"
)

// TransactionRecord is one remote transaction as reported by the aggregator.
type TransactionRecord struct {
	InternalTransactionID string `json:"internalTransactionId"`
	BookingDate           string `json:"bookingDate"`
	ValueDate             string `json:"valueDate"`
	RemittanceInformation string `json:"remittanceInformationUnstructured"`
	TransactionAmount     Amount `json:"transactionAmount"`
}

// Date returns the transaction date selected by the given date key.
func (t TransactionRecord) Date(dateKey string) (time.Time, error) {
	var raw string
	switch dateKey {
	case DateKeyValue:
		raw = t.ValueDate
	case DateKeyBooking, "":
		raw = t.BookingDate
	default:
		return time.Time{}, fmt.Errorf("unknown date key %q", dateKey)
	}
	d, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad %s %q: %w", dateKey, raw, err)
	}
	return d, nil
}

// TransactionsGroup splits the account's transactions into booked and
// pending. Only booked transactions take part in reconciliation.
type TransactionsGroup struct {
	Booked  []TransactionRecord `json:"booked"`
	Pending []TransactionRecord `json:"pending"`
}

// Balance is one named balance figure for an account.
type Balance struct {
	BalanceType   string `json:"balanceType"`
	BalanceAmount Amount `json:"balanceAmount"`
}

// Institution is one bank known to the aggregator.
type Institution struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Requisition is an end-user authorization linking institution accounts
// to our aggregator credentials.
type Requisition struct {
	ID       string   `json:"id"`
	Link     string   `json:"link"`
	Accounts []string `json:"accounts"`
}

// TokenPair is the aggregator's credential response.
type TokenPair struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}
