package reconciler

import (
	"fmt"
	"regexp"
)

// Split memos carry the only durable link between an aggregator transaction
// and a ledger split, as embedded text: "TXID: <id>; TXNAME: <description>;".
// The grammar must stay byte-compatible with ledgers annotated by earlier
// versions of this tool.
var (
	txidPattern   = regexp.MustCompile(`TXID: (.+?)(;|$)`)
	txnamePattern = regexp.MustCompile(`TXNAME: (.+?)(;|$)`)
)

// parseTXID extracts the transaction id tag from a memo.
func parseTXID(memo string) (string, bool) {
	m := txidPattern.FindStringSubmatch(memo)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// parseTXNAME extracts the transaction name tag from a memo.
func parseTXNAME(memo string) (string, bool) {
	m := txnamePattern.FindStringSubmatch(memo)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// formatAnnotation renders the tag pair for a fresh memo.
func formatAnnotation(txid, txname string) string {
	return fmt.Sprintf("TXID: %s; TXNAME: %s;", txid, txname)
}

// appendAnnotation adds the tag pair to an existing memo, preserving any
// prior content.
func appendAnnotation(memo, txid, txname string) string {
	if memo != "" {
		memo += "; "
	}
	return memo + formatAnnotation(txid, txname)
}
