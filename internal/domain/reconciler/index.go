package reconciler

import (
	"sort"

	"github.com/ledgersync/ledgersync/internal/ledger"
)

// accountIndex is the per-account search structure built once before any
// transaction is processed.
//
//   - tagged: splits already annotated with a TXID, keyed by that id
//   - untagged: fuzzy-match candidates, in stable ledger order; consumed
//     as they are matched so one split never matches twice
//   - byName: tagged splits grouped by their TXNAME, each group sorted by
//     entry date ascending: the history of a recurring payment, most
//     recent last
type accountIndex struct {
	tagged   map[string]*ledger.Split
	untagged []*ledger.Split
	byName   map[string][]*ledger.Split
}

func buildIndex(splits []*ledger.Split) *accountIndex {
	idx := &accountIndex{
		tagged: make(map[string]*ledger.Split),
		byName: make(map[string][]*ledger.Split),
	}

	for _, sp := range splits {
		txid, ok := parseTXID(sp.Memo)
		if !ok {
			idx.untagged = append(idx.untagged, sp)
			continue
		}
		idx.tagged[txid] = sp

		// A tagged split without a TXNAME stays out of the recurring
		// payment history.
		if name, ok := parseTXNAME(sp.Memo); ok {
			idx.byName[name] = append(idx.byName[name], sp)
		}
	}

	for _, group := range idx.byName {
		sort.SliceStable(group, func(i, j int) bool {
			return group[i].EntryDate.Before(group[j].EntryDate)
		})
	}

	return idx
}

// latestByName returns the most recent tagged split recorded under the
// given transaction name, or nil if the name has no history.
func (idx *accountIndex) latestByName(name string) *ledger.Split {
	group := idx.byName[name]
	if len(group) == 0 {
		return nil
	}
	return group[len(group)-1]
}

// consume removes the split at position i from the fuzzy candidate pool.
func (idx *accountIndex) consume(i int) {
	idx.untagged = append(idx.untagged[:i], idx.untagged[i+1:]...)
}
