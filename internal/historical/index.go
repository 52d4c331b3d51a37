package historical

import (
	"sort"

	"github.com/tradesolutions39/stock-dashboard/internal/schema"
)

// seriesIndex groups the archive by symbol, each group sorted by trade date.
// It is immutable once built.
type seriesIndex struct {
	symbols  []string
	bySymbol map[string][]schema.Record
}

// buildIndex sorts the whole archive once by (symbol, date) and slices it into groups.
func buildIndex(records map[schema.Key]schema.Record) *seriesIndex {
	all := make([]schema.Record, 0, len(records))
	for _, r := range records {
		all = append(all, r)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].Symbol != all[j].Symbol {
			return all[i].Symbol < all[j].Symbol
		}
		return all[i].TradeDate.Time.Before(all[j].TradeDate.Time)
	})

	idx := &seriesIndex{bySymbol: make(map[string][]schema.Record)}
	for start := 0; start < len(all); {
		end := start + 1
		for end < len(all) && all[end].Symbol == all[start].Symbol {
			end++
		}
		sym := all[start].Symbol
		idx.symbols = append(idx.symbols, sym)
		idx.bySymbol[sym] = all[start:end:end]
		start = end
	}
	return idx
}
