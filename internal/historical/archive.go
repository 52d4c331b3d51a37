package historical

import (
	"sort"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/tradesolutions39/stock-dashboard/internal/schema"
)

// Archive is the rolling history: one record per (symbol, trade date).
// Merge is the only mutation; queries share a per-symbol ordered view that is built
// once and reused until the next merge.
type Archive struct {
	mu      sync.RWMutex
	records map[schema.Key]schema.Record
	index   *seriesIndex
}

// NewArchive creates an empty archive.
func NewArchive() *Archive {
	return &Archive{records: make(map[schema.Key]schema.Record)}
}

// Merge upserts records keyed by (symbol, trade date). Records without a symbol or a
// trade date are returned in the result instead of being dropped.
func (a *Archive) Merge(records []schema.Record) MergeResult {
	var res MergeResult

	a.mu.Lock()
	defer a.mu.Unlock()

	for _, rec := range records {
		if rec.Symbol == "" {
			res.Unplaceable = append(res.Unplaceable, &UnplaceableRecordError{Record: rec, Reason: "missing symbol"})
			continue
		}
		if !rec.TradeDate.Valid {
			res.Unplaceable = append(res.Unplaceable, &UnplaceableRecordError{Record: rec, Reason: "missing trade date"})
			continue
		}
		key := rec.Key()
		old, exists := a.records[key]
		switch {
		case !exists:
			res.Inserted++
		case old.Equal(rec):
			res.Unchanged++
			continue
		default:
			res.Updated++
		}
		a.records[key] = rec
	}

	if res.Inserted > 0 || res.Updated > 0 {
		a.index = nil
	}
	return res
}

// Len returns the number of records.
func (a *Archive) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.records)
}

// Symbols returns every symbol in ascending order.
func (a *Archive) Symbols() []string {
	return append([]string(nil), a.view().symbols...)
}

// Records returns all records ordered by trade date, then symbol.
func (a *Archive) Records() []schema.Record {
	a.mu.RLock()
	out := make([]schema.Record, 0, len(a.records))
	for _, r := range a.records {
		out = append(out, r)
	}
	a.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		ti, tj := out[i].TradeDate.Time, out[j].TradeDate.Time
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		return out[i].Symbol < out[j].Symbol
	})
	return out
}

// Dates returns the distinct trade dates present, ascending.
func (a *Archive) Dates() []string {
	a.mu.RLock()
	seen := make(map[string]bool)
	for k := range a.records {
		seen[k.Date] = true
	}
	a.mu.RUnlock()

	dates := make([]string, 0, len(seen))
	for d := range seen {
		dates = append(dates, d)
	}
	sort.Strings(dates)
	return dates
}

// Latest returns the most recent record for symbol.
func (a *Archive) Latest(symbol string) (schema.Record, bool) {
	series := a.view().bySymbol[schema.NormalizeSymbol(symbol)]
	if len(series) == 0 {
		return schema.Record{}, false
	}
	return series[len(series)-1], true
}

// History returns the records for symbol, oldest first.
func (a *Archive) History(symbol string) []schema.Record {
	return append([]schema.Record(nil), a.view().bySymbol[schema.NormalizeSymbol(symbol)]...)
}

// TrailingAverage averages the most recent window trade dates present for symbol.
// Trading days, not calendar days: gaps in the archive are skipped.
func (a *Archive) TrailingAverage(symbol string, window int) (Average, bool) {
	if window <= 0 {
		return Average{}, false
	}
	series := a.view().bySymbol[schema.NormalizeSymbol(symbol)]
	if len(series) == 0 {
		return Average{}, false
	}
	return trailing(series, window), true
}

// TopByWindow returns every symbol whose trailing average delivery percent lies in
// [lower, upper], highest first, ties by symbol. Symbols without delivery data in the
// window are left out.
func (a *Archive) TopByWindow(window int, lower, upper decimal.Decimal) []Ranked {
	if window <= 0 {
		return nil
	}
	idx := a.view()

	var out []Ranked
	for _, sym := range idx.symbols {
		avg := trailing(idx.bySymbol[sym], window)
		if !avg.DeliveryPercent.Valid {
			continue
		}
		v := avg.DeliveryPercent.Decimal
		if v.LessThan(lower) || v.GreaterThan(upper) {
			continue
		}
		out = append(out, Ranked{Symbol: sym, AvgDeliveryPercent: v, Days: avg.Days})
	}

	sort.Slice(out, func(i, j int) bool {
		if c := out[i].AvgDeliveryPercent.Cmp(out[j].AvgDeliveryPercent); c != 0 {
			return c > 0
		}
		return out[i].Symbol < out[j].Symbol
	})
	return out
}

func (a *Archive) view() *seriesIndex {
	a.mu.RLock()
	idx := a.index
	a.mu.RUnlock()
	if idx != nil {
		return idx
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.index == nil {
		a.index = buildIndex(a.records)
	}
	return a.index
}

func trailing(series []schema.Record, window int) Average {
	start := len(series) - window
	if start < 0 {
		start = 0
	}
	tail := series[start:]

	avg := Average{
		Symbol: tail[0].Symbol,
		Days:   len(tail),
		From:   tail[0].TradeDate.Time,
		To:     tail[len(tail)-1].TradeDate.Time,
	}
	delivery := make([]decimal.NullDecimal, len(tail))
	closes := make([]decimal.NullDecimal, len(tail))
	for i, r := range tail {
		delivery[i] = r.DeliveryPercent
		closes[i] = r.ClosePrice
	}
	avg.DeliveryPercent = mean(delivery)
	avg.ClosePrice = mean(closes)
	return avg
}

// mean of the valid values; null when there are none.
func mean(values []decimal.NullDecimal) decimal.NullDecimal {
	sum := decimal.Zero
	n := 0
	for _, v := range values {
		if !v.Valid {
			continue
		}
		sum = sum.Add(v.Decimal)
		n++
	}
	if n == 0 {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(sum.Div(decimal.NewFromInt(int64(n))))
}
