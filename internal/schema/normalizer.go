package schema

import (
	"strings"

	"github.com/guregu/null/v6"
)

// Options tune a normalization run.
type Options struct {
	// Candidates is the header resolution table. Nil means DefaultCandidates.
	Candidates Candidates
	// Series keeps only rows whose series is listed (e.g. EQ). Empty keeps every row, and so
	// does a dataset without a series column.
	Series []string
}

// Result is the canonical dataset plus diagnostics.
type Result struct {
	Records  Snapshot
	Mapping  Mapping
	Warnings []CoercionWarning
	// DroppedRows counts rows discarded for an empty symbol.
	DroppedRows int
	// FilteredRows counts rows discarded by the series filter.
	FilteredRows int
	// SourceRows is the number of data rows in the raw table.
	SourceRows int
}

// Normalize resolves the raw columns once and converts every row into a canonical Record.
// Cell-level problems become nulls and warnings; only an unresolvable required column
// returns an error (*SchemaResolutionError).
//
// Duplicate keys (symbol, trade date) are last-write-wins; the surviving record keeps the
// position of the first occurrence. In a single-day dataset a row whose date does not parse
// is folded into that day, so each symbol appears once.
func Normalize(raw RawTable, opts Options) (*Result, error) {
	candidates := opts.Candidates
	if candidates == nil {
		candidates = DefaultCandidates()
	}
	mapping, err := Resolve(raw.Header, candidates)
	if err != nil {
		return nil, err
	}

	// The series filter only applies when the dataset has a series column.
	allowed := make(map[string]bool, len(opts.Series))
	if _, ok := mapping.Columns[FieldSeries]; ok {
		for _, s := range opts.Series {
			allowed[strings.ToUpper(strings.TrimSpace(s))] = true
		}
	}

	res := &Result{
		Mapping:    mapping,
		SourceRows: len(raw.Rows),
		Records:    make(Snapshot, 0, len(raw.Rows)),
	}
	positions := make(map[Key]int, len(raw.Rows))
	// written holds the source row of each record's current value.
	written := make([]int, 0, len(raw.Rows))

	for i, row := range raw.Rows {
		rowNum := i + 1
		cell := func(f Field) (string, bool) {
			idx, ok := mapping.Columns[f]
			if !ok {
				return "", false
			}
			if idx >= len(row) {
				return "", true
			}
			return row[idx], true
		}

		sym, _ := cell(FieldSymbol)
		rec := Record{Symbol: NormalizeSymbol(sym)}
		if rec.Symbol == "" {
			res.DroppedRows++
			continue
		}

		if v, ok := cell(FieldSeries); ok {
			rec.Series = parseText(strings.ToUpper(v))
		}
		if len(allowed) > 0 && !allowed[rec.Series.ValueOrZero()] {
			res.FilteredRows++
			continue
		}
		if v, ok := cell(FieldSector); ok {
			rec.Sector = parseText(v)
		}

		if v, ok := cell(FieldDeliveryPercent); ok {
			rec.DeliveryPercent = ParseDeliveryPercent(v)
			if !rec.DeliveryPercent.Valid && !blank(v) {
				res.Warnings = append(res.Warnings, CoercionWarning{Row: rowNum, Field: FieldDeliveryPercent, Value: v})
			}
		}
		if v, ok := cell(FieldClosePrice); ok {
			rec.ClosePrice = ParsePrice(v)
			if !rec.ClosePrice.Valid && !blank(v) {
				res.Warnings = append(res.Warnings, CoercionWarning{Row: rowNum, Field: FieldClosePrice, Value: v})
			}
		}
		if v, ok := cell(FieldTradeDate); ok {
			rec.TradeDate = ParseDate(v)
			if !rec.TradeDate.Valid && !blank(v) {
				res.Warnings = append(res.Warnings, CoercionWarning{Row: rowNum, Field: FieldTradeDate, Value: v})
			}
		}

		key := rec.Key()
		if pos, dup := positions[key]; dup {
			res.Records[pos] = rec
			written[pos] = rowNum
			continue
		}
		positions[key] = len(res.Records)
		res.Records = append(res.Records, rec)
		written = append(written, rowNum)
	}
	res.Records = foldSingleDay(res.Records, written)
	return res, nil
}

// foldSingleDay handles a dataset whose dated rows all share one trade date: rows whose
// date did not parse belong to that day, so they take the date and fold into the same
// symbol's record, last written row winning. Undated and multi-day datasets are returned as is.
func foldSingleDay(records Snapshot, written []int) Snapshot {
	var day null.Time
	undated := false
	for _, r := range records {
		if !r.TradeDate.Valid {
			undated = true
			continue
		}
		if day.Valid && !r.TradeDate.Time.Equal(day.Time) {
			return records
		}
		day = r.TradeDate
	}
	if !day.Valid || !undated {
		return records
	}

	out := make(Snapshot, 0, len(records))
	latest := make([]int, 0, len(records))
	positions := make(map[string]int, len(records))
	for i, r := range records {
		if !r.TradeDate.Valid {
			r.TradeDate = day
		}
		if pos, dup := positions[r.Symbol]; dup {
			if written[i] > latest[pos] {
				out[pos] = r
				latest[pos] = written[i]
			}
			continue
		}
		positions[r.Symbol] = len(out)
		out = append(out, r)
		latest = append(latest, written[i])
	}
	return out
}
