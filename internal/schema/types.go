package schema

import (
	"time"

	"github.com/guregu/null/v6"
	"github.com/shopspring/decimal"
)

// Field names a canonical column.
type Field string

const (
	FieldSymbol          Field = "Symbol"
	FieldClosePrice      Field = "ClosePrice"
	FieldDeliveryPercent Field = "DeliveryPercent"
	FieldTradeDate       Field = "TradeDate"
	FieldSeries          Field = "Series"
	FieldSector          Field = "Sector"
)

// Fields lists canonical fields in resolution order. Symbol and DeliveryPercent are required.
var Fields = []Field{
	FieldSymbol,
	FieldDeliveryPercent,
	FieldClosePrice,
	FieldTradeDate,
	FieldSeries,
	FieldSector,
}

// canonicalOrder is the column order used when rendering records back to a table.
var canonicalOrder = []Field{
	FieldSymbol,
	FieldClosePrice,
	FieldDeliveryPercent,
	FieldTradeDate,
	FieldSeries,
	FieldSector,
}

// Required reports whether a dataset without this column cannot be normalized.
func (f Field) Required() bool {
	return f == FieldSymbol || f == FieldDeliveryPercent
}

// DateLayout is the layout used for trade dates in canonical output.
const DateLayout = "2006-01-02"

// RawTable is an untyped delimited dataset: a header row plus data rows.
type RawTable struct {
	Header []string
	Rows   [][]string
}

// Record is one canonical row.
type Record struct {
	Symbol          string
	ClosePrice      decimal.NullDecimal
	DeliveryPercent decimal.NullDecimal
	TradeDate       null.Time
	Series          null.String
	Sector          null.String
}

// Key identifies a record inside a snapshot or archive.
type Key struct {
	Symbol string
	Date   string
}

// Key returns the (symbol, trade date) identity of the record. Undated records have an empty Date.
func (r Record) Key() Key {
	k := Key{Symbol: r.Symbol}
	if r.TradeDate.Valid {
		k.Date = r.TradeDate.Time.Format(DateLayout)
	}
	return k
}

// Equal compares two records by value.
func (r Record) Equal(o Record) bool {
	return r.Symbol == o.Symbol &&
		nullDecimalEqual(r.ClosePrice, o.ClosePrice) &&
		nullDecimalEqual(r.DeliveryPercent, o.DeliveryPercent) &&
		r.TradeDate.Valid == o.TradeDate.Valid &&
		(!r.TradeDate.Valid || r.TradeDate.Time.Equal(o.TradeDate.Time)) &&
		r.Series == o.Series &&
		r.Sector == o.Sector
}

func nullDecimalEqual(a, b decimal.NullDecimal) bool {
	if a.Valid != b.Valid {
		return false
	}
	return !a.Valid || a.Decimal.Equal(b.Decimal)
}

// DeliveryOrZero returns the delivery percent, treating null as zero for threshold filters.
func (r Record) DeliveryOrZero() decimal.Decimal {
	if r.DeliveryPercent.Valid {
		return r.DeliveryPercent.Decimal
	}
	return decimal.Zero
}

// Snapshot is a set of canonical records with no duplicate Key.
type Snapshot []Record

// Find returns the record for symbol. For dated snapshots the most recent one wins.
func (s Snapshot) Find(symbol string) (Record, bool) {
	symbol = NormalizeSymbol(symbol)
	var (
		found Record
		ok    bool
	)
	for _, r := range s {
		if r.Symbol != symbol {
			continue
		}
		if !ok || (r.TradeDate.Valid && (!found.TradeDate.Valid || r.TradeDate.Time.After(found.TradeDate.Time))) {
			found, ok = r, true
		}
	}
	return found, ok
}

// WithTradeDate returns a copy where records without a trade date get day.
func (s Snapshot) WithTradeDate(day time.Time) Snapshot {
	d := truncateDay(day)
	out := make(Snapshot, len(s))
	for i, r := range s {
		if !r.TradeDate.Valid {
			r.TradeDate = null.TimeFrom(d)
		}
		out[i] = r
	}
	return out
}

// Table renders the snapshot with canonical headers.
func (s Snapshot) Table() RawTable {
	header := make([]string, len(canonicalOrder))
	for i, f := range canonicalOrder {
		header[i] = string(f)
	}
	rows := make([][]string, 0, len(s))
	for _, r := range s {
		rows = append(rows, []string{
			r.Symbol,
			formatDecimal(r.ClosePrice),
			formatDecimal(r.DeliveryPercent),
			FormatDate(r.TradeDate),
			r.Series.ValueOrZero(),
			r.Sector.ValueOrZero(),
		})
	}
	return RawTable{Header: header, Rows: rows}
}

func formatDecimal(d decimal.NullDecimal) string {
	if !d.Valid {
		return ""
	}
	return d.Decimal.String()
}

// FormatDate renders a trade date in DateLayout, or "" when null.
func FormatDate(t null.Time) string {
	if !t.Valid {
		return ""
	}
	return t.Time.Format(DateLayout)
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
