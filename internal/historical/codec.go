package historical

import (
	"bytes"
	"fmt"

	"github.com/gocarina/gocsv"
	"github.com/guregu/null/v6"
	"github.com/shopspring/decimal"
	"github.com/tradesolutions39/stock-dashboard/internal/schema"
)

// LoadReport describes how a history file was read.
type LoadReport struct {
	Normalized *schema.Result
	Merge      MergeResult
}

// Decode reads a history file. The file goes through the schema normalizer, so legacy
// files with exchange headers load the same way as files written by Encode. An empty
// file yields an empty archive.
func Decode(data []byte, opts schema.Options) (*Archive, LoadReport, error) {
	archive := NewArchive()
	if len(bytes.TrimSpace(data)) == 0 {
		return archive, LoadReport{}, nil
	}

	raw, err := schema.ParseCSV(data)
	if err != nil {
		return nil, LoadReport{}, fmt.Errorf("failed to read history file: %w", err)
	}
	if len(raw.Header) == 0 {
		return archive, LoadReport{}, nil
	}
	res, err := schema.Normalize(raw, opts)
	if err != nil {
		return nil, LoadReport{}, fmt.Errorf("failed to normalize history file: %w", err)
	}
	merged := archive.Merge(res.Records)
	return archive, LoadReport{Normalized: res, Merge: merged}, nil
}

// Encode writes the archive as a flat CSV file, one row per (symbol, date), ordered by
// date then symbol.
func Encode(a *Archive) ([]byte, error) {
	records := a.Records()
	rows := make([]*archiveRow, 0, len(records))
	for _, r := range records {
		rows = append(rows, &archiveRow{
			Symbol:          r.Symbol,
			TradeDate:       schema.FormatDate(r.TradeDate),
			ClosePrice:      decimalString(r.ClosePrice),
			DeliveryPercent: decimalString(r.DeliveryPercent),
			Series:          r.Series.ValueOrZero(),
			Sector:          r.Sector.ValueOrZero(),
		})
	}

	var buf bytes.Buffer
	if len(rows) == 0 {
		buf.WriteString("symbol,trade_date,close_price,delivery_percent,series,sector\n")
		return buf.Bytes(), nil
	}
	if err := gocsv.Marshal(rows, &buf); err != nil {
		return nil, fmt.Errorf("failed to encode archive: %w", err)
	}
	return buf.Bytes(), nil
}

func decimalString(d decimal.NullDecimal) string {
	if !d.Valid {
		return ""
	}
	return d.Decimal.String()
}

func optionalFloat(d decimal.NullDecimal) *float64 {
	if !d.Valid {
		return nil
	}
	f := d.Decimal.InexactFloat64()
	return &f
}

func optionalString(s null.String) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}
