package historical

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tradesolutions39/stock-dashboard/internal/schema"
)

// MergeResult summarizes one merge into the archive.
type MergeResult struct {
	Inserted  int
	Updated   int
	Unchanged int
	// Unplaceable holds records that could not be keyed into the archive.
	Unplaceable []*UnplaceableRecordError
}

// Placed returns the number of records that reached the archive.
func (r MergeResult) Placed() int {
	return r.Inserted + r.Updated + r.Unchanged
}

// UnplaceableRecordError reports a record missing part of its (symbol, trade date) identity.
type UnplaceableRecordError struct {
	Record schema.Record
	Reason string
}

func (e *UnplaceableRecordError) Error() string {
	return fmt.Sprintf("record %q cannot be placed in archive: %s", e.Record.Symbol, e.Reason)
}

// Average is a trailing-window aggregate for one symbol. A metric with no values in the
// window is null, never zero.
type Average struct {
	Symbol          string
	DeliveryPercent decimal.NullDecimal
	ClosePrice      decimal.NullDecimal
	// Days is the number of distinct trade dates in the window.
	Days int
	From time.Time
	To   time.Time
}

// Ranked is one row of a TopByWindow result.
type Ranked struct {
	Symbol             string
	AvgDeliveryPercent decimal.Decimal
	Days               int
}

// ArchivePoint is one archive row for parquet export.
type ArchivePoint struct {
	Symbol          string   `parquet:"name=symbol, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	Date            string   `parquet:"name=date, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	Year            int32    `parquet:"name=year, type=INT32, encoding=PLAIN_DICTIONARY"`
	Month           int32    `parquet:"name=month, type=INT32, encoding=PLAIN_DICTIONARY"`
	Day             int32    `parquet:"name=day, type=INT32, encoding=PLAIN_DICTIONARY"`
	ClosePrice      *float64 `parquet:"name=close_price, type=DOUBLE, repetitiontype=OPTIONAL"`
	DeliveryPercent *float64 `parquet:"name=delivery_percent, type=DOUBLE, repetitiontype=OPTIONAL"`
	Series          *string  `parquet:"name=series, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	Sector          *string  `parquet:"name=sector, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
}

// archiveRow is the flat-file layout of the archive.
type archiveRow struct {
	Symbol          string `csv:"symbol"`
	TradeDate       string `csv:"trade_date"`
	ClosePrice      string `csv:"close_price"`
	DeliveryPercent string `csv:"delivery_percent"`
	Series          string `csv:"series"`
	Sector          string `csv:"sector"`
}
