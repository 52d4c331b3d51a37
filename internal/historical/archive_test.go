package historical

import (
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/guregu/null/v6"
	"github.com/shopspring/decimal"
	"github.com/tradesolutions39/stock-dashboard/internal/schema"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/reader"
)

func rec(symbol, date, delivery string) schema.Record {
	r := schema.Record{Symbol: symbol, TradeDate: schema.ParseDate(date)}
	if delivery != "" {
		r.DeliveryPercent = decimal.NewNullDecimal(decimal.RequireFromString(delivery))
	}
	return r
}

func TestArchive_MergeIsIdempotent(t *testing.T) {
	batch := []schema.Record{
		rec("TCS", "2025-10-16", "40"),
		rec("TCS", "2025-10-17", "41"),
		rec("INFY", "2025-10-17", "55"),
	}
	a := NewArchive()
	first := a.Merge(batch)
	if first.Inserted != 3 {
		t.Fatalf("expected 3 inserts, got %+v", first)
	}
	second := a.Merge(batch)
	if second.Inserted != 0 || second.Updated != 0 || second.Unchanged != 3 {
		t.Errorf("second merge should change nothing, got %+v", second)
	}
	if a.Len() != 3 {
		t.Errorf("expected 3 records, got %d", a.Len())
	}
}

func TestArchive_MergeUpsertsByDay(t *testing.T) {
	a := NewArchive()
	a.Merge([]schema.Record{rec("TCS", "2025-10-17", "40")})
	res := a.Merge([]schema.Record{rec("TCS", "2025-10-17", "47")})
	if res.Updated != 1 {
		t.Fatalf("expected one update, got %+v", res)
	}
	latest, ok := a.Latest("tcs")
	if !ok || !latest.DeliveryPercent.Decimal.Equal(decimal.NewFromInt(47)) {
		t.Errorf("expected latest TCS=47, got %+v", latest)
	}
	if a.Len() != 1 {
		t.Errorf("expected one record per (symbol, date), got %d", a.Len())
	}
}

func TestArchive_MergeLeavesOtherRowsUntouched(t *testing.T) {
	seed := []schema.Record{
		rec("TCS", "2025-10-16", "40"),
		rec("TCS", "2025-10-17", "41"),
		rec("INFY", "2025-10-16", "55"),
		rec("INFY", "2025-10-17", "56"),
	}
	seed[2].ClosePrice = decimal.NewNullDecimal(decimal.RequireFromString("1500.25"))
	seed[3].Series = null.StringFrom("EQ")

	a := NewArchive()
	a.Merge(seed)
	before := make(map[schema.Key]schema.Record, len(seed))
	for _, r := range a.Records() {
		before[r.Key()] = r
	}

	res := a.Merge([]schema.Record{rec("TCS", "2025-10-17", "70")})
	if res.Updated != 1 || res.Inserted != 0 {
		t.Fatalf("expected one update, got %+v", res)
	}
	if a.Len() != 4 {
		t.Fatalf("expected 4 records, got %d", a.Len())
	}
	changed := schema.Key{Symbol: "TCS", Date: "2025-10-17"}
	for _, r := range a.Records() {
		if r.Key() == changed {
			if !r.DeliveryPercent.Decimal.Equal(decimal.NewFromInt(70)) {
				t.Errorf("upserted record = %+v", r)
			}
			continue
		}
		old := before[r.Key()]
		if !r.Equal(old) || fmt.Sprintf("%+v", r) != fmt.Sprintf("%+v", old) {
			t.Errorf("record %v changed: %+v -> %+v", r.Key(), old, r)
		}
	}
}

func TestArchive_MergeReportsUnplaceable(t *testing.T) {
	a := NewArchive()
	res := a.Merge([]schema.Record{
		{Symbol: "TCS"},
		{TradeDate: schema.ParseDate("2025-10-17")},
		rec("INFY", "2025-10-17", "50"),
	})
	if len(res.Unplaceable) != 2 || res.Placed() != 1 {
		t.Fatalf("expected 2 unplaceable and 1 placed, got %+v", res)
	}
	if !strings.Contains(res.Unplaceable[0].Error(), "missing trade date") {
		t.Errorf("unexpected reason: %v", res.Unplaceable[0])
	}
}

func TestArchive_TrailingAverage(t *testing.T) {
	a := NewArchive()
	a.Merge([]schema.Record{
		rec("X", "2025-10-13", "80"),
		rec("X", "2025-10-14", "82"),
		rec("X", "2025-10-15", ""),
		rec("X", "2025-10-16", "78"),
		rec("X", "2025-10-17", "84"),
	})
	avg, ok := a.TrailingAverage("X", 5)
	if !ok {
		t.Fatal("expected an average for X")
	}
	if !avg.DeliveryPercent.Valid || !avg.DeliveryPercent.Decimal.Equal(decimal.NewFromInt(81)) {
		t.Errorf("expected 81, got %v", avg.DeliveryPercent)
	}
	if avg.Days != 5 {
		t.Errorf("expected 5 days, got %d", avg.Days)
	}
	if avg.ClosePrice.Valid {
		t.Error("close price has no values and must be null")
	}

	short, _ := a.TrailingAverage("X", 2)
	if !short.DeliveryPercent.Decimal.Equal(decimal.NewFromInt(81)) || short.Days != 2 {
		t.Errorf("expected last two days to average 81, got %v over %d", short.DeliveryPercent, short.Days)
	}
	if got := short.From.Format(schema.DateLayout); got != "2025-10-16" {
		t.Errorf("expected window to start 2025-10-16, got %s", got)
	}

	if _, ok := a.TrailingAverage("MISSING", 5); ok {
		t.Error("unknown symbol must not produce an average")
	}
	if _, ok := a.TrailingAverage("X", 0); ok {
		t.Error("zero window must not produce an average")
	}
}

func TestArchive_TopByWindow(t *testing.T) {
	a := NewArchive()
	var batch []schema.Record
	for _, s := range []struct{ sym, v string }{
		{"AAA", "99"}, {"BBB", "98"}, {"CCC", "80"}, {"DDD", "79.9"}, {"EEE", "85"}, {"FFF", "85"},
	} {
		batch = append(batch, rec(s.sym, "2025-10-17", s.v))
	}
	batch = append(batch, rec("GGG", "2025-10-17", ""))
	a.Merge(batch)

	got := a.TopByWindow(20, decimal.NewFromInt(80), decimal.NewFromInt(98))
	var syms []string
	for _, r := range got {
		syms = append(syms, r.Symbol)
	}
	want := "BBB,EEE,FFF,CCC"
	if strings.Join(syms, ",") != want {
		t.Errorf("expected %s, got %v", want, syms)
	}
	if got[0].Days != 1 {
		t.Errorf("expected 1 day of history, got %d", got[0].Days)
	}
}

func TestArchive_IndexRebuiltAfterMerge(t *testing.T) {
	a := NewArchive()
	a.Merge([]schema.Record{rec("TCS", "2025-10-16", "40")})
	if got := a.Symbols(); len(got) != 1 {
		t.Fatalf("expected 1 symbol, got %v", got)
	}
	a.Merge([]schema.Record{rec("INFY", "2025-10-16", "50"), rec("TCS", "2025-10-17", "42")})
	if got := strings.Join(a.Symbols(), ","); got != "INFY,TCS" {
		t.Errorf("expected INFY,TCS, got %s", got)
	}
	if h := a.History("TCS"); len(h) != 2 || schema.FormatDate(h[1].TradeDate) != "2025-10-17" {
		t.Errorf("expected two TCS days oldest first, got %+v", h)
	}
	if got := strings.Join(a.Dates(), ","); got != "2025-10-16,2025-10-17" {
		t.Errorf("unexpected dates %s", got)
	}
}

func TestCodec_RoundTrip(t *testing.T) {
	a := NewArchive()
	r := rec("RELIANCE", "2025-10-17", "65.2")
	r.ClosePrice = decimal.NewNullDecimal(decimal.RequireFromString("2500.5"))
	r.Series = null.StringFrom("EQ")
	a.Merge([]schema.Record{r, rec("TCS", "2025-10-16", "")})

	data, err := Encode(a)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if !strings.HasPrefix(string(data), "symbol,trade_date,close_price,delivery_percent,series,sector") {
		t.Errorf("unexpected header: %s", data)
	}

	back, report, err := Decode(data, schema.Options{})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if back.Len() != 2 || report.Merge.Inserted != 2 {
		t.Fatalf("expected 2 records back, got %d (%+v)", back.Len(), report.Merge)
	}
	got, _ := back.Latest("RELIANCE")
	if !got.Equal(r) {
		t.Errorf("record changed on round trip: %+v -> %+v", r, got)
	}
	tcs, _ := back.Latest("TCS")
	if tcs.DeliveryPercent.Valid {
		t.Error("null delivery percent must stay null")
	}
}

func TestCodec_KeepsRowsWithoutSeries(t *testing.T) {
	a := NewArchive()
	a.Merge([]schema.Record{rec("AAA", "2025-10-16", "70"), rec("BBB", "2025-10-16", "50")})
	data, err := Encode(a)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	back, report, err := Decode(data, schema.Options{})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if back.Len() != 2 || report.Normalized.FilteredRows != 0 {
		t.Errorf("expected 2 records and nothing filtered, got %d (filtered %d)", back.Len(), report.Normalized.FilteredRows)
	}
}

func TestCodec_DecodeEmptyAndLegacy(t *testing.T) {
	a, _, err := Decode(nil, schema.Options{})
	if err != nil || a.Len() != 0 {
		t.Fatalf("expected empty archive, got %v, %v", a, err)
	}

	legacy := "SYMBOL,SERIES,DATE1,CLOSE_PRICE,DELIV_PER\nTCS,EQ, 17-Oct-2025,3400,51.5\n"
	a, _, err = Decode([]byte(legacy), schema.Options{})
	if err != nil {
		t.Fatalf("Decode legacy: %v", err)
	}
	got, ok := a.Latest("TCS")
	if !ok || schema.FormatDate(got.TradeDate) != "2025-10-17" {
		t.Errorf("expected legacy row on 2025-10-17, got %+v", got)
	}
}

func TestWriteParquet_MonthlyFiles(t *testing.T) {
	a := NewArchive()
	a.Merge([]schema.Record{
		rec("TCS", "2025-09-30", "40"),
		rec("TCS", "2025-10-01", "41"),
		rec("INFY", "2025-10-01", ""),
	})
	dir := t.TempDir()
	paths, err := WriteParquet(dir, a)
	if err != nil {
		t.Fatalf("WriteParquet: %v", err)
	}
	if len(paths) != 2 || filepath.Base(paths[1]) != "archive_2025-10.parquet" {
		t.Fatalf("unexpected paths %v", paths)
	}

	fr, err := local.NewLocalFileReader(paths[1])
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer fr.Close()
	pr, err := reader.NewParquetReader(fr, new(ArchivePoint), 1)
	if err != nil {
		t.Fatalf("reader: %v", err)
	}
	defer pr.ReadStop()
	if n := pr.GetNumRows(); n != 2 {
		t.Errorf("expected 2 rows for October, got %d", n)
	}
}

func BenchmarkTopByWindow(b *testing.B) {
	a := NewArchive()
	start := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	var batch []schema.Record
	for s := 0; s < 500; s++ {
		for d := 0; d < 60; d++ {
			batch = append(batch, schema.Record{
				Symbol:          fmt.Sprintf("SYM%03d", s),
				TradeDate:       null.TimeFrom(start.AddDate(0, 0, d)),
				DeliveryPercent: decimal.NewNullDecimal(decimal.NewFromInt(int64((s + d) % 100))),
			})
		}
	}
	a.Merge(batch)
	lower, upper := decimal.NewFromInt(60), decimal.NewFromInt(100)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		a.TopByWindow(20, lower, upper)
	}
}
