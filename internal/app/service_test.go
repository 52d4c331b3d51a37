package app

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/afero"
	"github.com/tradesolutions39/stock-dashboard/internal/blobstore"
	"github.com/tradesolutions39/stock-dashboard/internal/config"
	"github.com/tradesolutions39/stock-dashboard/internal/genai"
	"github.com/tradesolutions39/stock-dashboard/internal/historical"
	"github.com/tradesolutions39/stock-dashboard/internal/nse"
	"github.com/tradesolutions39/stock-dashboard/internal/recorder"
	"github.com/tradesolutions39/stock-dashboard/internal/scanner"
	"github.com/tradesolutions39/stock-dashboard/internal/schema"
)

func day(d int) time.Time {
	return time.Date(2025, time.October, d, 0, 0, 0, 0, time.UTC)
}

func bhavcopy(date time.Time, rows ...string) []byte {
	var sb strings.Builder
	sb.WriteString("SYMBOL, SERIES, DATE1, PREV_CLOSE, CLOSE_PRICE, DELIV_QTY, DELIV_PER\n")
	for _, r := range rows {
		// r is SYMBOL:CLOSE:DELIV
		parts := strings.Split(r, ":")
		fmt.Fprintf(&sb, "%s, EQ, %s, 1, %s, 10, %s\n", parts[0], date.Format("02-Jan-2006"), parts[1], parts[2])
	}
	sb.WriteString("GOLDBEES, ETF, " + date.Format("02-Jan-2006") + ", 1, 60, 10, 99\n")
	return []byte(sb.String())
}

type fakeFetcher struct {
	days   map[string][]byte
	latest time.Time
	failed map[string]error
}

func (f *fakeFetcher) FetchLatest(ctx context.Context) (*nse.Bhavcopy, error) {
	data, ok := f.days[f.latest.Format("2006-01-02")]
	if !ok {
		return nil, nse.ErrNoData
	}
	return &nse.Bhavcopy{Date: f.latest, Data: data}, nil
}

func (f *fakeFetcher) FetchRange(ctx context.Context, from, to time.Time, fn func(*nse.Bhavcopy) error) (nse.RangeReport, error) {
	report := nse.RangeReport{Failed: map[string]error{}}
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		key := d.Format("2006-01-02")
		if err, ok := f.failed[key]; ok {
			report.Failed[key] = err
			continue
		}
		data, ok := f.days[key]
		if !ok {
			report.Missing = append(report.Missing, key)
			continue
		}
		if err := fn(&nse.Bhavcopy{Date: d, Data: data}); err != nil {
			return report, err
		}
		report.Fetched = append(report.Fetched, key)
	}
	return report, nil
}

func (f *fakeFetcher) Today() time.Time { return f.latest }

type fakeGenerator struct {
	prompts []string
	err     error
}

func (g *fakeGenerator) Generate(_ context.Context, prompt string) (string, error) {
	g.prompts = append(g.prompts, prompt)
	return "commentary", g.err
}

func (g *fakeGenerator) Model() string { return "models/fake" }

func testConfig() *config.Config {
	return &config.Config{
		Store:  config.StoreConfig{SnapshotName: "latest_nse_data.csv", HistoryName: "nse_history_data.csv"},
		Schema: config.SchemaConfig{Series: []string{"EQ"}},
		Scan:   config.ScanConfig{StrongMin: 80, StrongMax: 100, AccumulationMin: 60, WeakMax: 40},
		Cache:  config.CacheConfig{TTL: 3600},
	}
}

func newTestService(t *testing.T, f *fakeFetcher, gen genai.Generator, rec recorder.Recorder) (*Service, blobstore.Store) {
	t.Helper()
	store, err := blobstore.NewLocal(afero.NewMemMapFs(), "/data")
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	svc, err := NewService(testConfig(), Deps{Store: store, Fetcher: f, Generator: gen, Recorder: rec})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc, store
}

func TestIngest_PublishesSnapshotAndHistory(t *testing.T) {
	f := &fakeFetcher{
		latest: day(17),
		days:   map[string][]byte{"2025-10-17": bhavcopy(day(17), "TCS:3400:85", "INFY:1500:65", "WIPRO:250:-")},
	}
	rec, err := recorder.NewSQLiteRecorder(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("NewSQLiteRecorder: %v", err)
	}
	defer rec.Close()
	svc, store := newTestService(t, f, nil, rec)
	ctx := context.Background()

	res, err := svc.Ingest(ctx)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if res.Merge.Inserted != 3 || res.Records != 3 || res.Normalized.FilteredRows != 1 {
		t.Errorf("unexpected ingest result %+v (filtered %d)", res.Merge, res.Normalized.FilteredRows)
	}

	// Running the same day again changes nothing.
	again, err := svc.Ingest(ctx)
	if err != nil {
		t.Fatalf("Ingest again: %v", err)
	}
	if again.Merge.Unchanged != 3 || again.Records != 3 {
		t.Errorf("expected idempotent ingest, got %+v", again.Merge)
	}

	data, err := store.Get(ctx, "nse_history_data.csv")
	if err != nil {
		t.Fatalf("history not published: %v", err)
	}
	if !strings.HasPrefix(string(data), "symbol,trade_date,") || strings.Count(string(data), "2025-10-17") != 3 {
		t.Errorf("unexpected history file:\n%s", data)
	}

	runs, err := svc.Runs(10)
	if err != nil || len(runs) != 2 || runs[0].Status != recorder.StatusOK || runs[0].TradeDate != "2025-10-17" {
		t.Errorf("unexpected runs %+v, %v", runs, err)
	}
}

func TestIngest_UnreadableBhavcopyIsNotPublished(t *testing.T) {
	f := &fakeFetcher{latest: day(17), days: map[string][]byte{"2025-10-17": []byte("A,B\n1,2\n")}}
	svc, store := newTestService(t, f, nil, nil)

	_, err := svc.Ingest(context.Background())
	var sre *schema.SchemaResolutionError
	if !errors.As(err, &sre) {
		t.Fatalf("expected schema resolution error, got %v", err)
	}
	if _, err := store.Get(context.Background(), "latest_nse_data.csv"); !errors.Is(err, blobstore.ErrNotFound) {
		t.Errorf("snapshot must not be published, got %v", err)
	}
}

func TestIngest_KeepsHistoryRowsWithoutSeries(t *testing.T) {
	ctx := context.Background()
	first := &fakeFetcher{
		latest: day(16),
		days:   map[string][]byte{"2025-10-16": []byte("SYMBOL,DELIV_PER\nAAA,70\nBBB,50\n")},
	}
	svc, store := newTestService(t, first, nil, nil)
	if res, err := svc.Ingest(ctx); err != nil || res.Records != 2 {
		t.Fatalf("Ingest without series column: %+v, %v", res, err)
	}

	// A fresh service reads the published history back from the store.
	second := &fakeFetcher{
		latest: day(17),
		days:   map[string][]byte{"2025-10-17": bhavcopy(day(17), "TCS:3400:85")},
	}
	next, err := NewService(testConfig(), Deps{Store: store, Fetcher: second})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	res, err := next.Ingest(ctx)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if res.Records != 3 {
		t.Errorf("history should keep rows without series, got %d records", res.Records)
	}
	if _, ok := mustArchive(t, next).Latest("AAA"); !ok {
		t.Error("AAA missing from history after reload")
	}
}

func TestBackfill_MergesAndReportsFailures(t *testing.T) {
	f := &fakeFetcher{
		latest: day(17),
		days: map[string][]byte{
			"2025-10-13": bhavcopy(day(13), "TCS:3300:80"),
			"2025-10-14": bhavcopy(day(14), "TCS:3350:82"),
			"2025-10-16": []byte("garbage\n1\n"),
			"2025-10-17": bhavcopy(day(17), "TCS:3400:84", "INFY:1500:61"),
		},
		failed: map[string]error{"2025-10-15": errors.New("status 500")},
	}
	svc, _ := newTestService(t, f, nil, nil)
	ctx := context.Background()

	res, err := svc.Backfill(ctx, day(13), day(17))
	if err == nil {
		t.Fatal("expected partial failure error")
	}
	if !strings.Contains(err.Error(), "2 day(s) failed") || !strings.Contains(err.Error(), "2025-10-15") || !strings.Contains(err.Error(), "2025-10-16") {
		t.Errorf("unexpected error %v", err)
	}
	if res == nil || !res.Published || res.Merge.Inserted != 4 || res.Records != 4 {
		t.Fatalf("unexpected result %+v", res)
	}

	avg, ok := mustArchive(t, svc).TrailingAverage("TCS", 20)
	if !ok || !avg.DeliveryPercent.Decimal.Equal(decimal.NewFromInt(82)) || avg.Days != 3 {
		t.Errorf("unexpected TCS average %+v", avg)
	}

	if _, err := svc.Backfill(ctx, day(17), day(13)); err == nil {
		t.Error("expected inverted range to fail")
	}
}

func mustArchive(t *testing.T, svc *Service) *historical.Archive {
	t.Helper()
	a, err := svc.Archive(context.Background())
	if err != nil {
		t.Fatalf("Archive: %v", err)
	}
	return a
}

func TestScanAndTop(t *testing.T) {
	f := &fakeFetcher{
		latest: day(17),
		days:   map[string][]byte{"2025-10-17": bhavcopy(day(17), "TCS:3400:92", "INFY:1500:65", "LOW:10:12", "NUL:10:-")},
	}
	svc, _ := newTestService(t, f, nil, nil)
	ctx := context.Background()

	if _, err := svc.Scan(ctx); !errors.Is(err, ErrNoSnapshot) {
		t.Fatalf("expected ErrNoSnapshot before any fetch, got %v", err)
	}
	if _, err := svc.Ingest(ctx); err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	res, err := svc.Scan(ctx)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(res[scanner.Strong]) != 1 || res[scanner.Strong][0].Symbol != "TCS" {
		t.Errorf("unexpected strong bucket %+v", res[scanner.Strong])
	}
	if len(res[scanner.Weak]) != 2 || res[scanner.Weak][0].Symbol != "LOW" {
		t.Errorf("unexpected weak bucket %+v", res[scanner.Weak])
	}

	top, err := svc.Top(ctx, 20, decimal.NewFromInt(60), decimal.NewFromInt(100))
	if err != nil {
		t.Fatalf("Top: %v", err)
	}
	if len(top) != 2 || top[0].Symbol != "TCS" || top[1].Symbol != "INFY" {
		t.Errorf("unexpected top %+v", top)
	}
}

func TestShow(t *testing.T) {
	f := &fakeFetcher{latest: day(17), days: map[string][]byte{"2025-10-17": bhavcopy(day(17), "TCS:3400:92")}}
	svc, _ := newTestService(t, f, nil, nil)
	ctx := context.Background()
	if _, err := svc.Ingest(ctx); err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	view, err := svc.Show(ctx, "tcs", 5)
	if err != nil {
		t.Fatalf("Show: %v", err)
	}
	if view.Snapshot == nil || view.Latest == nil || view.Average == nil || view.Average.Days != 1 {
		t.Errorf("incomplete view %+v", view)
	}
	if _, err := svc.Show(ctx, "ZZZ", 5); !errors.Is(err, ErrSymbolNotFound) {
		t.Errorf("expected ErrSymbolNotFound, got %v", err)
	}
}

func TestDecode(t *testing.T) {
	f := &fakeFetcher{latest: day(17), days: map[string][]byte{"2025-10-17": bhavcopy(day(17), "TCS:3400:92")}}
	gen := &fakeGenerator{}
	svc, _ := newTestService(t, f, gen, nil)
	ctx := context.Background()
	if _, err := svc.Fetch(ctx); err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	c, err := svc.Decode(ctx, " tcs ")
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if c.Text != "commentary" || c.Model != "models/fake" {
		t.Errorf("unexpected commentary %+v", c)
	}
	if !strings.Contains(gen.prompts[0], "TCS") || !strings.Contains(gen.prompts[0], "92%") || !strings.Contains(gen.prompts[0], "3400") {
		t.Errorf("unexpected prompt %q", gen.prompts[0])
	}

	if _, err := svc.Decode(ctx, "ZZZ"); !errors.Is(err, ErrSymbolNotFound) {
		t.Errorf("expected ErrSymbolNotFound, got %v", err)
	}
	if len(gen.prompts) != 1 {
		t.Errorf("unknown ticker must not reach the generator")
	}

	gen.err = fmt.Errorf("%w: overloaded", genai.ErrServiceUnavailable)
	if _, err := svc.Decode(ctx, "TCS"); !errors.Is(err, genai.ErrServiceUnavailable) {
		t.Errorf("expected ErrServiceUnavailable, got %v", err)
	}
}

func TestDecode_NoGenerator(t *testing.T) {
	f := &fakeFetcher{latest: day(17), days: map[string][]byte{"2025-10-17": bhavcopy(day(17), "TCS:3400:92")}}
	svc, _ := newTestService(t, f, nil, nil)
	if _, err := svc.Fetch(context.Background()); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if _, err := svc.Decode(context.Background(), "TCS"); !errors.Is(err, genai.ErrServiceUnavailable) {
		t.Errorf("expected ErrServiceUnavailable, got %v", err)
	}
}

func TestExportParquet(t *testing.T) {
	f := &fakeFetcher{latest: day(17), days: map[string][]byte{"2025-10-17": bhavcopy(day(17), "TCS:3400:92")}}
	svc, _ := newTestService(t, f, nil, nil)
	if _, err := svc.Ingest(context.Background()); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	paths, err := svc.ExportParquet(context.Background(), t.TempDir())
	if err != nil {
		t.Fatalf("ExportParquet: %v", err)
	}
	if len(paths) != 1 || filepath.Base(paths[0]) != "archive_2025-10.parquet" {
		t.Errorf("unexpected paths %v", paths)
	}
}
