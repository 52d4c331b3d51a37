package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/hashicorp/go-multierror"
	"github.com/patrickmn/go-cache"
	"github.com/shopspring/decimal"
	"github.com/tradesolutions39/stock-dashboard/internal/blobstore"
	"github.com/tradesolutions39/stock-dashboard/internal/config"
	"github.com/tradesolutions39/stock-dashboard/internal/genai"
	"github.com/tradesolutions39/stock-dashboard/internal/historical"
	"github.com/tradesolutions39/stock-dashboard/internal/nse"
	"github.com/tradesolutions39/stock-dashboard/internal/recorder"
	"github.com/tradesolutions39/stock-dashboard/internal/scanner"
	"github.com/tradesolutions39/stock-dashboard/internal/schema"
)

const (
	snapshotKey = "snapshot"
	archiveKey  = "archive"
)

// Deps are the collaborators of a Service. Generator and Recorder may be nil.
type Deps struct {
	Store     blobstore.Store
	Fetcher   Fetcher
	Generator genai.Generator
	Recorder  recorder.Recorder
}

// Service runs the dashboard operations over the configured store.
type Service struct {
	cfg        *config.Config
	store      blobstore.Store
	fetcher    Fetcher
	gen        genai.Generator
	rec        recorder.Recorder
	cache      *cache.Cache
	candidates schema.Candidates

	// publishMu serializes read-merge-publish of the history artifact.
	publishMu sync.Mutex
}

// NewService creates a new service
func NewService(cfg *config.Config, deps Deps) (*Service, error) {
	candidates := schema.DefaultCandidates()
	if cfg.Schema.CandidatesFile != "" {
		var err error
		if candidates, err = schema.LoadCandidates(cfg.Schema.CandidatesFile); err != nil {
			return nil, fmt.Errorf("failed to load header candidates: %w", err)
		}
	}
	rec := deps.Recorder
	if rec == nil {
		rec = recorder.NewNoopRecorder()
	}
	ttl := time.Duration(cfg.Cache.TTL) * time.Second

	return &Service{
		cfg:        cfg,
		store:      deps.Store,
		fetcher:    deps.Fetcher,
		gen:        deps.Generator,
		rec:        rec,
		cache:      cache.New(ttl, 2*ttl),
		candidates: candidates,
	}, nil
}

func (s *Service) options() schema.Options {
	return schema.Options{Candidates: s.candidates, Series: s.cfg.Schema.Series}
}

// historyOptions reads the published history. It skips the series filter: the history
// was filtered on the way in and may hold rows from files without a series column.
func (s *Service) historyOptions() schema.Options {
	return schema.Options{Candidates: s.candidates}
}

// Fetch downloads the latest bhavcopy and publishes it as the snapshot.
func (s *Service) Fetch(ctx context.Context) (res *FetchResult, err error) {
	run := recorder.NewRun(recorder.KindFetch)
	defer func() { s.finishRun(run, err) }()

	b, err := s.fetcher.FetchLatest(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch bhavcopy: %w", err)
	}
	normalized, err := s.publishSnapshot(ctx, b)
	if err != nil {
		return nil, err
	}
	run.TradeDate = b.Date.Format(schema.DateLayout)
	run.Rows = len(normalized.Records)
	run.Warnings = len(normalized.Warnings)
	return &FetchResult{TradeDate: b.Date, Bytes: len(b.Data), Rows: len(normalized.Records)}, nil
}

// Ingest fetches the latest bhavcopy, publishes it as the snapshot and merges it into
// the history.
func (s *Service) Ingest(ctx context.Context) (res *IngestResult, err error) {
	run := recorder.NewRun(recorder.KindIngest)
	defer func() { s.finishRun(run, err) }()

	b, err := s.fetcher.FetchLatest(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch bhavcopy: %w", err)
	}
	normalized, err := s.publishSnapshot(ctx, b)
	if err != nil {
		return nil, err
	}
	run.TradeDate = b.Date.Format(schema.DateLayout)
	run.Rows = len(normalized.Records)
	run.Warnings = len(normalized.Warnings)

	s.publishMu.Lock()
	defer s.publishMu.Unlock()

	archive, err := s.loadArchive(ctx)
	if err != nil {
		return nil, err
	}
	merged := archive.Merge(normalized.Records.WithTradeDate(b.Date))
	run.Inserted, run.Updated = merged.Inserted, merged.Updated
	if len(merged.Unplaceable) > 0 {
		slog.Warn("records left out of history", "count", len(merged.Unplaceable), "first", merged.Unplaceable[0])
	}
	if err := s.publishArchive(ctx, archive, merged); err != nil {
		return nil, err
	}

	return &IngestResult{TradeDate: b.Date, Normalized: normalized, Merge: merged, Records: archive.Len()}, nil
}

// Backfill fetches every weekday in [from, to], merges all days and publishes the
// history once. Days that fail to download or normalize are reported in the returned
// error; the days that worked are still published.
func (s *Service) Backfill(ctx context.Context, from, to time.Time) (res *BackfillResult, err error) {
	run := recorder.NewRun(recorder.KindBackfill)
	defer func() { s.finishRun(run, err) }()

	if to.Before(from) {
		return nil, fmt.Errorf("backfill range is empty: %s after %s", from.Format(schema.DateLayout), to.Format(schema.DateLayout))
	}

	s.publishMu.Lock()
	defer s.publishMu.Unlock()

	archive, err := s.loadArchive(ctx)
	if err != nil {
		return nil, err
	}

	var (
		errs  *multierror.Error
		total historical.MergeResult
	)
	report, err := s.fetcher.FetchRange(ctx, from, to, func(b *nse.Bhavcopy) error {
		day := b.Date.Format(schema.DateLayout)
		normalized, err := s.normalize(b.Data)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("%s: %w", day, err))
			return nil
		}
		merged := archive.Merge(normalized.Records.WithTradeDate(b.Date))
		total.Inserted += merged.Inserted
		total.Updated += merged.Updated
		total.Unchanged += merged.Unchanged
		total.Unplaceable = append(total.Unplaceable, merged.Unplaceable...)
		run.Rows += len(normalized.Records)
		run.Warnings += len(normalized.Warnings)
		run.TradeDate = day
		slog.Info("merged day", "date", day, "records", len(normalized.Records), "inserted", merged.Inserted)
		return nil
	})
	if err != nil {
		errs = multierror.Append(errs, err)
	}
	failed := make([]string, 0, len(report.Failed))
	for day := range report.Failed {
		failed = append(failed, day)
	}
	sort.Strings(failed)
	for _, day := range failed {
		errs = multierror.Append(errs, fmt.Errorf("%s: %w", day, report.Failed[day]))
	}
	run.Inserted, run.Updated = total.Inserted, total.Updated

	res = &BackfillResult{Report: report, Merge: total, Records: archive.Len()}
	if total.Inserted > 0 || total.Updated > 0 {
		if perr := s.publishArchive(ctx, archive, total); perr != nil {
			return res, perr
		}
		res.Published = true
	}

	if errs.ErrorOrNil() != nil {
		run.Status = recorder.StatusPartial
		errs.ErrorFormat = dayErrorFormat
		return res, errs
	}
	return res, nil
}

// Snapshot returns the published snapshot, normalized.
func (s *Service) Snapshot(ctx context.Context) (*schema.Result, error) {
	if v, ok := s.cache.Get(snapshotKey); ok {
		return v.(*schema.Result), nil
	}
	data, err := s.store.Get(ctx, s.cfg.Store.SnapshotName)
	if errors.Is(err, blobstore.ErrNotFound) {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}
	normalized, err := s.normalize(data)
	if err != nil {
		return nil, err
	}
	s.cache.SetDefault(snapshotKey, normalized)
	return normalized, nil
}

// Archive returns the published history.
func (s *Service) Archive(ctx context.Context) (*historical.Archive, error) {
	if v, ok := s.cache.Get(archiveKey); ok {
		return v.(*historical.Archive), nil
	}
	archive, err := s.loadArchive(ctx)
	if err != nil {
		return nil, err
	}
	s.cache.SetDefault(archiveKey, archive)
	return archive, nil
}

// Scan buckets the published snapshot by delivery percent.
func (s *Service) Scan(ctx context.Context) (scanner.Result, error) {
	snap, err := s.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return scanner.Scan(snap.Records, scanner.FromConfig(s.cfg.Scan)), nil
}

// Top ranks symbols by trailing average delivery percent within [lower, upper].
func (s *Service) Top(ctx context.Context, window int, lower, upper decimal.Decimal) ([]historical.Ranked, error) {
	archive, err := s.Archive(ctx)
	if err != nil {
		return nil, err
	}
	return archive.TopByWindow(window, lower, upper), nil
}

// Show collects the snapshot row, the latest history row and the trailing average for
// symbol.
func (s *Service) Show(ctx context.Context, symbol string, window int) (*SymbolView, error) {
	view := &SymbolView{Symbol: schema.NormalizeSymbol(symbol), Window: window}

	snap, err := s.Snapshot(ctx)
	switch {
	case err == nil:
		if r, ok := snap.Records.Find(symbol); ok {
			view.Snapshot = &r
		}
	case !errors.Is(err, ErrNoSnapshot):
		return nil, err
	}

	archive, err := s.Archive(ctx)
	if err != nil {
		return nil, err
	}
	if r, ok := archive.Latest(symbol); ok {
		view.Latest = &r
	}
	if avg, ok := archive.TrailingAverage(symbol, window); ok {
		view.Average = &avg
	}

	if view.Snapshot == nil && view.Latest == nil {
		return nil, fmt.Errorf("%s: %w", view.Symbol, ErrSymbolNotFound)
	}
	return view, nil
}

// Decode generates beginner commentary for a symbol in the published snapshot.
func (s *Service) Decode(ctx context.Context, symbol string) (*Commentary, error) {
	snap, err := s.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	r, ok := snap.Records.Find(symbol)
	if !ok {
		return nil, fmt.Errorf("%s: %w", schema.NormalizeSymbol(symbol), ErrSymbolNotFound)
	}
	if s.gen == nil {
		return nil, fmt.Errorf("%w: no generator configured", genai.ErrServiceUnavailable)
	}

	prompt := genai.Prompt(r.Symbol, r.DeliveryOrZero(), r.ClosePrice)
	text, err := s.gen.Generate(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("failed to generate commentary for %s: %w", r.Symbol, err)
	}
	return &Commentary{Symbol: r.Symbol, Model: s.gen.Model(), Prompt: prompt, Text: text}, nil
}

// ExportParquet writes the published history as monthly parquet files under dir.
func (s *Service) ExportParquet(ctx context.Context, dir string) ([]string, error) {
	archive, err := s.Archive(ctx)
	if err != nil {
		return nil, err
	}
	return historical.WriteParquet(dir, archive)
}

// Runs returns recent ingest runs, newest first.
func (s *Service) Runs(limit int) ([]recorder.Run, error) {
	return s.rec.Recent(limit)
}

func (s *Service) normalize(data []byte) (*schema.Result, error) {
	raw, err := schema.ParseCSV(data)
	if err != nil {
		return nil, fmt.Errorf("failed to read csv: %w", err)
	}
	res, err := schema.Normalize(raw, s.options())
	if err != nil {
		return nil, err
	}
	if len(res.Warnings) > 0 {
		slog.Warn("values coerced to null", "count", len(res.Warnings), "first", res.Warnings[0].String())
	}
	return res, nil
}

// publishSnapshot validates the bhavcopy against the schema before replacing the
// snapshot, so a file the dashboard cannot read is never published.
func (s *Service) publishSnapshot(ctx context.Context, b *nse.Bhavcopy) (*schema.Result, error) {
	normalized, err := s.normalize(b.Data)
	if err != nil {
		return nil, fmt.Errorf("bhavcopy for %s not publishable: %w", b.Date.Format(schema.DateLayout), err)
	}
	if err := s.store.Put(ctx, s.cfg.Store.SnapshotName, b.Data); err != nil {
		return nil, fmt.Errorf("failed to publish snapshot: %w", err)
	}
	s.cache.SetDefault(snapshotKey, normalized)
	slog.Info("published snapshot", "store", s.store.Name(), "date", b.Date.Format(schema.DateLayout),
		"records", len(normalized.Records), "size", humanize.Bytes(uint64(len(b.Data))))
	return normalized, nil
}

func (s *Service) loadArchive(ctx context.Context) (*historical.Archive, error) {
	data, err := s.store.Get(ctx, s.cfg.Store.HistoryName)
	if errors.Is(err, blobstore.ErrNotFound) {
		return historical.NewArchive(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	archive, report, err := historical.Decode(data, s.historyOptions())
	if err != nil {
		return nil, err
	}
	if n := len(report.Merge.Unplaceable); n > 0 {
		slog.Warn("history rows without symbol or date ignored", "count", n)
	}
	return archive, nil
}

func (s *Service) publishArchive(ctx context.Context, archive *historical.Archive, merged historical.MergeResult) error {
	data, err := historical.Encode(archive)
	if err != nil {
		return err
	}
	if err := s.store.Put(ctx, s.cfg.Store.HistoryName, data); err != nil {
		return fmt.Errorf("failed to publish history: %w", err)
	}
	s.cache.SetDefault(archiveKey, archive)
	slog.Info("published history", "store", s.store.Name(), "records", archive.Len(),
		"inserted", merged.Inserted, "updated", merged.Updated, "size", humanize.Bytes(uint64(len(data))))
	return nil
}

func (s *Service) finishRun(run *recorder.Run, err error) {
	run.Finish(err)
	if rerr := s.rec.RecordRun(run); rerr != nil {
		slog.Error("failed to record run", "id", run.ID, "error", rerr)
	}
}

func dayErrorFormat(errs []error) string {
	msg := fmt.Sprintf("%d day(s) failed:", len(errs))
	for _, e := range errs {
		msg += "\n  " + e.Error()
	}
	return msg
}
