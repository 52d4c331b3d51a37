package app

import (
	"context"
	"errors"
	"time"

	"github.com/tradesolutions39/stock-dashboard/internal/historical"
	"github.com/tradesolutions39/stock-dashboard/internal/nse"
	"github.com/tradesolutions39/stock-dashboard/internal/schema"
)

var (
	// ErrNoSnapshot means no snapshot has been published yet.
	ErrNoSnapshot = errors.New("no snapshot published yet; run fetch or ingest first")
	// ErrSymbolNotFound means the ticker is not in the data.
	ErrSymbolNotFound = errors.New("symbol not found")
)

// Fetcher downloads exchange bhavcopies.
type Fetcher interface {
	FetchLatest(ctx context.Context) (*nse.Bhavcopy, error)
	FetchRange(ctx context.Context, from, to time.Time, fn func(*nse.Bhavcopy) error) (nse.RangeReport, error)
	Today() time.Time
}

// FetchResult describes a published snapshot.
type FetchResult struct {
	TradeDate time.Time
	Bytes     int
	Rows      int
}

// IngestResult describes one daily ingest.
type IngestResult struct {
	TradeDate  time.Time
	Normalized *schema.Result
	Merge      historical.MergeResult
	Records    int
}

// BackfillResult describes a backfill walk.
type BackfillResult struct {
	Report  nse.RangeReport
	Merge   historical.MergeResult
	Records int
	// Published is false when nothing changed and the history was left as is.
	Published bool
}

// SymbolView is everything known about one symbol.
type SymbolView struct {
	Symbol   string
	Snapshot *schema.Record
	Latest   *schema.Record
	Average  *historical.Average
	Window   int
}

// Commentary is a generated explanation for one symbol.
type Commentary struct {
	Symbol string
	Model  string
	Prompt string
	Text   string
}
