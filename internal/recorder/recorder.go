package recorder

import (
	"time"

	"github.com/google/uuid"
)

// Run kinds.
const (
	KindIngest   = "ingest"
	KindBackfill = "backfill"
	KindFetch    = "fetch"
)

// Run statuses.
const (
	StatusOK      = "ok"
	StatusPartial = "partial"
	StatusFailed  = "failed"
)

// Run is one ingest or backfill execution.
type Run struct {
	ID         uuid.UUID
	Kind       string
	StartedAt  time.Time
	FinishedAt time.Time
	TradeDate  string // latest trade date merged, 2006-01-02
	Rows       int    // normalized records
	Inserted   int
	Updated    int
	Warnings   int
	Status     string
	Error      string
}

// NewRun starts a run of kind at now.
func NewRun(kind string) *Run {
	return &Run{ID: uuid.New(), Kind: kind, StartedAt: time.Now().UTC()}
}

// Finish stamps the end time and derives the status from err unless one was already set.
func (r *Run) Finish(err error) {
	r.FinishedAt = time.Now().UTC()
	if err != nil {
		r.Error = err.Error()
	}
	if r.Status != "" {
		return
	}
	if err != nil {
		r.Status = StatusFailed
	} else {
		r.Status = StatusOK
	}
}

// Duration is the wall time of a finished run.
func (r *Run) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Recorder persists the run log.
type Recorder interface {
	RecordRun(run *Run) error
	Recent(limit int) ([]Run, error)
	Close() error
}
