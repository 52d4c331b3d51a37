package nse

import (
	"errors"
	"time"
)

// ErrNoData means the exchange published nothing for the day (weekend, holiday, or not yet out).
var ErrNoData = errors.New("no bhavcopy published")

// Bhavcopy is one day's full bhavcopy with deliverable positions, as published.
type Bhavcopy struct {
	Date time.Time
	Data []byte
}

// RangeReport summarizes a FetchRange walk. Dates are formatted 2006-01-02.
type RangeReport struct {
	Fetched []string
	Missing []string
	Failed  map[string]error
}
