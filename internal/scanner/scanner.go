package scanner

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/tradesolutions39/stock-dashboard/internal/config"
	"github.com/tradesolutions39/stock-dashboard/internal/schema"
)

// Bucket names a delivery-percent band.
type Bucket string

const (
	Strong       Bucket = "strong"
	Accumulation Bucket = "accumulation"
	Weak         Bucket = "weak"
)

// Buckets lists every bucket in display order.
var Buckets = []Bucket{Strong, Accumulation, Weak}

// ParseBucket accepts a bucket name in any case.
func ParseBucket(s string) (Bucket, error) {
	b := Bucket(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Buckets {
		if b == known {
			return b, nil
		}
	}
	return "", fmt.Errorf("unknown bucket %q (want strong, accumulation or weak)", s)
}

// Thresholds bound the buckets: strong is [StrongMin, StrongMax], accumulation is
// [AccumulationMin, StrongMin), weak is below WeakMax.
type Thresholds struct {
	StrongMin       decimal.Decimal
	StrongMax       decimal.Decimal
	AccumulationMin decimal.Decimal
	WeakMax         decimal.Decimal
}

// FromConfig converts the configured thresholds.
func FromConfig(cfg config.ScanConfig) Thresholds {
	return Thresholds{
		StrongMin:       decimal.NewFromFloat(cfg.StrongMin),
		StrongMax:       decimal.NewFromFloat(cfg.StrongMax),
		AccumulationMin: decimal.NewFromFloat(cfg.AccumulationMin),
		WeakMax:         decimal.NewFromFloat(cfg.WeakMax),
	}
}

// Classify returns the bucket v falls in. A value can fall in none.
func (t Thresholds) Classify(v decimal.Decimal) (Bucket, bool) {
	switch {
	case v.GreaterThanOrEqual(t.StrongMin) && v.LessThanOrEqual(t.StrongMax):
		return Strong, true
	case v.GreaterThanOrEqual(t.AccumulationMin) && v.LessThan(t.StrongMin):
		return Accumulation, true
	case v.LessThan(t.WeakMax):
		return Weak, true
	}
	return "", false
}

// Result holds the snapshot records per bucket, each sorted by delivery percent
// descending, ties by symbol.
type Result map[Bucket][]schema.Record

// Scan buckets the snapshot. A null delivery percent counts as zero.
func Scan(snap schema.Snapshot, t Thresholds) Result {
	res := make(Result, len(Buckets))
	for _, r := range snap {
		if b, ok := t.Classify(r.DeliveryOrZero()); ok {
			res[b] = append(res[b], r)
		}
	}
	for _, rows := range res {
		sort.SliceStable(rows, func(i, j int) bool {
			if c := rows[i].DeliveryOrZero().Cmp(rows[j].DeliveryOrZero()); c != 0 {
				return c > 0
			}
			return rows[i].Symbol < rows[j].Symbol
		})
	}
	return res
}
