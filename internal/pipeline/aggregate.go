package pipeline

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"cloud.google.com/go/civil"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Granularity is the width of an aggregation bucket.
type Granularity int

const (
	Day Granularity = iota
	Month
	Year
)

func (g Granularity) String() string {
	switch g {
	case Day:
		return "day"
	case Month:
		return "month"
	case Year:
		return "year"
	}
	return fmt.Sprintf("Granularity(%d)", int(g))
}

// ParseGranularity accepts "day", "month" or "year".
func ParseGranularity(s string) (Granularity, error) {
	switch strings.ToLower(s) {
	case "day":
		return Day, nil
	case "month":
		return Month, nil
	case "year":
		return Year, nil
	}
	return 0, errors.Errorf("unknown granularity %q", s)
}

// Truncate returns the first date of the bucket containing d.
func (g Granularity) Truncate(d civil.Date) civil.Date {
	switch g {
	case Month:
		return civil.Date{Year: d.Year, Month: d.Month, Day: 1}
	case Year:
		return civil.Date{Year: d.Year, Month: 1, Day: 1}
	}
	return d
}

// Bucket identifies one aggregation interval by its first date.
type Bucket struct {
	Granularity Granularity
	Key         civil.Date
}

// BucketOf derives the bucket of d at granularity g.
func BucketOf(g Granularity, d civil.Date) Bucket {
	return Bucket{Granularity: g, Key: g.Truncate(d)}
}

// String renders the bucket as 2024-03-01, 2024-03 or 2024.
func (b Bucket) String() string {
	switch b.Granularity {
	case Month:
		return fmt.Sprintf("%04d-%02d", b.Key.Year, int(b.Key.Month))
	case Year:
		return fmt.Sprintf("%04d", b.Key.Year)
	}
	return b.Key.String()
}

// Op is the reduction applied to the members of a bucket.
type Op int

const (
	Sum Op = iota
	Mean
)

func (o Op) String() string {
	switch o {
	case Sum:
		return "sum"
	case Mean:
		return "mean"
	}
	return fmt.Sprintf("Op(%d)", int(o))
}

// ParseOp accepts "sum" or "mean" ("avg" is an alias for mean).
func ParseOp(s string) (Op, error) {
	switch strings.ToLower(s) {
	case "sum":
		return Sum, nil
	case "mean", "avg":
		return Mean, nil
	}
	return 0, errors.Errorf("unknown reduction %q", s)
}

// Spec declares one aggregation.
type Spec struct {
	Granularity Granularity
	Measure     string
	Op          Op
}

// AggregatedSeries maps bucket keys to reduced values. It holds exactly one
// entry per distinct bucket present in the input and no others.
type AggregatedSeries struct {
	Granularity Granularity
	Measure     string
	Op          Op

	values map[civil.Date]float64
	counts map[civil.Date]int
}

// NewSeries builds a series directly from bucket values, each counted as a
// single member. Keys are truncated to the granularity; two keys in the same
// bucket and non-finite values are rejected.
func NewSeries(g Granularity, measure string, op Op, values map[civil.Date]float64) (*AggregatedSeries, error) {
	buckets := make([]BucketValue, 0, len(values))
	for d, v := range values {
		buckets = append(buckets, BucketValue{Bucket: BucketOf(g, d), Value: v, Count: 1})
	}
	return NewSeriesFromBuckets(g, measure, op, buckets)
}

// NewSeriesFromBuckets rebuilds a series from its buckets, keeping member
// counts. It is the inverse of Sorted.
func NewSeriesFromBuckets(g Granularity, measure string, op Op, buckets []BucketValue) (*AggregatedSeries, error) {
	s := &AggregatedSeries{
		Granularity: g,
		Measure:     measure,
		Op:          op,
		values:      make(map[civil.Date]float64, len(buckets)),
		counts:      make(map[civil.Date]int, len(buckets)),
	}
	for _, bv := range buckets {
		key := g.Truncate(bv.Bucket.Key)
		if _, dup := s.values[key]; dup {
			return nil, errors.Errorf("duplicate %s bucket %s", g, BucketOf(g, key))
		}
		if math.IsNaN(bv.Value) || math.IsInf(bv.Value, 0) {
			return nil, errors.Wrapf(ErrNonFinite, "%s bucket %s", g, BucketOf(g, key))
		}
		if bv.Count < 1 {
			return nil, errors.Errorf("%s bucket %s: count %d", g, BucketOf(g, key), bv.Count)
		}
		s.values[key] = bv.Value
		s.counts[key] = bv.Count
	}
	return s, nil
}

// Len returns the number of buckets.
func (s *AggregatedSeries) Len() int { return len(s.values) }

// Get returns the reduced value of the bucket starting at key.
func (s *AggregatedSeries) Get(key civil.Date) (float64, bool) {
	v, ok := s.values[key]
	return v, ok
}

// Count returns how many records fell into the bucket starting at key.
func (s *AggregatedSeries) Count(key civil.Date) int { return s.counts[key] }

// Keys returns the bucket keys in no particular order.
func (s *AggregatedSeries) Keys() []civil.Date {
	keys := make([]civil.Date, 0, len(s.values))
	for k := range s.values {
		keys = append(keys, k)
	}
	return keys
}

// BucketValue is one entry of a sorted series.
type BucketValue struct {
	Bucket Bucket
	Value  float64
	Count  int
}

// Sorted returns the series in chronological order. Aggregate itself makes
// no ordering promise; callers that need one ask for it here.
func (s *AggregatedSeries) Sorted() []BucketValue {
	keys := s.Keys()
	sort.Slice(keys, func(i, j int) bool { return keys[i].Before(keys[j]) })
	out := make([]BucketValue, len(keys))
	for i, k := range keys {
		out[i] = BucketValue{
			Bucket: Bucket{Granularity: s.Granularity, Key: k},
			Value:  s.values[k],
			Count:  s.counts[k],
		}
	}
	return out
}

// Total sums every bucket value.
func (s *AggregatedSeries) Total() float64 {
	total := decimal.Zero
	for _, v := range s.values {
		total = total.Add(decimal.NewFromFloat(v))
	}
	return total.InexactFloat64()
}

// Mean averages the bucket values; ok is false for an empty series.
func (s *AggregatedSeries) Mean() (mean float64, ok bool) {
	if len(s.values) == 0 {
		return 0, false
	}
	return s.Total() / float64(len(s.values)), true
}

// Aggregate buckets records by spec.Granularity and reduces their values.
// Sums accumulate in decimal so the result does not depend on input order;
// the mean is that exact sum divided by the member count.
func Aggregate(records []NormalizedRecord, spec Spec) (*AggregatedSeries, error) {
	sums := make(map[civil.Date]decimal.Decimal)
	counts := make(map[civil.Date]int)

	for i, r := range records {
		if r.Measure != spec.Measure {
			return nil, errors.Errorf("record %d carries %q, aggregating %q", i, r.Measure, spec.Measure)
		}
		key := spec.Granularity.Truncate(r.Date)
		sums[key] = sums[key].Add(decimal.NewFromFloat(r.Value))
		counts[key]++
	}

	s := &AggregatedSeries{
		Granularity: spec.Granularity,
		Measure:     spec.Measure,
		Op:          spec.Op,
		values:      make(map[civil.Date]float64, len(sums)),
		counts:      counts,
	}
	for key, sum := range sums {
		var v float64
		total := sum.InexactFloat64()
		switch spec.Op {
		case Sum:
			v = total
		case Mean:
			v = total / float64(counts[key])
			if math.IsInf(total, 0) {
				v = sum.Div(decimal.NewFromInt(int64(counts[key]))).InexactFloat64()
			}
		default:
			return nil, errors.Errorf("unsupported reduction %s", spec.Op)
		}
		if math.IsInf(v, 0) || math.IsNaN(v) {
			return nil, errors.Wrapf(ErrNonFinite, "%s of %s bucket %s", spec.Op, spec.Measure, BucketOf(spec.Granularity, key))
		}
		s.values[key] = v
	}
	return s, nil
}
