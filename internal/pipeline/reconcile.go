package pipeline

import (
	"math"
	"sort"

	"cloud.google.com/go/civil"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ReconciledRow is one bucket present in both series.
type ReconciledRow struct {
	Bucket Bucket
	A      float64 // Numerator series value (e.g. generation)
	B      float64 // Denominator series value (e.g. irradiance)
	Ratio  float64 // A / B, NaN when Valid is false
	Valid  bool
}

// Err returns ErrInvalidRatio for a row whose denominator is zero.
func (r ReconciledRow) Err() error {
	if r.Valid {
		return nil
	}
	return ErrInvalidRatio
}

// Summary is the sanity-check extrapolation over a reconciliation:
// Estimated = MeanRatio * SumB, compared against Actual = SumA.
type Summary struct {
	Rows        int
	ValidRows   int
	InvalidRows int

	// HasData is false when no valid ratio exists; MeanRatio and Estimated
	// are then NaN rather than zero.
	HasData   bool
	MeanRatio float64
	SumB      float64 // Over all joined rows
	Estimated float64
	Actual    float64 // SumA over all joined rows
}

// Err explains a summary without data: ErrEmptyJoin when nothing joined,
// ErrNoValidRatio when every joined row had a zero denominator.
func (s Summary) Err() error {
	switch {
	case s.HasData:
		return nil
	case s.Rows == 0:
		return ErrEmptyJoin
	default:
		return ErrNoValidRatio
	}
}

// Difference returns Estimated - Actual, NaN without data.
func (s Summary) Difference() float64 {
	if !s.HasData {
		return math.NaN()
	}
	return s.Estimated - s.Actual
}

// RelativeError returns (Estimated - Actual) / Actual, NaN without data or
// when Actual is zero.
func (s Summary) RelativeError() float64 {
	if !s.HasData || s.Actual == 0 {
		return math.NaN()
	}
	return (s.Estimated - s.Actual) / s.Actual
}

// Reconciliation is the inner join of two series plus its summary.
type Reconciliation struct {
	Granularity Granularity
	MeasureA    string
	MeasureB    string
	Rows        []ReconciledRow // Chronological
	Summary     Summary
}

// ValidRows returns the rows whose ratio is defined.
func (r *Reconciliation) ValidRows() []ReconciledRow {
	out := make([]ReconciledRow, 0, len(r.Rows))
	for _, row := range r.Rows {
		if row.Valid {
			out = append(out, row)
		}
	}
	return out
}

// Row returns the joined row for a bucket key, including flagged rows.
func (r *Reconciliation) Row(key civil.Date) (ReconciledRow, bool) {
	i := sort.Search(len(r.Rows), func(i int) bool { return !r.Rows[i].Bucket.Key.Before(key) })
	if i < len(r.Rows) && r.Rows[i].Bucket.Key == key {
		return r.Rows[i], true
	}
	return ReconciledRow{}, false
}

// Reconcile inner-joins a and b on bucket key and computes ratio = a / b.
// Zero denominators are flagged per row rather than failing the run, and an
// empty join yields an empty result whose summary has no data.
func Reconcile(a, b *AggregatedSeries) (*Reconciliation, error) {
	if a == nil || b == nil {
		return nil, errors.New("reconcile: nil series")
	}
	if a.Granularity != b.Granularity {
		return nil, errors.Errorf("reconcile: granularity mismatch %s vs %s", a.Granularity, b.Granularity)
	}

	out := &Reconciliation{
		Granularity: a.Granularity,
		MeasureA:    a.Measure,
		MeasureB:    b.Measure,
	}

	// Probe the smaller side.
	small, large, swapped := a, b, false
	if b.Len() < a.Len() {
		small, large, swapped = b, a, true
	}
	for _, key := range small.Keys() {
		other, ok := large.Get(key)
		if !ok {
			continue
		}
		mine, _ := small.Get(key)
		va, vb := mine, other
		if swapped {
			va, vb = other, mine
		}
		row := ReconciledRow{
			Bucket: Bucket{Granularity: a.Granularity, Key: key},
			A:      va,
			B:      vb,
			Ratio:  math.NaN(),
		}
		if ratio := va / vb; vb != 0 && !math.IsInf(ratio, 0) {
			row.Ratio = ratio
			row.Valid = true
		}
		out.Rows = append(out.Rows, row)
	}
	sort.Slice(out.Rows, func(i, j int) bool { return out.Rows[i].Bucket.Key.Before(out.Rows[j].Bucket.Key) })

	out.Summary = summarize(out.Rows)
	return out, nil
}

func summarize(rows []ReconciledRow) Summary {
	s := Summary{
		Rows:      len(rows),
		MeanRatio: math.NaN(),
		Estimated: math.NaN(),
	}

	sumA, sumB, sumRatio := decimal.Zero, decimal.Zero, decimal.Zero
	for _, r := range rows {
		sumA = sumA.Add(decimal.NewFromFloat(r.A))
		sumB = sumB.Add(decimal.NewFromFloat(r.B))
		if r.Valid {
			sumRatio = sumRatio.Add(decimal.NewFromFloat(r.Ratio))
			s.ValidRows++
		}
	}
	s.InvalidRows = s.Rows - s.ValidRows
	s.Actual = sumA.InexactFloat64()
	s.SumB = sumB.InexactFloat64()

	if s.ValidRows == 0 {
		return s
	}
	s.HasData = true
	s.MeanRatio = sumRatio.InexactFloat64() / float64(s.ValidRows)
	s.Estimated = s.MeanRatio * s.SumB
	return s
}
