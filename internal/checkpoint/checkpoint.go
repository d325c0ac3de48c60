// Package checkpoint persists pipeline results as Parquet files so a later
// run can pick up an aggregated series without re-reading its sources.
package checkpoint

import (
	"os"
	"path/filepath"

	"cloud.google.com/go/civil"
	"github.com/go-faster/errors"
	"github.com/parquet-go/parquet-go"

	"github.com/KI7MT/ki7mt-irradiance/internal/pipeline"
	"github.com/KI7MT/ki7mt-irradiance/internal/solar"
)

// SeriesRow is one bucket of an aggregated series.
type SeriesRow struct {
	Granularity string  `parquet:"granularity"`
	Measure     string  `parquet:"measure"`
	Op          string  `parquet:"op"`
	Bucket      string  `parquet:"bucket"` // First date of the bucket, YYYY-MM-DD
	Value       float64 `parquet:"value"`
	Count       int64   `parquet:"count"`
}

// SeriesRows flattens a series in chronological order.
func SeriesRows(s *pipeline.AggregatedSeries) []SeriesRow {
	sorted := s.Sorted()
	rows := make([]SeriesRow, len(sorted))
	for i, bv := range sorted {
		rows[i] = SeriesRow{
			Granularity: s.Granularity.String(),
			Measure:     s.Measure,
			Op:          s.Op.String(),
			Bucket:      bv.Bucket.Key.String(),
			Value:       bv.Value,
			Count:       int64(bv.Count),
		}
	}
	return rows
}

// WriteSeries writes s to path.
func WriteSeries(path string, s *pipeline.AggregatedSeries) error {
	return writeFile(path, SeriesRows(s))
}

// ReadSeries loads a series written by WriteSeries. An empty file yields an
// error because it cannot carry the series' granularity.
func ReadSeries(path string) (*pipeline.AggregatedSeries, error) {
	rows, err := parquet.ReadFile[SeriesRow](path)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", path)
	}
	if len(rows) == 0 {
		return nil, errors.Errorf("%s: empty checkpoint", path)
	}

	first := rows[0]
	g, err := pipeline.ParseGranularity(first.Granularity)
	if err != nil {
		return nil, err
	}
	op, err := pipeline.ParseOp(first.Op)
	if err != nil {
		return nil, err
	}

	buckets := make([]pipeline.BucketValue, len(rows))
	for i, r := range rows {
		if r.Granularity != first.Granularity || r.Measure != first.Measure || r.Op != first.Op {
			return nil, errors.Errorf("%s row %d: mixed series", path, i+1)
		}
		d, err := civil.ParseDate(r.Bucket)
		if err != nil {
			return nil, errors.Wrapf(err, "%s row %d", path, i+1)
		}
		buckets[i] = pipeline.BucketValue{
			Bucket: pipeline.BucketOf(g, d),
			Value:  r.Value,
			Count:  int(r.Count),
		}
	}
	s, err := pipeline.NewSeriesFromBuckets(g, first.Measure, op, buckets)
	if err != nil {
		return nil, errors.Wrap(err, path)
	}
	return s, nil
}

// Readings converts a reconciliation into persisted rows.
func Readings(r *pipeline.Reconciliation) []solar.Reading {
	out := make([]solar.Reading, len(r.Rows))
	for i, row := range r.Rows {
		out[i] = solar.Reading{
			Date:       row.Bucket.Key.String(),
			Generation: row.A,
			Irradiance: row.B,
			Ratio:      row.Ratio,
			Valid:      row.Valid,
		}
	}
	return out
}

// WriteReconciledFile writes reconciled rows to path.
func WriteReconciledFile(path string, r *pipeline.Reconciliation) error {
	return writeFile(path, Readings(r))
}

// readReconciled loads rows written by WriteReconciledFile.
func readReconciled(path string) ([]solar.Reading, error) {
	rows, err := parquet.ReadFile[solar.Reading](path)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", path)
	}
	return rows, nil
}

func writeFile[T any](path string, rows []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.Wrap(err, "create directory")
	}
	tmpPath := path + ".tmp"
	if err := parquet.WriteFile(tmpPath, rows); err != nil {
		os.Remove(tmpPath)
		return errors.Wrapf(err, "write %s", path)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return errors.Wrap(err, "rename failed")
	}
	return nil
}
