package checkpoint

import (
	"math"
	"path/filepath"
	"testing"

	"cloud.google.com/go/civil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KI7MT/ki7mt-irradiance/internal/pipeline"
)

func TestSeriesCheckpoint(t *testing.T) {
	records := []pipeline.NormalizedRecord{
		{Date: civil.Date{Year: 2024, Month: 1, Day: 5}, Measure: "kWh", Value: 3},
		{Date: civil.Date{Year: 2024, Month: 1, Day: 9}, Measure: "kWh", Value: 5},
		{Date: civil.Date{Year: 2024, Month: 2, Day: 1}, Measure: "kWh", Value: 1.5},
	}
	s, err := pipeline.Aggregate(records, pipeline.Spec{Granularity: pipeline.Month, Measure: "kWh", Op: pipeline.Mean})
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "monthly.parquet")
	require.NoError(t, WriteSeries(path, s))

	got, err := ReadSeries(path)
	require.NoError(t, err)
	assert.Equal(t, pipeline.Month, got.Granularity)
	assert.Equal(t, pipeline.Mean, got.Op)
	assert.Equal(t, "kWh", got.Measure)
	require.Equal(t, s.Len(), got.Len())
	for _, bv := range s.Sorted() {
		v, ok := got.Get(bv.Bucket.Key)
		require.True(t, ok)
		assert.Equal(t, bv.Value, v)
		assert.Equal(t, bv.Count, got.Count(bv.Bucket.Key))
	}
	assert.Equal(t, 2, got.Count(civil.Date{Year: 2024, Month: 1, Day: 1}))
}

func TestReconciledCheckpoint(t *testing.T) {
	a, err := pipeline.NewSeries(pipeline.Day, "gen", pipeline.Sum, map[civil.Date]float64{
		{Year: 2024, Month: 1, Day: 1}: 10,
		{Year: 2024, Month: 1, Day: 2}: 4,
	})
	require.NoError(t, err)
	b, err := pipeline.NewSeries(pipeline.Day, "irr", pipeline.Sum, map[civil.Date]float64{
		{Year: 2024, Month: 1, Day: 1}: 2,
		{Year: 2024, Month: 1, Day: 2}: 0,
	})
	require.NoError(t, err)
	r, err := pipeline.Reconcile(a, b)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "out", "reconciled.parquet")
	require.NoError(t, WriteReconciledFile(path, r))

	rows, err := readReconciled(path)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "2024-01-01", rows[0].Date)
	assert.Equal(t, 5.0, rows[0].Ratio)
	assert.True(t, rows[0].Valid)
	assert.False(t, rows[1].Valid)
	assert.True(t, math.IsNaN(rows[1].Ratio))
}

func TestReadSeriesErrors(t *testing.T) {
	dir := t.TempDir()
	_, err := ReadSeries(filepath.Join(dir, "missing.parquet"))
	require.Error(t, err)

	empty := filepath.Join(dir, "empty.parquet")
	require.NoError(t, writeFile(empty, []SeriesRow{}))
	_, err = ReadSeries(empty)
	require.Error(t, err)
}
