package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/KI7MT/ki7mt-irradiance/internal/checkpoint"
	"github.com/KI7MT/ki7mt-irradiance/internal/common"
	"github.com/KI7MT/ki7mt-irradiance/internal/pipeline"
)

func climateFiles(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "en_climate_daily_ON_6153193_2025_P1D.csv"), []byte(
		"\"Longitude (x)\",\"Date/Time\",\"Mean Temp (°C)\"\n"+
			"-79.87,2025-01-01,-2\n"+
			"-79.87,2025-01-02,-4\n"+
			"-79.87,2025-03-21,6\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "en_climate_daily_ON_6153193_2024_P1D.csv"), []byte(
		"\"Longitude (x)\",\"Date/Time\",\"Mean Temp (°C)\"\n"+
			"-79.87,2024-12-30,1.5\n"+
			"-79.87,2024-12-31,\n"), 0o644))
	return filepath.Join(dir, "en_climate_daily_*_P1D.csv")
}

func TestRunBlankCellFails(t *testing.T) {
	glob := climateFiles(t)

	var stdout, stderr bytes.Buffer
	code := run(common.DefaultConfig(), []string{glob}, &stdout, &stderr, zap.NewNop())
	assert.Equal(t, 1, code)
	assert.Zero(t, stdout.Len())
}

func TestRunSkipBlank(t *testing.T) {
	glob := climateFiles(t)
	pq := filepath.Join(t.TempDir(), "monthly.parquet")

	var stdout, stderr bytes.Buffer
	code := run(common.DefaultConfig(), []string{"-skip-blank", "-parquet", pq, glob}, &stdout, &stderr, zap.NewNop())
	require.Equal(t, 0, code, stderr.String())

	assert.Equal(t, "month,mean_temp_c\n2025-01-01,-3\n2024-12-01,1.5\n", stdout.String())

	series, err := checkpoint.ReadSeries(pq)
	require.NoError(t, err)
	assert.Equal(t, pipeline.Month, series.Granularity)
	assert.Equal(t, pipeline.Mean, series.Op)
	assert.Equal(t, 2, series.Len())
}

func TestRunNoUpperBound(t *testing.T) {
	glob := climateFiles(t)

	var stdout, stderr bytes.Buffer
	code := run(common.DefaultConfig(), []string{"-skip-blank", "-until", "", "-since", "2025-01-01", glob}, &stdout, &stderr, zap.NewNop())
	require.Equal(t, 0, code, stderr.String())
	assert.Equal(t, "month,mean_temp_c\n2025-03-01,6\n2025-01-01,-3\n", stdout.String())
}

func TestRunBlankAfterUntilIgnored(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "en_climate_daily_ON_6153193_2025_P1D.csv"), []byte(
		"\"Date/Time\",\"Mean Temp (°C)\"\n"+
			"2025-03-19,1\n"+
			"2025-03-20,3\n"+
			"2025-03-21,\n"+
			"2025-03-22,\n"), 0o644))

	var stdout, stderr bytes.Buffer
	code := run(common.DefaultConfig(), []string{filepath.Join(dir, "en_climate_daily_*_P1D.csv")}, &stdout, &stderr, zap.NewNop())
	require.Equal(t, 0, code, stderr.String())
	assert.Equal(t, "month,mean_temp_c\n2025-03-01,2\n", stdout.String())
}

func TestDropBlank(t *testing.T) {
	records := []pipeline.RawRecord{
		{Fields: map[string]string{"t": "1"}},
		{Fields: map[string]string{"t": "  "}},
		{Fields: map[string]string{}},
	}
	kept, dropped := dropBlank(records, "t")
	assert.Len(t, kept, 1)
	assert.Equal(t, 2, dropped)
}
