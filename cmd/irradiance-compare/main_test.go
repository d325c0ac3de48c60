package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"cloud.google.com/go/civil"
	"github.com/parquet-go/parquet-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/KI7MT/ki7mt-irradiance/internal/checkpoint"
	"github.com/KI7MT/ki7mt-irradiance/internal/common"
	"github.com/KI7MT/ki7mt-irradiance/internal/pipeline"
	"github.com/KI7MT/ki7mt-irradiance/internal/solar"
)

const irradianceCSV = `Date,Irradiance (kWh/m^2/day)
2023-12-31,3
2024-01-01,2
2024-01-02,0
2024-01-03,4
`

const generationCSV = `time,kWh
2023-12-31 12:00:00,9
2024-01-01 10:00:00,4
2024-01-01 14:00:00,6
2024-01-02 12:00:00,3
2024-01-03 11:00:00,12
2024-01-05 11:00:00,7
`

func fixtures(t *testing.T) (irr, gen string) {
	t.Helper()
	dir := t.TempDir()
	irr = filepath.Join(dir, "nasa_power_irradiance_2024.csv")
	gen = filepath.Join(dir, "solar_output.csv")
	require.NoError(t, os.WriteFile(irr, []byte(irradianceCSV), 0o644))
	require.NoError(t, os.WriteFile(gen, []byte(generationCSV), 0o644))
	return irr, gen
}

func TestRunReconciles(t *testing.T) {
	irr, gen := fixtures(t)

	var stdout, stderr bytes.Buffer
	code := run(context.Background(), common.DefaultConfig(), []string{
		"-irradiance", irr,
		"-generation", gen,
	}, &stdout, &stderr, zap.NewNop())
	require.Equal(t, 0, code, stderr.String())

	assert.Equal(t,
		"Date,Daily_Generation,Irradiance (kWh/m^2/day),Generation_to_Irradiance_Ratio,valid\n"+
			"2024-01-01,10,2,5,true\n"+
			"2024-01-02,3,0,,false\n"+
			"2024-01-03,12,4,3,true\n",
		stdout.String())
}

func TestRunSinceFromFlag(t *testing.T) {
	irr, gen := fixtures(t)
	dir := t.TempDir()
	out := filepath.Join(dir, "reconciled.csv")
	pq := filepath.Join(dir, "reconciled.parquet")

	var stdout, stderr bytes.Buffer
	code := run(context.Background(), common.DefaultConfig(), []string{
		"-irradiance", irr,
		"-generation", gen,
		"-since", "2023-01-01",
		"-until", "2024-01-01",
		"-out", out,
		"-parquet", pq,
	}, &stdout, &stderr, zap.NewNop())
	require.Equal(t, 0, code, stderr.String())
	assert.Zero(t, stdout.Len())

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(data), "2023-12-31,9,3,3,true\n")
	assert.Contains(t, string(data), "2024-01-01,10,2,5,true\n")
	assert.NotContains(t, string(data), "2024-01-03")

	rows, err := parquet.ReadFile[solar.Reading](pq)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestRunEmptyJoinIsNotAnError(t *testing.T) {
	irr, gen := fixtures(t)

	var stdout, stderr bytes.Buffer
	code := run(context.Background(), common.DefaultConfig(), []string{
		"-irradiance", irr,
		"-generation", gen,
		"-since", "2030-01-01",
	}, &stdout, &stderr, zap.NewNop())

	assert.Equal(t, 0, code)
	assert.Equal(t, "Date,Daily_Generation,Irradiance (kWh/m^2/day),Generation_to_Irradiance_Ratio,valid\n", stdout.String())
}

func TestRunUsage(t *testing.T) {
	var stdout, stderr bytes.Buffer
	assert.Equal(t, 1, run(context.Background(), common.DefaultConfig(), nil, &stdout, &stderr, zap.NewNop()))
	assert.Contains(t, stderr.String(), "Usage: irradiance-compare")

	stderr.Reset()
	assert.Equal(t, 1, run(context.Background(), common.DefaultConfig(),
		[]string{"-generation", "a.csv", "-ch-source", "meter"}, &stdout, &stderr, zap.NewNop()))
	assert.Zero(t, stdout.Len())
}

func TestRunParseErrorAborts(t *testing.T) {
	irr, _ := fixtures(t)
	gen := filepath.Join(t.TempDir(), "gen.csv")
	require.NoError(t, os.WriteFile(gen, []byte("time,kWh\n2024-01-01 10:00:00,4\n2024-01-01,6\n"), 0o644))

	var stdout, stderr bytes.Buffer
	code := run(context.Background(), common.DefaultConfig(), []string{
		"-irradiance", irr, "-generation", gen,
	}, &stdout, &stderr, zap.NewNop())

	assert.Equal(t, 1, code)
	assert.Zero(t, stdout.Len())
}

func TestParseFlagsColumnsFromSite(t *testing.T) {
	site := filepath.Join(t.TempDir(), "site.yaml")
	require.NoError(t, os.WriteFile(site, []byte("name: cabin\ngeneration:\n  time_column: Timestamp\n  value_column: Energy\n  since: 2024-06-01\n"), 0o644))

	var stderr bytes.Buffer
	opts, err := parseFlags(common.DefaultConfig(), []string{"-site", site, "-generation", "g.csv", "-value-column", "Wh"}, &stderr)
	require.NoError(t, err)
	assert.Equal(t, "Timestamp", opts.TimeColumn)
	assert.Equal(t, "Wh", opts.ValueColumn)
	assert.Equal(t, "2024-06-01", opts.Filter.Since.String())
	assert.Equal(t, "cabin", opts.Site)
}

func TestRunIrradianceFromCheckpoint(t *testing.T) {
	_, gen := fixtures(t)
	pq := filepath.Join(t.TempDir(), "irradiance.parquet")

	irr, err := pipeline.NewSeries(pipeline.Day, solar.ColIrradiance, pipeline.Sum, map[civil.Date]float64{
		{Year: 2023, Month: 12, Day: 31}: 3,
		{Year: 2024, Month: 1, Day: 1}:   2,
		{Year: 2024, Month: 1, Day: 3}:   4,
	})
	require.NoError(t, err)
	require.NoError(t, checkpoint.WriteSeries(pq, irr))

	var stdout, stderr bytes.Buffer
	code := run(context.Background(), common.DefaultConfig(), []string{
		"-irradiance-parquet", pq,
		"-generation", gen,
	}, &stdout, &stderr, zap.NewNop())
	require.Equal(t, 0, code, stderr.String())
	assert.Equal(t,
		"Date,Daily_Generation,Irradiance (kWh/m^2/day),Generation_to_Irradiance_Ratio,valid\n"+
			"2024-01-01,10,2,5,true\n"+
			"2024-01-03,12,4,3,true\n",
		stdout.String())
}

func TestRunRejectsWrongCheckpoint(t *testing.T) {
	_, gen := fixtures(t)
	pq := filepath.Join(t.TempDir(), "monthly.parquet")

	monthly, err := pipeline.NewSeries(pipeline.Month, solar.ColMeanTemp, pipeline.Mean, map[civil.Date]float64{
		{Year: 2024, Month: 1, Day: 1}: -3,
	})
	require.NoError(t, err)
	require.NoError(t, checkpoint.WriteSeries(pq, monthly))

	var stdout, stderr bytes.Buffer
	code := run(context.Background(), common.DefaultConfig(), []string{
		"-irradiance-parquet", pq, "-generation", gen,
	}, &stdout, &stderr, zap.NewNop())
	assert.Equal(t, 1, code)
	assert.Zero(t, stdout.Len())
}
