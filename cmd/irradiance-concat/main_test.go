package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRunWithoutArgs(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run(nil, &stdout, &stderr, zap.NewNop())

	assert.Equal(t, 1, code)
	assert.Contains(t, stderr.String(), "Usage: irradiance-concat")
	assert.Zero(t, stdout.Len())
}

func TestRunConcatenatesAndTruncatesDates(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "nasa_power_irradiance_2016.csv"),
		[]byte("Date,Irradiance (kWh/m^2/day)\n2016-01-01 00:00:00,1.1\n2016-01-02,0.9\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "nasa_power_irradiance_2015.csv"),
		[]byte("Date,Irradiance (kWh/m^2/day)\n2015-12-31T00:00:00Z,2.5\n"), 0o644))

	var stdout, stderr bytes.Buffer
	code := run([]string{filepath.Join(dir, "nasa_power_irradiance_*.csv")}, &stdout, &stderr, zap.NewNop())

	require.Equal(t, 0, code, stderr.String())
	assert.Equal(t,
		"Date,Irradiance (kWh/m^2/day)\n2015-12-31,2.5\n2016-01-01,1.1\n2016-01-02,0.9\n",
		stdout.String())
}

func TestRunRejectsBadDate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.csv")
	require.NoError(t, os.WriteFile(path, []byte("Date,x\n2016-01-01,1\n01/02/2016,2\n"), 0o644))

	var stdout, stderr bytes.Buffer
	code := run([]string{path}, &stdout, &stderr, zap.NewNop())

	assert.Equal(t, 1, code)
	assert.Contains(t, stderr.String(), "row 2")
	assert.Zero(t, stdout.Len(), "no partial output")
}

func TestRunRejectsMismatchedHeaders(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.csv")
	b := filepath.Join(dir, "b.csv")
	require.NoError(t, os.WriteFile(a, []byte("Date,x\n2016-01-01,1\n"), 0o644))
	require.NoError(t, os.WriteFile(b, []byte("Date,y\n2016-01-02,2\n"), 0o644))

	var stdout, stderr bytes.Buffer
	assert.Equal(t, 1, run([]string{a, b}, &stdout, &stderr, zap.NewNop()))
	assert.Zero(t, stdout.Len())
}

func TestRunMissingDateColumn(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.csv")
	require.NoError(t, os.WriteFile(path, []byte("day,x\n2016-01-01,1\n"), 0o644))

	var stdout, stderr bytes.Buffer
	assert.Equal(t, 1, run([]string{path}, &stdout, &stderr, zap.NewNop()))
	assert.Equal(t, 0, run([]string{"-date-column", "day", path}, &stdout, &stderr, zap.NewNop()))
	assert.Equal(t, "day,x\n2016-01-01,1\n", stdout.String())
}
