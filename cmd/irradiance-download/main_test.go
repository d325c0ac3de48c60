package main

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/KI7MT/ki7mt-irradiance/internal/checkpoint"
	"github.com/KI7MT/ki7mt-irradiance/internal/common"
)

func powerServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		year := r.URL.Query().Get("start")[:4]
		if year == "2017" {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		fmt.Fprintf(w, "-BEGIN HEADER-\nNASA/POWER\n-END HEADER-\nYEAR,MO,DY,ALLSKY_SFC_SW_DWN\n%[1]s,1,1,1.5\n%[1]s,1,2,2.5\n", year)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRunWritesYearFiles(t *testing.T) {
	srv := powerServer(t)
	dir := t.TempDir()
	pq := filepath.Join(dir, "daily.parquet")

	var stderr bytes.Buffer
	code := run(context.Background(), common.DefaultConfig(), []string{
		"-base-url", srv.URL,
		"-dest", dir,
		"-start", "2015",
		"-end", "2016",
		"-parquet", pq,
	}, &stderr, zap.NewNop())
	require.Equal(t, 0, code, stderr.String())

	data, err := os.ReadFile(filepath.Join(dir, "nasa_power_irradiance_2016.csv"))
	require.NoError(t, err)
	assert.Equal(t, "Date,Irradiance (kWh/m^2/day)\n2016-01-01,1.5\n2016-01-02,2.5\n", string(data))
	assert.FileExists(t, filepath.Join(dir, "nasa_power_irradiance_2015.csv"))

	series, err := checkpoint.ReadSeries(pq)
	require.NoError(t, err)
	assert.Equal(t, 4, series.Len())
	assert.Equal(t, 8.0, series.Total())
}

func TestRunReportsFailedYear(t *testing.T) {
	srv := powerServer(t)
	dir := t.TempDir()

	var stderr bytes.Buffer
	code := run(context.Background(), common.DefaultConfig(), []string{
		"-base-url", srv.URL, "-dest", dir, "-start", "2016", "-end", "2018",
	}, &stderr, zap.NewNop())

	assert.Equal(t, 1, code)
	assert.FileExists(t, filepath.Join(dir, "nasa_power_irradiance_2016.csv"))
	assert.NoFileExists(t, filepath.Join(dir, "nasa_power_irradiance_2017.csv"))
	assert.FileExists(t, filepath.Join(dir, "nasa_power_irradiance_2018.csv"))
}

func TestParseFlagsSiteOverrides(t *testing.T) {
	dir := t.TempDir()
	site := filepath.Join(dir, "site.yaml")
	require.NoError(t, os.WriteFile(site, []byte("latitude: 10\nlongitude: 20\nstart_year: 2020\nend_year: 2022\n"), 0o644))

	var stderr bytes.Buffer
	opts, err := parseFlags(common.DefaultConfig(), []string{"-site", site, "-end", "2021", "-lat", "0"}, &stderr)
	require.NoError(t, err)
	assert.Equal(t, 0.0, opts.Location.Latitude)
	assert.Equal(t, 20.0, opts.Location.Longitude)
	assert.Equal(t, 2020, opts.StartYear)
	assert.Equal(t, 2021, opts.EndYear)

	_, err = parseFlags(common.DefaultConfig(), []string{"-start", "2020", "-end", "2019"}, &stderr)
	require.Error(t, err)

	_, err = parseFlags(common.DefaultConfig(), []string{"extra"}, &stderr)
	require.Error(t, err)
}
