// irradiance-download - Download daily irradiance from NASA POWER
//
// Fetches ALLSKY_SFC_SW_DWN for one location over a range of years, writes
// one nasa_power_irradiance_<year>.csv per year and reports yearly totals.
//
// Data source:
//   - NASA POWER daily point API (community=RE, CSV format)
//
// Build: CGO_ENABLED=0 go build -ldflags="-s -w" -o build/irradiance-download ./cmd/irradiance-download

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/KI7MT/ki7mt-irradiance/internal/cache"
	"github.com/KI7MT/ki7mt-irradiance/internal/checkpoint"
	"github.com/KI7MT/ki7mt-irradiance/internal/common"
	"github.com/KI7MT/ki7mt-irradiance/internal/csvio"
	"github.com/KI7MT/ki7mt-irradiance/internal/pipeline"
	"github.com/KI7MT/ki7mt-irradiance/internal/power"
	"github.com/KI7MT/ki7mt-irradiance/internal/solar"
)

// Version can be overridden at build time via -ldflags
var Version = "1.0.0"

// options are the resolved settings for one run.
type options struct {
	Location  power.Location
	StartYear int
	EndYear   int
	DestDir   string
	CacheDir  string
	BaseURL   string
	Timeout   time.Duration
	Parquet   string
}

func main() {
	cfg := common.DefaultConfig()
	log, err := common.NewLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Warn("Shutdown requested...")
		cancel()
	}()

	os.Exit(run(ctx, cfg, os.Args[1:], os.Stderr, log))
}

func parseFlags(cfg *common.Config, args []string, stderr io.Writer) (options, error) {
	fs := flag.NewFlagSet("irradiance-download", flag.ContinueOnError)
	fs.SetOutput(stderr)

	siteFile := fs.String("site", "", "YAML site file (latitude, longitude, year range)")
	lat := fs.Float64("lat", 0, "Latitude (overrides site file)")
	lon := fs.Float64("lon", 0, "Longitude (overrides site file)")
	start := fs.Int("start", 0, "First year to download (overrides site file)")
	end := fs.Int("end", 0, "Last year to download (overrides site file)")
	dest := fs.String("dest", cfg.IrradianceDataDir(), "Destination directory")
	cacheDir := fs.String("cache-dir", cfg.CacheDir, "Response cache directory (empty disables caching)")
	baseURL := fs.String("base-url", cfg.PowerBaseURL, "NASA POWER daily point endpoint")
	timeout := fs.Duration("timeout", power.DefaultTimeout, "HTTP timeout per request")
	parquetPath := fs.String("parquet", "", "Also write the daily series as a parquet checkpoint")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "irradiance-download v%s - NASA POWER Irradiance Downloader\n\n", Version)
		fmt.Fprintf(stderr, "Usage: irradiance-download [OPTIONS]\n\n")
		fmt.Fprintf(stderr, "Downloads daily all-sky surface irradiance for one location, one file per year.\n\n")
		fs.PrintDefaults()
		fmt.Fprintf(stderr, "\nEnvironment: POWER_BASE_URL, IRRADIANCE_DATA_DIR, IRRADIANCE_CACHE_DIR, LOG_LEVEL\n")
	}

	if err := fs.Parse(args); err != nil {
		return options{}, errors.Wrap(pipeline.ErrUsage, err.Error())
	}
	if fs.NArg() > 0 {
		fs.Usage()
		return options{}, errors.Wrapf(pipeline.ErrUsage, "unexpected argument %q", fs.Arg(0))
	}

	site, err := common.LoadSite(*siteFile)
	if err != nil {
		return options{}, err
	}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "lat":
			site.Latitude = *lat
		case "lon":
			site.Longitude = *lon
		case "start":
			site.StartYear = *start
		case "end":
			site.EndYear = *end
		}
	})
	if err := site.Validate(); err != nil {
		return options{}, err
	}

	return options{
		Location:  power.Location{Latitude: site.Latitude, Longitude: site.Longitude},
		StartYear: site.StartYear,
		EndYear:   site.EndYear,
		DestDir:   *dest,
		CacheDir:  *cacheDir,
		BaseURL:   *baseURL,
		Timeout:   *timeout,
		Parquet:   *parquetPath,
	}, nil
}

func run(ctx context.Context, cfg *common.Config, args []string, stderr io.Writer, log *zap.Logger) int {
	opts, err := parseFlags(cfg, args, stderr)
	if err != nil {
		if !errors.Is(err, pipeline.ErrUsage) {
			fmt.Fprintf(stderr, "Error: %v\n", err)
		}
		return 1
	}

	common.Banner(log, fmt.Sprintf("Irradiance Download v%s", Version))
	log.Info("settings",
		zap.Stringer("location", opts.Location),
		zap.Int("start_year", opts.StartYear),
		zap.Int("end_year", opts.EndYear),
		zap.String("dest", opts.DestDir),
		zap.String("cache", opts.CacheDir),
		zap.Duration("timeout", opts.Timeout),
	)

	client := power.NewClient(log)
	client.BaseURL = opts.BaseURL
	client.HTTP = &http.Client{Timeout: opts.Timeout}

	if opts.CacheDir != "" {
		store, err := cache.Open(cache.Config{Path: opts.CacheDir, Logger: log})
		if err != nil {
			log.Error("cache unavailable", zap.Error(err))
			return 1
		}
		defer store.Close()
		client.Cache = store
	}

	stats := common.NewStats()
	days, failed := download(ctx, client, opts, stats, log)

	if len(days) > 0 {
		if err := report(days, opts, log); err != nil {
			log.Error("report failed", zap.Error(err))
			failed++
		}
	}

	stats.Log(log)
	if failed > 0 {
		log.Error("download incomplete", zap.Int("failed_years", failed))
		return 1
	}
	return 0
}

// download fetches every year in the range. A year that fails is logged and
// counted; the remaining years still run.
func download(ctx context.Context, client *power.Client, opts options, stats *common.Stats, log *zap.Logger) ([]pipeline.NormalizedRecord, int) {
	norm, err := pipeline.NewNormalizer(power.Schema())
	if err != nil {
		log.Error("schema", zap.Error(err))
		return nil, 1
	}

	var all []pipeline.NormalizedRecord
	failed := 0
	for year := opts.StartYear; year <= opts.EndYear; year++ {
		if ctx.Err() != nil {
			log.Warn("cancelled", zap.Int("year", year))
			failed += opts.EndYear - year + 1
			break
		}

		before := client.BytesReceived()
		records, err := client.Fetch(ctx, opts.Location, year)
		if err != nil {
			log.Error("fetch failed", zap.Int("year", year), zap.Error(err))
			failed++
			continue
		}
		stats.AddFile(client.BytesReceived() - before)
		stats.AddRows(uint64(len(records)))

		days, err := norm.NormalizeAll(records)
		if err != nil {
			log.Error("normalize failed", zap.Int("year", year), zap.Error(err))
			failed++
			continue
		}

		fill := 0
		for _, d := range days {
			if d.Value == solar.PowerFillValue {
				fill++
			}
		}
		if fill > 0 {
			log.Warn("fill values present", zap.Int("year", year), zap.Int("days", fill), zap.Float64("value", solar.PowerFillValue))
		}

		path := filepath.Join(opts.DestDir, fmt.Sprintf("nasa_power_irradiance_%d.csv", year))
		if err := csvio.WriteFile(path, []string{solar.ColDate, solar.ColIrradiance}, dayRows(days)); err != nil {
			log.Error("write failed", zap.String("path", path), zap.Error(err))
			failed++
			continue
		}
		stats.AddWritten(uint64(len(days)))
		log.Info("downloaded", zap.Int("year", year), zap.Int("days", len(days)), zap.String("file", filepath.Base(path)))

		all = append(all, days...)
	}
	return all, failed
}

func dayRows(days []pipeline.NormalizedRecord) [][]string {
	rows := make([][]string, len(days))
	for i, d := range days {
		rows[i] = []string{d.Date.String(), strconv.FormatFloat(d.Value, 'f', -1, 64)}
	}
	return rows
}

// report logs yearly totals newest first with their average, and writes the
// daily checkpoint when requested.
func report(days []pipeline.NormalizedRecord, opts options, log *zap.Logger) error {
	yearly, err := pipeline.Aggregate(days, pipeline.Spec{
		Granularity: pipeline.Year,
		Measure:     solar.ColIrradiance,
		Op:          pipeline.Sum,
	})
	if err != nil {
		return err
	}

	log.Info("")
	common.Banner(log, "Yearly Irradiance (kWh/m^2)")
	sorted := yearly.Sorted()
	for i := len(sorted) - 1; i >= 0; i-- {
		bv := sorted[i]
		log.Info(bv.Bucket.String(), zap.Float64("total", bv.Value), zap.Int("days", bv.Count))
	}
	if mean, ok := yearly.Mean(); ok {
		log.Info("average", zap.Float64("yearly_total", mean), zap.Int("years", yearly.Len()))
	}
	common.Rule(log)

	if opts.Parquet == "" {
		return nil
	}
	daily, err := pipeline.Aggregate(days, pipeline.Spec{
		Granularity: pipeline.Day,
		Measure:     solar.ColIrradiance,
		Op:          pipeline.Sum,
	})
	if err != nil {
		return err
	}
	if err := checkpoint.WriteSeries(opts.Parquet, daily); err != nil {
		return err
	}
	log.Info("checkpoint written", zap.String("path", opts.Parquet), zap.Int("days", daily.Len()))
	return nil
}
