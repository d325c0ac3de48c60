// weather-monthly - Monthly mean temperature from daily climate files
//
// Reads Environment and Climate Change Canada daily climate CSVs
// (en_climate_daily_*_P1D.csv), keeps days inside the date window and
// writes one mean temperature per month, newest month first.
//
// Build: CGO_ENABLED=0 go build -ldflags="-s -w" -o build/weather-monthly ./cmd/weather-monthly

package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/KI7MT/ki7mt-irradiance/internal/checkpoint"
	"github.com/KI7MT/ki7mt-irradiance/internal/common"
	"github.com/KI7MT/ki7mt-irradiance/internal/csvio"
	"github.com/KI7MT/ki7mt-irradiance/internal/pipeline"
	"github.com/KI7MT/ki7mt-irradiance/internal/solar"
)

// Version can be overridden at build time via -ldflags
var Version = "1.0.0"

const (
	defaultUntil = "2025-03-20"
	monthColumn  = "month"
)

var climateSchema = pipeline.Schema{
	Rename: map[string]string{
		solar.ClimateDateTime: solar.ColDate,
		solar.ClimateMeanTemp: solar.ColMeanTemp,
	},
	Layout:     pipeline.LayoutDate,
	DateColumn: solar.ColDate,
	Measure:    solar.ColMeanTemp,
}

type options struct {
	Inputs    []string
	Filter    pipeline.Filter
	SkipBlank bool
	Out       string
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

	os.Exit(run(cfg, os.Args[1:], os.Stdout, os.Stderr, log))
}

func parseFlags(cfg *common.Config, args []string, stderr io.Writer) (options, error) {
	fs := flag.NewFlagSet("weather-monthly", flag.ContinueOnError)
	fs.SetOutput(stderr)

	since := fs.String("since", "", "Keep days on or after YYYY-MM-DD")
	until := fs.String("until", defaultUntil, "Keep days on or before YYYY-MM-DD (empty for no bound)")
	skipBlank := fs.Bool("skip-blank", false, "Drop days with no mean temperature instead of failing")
	out := fs.String("out", "", "Output CSV path (default stdout)")
	parquetPath := fs.String("parquet", "", "Also write the monthly series as parquet")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "weather-monthly v%s - Monthly Mean Temperature\n\n", Version)
		fmt.Fprintf(stderr, "Usage: weather-monthly [OPTIONS] [file_or_glob ...]\n\n")
		fmt.Fprintf(stderr, "Defaults to %s\n\n", defaultInput(cfg))
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return options{}, errors.Wrap(pipeline.ErrUsage, err.Error())
	}

	f, err := pipeline.ParseFilter(*since, *until)
	if err != nil {
		return options{}, err
	}
	inputs := fs.Args()
	if len(inputs) == 0 {
		inputs = []string{defaultInput(cfg)}
	}
	return options{
		Inputs:    inputs,
		Filter:    f,
		SkipBlank: *skipBlank,
		Out:       *out,
		Parquet:   *parquetPath,
	}, nil
}

func defaultInput(cfg *common.Config) string {
	return filepath.Join(cfg.WeatherDataDir(), "en_climate_daily_*_P1D.csv")
}

func run(cfg *common.Config, args []string, stdout, stderr io.Writer, log *zap.Logger) int {
	opts, err := parseFlags(cfg, args, stderr)
	if err != nil {
		if !errors.Is(err, pipeline.ErrUsage) {
			fmt.Fprintf(stderr, "Error: %v\n", err)
		}
		return 1
	}

	common.Banner(log, fmt.Sprintf("Weather Monthly v%s", Version))
	stats := common.NewStats()

	monthly, err := monthlyMeans(opts, stats, log)
	if err != nil {
		log.Error("aggregate failed", zap.Error(err))
		return 1
	}

	rows := monthRows(monthly)
	if opts.Out == "" {
		err = csvio.Write(stdout, []string{monthColumn, solar.ColMeanTemp}, rows)
	} else {
		err = csvio.WriteFile(opts.Out, []string{monthColumn, solar.ColMeanTemp}, rows)
	}
	if err != nil {
		log.Error("write failed", zap.Error(err))
		return 1
	}
	stats.AddWritten(uint64(len(rows)))

	if opts.Parquet != "" {
		if err := checkpoint.WriteSeries(opts.Parquet, monthly); err != nil {
			log.Error("checkpoint failed", zap.Error(err))
			return 1
		}
	}

	stats.Log(log)
	return 0
}

func monthlyMeans(opts options, stats *common.Stats, log *zap.Logger) (*pipeline.AggregatedSeries, error) {
	tbl, paths, err := csvio.ReadAll(opts.Inputs)
	if err != nil {
		return nil, err
	}
	for _, p := range paths {
		var size int64
		if fi, err := os.Stat(p); err == nil {
			size = fi.Size()
		}
		stats.AddFile(uint64(size))
	}
	stats.AddRows(uint64(len(tbl.Records)))
	log.Info("loaded", zap.Int("files", len(paths)), zap.Int("rows", len(tbl.Records)))

	norm, err := pipeline.NewNormalizer(climateSchema)
	if err != nil {
		return nil, err
	}
	if err := norm.Validate(tbl.Header); err != nil {
		return nil, errors.Wrap(err, tbl.Source)
	}

	records := tbl.Records
	if opts.SkipBlank {
		var blank int
		records, blank = dropBlank(records, solar.ClimateMeanTemp)
		stats.AddFiltered(uint64(blank))
		if blank > 0 {
			log.Info("skipped blank days", zap.Int("rows", blank))
		}
	}

	monthly, dropped, err := pipeline.Run(records, norm, opts.Filter, pipeline.Spec{
		Granularity: pipeline.Month,
		Measure:     solar.ColMeanTemp,
		Op:          pipeline.Mean,
	})
	if err != nil {
		return nil, err
	}
	stats.AddFiltered(uint64(dropped))
	return monthly, nil
}

// dropBlank removes records whose column is empty and reports how many.
func dropBlank(records []pipeline.RawRecord, column string) ([]pipeline.RawRecord, int) {
	kept := make([]pipeline.RawRecord, 0, len(records))
	for _, r := range records {
		if strings.TrimSpace(r.Fields[column]) != "" {
			kept = append(kept, r)
		}
	}
	return kept, len(records) - len(kept)
}

// monthRows renders the series newest month first, each month keyed by its
// first day.
func monthRows(s *pipeline.AggregatedSeries) [][]string {
	sorted := s.Sorted()
	rows := make([][]string, 0, len(sorted))
	for i := len(sorted) - 1; i >= 0; i-- {
		bv := sorted[i]
		rows = append(rows, []string{bv.Bucket.Key.String(), strconv.FormatFloat(bv.Value, 'f', -1, 64)})
	}
	return rows
}
