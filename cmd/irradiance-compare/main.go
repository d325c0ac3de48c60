// irradiance-compare - Reconcile metered generation against irradiance
//
// Joins daily generation totals with daily irradiance, writes the per-day
// Generation_to_Irradiance_Ratio and reports the sanity-check extrapolation:
//
//	estimated = mean(ratio) * sum(irradiance)   vs   actual = sum(generation)
//
// Generation comes from a CSV export (time,kWh) or a ClickHouse table.
//
// Build: CGO_ENABLED=0 go build -ldflags="-s -w" -o build/irradiance-compare ./cmd/irradiance-compare

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"math"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/KI7MT/ki7mt-irradiance/internal/checkpoint"
	"github.com/KI7MT/ki7mt-irradiance/internal/chstore"
	"github.com/KI7MT/ki7mt-irradiance/internal/common"
	"github.com/KI7MT/ki7mt-irradiance/internal/csvio"
	"github.com/KI7MT/ki7mt-irradiance/internal/pipeline"
	"github.com/KI7MT/ki7mt-irradiance/internal/solar"
)

// Version can be overridden at build time via -ldflags
var Version = "1.0.0"

var outputHeader = []string{
	solar.ColDate,
	solar.ColGeneration,
	solar.ColIrradiance,
	solar.ColRatio,
	solar.ColValid,
}

type options struct {
	Irradiance  []string
	IrrParquet  string
	Generation  []string
	TimeColumn  string
	ValueColumn string
	Filter      pipeline.Filter
	Since       string
	Out         string
	Parquet     string
	CHAddr      string
	CHSource    string
	CHSink      string
	Site        string
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

	os.Exit(run(ctx, cfg, os.Args[1:], os.Stdout, os.Stderr, log))
}

func parseFlags(cfg *common.Config, args []string, stderr io.Writer) (options, error) {
	fs := flag.NewFlagSet("irradiance-compare", flag.ContinueOnError)
	fs.SetOutput(stderr)

	siteFile := fs.String("site", "", "YAML site file (generation columns and since date)")
	irradiance := fs.String("irradiance", filepath.Join(cfg.IrradianceDataDir(), "nasa_power_irradiance_*.csv"), "Irradiance CSV file or glob")
	irrParquet := fs.String("irradiance-parquet", "", "Read the daily irradiance series from an irradiance-download -parquet checkpoint instead of CSV")
	generation := fs.String("generation", "", "Generation CSV file or glob (time,kWh)")
	timeColumn := fs.String("time-column", "", "Generation timestamp column (default from site)")
	valueColumn := fs.String("value-column", "", "Generation energy column (default from site)")
	since := fs.String("since", "", "Keep days on or after YYYY-MM-DD (default from site)")
	until := fs.String("until", "", "Keep days on or before YYYY-MM-DD")
	out := fs.String("out", "", "Reconciled CSV path (default stdout, .gz compresses)")
	parquetPath := fs.String("parquet", "", "Also write reconciled rows as parquet")
	chHost := fs.String("ch-host", cfg.ClickHouseAddr(), "ClickHouse host:port")
	chSource := fs.String("ch-source", "", "Read generation from this ClickHouse table instead of CSV")
	chSink := fs.String("ch-sink", "", "Write reconciled rows to this ClickHouse table")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "irradiance-compare v%s - Generation vs Irradiance Reconciler\n\n", Version)
		fmt.Fprintf(stderr, "Usage: irradiance-compare [OPTIONS] -generation <file.csv>\n")
		fmt.Fprintf(stderr, "       irradiance-compare [OPTIONS] -ch-source <table>\n\n")
		fs.PrintDefaults()
		fmt.Fprintf(stderr, "\nEnvironment: CLICKHOUSE_HOST, CLICKHOUSE_PORT, CLICKHOUSE_DATABASE, CLICKHOUSE_USER,\n")
		fmt.Fprintf(stderr, "             CLICKHOUSE_PASSWORD, IRRADIANCE_DATA_DIR, LOG_LEVEL\n")
	}

	if err := fs.Parse(args); err != nil {
		return options{}, errors.Wrap(pipeline.ErrUsage, err.Error())
	}
	if (*generation == "") == (*chSource == "") {
		fs.Usage()
		return options{}, errors.Wrap(pipeline.ErrUsage, "exactly one of -generation or -ch-source is required")
	}

	site, err := common.LoadSite(*siteFile)
	if err != nil {
		return options{}, err
	}
	opts := options{
		Irradiance:  []string{*irradiance},
		IrrParquet:  *irrParquet,
		TimeColumn:  firstNonEmpty(*timeColumn, site.Generation.TimeColumn),
		ValueColumn: firstNonEmpty(*valueColumn, site.Generation.ValueColumn),
		Since:       firstNonEmpty(*since, site.Generation.Since),
		Out:         *out,
		Parquet:     *parquetPath,
		CHAddr:      *chHost,
		CHSource:    *chSource,
		CHSink:      *chSink,
		Site:        site.Name,
	}
	if *generation != "" {
		opts.Generation = []string{*generation}
	}
	if opts.Filter, err = pipeline.ParseFilter(opts.Since, *until); err != nil {
		return options{}, err
	}
	return opts, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func run(ctx context.Context, cfg *common.Config, args []string, stdout, stderr io.Writer, log *zap.Logger) int {
	opts, err := parseFlags(cfg, args, stderr)
	if err != nil {
		if !errors.Is(err, pipeline.ErrUsage) {
			fmt.Fprintf(stderr, "Error: %v\n", err)
		}
		return 1
	}

	common.Banner(log, fmt.Sprintf("Irradiance Compare v%s", Version))
	log.Info("settings",
		zap.Strings("irradiance", opts.Irradiance),
		zap.Strings("generation", opts.Generation),
		zap.String("ch_source", opts.CHSource),
		zap.String("since", opts.Since),
	)

	stats := common.NewStats()
	r, err := compare(ctx, cfg, opts, stats, log)
	if err != nil {
		log.Error("compare failed", zap.Error(err))
		return 1
	}

	if err := writeOutputs(ctx, cfg, opts, r, stdout, stats, log); err != nil {
		log.Error("write failed", zap.Error(err))
		return 1
	}

	logSummary(log, r)
	stats.Log(log)
	return 0
}

// compare builds both daily series and reconciles generation against
// irradiance.
func compare(ctx context.Context, cfg *common.Config, opts options, stats *common.Stats, log *zap.Logger) (*pipeline.Reconciliation, error) {
	irradiance, err := irradianceSeries(opts, stats)
	if err != nil {
		return nil, errors.Wrap(err, "irradiance")
	}

	genRecords, schema, err := readGeneration(ctx, cfg, opts, stats, log)
	if err != nil {
		return nil, errors.Wrap(err, "generation")
	}
	generation, err := dailySeries(genRecords, schema, opts.Filter, stats)
	if err != nil {
		return nil, errors.Wrap(err, "generation")
	}

	log.Info("series",
		zap.Int("generation_days", generation.Len()),
		zap.Int("irradiance_days", irradiance.Len()),
	)
	return pipeline.Reconcile(generation, irradiance)
}

func readCSV(patterns []string, stats *common.Stats) ([]pipeline.RawRecord, error) {
	tbl, paths, err := csvio.ReadAll(patterns)
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
	return tbl.Records, nil
}

// readGeneration loads meter readings and returns the schema that
// normalizes them.
func readGeneration(ctx context.Context, cfg *common.Config, opts options, stats *common.Stats, log *zap.Logger) ([]pipeline.RawRecord, pipeline.Schema, error) {
	schema := pipeline.Schema{
		Layout:     pipeline.LayoutDateTime,
		DateColumn: solar.ColTime,
		Measure:    solar.ColKWh,
	}

	if opts.CHSource == "" {
		schema.Rename = map[string]string{
			opts.TimeColumn:  solar.ColTime,
			opts.ValueColumn: solar.ColKWh,
		}
		records, err := readCSV(opts.Generation, stats)
		return records, schema, err
	}

	src, err := chstore.Open(ctx, chOptions(cfg, opts, opts.CHSource, log))
	if err != nil {
		return nil, schema, err
	}
	defer src.Close()

	records, err := src.Generation(ctx, opts.TimeColumn, opts.ValueColumn, opts.Filter.Since)
	if err != nil {
		return nil, schema, err
	}
	stats.AddFile(0)
	stats.AddRows(uint64(len(records)))
	return records, schema, nil
}

func chOptions(cfg *common.Config, opts options, table string, log *zap.Logger) chstore.Options {
	return chstore.Options{
		Address:  opts.CHAddr,
		Database: cfg.ClickHouseDatabase,
		Table:    table,
		User:     cfg.ClickHouseUser,
		Password: cfg.ClickHousePassword,
		Site:     opts.Site,
		Logger:   log,
	}
}

// dailySeries normalizes, filters and sums records per day.
func dailySeries(records []pipeline.RawRecord, schema pipeline.Schema, f pipeline.Filter, stats *common.Stats) (*pipeline.AggregatedSeries, error) {
	norm, err := pipeline.NewNormalizer(schema)
	if err != nil {
		return nil, err
	}
	s, dropped, err := pipeline.Run(records, norm, f, pipeline.Spec{
		Granularity: pipeline.Day,
		Measure:     schema.Measure,
		Op:          pipeline.Sum,
	})
	if err != nil {
		return nil, err
	}
	stats.AddFiltered(uint64(dropped))
	return s, nil
}

// irradianceSeries loads daily irradiance from CSV, or from a parquet
// checkpoint when one is given.
func irradianceSeries(opts options, stats *common.Stats) (*pipeline.AggregatedSeries, error) {
	if opts.IrrParquet == "" {
		records, err := readCSV(opts.Irradiance, stats)
		if err != nil {
			return nil, err
		}
		return dailySeries(records, pipeline.Schema{
			Layout:     pipeline.LayoutDate,
			DateColumn: solar.ColDate,
			Measure:    solar.ColIrradiance,
		}, opts.Filter, stats)
	}

	s, err := checkpoint.ReadSeries(opts.IrrParquet)
	if err != nil {
		return nil, err
	}
	if s.Granularity != pipeline.Day || s.Op != pipeline.Sum || s.Measure != solar.ColIrradiance {
		return nil, errors.Errorf("%s holds a %s %s of %q, want a day sum of %q",
			opts.IrrParquet, s.Granularity, s.Op, s.Measure, solar.ColIrradiance)
	}
	var size int64
	if fi, err := os.Stat(opts.IrrParquet); err == nil {
		size = fi.Size()
	}
	stats.AddFile(uint64(size))
	stats.AddRows(uint64(s.Len()))
	s, dropped, err := opts.Filter.ApplySeries(s)
	if err != nil {
		return nil, err
	}
	stats.AddFiltered(uint64(dropped))
	return s, nil
}

func reconciledRows(r *pipeline.Reconciliation) [][]string {
	rows := make([][]string, len(r.Rows))
	for i, row := range r.Rows {
		ratio := ""
		if row.Valid {
			ratio = formatFloat(row.Ratio)
		}
		rows[i] = []string{
			row.Bucket.String(),
			formatFloat(row.A),
			formatFloat(row.B),
			ratio,
			strconv.FormatBool(row.Valid),
		}
	}
	return rows
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func writeOutputs(ctx context.Context, cfg *common.Config, opts options, r *pipeline.Reconciliation, stdout io.Writer, stats *common.Stats, log *zap.Logger) error {
	rows := reconciledRows(r)
	if opts.Out == "" {
		if err := csvio.Write(stdout, outputHeader, rows); err != nil {
			return err
		}
	} else {
		if err := csvio.WriteFile(opts.Out, outputHeader, rows); err != nil {
			return err
		}
		log.Info("reconciled rows written", zap.String("path", opts.Out), zap.Int("rows", len(rows)))
	}
	stats.AddWritten(uint64(len(rows)))

	if opts.Parquet != "" {
		if err := checkpoint.WriteReconciledFile(opts.Parquet, r); err != nil {
			return err
		}
		log.Info("checkpoint written", zap.String("path", opts.Parquet))
	}

	if opts.CHSink != "" {
		sink, err := chstore.Dial(ctx, chOptions(cfg, opts, opts.CHSink, log))
		if err != nil {
			return err
		}
		defer sink.Close()
		if err := sink.EnsureTable(ctx); err != nil {
			return err
		}
		n, err := sink.Write(ctx, checkpoint.Readings(r))
		if err != nil {
			return err
		}
		log.Info("inserted", zap.Int("rows", n), zap.String("table", opts.CHSink))
	}
	return nil
}

func logSummary(log *zap.Logger, r *pipeline.Reconciliation) {
	s := r.Summary
	log.Info("")
	common.Banner(log, "Reconciliation Summary")
	log.Info("rows",
		zap.Int("joined", s.Rows),
		zap.Int("valid", s.ValidRows),
		zap.Int("invalid", s.InvalidRows),
	)
	if !s.HasData {
		log.Warn("no data", zap.Error(s.Err()))
		common.Rule(log)
		return
	}
	log.Info("mean ratio", zap.Float64("kwh_per_kwh_m2", s.MeanRatio))
	log.Info("total irradiance", zap.Float64("kwh_m2", s.SumB))
	log.Info("generation",
		zap.Float64("estimated_kwh", s.Estimated),
		zap.Float64("actual_kwh", s.Actual),
		zap.Float64("difference_kwh", s.Difference()),
	)
	if rel := s.RelativeError(); !math.IsNaN(rel) {
		log.Info("relative error", zap.String("percent", strconv.FormatFloat(rel*100, 'f', 2, 64)))
	}
	common.Rule(log)
}
