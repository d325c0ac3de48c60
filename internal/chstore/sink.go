// Package chstore moves reconciliation data in and out of ClickHouse.
//
// Writes use the ch-go native protocol with columnar batches; reads use
// clickhouse-go/v2, whose row scanning suits the small query results.
package chstore

import (
	"context"
	"fmt"
	"math"
	"time"

	"cloud.google.com/go/civil"
	"github.com/ClickHouse/ch-go"
	"github.com/ClickHouse/ch-go/proto"
	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/KI7MT/ki7mt-irradiance/internal/solar"
)

// BatchLimit is the row count at which Sink.Write flushes.
const BatchLimit = 50_000

// Options configure a ClickHouse connection.
type Options struct {
	Address  string
	Database string
	Table    string
	User     string
	Password string
	Site     string
	Logger   *zap.Logger
}

// TableFQN returns database.table.
func (o Options) TableFQN() string {
	return fmt.Sprintf("%s.%s", o.Database, o.Table)
}

// ReadingBatch holds column data for native insert.
type ReadingBatch struct {
	Date       *proto.ColDate32
	Generation *proto.ColFloat64
	Irradiance *proto.ColFloat64
	Ratio      *proto.ColFloat64
	Valid      *proto.ColBool
	Site       *proto.ColStr
}

func NewReadingBatch() *ReadingBatch {
	return &ReadingBatch{
		Date:       new(proto.ColDate32),
		Generation: new(proto.ColFloat64),
		Irradiance: new(proto.ColFloat64),
		Ratio:      new(proto.ColFloat64),
		Valid:      new(proto.ColBool),
		Site:       new(proto.ColStr),
	}
}

func (b *ReadingBatch) Reset() {
	b.Date.Reset()
	b.Generation.Reset()
	b.Irradiance.Reset()
	b.Ratio.Reset()
	b.Valid.Reset()
	b.Site.Reset()
}

func (b *ReadingBatch) Len() int {
	return b.Date.Rows()
}

func (b *ReadingBatch) Input() proto.Input {
	return proto.Input{
		{Name: "date", Data: b.Date},
		{Name: "generation_kwh", Data: b.Generation},
		{Name: "irradiance_kwh_m2", Data: b.Irradiance},
		{Name: "ratio", Data: b.Ratio},
		{Name: "valid", Data: b.Valid},
		{Name: "site", Data: b.Site},
	}
}

// Add appends one reading. Invalid ratios are stored as 0 with valid=false
// since the column is not Nullable.
func (b *ReadingBatch) Add(r solar.Reading, site string) error {
	d, err := civil.ParseDate(r.Date)
	if err != nil {
		return errors.Wrapf(err, "reading date %q", r.Date)
	}
	ratio := r.Ratio
	if !r.Valid || math.IsNaN(ratio) {
		ratio = 0
	}
	b.Date.Append(d.In(time.UTC))
	b.Generation.Append(r.Generation)
	b.Irradiance.Append(r.Irradiance)
	b.Ratio.Append(ratio)
	b.Valid.Append(r.Valid)
	b.Site.Append(site)
	return nil
}

func (b *ReadingBatch) insertQuery(tableFQN string) string {
	return fmt.Sprintf("INSERT INTO %s (date, generation_kwh, irradiance_kwh_m2, ratio, valid, site) VALUES", tableFQN)
}

// Sink writes reconciled readings over the native protocol.
type Sink struct {
	conn *ch.Client
	opts Options
	log  *zap.Logger
}

// Dial connects to ClickHouse with LZ4 compression.
func Dial(ctx context.Context, opts Options) (*Sink, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	conn, err := ch.Dial(ctx, ch.Options{
		Address:     opts.Address,
		Database:    opts.Database,
		User:        opts.User,
		Password:    opts.Password,
		Compression: ch.CompressionLZ4,
		Logger:      log.Named("ch"),
	})
	if err != nil {
		return nil, errors.Wrap(err, "ClickHouse connection failed")
	}
	return &Sink{conn: conn, opts: opts, log: log}, nil
}

// EnsureTable creates the readings table if it does not exist.
func (s *Sink) EnsureTable(ctx context.Context) error {
	body := fmt.Sprintf(solar.ReconciledDDL, s.opts.TableFQN())
	if err := s.conn.Do(ctx, ch.Query{Body: body}); err != nil {
		return errors.Wrap(err, "create table")
	}
	return nil
}

// Write inserts readings in batches of BatchLimit rows.
func (s *Sink) Write(ctx context.Context, readings []solar.Reading) (int, error) {
	batch := NewReadingBatch()
	tableFQN := s.opts.TableFQN()
	inserted := 0

	flush := func() error {
		if batch.Len() == 0 {
			return nil
		}
		if err := s.conn.Do(ctx, ch.Query{
			Body:  batch.insertQuery(tableFQN),
			Input: batch.Input(),
		}); err != nil {
			return errors.Wrapf(err, "insert at row %d", inserted)
		}
		inserted += batch.Len()
		s.log.Debug("inserted", zap.Int("rows", inserted), zap.String("table", tableFQN))
		batch.Reset()
		return nil
	}

	for _, r := range readings {
		if err := batch.Add(r, s.opts.Site); err != nil {
			return inserted, err
		}
		if batch.Len() >= BatchLimit {
			if err := flush(); err != nil {
				return inserted, err
			}
		}
	}
	if err := flush(); err != nil {
		return inserted, err
	}
	return inserted, nil
}

// Close closes the connection.
func (s *Sink) Close() error {
	return s.conn.Close()
}
