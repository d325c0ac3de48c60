package chstore

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"cloud.google.com/go/civil"
	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/KI7MT/ki7mt-irradiance/internal/pipeline"
	"github.com/KI7MT/ki7mt-irradiance/internal/solar"
)

// Source reads meter data from ClickHouse as RawRecords, so it flows through
// the same Normalizer as CSV input.
type Source struct {
	conn driver.Conn
	opts Options
	log  *zap.Logger
}

// Open connects and pings the server.
func Open(ctx context.Context, opts Options) (*Source, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{opts.Address},
		Auth: clickhouse.Auth{
			Database: opts.Database,
			Username: opts.User,
			Password: opts.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 300,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
		DialTimeout:     10 * time.Second,
		MaxOpenConns:    2,
		MaxIdleConns:    1,
		ConnMaxLifetime: time.Hour,
	})
	if err != nil {
		return nil, errors.Wrap(err, "ClickHouse connection failed")
	}
	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "ClickHouse ping failed")
	}
	return &Source{conn: conn, opts: opts, log: log}, nil
}

// GenerationQuery selects meter readings at or after its one parameter,
// rendering the timestamp in the YYYY-MM-DD HH:MM:SS layout the Normalizer expects.
// The aliases differ from the column names so WHERE and ORDER BY still see the
// raw DateTime column rather than the formatted string.
func GenerationQuery(tableFQN, timeColumn, valueColumn string) string {
	return fmt.Sprintf(
		"SELECT formatDateTime(%[2]s, '%%Y-%%m-%%d %%H:%%i:%%S') AS ts, toFloat64(%[3]s) AS kwh FROM %[1]s WHERE %[2]s >= ? ORDER BY %[2]s",
		tableFQN, quoteIdent(timeColumn), quoteIdent(valueColumn),
	)
}

func quoteIdent(s string) string {
	return "`" + s + "`"
}

// Generation returns one RawRecord per meter reading at or after since (all
// readings when since is the zero Date). Fields use the canonical
// solar.ColTime and solar.ColKWh names.
func (s *Source) Generation(ctx context.Context, timeColumn, valueColumn string, since civil.Date) ([]pipeline.RawRecord, error) {
	tableFQN := s.opts.TableFQN()
	query := GenerationQuery(tableFQN, timeColumn, valueColumn)

	from := time.Unix(0, 0).UTC()
	if since.IsValid() {
		from = since.In(time.UTC)
	}
	rows, err := s.conn.Query(ctx, query, from)
	if err != nil {
		return nil, errors.Wrapf(err, "query %s", tableFQN)
	}
	defer rows.Close()

	var out []pipeline.RawRecord
	for rows.Next() {
		var ts string
		var kwh float64
		if err := rows.Scan(&ts, &kwh); err != nil {
			return nil, errors.Wrapf(err, "scan row %d", len(out)+1)
		}
		out = append(out, pipeline.RawRecord{
			Source: tableFQN,
			Row:    len(out) + 1,
			Fields: map[string]string{
				solar.ColTime: ts,
				solar.ColKWh:  strconv.FormatFloat(kwh, 'f', -1, 64),
			},
		})
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "read rows")
	}
	s.log.Info("loaded generation", zap.String("table", tableFQN), zap.Int("rows", len(out)))
	return out, nil
}

// Close closes the connection.
func (s *Source) Close() error {
	return s.conn.Close()
}
