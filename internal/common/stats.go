package common

import (
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Stats holds counters for one tool run.
type Stats struct {
	FilesRead    uint64 // Input files or HTTP responses consumed
	BytesRead    uint64 // Raw bytes consumed
	RowsRead     uint64 // Raw records parsed from CSV
	RowsFiltered uint64 // Rows dropped by an explicit filter
	RowsWritten  uint64 // Rows written to the primary output

	start time.Time
}

// NewStats creates a Stats instance whose clock starts now.
func NewStats() *Stats {
	return &Stats{start: time.Now()}
}

// AddFile counts one consumed input of n bytes.
func (s *Stats) AddFile(n uint64) {
	atomic.AddUint64(&s.FilesRead, 1)
	atomic.AddUint64(&s.BytesRead, n)
}

// AddRows increments the rows read counter.
func (s *Stats) AddRows(n uint64) { atomic.AddUint64(&s.RowsRead, n) }

// AddFiltered increments the filtered rows counter.
func (s *Stats) AddFiltered(n uint64) { atomic.AddUint64(&s.RowsFiltered, n) }

// AddWritten increments the rows written counter.
func (s *Stats) AddWritten(n uint64) { atomic.AddUint64(&s.RowsWritten, n) }

// Elapsed returns the time since NewStats.
func (s *Stats) Elapsed() time.Duration { return time.Since(s.start) }

// Log prints the "Final Statistics" block.
func (s *Stats) Log(log *zap.Logger) {
	elapsed := s.Elapsed()
	rows := atomic.LoadUint64(&s.RowsRead)

	log.Info("")
	Banner(log, "Final Statistics")
	log.Info("files", zap.Uint64("read", atomic.LoadUint64(&s.FilesRead)), zap.Uint64("bytes", atomic.LoadUint64(&s.BytesRead)))
	log.Info("rows",
		zap.Uint64("read", rows),
		zap.Uint64("filtered", atomic.LoadUint64(&s.RowsFiltered)),
		zap.Uint64("written", atomic.LoadUint64(&s.RowsWritten)),
	)
	log.Info("elapsed", zap.Duration("elapsed", elapsed.Round(time.Millisecond)))
	if secs := elapsed.Seconds(); secs > 0 {
		log.Info("rate", zap.Float64("rows_per_sec", float64(rows)/secs))
	}
	Rule(log)
}
