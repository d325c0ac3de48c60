// Package pipeline implements the irradiance/generation reconciliation core.
//
// Data flows strictly forward:
//
//	RawRecord -> Normalizer -> Filter -> Aggregate -> Reconcile
//
// Every stage is a pure function of its inputs. Nothing here performs I/O;
// fetching and CSV handling live in the power and csvio packages.
package pipeline

import (
	"cloud.google.com/go/civil"
	"github.com/go-faster/errors"
)

// RawRecord is one ingested row, keyed by source header name.
type RawRecord struct {
	Source string            // File name or URL the row came from
	Row    int               // 1-based data row (header excluded)
	Fields map[string]string // Header name -> raw cell text
}

// NormalizedRecord is a RawRecord with its timestamp parsed into a calendar
// date and its measurement resolved under the canonical column name.
type NormalizedRecord struct {
	Date    civil.Date
	At      civil.DateTime // Zero unless the source carried a time of day
	HasTime bool
	Measure string  // Canonical measurement name, empty for date-only schemas
	Value   float64 // Parsed measurement, zero when Measure is empty
}

// Run composes Normalizer, Filter and Aggregate over one source and
// reports how many records the filter dropped. The date is parsed first and
// the filter applied to it, so measurement cells of dropped rows are never
// read; a malformed date anywhere still aborts the run.
func Run(records []RawRecord, n *Normalizer, f Filter, spec Spec) (*AggregatedSeries, int, error) {
	kept := make([]NormalizedRecord, 0, len(records))
	dropped := 0
	for _, r := range records {
		d, err := n.NormalizeDate(r)
		if err != nil {
			return nil, 0, err
		}
		if !f.Keep(d) {
			dropped++
			continue
		}
		nr, err := n.Normalize(r)
		if err != nil {
			return nil, 0, err
		}
		kept = append(kept, nr)
	}
	s, err := Aggregate(kept, spec)
	if err != nil {
		return nil, 0, err
	}
	return s, dropped, nil
}

// Filter is the only sanctioned way to drop normalized rows.
// Zero bounds are open; set bounds are inclusive.
type Filter struct {
	Since civil.Date
	Until civil.Date
}

// Keep reports whether d falls inside the filter bounds.
func (f Filter) Keep(d civil.Date) bool {
	if f.Since != (civil.Date{}) && d.Before(f.Since) {
		return false
	}
	if f.Until != (civil.Date{}) && d.After(f.Until) {
		return false
	}
	return true
}

// ApplySeries returns the buckets of s whose key falls inside the bounds
// and the number dropped. It lets a series loaded from a checkpoint be held
// to the same window as one aggregated from records.
func (f Filter) ApplySeries(s *AggregatedSeries) (*AggregatedSeries, int, error) {
	all := s.Sorted()
	kept := make([]BucketValue, 0, len(all))
	for _, bv := range all {
		if f.Keep(bv.Bucket.Key) {
			kept = append(kept, bv)
		}
	}
	out, err := NewSeriesFromBuckets(s.Granularity, s.Measure, s.Op, kept)
	if err != nil {
		return nil, 0, err
	}
	return out, len(all) - len(kept), nil
}

// ParseFilter builds a Filter from optional YYYY-MM-DD bounds.
func ParseFilter(since, until string) (Filter, error) {
	var f Filter
	var err error
	if since != "" {
		if f.Since, err = civil.ParseDate(since); err != nil {
			return Filter{}, errors.Wrapf(err, "invalid since %q", since)
		}
	}
	if until != "" {
		if f.Until, err = civil.ParseDate(until); err != nil {
			return Filter{}, errors.Wrapf(err, "invalid until %q", until)
		}
	}
	if f.Since != (civil.Date{}) && f.Until != (civil.Date{}) && f.Until.Before(f.Since) {
		return Filter{}, errors.Errorf("until %s is before since %s", f.Until, f.Since)
	}
	return f, nil
}
