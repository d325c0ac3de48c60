package pipeline

import (
	"math"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/go-faster/errors"
)

// DateLayout declares how a source encodes its timestamp.
type DateLayout int

const (
	// LayoutDate keeps the first 10 characters and parses them as YYYY-MM-DD.
	// Anything after the tenth character is discarded unvalidated.
	LayoutDate DateLayout = iota
	// LayoutDateTime parses YYYY-MM-DD HH:MM:SS.
	LayoutDateTime
	// LayoutYMD assembles separate integer year, month and day columns.
	LayoutYMD
)

const (
	dateLayout     = "2006-01-02"
	dateTimeLayout = "2006-01-02 15:04:05"
	dateOnlyLen    = len(dateLayout)
)

var layoutNames = map[DateLayout]string{
	LayoutDate:     "date",
	LayoutDateTime: "datetime",
	LayoutYMD:      "ymd",
}

func (l DateLayout) String() string {
	if s, ok := layoutNames[l]; ok {
		return s
	}
	return "DateLayout(" + strconv.Itoa(int(l)) + ")"
}

// Schema is the static mapping from a source's columns to the canonical
// vocabulary. Column fields name canonical (post-rename) columns.
type Schema struct {
	Rename map[string]string // Raw header -> canonical name
	Layout DateLayout

	DateColumn  string // LayoutDate and LayoutDateTime
	YearColumn  string // LayoutYMD
	MonthColumn string // LayoutYMD
	DayColumn   string // LayoutYMD

	Measure string // Canonical measurement column; empty for date-only use
}

// Normalizer turns RawRecords into NormalizedRecords under one Schema.
type Normalizer struct {
	schema Schema
	raw    map[string]string // canonical -> raw header
}

// NewNormalizer validates the schema and precomputes the rename lookup.
func NewNormalizer(s Schema) (*Normalizer, error) {
	switch s.Layout {
	case LayoutDate, LayoutDateTime:
		if s.DateColumn == "" {
			return nil, errors.Errorf("%s layout requires a date column", s.Layout)
		}
	case LayoutYMD:
		if s.YearColumn == "" || s.MonthColumn == "" || s.DayColumn == "" {
			return nil, errors.New("ymd layout requires year, month and day columns")
		}
	default:
		return nil, errors.Errorf("unsupported layout %s", s.Layout)
	}

	raw := make(map[string]string, len(s.Rename))
	for from, to := range s.Rename {
		if prev, dup := raw[to]; dup {
			return nil, errors.Errorf("columns %q and %q both rename to %q", prev, from, to)
		}
		raw[to] = from
	}
	return &Normalizer{schema: s, raw: raw}, nil
}

// Columns lists the canonical columns a source must provide.
func (n *Normalizer) Columns() []string {
	var cols []string
	if n.schema.Layout == LayoutYMD {
		cols = append(cols, n.schema.YearColumn, n.schema.MonthColumn, n.schema.DayColumn)
	} else {
		cols = append(cols, n.schema.DateColumn)
	}
	if n.schema.Measure != "" {
		cols = append(cols, n.schema.Measure)
	}
	return cols
}

// Validate checks once, against a source header, that every column the
// schema needs is present after renaming.
func (n *Normalizer) Validate(header []string) error {
	have := make(map[string]bool, len(header))
	for _, h := range header {
		have[h] = true
	}
	for _, col := range n.Columns() {
		if !have[n.rawName(col)] {
			return errors.Errorf("missing column %q (source header %q)", col, n.rawName(col))
		}
	}
	return nil
}

func (n *Normalizer) rawName(canonical string) string {
	if from, ok := n.raw[canonical]; ok {
		return from
	}
	return canonical
}

func (n *Normalizer) field(r RawRecord, canonical string) (string, bool) {
	v, ok := r.Fields[n.rawName(canonical)]
	return v, ok
}

// Normalize parses one record. It never drops a row: any cell that does not
// match the declared format yields a *ParseError.
func (n *Normalizer) Normalize(r RawRecord) (NormalizedRecord, error) {
	var out NormalizedRecord
	var err error

	switch n.schema.Layout {
	case LayoutDate:
		out.Date, err = n.parseDate(r)
	case LayoutDateTime:
		out.At, err = n.parseDateTime(r)
		out.Date = out.At.Date
		out.HasTime = true
	case LayoutYMD:
		out.Date, err = n.assembleDate(r)
	}
	if err != nil {
		return NormalizedRecord{}, err
	}

	if n.schema.Measure != "" {
		out.Measure = n.schema.Measure
		if out.Value, err = n.parseValue(r); err != nil {
			return NormalizedRecord{}, err
		}
	}
	return out, nil
}

// NormalizeAll normalizes every record, aborting on the first failure.
func (n *Normalizer) NormalizeAll(records []RawRecord) ([]NormalizedRecord, error) {
	out := make([]NormalizedRecord, 0, len(records))
	for _, r := range records {
		nr, err := n.Normalize(r)
		if err != nil {
			return nil, err
		}
		out = append(out, nr)
	}
	return out, nil
}

// NormalizeDate parses only the date of a record; the concat tool uses it
// to rewrite the date column while passing every other cell through.
func (n *Normalizer) NormalizeDate(r RawRecord) (civil.Date, error) {
	switch n.schema.Layout {
	case LayoutDateTime:
		dt, err := n.parseDateTime(r)
		return dt.Date, err
	case LayoutYMD:
		return n.assembleDate(r)
	default:
		return n.parseDate(r)
	}
}

func (n *Normalizer) parseDate(r RawRecord) (civil.Date, error) {
	col := n.schema.DateColumn
	s, ok := n.field(r, col)
	if !ok {
		return civil.Date{}, parseErr(r, col, "", errors.New("column missing"))
	}
	d, err := ParseDate(s)
	if err != nil {
		return civil.Date{}, parseErr(r, col, s, err)
	}
	return d, nil
}

func (n *Normalizer) parseDateTime(r RawRecord) (civil.DateTime, error) {
	col := n.schema.DateColumn
	s, ok := n.field(r, col)
	if !ok {
		return civil.DateTime{}, parseErr(r, col, "", errors.New("column missing"))
	}
	dt, err := ParseDateTime(s)
	if err != nil {
		return civil.DateTime{}, parseErr(r, col, s, err)
	}
	return dt, nil
}

func (n *Normalizer) assembleDate(r RawRecord) (civil.Date, error) {
	var parts [3]int
	cols := [3]string{n.schema.YearColumn, n.schema.MonthColumn, n.schema.DayColumn}
	for i, col := range cols {
		s, ok := n.field(r, col)
		if !ok {
			return civil.Date{}, parseErr(r, col, "", errors.New("column missing"))
		}
		v, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil {
			return civil.Date{}, parseErr(r, col, s, err)
		}
		parts[i] = v
	}
	d := civil.Date{Year: parts[0], Month: time.Month(parts[1]), Day: parts[2]}
	if !d.IsValid() {
		v := strconv.Itoa(parts[0]) + "-" + strconv.Itoa(parts[1]) + "-" + strconv.Itoa(parts[2])
		return civil.Date{}, parseErr(r, n.schema.DayColumn, v, errors.New("not a calendar date"))
	}
	return d, nil
}

func (n *Normalizer) parseValue(r RawRecord) (float64, error) {
	col := n.schema.Measure
	s, ok := n.field(r, col)
	if !ok {
		return 0, parseErr(r, col, "", errors.New("column missing"))
	}
	v, err := ParseValue(s)
	if err != nil {
		return 0, parseErr(r, col, s, err)
	}
	return v, nil
}

// ParseDate truncates s to its first 10 characters and parses YYYY-MM-DD.
// Strings shorter than 10 characters are parsed whole.
func ParseDate(s string) (civil.Date, error) {
	if len(s) > dateOnlyLen {
		s = s[:dateOnlyLen]
	}
	return civil.ParseDate(s)
}

// ParseDateTime parses YYYY-MM-DD HH:MM:SS with no timezone conversion.
func ParseDateTime(s string) (civil.DateTime, error) {
	t, err := time.Parse(dateTimeLayout, s)
	if err != nil {
		return civil.DateTime{}, err
	}
	return civil.DateTimeOf(t), nil
}

// ParseValue parses a finite decimal measurement. Blank cells are errors.
func ParseValue(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.New("empty value")
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, errors.Errorf("non-finite value %v", v)
	}
	return v, nil
}
