package pipeline

import (
	"fmt"

	"github.com/go-faster/errors"
)

var (
	// ErrUsage is returned by tools invoked without their required arguments.
	ErrUsage = errors.New("usage")

	// ErrEmptyJoin marks a reconciliation with no common buckets.
	ErrEmptyJoin = errors.New("no overlapping buckets")

	// ErrInvalidRatio marks a joined row whose denominator is zero.
	ErrInvalidRatio = errors.New("invalid ratio: zero denominator")

	// ErrNoValidRatio marks a non-empty join in which every row is invalid.
	ErrNoValidRatio = errors.New("no valid ratios")

	// ErrNonFinite marks a bucket whose reduced value overflows float64.
	ErrNonFinite = errors.New("value out of float64 range")
)

// ParseError reports a timestamp or numeric cell that does not match the
// declared format. The pipeline aborts on the first one.
type ParseError struct {
	Source string
	Row    int
	Column string
	Value  string
	Err    error
}

func (e *ParseError) Error() string {
	loc := e.Source
	if loc == "" {
		loc = "input"
	}
	return fmt.Sprintf("%s row %d: column %q: cannot parse %q: %v", loc, e.Row, e.Column, e.Value, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

func parseErr(r RawRecord, column, value string, err error) *ParseError {
	return &ParseError{
		Source: r.Source,
		Row:    r.Row,
		Column: column,
		Value:  value,
		Err:    err,
	}
}
