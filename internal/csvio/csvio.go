// Package csvio reads and writes the header-first CSV files the tools
// exchange. Paths ending in .gz are transparently (de)compressed.
package csvio

import (
	"bytes"
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/go-faster/errors"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/pgzip"

	"github.com/KI7MT/ki7mt-irradiance/internal/pipeline"
)

const (
	// ReadBlockSize is the pgzip block size for compressed inputs.
	ReadBlockSize = 256 * 1024
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Table is a parsed CSV file: its header and one RawRecord per data row.
type Table struct {
	Source  string
	Header  []string
	Records []pipeline.RawRecord
}

// Rows returns the records as cell slices ordered by Header.
func (t *Table) Rows() [][]string {
	rows := make([][]string, len(t.Records))
	for i, r := range t.Records {
		row := make([]string, len(t.Header))
		for j, h := range t.Header {
			row[j] = r.Fields[h]
		}
		rows[i] = row
	}
	return rows
}

// Open returns a reader over path, decompressing .gz files with pgzip.
func Open(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	if !strings.HasSuffix(path, ".gz") {
		return f, nil
	}
	gz, err := pgzip.NewReaderN(f, ReadBlockSize, runtime.NumCPU())
	if err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "gzip %s", path)
	}
	return &gzipFile{Reader: gz, f: f}, nil
}

type gzipFile struct {
	*pgzip.Reader
	f *os.File
}

func (g *gzipFile) Close() error {
	gzErr := g.Reader.Close()
	if err := g.f.Close(); err != nil {
		return err
	}
	return gzErr
}

// ReadFile parses one CSV file.
func ReadFile(path string) (*Table, error) {
	rc, err := Open(path)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return Read(rc, filepath.Base(path))
}

// Read parses header-first CSV from r. Every data row must have as many
// cells as the header; the record carries source and its 1-based row.
func Read(r io.Reader, source string) (*Table, error) {
	cr := csv.NewReader(r)
	cr.LazyQuotes = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, errors.Errorf("%s: empty file", source)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "%s: header", source)
	}
	header = cleanHeader(header)

	t := &Table{Source: source, Header: header}
	for row := 1; ; row++ {
		cells, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "%s: row %d", source, row)
		}
		fields := make(map[string]string, len(header))
		for i, h := range header {
			fields[h] = cells[i]
		}
		t.Records = append(t.Records, pipeline.RawRecord{Source: source, Row: row, Fields: fields})
	}
	return t, nil
}

// ReadBytes parses CSV held in memory.
func ReadBytes(data []byte, source string) (*Table, error) {
	return Read(bytes.NewReader(data), source)
}

func cleanHeader(header []string) []string {
	out := make([]string, len(header))
	for i, h := range header {
		if i == 0 {
			h = string(bytes.TrimPrefix([]byte(h), utf8BOM))
		}
		out[i] = strings.TrimSpace(h)
	}
	return out
}

// Expand resolves glob patterns into a sorted, de-duplicated path list.
// A pattern without glob metacharacters is kept as is; a glob that
// matches nothing is an error.
func Expand(patterns []string) ([]string, error) {
	seen := make(map[string]bool)
	var out []string
	for _, p := range patterns {
		if !strings.ContainsAny(p, "*?[") {
			if !seen[p] {
				seen[p] = true
				out = append(out, p)
			}
			continue
		}
		matches, err := filepath.Glob(p)
		if err != nil {
			return nil, errors.Wrapf(err, "glob %q", p)
		}
		if len(matches) == 0 {
			return nil, errors.Errorf("no files match %q", p)
		}
		sort.Strings(matches)
		for _, m := range matches {
			if !seen[m] {
				seen[m] = true
				out = append(out, m)
			}
		}
	}
	return out, nil
}

// Concat stacks tables vertically. All tables must share the first one's
// header, in the same order.
func Concat(tables []*Table) (*Table, error) {
	if len(tables) == 0 {
		return nil, errors.New("concat: no tables")
	}
	out := &Table{Source: tables[0].Source, Header: tables[0].Header}
	for _, t := range tables {
		if !sameHeader(out.Header, t.Header) {
			return nil, errors.Errorf("concat: %s header %q does not match %s header %q",
				t.Source, t.Header, tables[0].Source, out.Header)
		}
		out.Records = append(out.Records, t.Records...)
	}
	return out, nil
}

func sameHeader(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// ReadAll expands patterns, reads every file and concatenates them.
func ReadAll(patterns []string) (*Table, []string, error) {
	paths, err := Expand(patterns)
	if err != nil {
		return nil, nil, err
	}
	tables := make([]*Table, 0, len(paths))
	for _, p := range paths {
		t, err := ReadFile(p)
		if err != nil {
			return nil, nil, err
		}
		tables = append(tables, t)
	}
	t, err := Concat(tables)
	return t, paths, err
}

// Write emits header then rows as CSV.
func Write(w io.Writer, header []string, rows [][]string) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return err
	}
	if err := cw.WriteAll(rows); err != nil {
		return err
	}
	return cw.Error()
}

// WriteFile writes CSV to path via a temp file and atomic rename,
// gzip-compressing when path ends in .gz.
func WriteFile(path string, header []string, rows [][]string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.Wrap(err, "create directory")
	}

	tmpPath := path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return errors.Wrap(err, "create file failed")
	}

	var w io.Writer = f
	var gz *gzip.Writer
	if strings.HasSuffix(path, ".gz") {
		gz = gzip.NewWriter(f)
		w = gz
	}

	err = Write(w, header, rows)
	if gz != nil {
		if cerr := gz.Close(); err == nil {
			err = cerr
		}
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmpPath)
		return errors.Wrap(err, "write failed")
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return errors.Wrap(err, "rename failed")
	}
	return nil
}
