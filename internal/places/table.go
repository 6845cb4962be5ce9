// Package places reads and writes the place table: a CSV whose header names at
// least the name, address, lat and lng columns. Every other column is carried
// through untouched.
package places

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/UnknownOlympus/pinpoint/internal/models"
)

// Required column names.
const (
	ColumnName      = "name"
	ColumnAddress   = "address"
	ColumnLatitude  = "lat"
	ColumnLongitude = "lng"
)

var (
	ErrMissingColumn = errors.New("required column is missing")
	ErrEmptyInput    = errors.New("input has no header row")
)

const byteOrderMark = "\ufeff"

type columns struct {
	name, address, lat, lng int
}

func (c columns) width() int {
	return max(c.name, c.address, c.lat, c.lng) + 1
}

// Table is the whole input file held in memory.
type Table struct {
	Header []string
	Places []*Place
	cols   columns
}

// Place is a single data row. Its identity is its position in the table.
type Place struct {
	fields []string
	cols   columns
}

// Name returns the name field, trimmed of whitespace and surrounding quotes.
func (p *Place) Name() string {
	return cleanField(p.fields[p.cols.name])
}

// Address returns the address field, trimmed of whitespace and surrounding quotes.
func (p *Place) Address() string {
	return cleanField(p.fields[p.cols.address])
}

// HasCoordinates reports whether both lat and lng are already filled in.
func (p *Place) HasCoordinates() bool {
	return strings.TrimSpace(p.fields[p.cols.lat]) != "" && strings.TrimSpace(p.fields[p.cols.lng]) != ""
}

// SetCoordinates writes coords into lat and lng with six fractional digits.
func (p *Place) SetCoordinates(coords models.Coordinates) {
	p.fields[p.cols.lat] = models.FormatDegrees(coords.Latitude)
	p.fields[p.cols.lng] = models.FormatDegrees(coords.Longitude)
}

// Latitude returns the raw lat field.
func (p *Place) Latitude() string {
	return p.fields[p.cols.lat]
}

// Longitude returns the raw lng field.
func (p *Place) Longitude() string {
	return p.fields[p.cols.lng]
}

// Fields returns the row as it will be written.
func (p *Place) Fields() []string {
	return p.fields
}

func cleanField(s string) string {
	return strings.Trim(strings.TrimSpace(s), `"`)
}

// Read parses a place table. Rows may have any number of fields; rows too short
// to hold every required column are padded with empty fields.
func Read(r io.Reader) (*Table, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, ErrEmptyInput
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	header[0] = strings.TrimPrefix(header[0], byteOrderMark)

	cols, err := locateColumns(header)
	if err != nil {
		return nil, err
	}

	table := &Table{Header: header, cols: cols}
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read row %d: %w", len(table.Places)+1, err)
		}

		for len(record) < cols.width() {
			record = append(record, "")
		}
		table.Places = append(table.Places, &Place{fields: record, cols: cols})
	}

	return table, nil
}

func locateColumns(header []string) (columns, error) {
	index := make(map[string]int, len(header))
	for i, name := range header {
		if _, ok := index[name]; !ok {
			index[name] = i
		}
	}

	lookup := func(name string) (int, error) {
		i, ok := index[name]
		if !ok {
			return 0, fmt.Errorf("%w: %q", ErrMissingColumn, name)
		}
		return i, nil
	}

	var (
		cols columns
		errs []error
		err  error
	)
	if cols.name, err = lookup(ColumnName); err != nil {
		errs = append(errs, err)
	}
	if cols.address, err = lookup(ColumnAddress); err != nil {
		errs = append(errs, err)
	}
	if cols.lat, err = lookup(ColumnLatitude); err != nil {
		errs = append(errs, err)
	}
	if cols.lng, err = lookup(ColumnLongitude); err != nil {
		errs = append(errs, err)
	}

	return cols, errors.Join(errs...)
}

// ReadFile opens path and reads the place table from it.
func ReadFile(path string) (*Table, error) {
	file, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open input: %w", err)
	}
	defer file.Close()

	return Read(file)
}

// Write emits the header followed by every row.
func Write(w io.Writer, table *Table) error {
	writer := csv.NewWriter(w)

	if err := writer.Write(table.Header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	for i, place := range table.Places {
		if err := writer.Write(place.Fields()); err != nil {
			return fmt.Errorf("failed to write row %d: %w", i+1, err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("failed to flush output: %w", err)
	}

	return nil
}

// WriteFile creates or truncates path and writes table to it.
func WriteFile(path string, table *Table) (err error) {
	file, err := os.Create(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("failed to create output: %w", err)
	}
	defer func() {
		err = errors.Join(err, file.Close())
	}()

	return Write(file, table)
}
