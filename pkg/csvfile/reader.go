package csvfile

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
)

// ErrColumnNotFound is returned when a requested column is not in the header.
var ErrColumnNotFound = errors.New("column not found")

// Stream reads the header of r and calls fn for every following row. Every
// row must have as many fields as the header. An empty input has no header
// and no rows.
func Stream(r io.Reader, fn func(row []string) error) ([]string, error) {
	cr := csv.NewReader(r)
	cr.ReuseRecord = false

	header, err := cr.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	for {
		row, err := cr.Read()
		if err == io.EOF {
			return header, nil
		}
		if err != nil {
			return header, fmt.Errorf("read row: %w", err)
		}
		if err := fn(row); err != nil {
			return header, err
		}
	}
}

// StreamRemapped is Stream with every row laid out in target column order.
// Target columns missing from the header are passed as "".
func StreamRemapped(r io.Reader, target []string, fn func(row []string) error) ([]string, error) {
	cr := csv.NewReader(r)
	header, err := cr.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	remap := NewRemapper(header, target)

	for {
		row, err := cr.Read()
		if err == io.EOF {
			return header, nil
		}
		if err != nil {
			return header, fmt.Errorf("read row: %w", err)
		}
		if err := fn(remap.Apply(row)); err != nil {
			return header, err
		}
	}
}

// ReadColumn returns the values of one column of the file at path. An empty
// column name selects the first column.
func ReadColumn(path, column string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	cr := csv.NewReader(f)
	header, err := cr.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read header of %s: %w", path, err)
	}

	idx := 0
	if column != "" {
		idx = indexOf(header, column)
		if idx < 0 {
			return nil, fmt.Errorf("%s: %w: %q", path, ErrColumnNotFound, column)
		}
	}

	var values []string
	for {
		row, err := cr.Read()
		if err == io.EOF {
			return values, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		values = append(values, row[idx])
	}
}

// ReadHeader returns the header row of the file at path. A missing or empty
// file has no header.
func ReadHeader(path string) ([]string, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	header, err := csv.NewReader(f).Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read header of %s: %w", path, err)
	}
	return header, nil
}

// Remapper moves fields from a source header layout into a target column layout.
type Remapper struct {
	positions []int
}

// NewRemapper builds a Remapper from the source header to target columns.
// Target columns missing from the source are filled with "".
func NewRemapper(source, target []string) *Remapper {
	positions := make([]int, len(target))
	for i, c := range target {
		positions[i] = indexOf(source, c)
	}
	return &Remapper{positions: positions}
}

// Apply returns row laid out in the target column order.
func (m *Remapper) Apply(row []string) []string {
	out := make([]string, len(m.positions))
	for i, p := range m.positions {
		if p >= 0 && p < len(row) {
			out[i] = row[p]
		}
	}
	return out
}

func indexOf(header []string, column string) int {
	for i, h := range header {
		if h == column {
			return i
		}
	}
	return -1
}
