package csvfile

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/Sternrassler/helium-extractor/pkg/flatten"
)

// Writer writes unconditionally quoted CSV rows.
type Writer struct {
	w *bufio.Writer
}

// NewWriter returns a Writer that writes to w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: bufio.NewWriter(w)}
}

// Write writes one row.
func (w *Writer) Write(fields []string) error {
	for i, f := range fields {
		if i > 0 {
			if err := w.w.WriteByte(','); err != nil {
				return err
			}
		}
		if err := w.writeQuoted(f); err != nil {
			return err
		}
	}
	return w.w.WriteByte('\n')
}

// WriteRecord writes rec reindexed to columns.
func (w *Writer) WriteRecord(columns []string, rec flatten.Record) error {
	return w.Write(Reindex(columns, rec))
}

// Flush writes any buffered data to the underlying writer.
func (w *Writer) Flush() error {
	return w.w.Flush()
}

func (w *Writer) writeQuoted(field string) error {
	if err := w.w.WriteByte('"'); err != nil {
		return err
	}
	if _, err := w.w.WriteString(strings.ReplaceAll(field, `"`, `""`)); err != nil {
		return err
	}
	return w.w.WriteByte('"')
}

// Reindex lays rec out in column order. Missing fields become "".
func Reindex(columns []string, rec flatten.Record) []string {
	row := make([]string, len(columns))
	for i, c := range columns {
		row[i] = rec[c]
	}
	return row
}

// AppendRecords appends records to the file at path, writing the header first
// when the file is new or empty.
func AppendRecords(path string, columns []string, records []flatten.Record) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}

	if err := appendTo(f, columns, records); err != nil {
		f.Close()
		return fmt.Errorf("append %s: %w", path, err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	return nil
}

func appendTo(f *os.File, columns []string, records []flatten.Record) error {
	info, err := f.Stat()
	if err != nil {
		return err
	}

	w := NewWriter(f)
	if info.Size() == 0 {
		if err := w.Write(columns); err != nil {
			return err
		}
	}
	for _, rec := range records {
		if err := w.WriteRecord(columns, rec); err != nil {
			return err
		}
	}
	return w.Flush()
}
