package sink

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/Sternrassler/crawlkit/pkg/record"
	"github.com/rs/zerolog/log"
)

// utf8BOM lets spreadsheet tools detect the encoding.
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// KeyColumn is the header of the primary key column.
const KeyColumn = "key"

// CSV writes records as CSV with a UTF-8 BOM and a fixed column set. The
// first column is always the record key; missing fields are empty.
type CSV struct {
	path    string
	columns []string
}

// NewCSV creates a CSV sink writing to path. With no columns the union of
// all record fields is used, sorted by name.
func NewCSV(path string, columns ...string) *CSV {
	return &CSV{path: path, columns: columns}
}

// Path returns the output file path.
func (c *CSV) Path() string {
	return c.path
}

// Write implements Sink. The file is replaced atomically.
func (c *CSV) Write(ctx context.Context, records []record.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if dir := filepath.Dir(c.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}

	tmp, err := os.CreateTemp(filepath.Dir(c.path), filepath.Base(c.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := WriteCSV(tmp, records, c.columns); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), c.path); err != nil {
		return fmt.Errorf("rename output: %w", err)
	}

	log.Info().Str("path", c.path).Int("records", len(records)).Msg("CSV written")
	return nil
}

// WriteCSV encodes records to w with a BOM and a header row.
func WriteCSV(w io.Writer, records []record.Record, columns []string) error {
	if len(columns) == 0 {
		columns = unionColumns(records)
	}

	if _, err := w.Write(utf8BOM); err != nil {
		return fmt.Errorf("write bom: %w", err)
	}

	cw := csv.NewWriter(w)
	header := append([]string{KeyColumn}, columns...)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	row := make([]string, len(header))
	for _, r := range records {
		row[0] = r.Key
		for i, col := range columns {
			row[i+1] = r.Get(col)
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write record %s: %w", r.Key, err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

func unionColumns(records []record.Record) []string {
	seen := make(map[string]struct{})
	var names []string
	for _, r := range records {
		for name := range r.Fields {
			if _, ok := seen[name]; !ok {
				seen[name] = struct{}{}
				names = append(names, name)
			}
		}
	}
	sort.Strings(names)
	return names
}
