package connector

import (
	"bufio"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"github.com/dbsmedya/gorecipe/internal/relation"
	"github.com/dbsmedya/gorecipe/internal/types"
)

// maxParallelWrites bounds concurrent per-file writes in individual mode.
const maxParallelWrites = 4

// ExportParams are understood by every file exporter.
type ExportParams struct {
	Path             string `mapstructure:"path"`
	ExportIndividual bool   `mapstructure:"export_individual"`
}

// writeFunc writes one frame to path.
type writeFunc func(ctx context.Context, path string, f *relation.Frame) error

// exportFiles writes set to p.Path, or one file per member next to it when
// p.ExportIndividual is set and the set is per-file.
func exportFiles(ctx context.Context, set relation.Set, p ExportParams, ext string, write writeFunc) Result {
	if p.Path == "" {
		return ErrorResult(errors.New("path is required"))
	}
	if set.IsZero() {
		return ErrorResult(errors.New("nothing to export"))
	}

	if !p.ExportIndividual || !set.IsPerFile() {
		f, err := set.Concat().Collect(ctx)
		if err != nil {
			return ErrorResult(err)
		}
		detail, err := writeOne(ctx, p.Path, f, write)
		if err != nil {
			return ErrorResult(err)
		}
		return Result{Status: StatusDone, SizeStr: detail.Size, FileDetails: []FileDetail{detail}}
	}

	members := set.Members()
	paths := individualPaths(p.Path, ext, members)
	details := make([]FileDetail, len(members))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelWrites)
	for i, m := range members {
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("%s: export panicked: %v", memberName(m, i), r)
				}
			}()
			f, err := m.Collect(gctx)
			if err != nil {
				return fmt.Errorf("%s: %w", memberName(m, i), err)
			}
			details[i], err = writeOne(gctx, paths[i], f, write)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return ErrorResult(err)
	}

	var total int64
	for _, d := range details {
		total += d.Bytes
	}
	return Result{Status: StatusDone, SizeStr: humanize.Bytes(uint64(total)), FileDetails: details}
}

func writeOne(ctx context.Context, path string, f *relation.Frame, write writeFunc) (FileDetail, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return FileDetail{}, err
		}
	}
	if err := write(ctx, path, f); err != nil {
		return FileDetail{}, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return FileDetail{}, err
	}
	return FileDetail{
		Name:  filepath.Base(path),
		Path:  path,
		Size:  humanize.Bytes(uint64(info.Size())),
		Bytes: info.Size(),
		Rows:  f.Len(),
	}, nil
}

// individualPaths derives <dir>/<stem>_<member-stem><ext> for each member,
// keeping names unique.
func individualPaths(base, ext string, members []*relation.Relation) []string {
	dir := filepath.Dir(base)
	stem := strings.TrimSuffix(filepath.Base(base), filepath.Ext(base))
	if e := filepath.Ext(base); e != "" {
		ext = e
	}
	used := make(map[string]bool, len(members))
	out := make([]string, len(members))
	for i, m := range members {
		name := fmt.Sprintf("%s_%s%s", stem, memberName(m, i), ext)
		for n := 2; used[name]; n++ {
			name = fmt.Sprintf("%s_%s_%d%s", stem, memberName(m, i), n, ext)
		}
		used[name] = true
		out[i] = filepath.Join(dir, name)
	}
	return out
}

func memberName(m *relation.Relation, i int) string {
	if label := m.Label(); label != "" {
		return strings.TrimSuffix(filepath.Base(label), filepath.Ext(label))
	}
	return strconv.Itoa(i + 1)
}

// writeFileAtomic writes through a temp file in the target directory and
// renames it into place.
func writeFileAtomic(path string, fn func(w io.Writer) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".gorecipe-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	bw := bufio.NewWriter(tmp)
	if err := fn(bw); err != nil {
		tmp.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// CSVParams configures the csv exporter.
type CSVParams struct {
	ExportParams `mapstructure:",squash"`
	Delimiter    string `mapstructure:"delimiter"`
	Header       *bool  `mapstructure:"header"`
}

// CSVExporter writes comma separated files.
type CSVExporter struct{}

// NewCSVExporter creates the csv exporter.
func NewCSVExporter() *CSVExporter { return &CSVExporter{} }

// Name implements Exporter.
func (e *CSVExporter) Name() string { return "csv" }

// Export implements Exporter.
func (e *CSVExporter) Export(ctx context.Context, set relation.Set, params map[string]any) Result {
	var p CSVParams
	if err := decodeParams(params, &p, true); err != nil {
		return ErrorResult(err)
	}
	delim := ','
	if p.Delimiter != "" {
		fp := FileParams{Delimiter: p.Delimiter}
		d, err := fp.delimiter(p.Path)
		if err != nil {
			return ErrorResult(err)
		}
		delim = d
	}
	header := p.Header == nil || *p.Header
	return exportFiles(ctx, set, p.ExportParams, ".csv", func(_ context.Context, path string, f *relation.Frame) error {
		return writeFileAtomic(path, func(w io.Writer) error {
			return WriteCSV(w, f, delim, header)
		})
	})
}

// WriteCSV writes f as delimited text. Nulls become empty fields.
func WriteCSV(w io.Writer, f *relation.Frame, delim rune, header bool) error {
	cw := csv.NewWriter(w)
	cw.Comma = delim
	if header {
		if err := cw.Write(f.Columns); err != nil {
			return err
		}
	}
	rec := make([]string, len(f.Columns))
	for _, row := range f.Rows {
		for i, v := range row {
			rec[i] = types.FormatValue(v)
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// NDJSONExporter writes one JSON object per line.
type NDJSONExporter struct{}

// NewNDJSONExporter creates the ndjson exporter.
func NewNDJSONExporter() *NDJSONExporter { return &NDJSONExporter{} }

// Name implements Exporter.
func (e *NDJSONExporter) Name() string { return "ndjson" }

// Export implements Exporter.
func (e *NDJSONExporter) Export(ctx context.Context, set relation.Set, params map[string]any) Result {
	var p ExportParams
	if err := decodeParams(params, &p, true); err != nil {
		return ErrorResult(err)
	}
	return exportFiles(ctx, set, p, ".ndjson", func(_ context.Context, path string, f *relation.Frame) error {
		return writeFileAtomic(path, func(w io.Writer) error { return WriteNDJSON(w, f) })
	})
}

// WriteNDJSON writes f as newline-delimited JSON objects with keys in column
// order.
func WriteNDJSON(w io.Writer, f *relation.Frame) error {
	keys, err := encodeKeys(f.Columns)
	if err != nil {
		return err
	}
	for _, row := range f.Rows {
		if err := writeObject(w, keys, row); err != nil {
			return err
		}
		if _, err := io.WriteString(w, "\n"); err != nil {
			return err
		}
	}
	return nil
}

// JSONExporter writes a JSON array of objects.
type JSONExporter struct{}

// NewJSONExporter creates the json exporter.
func NewJSONExporter() *JSONExporter { return &JSONExporter{} }

// Name implements Exporter.
func (e *JSONExporter) Name() string { return "json" }

// Export implements Exporter.
func (e *JSONExporter) Export(ctx context.Context, set relation.Set, params map[string]any) Result {
	var p ExportParams
	if err := decodeParams(params, &p, true); err != nil {
		return ErrorResult(err)
	}
	return exportFiles(ctx, set, p, ".json", func(_ context.Context, path string, f *relation.Frame) error {
		return writeFileAtomic(path, func(w io.Writer) error { return WriteJSON(w, f) })
	})
}

// WriteJSON writes f as a JSON array of objects.
func WriteJSON(w io.Writer, f *relation.Frame) error {
	keys, err := encodeKeys(f.Columns)
	if err != nil {
		return err
	}
	if _, err := io.WriteString(w, "["); err != nil {
		return err
	}
	for i, row := range f.Rows {
		sep := ",\n"
		if i == 0 {
			sep = "\n"
		}
		if _, err := io.WriteString(w, sep); err != nil {
			return err
		}
		if err := writeObject(w, keys, row); err != nil {
			return err
		}
	}
	_, err = io.WriteString(w, "\n]\n")
	return err
}

func encodeKeys(columns []string) ([][]byte, error) {
	keys := make([][]byte, len(columns))
	for i, c := range columns {
		k, err := json.Marshal(c)
		if err != nil {
			return nil, err
		}
		keys[i] = k
	}
	return keys, nil
}

func writeObject(w io.Writer, keys [][]byte, row []any) error {
	var b strings.Builder
	b.WriteByte('{')
	for i, v := range row {
		if i > 0 {
			b.WriteByte(',')
		}
		b.Write(keys[i])
		b.WriteByte(':')
		if t, ok := v.(time.Time); ok {
			v = t.Format(time.RFC3339Nano)
		}
		val, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("column %s: %w", keys[i], err)
		}
		b.Write(val)
	}
	b.WriteByte('}')
	_, err := io.WriteString(w, b.String())
	return err
}
