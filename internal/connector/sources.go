package connector

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/elliotchance/orderedmap/v2"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/transform"

	"github.com/dbsmedya/gorecipe/internal/relation"
	"github.com/dbsmedya/gorecipe/internal/types"
)

const ctxCheckEvery = 1024

// CSVSource scans a delimited text file.
type CSVSource struct {
	Path       string
	Delimiter  rune
	Encoding   string // WHATWG label, e.g. "latin1", "windows-1252", "shift_jis"
	HasHeader  bool
	InferTypes bool
}

// Scan implements relation.Source.
func (s *CSVSource) Scan(ctx context.Context, limit int) (*relation.Frame, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r, err := decodeReader(f, s.Encoding)
	if err != nil {
		return nil, err
	}

	cr := csv.NewReader(r)
	cr.Comma = s.Delimiter
	if cr.Comma == 0 {
		cr.Comma = ','
	}
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	first, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return relation.NewFrame(nil), nil
	}
	if err != nil {
		return nil, err
	}

	var columns []string
	var pending [][]string
	if s.HasHeader {
		columns = headerNames(first)
	} else {
		columns = make([]string, len(first))
		for i := range first {
			columns[i] = "column_" + strconv.Itoa(i+1)
		}
		pending = append(pending, first)
	}

	rows := make([][]any, 0)
	for limit < 0 || len(rows) < limit {
		var rec []string
		if len(pending) > 0 {
			rec, pending = pending[0], pending[1:]
		} else {
			rec, err = cr.Read()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return nil, err
			}
		}
		if len(rec) > len(columns) {
			line, _ := cr.FieldPos(0)
			return nil, fmt.Errorf("line %d: expected %d fields, got %d", line, len(columns), len(rec))
		}
		row := make([]any, len(columns))
		for i, v := range rec {
			if s.InferTypes {
				row[i] = types.ParseScalar(v)
			} else if v != "" {
				row[i] = v
			}
		}
		rows = append(rows, row)
		if len(rows)%ctxCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
	}
	return &relation.Frame{Columns: columns, Rows: rows}, nil
}

// Describe implements relation.Source.
func (s *CSVSource) Describe() string {
	return "csv " + s.Path
}

// decodeReader converts r from the named encoding to UTF-8 and drops a
// leading byte order mark.
func decodeReader(r io.Reader, encoding string) (io.Reader, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "", "utf-8", "utf8":
	default:
		enc, err := htmlindex.Get(encoding)
		if err != nil {
			return nil, fmt.Errorf("unknown encoding %q: %w", encoding, err)
		}
		r = transform.NewReader(r, enc.NewDecoder())
	}
	br := bufio.NewReader(r)
	if bom, err := br.Peek(3); err == nil && bytes.Equal(bom, []byte{0xEF, 0xBB, 0xBF}) {
		_, _ = br.Discard(3)
	}
	return br, nil
}

// headerNames fills blank header cells and makes duplicates unique.
func headerNames(header []string) []string {
	seen := make(map[string]int, len(header))
	out := make([]string, len(header))
	for i, h := range header {
		name := strings.TrimSpace(h)
		if name == "" {
			name = "column_" + strconv.Itoa(i+1)
		}
		if n := seen[name]; n > 0 {
			seen[name]++
			name = fmt.Sprintf("%s_%d", name, n+1)
		}
		seen[name]++
		out[i] = name
	}
	return out
}

// JSONSource scans a JSON array of objects, or one object per line when
// Lines is set. Column order follows first appearance of each key.
type JSONSource struct {
	Path  string
	Lines bool
}

// Scan implements relation.Source.
func (s *JSONSource) Scan(ctx context.Context, limit int) (*relation.Frame, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	// A zero limit still reads one object so the schema is known.
	want := limit
	if limit == 0 {
		want = 1
	}

	var objs []*orderedmap.OrderedMap[string, any]
	if s.Lines {
		objs, err = readLines(ctx, f, want)
	} else {
		objs, err = readArray(ctx, f, want)
	}
	if err != nil {
		return nil, err
	}

	frame := framesFromObjects(objs)
	if limit == 0 {
		frame = frame.Head(0)
	}
	return frame, nil
}

// Describe implements relation.Source.
func (s *JSONSource) Describe() string {
	if s.Lines {
		return "ndjson " + s.Path
	}
	return "json " + s.Path
}

func readLines(ctx context.Context, r io.Reader, limit int) ([]*orderedmap.OrderedMap[string, any], error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	var objs []*orderedmap.OrderedMap[string, any]
	line := 0
	for (limit < 0 || len(objs) < limit) && sc.Scan() {
		line++
		text := bytes.TrimSpace(sc.Bytes())
		if len(text) == 0 {
			continue
		}
		dec := json.NewDecoder(bytes.NewReader(text))
		dec.UseNumber()
		obj, err := readObject(dec)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		objs = append(objs, obj)
		if len(objs)%ctxCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
	}
	return objs, sc.Err()
}

func readArray(ctx context.Context, r io.Reader, limit int) ([]*orderedmap.OrderedMap[string, any], error) {
	dec := json.NewDecoder(bufio.NewReader(r))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '[' {
		return nil, errors.New("expected a JSON array of objects")
	}
	var objs []*orderedmap.OrderedMap[string, any]
	for (limit < 0 || len(objs) < limit) && dec.More() {
		obj, err := readObject(dec)
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", len(objs), err)
		}
		objs = append(objs, obj)
		if len(objs)%ctxCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
	}
	return objs, nil
}

// readObject decodes one object keeping its key order.
func readObject(dec *json.Decoder) (*orderedmap.OrderedMap[string, any], error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("expected object, got %v", tok)
	}
	obj := orderedmap.NewOrderedMap[string, any]()
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, _ := keyTok.(string)
		var v any
		if err := dec.Decode(&v); err != nil {
			return nil, err
		}
		obj.Set(key, normalizeJSON(v))
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return obj, nil
}

func normalizeJSON(v any) any {
	switch t := v.(type) {
	case json.Number:
		return types.Normalize(t)
	case []any:
		for i := range t {
			t[i] = normalizeJSON(t[i])
		}
		return t
	case map[string]any:
		for k := range t {
			t[k] = normalizeJSON(t[k])
		}
		return t
	}
	return v
}

// framesFromObjects aligns objects on the union of their keys.
func framesFromObjects(objs []*orderedmap.OrderedMap[string, any]) *relation.Frame {
	union := orderedmap.NewOrderedMap[string, int]()
	for _, o := range objs {
		for _, k := range o.Keys() {
			if _, ok := union.Get(k); !ok {
				union.Set(k, union.Len())
			}
		}
	}
	columns := union.Keys()
	rows := make([][]any, len(objs))
	for i, o := range objs {
		row := make([]any, len(columns))
		for el := o.Front(); el != nil; el = el.Next() {
			idx, _ := union.Get(el.Key)
			row[idx] = el.Value
		}
		rows[i] = row
	}
	return &relation.Frame{Columns: columns, Rows: rows}
}
