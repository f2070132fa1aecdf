package connector

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/dbsmedya/gorecipe/internal/dataset"
	"github.com/dbsmedya/gorecipe/internal/relation"
)

// File formats understood by the file loader.
const (
	FormatCSV    = "csv"
	FormatNDJSON = "ndjson"
	FormatJSON   = "json"
)

var extFormats = map[string]string{
	".csv":    FormatCSV,
	".tsv":    FormatCSV,
	".txt":    FormatCSV,
	".ndjson": FormatNDJSON,
	".jsonl":  FormatNDJSON,
	".json":   FormatJSON,
}

// FileParams configures the file loader.
type FileParams struct {
	Path              string `mapstructure:"path"`
	Format            string `mapstructure:"format"`
	ProcessIndividual bool   `mapstructure:"process_individual"`
	Encoding          string `mapstructure:"encoding"`
	Delimiter         string `mapstructure:"delimiter"`
	HasHeader         *bool  `mapstructure:"has_header"`
	InferTypes        *bool  `mapstructure:"infer_types"`
}

// FileLoader reads CSV, NDJSON and JSON files. Path may name a file, a
// directory or a glob pattern.
type FileLoader struct{}

// NewFileLoader creates the file loader.
func NewFileLoader() *FileLoader {
	return &FileLoader{}
}

// Name implements Loader.
func (l *FileLoader) Name() string {
	return "file"
}

// Load implements Loader. Sources are opened lazily; only their existence is
// checked here.
func (l *FileLoader) Load(ctx context.Context, params map[string]any) (dataset.Metadata, error) {
	var p FileParams
	if err := decodeParams(params, &p, true); err != nil {
		return dataset.Metadata{}, err
	}
	if p.Path == "" {
		return dataset.Metadata{}, errors.New("path is required")
	}
	if p.Format != "" && !slices.Contains([]string{FormatCSV, FormatNDJSON, FormatJSON}, p.Format) {
		return dataset.Metadata{}, fmt.Errorf("unsupported format %q", p.Format)
	}

	files, inputType, err := resolveFiles(p.Path, p.Format)
	if err != nil {
		return dataset.Metadata{}, err
	}

	rels := make([]*relation.Relation, len(files))
	formats := make(map[string]bool)
	for i, path := range files {
		src, format, err := p.source(path)
		if err != nil {
			return dataset.Metadata{}, err
		}
		formats[format] = true
		rels[i] = relation.New(src).WithLabel(path)
	}

	meta := dataset.Metadata{
		SourcePath:        p.Path,
		InputType:         inputType,
		InputFormat:       strings.Join(sortedKeys(formats), ","),
		ProcessIndividual: p.ProcessIndividual,
		FileList:          files,
		FileCount:         len(files),
	}
	if meta.ProcessIndividual {
		meta.Set, err = relation.PerFile(rels)
		if err != nil {
			return dataset.Metadata{}, err
		}
	} else {
		meta.Set = relation.Single(relation.Concat(rels...).WithLabel(p.Path))
	}
	return meta, nil
}

// source builds the relation source for one file.
func (p FileParams) source(path string) (relation.Source, string, error) {
	format := p.Format
	if format == "" {
		format = extFormats[strings.ToLower(filepath.Ext(path))]
	}
	switch format {
	case FormatCSV:
		delim, err := p.delimiter(path)
		if err != nil {
			return nil, "", err
		}
		return &CSVSource{
			Path:       path,
			Delimiter:  delim,
			Encoding:   p.Encoding,
			HasHeader:  p.HasHeader == nil || *p.HasHeader,
			InferTypes: p.InferTypes == nil || *p.InferTypes,
		}, format, nil
	case FormatNDJSON:
		return &JSONSource{Path: path, Lines: true}, format, nil
	case FormatJSON:
		return &JSONSource{Path: path}, format, nil
	}
	return nil, "", fmt.Errorf("cannot infer format of %s; set the format param", path)
}

func (p FileParams) delimiter(path string) (rune, error) {
	switch p.Delimiter {
	case "":
		if strings.EqualFold(filepath.Ext(path), ".tsv") {
			return '\t', nil
		}
		return ',', nil
	case `\t`, "tab":
		return '\t', nil
	}
	r := []rune(p.Delimiter)
	if len(r) != 1 {
		return 0, fmt.Errorf("delimiter must be a single character, got %q", p.Delimiter)
	}
	return r[0], nil
}

// resolveFiles expands path into a sorted, non-empty file list.
func resolveFiles(path, format string) ([]string, string, error) {
	if strings.ContainsAny(path, "*?[") {
		matches, err := filepath.Glob(path)
		if err != nil {
			return nil, "", fmt.Errorf("invalid glob %q: %w", path, err)
		}
		files := filterFiles(matches, format)
		if len(files) == 0 {
			return nil, "", fmt.Errorf("no files match %s", path)
		}
		return files, "glob", nil
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, "", err
	}
	if !info.IsDir() {
		return []string{path}, "file", nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, "", err
	}
	var candidates []string
	for _, e := range entries {
		if !e.IsDir() {
			candidates = append(candidates, filepath.Join(path, e.Name()))
		}
	}
	files := filterFiles(candidates, format)
	if len(files) == 0 {
		return nil, "", fmt.Errorf("no supported files in %s", path)
	}
	return files, "folder", nil
}

// filterFiles keeps regular files whose extension matches format, or any
// supported extension when format is empty.
func filterFiles(paths []string, format string) []string {
	var out []string
	for _, p := range paths {
		if info, err := os.Stat(p); err != nil || info.IsDir() {
			continue
		}
		f, ok := extFormats[strings.ToLower(filepath.Ext(p))]
		if !ok || (format != "" && f != format) {
			continue
		}
		out = append(out, p)
	}
	slices.Sort(out)
	return out
}

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
