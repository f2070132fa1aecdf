package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"

	_ "modernc.org/sqlite" // driver "sqlite"

	"github.com/dbsmedya/gorecipe/internal/connector"
	"github.com/dbsmedya/gorecipe/internal/relation"
)

// QueryResultName labels the result of a SQL query over datasets.
const QueryResultName = "SQL_RESULT"

// ErrEmptyQuery is returned for a blank SQL query.
var ErrEmptyQuery = errors.New("query is empty")

var identPattern = regexp.MustCompile("\"([^\"]+)\"|`([^`]+)`|\\[([^\\]]+)\\]|([A-Za-z_][A-Za-z0-9_]*)")

// Query returns a deferred relation holding the result of a SQLite query
// over the transformed datasets. Every dataset the query names is written to
// a private in-memory database as a table of the same name before the query
// runs. In preview mode each table holds the dataset's preview of at most
// limit rows, otherwise the full view of the dataset.
func (v *Views) Query(ctx context.Context, query string, preview bool, limit int) (*relation.Relation, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	tables := v.referencedDatasets(query)
	v.logger.Debugw("prepared dataset query", "tables", tables, "preview", preview)
	src := &QuerySource{views: v, query: query, tables: tables, preview: preview, limit: limit}
	return relation.New(src).WithLabel(QueryResultName), nil
}

// referencedDatasets lists the loaded datasets the query mentions, in load
// order. Matching ignores case, as SQLite does for table names.
func (v *Views) referencedDatasets(query string) []string {
	mentioned := make(map[string]struct{})
	for _, m := range identPattern.FindAllStringSubmatch(query, -1) {
		for _, g := range m[1:] {
			if g != "" {
				mentioned[strings.ToLower(g)] = struct{}{}
			}
		}
	}
	var tables []string
	for _, name := range v.datasets.State().Names {
		if _, ok := mentioned[strings.ToLower(name)]; ok {
			tables = append(tables, name)
		}
	}
	return tables
}

// QuerySource runs a query against an in-memory copy of the datasets it
// names. Each Scan builds a fresh database, so the result always reflects
// the current recipes.
type QuerySource struct {
	views   *Views
	query   string
	tables  []string
	preview bool
	limit   int
}

// Scan implements relation.Source.
func (s *QuerySource) Scan(ctx context.Context, limit int) (*relation.Frame, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, err
	}
	defer db.Close()
	// Every connection to ":memory:" opens its own database.
	db.SetMaxOpenConns(1)

	for _, name := range s.tables {
		f, err := s.table(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("dataset %q: %w", name, err)
		}
		if err := connector.WriteTable(ctx, db, name, connector.IfExistsFail, f); err != nil {
			return nil, fmt.Errorf("register dataset %q: %w", name, err)
		}
	}

	src := &connector.SQLSource{DB: db, Query: s.query, Name: QueryResultName}
	f, err := src.Scan(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	return f, nil
}

func (s *QuerySource) table(ctx context.Context, name string) (*relation.Frame, error) {
	e, err := s.views.snapshot(name)
	if err != nil {
		return nil, err
	}
	if s.preview {
		rel, err := s.views.Preview(ctx, name, e.Recipe, s.limit)
		if err != nil {
			return nil, err
		}
		return rel.Collect(ctx)
	}
	set, err := s.views.FullOf(ctx, e, 0)
	if err != nil {
		return nil, err
	}
	return set.Concat().Collect(ctx)
}

// Describe implements relation.Source.
func (s *QuerySource) Describe() string {
	return "sql query over " + strings.Join(s.tables, ", ")
}
