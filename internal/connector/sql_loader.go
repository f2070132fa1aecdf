package connector

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dbsmedya/gorecipe/internal/dataset"
	"github.com/dbsmedya/gorecipe/internal/database"
	"github.com/dbsmedya/gorecipe/internal/relation"
	"github.com/dbsmedya/gorecipe/internal/sqlutil"
	"github.com/dbsmedya/gorecipe/internal/types"
)

// SQLParams configures the sql loader. Either Connection names a configured
// connection, or Driver and DSN describe one inline. Either Query or Table
// selects the rows.
type SQLParams struct {
	Connection string `mapstructure:"connection"`
	Driver     string `mapstructure:"driver"`
	DSN        string `mapstructure:"dsn"`
	Query      string `mapstructure:"query"`
	Table      string `mapstructure:"table"`
}

// SQLLoader reads the result of a query as a dataset.
type SQLLoader struct {
	db *database.Manager
}

// NewSQLLoader creates the sql loader over a connection manager.
func NewSQLLoader(db *database.Manager) *SQLLoader {
	return &SQLLoader{db: db}
}

// Name implements Loader.
func (l *SQLLoader) Name() string {
	return "sql"
}

// Load implements Loader. The connection is opened now; the query runs on
// every scan.
func (l *SQLLoader) Load(ctx context.Context, params map[string]any) (dataset.Metadata, error) {
	var p SQLParams
	if err := decodeParams(params, &p, true); err != nil {
		return dataset.Metadata{}, err
	}
	if l.db == nil {
		return dataset.Metadata{}, errors.New("no database manager configured")
	}

	var (
		db     *sql.DB
		driver string
		source string
		err    error
	)
	switch {
	case p.Connection != "":
		db, err = l.db.Get(ctx, p.Connection)
		source = p.Connection
		driver = l.db.DriverFor(p.Connection)
	case p.Driver != "" && p.DSN != "":
		db, err = l.db.GetDSN(ctx, p.Driver, p.DSN)
		source = p.Driver
		driver = p.Driver
	default:
		return dataset.Metadata{}, errors.New("either connection or driver and dsn are required")
	}
	if err != nil {
		return dataset.Metadata{}, err
	}

	query, err := p.query(driver)
	if err != nil {
		return dataset.Metadata{}, err
	}

	src := &SQLSource{DB: db, Query: query, Name: source}
	return dataset.Metadata{
		Set:         relation.Single(relation.New(src).WithLabel(source)),
		SourcePath:  source,
		InputType:   "sql",
		InputFormat: driver,
		FileCount:   1,
	}, nil
}

func (p SQLParams) query(driver string) (string, error) {
	switch {
	case p.Query != "" && p.Table != "":
		return "", errors.New("set either query or table, not both")
	case p.Query != "":
		return p.Query, nil
	case p.Table != "":
		name, _ := database.DriverName(driver)
		quoted, err := sqlutil.QuoteIdentifierSafe(sqlutil.DialectFor(name), p.Table)
		if err != nil {
			return "", err
		}
		return "SELECT * FROM " + quoted, nil
	}
	return "", errors.New("query or table is required")
}

// SQLSource runs a query and reads its rows. A limit stops reading early
// rather than rewriting the query.
type SQLSource struct {
	DB    *sql.DB
	Query string
	Name  string
}

// Scan implements relation.Source.
func (s *SQLSource) Scan(ctx context.Context, limit int) (*relation.Frame, error) {
	rows, err := s.DB.QueryContext(ctx, s.Query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	out := make([][]any, 0)
	for (limit < 0 || len(out) < limit) && rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan row %d: %w", len(out), err)
		}
		for i := range values {
			values[i] = types.Normalize(values[i])
		}
		out = append(out, values)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &relation.Frame{Columns: columns, Rows: out}, nil
}

// Describe implements relation.Source.
func (s *SQLSource) Describe() string {
	return "sql " + s.Name
}
