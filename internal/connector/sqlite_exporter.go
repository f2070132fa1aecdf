package connector

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/dbsmedya/gorecipe/internal/relation"
	"github.com/dbsmedya/gorecipe/internal/sqlutil"
	"github.com/dbsmedya/gorecipe/internal/types"
)

// Table conflict policies for the sqlite exporter.
const (
	IfExistsFail    = "fail"
	IfExistsReplace = "replace"
	IfExistsAppend  = "append"
)

// SQLiteParams configures the sqlite exporter.
type SQLiteParams struct {
	ExportParams `mapstructure:",squash"`
	Table        string `mapstructure:"table"`
	IfExists     string `mapstructure:"if_exists"`
}

// SQLiteExporter writes each frame into a table of a SQLite database file.
type SQLiteExporter struct{}

// NewSQLiteExporter creates the sqlite exporter.
func NewSQLiteExporter() *SQLiteExporter { return &SQLiteExporter{} }

// Name implements Exporter.
func (e *SQLiteExporter) Name() string { return "sqlite" }

// Export implements Exporter. In individual mode every member gets its own
// database file.
func (e *SQLiteExporter) Export(ctx context.Context, set relation.Set, params map[string]any) Result {
	var p SQLiteParams
	if err := decodeParams(params, &p, true); err != nil {
		return ErrorResult(err)
	}
	switch p.IfExists {
	case "":
		p.IfExists = IfExistsFail
	case IfExistsFail, IfExistsReplace, IfExistsAppend:
	default:
		return ErrorResult(fmt.Errorf("if_exists must be fail, replace or append, got %q", p.IfExists))
	}
	table := p.Table
	if table == "" {
		table = sqlutil.SanitizeIdentifier(strings.TrimSuffix(filepath.Base(p.Path), filepath.Ext(p.Path)))
	}

	return exportFiles(ctx, set, p.ExportParams, ".sqlite", func(ctx context.Context, path string, f *relation.Frame) error {
		db, err := sql.Open("sqlite", path)
		if err != nil {
			return err
		}
		defer db.Close()
		return WriteTable(ctx, db, table, p.IfExists, f)
	})
}

// WriteTable stores f in table inside one transaction.
func WriteTable(ctx context.Context, db *sql.DB, table, ifExists string, f *relation.Frame) error {
	quoted, err := sqlutil.QuoteIdentifierSafe(sqlutil.ANSI, table)
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var count int
	err = tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", table).Scan(&count)
	if err != nil {
		return fmt.Errorf("check table: %w", err)
	}

	create := true
	if count > 0 {
		switch ifExists {
		case IfExistsReplace:
			if _, err := tx.ExecContext(ctx, "DROP TABLE "+quoted); err != nil {
				return fmt.Errorf("drop table: %w", err)
			}
		case IfExistsAppend:
			create = false
		default:
			return fmt.Errorf("table %s already exists", table)
		}
	}

	cols := make([]string, len(f.Columns))
	for i, c := range f.Columns {
		cols[i] = sqlutil.ANSI.Quote(c)
	}

	if create {
		defs := make([]string, len(f.Columns))
		for i := range f.Columns {
			defs[i] = cols[i] + " " + columnType(f, i)
		}
		stmt := fmt.Sprintf("CREATE TABLE %s (%s)", quoted, strings.Join(defs, ", "))
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}

	if len(f.Rows) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
		insert, err := tx.PrepareContext(ctx, fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
			quoted, strings.Join(cols, ", "), placeholders))
		if err != nil {
			return fmt.Errorf("prepare insert: %w", err)
		}
		defer insert.Close()

		args := make([]any, len(cols))
		for n, row := range f.Rows {
			for i, v := range row {
				args[i] = sqlValue(v)
			}
			if _, err := insert.ExecContext(ctx, args...); err != nil {
				return fmt.Errorf("insert row %d: %w", n, err)
			}
		}
	}

	return tx.Commit()
}

// columnType picks a SQLite storage class from the non-null values of column i.
func columnType(f *relation.Frame, i int) string {
	kind := ""
	for _, row := range f.Rows {
		v := row[i]
		switch {
		case v == nil:
			continue
		case types.IsFloat(v):
			if kind == "" || kind == "INTEGER" {
				kind = "REAL"
			}
		case types.IsNumeric(v):
			if kind == "" {
				kind = "INTEGER"
			}
		case isBool(v):
			if kind == "" {
				kind = "INTEGER"
			}
		default:
			return "TEXT"
		}
	}
	if kind == "" {
		return "TEXT"
	}
	return kind
}

func isBool(v any) bool {
	_, ok := v.(bool)
	return ok
}

// sqlValue converts a cell into a driver argument.
func sqlValue(v any) any {
	switch t := v.(type) {
	case nil, string, int64, float64, bool, []byte:
		return t
	case time.Time:
		return t.Format(time.RFC3339Nano)
	case map[string]any, []any:
		b, err := json.Marshal(t)
		if err != nil {
			return types.FormatValue(t)
		}
		return string(b)
	}
	if n, ok := types.ToInt64(v); ok {
		return n
	}
	return types.FormatValue(v)
}
