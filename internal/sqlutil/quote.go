// Package sqlutil provides SQL identifier helpers for the SQL loader and exporters.
package sqlutil

import (
	"regexp"
	"strings"
)

// Dialect selects the identifier quoting style.
type Dialect int

const (
	// MySQL quotes with backticks.
	MySQL Dialect = iota
	// ANSI quotes with double quotes (SQLite, PostgreSQL).
	ANSI
	// SQLServer quotes with square brackets.
	SQLServer
)

// DialectFor maps a database/sql driver name to its quoting dialect.
func DialectFor(driverName string) Dialect {
	switch driverName {
	case "mysql":
		return MySQL
	case "sqlserver":
		return SQLServer
	default:
		return ANSI
	}
}

// Quote quotes name for the dialect, escaping the closing quote character.
func (d Dialect) Quote(name string) string {
	switch d {
	case ANSI:
		return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
	case SQLServer:
		return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
	default:
		return QuoteIdentifier(name)
	}
}

// QuoteIdentifier quotes a MySQL identifier (table name, column name) with backticks.
// It escapes any existing backticks by doubling them.
// Example: "my_table" -> "`my_table`"
func QuoteIdentifier(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

// validIdentifierRegex restricts user-supplied table names to alphanumerics
// and underscore.
var validIdentifierRegex = regexp.MustCompile("^[a-zA-Z0-9_]+$")

// IsValidIdentifier checks if a name only contains alphanumeric characters and underscores.
func IsValidIdentifier(name string) bool {
	return validIdentifierRegex.MatchString(name)
}

// QuoteIdentifierSafe quotes a table name for the dialect after validating it.
// Use this when identifiers might come from untrusted sources.
func QuoteIdentifierSafe(d Dialect, name string) (string, error) {
	if !IsValidIdentifier(name) {
		return "", &InvalidIdentifierError{Name: name}
	}
	return d.Quote(name), nil
}

// SanitizeIdentifier turns an arbitrary string (a file stem, say) into a valid
// identifier by replacing other characters with '_'. A leading digit gets a
// '_' prefix.
func SanitizeIdentifier(name string) string {
	var b strings.Builder
	for _, r := range name {
		if r < 128 && (r == '_' || ('a' <= r && r <= 'z') || ('A' <= r && r <= 'Z') || ('0' <= r && r <= '9')) {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	s := b.String()
	if s == "" {
		return "data"
	}
	if s[0] >= '0' && s[0] <= '9' {
		s = "_" + s
	}
	return s
}

// InvalidIdentifierError is returned when an identifier contains invalid characters.
type InvalidIdentifierError struct {
	Name string
}

func (e *InvalidIdentifierError) Error() string {
	return "invalid identifier: " + e.Name + " (must contain only alphanumeric characters and underscores)"
}
