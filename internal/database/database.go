// Package database provides database/sql connection management for gorecipe.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"   // driver "mysql"
	_ "github.com/jackc/pgx/v5/stdlib"   // driver "pgx"
	_ "github.com/microsoft/go-mssqldb" // driver "sqlserver"
	_ "modernc.org/sqlite"              // driver "sqlite"

	"github.com/dbsmedya/gorecipe/internal/config"
)

// ErrUnsupportedDriver is returned for driver names gorecipe does not ship.
var ErrUnsupportedDriver = errors.New("unsupported database driver")

var driverNames = map[string]string{
	"mysql":      "mysql",
	"postgres":   "pgx",
	"postgresql": "pgx",
	"pgx":        "pgx",
	"sqlserver":  "sqlserver",
	"mssql":      "sqlserver",
	"sqlite":     "sqlite",
	"sqlite3":    "sqlite",
}

// DriverName maps a user-facing driver name to the registered database/sql driver.
func DriverName(kind string) (string, error) {
	name, ok := driverNames[strings.ToLower(kind)]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedDriver, kind)
	}
	return name, nil
}

// Opener opens a *sql.DB; sql.Open by default.
type Opener func(driverName, dsn string) (*sql.DB, error)

// Manager opens named connections lazily and shares them.
type Manager struct {
	connections map[string]config.DatabaseConfig
	open        Opener
	maxRetries  int
	backoff     time.Duration

	mu    sync.Mutex
	conns map[string]*sql.DB
}

// NewManager creates a new database manager from the configured connections.
func NewManager(connections map[string]config.DatabaseConfig) *Manager {
	return &Manager{
		connections: connections,
		open:        sql.Open,
		maxRetries:  3,
		backoff:     time.Second,
		conns:       make(map[string]*sql.DB),
	}
}

// WithOpener replaces sql.Open, mainly for tests.
func (m *Manager) WithOpener(open Opener, backoff time.Duration) *Manager {
	m.open = open
	m.backoff = backoff
	return m
}

// Get returns the connection named name, connecting on first use.
func (m *Manager) Get(ctx context.Context, name string) (*sql.DB, error) {
	cfg, ok := m.connections[name]
	if !ok {
		return nil, fmt.Errorf("connection %q is not configured", name)
	}
	return m.cached(ctx, name, &cfg)
}

// DriverFor returns the configured driver of a named connection.
func (m *Manager) DriverFor(name string) string {
	return m.connections[name].Driver
}

// GetDSN is Get for an ad-hoc driver and DSN. Connections are cached per
// driver and DSN pair.
func (m *Manager) GetDSN(ctx context.Context, kind, dsn string) (*sql.DB, error) {
	return m.cached(ctx, kind+"|"+dsn, &config.DatabaseConfig{Driver: kind, DSN: dsn})
}

func (m *Manager) cached(ctx context.Context, key string, cfg *config.DatabaseConfig) (*sql.DB, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if db, ok := m.conns[key]; ok {
		return db, nil
	}
	db, err := m.Open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", displayKey(key), err)
	}
	m.conns[key] = db
	return db, nil
}

// displayKey keeps DSNs, which may carry passwords, out of error messages.
func displayKey(key string) string {
	if i := strings.IndexByte(key, '|'); i >= 0 {
		return key[:i] + " database"
	}
	return key
}

// Open connects using cfg without caching the result.
func (m *Manager) Open(ctx context.Context, cfg *config.DatabaseConfig) (*sql.DB, error) {
	driver, err := DriverName(cfg.Driver)
	if err != nil {
		return nil, err
	}
	dsn, err := DSN(cfg)
	if err != nil {
		return nil, err
	}
	db, err := m.connectWithRetry(ctx, driver, dsn)
	if err != nil {
		return nil, err
	}
	if cfg.MaxConnections > 0 {
		db.SetMaxOpenConns(cfg.MaxConnections)
	}
	if cfg.MaxIdleConnections > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConnections)
	}
	db.SetConnMaxLifetime(10 * time.Minute)
	return db, nil
}

// OpenDSN connects to dsn with the given user-facing driver name.
func (m *Manager) OpenDSN(ctx context.Context, kind, dsn string) (*sql.DB, error) {
	return m.Open(ctx, &config.DatabaseConfig{Driver: kind, DSN: dsn})
}

// connectWithRetry attempts to connect with exponential backoff.
func (m *Manager) connectWithRetry(ctx context.Context, driver, dsn string) (*sql.DB, error) {
	var err error
	backoff := m.backoff

	for i := 0; i < m.maxRetries; i++ {
		var db *sql.DB
		db, err = m.open(driver, dsn)
		if err == nil {
			pingErr := db.PingContext(ctx)
			if pingErr == nil {
				return db, nil
			}
			db.Close()
			err = pingErr
		}

		if i < m.maxRetries-1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
				backoff *= 2
			}
		}
	}

	return nil, fmt.Errorf("failed after %d retries: %w", m.maxRetries, err)
}

// DSN returns cfg.DSN, or builds a MySQL DSN from the individual fields.
func DSN(cfg *config.DatabaseConfig) (string, error) {
	if cfg.DSN != "" {
		return cfg.DSN, nil
	}
	driver, err := DriverName(cfg.Driver)
	if err != nil {
		return "", err
	}
	if driver != "mysql" {
		return "", fmt.Errorf("dsn is required for driver %s", cfg.Driver)
	}
	return BuildDSN(cfg), nil
}

// BuildDSN constructs a MySQL DSN from configuration.
func BuildDSN(cfg *config.DatabaseConfig) string {
	// Format: user:password@tcp(host:port)/database?params
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/",
		cfg.User,
		cfg.Password,
		cfg.Host,
		cfg.Port,
	)

	if cfg.Database != "" {
		dsn += cfg.Database
	}

	params := "?parseTime=true"
	switch cfg.TLS {
	case "disable":
		params += "&tls=false"
	case "required":
		params += "&tls=true"
	case "preferred", "":
		params += "&tls=preferred"
	}

	return dsn + params
}

// Close closes all cached connections.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for name, db := range m.conns {
		if err := db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s close: %w", displayKey(name), err))
		}
		delete(m.conns, name)
	}
	return errors.Join(errs...)
}
