package database

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbsmedya/gorecipe/internal/config"
)

func TestBuildDSN(t *testing.T) {
	tests := []struct {
		name     string
		cfg      *config.DatabaseConfig
		expected string
	}{
		{
			name: "basic DSN",
			cfg: &config.DatabaseConfig{
				Host: "localhost", Port: 3306, User: "root", Password: "secret",
				Database: "testdb", TLS: "preferred",
			},
			expected: "root:secret@tcp(localhost:3306)/testdb?parseTime=true&tls=preferred",
		},
		{
			name: "DSN without database",
			cfg: &config.DatabaseConfig{
				Host: "localhost", Port: 3306, User: "root", Password: "secret",
			},
			expected: "root:secret@tcp(localhost:3306)/?parseTime=true&tls=preferred",
		},
		{
			name: "DSN with TLS disabled",
			cfg: &config.DatabaseConfig{
				Host: "localhost", Port: 3306, User: "root", Password: "secret",
				Database: "testdb", TLS: "disable",
			},
			expected: "root:secret@tcp(localhost:3306)/testdb?parseTime=true&tls=false",
		},
		{
			name: "DSN with TLS required",
			cfg: &config.DatabaseConfig{
				Host: "remote-host", Port: 3307, User: "admin", Password: "p@ssw0rd!",
				Database: "mydb", TLS: "required",
			},
			expected: "admin:p@ssw0rd!@tcp(remote-host:3307)/mydb?parseTime=true&tls=true",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, BuildDSN(tt.cfg))
		})
	}
}

func TestDSN(t *testing.T) {
	dsn, err := DSN(&config.DatabaseConfig{Driver: "postgres", DSN: "postgres://h/db"})
	require.NoError(t, err)
	assert.Equal(t, "postgres://h/db", dsn)

	_, err = DSN(&config.DatabaseConfig{Driver: "sqlite"})
	assert.Error(t, err)

	_, err = DSN(&config.DatabaseConfig{Driver: "oracle"})
	assert.ErrorIs(t, err, ErrUnsupportedDriver)
}

func TestDriverName(t *testing.T) {
	tests := map[string]string{
		"mysql":      "mysql",
		"postgres":   "pgx",
		"PostgreSQL": "pgx",
		"mssql":      "sqlserver",
		"sqlite3":    "sqlite",
	}
	for in, want := range tests {
		got, err := DriverName(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := DriverName("db2")
	assert.ErrorIs(t, err, ErrUnsupportedDriver)
}

// mockOpener hands out one sqlmock connection per attempt.
func mockOpener(t *testing.T, pingErrs ...error) (Opener, *int) {
	calls := 0
	return func(driverName, dsn string) (*sql.DB, error) {
		db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		require.NoError(t, err)
		var pingErr error
		if calls < len(pingErrs) {
			pingErr = pingErrs[calls]
		}
		calls++
		if pingErr != nil {
			mock.ExpectPing().WillReturnError(pingErr)
			mock.ExpectClose()
		} else {
			mock.ExpectPing()
		}
		return db, nil
	}, &calls
}

func TestManager_RetriesUntilPingSucceeds(t *testing.T) {
	open, calls := mockOpener(t, errors.New("connection refused"))
	m := NewManager(map[string]config.DatabaseConfig{
		"wh": {Driver: "postgres", DSN: "postgres://h/db", MaxConnections: 3},
	}).WithOpener(open, time.Millisecond)

	db, err := m.Get(context.Background(), "wh")
	require.NoError(t, err)
	assert.NotNil(t, db)
	assert.Equal(t, 2, *calls)

	again, err := m.Get(context.Background(), "wh")
	require.NoError(t, err)
	assert.Same(t, db, again)
	assert.Equal(t, 2, *calls)
}

func TestManager_GivesUpAfterRetries(t *testing.T) {
	down := errors.New("down")
	open, calls := mockOpener(t, down, down, down)
	m := NewManager(nil).WithOpener(open, time.Millisecond)

	_, err := m.OpenDSN(context.Background(), "mysql", "u:p@tcp(h:3306)/")
	require.Error(t, err)
	assert.ErrorIs(t, err, down)
	assert.Contains(t, err.Error(), "failed after 3 retries")
	assert.Equal(t, 3, *calls)
}

func TestManager_UnknownConnection(t *testing.T) {
	m := NewManager(nil)
	_, err := m.Get(context.Background(), "missing")
	assert.Error(t, err)
}

func TestManager_ContextCanceledDuringBackoff(t *testing.T) {
	open, _ := mockOpener(t, errors.New("down"), errors.New("down"), errors.New("down"))
	m := NewManager(nil).WithOpener(open, time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := m.OpenDSN(ctx, "sqlite", "file::memory:")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestManager_OpensRealSQLite(t *testing.T) {
	m := NewManager(map[string]config.DatabaseConfig{
		"local": {Driver: "sqlite", DSN: t.TempDir() + "/test.db"},
	})
	defer m.Close()

	db, err := m.Get(context.Background(), "local")
	require.NoError(t, err)

	var one int
	require.NoError(t, db.QueryRow("SELECT 1").Scan(&one))
	assert.Equal(t, 1, one)
}
