package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dbsmedya/gorecipe/internal/database"
	"github.com/dbsmedya/gorecipe/internal/logger"
)

const createJobTableSQL = `
CREATE TABLE IF NOT EXISTS gorecipe_job (
	job_id VARCHAR(64) PRIMARY KEY,
	dataset VARCHAR(255) NOT NULL,
	exporter VARCHAR(64) NOT NULL,
	status VARCHAR(16) NOT NULL,
	output_path TEXT,
	size_str VARCHAR(64),
	duration_seconds DOUBLE PRECISION,
	error_message TEXT,
	file_details TEXT,
	started_at TIMESTAMP NOT NULL,
	finished_at TIMESTAMP NULL
)`

const selectJobColumns = "job_id, dataset, exporter, status, output_path, size_str, duration_seconds, error_message, file_details, started_at, finished_at"

// SQLStore keeps job history in a SQL database.
type SQLStore struct {
	db     *sql.DB
	driver string
	logger *logger.Logger
}

// NewSQLStore creates a job store over db. driver is the database/sql driver
// name db was opened with and selects the placeholder style.
func NewSQLStore(db *sql.DB, driver string, log *logger.Logger) (*SQLStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is nil")
	}
	if log == nil {
		log = logger.NewDefault()
	}
	name, err := database.DriverName(driver)
	if err != nil {
		return nil, err
	}
	return &SQLStore{db: db, driver: name, logger: log}, nil
}

// InitializeTables creates the job table if it does not exist.
func (s *SQLStore) InitializeTables(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, createJobTableSQL); err != nil {
		return fmt.Errorf("failed to create gorecipe_job table: %w", err)
	}
	s.logger.Debug("Job history table initialized")
	return nil
}

// rebind rewrites ? placeholders for drivers that number them.
func (s *SQLStore) rebind(query string) string {
	var prefix string
	switch s.driver {
	case "pgx":
		prefix = "$"
	case "sqlserver":
		prefix = "@p"
	default:
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString(prefix)
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Record inserts or updates a job.
func (s *SQLStore) Record(ctx context.Context, info Info) error {
	details, err := encodeDetails(info.FileDetails)
	if err != nil {
		return err
	}
	var finished sql.NullTime
	if !info.FinishedAt.IsZero() {
		finished = sql.NullTime{Time: info.FinishedAt, Valid: true}
	}
	var errMsg sql.NullString
	if info.Error != nil {
		errMsg = sql.NullString{String: *info.Error, Valid: true}
	}

	res, err := s.db.ExecContext(ctx, s.rebind(
		"UPDATE gorecipe_job SET status = ?, size_str = ?, duration_seconds = ?, error_message = ?, file_details = ?, finished_at = ? WHERE job_id = ?"),
		string(info.Status), info.SizeStr, info.Duration, errMsg, details, finished, info.JobID,
	)
	if err != nil {
		return fmt.Errorf("failed to update job %s: %w", info.JobID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		return nil
	}

	_, err = s.db.ExecContext(ctx, s.rebind(
		"INSERT INTO gorecipe_job ("+selectJobColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)"),
		info.JobID, info.Dataset, info.Exporter, string(info.Status), info.OutputPath, info.SizeStr,
		info.Duration, errMsg, details, info.StartedAt, finished,
	)
	if err != nil {
		return fmt.Errorf("failed to insert job %s: %w", info.JobID, err)
	}
	return nil
}

// History returns up to limit jobs, newest first. limit <= 0 returns all.
func (s *SQLStore) History(ctx context.Context, limit int) ([]Info, error) {
	query := "SELECT " + selectJobColumns + " FROM gorecipe_job ORDER BY started_at DESC"
	var args []any
	if limit > 0 {
		if s.driver == "sqlserver" {
			query += " OFFSET 0 ROWS FETCH NEXT ? ROWS ONLY"
		} else {
			query += " LIMIT ?"
		}
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query job history: %w", err)
	}
	defer rows.Close()

	var out []Info
	for rows.Next() {
		var (
			info                   Info
			status                 string
			path, size, errMsg, fd sql.NullString
			duration               sql.NullFloat64
			finished               sql.NullTime
		)
		if err := rows.Scan(&info.JobID, &info.Dataset, &info.Exporter, &status, &path, &size,
			&duration, &errMsg, &fd, &info.StartedAt, &finished); err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		info.Status = Status(status)
		info.OutputPath = path.String
		info.SizeStr = size.String
		info.Duration = duration.Float64
		if errMsg.Valid {
			msg := errMsg.String
			info.Error = &msg
		}
		if finished.Valid {
			info.FinishedAt = finished.Time
		}
		if fd.Valid && fd.String != "" {
			if err := json.Unmarshal([]byte(fd.String), &info.FileDetails); err != nil {
				return nil, fmt.Errorf("job %s: bad file_details: %w", info.JobID, err)
			}
		}
		out = append(out, info)
	}
	return out, rows.Err()
}

// Prune deletes finished jobs that ended before cutoff.
func (s *SQLStore) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.rebind(
		"DELETE FROM gorecipe_job WHERE finished_at IS NOT NULL AND finished_at < ?"), cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune job history: %w", err)
	}
	return res.RowsAffected()
}

func encodeDetails(details []FileDetail) (sql.NullString, error) {
	if len(details) == 0 {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(details)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}
