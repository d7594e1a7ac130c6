package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/walletscore/jobgate/internal/errorx"
	"github.com/walletscore/jobgate/internal/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	job_id TEXT PRIMARY KEY,
	payment_id TEXT NOT NULL,
	status TEXT NOT NULL,
	normalized_input TEXT NOT NULL,
	result TEXT,
	fail_reason TEXT,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_jobs_input_created ON jobs(normalized_input, created_at);
CREATE INDEX IF NOT EXISTS idx_jobs_created ON jobs(created_at);
CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);

CREATE TABLE IF NOT EXISTS cache (
	address TEXT NOT NULL,
	network TEXT NOT NULL,
	result TEXT NOT NULL,
	computed_at INTEGER NOT NULL,
	PRIMARY KEY (address, network)
);
`

const jobColumns = `job_id, payment_id, status, normalized_input, result, fail_reason, created_at, updated_at`

// DB wraps the SQL database with job and cache operations.
type DB struct {
	*sql.DB
	now func() time.Time
}

// Option configures a DB.
type Option func(*DB)

// WithClock overrides the time source used for timestamps and TTL checks.
func WithClock(now func() time.Time) Option {
	return func(db *DB) { db.now = now }
}

// Open opens the SQLite file at path, creating its directory, and initializes the schema.
func Open(path string, opts ...Option) (*DB, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=10000&_journal_mode=WAL&_synchronous=NORMAL&_foreign_keys=on", path)
	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// One connection serializes writers so a status transition is never interleaved.
	sqlDB.SetMaxOpenConns(1)

	db := &DB{DB: sqlDB, now: time.Now}
	for _, opt := range opts {
		opt(db)
	}

	if err := db.InitSchema(); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return db, nil
}

// InitSchema creates the tables and indexes if they do not exist.
func (db *DB) InitSchema() error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

// Now returns the store's current time.
func (db *DB) Now() time.Time {
	return db.now()
}

// InsertJob inserts a new job.
func (db *DB) InsertJob(ctx context.Context, job *models.Job) error {
	if err := job.Check(); err != nil {
		return fmt.Errorf("insert job %s: %w", job.ID, err)
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, job.ID, job.PaymentID, string(job.Status), job.NormalizedInput,
		nullString(job.Result), nullString(job.FailReason),
		job.CreatedAt.UnixNano(), job.UpdatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("insert job %s: %w", job.ID, err)
	}
	return nil
}

// GetJobByID retrieves a job by its ID.
func (db *DB) GetJobByID(ctx context.Context, id string) (*models.Job, error) {
	row := db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE job_id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errorx.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	return job, nil
}

// FindRecentByInput returns the most recently created job whose normalized
// input is byte-identical to normalized and whose created_at is at or after since.
func (db *DB) FindRecentByInput(ctx context.Context, normalized string, since time.Time) (*models.Job, error) {
	row := db.QueryRowContext(ctx, `
		SELECT `+jobColumns+`
		FROM jobs
		WHERE normalized_input = ? AND created_at >= ?
		ORDER BY created_at DESC
		LIMIT 1
	`, normalized, since.UnixNano())
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errorx.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find recent job: %w", err)
	}
	return job, nil
}

// ListJobs retrieves the most recent jobs, optionally filtered by status.
func (db *DB) ListJobs(ctx context.Context, status models.Status, limit int) ([]models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE 1=1`
	args := []interface{}{}

	if status != "" {
		query += " AND status = ?"
		args = append(args, string(status))
	}

	query += " ORDER BY created_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	return scanJobs(rows)
}

// ListJobsByStatus returns every job in status, oldest first.
func (db *DB) ListJobsByStatus(ctx context.Context, status models.Status) ([]models.Job, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE status = ? ORDER BY created_at ASC`, string(status))
	if err != nil {
		return nil, fmt.Errorf("list %s jobs: %w", status, err)
	}
	defer rows.Close()

	return scanJobs(rows)
}

// GetMetrics counts jobs by status and cache rows.
func (db *DB) GetMetrics(ctx context.Context) (*models.Metrics, error) {
	var m models.Metrics

	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cache`).Scan(&m.CacheEntries); err != nil {
		return nil, fmt.Errorf("count cache: %w", err)
	}

	rows, err := db.QueryContext(ctx, `SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count jobs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan job count: %w", err)
		}
		m.TotalJobs += n
		switch models.Status(status) {
		case models.StatusAwaitingPayment:
			m.AwaitingPaymentJobs = n
		case models.StatusRunning:
			m.RunningJobs = n
		case models.StatusCompleted:
			m.CompletedJobs = n
		case models.StatusFailed:
			m.FailedJobs = n
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("count jobs: %w", err)
	}
	return &m, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*models.Job, error) {
	var job models.Job
	var status string
	var result, failReason sql.NullString
	var createdAt, updatedAt int64

	err := row.Scan(&job.ID, &job.PaymentID, &status, &job.NormalizedInput,
		&result, &failReason, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	job.Status = models.Status(status)
	job.Result = result.String
	job.FailReason = failReason.String
	job.CreatedAt = time.Unix(0, createdAt).UTC()
	job.UpdatedAt = time.Unix(0, updatedAt).UTC()
	return &job, nil
}

func scanJobs(rows *sql.Rows) ([]models.Job, error) {
	jobs := []models.Job{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return jobs, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: s, Valid: true}
}
