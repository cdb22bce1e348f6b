// Package joblog is the append-only job log kept in a local SQLite file.
package joblog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// Outcome statuses.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

const appendTimeout = 5 * time.Second

// ErrNotFound is returned by Get for an unknown id.
var ErrNotFound = errors.New("job log record not found")

// Record is one terminal job outcome.
type Record struct {
	ID           int64     `json:"id"`
	CreatedAt    time.Time `json:"created_at"`
	ClientID     string    `json:"client_id"`
	ClientType   string    `json:"client_type"`
	Printer      string    `json:"printer"`
	TemplateID   string    `json:"template_id"`
	JobJSON      string    `json:"job_json"`
	PageCount    int       `json:"page_count"`
	Status       string    `json:"status"`
	Reprintable  bool      `json:"reprintable"`
	ErrorMessage string    `json:"error_message,omitempty"`
}

// Counts summarizes outcomes for health checks.
type Counts struct {
	Success int64 `json:"success"`
	Failed  int64 `json:"failed"`
}

// Store is the job log.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// Open opens or creates the log database at path and applies migrations.
func Open(path string, logger *zap.Logger) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create job log directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open job log: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := runMigrations(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return New(db, logger), nil
}

// New wraps an already migrated database.
func New(db *sql.DB, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{db: db, logger: logger}
}

// Append writes rec. Failures are logged and otherwise ignored: the log
// never affects the outcome it records.
func (s *Store) Append(ctx context.Context, rec Record) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), appendTimeout)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO print_logs
			(client_id, client_type, printer, template_id, job_json, page_count, status, reprintable, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ClientID, rec.ClientType, rec.Printer, rec.TemplateID, rec.JobJSON,
		rec.PageCount, rec.Status, rec.Reprintable, rec.ErrorMessage)
	if err != nil {
		s.logger.Error("job log write failed",
			zap.String("template_id", rec.TemplateID),
			zap.String("status", rec.Status),
			zap.Error(err))
	}
}

const selectColumns = `SELECT id, created_at, client_id, client_type, printer, template_id,
	job_json, page_count, status, reprintable, error_message FROM print_logs`

// Recent returns up to limit records, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, selectColumns+" ORDER BY id DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("query job log: %w", err)
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Get returns one record.
func (s *Store) Get(ctx context.Context, id int64) (Record, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+" WHERE id = ?", id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	return rec, err
}

// Counts returns the number of records per outcome.
func (s *Store) Counts(ctx context.Context) (Counts, error) {
	var c Counts
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN status = 'success' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0)
		FROM print_logs`).Scan(&c.Success, &c.Failed)
	if err != nil {
		return Counts{}, fmt.Errorf("count job log: %w", err)
	}
	return c, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc scanner) (Record, error) {
	var rec Record
	err := sc.Scan(&rec.ID, &rec.CreatedAt, &rec.ClientID, &rec.ClientType, &rec.Printer,
		&rec.TemplateID, &rec.JobJSON, &rec.PageCount, &rec.Status, &rec.Reprintable, &rec.ErrorMessage)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return rec, err
		}
		return rec, fmt.Errorf("scan job log record: %w", err)
	}
	return rec, nil
}
