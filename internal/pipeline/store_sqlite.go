package pipeline

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	apperrors "etlpulse/internal/errors"
	"etlpulse/internal/flow"
	"etlpulse/internal/summary"
)

const runsTable = `
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	source TEXT,
	fingerprint TEXT,
	state TEXT,
	failed_stage TEXT,
	error TEXT,
	row_count INTEGER,
	column_count INTEGER,
	cached BOOLEAN,
	summary TEXT,
	report TEXT,
	flow TEXT,
	created_at DATETIME,
	updated_at DATETIME
);
CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs (created_at);
`

const runColumns = `id, source, fingerprint, state, failed_stage, error, row_count, column_count, cached, summary, report, flow, created_at, updated_at`

// SQLiteStore keeps run history in a SQLite database
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and if needed creates) the database at dsn
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	if path := sqlitePath(dsn); path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, apperrors.NewStorageError("failed to create database directory", err)
		}
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, apperrors.NewStorageError("failed to open run database", err)
	}
	// sqlite serialises writers; one connection also keeps :memory: databases shared
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(runsTable); err != nil {
		db.Close()
		return nil, apperrors.NewStorageError("failed to create runs table", err)
	}
	return &SQLiteStore{db: db}, nil
}

// SaveRun upserts rec
func (s *SQLiteStore) SaveRun(ctx context.Context, rec *RunRecord) error {
	if rec == nil || rec.RunID == "" {
		return apperrors.NewStorageError("run record without run ID", nil)
	}

	summaryJSON, err := marshalNullable(rec.Summary)
	if err != nil {
		return apperrors.NewStorageError("failed to encode summary", err)
	}
	reportJSON, err := marshalNullable(rec.Report)
	if err != nil {
		return apperrors.NewStorageError("failed to encode report", err)
	}
	flowJSON, err := json.Marshal(rec.Flow)
	if err != nil {
		return apperrors.NewStorageError("failed to encode flow status", err)
	}

	_, err = s.db.ExecContext(ctx, `INSERT INTO runs (`+runColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			source = excluded.source,
			fingerprint = excluded.fingerprint,
			state = excluded.state,
			failed_stage = excluded.failed_stage,
			error = excluded.error,
			row_count = excluded.row_count,
			column_count = excluded.column_count,
			cached = excluded.cached,
			summary = excluded.summary,
			report = excluded.report,
			flow = excluded.flow,
			updated_at = excluded.updated_at`,
		rec.RunID, rec.Source, rec.Fingerprint, string(rec.State), string(rec.FailedStage), rec.Error,
		rec.Rows, rec.Columns, rec.Cached, summaryJSON, reportJSON, string(flowJSON),
		rec.CreatedAt.UTC(), rec.UpdatedAt.UTC())
	if err != nil {
		return apperrors.NewStorageError("failed to save run", err)
	}
	return nil
}

// GetRun fetches one run
func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*RunRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, runID)
	rec, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError("run " + runID)
	}
	if err != nil {
		return nil, apperrors.NewStorageError("failed to read run", err)
	}
	return rec, nil
}

// ListRuns returns matching runs, newest first
func (s *SQLiteStore) ListRuns(ctx context.Context, filter ListFilter) ([]*RunRecord, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter.State != "" {
		where = append(where, "state = ?")
		args = append(args, string(filter.State))
	}
	if !filter.Since.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, filter.Since.UTC())
	}

	query := `SELECT ` + runColumns + ` FROM runs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.NewStorageError("failed to list runs", err)
	}
	defer rows.Close()

	var runs []*RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, apperrors.NewStorageError("failed to read run", err)
		}
		runs = append(runs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewStorageError("failed to list runs", err)
	}
	return runs, nil
}

// DeleteRun removes a run
func (s *SQLiteStore) DeleteRun(ctx context.Context, runID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, runID)
	if err != nil {
		return apperrors.NewStorageError("failed to delete run", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.NewNotFoundError("run " + runID)
	}
	return nil
}

// Close closes the database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(sc scanner) (*RunRecord, error) {
	var (
		rec                     RunRecord
		state, failedStage      string
		summaryJSON, reportJSON sql.NullString
		flowJSON                string
		createdAt, updatedAt    time.Time
	)
	if err := sc.Scan(&rec.RunID, &rec.Source, &rec.Fingerprint, &state, &failedStage, &rec.Error,
		&rec.Rows, &rec.Columns, &rec.Cached, &summaryJSON, &reportJSON, &flowJSON,
		&createdAt, &updatedAt); err != nil {
		return nil, err
	}
	rec.State = flow.RunState(state)
	rec.FailedStage = flow.NodeID(failedStage)
	rec.CreatedAt = createdAt.UTC()
	rec.UpdatedAt = updatedAt.UTC()

	if summaryJSON.Valid {
		var s summary.Summary
		if err := json.Unmarshal([]byte(summaryJSON.String), &s); err != nil {
			return nil, fmt.Errorf("failed to decode summary: %w", err)
		}
		rec.Summary = &s
	}
	if reportJSON.Valid {
		var r Report
		if err := json.Unmarshal([]byte(reportJSON.String), &r); err != nil {
			return nil, fmt.Errorf("failed to decode report: %w", err)
		}
		rec.Report = &r
	}
	if err := json.Unmarshal([]byte(flowJSON), &rec.Flow); err != nil {
		return nil, fmt.Errorf("failed to decode flow status: %w", err)
	}
	return &rec, nil
}

func marshalNullable(v interface{}) (sql.NullString, error) {
	switch x := v.(type) {
	case *summary.Summary:
		if x == nil {
			return sql.NullString{}, nil
		}
	case *Report:
		if x == nil {
			return sql.NullString{}, nil
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

// sqlitePath returns the file behind dsn, or "" for in-memory databases
func sqlitePath(dsn string) string {
	path := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" || strings.Contains(path, ":memory:") {
		return ""
	}
	return path
}
