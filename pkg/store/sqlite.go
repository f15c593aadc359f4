package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const schemaVersion = 1

const schema = `
CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL);
CREATE TABLE IF NOT EXISTS runs (
	id             TEXT PRIMARY KEY,
	created_at     TEXT NOT NULL,
	elements_path  TEXT NOT NULL,
	evidence_paths TEXT NOT NULL,
	output_path    TEXT,
	statistics     TEXT NOT NULL,
	document       BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at);
`

// SQLiteStore keeps runs in a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens or creates the database at path and applies the schema.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite store path is required")
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	var tableCount int
	err := s.db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableCount)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}

	if tableCount == 0 {
		if _, err := s.db.Exec(schema); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
		if _, err := s.db.Exec("INSERT INTO schema_version(version) VALUES(?)", schemaVersion); err != nil {
			return fmt.Errorf("set schema version: %w", err)
		}
		return nil
	}

	var v int
	err = s.db.QueryRow("SELECT version FROM schema_version LIMIT 1").Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("schema_version table is empty")
	}
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if v != schemaVersion {
		return fmt.Errorf("unknown schema version %d", v)
	}
	return nil
}

// Save inserts or replaces a run.
func (s *SQLiteStore) Save(ctx context.Context, run *Run) error {
	if err := validateRun(run); err != nil {
		return err
	}

	paths, err := json.Marshal(run.EvidencePaths)
	if err != nil {
		return fmt.Errorf("marshal evidence paths: %w", err)
	}
	stats, err := json.Marshal(run.Statistics)
	if err != nil {
		return fmt.Errorf("marshal statistics: %w", err)
	}
	document := run.Document
	if document == nil {
		document = []byte{}
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO runs(id, created_at, elements_path, evidence_paths, output_path, statistics, document)
		 VALUES(?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.CreatedAt.UTC().Format(time.RFC3339Nano), run.ElementsPath,
		string(paths), run.OutputPath, string(stats), document,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// Get loads one run.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, created_at, elements_path, evidence_paths, output_path, statistics, document
		 FROM runs WHERE id = ?`, id)

	var (
		summary  RunSummary
		document []byte
	)
	if err := scanSummary(row, &summary, &document); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("get run %s: %w", id, err)
	}

	return &Run{
		ID:            summary.ID,
		CreatedAt:     summary.CreatedAt,
		ElementsPath:  summary.ElementsPath,
		EvidencePaths: summary.EvidencePaths,
		OutputPath:    summary.OutputPath,
		Statistics:    summary.Statistics,
		Document:      document,
	}, nil
}

// List returns every run, newest first.
func (s *SQLiteStore) List(ctx context.Context) ([]RunSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, created_at, elements_path, evidence_paths, output_path, statistics
		 FROM runs`)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	runs := []RunSummary{}
	for rows.Next() {
		var summary RunSummary
		if err := scanSummary(rows, &summary, nil); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}

	sortSummaries(runs)
	return runs, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

// scanSummary reads the summary columns and, when document is non-nil,
// the trailing document column.
func scanSummary(sc scanner, summary *RunSummary, document *[]byte) error {
	var (
		createdAt, paths, stats string
		outputPath              sql.NullString
	)
	dest := []any{&summary.ID, &createdAt, &summary.ElementsPath, &paths, &outputPath, &stats}
	if document != nil {
		dest = append(dest, document)
	}
	if err := sc.Scan(dest...); err != nil {
		return err
	}

	t, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return fmt.Errorf("parse created_at: %w", err)
	}
	summary.CreatedAt = t
	if outputPath.Valid {
		summary.OutputPath = outputPath.String
	}
	if err := json.Unmarshal([]byte(paths), &summary.EvidencePaths); err != nil {
		return fmt.Errorf("parse evidence paths: %w", err)
	}
	if err := json.Unmarshal([]byte(stats), &summary.Statistics); err != nil {
		return fmt.Errorf("parse statistics: %w", err)
	}
	return nil
}
