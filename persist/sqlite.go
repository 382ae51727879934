package persist

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/keplerhq/kepler/insight"
	_ "modernc.org/sqlite"
)

// SQLiteStore is a SQLite implementation of Store.
//
// It stores runs and metric items in a single-file database. Designed for
// development and single-process deployments; use MySQLStore when multiple
// processes share the store.
//
// Schema:
//   - runs: one row per pipeline run
//   - metric_items: generated items, appended progressively during a run
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a SQLite-backed store at the given path.
// Use ":memory:" for an in-memory database (data lost on close).
//
// The store creates the database file and tables if needed, enables WAL
// mode for concurrent reads, and sets a busy timeout for lock contention.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite connection: %w", err)
	}

	// SQLite supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	store := &SQLiteStore{db: db}
	if err := store.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) createTables(ctx context.Context) error {
	runsTable := `
		CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL,
			status TEXT NOT NULL,
			started_at TIMESTAMP NOT NULL,
			completed_at TIMESTAMP,
			error TEXT NOT NULL DEFAULT '',
			items_saved INTEGER NOT NULL DEFAULT 0
		)
	`
	if _, err := s.db.ExecContext(ctx, runsTable); err != nil {
		return fmt.Errorf("failed to create runs table: %w", err)
	}

	itemsTable := `
		CREATE TABLE IF NOT EXISTS metric_items (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			project_id TEXT NOT NULL,
			item_id TEXT NOT NULL,
			topic TEXT NOT NULL,
			title TEXT NOT NULL,
			description TEXT NOT NULL,
			query TEXT NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`
	if _, err := s.db.ExecContext(ctx, itemsTable); err != nil {
		return fmt.Errorf("failed to create metric_items table: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "CREATE INDEX IF NOT EXISTS idx_items_run_id ON metric_items(run_id)"); err != nil {
		return fmt.Errorf("failed to create idx_items_run_id: %w", err)
	}
	return nil
}

// CreateRun implements the Store interface.
func (s *SQLiteStore) CreateRun(ctx context.Context, run insight.Run) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO runs (id, project_id, status, started_at, error, items_saved) VALUES (?, ?, ?, ?, ?, ?)",
		run.ID, run.ProjectID, string(run.Status), run.StartedAt.UTC(), run.Error, run.ItemsSaved)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}
	return nil
}

// GetRun implements the Store interface.
func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (insight.Run, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, project_id, status, started_at, completed_at, error, items_saved FROM runs WHERE id = ?",
		runID)
	return scanRun(row)
}

// SaveItems implements the Store interface.
func (s *SQLiteStore) SaveItems(ctx context.Context, runID, projectID string, items []insight.MetricItem) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO metric_items (run_id, project_id, item_id, topic, title, description, query) VALUES (?, ?, ?, ?, ?, ?, ?)")
	if err != nil {
		return 0, fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, item := range items {
		if _, err := stmt.ExecContext(ctx, runID, projectID, item.ID, item.Topic, item.Title, item.Description, item.Query); err != nil {
			return 0, fmt.Errorf("failed to insert item %q: %w", item.Title, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit items: %w", err)
	}
	return len(items), nil
}

// ListItems implements the Store interface.
func (s *SQLiteStore) ListItems(ctx context.Context, runID string) ([]insight.MetricItem, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT item_id, topic, title, description, query FROM metric_items WHERE run_id = ? ORDER BY id",
		runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query items: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var items []insight.MetricItem
	for rows.Next() {
		var item insight.MetricItem
		if err := rows.Scan(&item.ID, &item.Topic, &item.Title, &item.Description, &item.Query); err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// MarkRunStarted implements the Store interface.
func (s *SQLiteStore) MarkRunStarted(ctx context.Context, runID string) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE runs SET status = ? WHERE id = ? AND status = ?",
		string(insight.StatusRunning), runID, string(insight.StatusPending))
	if err != nil {
		return fmt.Errorf("failed to start run: %w", err)
	}
	return s.absorbUnchanged(ctx, result, runID)
}

// MarkRunComplete implements the Store interface.
func (s *SQLiteStore) MarkRunComplete(ctx context.Context, runID string, itemsSaved int) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE runs SET status = ?, completed_at = ?, items_saved = ? WHERE id = ? AND status IN (?, ?)",
		string(insight.StatusCompleted), time.Now().UTC(), itemsSaved, runID,
		string(insight.StatusPending), string(insight.StatusRunning))
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	return s.absorbUnchanged(ctx, result, runID)
}

// MarkRunFailed implements the Store interface.
func (s *SQLiteStore) MarkRunFailed(ctx context.Context, runID, reason string) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE runs SET status = ?, completed_at = ?, error = ? WHERE id = ? AND status IN (?, ?)",
		string(insight.StatusFailed), time.Now().UTC(), reason, runID,
		string(insight.StatusPending), string(insight.StatusRunning))
	if err != nil {
		return fmt.Errorf("failed to fail run: %w", err)
	}
	return s.absorbUnchanged(ctx, result, runID)
}

// absorbUnchanged distinguishes "run missing" from "transition absorbed
// by a guarded update": zero affected rows is fine as long as the run
// exists.
func (s *SQLiteStore) absorbUnchanged(ctx context.Context, result sql.Result, runID string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n > 0 {
		return nil
	}
	_, err = s.GetRun(ctx, runID)
	return err
}

// Close implements the Store interface.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (insight.Run, error) {
	var run insight.Run
	var status string
	var completedAt sql.NullTime
	err := row.Scan(&run.ID, &run.ProjectID, &status, &run.StartedAt, &completedAt, &run.Error, &run.ItemsSaved)
	if err == sql.ErrNoRows {
		return insight.Run{}, ErrNotFound
	}
	if err != nil {
		return insight.Run{}, fmt.Errorf("failed to scan run: %w", err)
	}
	run.Status = insight.RunStatus(status)
	if completedAt.Valid {
		t := completedAt.Time
		run.CompletedAt = &t
	}
	return run, nil
}
