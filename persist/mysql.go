package persist

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/keplerhq/kepler/insight"
)

// MySQLStore is a MySQL implementation of Store.
//
// Designed for deployments where multiple keplerd processes share one
// database. The DSN must include parseTime=true so TIMESTAMP columns scan
// into time.Time, for example:
//
//	user:pass@tcp(localhost:3306)/kepler?parseTime=true
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore creates a MySQL-backed store and verifies connectivity.
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL connection: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping MySQL: %w", err)
	}

	store := &MySQLStore{db: db}
	if err := store.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return store, nil
}

func (s *MySQLStore) createTables(ctx context.Context) error {
	runsTable := `
		CREATE TABLE IF NOT EXISTS runs (
			id VARCHAR(64) PRIMARY KEY,
			project_id VARCHAR(64) NOT NULL,
			status VARCHAR(16) NOT NULL,
			started_at TIMESTAMP NOT NULL,
			completed_at TIMESTAMP NULL,
			error TEXT NOT NULL,
			items_saved INT NOT NULL DEFAULT 0,
			INDEX idx_runs_project (project_id)
		) ENGINE=InnoDB
	`
	if _, err := s.db.ExecContext(ctx, runsTable); err != nil {
		return fmt.Errorf("failed to create runs table: %w", err)
	}

	itemsTable := `
		CREATE TABLE IF NOT EXISTS metric_items (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			run_id VARCHAR(64) NOT NULL,
			project_id VARCHAR(64) NOT NULL,
			item_id VARCHAR(64) NOT NULL,
			topic VARCHAR(255) NOT NULL,
			title VARCHAR(255) NOT NULL,
			description TEXT NOT NULL,
			query TEXT NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			INDEX idx_items_run (run_id)
		) ENGINE=InnoDB
	`
	if _, err := s.db.ExecContext(ctx, itemsTable); err != nil {
		return fmt.Errorf("failed to create metric_items table: %w", err)
	}
	return nil
}

// CreateRun implements the Store interface.
func (s *MySQLStore) CreateRun(ctx context.Context, run insight.Run) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO runs (id, project_id, status, started_at, error, items_saved) VALUES (?, ?, ?, ?, ?, ?)",
		run.ID, run.ProjectID, string(run.Status), run.StartedAt.UTC(), run.Error, run.ItemsSaved)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}
	return nil
}

// GetRun implements the Store interface.
func (s *MySQLStore) GetRun(ctx context.Context, runID string) (insight.Run, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, project_id, status, started_at, completed_at, error, items_saved FROM runs WHERE id = ?",
		runID)
	return scanRun(row)
}

// SaveItems implements the Store interface.
func (s *MySQLStore) SaveItems(ctx context.Context, runID, projectID string, items []insight.MetricItem) (int, error) {
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
func (s *MySQLStore) ListItems(ctx context.Context, runID string) ([]insight.MetricItem, error) {
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
func (s *MySQLStore) MarkRunStarted(ctx context.Context, runID string) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE runs SET status = ? WHERE id = ? AND status = ?",
		string(insight.StatusRunning), runID, string(insight.StatusPending))
	if err != nil {
		return fmt.Errorf("failed to start run: %w", err)
	}
	return s.absorbUnchanged(ctx, result, runID)
}

// MarkRunComplete implements the Store interface.
func (s *MySQLStore) MarkRunComplete(ctx context.Context, runID string, itemsSaved int) error {
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
func (s *MySQLStore) MarkRunFailed(ctx context.Context, runID, reason string) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE runs SET status = ?, completed_at = ?, error = ? WHERE id = ? AND status IN (?, ?)",
		string(insight.StatusFailed), time.Now().UTC(), reason, runID,
		string(insight.StatusPending), string(insight.StatusRunning))
	if err != nil {
		return fmt.Errorf("failed to fail run: %w", err)
	}
	return s.absorbUnchanged(ctx, result, runID)
}

func (s *MySQLStore) absorbUnchanged(ctx context.Context, result sql.Result, runID string) error {
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
func (s *MySQLStore) Close() error {
	return s.db.Close()
}
