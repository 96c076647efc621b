package results

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/fetchlab/harvester/internal/scraper"
)

const indexSchema = `
CREATE TABLE IF NOT EXISTS task_results (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	task_id       TEXT NOT NULL,
	status        TEXT NOT NULL,
	pages         INTEGER NOT NULL,
	records       INTEGER NOT NULL,
	compute_units REAL NOT NULL,
	file          TEXT NOT NULL,
	created_at    TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_task_results_task_id ON task_results(task_id);
CREATE INDEX IF NOT EXISTS idx_task_results_created ON task_results(created_at);
`

// Index is a SQLite catalog of persisted results, so operators can query
// task history without walking the results directory.
type Index struct {
	db *sql.DB
}

// Entry is one indexed result row.
type Entry struct {
	TaskID       string    `json:"task_id"`
	Status       string    `json:"status"`
	Pages        int       `json:"pages"`
	Records      int       `json:"records"`
	ComputeUnits float64   `json:"compute_units"`
	File         string    `json:"file"`
	CreatedAt    time.Time `json:"created_at"`
}

// OpenIndex opens (creating if needed) the index database at path.
func OpenIndex(path string) (*Index, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open result index: %w", err)
	}
	if _, err := db.Exec(indexSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize result index schema: %w", err)
	}
	return &Index{db: db}, nil
}

// Record inserts one row for a persisted result.
func (ix *Index) Record(ctx context.Context, result *scraper.TaskResult, file string) error {
	_, err := ix.db.ExecContext(ctx,
		`INSERT INTO task_results (task_id, status, pages, records, compute_units, file, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		result.TaskID, result.Status, result.PagesScraped, result.TotalRecords,
		result.ComputeUnitsUsed, file, result.CreatedAt,
	)
	return err
}

// Recent returns the newest entries, most recent first.
func (ix *Index) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := ix.db.QueryContext(ctx,
		`SELECT task_id, status, pages, records, compute_units, file, created_at
		 FROM task_results ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.TaskID, &e.Status, &e.Pages, &e.Records, &e.ComputeUnits, &e.File, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// PruneBefore removes rows older than the cutoff.
func (ix *Index) PruneBefore(ctx context.Context, cutoff time.Time) error {
	_, err := ix.db.ExecContext(ctx, `DELETE FROM task_results WHERE created_at < ?`, cutoff)
	return err
}

// Close closes the underlying database.
func (ix *Index) Close() error {
	return ix.db.Close()
}
