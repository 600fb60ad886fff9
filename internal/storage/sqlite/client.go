package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/essay-grader/backend/internal/storage/models"
	"github.com/essay-grader/backend/pkg/logger"
)

// Client archives result rows and every grading call behind them.
type Client struct {
	db   *sql.DB
	path string
}

// RunStats is the closing tally stored for a run.
type RunStats struct {
	Total   int
	Written int
	Skipped int
}

func NewClient(dbPath string) (*Client, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// one writer keeps concurrent workers from tripping SQLITE_BUSY
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = FULL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db, path: dbPath}, nil
}

func (c *Client) Name() string {
	return "sqlite"
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		mode TEXT NOT NULL,
		essays_total INTEGER NOT NULL,
		essays_written INTEGER,
		essays_skipped INTEGER,
		started_at INTEGER NOT NULL,
		finished_at INTEGER
	);

	CREATE TABLE IF NOT EXISTS essay_results (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		essay_id TEXT NOT NULL,
		source_file TEXT,
		mode TEXT NOT NULL,
		final_score INTEGER NOT NULL,
		individual_total INTEGER NOT NULL,
		reference_total INTEGER,
		difference_total INTEGER,
		row_json TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		UNIQUE (run_id, essay_id)
	);
	CREATE INDEX IF NOT EXISTS idx_results_run ON essay_results(run_id);
	CREATE INDEX IF NOT EXISTS idx_results_essay ON essay_results(essay_id);

	CREATE TABLE IF NOT EXISTS grading_calls (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		essay_id TEXT NOT NULL,
		role TEXT NOT NULL,
		attempt INTEGER NOT NULL,
		started_at INTEGER NOT NULL,
		latency_ms INTEGER NOT NULL,
		raw_response TEXT,
		error TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_calls_essay ON grading_calls(run_id, essay_id);
	CREATE INDEX IF NOT EXISTS idx_calls_role ON grading_calls(role);
	`

	_, err := c.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

func (c *Client) StartRun(ctx context.Context, runID string, mode models.Mode, total int) error {
	query := `INSERT INTO runs (id, mode, essays_total, started_at) VALUES (?, ?, ?, ?)`

	if _, err := c.db.ExecContext(ctx, query, runID, string(mode), total, time.Now().Unix()); err != nil {
		return fmt.Errorf("failed to start run: %w", err)
	}

	logger.Debug("Run recorded", zap.String("run_id", runID), zap.Int("total", total))
	return nil
}

func (c *Client) FinishRun(ctx context.Context, runID string, stats RunStats) error {
	query := `UPDATE runs SET essays_written = ?, essays_skipped = ?, finished_at = ? WHERE id = ?`

	res, err := c.db.ExecContext(ctx, query, stats.Written, stats.Skipped, time.Now().Unix(), runID)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("failed to finish run: unknown run %s", runID)
	}
	return nil
}

// Append stores the row and its call traces in one transaction.
func (c *Client) Append(ctx context.Context, row models.ResultRow) error {
	calls := row.Calls
	row.Calls = nil

	rowJSON, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("failed to encode row: %w", err)
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO essay_results (run_id, essay_id, source_file, mode, final_score, individual_total,
			reference_total, difference_total, row_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = tx.ExecContext(ctx, query,
		row.RunID,
		row.EssayID,
		row.SourceFile,
		string(row.Mode),
		row.ValidatedTotal,
		row.IndividualTotal,
		nullInt(row.ReferenceTotal),
		nullInt(row.DifferenceTotal),
		string(rowJSON),
		time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert result for essay %s: %w", row.EssayID, err)
	}

	callQuery := `
		INSERT INTO grading_calls (run_id, essay_id, role, attempt, started_at, latency_ms, raw_response, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	for _, call := range calls {
		_, err := tx.ExecContext(ctx, callQuery,
			row.RunID,
			row.EssayID,
			call.Role,
			call.Attempt,
			call.StartedAt.UnixMilli(),
			call.Latency.Milliseconds(),
			call.Raw,
			call.Err,
		)
		if err != nil {
			return fmt.Errorf("failed to insert call trace for essay %s: %w", row.EssayID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit essay %s: %w", row.EssayID, err)
	}

	logger.Debug("Result archived",
		zap.String("essay_id", row.EssayID),
		zap.Int("calls", len(calls)),
	)
	return nil
}

func (c *Client) GetRows(ctx context.Context, runID string) ([]models.ResultRow, error) {
	query := `SELECT row_json FROM essay_results WHERE run_id = ? ORDER BY id`

	rows, err := c.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get rows: %w", err)
	}
	defer rows.Close()

	var out []models.ResultRow
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		var r models.ResultRow
		if err := json.Unmarshal([]byte(raw), &r); err != nil {
			return nil, fmt.Errorf("failed to decode row: %w", err)
		}
		out = append(out, r)
	}

	return out, rows.Err()
}

func (c *Client) GetCalls(ctx context.Context, runID, essayID string) ([]models.CallTrace, error) {
	query := `
		SELECT role, attempt, started_at, latency_ms, raw_response, error
		FROM grading_calls
		WHERE run_id = ? AND essay_id = ?
		ORDER BY id
	`

	rows, err := c.db.QueryContext(ctx, query, runID, essayID)
	if err != nil {
		return nil, fmt.Errorf("failed to get calls: %w", err)
	}
	defer rows.Close()

	var calls []models.CallTrace
	for rows.Next() {
		var t models.CallTrace
		var startedAt, latencyMS int64
		var raw, callErr sql.NullString

		if err := rows.Scan(&t.Role, &t.Attempt, &startedAt, &latencyMS, &raw, &callErr); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		t.StartedAt = time.UnixMilli(startedAt)
		t.Latency = time.Duration(latencyMS) * time.Millisecond
		t.Raw = raw.String
		t.Err = callErr.String
		calls = append(calls, t)
	}

	return calls, rows.Err()
}

// ScoreStats reports the mean final score and the mean absolute difference
// against historical totals for a run.
func (c *Client) ScoreStats(ctx context.Context, runID string) (meanScore, meanAbsDiff float64, err error) {
	query := `
		SELECT COALESCE(AVG(final_score), 0), COALESCE(AVG(ABS(difference_total)), 0)
		FROM essay_results WHERE run_id = ?
	`
	if err := c.db.QueryRowContext(ctx, query, runID).Scan(&meanScore, &meanAbsDiff); err != nil {
		return 0, 0, fmt.Errorf("failed to compute score stats: %w", err)
	}
	return meanScore, meanAbsDiff, nil
}

func nullInt(p *int) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}
