// Package runlog keeps a SQLite history of export runs and the records that
// failed during them.
package runlog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	worlddomain "github.com/sleroq/world-to-obsidian/internal/domain/world"
	"github.com/sleroq/world-to-obsidian/internal/infra/runlog/migrations"
)

const migrationTable = "schema_migrations"

const (
	StatusRunning  = "running"
	StatusOK       = "ok"
	StatusPartial  = "partial"
	StatusFailed   = "failed"
	defaultListCap = 20
)

var ErrRunNotFound = errors.New("run not found")

// Run is one row of the ledger.
type Run struct {
	ID           string
	WorldID      string
	StartedAt    time.Time
	FinishedAt   time.Time
	Status       string
	Error        string
	Exported     map[worlddomain.Kind]int
	Skipped      int
	Files        int
	BrokenAssets int
	FailureCount int
}

func (r Run) TotalExported() int {
	total := 0
	for _, n := range r.Exported {
		total += n
	}
	return total
}

type Store struct {
	sqlDB *sql.DB
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens the ledger at path and applies the embedded migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("ledger path is required")
	}
	cleanPath := filepath.Clean(path)
	if err := os.MkdirAll(filepath.Dir(cleanPath), 0o700); err != nil {
		return nil, fmt.Errorf("create ledger dir: %w", err)
	}
	dsn := cleanPath + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *Store) BeginRun(ctx context.Context, id, worldID string, started time.Time) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("run id is required")
	}
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO runs (id, world_id, started_at, status) VALUES (?, ?, ?, ?)`,
		id, worldID, toMillis(started), StatusRunning,
	)
	if err != nil {
		return fmt.Errorf("begin run %s: %w", id, err)
	}
	return nil
}

// FinishRun stores the run's outcome. A non-nil cause marks the run failed.
func (s *Store) FinishRun(ctx context.Context, id string, finished time.Time, summary worlddomain.RunSummary, cause error) error {
	status := StatusOK
	message := ""
	switch {
	case cause != nil:
		status = StatusFailed
		message = cause.Error()
	case len(summary.Failures) > 0 || summary.BrokenAssets > 0:
		status = StatusPartial
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", id, err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`UPDATE runs SET finished_at = ?, status = ?, error = ?, skipped = ?, files = ?, broken_assets = ? WHERE id = ?`,
		toMillis(finished), status, message, summary.Skipped, summary.Files, summary.BrokenAssets, id,
	)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("finish run %s: %w", id, ErrRunNotFound)
	}

	kinds := make([]string, 0, len(summary.Exported))
	for kind := range summary.Exported {
		kinds = append(kinds, string(kind))
	}
	sort.Strings(kinds)
	for _, kind := range kinds {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO run_exports (run_id, kind, exported) VALUES (?, ?, ?)`,
			id, kind, summary.Exported[worlddomain.Kind(kind)],
		); err != nil {
			return fmt.Errorf("record exports for %s: %w", id, err)
		}
	}

	for i, f := range summary.Failures {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO run_failures (run_id, seq, kind, record_id, record_name, stage, message) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			id, i, string(f.Kind), f.RecordID, f.RecordName, f.Stage, f.Message,
		); err != nil {
			return fmt.Errorf("record failure for %s: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("finish run %s: %w", id, err)
	}
	return nil
}

// Runs returns the most recent runs, newest first.
func (s *Store) Runs(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = defaultListCap
	}
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT r.id, r.world_id, r.started_at, r.finished_at, r.status, r.error, r.skipped, r.files, r.broken_assets,
		        (SELECT COUNT(*) FROM run_failures f WHERE f.run_id = r.id)
		   FROM runs r
		  ORDER BY r.started_at DESC, r.id
		  LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			r        Run
			started  int64
			finished sql.NullInt64
		)
		if err := rows.Scan(&r.ID, &r.WorldID, &started, &finished, &r.Status, &r.Error, &r.Skipped, &r.Files, &r.BrokenAssets, &r.FailureCount); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.StartedAt = fromMillis(started)
		if finished.Valid {
			r.FinishedAt = fromMillis(finished.Int64)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}

	for i := range runs {
		exported, err := s.exports(ctx, runs[i].ID)
		if err != nil {
			return nil, err
		}
		runs[i].Exported = exported
	}
	return runs, nil
}

func (s *Store) exports(ctx context.Context, runID string) (map[worlddomain.Kind]int, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `SELECT kind, exported FROM run_exports WHERE run_id = ?`, runID)
	if err != nil {
		return nil, fmt.Errorf("list exports for %s: %w", runID, err)
	}
	defer rows.Close()

	out := map[worlddomain.Kind]int{}
	for rows.Next() {
		var (
			kind string
			n    int
		)
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, fmt.Errorf("scan export count: %w", err)
		}
		out[worlddomain.Kind(kind)] = n
	}
	return out, rows.Err()
}

// Failures lists the failures recorded for runID in the order they happened.
func (s *Store) Failures(ctx context.Context, runID string) ([]worlddomain.Failure, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT kind, record_id, record_name, stage, message FROM run_failures WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("list failures for %s: %w", runID, err)
	}
	defer rows.Close()

	var out []worlddomain.Failure
	for rows.Next() {
		var (
			f    worlddomain.Failure
			kind string
		)
		if err := rows.Scan(&kind, &f.RecordID, &f.RecordName, &f.Stage, &f.Message); err != nil {
			return nil, fmt.Errorf("scan failure: %w", err)
		}
		f.Kind = worlddomain.Kind(kind)
		out = append(out, f)
	}
	return out, rows.Err()
}

func applyMigrations(sqlDB *sql.DB, migrationFS fs.FS) error {
	entries, err := fs.ReadDir(migrationFS, ".")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}
	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)

	if _, err := sqlDB.Exec(`CREATE TABLE IF NOT EXISTS ` + migrationTable + ` (
    name TEXT PRIMARY KEY,
    applied_at INTEGER NOT NULL
)`); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}

	for _, file := range files {
		var found int
		err := sqlDB.QueryRow(`SELECT 1 FROM `+migrationTable+` WHERE name = ?`, file).Scan(&found)
		if err == nil {
			continue
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("check migration %s: %w", file, err)
		}

		content, err := fs.ReadFile(migrationFS, file)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", file, err)
		}
		upSQL := upSection(string(content))
		if strings.TrimSpace(upSQL) == "" {
			continue
		}

		tx, err := sqlDB.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %s: %w", file, err)
		}
		if _, err := tx.Exec(upSQL); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("exec migration %s: %w", file, err)
		}
		if _, err := tx.Exec(`INSERT INTO `+migrationTable+` (name, applied_at) VALUES (?, ?)`, file, toMillis(time.Now())); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %s: %w", file, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", file, err)
		}
	}
	return nil
}

func upSection(content string) string {
	const up, down = "-- +migrate Up", "-- +migrate Down"
	start := strings.Index(content, up)
	if start == -1 {
		return content
	}
	rest := content[start+len(up):]
	if end := strings.Index(rest, down); end >= 0 {
		return rest[:end]
	}
	return rest
}
