package manifest

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/lpontes/benchjs/internal/trial"
)

// Store persists one row per completed trial so a run survives crashes
// and can be summarized offline. SQLite keeps the experiment log a single
// file next to the artifacts.
type Store struct {
	db *sql.DB
}

const createTableSQL = `
CREATE TABLE IF NOT EXISTS trials (
	run_id       TEXT NOT NULL,
	runtime      TEXT NOT NULL,
	concurrency  INTEGER NOT NULL,
	repetition   INTEGER NOT NULL,
	status       TEXT NOT NULL,
	artifact_dir TEXT NOT NULL DEFAULT '',
	load_summary TEXT NOT NULL DEFAULT '',
	started_at   DATETIME NOT NULL,
	duration_s   INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (run_id, runtime, concurrency, repetition)
);
CREATE INDEX IF NOT EXISTS idx_trials_run_id ON trials(run_id);
CREATE INDEX IF NOT EXISTS idx_trials_status ON trials(status);
`

// dsnWithPragmas applies WAL and busy_timeout per connection; the driver
// runs DSN pragmas on every new connection.
func dsnWithPragmas(dbPath string) string {
	return dbPath + "?_pragma=busy_timeout(15000)" +
		"&_pragma=journal_mode(WAL)" +
		"&_pragma=synchronous(NORMAL)"
}

func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dsnWithPragmas(dbPath))
	if err != nil {
		return nil, fmt.Errorf("opening manifest: %w", err)
	}
	if _, err := db.Exec(createTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// isBusyLock reports whether err indicates SQLITE_BUSY.
func isBusyLock(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}

func retryOnBusy(fn func() error) error {
	const maxAttempts = 4
	backoff := 25 * time.Millisecond
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil || !isBusyLock(lastErr) {
			return lastErr
		}
		if attempt < maxAttempts-1 {
			time.Sleep(backoff)
			backoff *= 2
		}
	}
	return lastErr
}

// Append records one finished trial. Re-running the same trial key within
// a run replaces the earlier row.
func (s *Store) Append(runID string, res trial.Result) error {
	err := retryOnBusy(func() error {
		_, e := s.db.Exec(
			`INSERT OR REPLACE INTO trials
			 (run_id, runtime, concurrency, repetition, status, artifact_dir, load_summary, started_at, duration_s)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			runID, res.Key.Runtime, res.Key.Concurrency, res.Key.Repetition,
			string(res.Status), res.ArtifactDir, res.LoadSummary,
			res.StartedAt.UTC(), res.DurationS,
		)
		return e
	})
	if err != nil {
		return fmt.Errorf("inserting trial %s: %w", res.Key, err)
	}
	return nil
}

// List returns a run's trials in matrix order.
func (s *Store) List(runID string) ([]trial.Result, error) {
	rows, err := s.db.Query(
		`SELECT runtime, concurrency, repetition, status, artifact_dir, load_summary, started_at, duration_s
		 FROM trials WHERE run_id = ?
		 ORDER BY runtime, concurrency, repetition`, runID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing trials: %w", err)
	}
	defer rows.Close()

	var results []trial.Result
	for rows.Next() {
		var res trial.Result
		var status string
		if err := rows.Scan(
			&res.Key.Runtime, &res.Key.Concurrency, &res.Key.Repetition,
			&status, &res.ArtifactDir, &res.LoadSummary, &res.StartedAt, &res.DurationS,
		); err != nil {
			return nil, fmt.Errorf("scanning trial: %w", err)
		}
		res.Status = trial.Status(status)
		results = append(results, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating trials: %w", err)
	}
	return results, nil
}

// Summary counts a run's trials per status.
func (s *Store) Summary(runID string) (map[trial.Status]int, error) {
	rows, err := s.db.Query(
		`SELECT status, COUNT(*) FROM trials WHERE run_id = ? GROUP BY status`, runID,
	)
	if err != nil {
		return nil, fmt.Errorf("summarizing trials: %w", err)
	}
	defer rows.Close()

	counts := make(map[trial.Status]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scanning summary: %w", err)
		}
		counts[trial.Status(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating summary: %w", err)
	}
	return counts, nil
}

// Runs lists the distinct run IDs present, newest first.
func (s *Store) Runs() ([]string, error) {
	rows, err := s.db.Query(
		`SELECT run_id FROM trials GROUP BY run_id ORDER BY MAX(started_at) DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var runs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning run id: %w", err)
		}
		runs = append(runs, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating runs: %w", err)
	}
	return runs, nil
}
