// Package history keeps a small sqlite index of completed runs so
// past benchmark sessions can be listed without walking every result
// directory. Recording is best-effort: the on-disk artifacts are the
// durable record, this index only points at them.
package history

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	started_at TEXT NOT NULL,
	endpoint TEXT NOT NULL,
	model TEXT NOT NULL,
	total_tests INTEGER NOT NULL,
	successful_tests INTEGER NOT NULL,
	failed_tests INTEGER NOT NULL,
	total_tokens INTEGER NOT NULL,
	avg_tokens_per_second REAL NOT NULL,
	output_dir TEXT NOT NULL
);`

// RunRecord is one row of the run index.
type RunRecord struct {
	ID              int64     `db:"id" json:"id"`
	StartedAt       time.Time `db:"-" json:"started_at"`
	StartedAtRaw    string    `db:"started_at" json:"-"`
	Endpoint        string    `db:"endpoint" json:"endpoint"`
	Model           string    `db:"model" json:"model"`
	TotalTests      int       `db:"total_tests" json:"total_tests"`
	SuccessfulTests int       `db:"successful_tests" json:"successful_tests"`
	FailedTests     int       `db:"failed_tests" json:"failed_tests"`
	TotalTokens     int       `db:"total_tokens" json:"total_tokens"`
	AvgTokensPerSec float64   `db:"avg_tokens_per_second" json:"avg_tokens_per_second"`
	OutputDir       string    `db:"output_dir" json:"output_dir"`
}

type Store struct {
	db  *sqlx.DB
	log *slog.Logger
}

// Open connects to (and initializes) the index database.
func Open(path string, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	db, err := sqlx.Connect("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening history db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing history db: %w", err)
	}
	return &Store{db: db, log: log}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Record inserts one completed run.
func (s *Store) Record(ctx context.Context, rec *RunRecord) error {
	rec.StartedAtRaw = rec.StartedAt.UTC().Format(time.RFC3339)
	res, err := s.db.NamedExecContext(ctx, `
		INSERT INTO runs (started_at, endpoint, model, total_tests, successful_tests,
			failed_tests, total_tokens, avg_tokens_per_second, output_dir)
		VALUES (:started_at, :endpoint, :model, :total_tests, :successful_tests,
			:failed_tests, :total_tokens, :avg_tokens_per_second, :output_dir)`, rec)
	if err != nil {
		return fmt.Errorf("recording run: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		rec.ID = id
	}
	return nil
}

// List returns the most recent runs, newest first.
func (s *Store) List(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	var recs []RunRecord
	err := s.db.SelectContext(ctx, &recs, `
		SELECT * FROM runs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	for i := range recs {
		if at, err := time.Parse(time.RFC3339, recs[i].StartedAtRaw); err == nil {
			recs[i].StartedAt = at
		}
	}
	return recs, nil
}
