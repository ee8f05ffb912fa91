// Package store archives finished allocation runs in SQLite.
//
// A run row keeps the canonical report bytes exactly as produced together
// with a fingerprint of the input, so a later audit can tell whether two runs
// saw the same snapshot and configuration.
package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"
)

var ErrNotFound = errors.New("run not found")

// Run is one archived allocation.
type Run struct {
	ID          string    `json:"id"`
	Fingerprint string    `json:"fingerprint"`
	Stage       string    `json:"stage"`
	Matched     int       `json:"matched"`
	Unmatched   int       `json:"unmatched"`
	Report      []byte    `json:"-"`
	CreatedAt   time.Time `json:"created_at"`
}

// Record is what the caller knows about a finished run. An empty ID is
// replaced with a fresh one.
type Record struct {
	ID          string
	Fingerprint string
	Stage       string
	Matched     int
	Unmatched   int
	Report      []byte
}

// Fingerprint is the hex sha256 over the given parts, each length-prefixed so
// that part boundaries are part of the digest.
func Fingerprint(parts ...[]byte) string {
	h := sha256.New()
	var size [8]byte
	for _, p := range parts {
		binary.LittleEndian.PutUint64(size[:], uint64(len(p)))
		h.Write(size[:])
		h.Write(p)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// SQLite implements the run archive using modernc.org/sqlite.
type SQLite struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens a SQLite database at the given path and configures WAL mode.
func Open(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLite{db: db, now: time.Now}, nil
}

const migration = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	fingerprint TEXT NOT NULL,
	stage       TEXT NOT NULL,
	matched     INTEGER NOT NULL,
	unmatched   INTEGER NOT NULL,
	report      BLOB NOT NULL,
	created_at  DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_fingerprint ON runs(fingerprint);
CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at);
`

func (s *SQLite) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, migration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

// NewID returns a random run id.
func NewID() string {
	return uuid.New().String()
}

// Save archives a run.
func (s *SQLite) Save(ctx context.Context, rec Record) (*Run, error) {
	if len(rec.Report) == 0 {
		return nil, eris.New("sqlite: empty report")
	}
	if rec.ID == "" {
		rec.ID = NewID()
	}
	run := &Run{
		ID:          rec.ID,
		Fingerprint: rec.Fingerprint,
		Stage:       rec.Stage,
		Matched:     rec.Matched,
		Unmatched:   rec.Unmatched,
		Report:      rec.Report,
		CreatedAt:   s.now().UTC(),
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, fingerprint, stage, matched, unmatched, report, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Fingerprint, run.Stage, run.Matched, run.Unmatched, run.Report, run.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}
	return run, nil
}

// Get returns the run with its report.
func (s *SQLite) Get(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, fingerprint, stage, matched, unmatched, report, created_at FROM runs WHERE id = ?`,
		id,
	)

	var r Run
	err := row.Scan(&r.ID, &r.Fingerprint, &r.Stage, &r.Matched, &r.Unmatched, &r.Report, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "run %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get run %s", id)
	}
	return &r, nil
}

// List returns the latest runs without their reports, newest first. A
// non-empty fingerprint restricts the list to runs over the same input.
func (s *SQLite) List(ctx context.Context, fingerprint string, limit int) ([]Run, error) {
	query := `SELECT id, fingerprint, stage, matched, unmatched, created_at FROM runs`
	var args []any
	if fingerprint != "" {
		query += ` WHERE fingerprint = ?`
		args = append(args, fingerprint)
	}
	if limit <= 0 {
		limit = 100
	}
	query += ` ORDER BY created_at DESC, id LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.Fingerprint, &r.Stage, &r.Matched, &r.Unmatched, &r.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}
