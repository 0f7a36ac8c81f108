// Package sqlite implements store.RunStore using SQLite.
package sqlite

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/jxucoder/promptopt/model"
	"github.com/jxucoder/promptopt/store"
)

// Store manages run and event persistence in SQLite.
type Store struct {
	db *sql.DB
}

var _ store.RunStore = (*Store)(nil)

// New opens (or creates) a SQLite database at the given path.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent read/write performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			id             TEXT PRIMARY KEY,
			kind           TEXT NOT NULL DEFAULT 'optimize',
			status         TEXT NOT NULL DEFAULT 'idle',
			model          TEXT NOT NULL DEFAULT '',
			source         TEXT NOT NULL DEFAULT '',
			document       TEXT NOT NULL,
			feedback       TEXT NOT NULL DEFAULT '',
			final_document TEXT NOT NULL DEFAULT '',
			improvement    INTEGER NOT NULL DEFAULT 0,
			detail         TEXT NOT NULL DEFAULT '{}',
			pr_url         TEXT NOT NULL DEFAULT '',
			pr_number      INTEGER NOT NULL DEFAULT 0,
			error          TEXT NOT NULL DEFAULT '',
			created_at     DATETIME NOT NULL DEFAULT (datetime('now')),
			updated_at     DATETIME NOT NULL DEFAULT (datetime('now'))
		);

		CREATE TABLE IF NOT EXISTS run_events (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id     TEXT NOT NULL,
			type       TEXT NOT NULL,
			data       TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL DEFAULT (datetime('now')),
			FOREIGN KEY (run_id) REFERENCES runs(id)
		);

		CREATE INDEX IF NOT EXISTS idx_events_run_id
			ON run_events(run_id);
	`)
	return err
}

// detail holds the structured parts of a run that are only ever read whole.
type detail struct {
	Examples       []model.Example       `json:"examples,omitempty"`
	Reports        []model.IssueReport   `json:"reports,omitempty"`
	Rewrites       []model.RewriteResult `json:"rewrites,omitempty"`
	FeedbackRecord *model.FeedbackRecord `json:"feedback_record,omitempty"`
	Revision       *model.Revision       `json:"revision,omitempty"`
	FinalExamples  []model.Example       `json:"final_examples,omitempty"`
}

func encodeDetail(run *model.Run) (string, error) {
	b, err := json.Marshal(detail{
		Examples:       run.Examples,
		Reports:        run.Reports,
		Rewrites:       run.Rewrites,
		FeedbackRecord: run.FeedbackRecord,
		Revision:       run.Revision,
		FinalExamples:  run.FinalExamples,
	})
	if err != nil {
		return "", fmt.Errorf("encoding run detail: %w", err)
	}
	return string(b), nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateRun inserts a new run.
func (s *Store) CreateRun(run *model.Run) error {
	d, err := encodeDetail(run)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		`INSERT INTO runs (id, kind, status, model, source, document, feedback, final_document,
		                   improvement, detail, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Kind, run.Status, run.Model, run.Source, run.Document, run.Feedback,
		run.FinalDocument, run.Improvement, d, run.CreatedAt, run.UpdatedAt,
	)
	return err
}

const runColumns = `id, kind, status, model, source, document, feedback, final_document,
	improvement, detail, pr_url, pr_number, error, created_at, updated_at`

// GetRun retrieves a run by ID. Progress events are not loaded.
func (s *Store) GetRun(id string) (*model.Run, error) {
	row := s.db.QueryRow(`SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	return run, err
}

// ListRuns returns runs ordered by creation time (newest first).
func (s *Store) ListRuns(limit int) ([]*model.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs ORDER BY created_at DESC, id`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*model.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// UpdateRun updates the mutable fields of a run.
func (s *Store) UpdateRun(run *model.Run) error {
	run.UpdatedAt = time.Now().UTC()
	d, err := encodeDetail(run)
	if err != nil {
		return err
	}
	res, err := s.db.Exec(
		`UPDATE runs SET
			status = ?, model = ?, final_document = ?, improvement = ?, detail = ?,
			pr_url = ?, pr_number = ?, error = ?, updated_at = ?
		 WHERE id = ?`,
		run.Status, run.Model, run.FinalDocument, run.Improvement, d,
		run.PRUrl, run.PRNumber, run.Error, run.UpdatedAt, run.ID,
	)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// AddEvent inserts a new event and sets its ID.
func (s *Store) AddEvent(event *model.Event) error {
	result, err := s.db.Exec(
		`INSERT INTO run_events (run_id, type, data, created_at)
		 VALUES (?, ?, ?, ?)`,
		event.RunID, event.Type, event.Data, event.CreatedAt,
	)
	if err != nil {
		return err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	event.ID = id
	return nil
}

// GetEvents returns events for a run, optionally after a given event ID.
func (s *Store) GetEvents(runID string, afterID int64) ([]*model.Event, error) {
	rows, err := s.db.Query(
		`SELECT id, run_id, type, data, created_at
		 FROM run_events
		 WHERE run_id = ? AND id > ?
		 ORDER BY id ASC`,
		runID, afterID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*model.Event
	for rows.Next() {
		e := &model.Event{}
		if err := rows.Scan(&e.ID, &e.RunID, &e.Type, &e.Data, &e.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// --- Scan helpers ---

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*model.Run, error) {
	run := &model.Run{}
	var raw string
	err := row.Scan(
		&run.ID, &run.Kind, &run.Status, &run.Model, &run.Source, &run.Document,
		&run.Feedback, &run.FinalDocument, &run.Improvement, &raw,
		&run.PRUrl, &run.PRNumber, &run.Error, &run.CreatedAt, &run.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	var d detail
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		return nil, fmt.Errorf("decoding run detail: %w", err)
	}
	run.Examples = d.Examples
	run.Reports = d.Reports
	run.Rewrites = d.Rewrites
	run.FeedbackRecord = d.FeedbackRecord
	run.Revision = d.Revision
	run.FinalExamples = d.FinalExamples
	return run, nil
}
