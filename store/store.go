// Package store persists lesson plans and the log of generation runs in
// SQLite. Plans are stored as canonical JSON snapshots; the graph rules are
// enforced before a plan reaches the store, not by the schema.
package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/brunobiangulo/goplan/model"
)

// Plan is a stored plan snapshot.
type Plan struct {
	ID          string      `json:"id"`
	Title       string      `json:"title"`
	Subject     string      `json:"subject"`
	Document    *model.Plan `json:"plan"`
	Retired     []string    `json:"retired_ids,omitempty"`
	ContentHash string      `json:"content_hash"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// PlanSummary is a row of ListPlans.
type PlanSummary struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Subject     string    `json:"subject"`
	ContentHash string    `json:"content_hash"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Run is one recorded generation run.
type Run struct {
	ID          string    `json:"id"`
	PlanID      string    `json:"plan_id"`
	Intent      string    `json:"intent"`
	State       string    `json:"state"`
	Phase       string    `json:"phase,omitempty"`
	Error       string    `json:"error,omitempty"`
	TotalTokens int64     `json:"total_tokens"`
	ElapsedMs   int64     `json:"elapsed_ms"`
	CreatedAt   time.Time `json:"created_at"`
	Events      []Event   `json:"events"`
}

// Event is one line of a run log.
type Event struct {
	Time    time.Time `json:"time"`
	Phase   string    `json:"phase,omitempty"`
	Message string    `json:"message"`
	Error   string    `json:"error,omitempty"`
}

// Store wraps the SQLite database for all goplan persistence.
type Store struct {
	db *sql.DB
}

// New opens (or creates) a SQLite database at the given path and applies
// the schema and pending migrations.
func New(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &Store{db: db}
	if err := s.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for advanced queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

// --- Plan operations ---

// SavePlan inserts or replaces the snapshot of a plan and records its
// retired ids. An empty id creates a new plan. The returned id is the one
// stored. updated_at only moves when the document changed.
func (s *Store) SavePlan(ctx context.Context, id string, plan *model.Plan, retired []string) (string, error) {
	doc, err := json.Marshal(plan)
	if err != nil {
		return "", fmt.Errorf("encoding plan: %w", err)
	}
	if id == "" {
		id = newID()
	}
	hash := contentHash(doc)

	err = s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO plans (id, title, subject, document, content_hash)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				title = excluded.title,
				subject = excluded.subject,
				document = excluded.document,
				content_hash = excluded.content_hash,
				updated_at = CASE WHEN plans.content_hash = excluded.content_hash
					THEN plans.updated_at ELSE CURRENT_TIMESTAMP END
		`, id, plan.Metadata.Title, plan.Metadata.Subject, string(doc), hash); err != nil {
			return err
		}
		for _, nid := range retired {
			if _, err := tx.ExecContext(ctx,
				"INSERT OR IGNORE INTO retired_ids (plan_id, node_id) VALUES (?, ?)", id, nid); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("saving plan %s: %w", id, err)
	}
	return id, nil
}

// GetPlan loads a plan snapshot. It returns sql.ErrNoRows when the plan
// does not exist.
func (s *Store) GetPlan(ctx context.Context, id string) (*Plan, error) {
	p := &Plan{}
	var doc string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, title, subject, document, content_hash, created_at, updated_at
		FROM plans WHERE id = ?
	`, id).Scan(&p.ID, &p.Title, &p.Subject, &doc, &p.ContentHash, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.Document = &model.Plan{}
	if err := json.Unmarshal([]byte(doc), p.Document); err != nil {
		return nil, fmt.Errorf("decoding plan %s: %w", id, err)
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT node_id FROM retired_ids WHERE plan_id = ? ORDER BY node_id", id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var nid string
		if err := rows.Scan(&nid); err != nil {
			return nil, err
		}
		p.Retired = append(p.Retired, nid)
	}
	return p, rows.Err()
}

// ListPlans returns all plans, most recently changed first.
func (s *Store) ListPlans(ctx context.Context) ([]PlanSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, subject, content_hash, created_at, updated_at
		FROM plans ORDER BY updated_at DESC, id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var plans []PlanSummary
	for rows.Next() {
		var p PlanSummary
		if err := rows.Scan(&p.ID, &p.Title, &p.Subject, &p.ContentHash, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		plans = append(plans, p)
	}
	return plans, rows.Err()
}

// DeletePlan removes a plan with its retired ids and runs. It returns
// sql.ErrNoRows when the plan does not exist.
func (s *Store) DeletePlan(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM plans WHERE id = ?", id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// --- Run operations ---

// InsertRun records a finished run together with its log.
func (s *Store) InsertRun(ctx context.Context, r Run) (string, error) {
	if r.ID == "" {
		r.ID = newID()
	}
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO runs (id, plan_id, intent, state, phase, error, total_tokens, elapsed_ms)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, r.ID, r.PlanID, r.Intent, r.State, r.Phase, r.Error, r.TotalTokens, r.ElapsedMs); err != nil {
			return err
		}
		stmt, err := tx.PrepareContext(ctx,
			"INSERT INTO run_events (run_id, at, phase, message, error) VALUES (?, ?, ?, ?, ?)")
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, e := range r.Events {
			if _, err := stmt.ExecContext(ctx, r.ID, e.Time.UTC(), e.Phase, e.Message, e.Error); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("recording run: %w", err)
	}
	return r.ID, nil
}

// ListRuns returns the runs of a plan, newest first, each with its log.
func (s *Store) ListRuns(ctx context.Context, planID string) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, plan_id, COALESCE(intent, ''), state, COALESCE(phase, ''), COALESCE(error, ''),
			total_tokens, elapsed_ms, created_at
		FROM runs WHERE plan_id = ? ORDER BY created_at DESC, rowid DESC
	`, planID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	index := make(map[string]int)
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.PlanID, &r.Intent, &r.State, &r.Phase, &r.Error,
			&r.TotalTokens, &r.ElapsedMs, &r.CreatedAt); err != nil {
			return nil, err
		}
		index[r.ID] = len(runs)
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, nil
	}

	events, err := s.db.QueryContext(ctx, `
		SELECT e.run_id, e.at, COALESCE(e.phase, ''), e.message, COALESCE(e.error, '')
		FROM run_events e JOIN runs r ON r.id = e.run_id
		WHERE r.plan_id = ? ORDER BY e.id
	`, planID)
	if err != nil {
		return nil, err
	}
	defer events.Close()
	for events.Next() {
		var runID string
		var e Event
		if err := events.Scan(&runID, &e.Time, &e.Phase, &e.Message, &e.Error); err != nil {
			return nil, err
		}
		if i, ok := index[runID]; ok {
			runs[i].Events = append(runs[i].Events, e)
		}
	}
	return runs, events.Err()
}

// DBStats holds row counts.
type DBStats struct {
	Plans  int `json:"plans"`
	Runs   int `json:"runs"`
	Events int `json:"events"`
}

// Stats returns counts of plans, runs and run events.
func (s *Store) Stats(ctx context.Context) (*DBStats, error) {
	stats := &DBStats{}
	queries := []struct {
		query string
		dest  *int
	}{
		{"SELECT COUNT(*) FROM plans", &stats.Plans},
		{"SELECT COUNT(*) FROM runs", &stats.Runs},
		{"SELECT COUNT(*) FROM run_events", &stats.Events},
	}
	for _, q := range queries {
		if err := s.db.QueryRowContext(ctx, q.query).Scan(q.dest); err != nil {
			return nil, fmt.Errorf("counting %s: %w", q.query, err)
		}
	}
	return stats, nil
}

// --- helpers ---

func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// newID returns a time-ordered id.
func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

func contentHash(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
