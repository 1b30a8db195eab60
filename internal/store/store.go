// Package store persists confirmation events, agent decisions and spend
// records in SQLite. All tables are append-only.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/lim1712/orchestrator/internal/agents"
	"github.com/lim1712/orchestrator/internal/budget"
	"github.com/lim1712/orchestrator/internal/confirm"
)

// DBFile is the database file name inside the data directory.
const DBFile = "orchestrator.db"

// Store is the SQLite-backed event, decision and spend log.
type Store struct {
	db   *sql.DB
	path string
}

// NewStore opens (creating if needed) the database in dataPath and runs
// migrations.
func NewStore(dataPath string) (*Store, error) {
	if err := os.MkdirAll(dataPath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataPath, DBFile)
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db, path: dataPath}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS confirmation_events (
			id TEXT PRIMARY KEY,
			instance_id TEXT NOT NULL,
			timestamp DATETIME NOT NULL,
			action TEXT NOT NULL,
			fingerprint TEXT NOT NULL,
			rule_id TEXT,
			title TEXT NOT NULL,
			attempt INTEGER DEFAULT 0,
			error TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS agent_decisions (
			id TEXT PRIMARY KEY,
			task_id TEXT NOT NULL,
			task_type TEXT,
			tier TEXT NOT NULL,
			model TEXT NOT NULL,
			estimated_tokens INTEGER DEFAULT 0,
			predicted_cost REAL DEFAULT 0.0,
			forced_downgrade BOOLEAN DEFAULT FALSE,
			preferred TEXT,
			subscription TEXT NOT NULL,
			reason TEXT,
			timestamp DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS spend_records (
			task_id TEXT PRIMARY KEY,
			decision_id TEXT,
			subscription TEXT NOT NULL,
			tier TEXT,
			period_id TEXT NOT NULL,
			cost REAL NOT NULL,
			recorded_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_instance ON confirmation_events(instance_id)`,
		`CREATE INDEX IF NOT EXISTS idx_events_timestamp ON confirmation_events(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_decisions_task ON agent_decisions(task_id)`,
		`CREATE INDEX IF NOT EXISTS idx_spend_period ON spend_records(period_id, subscription)`,
		`CREATE INDEX IF NOT EXISTS idx_spend_recorded ON spend_records(recorded_at)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			if strings.Contains(err.Error(), "duplicate column") {
				continue
			}
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the data directory.
func (s *Store) Path() string {
	return s.path
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

// AppendEvents writes a batch of confirmation events in one transaction.
func (s *Store) AppendEvents(ctx context.Context, events []confirm.Event) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO confirmation_events (id, instance_id, timestamp, action, fingerprint, rule_id, title, attempt, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, e := range events {
		if _, err := stmt.ExecContext(ctx, e.ID, e.InstanceID, e.Timestamp.UTC(), string(e.Action),
			e.Fingerprint, e.RuleID, e.Title, e.Attempt, e.Error); err != nil {
			return fmt.Errorf("insert event %s: %w", e.ID, err)
		}
	}
	return tx.Commit()
}

// EventQuery filters ListEvents. Zero fields match everything.
type EventQuery struct {
	InstanceID string
	Action     confirm.Action
	Since      time.Time
	Limit      int
}

// ListEvents returns events in time order. With a limit, the most recent
// matching events are returned, still oldest first.
func (s *Store) ListEvents(ctx context.Context, q EventQuery) ([]confirm.Event, error) {
	var where []string
	var args []any
	if q.InstanceID != "" {
		where = append(where, "instance_id = ?")
		args = append(args, q.InstanceID)
	}
	if q.Action != "" {
		where = append(where, "action = ?")
		args = append(args, string(q.Action))
	}
	if !q.Since.IsZero() {
		where = append(where, "timestamp >= ?")
		args = append(args, q.Since.UTC())
	}

	query := `SELECT id, instance_id, timestamp, action, fingerprint, COALESCE(rule_id, ''), title,
		COALESCE(attempt, 0), COALESCE(error, '') FROM confirmation_events`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY timestamp DESC, rowid DESC"
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var events []confirm.Event
	for rows.Next() {
		var e confirm.Event
		var action string
		if err := rows.Scan(&e.ID, &e.InstanceID, &e.Timestamp, &action, &e.Fingerprint, &e.RuleID,
			&e.Title, &e.Attempt, &e.Error); err != nil {
			return nil, err
		}
		e.Action = confirm.Action(action)
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
	return events, nil
}

// AppendDecision records an agent decision.
func (s *Store) AppendDecision(ctx context.Context, d agents.Decision) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agent_decisions (id, task_id, task_type, tier, model, estimated_tokens, predicted_cost,
			forced_downgrade, preferred, subscription, reason, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, d.ID, d.TaskID, d.TaskType, d.Tier, d.Model, d.EstimatedTokens, d.PredictedCost,
		d.ForcedDowngrade, d.Preferred, d.Subscription, d.Reason, d.Timestamp.UTC())
	if err != nil {
		return fmt.Errorf("insert decision %s: %w", d.ID, err)
	}
	return nil
}

// GetDecision returns the most recent decision for a task.
// Returns sql.ErrNoRows if the task has none.
func (s *Store) GetDecision(ctx context.Context, taskID string) (agents.Decision, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, task_id, COALESCE(task_type, ''), tier, model, COALESCE(estimated_tokens, 0),
			COALESCE(predicted_cost, 0), COALESCE(forced_downgrade, 0), COALESCE(preferred, ''),
			subscription, COALESCE(reason, ''), timestamp
		FROM agent_decisions WHERE task_id = ? ORDER BY timestamp DESC, rowid DESC LIMIT 1
	`, taskID)

	var d agents.Decision
	err := row.Scan(&d.ID, &d.TaskID, &d.TaskType, &d.Tier, &d.Model, &d.EstimatedTokens,
		&d.PredictedCost, &d.ForcedDowngrade, &d.Preferred, &d.Subscription, &d.Reason, &d.Timestamp)
	if err != nil {
		return agents.Decision{}, err
	}
	return d, nil
}

// AppendSpend records a spend. A second record for the same task id fails
// with an error wrapping budget.ErrDuplicateSpend.
func (s *Store) AppendSpend(ctx context.Context, rec budget.SpendRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO spend_records (task_id, decision_id, subscription, tier, period_id, cost, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, rec.TaskID, rec.DecisionID, rec.Subscription, rec.Tier, rec.PeriodID, rec.Cost, rec.RecordedAt.UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("insert spend %s: %w", rec.TaskID, budget.ErrDuplicateSpend)
		}
		return fmt.Errorf("insert spend %s: %w", rec.TaskID, err)
	}
	return nil
}

// ListSpend returns spend recorded at or after since, oldest first.
func (s *Store) ListSpend(ctx context.Context, since time.Time) ([]budget.SpendRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT task_id, COALESCE(decision_id, ''), subscription, COALESCE(tier, ''), period_id, cost, recorded_at
		FROM spend_records WHERE recorded_at >= ? ORDER BY recorded_at, rowid
	`, since.UTC())
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var records []budget.SpendRecord
	for rows.Next() {
		var r budget.SpendRecord
		if err := rows.Scan(&r.TaskID, &r.DecisionID, &r.Subscription, &r.Tier, &r.PeriodID, &r.Cost, &r.RecordedAt); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}
