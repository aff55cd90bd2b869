package rollback

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// SQLJournal stores finished transactions in the rollback_journal table.
type SQLJournal struct {
	db *sql.DB
}

// NewSQLJournal creates a journal over an open database.
func NewSQLJournal(db *sql.DB) *SQLJournal {
	return &SQLJournal{db: db}
}

// Record implements Journal.
func (j *SQLJournal) Record(t Transaction) error {
	_, err := j.db.Exec(
		`INSERT INTO rollback_journal (id, trigger_name, scope, hooks, state, actions, failures, error, created_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET state = excluded.state, failures = excluded.failures,
		   error = excluded.error, finished_at = excluded.finished_at`,
		t.ID, t.Trigger, string(t.Scope), strings.Join(t.Hooks, ","), string(t.State),
		t.Actions, t.Failures, t.Err,
		t.CreatedAt.UTC().Format(time.RFC3339Nano), t.FinishedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("recording rollback transaction: %w", err)
	}
	return nil
}

// Recent returns up to limit journaled transactions, newest first.
func (j *SQLJournal) Recent(limit int) ([]Transaction, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	rows, err := j.db.Query(
		`SELECT id, trigger_name, scope, hooks, state, actions, failures, error, created_at, finished_at
		 FROM rollback_journal ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying rollback journal: %w", err)
	}
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		var (
			t                 Transaction
			trigger, hooks    sql.NullString
			errText, finished sql.NullString
			scope, state      string
			created           string
		)
		if err := rows.Scan(&t.ID, &trigger, &scope, &hooks, &state, &t.Actions, &t.Failures, &errText, &created, &finished); err != nil {
			return nil, err
		}
		t.Trigger = trigger.String
		t.Scope = Scope(scope)
		t.State = State(state)
		t.Err = errText.String
		if hooks.String != "" {
			t.Hooks = strings.Split(hooks.String, ",")
		}
		t.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		if finished.Valid {
			t.FinishedAt, _ = time.Parse(time.RFC3339Nano, finished.String)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
