package history

import (
	"database/sql"
	"fmt"
	"time"
)

// SQLStore persists execution records in the hook_executions table.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore creates a store over an open database.
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

// Write implements Sink.
func (s *SQLStore) Write(r Record) error {
	_, err := s.db.Exec(
		`INSERT INTO hook_executions (hook, execution_id, started_at, duration_us, success, error) VALUES (?, ?, ?, ?, ?, ?)`,
		r.Hook, r.ExecutionID, r.Timestamp.UTC().Format(time.RFC3339Nano), r.Duration.Microseconds(), r.Success, r.Err,
	)
	if err != nil {
		return fmt.Errorf("inserting execution record: %w", err)
	}
	return nil
}

// Recent returns the newest window records per hook, oldest first.
func (s *SQLStore) Recent(window int) ([]Record, error) {
	if window <= 0 {
		window = DefaultSize
	}
	rows, err := s.db.Query(`
		SELECT hook, execution_id, started_at, duration_us, success, error FROM (
			SELECT *, ROW_NUMBER() OVER (PARTITION BY hook ORDER BY id DESC) AS rn
			FROM hook_executions
		) WHERE rn <= ? ORDER BY id ASC`, window)
	if err != nil {
		return nil, fmt.Errorf("querying execution records: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			r       Record
			started string
			us      int64
		)
		if err := rows.Scan(&r.Hook, &r.ExecutionID, &started, &us, &r.Success, &r.Err); err != nil {
			return nil, err
		}
		r.Timestamp, _ = time.Parse(time.RFC3339Nano, started)
		r.Duration = time.Duration(us) * time.Microsecond
		out = append(out, r)
	}
	return out, rows.Err()
}

// Load replays the newest window records per hook into h.
func (s *SQLStore) Load(h *History, window int) (int, error) {
	records, err := s.Recent(window)
	if err != nil {
		return 0, err
	}
	h.Replay(records)
	return len(records), nil
}

// Prune deletes all but the newest keep records per hook.
func (s *SQLStore) Prune(keep int) (int64, error) {
	res, err := s.db.Exec(`
		DELETE FROM hook_executions WHERE id IN (
			SELECT id FROM (
				SELECT id, ROW_NUMBER() OVER (PARTITION BY hook ORDER BY id DESC) AS rn
				FROM hook_executions
			) WHERE rn > ?
		)`, keep)
	if err != nil {
		return 0, fmt.Errorf("pruning execution records: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Clear deletes every record.
func (s *SQLStore) Clear() error {
	_, err := s.db.Exec(`DELETE FROM hook_executions`)
	return err
}
