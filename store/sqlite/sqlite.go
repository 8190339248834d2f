// Package sqlite is the durable Store implementation, backed by
// modernc.org/sqlite (pure Go, no cgo) through database/sql. ListDue's
// atomic select-and-transition is implemented as a single transaction
// on a pool capped at one open connection, so concurrent ListDue calls
// run one after another and cannot select the same row twice.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	nyxmon "github.com/nyxmon-go/agent"
)

const schema = `
CREATE TABLE IF NOT EXISTS services (
	service_id TEXT PRIMARY KEY,
	name       TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS checks (
	check_id          TEXT PRIMARY KEY,
	service_id        TEXT NOT NULL,
	name              TEXT NOT NULL,
	kind              TEXT NOT NULL,
	target            TEXT NOT NULL,
	interval_seconds  INTEGER NOT NULL,
	disabled          INTEGER NOT NULL DEFAULT 0,
	data              TEXT NOT NULL DEFAULT '{}',
	status            TEXT NOT NULL DEFAULT 'idle',
	next_check_time   INTEGER NOT NULL DEFAULT 0,
	created_at        INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_checks_due ON checks(status, next_check_time, check_id);
CREATE INDEX IF NOT EXISTS idx_checks_service ON checks(service_id);

CREATE TABLE IF NOT EXISTS results (
	result_id  TEXT PRIMARY KEY,
	check_id   TEXT NOT NULL,
	status     TEXT NOT NULL,
	payload    TEXT NOT NULL DEFAULT '{}',
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_results_check_created ON results(check_id, created_at);
`

// Store is a database/sql-backed Store implementation.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) a SQLite database at path and
// applies the schema. The returned Store owns db and must be closed by
// the caller via Store.Close.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite serializes writers; avoid SQLITE_BUSY churn.

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite store: apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ListDue(ctx context.Context, now int64, limit int) ([]*nyxmon.Check, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, &nyxmon.StoreError{Op: "list_due.begin", Err: err}
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT check_id, service_id, name, kind, target, interval_seconds, disabled, data, status, next_check_time, created_at
		FROM checks
		WHERE disabled = 0 AND status != 'processing' AND next_check_time <= ?
		ORDER BY next_check_time ASC, check_id ASC
		LIMIT ?
	`, now, limit)
	if err != nil {
		return nil, &nyxmon.StoreError{Op: "list_due.select", Err: err}
	}

	var due []*nyxmon.Check
	for rows.Next() {
		c, err := scanCheck(rows)
		if err != nil {
			rows.Close()
			return nil, &nyxmon.StoreError{Op: "list_due.scan", Err: err}
		}
		due = append(due, c)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, &nyxmon.StoreError{Op: "list_due.rows", Err: err}
	}
	rows.Close()

	for _, c := range due {
		if _, err := tx.ExecContext(ctx, `UPDATE checks SET status = 'processing' WHERE check_id = ?`, c.ID); err != nil {
			return nil, &nyxmon.StoreError{Op: "list_due.transition", Err: err}
		}
		c.Status = nyxmon.CheckProcessing
	}

	if err := tx.Commit(); err != nil {
		return nil, &nyxmon.StoreError{Op: "list_due.commit", Err: err}
	}
	return due, nil
}

func (s *Store) AddResult(ctx context.Context, result *nyxmon.Result) error {
	if result.ResultID == "" {
		result.ResultID = uuid.NewString()
	}
	payload, err := json.Marshal(result.Payload)
	if err != nil {
		return fmt.Errorf("sqlite store: marshal result payload: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO results (result_id, check_id, status, payload, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, result.ResultID, result.CheckID, string(result.Status), string(payload), result.CreatedAt)
	if err != nil {
		return &nyxmon.StoreError{Op: "add_result", Err: err}
	}
	return nil
}

func (s *Store) UpdateCheckAfterExecution(ctx context.Context, checkID string, status nyxmon.CheckStatus, nextCheckTime int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE checks SET status = ?, next_check_time = ? WHERE check_id = ?
	`, string(status), nextCheckTime, checkID)
	if err != nil {
		return &nyxmon.StoreError{Op: "update_check_after_execution", Err: err}
	}
	return nil
}

func (s *Store) RecentResults(ctx context.Context, checkID string, limit int) ([]*nyxmon.Result, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT result_id, check_id, status, payload, created_at
		FROM results
		WHERE check_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`, checkID, limit)
	if err != nil {
		return nil, &nyxmon.StoreError{Op: "recent_results", Err: err}
	}
	defer rows.Close()

	var out []*nyxmon.Result
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, &nyxmon.StoreError{Op: "recent_results.scan", Err: err}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// DeleteResultsOlderThan deletes in a single batch, excluding each
// check's single most recent result via a correlated subquery rather
// than a separate read-then-delete pass.
func (s *Store) DeleteResultsOlderThan(ctx context.Context, olderThan int64, batchSize int) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM results
		WHERE result_id IN (
			SELECT result_id FROM results r
			WHERE r.created_at < ?
			AND r.result_id != (
				SELECT result_id FROM results r2
				WHERE r2.check_id = r.check_id
				ORDER BY r2.created_at DESC, r2.result_id DESC
				LIMIT 1
			)
			LIMIT ?
		)
	`, olderThan, batchSize)
	if err != nil {
		return 0, &nyxmon.StoreError{Op: "delete_results_older_than", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, &nyxmon.StoreError{Op: "delete_results_older_than.rows_affected", Err: err}
	}
	return int(n), nil
}

func (s *Store) GetCheck(ctx context.Context, checkID string) (*nyxmon.Check, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT check_id, service_id, name, kind, target, interval_seconds, disabled, data, status, next_check_time, created_at
		FROM checks WHERE check_id = ?
	`, checkID)
	c, err := scanCheck(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, &nyxmon.StoreError{Op: "get_check", Err: fmt.Errorf("check %q not found", checkID)}
		}
		return nil, &nyxmon.StoreError{Op: "get_check", Err: err}
	}
	return c, nil
}

func (s *Store) ListChecks(ctx context.Context) ([]*nyxmon.Check, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT check_id, service_id, name, kind, target, interval_seconds, disabled, data, status, next_check_time, created_at
		FROM checks ORDER BY check_id ASC
	`)
	if err != nil {
		return nil, &nyxmon.StoreError{Op: "list_checks", Err: err}
	}
	defer rows.Close()

	var out []*nyxmon.Check
	for rows.Next() {
		c, err := scanCheck(rows)
		if err != nil {
			return nil, &nyxmon.StoreError{Op: "list_checks.scan", Err: err}
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) ListChecksByService(ctx context.Context, serviceID string) ([]*nyxmon.Check, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT check_id, service_id, name, kind, target, interval_seconds, disabled, data, status, next_check_time, created_at
		FROM checks WHERE service_id = ? ORDER BY check_id ASC
	`, serviceID)
	if err != nil {
		return nil, &nyxmon.StoreError{Op: "list_checks_by_service", Err: err}
	}
	defer rows.Close()

	var out []*nyxmon.Check
	for rows.Next() {
		c, err := scanCheck(rows)
		if err != nil {
			return nil, &nyxmon.StoreError{Op: "list_checks_by_service.scan", Err: err}
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) GetService(ctx context.Context, serviceID string) (*nyxmon.Service, error) {
	row := s.db.QueryRowContext(ctx, `SELECT service_id, name FROM services WHERE service_id = ?`, serviceID)
	var svc nyxmon.Service
	if err := row.Scan(&svc.ServiceID, &svc.Name); err != nil {
		if err == sql.ErrNoRows {
			return nil, &nyxmon.StoreError{Op: "get_service", Err: fmt.Errorf("service %q not found", serviceID)}
		}
		return nil, &nyxmon.StoreError{Op: "get_service", Err: err}
	}
	return &svc, nil
}

func (s *Store) UpsertCheck(ctx context.Context, check *nyxmon.Check) error {
	if check.ID == "" {
		check.ID = uuid.NewString()
	}
	data, err := json.Marshal(check.Data)
	if err != nil {
		return fmt.Errorf("sqlite store: marshal check data: %w", err)
	}
	disabled := 0
	if check.Disabled {
		disabled = 1
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO checks (check_id, service_id, name, kind, target, interval_seconds, disabled, data, status, next_check_time, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(check_id) DO UPDATE SET
			service_id = excluded.service_id,
			name = excluded.name,
			kind = excluded.kind,
			target = excluded.target,
			interval_seconds = excluded.interval_seconds,
			disabled = excluded.disabled,
			data = excluded.data
	`, check.ID, check.ServiceID, check.Name, string(check.Kind), check.Target, check.IntervalSeconds,
		disabled, string(data), string(check.Status), check.NextCheckTime, check.CreatedAt)
	if err != nil {
		return &nyxmon.StoreError{Op: "upsert_check", Err: err}
	}
	return nil
}

func (s *Store) UpsertService(ctx context.Context, service *nyxmon.Service) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO services (service_id, name) VALUES (?, ?)
		ON CONFLICT(service_id) DO UPDATE SET name = excluded.name
	`, service.ServiceID, service.Name)
	if err != nil {
		return &nyxmon.StoreError{Op: "upsert_service", Err: err}
	}
	return nil
}

func (s *Store) Reconcile(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE checks SET status = 'idle' WHERE status = 'processing'`)
	if err != nil {
		return 0, &nyxmon.StoreError{Op: "reconcile", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, &nyxmon.StoreError{Op: "reconcile.rows_affected", Err: err}
	}
	return int(n), nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCheck(row scanner) (*nyxmon.Check, error) {
	var (
		c        nyxmon.Check
		kind     string
		disabled int
		status   string
		data     string
	)
	if err := row.Scan(&c.ID, &c.ServiceID, &c.Name, &kind, &c.Target, &c.IntervalSeconds,
		&disabled, &data, &status, &c.NextCheckTime, &c.CreatedAt); err != nil {
		return nil, err
	}
	c.Kind = nyxmon.Kind(kind)
	c.Disabled = disabled != 0
	c.Status = nyxmon.CheckStatus(status)
	if data != "" {
		if err := json.Unmarshal([]byte(data), &c.Data); err != nil {
			return nil, fmt.Errorf("decode check data: %w", err)
		}
	}
	return &c, nil
}

func scanResult(row scanner) (*nyxmon.Result, error) {
	var (
		r       nyxmon.Result
		status  string
		payload string
	)
	if err := row.Scan(&r.ResultID, &r.CheckID, &status, &payload, &r.CreatedAt); err != nil {
		return nil, err
	}
	r.Status = nyxmon.ResultStatus(status)
	if payload != "" {
		if err := json.Unmarshal([]byte(payload), &r.Payload); err != nil {
			return nil, fmt.Errorf("decode result payload: %w", err)
		}
	}
	return &r, nil
}
