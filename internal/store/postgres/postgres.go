// Package postgres implements the store ports on PostgreSQL.
//
// The relay owns the calls and messages tables. The accounts and chat_groups
// tables belong to the account service; migrate only creates them when
// missing so a fresh database is usable.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/wilsonzlin/aero/proxy/chat-relay/internal/store"
)

// DB wraps a *sql.DB and implements store.Store.
type DB struct {
	sql *sql.DB
}

var _ store.Store = (*DB)(nil)

// Open connects to PostgreSQL, pings, and runs migrations.
func Open(ctx context.Context, connStr string) (*DB, error) {
	s, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}
	s.SetMaxOpenConns(10)
	s.SetMaxIdleConns(5)
	s.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.PingContext(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}

	d := &DB{sql: s}
	if err := d.migrate(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return d, nil
}

// Close closes the underlying database connection.
func (d *DB) Close() error {
	return d.sql.Close()
}

func (d *DB) migrate(ctx context.Context) error {
	stmts := []string{
		"CREATE TABLE IF NOT EXISTS accounts (id TEXT PRIMARY KEY, handle TEXT UNIQUE NOT NULL);",
		"CREATE TABLE IF NOT EXISTS chat_groups (id TEXT PRIMARY KEY, name TEXT NOT NULL DEFAULT '');",
		"CREATE TABLE IF NOT EXISTS calls (id BIGSERIAL PRIMARY KEY, caller_id TEXT NOT NULL, callee_id TEXT NOT NULL, status TEXT NOT NULL CHECK(status IN ('initiated','answered','rejected','finished')), start_time TIMESTAMPTZ NOT NULL, end_time TIMESTAMPTZ);",
		"CREATE INDEX IF NOT EXISTS idx_calls_caller_start ON calls(caller_id, start_time DESC);",
		"CREATE INDEX IF NOT EXISTS idx_calls_callee_start ON calls(callee_id, start_time DESC);",
		"CREATE TABLE IF NOT EXISTS messages (id BIGSERIAL PRIMARY KEY, from_user TEXT NOT NULL, to_user TEXT, to_group TEXT, content TEXT NOT NULL, status TEXT NOT NULL DEFAULT 'sent' CHECK(status IN ('sent','delivered','read')), created_at TIMESTAMPTZ NOT NULL, CHECK((to_user IS NULL) <> (to_group IS NULL)));",
		"CREATE INDEX IF NOT EXISTS idx_messages_to_group ON messages(to_group, created_at);",
	}
	for _, stmt := range stmts {
		if _, err := d.sql.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (d *DB) FindAccountByHandle(ctx context.Context, handle string) (store.Account, error) {
	var a store.Account
	err := d.sql.QueryRowContext(ctx,
		"SELECT id, handle FROM accounts WHERE lower(handle)=$1;",
		strings.ToLower(strings.TrimSpace(handle)),
	).Scan(&a.ID, &a.Handle)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Account{}, store.ErrNotFound
	}
	if err != nil {
		return store.Account{}, err
	}
	return a, nil
}

func (d *DB) ResolveGroup(ctx context.Context, groupID string) (string, error) {
	trimmed := strings.TrimSpace(groupID)
	if trimmed == "" {
		return "", store.ErrNotFound
	}
	var id string
	err := d.sql.QueryRowContext(ctx,
		"SELECT id FROM chat_groups WHERE id=$1 OR lower(id)=lower($1) ORDER BY (id=$1) DESC LIMIT 1;",
		trimmed,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", store.ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return id, nil
}

func (d *DB) SaveMessage(ctx context.Context, m store.Message) error {
	if err := m.Validate(); err != nil {
		return err
	}
	_, err := d.sql.ExecContext(ctx,
		"INSERT INTO messages(from_user, to_user, to_group, content, created_at) VALUES($1, $2, $3, $4, $5);",
		m.SenderAccountID, nullString(m.RecipientAccountID), nullString(m.RecipientGroupID), m.Body, m.CreatedAt.UTC(),
	)
	return err
}

func (d *DB) CreateCall(ctx context.Context, rec store.CallRecord) (string, error) {
	if rec.Status == "" {
		rec.Status = store.CallInitiated
	}
	var id int64
	err := d.sql.QueryRowContext(ctx,
		"INSERT INTO calls(caller_id, callee_id, status, start_time) VALUES($1, $2, $3, $4) RETURNING id;",
		rec.CallerAccountID, rec.CalleeAccountID, string(rec.Status), rec.StartTime.UTC(),
	).Scan(&id)
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(id, 10), nil
}

func (d *DB) TransitionCall(ctx context.Context, id string, from []store.CallStatus, to store.CallStatus, endTime *time.Time) (bool, error) {
	n, ok := parseCallID(id)
	if !ok {
		return false, nil
	}
	allowed := store.Allowed(from, to)
	if len(allowed) == 0 {
		return false, nil
	}

	res, err := d.sql.ExecContext(ctx,
		"UPDATE calls SET status=$1, end_time=COALESCE($2, end_time) WHERE id=$3 AND status = ANY($4);",
		string(to), nullTime(endTime), n, pq.Array(statusStrings(allowed)),
	)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

func (d *DB) FinishLatestCall(ctx context.Context, a, b string, at time.Time) (string, bool, error) {
	var id int64
	err := d.sql.QueryRowContext(ctx, `
UPDATE calls SET status='finished', end_time=$3
WHERE id = (
	SELECT id FROM calls
	WHERE ((caller_id=$1 AND callee_id=$2) OR (caller_id=$2 AND callee_id=$1))
	  AND status IN ('initiated','answered')
	  AND start_time <= $3
	ORDER BY start_time DESC, id DESC
	LIMIT 1
	FOR UPDATE
)
RETURNING id;`, a, b, at.UTC()).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return strconv.FormatInt(id, 10), true, nil
}

func (d *DB) GetCall(ctx context.Context, id string) (store.CallRecord, error) {
	n, ok := parseCallID(id)
	if !ok {
		return store.CallRecord{}, store.ErrNotFound
	}
	var (
		rec    store.CallRecord
		dbID   int64
		status string
		end    sql.NullTime
	)
	err := d.sql.QueryRowContext(ctx,
		"SELECT id, caller_id, callee_id, status, start_time, end_time FROM calls WHERE id=$1;", n,
	).Scan(&dbID, &rec.CallerAccountID, &rec.CalleeAccountID, &status, &rec.StartTime, &end)
	if errors.Is(err, sql.ErrNoRows) {
		return store.CallRecord{}, store.ErrNotFound
	}
	if err != nil {
		return store.CallRecord{}, err
	}
	rec.ID = strconv.FormatInt(dbID, 10)
	rec.Status = store.CallStatus(status)
	if end.Valid {
		t := end.Time
		rec.EndTime = &t
	}
	return rec, nil
}

func (d *DB) ListCallHistory(ctx context.Context, accountID string) ([]store.CallHistoryEntry, error) {
	rows, err := d.sql.QueryContext(ctx, `
SELECT c.id, c.caller_id, COALESCE(ca.handle, ''), c.callee_id, COALESCE(ce.handle, ''), c.status, c.start_time, c.end_time
FROM calls c
LEFT JOIN accounts ca ON ca.id = c.caller_id
LEFT JOIN accounts ce ON ce.id = c.callee_id
WHERE c.caller_id=$1 OR c.callee_id=$1
ORDER BY c.start_time DESC, c.id DESC;`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck

	out := make([]store.CallHistoryEntry, 0)
	for rows.Next() {
		var (
			e      store.CallHistoryEntry
			id     int64
			status string
			end    sql.NullTime
		)
		if err := rows.Scan(&id, &e.Caller.ID, &e.Caller.Username, &e.Callee.ID, &e.Callee.Username, &status, &e.StartTime, &end); err != nil {
			return nil, err
		}
		e.ID = strconv.FormatInt(id, 10)
		e.Status = store.CallStatus(status)
		if end.Valid {
			t := end.Time
			e.EndTime = &t
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func parseCallID(id string) (int64, bool) {
	n, err := strconv.ParseInt(strings.TrimSpace(id), 10, 64)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

func statusStrings(list []store.CallStatus) []string {
	out := make([]string, len(list))
	for i, s := range list {
		out[i] = string(s)
	}
	return out
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

// Ping checks that the database is reachable.
func (d *DB) Ping(ctx context.Context) error {
	return d.sql.PingContext(ctx)
}
