package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"

	"flaggate/internal/flag"
)

// PostgresStore persists flags and audit entries in PostgreSQL. It speaks
// plain database/sql; per-record atomicity is the database's job, cross-step
// atomicity with the cache is deliberately not attempted.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const uniqueViolation = "23505"

// EnsureSchema creates the flags and audit tables when they do not exist.
// Audit rows reference their flag with ON DELETE CASCADE so deleting a flag
// erases its history in the same statement.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS flags (
	id                 BIGSERIAL PRIMARY KEY,
	key                VARCHAR(255) NOT NULL UNIQUE,
	name               VARCHAR(255) NOT NULL,
	description        TEXT NOT NULL DEFAULT '',
	enabled            BOOLEAN NOT NULL DEFAULT FALSE,
	rollout_percentage DOUBLE PRECISION NOT NULL DEFAULT 100,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS audit_logs (
	id        BIGSERIAL PRIMARY KEY,
	flag_id   BIGINT NOT NULL REFERENCES flags(id) ON DELETE CASCADE,
	action    VARCHAR(50) NOT NULL,
	actor     VARCHAR(255) NOT NULL DEFAULT '',
	old_value TEXT NOT NULL DEFAULT '',
	new_value TEXT NOT NULL DEFAULT '',
	timestamp TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_audit_logs_flag_id ON audit_logs (flag_id, timestamp DESC);
`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Create(ctx context.Context, f *flag.Flag) error {
	query := `
		INSERT INTO flags (key, name, description, enabled, rollout_percentage)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at
	`
	err := s.db.QueryRowContext(ctx, query,
		f.Key, f.Name, f.Description, f.Enabled, f.RolloutPercentage,
	).Scan(&f.ID, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
			return ErrConflict
		}
		return fmt.Errorf("insert flag: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetByKey(ctx context.Context, key string) (*flag.Flag, error) {
	query := `
		SELECT id, key, name, description, enabled, rollout_percentage, created_at, updated_at
		FROM flags WHERE key = $1
	`
	var f flag.Flag
	err := s.db.QueryRowContext(ctx, query, key).Scan(
		&f.ID, &f.Key, &f.Name, &f.Description, &f.Enabled, &f.RolloutPercentage, &f.CreatedAt, &f.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select flag: %w", err)
	}
	return &f, nil
}

func (s *PostgresStore) List(ctx context.Context, skip, limit int) ([]flag.Flag, error) {
	query := `
		SELECT id, key, name, description, enabled, rollout_percentage, created_at, updated_at
		FROM flags ORDER BY id OFFSET $1 LIMIT $2
	`
	rows, err := s.db.QueryContext(ctx, query, skip, limit)
	if err != nil {
		return nil, fmt.Errorf("list flags: %w", err)
	}
	defer rows.Close()

	flags := []flag.Flag{}
	for rows.Next() {
		var f flag.Flag
		if err := rows.Scan(&f.ID, &f.Key, &f.Name, &f.Description, &f.Enabled, &f.RolloutPercentage, &f.CreatedAt, &f.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan flag: %w", err)
		}
		flags = append(flags, f)
	}
	return flags, rows.Err()
}

func (s *PostgresStore) Update(ctx context.Context, key string, upd flag.Update, now time.Time) (*flag.Flag, error) {
	sets := []string{}
	args := []any{}
	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, column+" = $"+strconv.Itoa(len(args)))
	}
	if upd.Name != nil {
		add("name", *upd.Name)
	}
	if upd.Description != nil {
		add("description", *upd.Description)
	}
	if upd.Enabled != nil {
		add("enabled", *upd.Enabled)
	}
	if upd.RolloutPercentage != nil {
		add("rollout_percentage", *upd.RolloutPercentage)
	}
	// GREATEST keeps updated_at monotonic under clock skew.
	add("updated_at", now.UTC())
	sets[len(sets)-1] = "updated_at = GREATEST(updated_at, $" + strconv.Itoa(len(args)) + ")"

	args = append(args, key)
	query := `
		UPDATE flags SET ` + strings.Join(sets, ", ") + `
		WHERE key = $` + strconv.Itoa(len(args)) + `
		RETURNING id, key, name, description, enabled, rollout_percentage, created_at, updated_at
	`
	var f flag.Flag
	err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&f.ID, &f.Key, &f.Name, &f.Description, &f.Enabled, &f.RolloutPercentage, &f.CreatedAt, &f.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("update flag: %w", err)
	}
	return &f, nil
}

func (s *PostgresStore) Delete(ctx context.Context, key string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM flags WHERE key = $1`, key)
	if err != nil {
		return fmt.Errorf("delete flag: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete flag rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Append(ctx context.Context, entry *flag.AuditEntry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	query := `
		INSERT INTO audit_logs (flag_id, action, actor, old_value, new_value, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`
	err := s.db.QueryRowContext(ctx, query,
		entry.FlagID, string(entry.Action), entry.Actor, entry.OldValue, entry.NewValue, entry.Timestamp,
	).Scan(&entry.ID)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListByFlag(ctx context.Context, flagID int64, limit int) ([]flag.AuditEntry, error) {
	query := `
		SELECT id, flag_id, action, actor, old_value, new_value, timestamp
		FROM audit_logs WHERE flag_id = $1 ORDER BY timestamp DESC, id DESC LIMIT $2
	`
	return s.scanAudits(s.db.QueryContext(ctx, query, flagID, limit))
}

func (s *PostgresStore) ListRecent(ctx context.Context, limit int) ([]flag.AuditEntry, error) {
	query := `
		SELECT id, flag_id, action, actor, old_value, new_value, timestamp
		FROM audit_logs ORDER BY timestamp DESC, id DESC LIMIT $1
	`
	return s.scanAudits(s.db.QueryContext(ctx, query, limit))
}

func (s *PostgresStore) scanAudits(rows *sql.Rows, err error) ([]flag.AuditEntry, error) {
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close()

	entries := []flag.AuditEntry{}
	for rows.Next() {
		var e flag.AuditEntry
		var action string
		if err := rows.Scan(&e.ID, &e.FlagID, &action, &e.Actor, &e.OldValue, &e.NewValue, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.Action = flag.Action(action)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *PostgresStore) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
