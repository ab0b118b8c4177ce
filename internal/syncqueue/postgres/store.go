// Package postgres stores queued operations in Postgres for agents that share
// a host database.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/edgeagent/internal/syncqueue"
)

//go:embed schema.sql
var schema string

const selectColumns = `SELECT id, kind, gym_id, gym_name, checkin_id, token, subject, created_at, attempts, status, last_error FROM sync_queue`

// Store implements syncqueue.Store on a pgx pool.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore constructs a Store. Close leaves the pool open.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Migrate creates the sync_queue table if it is missing.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate sync_queue: %w", err)
	}
	return nil
}

// Put inserts op or replaces every column of the row with the same id.
func (s *Store) Put(ctx context.Context, op syncqueue.Operation) error {
	const stmt = `INSERT INTO sync_queue (id, kind, gym_id, gym_name, checkin_id, token, subject, created_at, attempts, status, last_error)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
        ON CONFLICT (id) DO UPDATE SET
            kind = EXCLUDED.kind,
            gym_id = EXCLUDED.gym_id,
            gym_name = EXCLUDED.gym_name,
            checkin_id = EXCLUDED.checkin_id,
            token = EXCLUDED.token,
            subject = EXCLUDED.subject,
            created_at = EXCLUDED.created_at,
            attempts = EXCLUDED.attempts,
            status = EXCLUDED.status,
            last_error = EXCLUDED.last_error`

	_, err := s.pool.Exec(ctx, stmt,
		op.ID,
		string(op.Kind),
		op.GymID,
		op.GymName,
		op.CheckinID,
		op.Token,
		op.Subject,
		op.CreatedAt,
		op.Attempts,
		string(op.Status),
		op.LastError,
	)
	return err
}

// Get returns the operation with id.
func (s *Store) Get(ctx context.Context, id string) (syncqueue.Operation, error) {
	op, err := scan(s.pool.QueryRow(ctx, selectColumns+` WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return syncqueue.Operation{}, fmt.Errorf("%w: %s", syncqueue.ErrNotFound, id)
	}
	return op, err
}

// List returns every operation ordered by creation time.
func (s *Store) List(ctx context.Context) ([]syncqueue.Operation, error) {
	rows, err := s.pool.Query(ctx, selectColumns+` ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ops := make([]syncqueue.Operation, 0)
	for rows.Next() {
		op, err := scan(rows)
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ops, nil
}

// Delete removes the operation with id.
func (s *Store) Delete(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM sync_queue WHERE id=$1`, id)
	return err
}

// Close implements syncqueue.Store.
func (s *Store) Close() error { return nil }

func scan(row pgx.Row) (syncqueue.Operation, error) {
	var (
		op     syncqueue.Operation
		kind   string
		status string
	)
	if err := row.Scan(&op.ID, &kind, &op.GymID, &op.GymName, &op.CheckinID, &op.Token, &op.Subject, &op.CreatedAt, &op.Attempts, &status, &op.LastError); err != nil {
		return syncqueue.Operation{}, err
	}
	op.Kind = syncqueue.Kind(kind)
	op.Status = syncqueue.Status(status)
	op.CreatedAt = op.CreatedAt.UTC()
	return op, nil
}
