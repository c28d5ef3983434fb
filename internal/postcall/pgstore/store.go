package pgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned by IsSynced when no row exists for a call_id yet.
var ErrNotFound = errors.New("pgstore: call not found")

// Store is the PostgreSQL-backed call log. All methods are safe for
// concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to dsn, runs Migrate, and returns a ready Store.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgstore: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgstore: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &Store{pool: pool}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Record is one durable call-log row, written once the post-call
// orchestrator has assembled both payloads (spec.md §4.6 step 6) and before
// it attempts delivery — so a crash mid-delivery still leaves a record an
// operator can find and replay.
type Record struct {
	CallID      string
	PhoneNumber string
	StartTime   time.Time
	EndTime     time.Time
	EndState    string
	JobPayload  []byte
	CallPayload []byte
}

// Save upserts r, leaving synced at its current value if the row already
// exists (re-running assembly for a call that failed delivery earlier must
// not clobber a synced=true row written by a concurrent successful retry).
func (s *Store) Save(ctx context.Context, r Record) error {
	const q = `
		INSERT INTO calls (call_id, phone_number, start_time, end_time, end_state, job_payload, call_payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (call_id) DO UPDATE SET
		    end_time     = EXCLUDED.end_time,
		    end_state    = EXCLUDED.end_state,
		    job_payload  = EXCLUDED.job_payload,
		    call_payload = EXCLUDED.call_payload`

	_, err := s.pool.Exec(ctx, q,
		r.CallID, r.PhoneNumber, r.StartTime, r.EndTime, r.EndState, r.JobPayload, r.CallPayload)
	if err != nil {
		return fmt.Errorf("pgstore: save %s: %w", r.CallID, err)
	}
	return nil
}

// MarkSynced records that callID's job payload was successfully delivered
// (spec.md §4.6 step 8's durable idempotency marker).
func (s *Store) MarkSynced(ctx context.Context, callID string) error {
	const q = `UPDATE calls SET synced = true WHERE call_id = $1`
	tag, err := s.pool.Exec(ctx, q, callID)
	if err != nil {
		return fmt.Errorf("pgstore: mark synced %s: %w", callID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("pgstore: mark synced %s: %w", callID, ErrNotFound)
	}
	return nil
}

// IsSynced reports whether callID's job payload has already been delivered.
// Returns ErrNotFound if no row exists for callID.
func (s *Store) IsSynced(ctx context.Context, callID string) (bool, error) {
	const q = `SELECT synced FROM calls WHERE call_id = $1`
	var synced bool
	err := s.pool.QueryRow(ctx, q, callID).Scan(&synced)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("pgstore: is synced %s: %w", callID, err)
	}
	return synced, nil
}
