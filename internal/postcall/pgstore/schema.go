// Package pgstore is the durable call-log store the post-call orchestrator
// writes to once a call's job/call payloads have been assembled, giving the
// idempotency gate (spec.md §4.6 step 1) a backstop that survives a process
// restart: Session.Synced alone only protects a single run's in-memory
// lifetime.
//
// Adapted from the teacher's pkg/memory/postgres (a three-layer pgvector-
// backed NPC memory store) down to a single table — this domain has no
// embedding or knowledge-graph layer to carry, only an append-mostly call
// log keyed by call_id.
package pgstore

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlCalls = `
CREATE TABLE IF NOT EXISTS calls (
    call_id       TEXT         PRIMARY KEY,
    phone_number  TEXT         NOT NULL,
    start_time    TIMESTAMPTZ  NOT NULL,
    end_time      TIMESTAMPTZ  NOT NULL,
    end_state     TEXT         NOT NULL,
    job_payload   JSONB        NOT NULL,
    call_payload  JSONB        NOT NULL,
    synced        BOOLEAN      NOT NULL DEFAULT false,
    created_at    TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_calls_phone_number
    ON calls (phone_number);

CREATE INDEX IF NOT EXISTS idx_calls_start_time
    ON calls (start_time);
`

// Migrate creates the calls table if it does not already exist. Idempotent,
// safe to call on every process start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlCalls); err != nil {
		return fmt.Errorf("pgstore migrate: %w", err)
	}
	return nil
}
