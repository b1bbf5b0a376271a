package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/alp82/goodwatch-monorepo-sub001/internal/catalog"
)

// PriorityStore implements catalog.PriorityStore on the priority_queue
// table. Entries are written by external processes; this store only reads
// eligible rows and starts cooldowns.
type PriorityStore struct {
	pool     dbpool
	clock    catalog.Clock
	cooldown time.Duration
}

// NewPriorityStore constructs a PriorityStore sharing the ledger pool.
// A non-positive cooldown falls back to catalog.PriorityCooldown.
func NewPriorityStore(pool dbpool, clock catalog.Clock, cooldown time.Duration) (*PriorityStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if cooldown <= 0 {
		cooldown = catalog.PriorityCooldown
	}
	return &PriorityStore{pool: pool, clock: clock, cooldown: cooldown}, nil
}

// NewPriorityStoreFrom builds a PriorityStore sharing an existing ledger
// store's connection pool.
func NewPriorityStoreFrom(ledger *LedgerStore, clock catalog.Clock, cooldown time.Duration) (*PriorityStore, error) {
	if ledger == nil {
		return nil, fmt.Errorf("ledger store is required")
	}
	return NewPriorityStore(ledger.pool, clock, cooldown)
}

const selectEligibleQuery = `
SELECT external_id
FROM priority_queue
WHERE media_type = $1 AND priority > 0
  AND (reset_at IS NULL OR reset_at < $2)
ORDER BY priority DESC, external_id ASC
LIMIT $3`

// SelectEligible implements catalog.PriorityStore.
func (s *PriorityStore) SelectEligible(ctx context.Context, mediaType catalog.MediaType, limit int) ([]int64, error) {
	cutoff := s.clock.Now().Add(-s.cooldown)
	rows, err := s.pool.Query(ctx, selectEligibleQuery, mediaType, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("select eligible priorities: %w", err)
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan priority id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate priority ids: %w", err)
	}
	return ids, nil
}

const resetPriorityQuery = `
UPDATE priority_queue
SET priority = 0, reset_at = $2
WHERE media_type = $1 AND external_id = ANY($3)`

// Reset implements catalog.PriorityStore. A cooldown starts now; the row
// stays in place for external re-raising.
func (s *PriorityStore) Reset(ctx context.Context, mediaType catalog.MediaType, externalIDs []int64) error {
	if len(externalIDs) == 0 {
		return nil
	}
	if _, err := s.pool.Exec(ctx, resetPriorityQuery, mediaType, s.clock.Now(), externalIDs); err != nil {
		return fmt.Errorf("reset priorities: %w", err)
	}
	return nil
}
