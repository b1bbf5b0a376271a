package scheduler

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/alp82/goodwatch-monorepo-sub001/internal/catalog"
	"github.com/alp82/goodwatch-monorepo-sub001/internal/metrics"
)

// DefaultOverlayLimit caps how many prioritized entities per media
// category one pass pulls ahead of the normal selection.
const DefaultOverlayLimit = 5

// Overlay drains the externally-fed priority queue ahead of the normal
// selector pass. Entries it consumes go into a cooldown rather than being
// deleted; an external process may re-raise them after the cooldown lapses.
type Overlay struct {
	priorities catalog.PriorityStore
	ledger     catalog.Ledger
	logger     *zap.Logger
	limit      int
}

// NewOverlay constructs an Overlay. A non-positive limit falls back to
// DefaultOverlayLimit.
func NewOverlay(priorities catalog.PriorityStore, ledger catalog.Ledger, limit int, logger *zap.Logger) *Overlay {
	if logger == nil {
		logger = zap.NewNop()
	}
	if limit <= 0 {
		limit = DefaultOverlayLimit
	}
	return &Overlay{
		priorities: priorities,
		ledger:     ledger,
		logger:     logger,
		limit:      limit,
	}
}

// NextBatch pulls eligible priority entries per media category and
// translates their external ids into ledger batch items for the source.
// An external id with no ledger row cannot make progress here, so it is
// reset into cooldown immediately; left eligible it would occupy the
// per-category limit on every pass and starve resolvable entries sorted
// behind it. An external re-raise after the row is backfilled brings it
// back.
func (o *Overlay) NextBatch(ctx context.Context, source catalog.SourceType) (catalog.Batch, error) {
	var batch catalog.Batch
	for _, mediaType := range catalog.MediaTypes() {
		externalIDs, err := o.priorities.SelectEligible(ctx, mediaType, o.limit)
		if err != nil {
			return catalog.Batch{}, fmt.Errorf("select priority entries %s: %w", mediaType, err)
		}
		if len(externalIDs) == 0 {
			continue
		}
		items, err := o.ledger.ResolveExternal(ctx, source, mediaType, externalIDs)
		if err != nil {
			return catalog.Batch{}, fmt.Errorf("resolve priority ids %s/%s: %w", source, mediaType, err)
		}
		for _, item := range items {
			batch.Add(item)
		}
		metrics.ObservePriorityHits(string(mediaType), len(items))
		if len(items) < len(externalIDs) {
			unresolved := unresolvedIDs(externalIDs, items)
			if err := o.priorities.Reset(ctx, mediaType, unresolved); err != nil {
				return catalog.Batch{}, fmt.Errorf("reset unresolvable priority entries %s: %w", mediaType, err)
			}
			o.logger.Warn("priority entries without ledger rows reset",
				zap.String("source", string(source)),
				zap.String("media_type", string(mediaType)),
				zap.Int64s("external_ids", unresolved),
			)
		}
	}
	return batch, nil
}

func unresolvedIDs(requested []int64, items []catalog.BatchItem) []int64 {
	resolved := make(map[int64]struct{}, len(items))
	for _, item := range items {
		resolved[item.ExternalID] = struct{}{}
	}
	var out []int64
	for _, id := range requested {
		if _, ok := resolved[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}

// Acknowledge starts the cooldown on every entry the batch consumed.
// Called after dispatch so a crashed pass leaves the entries eligible.
func (o *Overlay) Acknowledge(ctx context.Context, batch catalog.Batch) error {
	byType := map[catalog.MediaType][]int64{}
	for _, item := range batch.Items() {
		byType[item.MediaType] = append(byType[item.MediaType], item.ExternalID)
	}
	for mediaType, externalIDs := range byType {
		if err := o.priorities.Reset(ctx, mediaType, externalIDs); err != nil {
			return fmt.Errorf("reset priority entries %s: %w", mediaType, err)
		}
	}
	return nil
}
