// Package scheduler implements incremental work selection over the ledger:
// the two-stream selector, the reservation release paths and the priority
// overlay that together decide what each source refreshes next.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/alp82/goodwatch-monorepo-sub001/internal/catalog"
	"github.com/alp82/goodwatch-monorepo-sub001/internal/metrics"
)

// SourcePolicy carries the per-source selection knobs.
type SourcePolicy struct {
	// BatchSize caps how many records one pass reserves.
	BatchSize int

	// Buffer is how long a reservation must age before the record may be
	// picked up again if the reservation never completed.
	Buffer time.Duration

	// StaleReadmission enables the stale-reserved branch of the
	// never-fetched stream. Some sources only ever look at a null
	// SelectedAt; the full variant is the default.
	StaleReadmission bool
}

// Selector merges the never-fetched and oldest-fetched candidate streams
// and reserves the winners. Selection and reservation meet in a single
// conditional ledger update, so two concurrent passes over the same source
// can never claim the same record.
type Selector struct {
	ledger catalog.Ledger
	clock  catalog.Clock
	logger *zap.Logger
}

// NewSelector constructs a Selector.
func NewSelector(ledger catalog.Ledger, clock catalog.Clock, logger *zap.Logger) *Selector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Selector{
		ledger: ledger,
		clock:  clock,
		logger: logger,
	}
}

// NextBatch produces up to policy.BatchSize reserved items for the source,
// split by media category. Never-fetched candidates (popularity descending)
// always win over merely-stale ones (oldest reservation first) when the
// combined pool exceeds the budget. Fewer candidates than the budget is not
// an error; the batch is simply smaller.
func (s *Selector) NextBatch(ctx context.Context, source catalog.SourceType, policy SourcePolicy) (catalog.Batch, error) {
	if !source.Valid() {
		return catalog.Batch{}, fmt.Errorf("source %q: %w", source, catalog.ErrUnknownSource)
	}
	if policy.BatchSize <= 0 {
		return catalog.Batch{}, fmt.Errorf("batch size must be > 0, got %d", policy.BatchSize)
	}

	now := s.clock.Now()
	cutoff := now.Add(-policy.Buffer)
	staleCutoff := time.Time{}
	if policy.StaleReadmission {
		staleCutoff = cutoff
	}

	var noFetch, oldFetch []catalog.Candidate
	for _, mediaType := range catalog.MediaTypes() {
		nf, err := s.ledger.FindNeverFetched(ctx, source, mediaType, staleCutoff, policy.BatchSize)
		if err != nil {
			return catalog.Batch{}, fmt.Errorf("find never-fetched %s/%s: %w", source, mediaType, err)
		}
		noFetch = append(noFetch, nf...)

		of, err := s.ledger.FindOldestFetched(ctx, source, mediaType, policy.BatchSize)
		if err != nil {
			return catalog.Batch{}, fmt.Errorf("find oldest-fetched %s/%s: %w", source, mediaType, err)
		}
		oldFetch = append(oldFetch, of...)
	}

	selection := mergeCandidates(noFetch, oldFetch, policy.BatchSize)
	if len(selection) == 0 {
		return catalog.Batch{}, nil
	}
	metrics.ObserveSelected(string(source), len(noFetch), len(oldFetch))

	ids := make([]string, len(selection))
	for i, c := range selection {
		ids[i] = c.ID
	}

	reserved, err := s.ledger.Reserve(ctx, source, ids, now, cutoff)
	if err != nil {
		return catalog.Batch{}, fmt.Errorf("reserve %s: %w", source, err)
	}
	if len(reserved) < len(ids) {
		s.logger.Debug("candidates lost to concurrent pass",
			zap.String("source", string(source)),
			zap.Int("requested", len(ids)),
			zap.Int("reserved", len(reserved)),
		)
	}
	if len(reserved) == 0 {
		return catalog.Batch{}, nil
	}

	items, err := s.ledger.Iterate(ctx, source, reserved)
	if err != nil {
		return catalog.Batch{}, fmt.Errorf("resolve reserved ids %s: %w", source, err)
	}

	var batch catalog.Batch
	for _, item := range items {
		if !item.MediaType.Valid() {
			return catalog.Batch{}, fmt.Errorf("record %s media type %q: %w", item.ID, item.MediaType, catalog.ErrUnknownMediaType)
		}
		batch.Add(item)
	}
	metrics.ObserveReserved(string(source), len(batch.MovieIDs), len(batch.TVIDs))
	return batch, nil
}

// mergeCandidates applies the selection order: both never-fetched category
// lists merged and ranked by popularity, both oldest-fetched lists merged
// and ranked by reservation age, never-fetched first, truncated to limit.
func mergeCandidates(noFetch, oldFetch []catalog.Candidate, limit int) []catalog.Candidate {
	noFetch = append([]catalog.Candidate(nil), noFetch...)
	sort.SliceStable(noFetch, func(i, j int) bool {
		return noFetch[i].Popularity > noFetch[j].Popularity
	})
	noFetch = truncate(noFetch, limit)

	oldFetch = append([]catalog.Candidate(nil), oldFetch...)
	sort.SliceStable(oldFetch, func(i, j int) bool {
		return selectedBefore(oldFetch[i].SelectedAt, oldFetch[j].SelectedAt)
	})
	oldFetch = truncate(oldFetch, limit)

	merged := make([]catalog.Candidate, 0, len(noFetch)+len(oldFetch))
	merged = append(merged, noFetch...)
	seen := make(map[string]struct{}, len(noFetch))
	for _, c := range noFetch {
		seen[c.ID] = struct{}{}
	}
	for _, c := range oldFetch {
		if _, dup := seen[c.ID]; dup {
			continue
		}
		merged = append(merged, c)
	}
	return truncate(merged, limit)
}

func selectedBefore(a, b *time.Time) bool {
	switch {
	case a == nil:
		return b != nil
	case b == nil:
		return false
	default:
		return a.Before(*b)
	}
}

func truncate(candidates []catalog.Candidate, limit int) []catalog.Candidate {
	if len(candidates) > limit {
		return candidates[:limit]
	}
	return candidates
}
