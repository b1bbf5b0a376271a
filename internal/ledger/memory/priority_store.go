package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/alp82/goodwatch-monorepo-sub001/internal/catalog"
)

type priorityKey struct {
	externalID int64
	mediaType  catalog.MediaType
}

// PriorityStore implements catalog.PriorityStore in memory.
type PriorityStore struct {
	mu       sync.Mutex
	entries  map[priorityKey]*catalog.PriorityEntry
	clock    catalog.Clock
	cooldown time.Duration
}

// NewPriorityStore constructs an empty store. A non-positive cooldown
// falls back to catalog.PriorityCooldown.
func NewPriorityStore(clock catalog.Clock, cooldown time.Duration) *PriorityStore {
	if cooldown <= 0 {
		cooldown = catalog.PriorityCooldown
	}
	return &PriorityStore{
		entries:  map[priorityKey]*catalog.PriorityEntry{},
		clock:    clock,
		cooldown: cooldown,
	}
}

// Raise sets an entry's priority, standing in for the external process
// that feeds the queue. Also a test helper.
func (s *PriorityStore) Raise(externalID int64, mediaType catalog.MediaType, priority int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := priorityKey{externalID, mediaType}
	entry, ok := s.entries[key]
	if !ok {
		entry = &catalog.PriorityEntry{ExternalID: externalID, MediaType: mediaType}
		s.entries[key] = entry
	}
	entry.Priority = priority
}

// Entry returns a copy of the stored entry, or false. Test helper.
func (s *PriorityStore) Entry(externalID int64, mediaType catalog.MediaType) (catalog.PriorityEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[priorityKey{externalID, mediaType}]
	if !ok {
		return catalog.PriorityEntry{}, false
	}
	return *entry, true
}

// SelectEligible implements catalog.PriorityStore.
func (s *PriorityStore) SelectEligible(_ context.Context, mediaType catalog.MediaType, limit int) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := s.clock.Now().Add(-s.cooldown)
	var eligible []*catalog.PriorityEntry
	for _, entry := range s.entries {
		if entry.MediaType != mediaType || entry.Priority <= 0 {
			continue
		}
		if entry.ResetAt != nil && !entry.ResetAt.Before(cutoff) {
			continue
		}
		eligible = append(eligible, entry)
	}
	sort.SliceStable(eligible, func(i, j int) bool {
		if eligible[i].Priority != eligible[j].Priority {
			return eligible[i].Priority > eligible[j].Priority
		}
		return eligible[i].ExternalID < eligible[j].ExternalID
	})
	if limit > 0 && len(eligible) > limit {
		eligible = eligible[:limit]
	}
	ids := make([]int64, len(eligible))
	for i, entry := range eligible {
		ids[i] = entry.ExternalID
	}
	return ids, nil
}

// Reset implements catalog.PriorityStore.
func (s *PriorityStore) Reset(_ context.Context, mediaType catalog.MediaType, externalIDs []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	for _, externalID := range externalIDs {
		entry, ok := s.entries[priorityKey{externalID, mediaType}]
		if !ok {
			continue
		}
		entry.Priority = 0
		stamp := now
		entry.ResetAt = &stamp
	}
	return nil
}
