// Package memory provides in-memory ledger and priority store
// implementations, used by tests and by the noop wiring path.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/alp82/goodwatch-monorepo-sub001/internal/catalog"
)

type recordKey struct {
	externalID int64
	mediaType  catalog.MediaType
	sourceType catalog.SourceType
}

// Ledger implements catalog.Ledger on guarded maps. Reserve holds the
// mutex across predicate check and stamp, giving the same
// check-and-claim atomicity the Postgres store gets from a conditional
// UPDATE.
type Ledger struct {
	mu       sync.Mutex
	records  map[string]*catalog.SourceRecord
	byKey    map[recordKey]string
	clock    catalog.Clock
	idGen    catalog.IDGenerator
	sequence int
}

// NewLedger constructs an empty Ledger. idGen may be nil, in which case
// sequential ids are assigned.
func NewLedger(clock catalog.Clock, idGen catalog.IDGenerator) *Ledger {
	return &Ledger{
		records: map[string]*catalog.SourceRecord{},
		byKey:   map[recordKey]string{},
		clock:   clock,
		idGen:   idGen,
	}
}

// Seed inserts a record directly, bypassing upsert bookkeeping. Test helper.
func (l *Ledger) Seed(record catalog.SourceRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if record.ID == "" {
		record.ID = l.nextIDLocked()
	}
	copied := record
	l.records[record.ID] = &copied
	l.byKey[recordKey{record.ExternalID, record.MediaType, record.SourceType}] = record.ID
}

// Get returns a copy of the record, or false when absent. Test helper.
func (l *Ledger) Get(id string) (catalog.SourceRecord, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.records[id]
	if !ok {
		return catalog.SourceRecord{}, false
	}
	return *r, true
}

func (l *Ledger) nextIDLocked() string {
	if l.idGen != nil {
		if id, err := l.idGen.NewID(); err == nil {
			return id
		}
	}
	l.sequence++
	return fmt.Sprintf("mem-%06d", l.sequence)
}

// FindNeverFetched implements catalog.Ledger.
func (l *Ledger) FindNeverFetched(_ context.Context, source catalog.SourceType, mediaType catalog.MediaType, staleCutoff time.Time, limit int) ([]catalog.Candidate, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []catalog.Candidate
	for _, r := range l.records {
		if r.SourceType != source || r.MediaType != mediaType {
			continue
		}
		if !neverFetched(r, staleCutoff) {
			continue
		}
		out = append(out, toCandidate(r))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Popularity > out[j].Popularity })
	return clip(out, limit), nil
}

func neverFetched(r *catalog.SourceRecord, staleCutoff time.Time) bool {
	if r.SelectedAt == nil {
		return true
	}
	if staleCutoff.IsZero() {
		return false
	}
	incomplete := r.UpdatedAt == nil || r.SelectedAt.After(*r.UpdatedAt)
	return incomplete && r.SelectedAt.Before(staleCutoff)
}

// FindOldestFetched implements catalog.Ledger.
func (l *Ledger) FindOldestFetched(_ context.Context, source catalog.SourceType, mediaType catalog.MediaType, limit int) ([]catalog.Candidate, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []catalog.Candidate
	for _, r := range l.records {
		if r.SourceType != source || r.MediaType != mediaType || r.SelectedAt == nil {
			continue
		}
		out = append(out, toCandidate(r))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].SelectedAt.Before(*out[j].SelectedAt) })
	return clip(out, limit), nil
}

// Reserve implements catalog.Ledger.
func (l *Ledger) Reserve(_ context.Context, source catalog.SourceType, ids []string, now time.Time, staleCutoff time.Time) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var reserved []string
	for _, id := range ids {
		r, ok := l.records[id]
		if !ok || r.SourceType != source {
			continue
		}
		if !reservable(r, staleCutoff) {
			continue
		}
		stamp := now
		r.SelectedAt = &stamp
		r.IsSelected = true
		reserved = append(reserved, id)
	}
	return reserved, nil
}

func reservable(r *catalog.SourceRecord, cutoff time.Time) bool {
	if r.SelectedAt == nil {
		return true
	}
	if r.SelectedAt.Before(cutoff) {
		return true
	}
	return r.UpdatedAt != nil && !r.UpdatedAt.Before(*r.SelectedAt)
}

// Iterate implements catalog.Ledger.
func (l *Ledger) Iterate(_ context.Context, source catalog.SourceType, ids []string) ([]catalog.BatchItem, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var items []catalog.BatchItem
	for _, id := range ids {
		r, ok := l.records[id]
		if !ok || r.SourceType != source {
			continue
		}
		items = append(items, catalog.BatchItem{ID: r.ID, ExternalID: r.ExternalID, MediaType: r.MediaType})
	}
	if len(items) != len(ids) {
		return nil, fmt.Errorf("requested %d ids, resolved %d: %w", len(ids), len(items), catalog.ErrBatchMismatch)
	}
	return items, nil
}

// ResolveExternal implements catalog.Ledger.
func (l *Ledger) ResolveExternal(_ context.Context, source catalog.SourceType, mediaType catalog.MediaType, externalIDs []int64) ([]catalog.BatchItem, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var items []catalog.BatchItem
	for _, externalID := range externalIDs {
		id, ok := l.byKey[recordKey{externalID, mediaType, source}]
		if !ok {
			continue
		}
		r := l.records[id]
		items = append(items, catalog.BatchItem{ID: r.ID, ExternalID: r.ExternalID, MediaType: r.MediaType})
	}
	return items, nil
}

// ReportSuccess implements catalog.Ledger.
func (l *Ledger) ReportSuccess(_ context.Context, source catalog.SourceType, id string, payload catalog.SourcePayload, now time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.records[id]
	if !ok || r.SourceType != source {
		return fmt.Errorf("record %s/%s: %w", source, id, catalog.ErrNotFound)
	}
	if len(payload.Fields) > 0 {
		merged := map[string]any{}
		if len(r.Payload) > 0 {
			_ = json.Unmarshal(r.Payload, &merged)
		}
		for k, v := range payload.Fields {
			merged[k] = v
		}
		data, err := json.Marshal(merged)
		if err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
		r.Payload = data
	}
	stamp := now
	r.UpdatedAt = &stamp
	r.FailedAt = nil
	r.ErrorMessage = ""
	r.IsSelected = false
	return nil
}

// ReportFailure implements catalog.Ledger.
func (l *Ledger) ReportFailure(_ context.Context, source catalog.SourceType, id string, reason string, now time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.records[id]
	if !ok || r.SourceType != source {
		return fmt.Errorf("record %s/%s: %w", source, id, catalog.ErrNotFound)
	}
	stamp := now
	r.FailedAt = &stamp
	r.ErrorMessage = reason
	r.IsSelected = false
	return nil
}

// BulkUpsert implements catalog.Ledger.
func (l *Ledger) BulkUpsert(_ context.Context, source catalog.SourceType, records []catalog.SourceRecord) (catalog.UpsertResult, error) {
	for _, r := range records {
		if !r.MediaType.Valid() {
			return catalog.UpsertResult{}, fmt.Errorf("external id %d media type %q: %w", r.ExternalID, r.MediaType, catalog.ErrUnknownMediaType)
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now().UTC()
	if l.clock != nil {
		now = l.clock.Now()
	}
	var result catalog.UpsertResult
	for _, incoming := range records {
		key := recordKey{incoming.ExternalID, incoming.MediaType, source}
		stamp := now
		if incoming.UpdatedAt != nil {
			stamp = *incoming.UpdatedAt
		}
		if id, ok := l.byKey[key]; ok {
			existing := l.records[id]
			existing.Popularity = incoming.Popularity
			if len(incoming.Payload) > 0 {
				existing.Payload = incoming.Payload
			}
			existing.UpdatedAt = &stamp
			result.Updated++
			continue
		}
		created := incoming
		created.SourceType = source
		if created.ID == "" {
			created.ID = l.nextIDLocked()
		}
		created.CreatedAt = now
		created.UpdatedAt = &stamp
		l.records[created.ID] = &created
		l.byKey[key] = created.ID
		result.Created++
	}
	return result, nil
}

// DueCounts implements catalog.Ledger.
func (l *Ledger) DueCounts(_ context.Context, source catalog.SourceType, mediaType catalog.MediaType, staleCutoff time.Time) (catalog.DueCounts, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var counts catalog.DueCounts
	for _, r := range l.records {
		if r.SourceType != source || r.MediaType != mediaType {
			continue
		}
		if neverFetched(r, staleCutoff) {
			counts.NeverFetched++
		}
		if r.SelectedAt != nil {
			counts.OldestFetched++
		}
	}
	return counts, nil
}

// Ping implements catalog.Ledger.
func (l *Ledger) Ping(context.Context) error {
	return nil
}

func toCandidate(r *catalog.SourceRecord) catalog.Candidate {
	return catalog.Candidate{
		ID:         r.ID,
		ExternalID: r.ExternalID,
		MediaType:  r.MediaType,
		Popularity: r.Popularity,
		SelectedAt: copyTime(r.SelectedAt),
		UpdatedAt:  copyTime(r.UpdatedAt),
	}
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

func clip(candidates []catalog.Candidate, limit int) []catalog.Candidate {
	if limit > 0 && len(candidates) > limit {
		return candidates[:limit]
	}
	return candidates
}
