package catalog

import (
	"context"
	"time"
)

// Ledger is the persistence contract for freshness bookkeeping. All
// mutation goes through upsert-by-key or update-by-id-set, both idempotent,
// so at-least-once delivery of updates is safe to replay.
type Ledger interface {
	// FindNeverFetched returns up to limit candidates whose SelectedAt is
	// null, ordered by popularity descending. When staleCutoff is non-zero
	// the stale-reserved branch is included: rows whose reservation was
	// never completed (SelectedAt ahead of UpdatedAt) and whose SelectedAt
	// is older than the cutoff.
	FindNeverFetched(ctx context.Context, source SourceType, mediaType MediaType, staleCutoff time.Time, limit int) ([]Candidate, error)

	// FindOldestFetched returns up to limit candidates with a non-null
	// SelectedAt, least recently reserved first, regardless of whether that
	// reservation ever completed.
	FindOldestFetched(ctx context.Context, source SourceType, mediaType MediaType, limit int) ([]Candidate, error)

	// Reserve stamps SelectedAt on the given ids in a single conditional
	// update and returns the ids that were actually still eligible. An id
	// claimed by a concurrent pass since the candidate read is silently
	// dropped from the result.
	Reserve(ctx context.Context, source SourceType, ids []string, now time.Time, staleCutoff time.Time) ([]string, error)

	// Iterate resolves ids into batch items for dispatch hand-off. A count
	// mismatch between requested ids and resolved rows returns
	// ErrBatchMismatch.
	Iterate(ctx context.Context, source SourceType, ids []string) ([]BatchItem, error)

	// ResolveExternal maps external catalog ids onto batch items for the
	// given source and media category. Unknown ids are omitted.
	ResolveExternal(ctx context.Context, source SourceType, mediaType MediaType, externalIDs []int64) ([]BatchItem, error)

	// ReportSuccess merges the payload, advances UpdatedAt, clears the
	// failure fields and releases the reservation flag.
	ReportSuccess(ctx context.Context, source SourceType, id string, payload SourcePayload, now time.Time) error

	// ReportFailure records the attempt failure. SelectedAt is left
	// untouched so the buffer window re-admits the row later.
	ReportFailure(ctx context.Context, source SourceType, id string, reason string, now time.Time) error

	// BulkUpsert inserts or merges records keyed by
	// (external_id, media_type, source_type). CreatedAt is set only on
	// insert; UpdatedAt advances on every call.
	BulkUpsert(ctx context.Context, source SourceType, records []SourceRecord) (UpsertResult, error)

	// DueCounts reports pending work per candidate stream.
	DueCounts(ctx context.Context, source SourceType, mediaType MediaType, staleCutoff time.Time) (DueCounts, error)

	// Ping verifies connectivity to the backing store.
	Ping(ctx context.Context) error
}

// PriorityStore reads and resets the externally-fed priority queue.
type PriorityStore interface {
	// SelectEligible returns external ids with priority above zero whose
	// cooldown has lapsed, highest priority first.
	SelectEligible(ctx context.Context, mediaType MediaType, limit int) ([]int64, error)

	// Reset zeroes priority and stamps the cooldown start on the given
	// entries. Entries are never deleted; an external process may re-raise
	// them later.
	Reset(ctx context.Context, mediaType MediaType, externalIDs []int64) error
}

// SourceCrawler fetches enrichment data for one entity. Implementations
// must be safe to retry; the scheduler delivers at-least-once.
type SourceCrawler interface {
	Attempt(ctx context.Context, item BatchItem) (SourcePayload, error)
}

// BlobStore archives raw payloads and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Publisher pushes refresh-completion events downstream.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces internal entity ids.
type IDGenerator interface {
	NewID() (string, error)
}
