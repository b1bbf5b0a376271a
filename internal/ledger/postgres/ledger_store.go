// Package postgres provides the Postgres-backed ledger and priority store.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alp82/goodwatch-monorepo-sub001/internal/catalog"
	"github.com/alp82/goodwatch-monorepo-sub001/internal/metrics"
)

// LedgerStoreConfig controls the Postgres connection pool behind the ledger.
type LedgerStoreConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type dbpool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// LedgerStore implements catalog.Ledger on a single source_records table
// keyed by (external_id, media_type, source_type).
type LedgerStore struct {
	pool  dbpool
	idGen catalog.IDGenerator
}

// NewLedgerStore connects a pool and returns the store.
func NewLedgerStore(ctx context.Context, cfg LedgerStoreConfig, idGen catalog.IDGenerator) (*LedgerStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &LedgerStore{pool: pool, idGen: idGen}, nil
}

// NewLedgerStoreWithPool constructs a store from an existing pool
// (primarily for testing).
func NewLedgerStoreWithPool(pool dbpool, idGen catalog.IDGenerator) (*LedgerStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &LedgerStore{pool: pool, idGen: idGen}, nil
}

// Close releases the underlying pool resources.
func (s *LedgerStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping verifies connectivity.
func (s *LedgerStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

const candidateColumns = `id, external_id, media_type, popularity, selected_at, updated_at`

const neverFetchedQuery = `
SELECT ` + candidateColumns + `
FROM source_records
WHERE source_type = $1 AND media_type = $2
  AND selected_at IS NULL
ORDER BY popularity DESC
LIMIT $3`

// The stale branch re-admits rows whose reservation was never completed
// once the buffer window has elapsed.
const neverFetchedStaleQuery = `
SELECT ` + candidateColumns + `
FROM source_records
WHERE source_type = $1 AND media_type = $2
  AND (selected_at IS NULL
       OR ((updated_at IS NULL OR selected_at > updated_at) AND selected_at < $3))
ORDER BY popularity DESC
LIMIT $4`

// FindNeverFetched implements catalog.Ledger. A zero staleCutoff keeps the
// query to the plain null-reservation variant.
func (s *LedgerStore) FindNeverFetched(ctx context.Context, source catalog.SourceType, mediaType catalog.MediaType, staleCutoff time.Time, limit int) ([]catalog.Candidate, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if staleCutoff.IsZero() {
		rows, err = s.pool.Query(ctx, neverFetchedQuery, source, mediaType, limit)
	} else {
		rows, err = s.pool.Query(ctx, neverFetchedStaleQuery, source, mediaType, staleCutoff, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("query never-fetched: %w", err)
	}
	return scanCandidates(rows)
}

const oldestFetchedQuery = `
SELECT ` + candidateColumns + `
FROM source_records
WHERE source_type = $1 AND media_type = $2 AND selected_at IS NOT NULL
ORDER BY selected_at ASC
LIMIT $3`

// FindOldestFetched implements catalog.Ledger.
func (s *LedgerStore) FindOldestFetched(ctx context.Context, source catalog.SourceType, mediaType catalog.MediaType, limit int) ([]catalog.Candidate, error) {
	rows, err := s.pool.Query(ctx, oldestFetchedQuery, source, mediaType, limit)
	if err != nil {
		return nil, fmt.Errorf("query oldest-fetched: %w", err)
	}
	return scanCandidates(rows)
}

func scanCandidates(rows pgx.Rows) ([]catalog.Candidate, error) {
	defer rows.Close()
	var out []catalog.Candidate
	for rows.Next() {
		var c catalog.Candidate
		if err := rows.Scan(&c.ID, &c.ExternalID, &c.MediaType, &c.Popularity, &c.SelectedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan candidate: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate candidates: %w", err)
	}
	return out, nil
}

// Selection and reservation are one statement: only rows still eligible at
// execution time get the new stamp, and only those ids come back. A row a
// concurrent pass claimed inside the buffer window fails the predicate and
// drops out of the result.
const reserveQuery = `
UPDATE source_records
SET selected_at = $3, is_selected = TRUE
WHERE source_type = $1 AND id = ANY($2::uuid[])
  AND (selected_at IS NULL
       OR selected_at < $4
       OR (updated_at IS NOT NULL AND updated_at >= selected_at))
RETURNING id`

// Reserve implements catalog.Ledger.
func (s *LedgerStore) Reserve(ctx context.Context, source catalog.SourceType, ids []string, now time.Time, staleCutoff time.Time) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, reserveQuery, source, ids, now, staleCutoff)
	if err != nil {
		return nil, fmt.Errorf("reserve records: %w", err)
	}
	defer rows.Close()
	var reserved []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan reserved id: %w", err)
		}
		reserved = append(reserved, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reserved ids: %w", err)
	}
	return reserved, nil
}

const iterateQuery = `
SELECT id, external_id, media_type
FROM source_records
WHERE source_type = $1 AND id = ANY($2::uuid[])`

// Iterate implements catalog.Ledger. A count mismatch means the ledger
// changed underneath the batch; the caller must abort and re-run scheduling.
func (s *LedgerStore) Iterate(ctx context.Context, source catalog.SourceType, ids []string) ([]catalog.BatchItem, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, iterateQuery, source, ids)
	if err != nil {
		return nil, fmt.Errorf("resolve batch ids: %w", err)
	}
	items, err := scanBatchItems(rows)
	if err != nil {
		return nil, err
	}
	if len(items) != len(ids) {
		return nil, fmt.Errorf("requested %d ids, resolved %d: %w", len(ids), len(items), catalog.ErrBatchMismatch)
	}
	return items, nil
}

const resolveExternalQuery = `
SELECT id, external_id, media_type
FROM source_records
WHERE source_type = $1 AND media_type = $2 AND external_id = ANY($3)`

// ResolveExternal implements catalog.Ledger. Unknown external ids are
// omitted rather than treated as errors.
func (s *LedgerStore) ResolveExternal(ctx context.Context, source catalog.SourceType, mediaType catalog.MediaType, externalIDs []int64) ([]catalog.BatchItem, error) {
	if len(externalIDs) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, resolveExternalQuery, source, mediaType, externalIDs)
	if err != nil {
		return nil, fmt.Errorf("resolve external ids: %w", err)
	}
	return scanBatchItems(rows)
}

func scanBatchItems(rows pgx.Rows) ([]catalog.BatchItem, error) {
	defer rows.Close()
	var items []catalog.BatchItem
	for rows.Next() {
		var item catalog.BatchItem
		if err := rows.Scan(&item.ID, &item.ExternalID, &item.MediaType); err != nil {
			return nil, fmt.Errorf("scan batch item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate batch items: %w", err)
	}
	return items, nil
}

const reportSuccessQuery = `
UPDATE source_records
SET payload = COALESCE(payload, '{}'::jsonb) || $3::jsonb,
    updated_at = $4,
    failed_at = NULL,
    error_message = NULL,
    is_selected = FALSE
WHERE source_type = $1 AND id = $2`

// ReportSuccess implements catalog.Ledger.
func (s *LedgerStore) ReportSuccess(ctx context.Context, source catalog.SourceType, id string, payload catalog.SourcePayload, now time.Time) error {
	fields := payload.Fields
	if fields == nil {
		fields = map[string]any{}
	}
	fieldsJSON, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("marshal payload fields: %w", err)
	}
	tag, err := s.pool.Exec(ctx, reportSuccessQuery, source, id, fieldsJSON, now)
	if err != nil {
		return fmt.Errorf("report success: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("record %s/%s: %w", source, id, catalog.ErrNotFound)
	}
	return nil
}

const reportFailureQuery = `
UPDATE source_records
SET failed_at = $3,
    error_message = $4,
    is_selected = FALSE
WHERE source_type = $1 AND id = $2`

// ReportFailure implements catalog.Ledger. SelectedAt remains where the
// reservation put it, which is what re-admits the record after the buffer.
func (s *LedgerStore) ReportFailure(ctx context.Context, source catalog.SourceType, id string, reason string, now time.Time) error {
	tag, err := s.pool.Exec(ctx, reportFailureQuery, source, id, now, reason)
	if err != nil {
		return fmt.Errorf("report failure: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("record %s/%s: %w", source, id, catalog.ErrNotFound)
	}
	return nil
}

// xmax = 0 distinguishes a fresh insert from a conflict-merge without a
// second round trip. created_at comes from the column default and is never
// touched on conflict.
const upsertQuery = `
INSERT INTO source_records (id, external_id, media_type, source_type, popularity, payload, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (external_id, media_type, source_type) DO UPDATE
SET popularity = EXCLUDED.popularity,
    payload = COALESCE(EXCLUDED.payload, source_records.payload),
    updated_at = EXCLUDED.updated_at
RETURNING (xmax = 0) AS inserted`

// BulkUpsert implements catalog.Ledger. Records are validated before the
// first write so a bad media-type tag cannot corrupt ledger state.
func (s *LedgerStore) BulkUpsert(ctx context.Context, source catalog.SourceType, records []catalog.SourceRecord) (catalog.UpsertResult, error) {
	for _, r := range records {
		if !r.MediaType.Valid() {
			return catalog.UpsertResult{}, fmt.Errorf("external id %d media type %q: %w", r.ExternalID, r.MediaType, catalog.ErrUnknownMediaType)
		}
	}

	now := time.Now().UTC()
	var result catalog.UpsertResult
	for _, r := range records {
		id := r.ID
		if id == "" {
			var err error
			id, err = s.idGen.NewID()
			if err != nil {
				return result, fmt.Errorf("generate record id: %w", err)
			}
		}
		updatedAt := now
		if r.UpdatedAt != nil {
			updatedAt = *r.UpdatedAt
		}
		var payload []byte
		if len(r.Payload) > 0 {
			payload = r.Payload
		}
		var inserted bool
		err := s.pool.QueryRow(ctx, upsertQuery,
			id, r.ExternalID, r.MediaType, source, r.Popularity, payload, updatedAt,
		).Scan(&inserted)
		if err != nil {
			return result, fmt.Errorf("upsert record %d/%s: %w", r.ExternalID, r.MediaType, err)
		}
		if inserted {
			result.Created++
		} else {
			result.Updated++
		}
	}
	metrics.ObserveUpsert(string(source), result.Created, result.Updated)
	return result, nil
}

const dueCountsQuery = `
SELECT
	COUNT(*) FILTER (WHERE selected_at IS NULL
		OR ($3::timestamptz IS NOT NULL
			AND (updated_at IS NULL OR selected_at > updated_at)
			AND selected_at < $3)) AS never_fetched,
	COUNT(*) FILTER (WHERE selected_at IS NOT NULL) AS oldest_fetched
FROM source_records
WHERE source_type = $1 AND media_type = $2`

// DueCounts implements catalog.Ledger.
func (s *LedgerStore) DueCounts(ctx context.Context, source catalog.SourceType, mediaType catalog.MediaType, staleCutoff time.Time) (catalog.DueCounts, error) {
	var cutoff *time.Time
	if !staleCutoff.IsZero() {
		cutoff = &staleCutoff
	}
	var counts catalog.DueCounts
	err := s.pool.QueryRow(ctx, dueCountsQuery, source, mediaType, cutoff).
		Scan(&counts.NeverFetched, &counts.OldestFetched)
	if err != nil {
		return catalog.DueCounts{}, fmt.Errorf("count due records: %w", err)
	}
	return counts, nil
}
