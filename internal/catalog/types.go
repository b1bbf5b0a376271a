// Package catalog defines core types shared across subsystems.
package catalog

import (
	"encoding/json"
	"time"
)

// MediaType discriminates the two media categories tracked by the pipeline.
// It is carried explicitly on every record and batch item; nothing in the
// system infers the category from a value's dynamic type.
type MediaType string

// Media categories persisted in the ledger.
const (
	MediaTypeMovie MediaType = "movie"
	MediaTypeShow  MediaType = "tv"
)

// MediaTypes lists every known category in scan order.
func MediaTypes() []MediaType {
	return []MediaType{MediaTypeMovie, MediaTypeShow}
}

// Valid reports whether the media type is one of the known categories.
func (m MediaType) Valid() bool {
	return m == MediaTypeMovie || m == MediaTypeShow
}

// SourceType names an enrichment data source. Each source keeps its own
// independent ledger rows; no cross-source ordering exists.
type SourceType string

// Enrichment sources fed by the harvester.
const (
	SourceRatings   SourceType = "ratings"
	SourceTropes    SourceType = "tropes"
	SourceProviders SourceType = "providers"
	SourceGenome    SourceType = "genome"
	SourceDNA       SourceType = "dna"
)

// SourceTypes lists every known enrichment source.
func SourceTypes() []SourceType {
	return []SourceType{SourceRatings, SourceTropes, SourceProviders, SourceGenome, SourceDNA}
}

// Valid reports whether the source type is known.
func (s SourceType) Valid() bool {
	switch s {
	case SourceRatings, SourceTropes, SourceProviders, SourceGenome, SourceDNA:
		return true
	}
	return false
}

// SourceRecord is the per-entity, per-source bookkeeping row the scheduler
// operates on. SelectedAt is the reservation stamp: null means never
// reserved. UpdatedAt is the last successful refresh: null means never
// refreshed. A reservation that was never completed leaves SelectedAt ahead
// of UpdatedAt, which re-admits the row once the buffer window elapses.
type SourceRecord struct {
	ID           string          `json:"id"`
	ExternalID   int64           `json:"external_id"`
	MediaType    MediaType       `json:"media_type"`
	SourceType   SourceType      `json:"source_type"`
	Popularity   float64         `json:"popularity"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	IsSelected   bool            `json:"is_selected"`
	SelectedAt   *time.Time      `json:"selected_at,omitempty"`
	UpdatedAt    *time.Time      `json:"updated_at,omitempty"`
	FailedAt     *time.Time      `json:"failed_at,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

// Candidate is the slim projection of a SourceRecord the selector ranks.
type Candidate struct {
	ID         string
	ExternalID int64
	MediaType  MediaType
	Popularity float64
	SelectedAt *time.Time
	UpdatedAt  *time.Time
}

// BatchItem identifies one reserved record handed to dispatch.
type BatchItem struct {
	ID         string    `json:"id"`
	ExternalID int64     `json:"external_id"`
	MediaType  MediaType `json:"media_type"`
}

// Batch is the selector output, split by media category.
type Batch struct {
	MovieIDs []BatchItem `json:"movie_ids"`
	TVIDs    []BatchItem `json:"tv_ids"`
}

// Items returns every batch item, movies first.
func (b Batch) Items() []BatchItem {
	out := make([]BatchItem, 0, len(b.MovieIDs)+len(b.TVIDs))
	out = append(out, b.MovieIDs...)
	out = append(out, b.TVIDs...)
	return out
}

// Size returns the total number of items in the batch.
func (b Batch) Size() int {
	return len(b.MovieIDs) + len(b.TVIDs)
}

// Add appends an item to the category list it belongs to.
func (b *Batch) Add(item BatchItem) {
	switch item.MediaType {
	case MediaTypeShow:
		b.TVIDs = append(b.TVIDs, item)
	default:
		b.MovieIDs = append(b.MovieIDs, item)
	}
}

// SourcePayload is the opaque result of a successful source attempt.
// Fields are merged into the ledger row's payload; Raw, when present, is
// archived to blob storage untouched.
type SourcePayload struct {
	Fields      map[string]any
	Raw         []byte
	ContentType string
}

// Outcome is the result of one dispatch attempt for one batch item.
// Exactly one of Payload or Err is meaningful.
type Outcome struct {
	Payload SourcePayload
	Err     error
}

// Success wraps a payload into an Outcome.
func Success(payload SourcePayload) Outcome {
	return Outcome{Payload: payload}
}

// Failure wraps an attempt error into an Outcome.
func Failure(err error) Outcome {
	return Outcome{Err: err}
}

// Failed reports whether the outcome represents a failed attempt.
func (o Outcome) Failed() bool {
	return o.Err != nil
}

// UpsertResult reports how many rows a bulk upsert created versus merged.
type UpsertResult struct {
	Created int `json:"created_count"`
	Updated int `json:"updated_count"`
}

// PriorityEntry is one row of the externally-fed priority queue. Priority
// above zero marks the entry eligible; ResetAt starts the cooldown after
// the overlay consumes it.
type PriorityEntry struct {
	ExternalID int64      `json:"external_id"`
	MediaType  MediaType  `json:"media_type"`
	Priority   int        `json:"priority"`
	ResetAt    *time.Time `json:"reset_at,omitempty"`
}

// PriorityCooldown is how long a consumed priority entry stays dormant
// before an external re-raise makes it eligible again.
const PriorityCooldown = 24 * time.Hour

// DueCounts summarizes how much work a source currently has pending,
// per candidate stream.
type DueCounts struct {
	NeverFetched  int64 `json:"never_fetched"`
	OldestFetched int64 `json:"oldest_fetched"`
}
