package catalog

import "errors"

// Sentinel errors surfaced by ledger and scheduler operations.
var (
	// ErrNotFound is returned when a looked-up record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrBatchMismatch is returned when resolving a batch yields a
	// different number of rows than ids requested. The current batch must
	// be aborted and scheduling re-run.
	ErrBatchMismatch = errors.New("batch id count mismatch")

	// ErrUnknownMediaType is returned when a media-type tag is not one of
	// the known categories. Raised before any write happens.
	ErrUnknownMediaType = errors.New("unknown media type")

	// ErrUnknownSource is returned for a source tag with no registered
	// crawler or configuration.
	ErrUnknownSource = errors.New("unknown source type")
)
