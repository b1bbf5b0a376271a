package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/alp82/goodwatch-monorepo-sub001/internal/catalog"
	ledgermemory "github.com/alp82/goodwatch-monorepo-sub001/internal/ledger/memory"
)

func TestReport_SuccessCompletesReservation(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	ledger := ledgermemory.NewLedger(clock, nil)
	failedAt := clock.Now().Add(-time.Hour)
	ledger.Seed(catalog.SourceRecord{
		ID:           "rec-1",
		ExternalID:   1,
		MediaType:    catalog.MediaTypeMovie,
		SourceType:   catalog.SourceRatings,
		IsSelected:   true,
		FailedAt:     &failedAt,
		ErrorMessage: "timeout",
	})

	m := NewReservationManager(ledger, clock, zap.NewNop())
	item := catalog.BatchItem{ID: "rec-1", ExternalID: 1, MediaType: catalog.MediaTypeMovie}
	payload := catalog.SourcePayload{Fields: map[string]any{"score": 7.5}}

	require.NoError(t, m.Report(context.Background(), catalog.SourceRatings, item, catalog.Success(payload)))

	record, ok := ledger.Get("rec-1")
	require.True(t, ok)
	require.False(t, record.IsSelected)
	require.NotNil(t, record.UpdatedAt)
	require.Equal(t, clock.Now(), *record.UpdatedAt)
	require.Nil(t, record.FailedAt, "a success clears the previous failure")
	require.Empty(t, record.ErrorMessage)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(record.Payload, &fields))
	require.Equal(t, 7.5, fields["score"])
}

func TestReport_FailureKeepsReservationStamp(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	ledger := ledgermemory.NewLedger(clock, nil)
	selectedAt := clock.Now().Add(-time.Minute)
	ledger.Seed(catalog.SourceRecord{
		ID:         "rec-1",
		ExternalID: 1,
		MediaType:  catalog.MediaTypeMovie,
		SourceType: catalog.SourceRatings,
		IsSelected: true,
		SelectedAt: &selectedAt,
	})

	m := NewReservationManager(ledger, clock, zap.NewNop())
	item := catalog.BatchItem{ID: "rec-1", ExternalID: 1, MediaType: catalog.MediaTypeMovie}

	require.NoError(t, m.Report(context.Background(), catalog.SourceRatings, item, catalog.Failure(errors.New("upstream 503"))))

	record, ok := ledger.Get("rec-1")
	require.True(t, ok)
	require.False(t, record.IsSelected)
	require.NotNil(t, record.FailedAt)
	require.Equal(t, "upstream 503", record.ErrorMessage)
	require.Nil(t, record.UpdatedAt, "a failure never counts as a refresh")
	require.Equal(t, selectedAt, *record.SelectedAt, "the reservation stamp stays put so the buffer window re-admits the record")
}

func TestReport_FailedRecordComesBackAfterBuffer(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	ledger := ledgermemory.NewLedger(clock, nil)
	seedRecord(ledger, "rec-1", 1, catalog.MediaTypeMovie, 10, nil, nil)

	selector := NewSelector(ledger, clock, zap.NewNop())
	manager := NewReservationManager(ledger, clock, zap.NewNop())
	ctx := context.Background()
	policy := defaultPolicy(1)

	batch, err := selector.NextBatch(ctx, catalog.SourceRatings, policy)
	require.NoError(t, err)
	require.Equal(t, 1, batch.Size())

	item := batch.MovieIDs[0]
	require.NoError(t, manager.Report(ctx, catalog.SourceRatings, item, catalog.Failure(errors.New("boom"))))

	// Still inside the buffer window: nothing to pick up.
	batch, err = selector.NextBatch(ctx, catalog.SourceRatings, policy)
	require.NoError(t, err)
	require.Zero(t, batch.Size())

	clock.Advance(policy.Buffer + time.Minute)
	batch, err = selector.NextBatch(ctx, catalog.SourceRatings, policy)
	require.NoError(t, err)
	require.Equal(t, 1, batch.Size())
	require.Equal(t, item.ID, batch.MovieIDs[0].ID)
}

func TestReport_UnknownRecordSurfacesNotFound(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	ledger := ledgermemory.NewLedger(clock, nil)

	m := NewReservationManager(ledger, clock, zap.NewNop())
	item := catalog.BatchItem{ID: "missing", ExternalID: 1, MediaType: catalog.MediaTypeMovie}

	err := m.Report(context.Background(), catalog.SourceRatings, item, catalog.Success(catalog.SourcePayload{}))
	require.ErrorIs(t, err, catalog.ErrNotFound)
}
