package scheduler

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/alp82/goodwatch-monorepo-sub001/internal/catalog"
	"github.com/alp82/goodwatch-monorepo-sub001/internal/metrics"
)

// ReservationManager is the release side of a reservation. Dispatch feeds
// every attempt outcome through Report; the manager turns it into the
// ledger write that either completes the reservation or leaves the record
// one buffer window away from another attempt. No in-process retry happens
// here: a failed record surfaces to the caller and becomes eligible again
// on a later scheduling pass.
type ReservationManager struct {
	ledger catalog.Ledger
	clock  catalog.Clock
	logger *zap.Logger
}

// NewReservationManager constructs a ReservationManager.
func NewReservationManager(ledger catalog.Ledger, clock catalog.Clock, logger *zap.Logger) *ReservationManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReservationManager{
		ledger: ledger,
		clock:  clock,
		logger: logger,
	}
}

// Report releases the reservation for one item. On success the payload is
// merged, UpdatedAt advances past SelectedAt and the failure fields clear.
// On failure only FailedAt and the error text are written; SelectedAt stays
// where the reservation put it, so UpdatedAt remains behind it and the
// buffer window re-admits the record. Starvation is impossible as long as
// scheduling passes keep running.
func (m *ReservationManager) Report(ctx context.Context, source catalog.SourceType, item catalog.BatchItem, outcome catalog.Outcome) error {
	now := m.clock.Now()

	if outcome.Failed() {
		reason := outcome.Err.Error()
		if err := m.ledger.ReportFailure(ctx, source, item.ID, reason, now); err != nil {
			return fmt.Errorf("report failure %s/%s: %w", source, item.ID, err)
		}
		metrics.ObserveDispatch(string(source), string(item.MediaType), "failed")
		m.logger.Warn("source attempt failed",
			zap.String("source", string(source)),
			zap.String("id", item.ID),
			zap.Int64("external_id", item.ExternalID),
			zap.String("media_type", string(item.MediaType)),
			zap.String("reason", reason),
		)
		return nil
	}

	if err := m.ledger.ReportSuccess(ctx, source, item.ID, outcome.Payload, now); err != nil {
		return fmt.Errorf("report success %s/%s: %w", source, item.ID, err)
	}
	metrics.ObserveDispatch(string(source), string(item.MediaType), "succeeded")
	m.logger.Debug("source attempt succeeded",
		zap.String("source", string(source)),
		zap.String("id", item.ID),
		zap.Int64("external_id", item.ExternalID),
	)
	return nil
}
