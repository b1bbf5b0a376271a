// Package dispatch fans a reserved batch out to per-source crawler
// invocations and feeds every outcome back to the reservation manager.
// It is intentionally a thin seam: all scheduling decisions happen before
// a batch reaches it, and all bookkeeping happens behind it.
package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/alp82/goodwatch-monorepo-sub001/internal/catalog"
	"github.com/alp82/goodwatch-monorepo-sub001/internal/metrics"
	"github.com/alp82/goodwatch-monorepo-sub001/internal/scheduler"
)

// Config controls Dispatcher behavior.
type Config struct {
	// Concurrency bounds how many items of one batch run at once.
	Concurrency int

	// Topic names the completion-event topic. Empty disables publishing.
	Topic string

	// BlobPrefix prefixes archive object paths. Empty disables archiving.
	BlobPrefix string
}

// Summary reports the per-item outcomes of one dispatched batch.
type Summary struct {
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// Dispatcher invokes the registered crawler per reserved item and reports
// each outcome. A failed item never aborts its siblings.
type Dispatcher struct {
	crawlers     map[catalog.SourceType]catalog.SourceCrawler
	reservations *scheduler.ReservationManager
	blobs        catalog.BlobStore
	publisher    catalog.Publisher
	clock        catalog.Clock
	cfg          Config
	logger       *zap.Logger
}

// New constructs a Dispatcher.
func New(
	crawlers map[catalog.SourceType]catalog.SourceCrawler,
	reservations *scheduler.ReservationManager,
	blobs catalog.BlobStore,
	publisher catalog.Publisher,
	clock catalog.Clock,
	cfg Config,
	logger *zap.Logger,
) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	return &Dispatcher{
		crawlers:     crawlers,
		reservations: reservations,
		blobs:        blobs,
		publisher:    publisher,
		clock:        clock,
		cfg:          cfg,
		logger:       logger,
	}
}

// Dispatch runs the batch against the crawler registered for the source.
// Items run with bounded concurrency; outcomes are reported individually,
// so a slow or failing item holds back nothing but itself.
func (d *Dispatcher) Dispatch(ctx context.Context, source catalog.SourceType, batch catalog.Batch) (Summary, error) {
	crawlerFor, ok := d.crawlers[source]
	if !ok {
		return Summary{}, fmt.Errorf("no crawler registered for %q: %w", source, catalog.ErrUnknownSource)
	}

	items := batch.Items()
	if len(items) == 0 {
		return Summary{}, nil
	}

	var (
		mu      sync.Mutex
		summary Summary
		wg      sync.WaitGroup
	)
	sem := make(chan struct{}, d.cfg.Concurrency)

	for _, item := range items {
		wg.Add(1)
		sem <- struct{}{}
		go func(item catalog.BatchItem) {
			defer wg.Done()
			defer func() { <-sem }()

			ok := d.processItem(ctx, source, crawlerFor, item)
			mu.Lock()
			if ok {
				summary.Succeeded++
			} else {
				summary.Failed++
			}
			mu.Unlock()
		}(item)
	}
	wg.Wait()
	return summary, nil
}

func (d *Dispatcher) processItem(ctx context.Context, source catalog.SourceType, crawlerFor catalog.SourceCrawler, item catalog.BatchItem) bool {
	payload, err := crawlerFor.Attempt(ctx, item)
	if err != nil {
		if reportErr := d.reservations.Report(ctx, source, item, catalog.Failure(err)); reportErr != nil {
			d.logger.Error("failure release did not persist",
				zap.String("source", string(source)),
				zap.String("id", item.ID),
				zap.Error(reportErr),
			)
		}
		return false
	}

	d.archive(ctx, source, item, &payload)

	if reportErr := d.reservations.Report(ctx, source, item, catalog.Success(payload)); reportErr != nil {
		d.logger.Error("success release did not persist",
			zap.String("source", string(source)),
			zap.String("id", item.ID),
			zap.Error(reportErr),
		)
		return false
	}

	d.publish(ctx, source, item)
	return true
}

// archive writes the raw payload to blob storage when both are configured.
// Archive failures are logged and swallowed: the parsed fields still land
// in the ledger and the raw copy is reproducible on the next refresh.
func (d *Dispatcher) archive(ctx context.Context, source catalog.SourceType, item catalog.BatchItem, payload *catalog.SourcePayload) {
	if d.blobs == nil || d.cfg.BlobPrefix == "" || len(payload.Raw) == 0 {
		return
	}
	path := fmt.Sprintf("%s/%s/%s/%d.raw", d.cfg.BlobPrefix, source, item.MediaType, item.ExternalID)
	uri, err := d.blobs.PutObject(ctx, path, payload.ContentType, payload.Raw)
	if err != nil {
		d.logger.Warn("raw payload archive failed",
			zap.String("source", string(source)),
			zap.String("id", item.ID),
			zap.Error(err),
		)
		return
	}
	if payload.Fields == nil {
		payload.Fields = map[string]any{}
	}
	payload.Fields["raw_blob_uri"] = uri
}

func (d *Dispatcher) publish(ctx context.Context, source catalog.SourceType, item catalog.BatchItem) {
	if d.publisher == nil || d.cfg.Topic == "" {
		return
	}
	event := map[string]any{
		"source":      string(source),
		"id":          item.ID,
		"external_id": item.ExternalID,
		"media_type":  string(item.MediaType),
		"refreshed":   d.clock.Now().Format(time.RFC3339),
	}
	if _, err := d.publisher.Publish(ctx, d.cfg.Topic, event); err != nil {
		metrics.ObservePublishFailure(string(source))
		d.logger.Warn("completion event publish failed",
			zap.String("source", string(source)),
			zap.String("id", item.ID),
			zap.Error(err),
		)
	}
}
