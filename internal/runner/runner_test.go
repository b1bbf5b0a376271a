package runner

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	blobmemory "github.com/alp82/goodwatch-monorepo-sub001/internal/blob/memory"
	"github.com/alp82/goodwatch-monorepo-sub001/internal/catalog"
	"github.com/alp82/goodwatch-monorepo-sub001/internal/dispatch"
	ledgermemory "github.com/alp82/goodwatch-monorepo-sub001/internal/ledger/memory"
	pubmemory "github.com/alp82/goodwatch-monorepo-sub001/internal/publisher/memory"
	"github.com/alp82/goodwatch-monorepo-sub001/internal/scheduler"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

type stubCrawler struct {
	failing map[int64]error
	seen    chan int64
}

func (c *stubCrawler) Attempt(_ context.Context, item catalog.BatchItem) (catalog.SourcePayload, error) {
	if c.seen != nil {
		c.seen <- item.ExternalID
	}
	if err, ok := c.failing[item.ExternalID]; ok {
		return catalog.SourcePayload{}, err
	}
	return catalog.SourcePayload{Fields: map[string]any{"score": 1.0}}, nil
}

type harness struct {
	ledger     *ledgermemory.Ledger
	priorities *ledgermemory.PriorityStore
	publisher  *pubmemory.Publisher
	clock      *fakeClock
	runner     *Runner
}

func newHarness(t *testing.T, crawler catalog.SourceCrawler, jobs []SourceJob) *harness {
	t.Helper()
	clock := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	ledger := ledgermemory.NewLedger(clock, nil)
	priorities := ledgermemory.NewPriorityStore(clock, catalog.PriorityCooldown)
	publisher := pubmemory.New()

	reservations := scheduler.NewReservationManager(ledger, clock, zap.NewNop())
	selector := scheduler.NewSelector(ledger, clock, zap.NewNop())
	overlay := scheduler.NewOverlay(priorities, ledger, 5, zap.NewNop())
	dispatcher := dispatch.New(
		map[catalog.SourceType]catalog.SourceCrawler{catalog.SourceRatings: crawler},
		reservations,
		blobmemory.New(),
		publisher,
		clock,
		dispatch.Config{Concurrency: 2, Topic: "refreshed"},
		zap.NewNop(),
	)
	return &harness{
		ledger:     ledger,
		priorities: priorities,
		publisher:  publisher,
		clock:      clock,
		runner:     New(selector, overlay, dispatcher, clock, jobs, zap.NewNop()),
	}
}

func ratingsJob(batchSize int) SourceJob {
	return SourceJob{
		Source: catalog.SourceRatings,
		Policy: scheduler.SourcePolicy{
			BatchSize:        batchSize,
			Buffer:           30 * time.Minute,
			StaleReadmission: true,
		},
		Interval: time.Minute,
	}
}

func TestRunOnce_PriorityBeforeScheduled(t *testing.T) {
	t.Parallel()

	crawler := &stubCrawler{seen: make(chan int64, 4)}
	h := newHarness(t, crawler, []SourceJob{ratingsJob(1)})

	h.ledger.Seed(catalog.SourceRecord{ID: "rec-1", ExternalID: 1, MediaType: catalog.MediaTypeMovie, SourceType: catalog.SourceRatings, Popularity: 50})
	h.ledger.Seed(catalog.SourceRecord{ID: "rec-2", ExternalID: 2, MediaType: catalog.MediaTypeMovie, SourceType: catalog.SourceRatings, Popularity: 10})
	h.priorities.Raise(2, catalog.MediaTypeMovie, 9)

	summary, err := h.runner.RunOnce(context.Background(), catalog.SourceRatings)
	require.NoError(t, err)

	require.Equal(t, dispatch.Summary{Succeeded: 1}, summary.Priority, "the prioritized entity runs ahead of the normal batch")
	require.Equal(t, dispatch.Summary{Succeeded: 1}, summary.Scheduled)
	require.Equal(t, 1, summary.Reserved)

	first := <-crawler.seen
	second := <-crawler.seen
	require.Equal(t, int64(2), first, "priority item dispatched first")
	require.Equal(t, int64(1), second, "then the most popular never-fetched record")

	entry, ok := h.priorities.Entry(2, catalog.MediaTypeMovie)
	require.True(t, ok)
	require.Zero(t, entry.Priority, "consumed entries go into cooldown")
}

func TestRunOnce_CountsFailures(t *testing.T) {
	t.Parallel()

	crawler := &stubCrawler{failing: map[int64]error{1: errors.New("upstream 500")}}
	h := newHarness(t, crawler, []SourceJob{ratingsJob(2)})

	h.ledger.Seed(catalog.SourceRecord{ID: "rec-1", ExternalID: 1, MediaType: catalog.MediaTypeMovie, SourceType: catalog.SourceRatings, Popularity: 10})
	h.ledger.Seed(catalog.SourceRecord{ID: "rec-2", ExternalID: 2, MediaType: catalog.MediaTypeShow, SourceType: catalog.SourceRatings, Popularity: 20})

	summary, err := h.runner.RunOnce(context.Background(), catalog.SourceRatings)
	require.NoError(t, err)
	require.Equal(t, 2, summary.Reserved)
	require.Equal(t, dispatch.Summary{Succeeded: 1, Failed: 1}, summary.Scheduled)

	failed, ok := h.ledger.Get("rec-1")
	require.True(t, ok)
	require.Equal(t, "upstream 500", failed.ErrorMessage)
}

func TestRunOnce_EmptyPassIsClean(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &stubCrawler{}, []SourceJob{ratingsJob(5)})

	summary, err := h.runner.RunOnce(context.Background(), catalog.SourceRatings)
	require.NoError(t, err)
	require.Equal(t, PassSummary{Source: catalog.SourceRatings}, summary)
	require.Empty(t, h.publisher.Messages())
}

func TestRunOnce_UnscheduledSource(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &stubCrawler{}, []SourceJob{ratingsJob(5)})

	_, err := h.runner.RunOnce(context.Background(), catalog.SourceGenome)
	require.ErrorIs(t, err, catalog.ErrUnknownSource)
}

func TestRun_TicksUntilCancelled(t *testing.T) {
	t.Parallel()

	crawler := &stubCrawler{seen: make(chan int64, 1)}
	h := newHarness(t, crawler, []SourceJob{{
		Source:   catalog.SourceRatings,
		Policy:   scheduler.SourcePolicy{BatchSize: 1, Buffer: 30 * time.Minute, StaleReadmission: true},
		Interval: 10 * time.Millisecond,
	}})
	h.ledger.Seed(catalog.SourceRecord{ID: "rec-1", ExternalID: 1, MediaType: catalog.MediaTypeMovie, SourceType: catalog.SourceRatings, Popularity: 10})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.runner.Run(ctx)
		close(done)
	}()

	// The first pass runs immediately.
	select {
	case id := <-crawler.seen:
		require.Equal(t, int64(1), id)
	case <-time.After(2 * time.Second):
		t.Fatal("no pass ran")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not stop on cancel")
	}
}

func TestPolicyLookup(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &stubCrawler{}, []SourceJob{ratingsJob(7)})

	policy, ok := h.runner.Policy(catalog.SourceRatings)
	require.True(t, ok)
	require.Equal(t, 7, policy.BatchSize)

	_, ok = h.runner.Policy(catalog.SourceDNA)
	require.False(t, ok)
}
