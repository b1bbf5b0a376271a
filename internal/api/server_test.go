package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/alp82/goodwatch-monorepo-sub001/internal/catalog"
	ledgermemory "github.com/alp82/goodwatch-monorepo-sub001/internal/ledger/memory"
	"github.com/alp82/goodwatch-monorepo-sub001/internal/runner"
	"github.com/alp82/goodwatch-monorepo-sub001/internal/scheduler"
)

type stubRunner struct {
	summary runner.PassSummary
	err     error
	policy  scheduler.SourcePolicy
	known   bool
}

func (s *stubRunner) RunOnce(_ context.Context, source catalog.SourceType) (runner.PassSummary, error) {
	if !source.Valid() {
		return runner.PassSummary{}, fmt.Errorf("source %q: %w", source, catalog.ErrUnknownSource)
	}
	return s.summary, s.err
}

func (s *stubRunner) Policy(catalog.SourceType) (scheduler.SourcePolicy, bool) {
	return s.policy, s.known
}

type staticClock struct {
	now time.Time
}

func (c staticClock) Now() time.Time {
	return c.now
}

func newTestServer(t *testing.T, r *stubRunner, ledger catalog.Ledger) *httptest.Server {
	t.Helper()
	clock := staticClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	srv := httptest.NewServer(NewServer(r, ledger, clock, zap.NewNop()).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	ledger := ledgermemory.NewLedger(staticClock{}, nil)
	srv := newTestServer(t, &stubRunner{}, ledger)

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestReadyz(t *testing.T) {
	t.Parallel()

	ledger := ledgermemory.NewLedger(staticClock{}, nil)
	srv := newTestServer(t, &stubRunner{}, ledger)

	resp, err := http.Get(srv.URL + "/readyz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSchedulePass(t *testing.T) {
	t.Parallel()

	ledger := ledgermemory.NewLedger(staticClock{}, nil)
	stub := &stubRunner{summary: runner.PassSummary{Source: catalog.SourceRatings, Reserved: 3}}
	srv := newTestServer(t, stub, ledger)

	resp, err := http.Post(srv.URL+"/v1/sources/ratings/schedule", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var summary runner.PassSummary
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&summary))
	require.Equal(t, catalog.SourceRatings, summary.Source)
	require.Equal(t, 3, summary.Reserved)
}

func TestSchedulePassUnknownSource(t *testing.T) {
	t.Parallel()

	ledger := ledgermemory.NewLedger(staticClock{}, nil)
	srv := newTestServer(t, &stubRunner{}, ledger)

	resp, err := http.Post(srv.URL+"/v1/sources/horoscopes/schedule", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDueCounts(t *testing.T) {
	t.Parallel()

	clock := staticClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	ledger := ledgermemory.NewLedger(clock, nil)
	ledger.Seed(catalog.SourceRecord{ID: "rec-1", ExternalID: 1, MediaType: catalog.MediaTypeMovie, SourceType: catalog.SourceRatings})
	ledger.Seed(catalog.SourceRecord{ID: "rec-2", ExternalID: 2, MediaType: catalog.MediaTypeShow, SourceType: catalog.SourceRatings})

	stub := &stubRunner{
		policy: scheduler.SourcePolicy{BatchSize: 10, Buffer: 30 * time.Minute, StaleReadmission: true},
		known:  true,
	}
	srv := newTestServer(t, stub, ledger)

	resp, err := http.Get(srv.URL + "/v1/sources/ratings/due")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out map[string]catalog.DueCounts
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Equal(t, int64(1), out["movie"].NeverFetched)
	require.Equal(t, int64(1), out["tv"].NeverFetched)
}

func TestDueCountsUnknownSource(t *testing.T) {
	t.Parallel()

	ledger := ledgermemory.NewLedger(staticClock{}, nil)
	srv := newTestServer(t, &stubRunner{known: false}, ledger)

	resp, err := http.Get(srv.URL + "/v1/sources/horoscopes/due")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	ledger := ledgermemory.NewLedger(staticClock{}, nil)
	srv := newTestServer(t, &stubRunner{}, ledger)

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}
