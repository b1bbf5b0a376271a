package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInit(t *testing.T) {
	// Call Init multiple times to test idempotency.
	Init()
	Init()

	if harvesterCandidatesTotal == nil || harvesterReservedTotal == nil ||
		harvesterDispatchTotal == nil || harvesterPriorityHits == nil ||
		harvesterUpsertRowsTotal == nil || harvesterPassDuration == nil ||
		harvesterActivePasses == nil || harvesterPublishFailTotal == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}

	ObserveDispatch("ratings", "movie", "succeeded")
	if val := testutil.ToFloat64(harvesterDispatchTotal.WithLabelValues("ratings", "movie", "succeeded")); val != 1 {
		t.Errorf("expected dispatch counter to be 1, got %f", val)
	}

	ObserveUpsert("ratings", 3, 2)
	if val := testutil.ToFloat64(harvesterUpsertRowsTotal.WithLabelValues("ratings", "created")); val != 3 {
		t.Errorf("expected created counter to be 3, got %f", val)
	}
	if val := testutil.ToFloat64(harvesterUpsertRowsTotal.WithLabelValues("ratings", "updated")); val != 2 {
		t.Errorf("expected updated counter to be 2, got %f", val)
	}

	IncActivePasses()
	if val := testutil.ToFloat64(harvesterActivePasses); val != 1 {
		t.Errorf("expected active passes to be 1, got %f", val)
	}
	DecActivePasses()
	if val := testutil.ToFloat64(harvesterActivePasses); val != 0 {
		t.Errorf("expected active passes to be 0, got %f", val)
	}
}

func TestObserversAreSafeBeforeInit(t *testing.T) {
	// The package-level Observe helpers guard against nil collectors so
	// unit tests elsewhere never need Init().
	ObserveSelected("ratings", 1, 2)
	ObserveReserved("ratings", 1, 1)
	ObservePriorityHits("movie", 1)
	ObservePassDuration("ratings", 0)
	ObservePublishFailure("ratings")
}
