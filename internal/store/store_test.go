package store_test

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shiprail/rollout/internal/store"
	"github.com/shiprail/rollout/pkg/deploy"
)

func record(id string, status deploy.Status, started time.Time) *deploy.Deployment {
	return &deploy.Deployment{
		ID: id,
		Config: deploy.Config{
			Application: "web",
			Environment: "production",
			Replicas:    4,
		},
		Status:          status,
		PreviousVersion: "v1",
		TargetVersion:   "v2",
		StartedAt:       started,
	}
}

func TestClaimConflict(t *testing.T) {
	s, err := store.New()
	if err != nil {
		t.Fatal(err)
	}

	if err := s.Claim("web", "production", "dep-1"); err != nil {
		t.Fatalf("first claim failed: %v", err)
	}
	// Same holder re-claiming is fine.
	if err := s.Claim("web", "production", "dep-1"); err != nil {
		t.Fatalf("re-claim by holder failed: %v", err)
	}
	err = s.Claim("web", "production", "dep-2")
	if !errors.Is(err, deploy.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	// A different pair is independent.
	if err := s.Claim("web", "staging", "dep-2"); err != nil {
		t.Fatalf("claim on different environment failed: %v", err)
	}

	s.Release("web", "production", "dep-1")
	if err := s.Claim("web", "production", "dep-3"); err != nil {
		t.Fatalf("claim after release failed: %v", err)
	}
}

func TestClaimConcurrentExactlyOneWins(t *testing.T) {
	s, err := store.New()
	if err != nil {
		t.Fatal(err)
	}

	const contenders = 16
	var wg sync.WaitGroup
	errs := make([]error, contenders)
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = s.Claim("web", "production", fmt.Sprintf("dep-%d", i))
		}(i)
	}
	wg.Wait()

	won := 0
	for _, err := range errs {
		if err == nil {
			won++
		} else if !errors.Is(err, deploy.ErrConflict) {
			t.Fatalf("unexpected claim error: %v", err)
		}
	}
	if won != 1 {
		t.Fatalf("expected exactly one winner, got %d", won)
	}
}

func TestReleaseByNonHolderIsNoop(t *testing.T) {
	s, err := store.New()
	if err != nil {
		t.Fatal(err)
	}

	if err := s.Claim("web", "production", "dep-1"); err != nil {
		t.Fatal(err)
	}
	s.Release("web", "production", "dep-2")
	if err := s.Claim("web", "production", "dep-3"); !errors.Is(err, deploy.ErrConflict) {
		t.Fatalf("claim should still be held by dep-1, got %v", err)
	}
}

func TestGetReturnsSnapshot(t *testing.T) {
	s, err := store.New()
	if err != nil {
		t.Fatal(err)
	}

	dep := record("dep-1", deploy.StatusInProgress, time.Now())
	if err := s.Save(dep); err != nil {
		t.Fatal(err)
	}

	got, err := s.Get("dep-1")
	if err != nil {
		t.Fatal(err)
	}
	got.Status = deploy.StatusFailed
	got.Warnings = append(got.Warnings, "mutated")

	again, err := s.Get("dep-1")
	if err != nil {
		t.Fatal(err)
	}
	if again.Status != deploy.StatusInProgress || len(again.Warnings) != 0 {
		t.Fatalf("stored record was mutated through a snapshot: %+v", again)
	}

	if _, err := s.Get("missing"); !errors.Is(err, deploy.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListActiveExcludesTerminal(t *testing.T) {
	s, err := store.New()
	if err != nil {
		t.Fatal(err)
	}

	now := time.Now()
	s.Save(record("dep-1", deploy.StatusSucceeded, now.Add(-3*time.Minute)))
	s.Save(record("dep-2", deploy.StatusInProgress, now.Add(-2*time.Minute)))
	s.Save(record("dep-3", deploy.StatusMonitoring, now.Add(-time.Minute)))
	s.Save(record("dep-4", deploy.StatusFailed, now))

	active := s.ListActive()
	if len(active) != 2 {
		t.Fatalf("expected 2 active deployments, got %d", len(active))
	}
	// Newest first.
	if active[0].ID != "dep-3" || active[1].ID != "dep-2" {
		t.Fatalf("unexpected order: %s, %s", active[0].ID, active[1].ID)
	}
}

func TestHistoryFiltersAndLimits(t *testing.T) {
	s, err := store.New()
	if err != nil {
		t.Fatal(err)
	}

	now := time.Now()
	for i := 0; i < 5; i++ {
		dep := record(fmt.Sprintf("dep-%d", i), deploy.StatusSucceeded, now.Add(time.Duration(i)*time.Minute))
		if i == 2 {
			dep.Status = deploy.StatusFailed
		}
		if i == 4 {
			dep.Config.Environment = "staging"
		}
		s.Save(dep)
	}

	succeeded := s.History(store.HistoryOptions{Status: deploy.StatusSucceeded})
	if len(succeeded) != 4 {
		t.Fatalf("expected 4 succeeded records, got %d", len(succeeded))
	}

	prod := s.History(store.HistoryOptions{Environment: "production", Limit: 2})
	if len(prod) != 2 {
		t.Fatalf("expected limit of 2, got %d", len(prod))
	}
	if prod[0].ID != "dep-3" {
		t.Fatalf("expected newest production record first, got %s", prod[0].ID)
	}

	recent := s.History(store.HistoryOptions{Since: now.Add(3*time.Minute - time.Second)})
	if len(recent) != 2 {
		t.Fatalf("expected 2 records since cutoff, got %d", len(recent))
	}
}

func TestLatestSucceeded(t *testing.T) {
	s, err := store.New()
	if err != nil {
		t.Fatal(err)
	}

	now := time.Now()
	s.Save(record("dep-1", deploy.StatusSucceeded, now.Add(-2*time.Minute)))
	s.Save(record("dep-2", deploy.StatusFailed, now.Add(-time.Minute)))
	s.Save(record("dep-3", deploy.StatusSucceeded, now))

	latest, err := s.LatestSucceeded("web", "production")
	if err != nil {
		t.Fatal(err)
	}
	if latest.ID != "dep-3" {
		t.Fatalf("expected dep-3, got %s", latest.ID)
	}

	if _, err := s.LatestSucceeded("api", "production"); !errors.Is(err, deploy.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPruneKeepsInFlightRecords(t *testing.T) {
	s, err := store.New()
	if err != nil {
		t.Fatal(err)
	}

	now := time.Now()
	inflight := record("dep-inflight", deploy.StatusInProgress, now.Add(-24*time.Hour))
	s.Save(inflight)

	for i := 0; i < store.MaxHistoryEntries+10; i++ {
		s.Save(record(fmt.Sprintf("dep-%d", i), deploy.StatusSucceeded, now.Add(time.Duration(i)*time.Second)))
	}

	all := s.History(store.HistoryOptions{})
	if len(all) != store.MaxHistoryEntries+1 {
		t.Fatalf("expected %d records after pruning, got %d", store.MaxHistoryEntries+1, len(all))
	}
	if _, err := s.Get("dep-inflight"); err != nil {
		t.Fatalf("in-flight record was pruned: %v", err)
	}
	// The oldest terminal records are the ones that go.
	if _, err := s.Get("dep-0"); !errors.Is(err, deploy.ErrNotFound) {
		t.Fatalf("expected oldest terminal record pruned, got %v", err)
	}
}

func TestPersistenceRoundTrip(t *testing.T) {
	dir := t.TempDir()

	s, err := store.New(store.WithDir(dir))
	if err != nil {
		t.Fatal(err)
	}

	now := time.Now()
	done := record("dep-done", deploy.StatusSucceeded, now.Add(-time.Minute))
	inflight := record("dep-live", deploy.StatusInProgress, now)
	if err := s.Save(done); err != nil {
		t.Fatal(err)
	}
	if err := s.Save(inflight); err != nil {
		t.Fatal(err)
	}
	if err := s.Claim("web", "production", "dep-live"); err != nil {
		t.Fatal(err)
	}

	// A fresh store over the same directory sees the records and the
	// in-flight record reclaims its pair.
	reopened, err := store.New(store.WithDir(dir))
	if err != nil {
		t.Fatal(err)
	}
	got, err := reopened.Get("dep-done")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != deploy.StatusSucceeded || got.TargetVersion != "v2" {
		t.Fatalf("unexpected reloaded record: %+v", got)
	}
	if err := reopened.Claim("web", "production", "dep-other"); !errors.Is(err, deploy.ErrConflict) {
		t.Fatalf("expected reloaded in-flight record to hold its pair, got %v", err)
	}
}
