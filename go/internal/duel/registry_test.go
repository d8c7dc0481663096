package duel

import (
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/codeduel/go/internal/models"
)

func newTestRegistry(clock clockwork.Clock) *Registry {
	return NewRegistry(RegistryConfig{
		Puzzles:     &stubPuzzles{puzzle: twoSum()},
		ResolvedTTL: 10 * time.Minute,
		IdleTTL:     time.Hour,
		Clock:       clock,
	})
}

func TestGetOrCreateReturnsSameSession(t *testing.T) {
	r := newTestRegistry(clockwork.NewFakeClockAt(t0))

	a := r.GetOrCreate("r1")
	b := r.GetOrCreate("r1")
	if a != b {
		t.Fatalf("expected the same session for the same room")
	}
	if r.GetOrCreate("r2") == a {
		t.Fatalf("expected distinct sessions for distinct rooms")
	}
	if r.Len() != 2 {
		t.Fatalf("expected 2 rooms, got %d", r.Len())
	}
}

func TestGetOrCreateConcurrentFirstJoin(t *testing.T) {
	r := newTestRegistry(clockwork.NewFakeClockAt(t0))

	const workers = 32
	results := make([]*Session, workers)
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			results[i] = r.GetOrCreate("race")
		}(i)
	}
	close(start)
	wg.Wait()

	for i, s := range results {
		if s != results[0] {
			t.Fatalf("worker %d got a different session", i)
		}
	}
	if r.Len() != 1 {
		t.Fatalf("expected exactly one room, got %d", r.Len())
	}
}

func TestGetMissingRoom(t *testing.T) {
	r := newTestRegistry(clockwork.NewFakeClockAt(t0))
	if _, ok := r.Get("nope"); ok {
		t.Fatalf("expected missing room")
	}
}

func TestEvictResolvedAndIdleRooms(t *testing.T) {
	clock := clockwork.NewFakeClockAt(t0)
	r := newTestRegistry(clock)

	resolved := r.GetOrCreate("resolved")
	mustJoin(t, resolved, "A", t0)
	tr := submit(t, resolved, "A", models.Verdict{PassedCount: 1, TotalCount: 1}, t0)
	if _, err := resolved.ForceTimeoutResolve(tr.Deadline); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	active := r.GetOrCreate("active")
	mustJoin(t, active, "A", t0)

	if got := r.Evict(tr.Deadline.Add(5 * time.Minute)); len(got) != 0 {
		t.Fatalf("evicted too early: %v", got)
	}

	// keep the active room busy while the resolved one ages out
	mustJoin(t, active, "A", tr.Deadline.Add(9*time.Minute))
	got := r.Evict(tr.Deadline.Add(10 * time.Minute))
	if diff := cmp.Diff([]string{"resolved"}, got); diff != "" {
		t.Fatalf("evicted rooms (-want +got):\n%s", diff)
	}

	got = r.Evict(tr.Deadline.Add(9*time.Minute + time.Hour))
	if diff := cmp.Diff([]string{"active"}, got); diff != "" {
		t.Fatalf("evicted idle rooms (-want +got):\n%s", diff)
	}
	if r.Len() != 0 {
		t.Fatalf("expected empty registry, got %v", r.RoomIDs())
	}
}

func TestEvictDisabledKeepsRooms(t *testing.T) {
	r := NewRegistry(RegistryConfig{Puzzles: &stubPuzzles{puzzle: twoSum()}, Clock: clockwork.NewFakeClockAt(t0)})
	r.GetOrCreate("r1")
	if got := r.Evict(t0.Add(365 * 24 * time.Hour)); len(got) != 0 {
		t.Fatalf("expected no eviction with zero TTLs, got %v", got)
	}
}
