package supervisor

import (
	"testing"
	"time"

	"github.com/agusx1211/spindle/internal/spool"
)

// backgroundTicker drives the monitor from a goroutine for tests that block
// inside the wait coordinator.
func backgroundTicker(t *testing.T, s *Supervisor) {
	t.Helper()
	stop := make(chan struct{})
	t.Cleanup(func() { close(stop) })
	go func() {
		ticker := time.NewTicker(25 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				s.tick()
			}
		}
	}()
}

func spinSleepers(t *testing.T, s *Supervisor, delays ...string) []string {
	t.Helper()
	var ids []string
	for _, d := range delays {
		id, err := s.Spin(t.Context(), SpinRequest{Prompt: "sleep " + d + "; echo RESULT: slept-" + d})
		if err != nil {
			t.Fatalf("Spin(%s): %v", d, err)
		}
		ids = append(ids, id)
	}
	return ids
}

func TestWaitGatherReturnsAllInInputOrder(t *testing.T) {
	s, _ := newTestSupervisor(t, 15)
	backgroundTicker(t, s)

	ids := spinSleepers(t, s, "0.3", "0.1", "0.2")

	results, err := s.WaitGatherResult(t.Context(), ids, 5*time.Second)
	if err != nil {
		t.Fatalf("WaitGatherResult: %v", err)
	}
	if len(results) != len(ids) {
		t.Fatalf("len(results) = %d, want %d", len(results), len(ids))
	}
	for i, sp := range results {
		if sp.ID != ids[i] {
			t.Fatalf("result %d = %s, want input order %s", i, sp.ID, ids[i])
		}
		if sp.Status != spool.StatusComplete {
			t.Fatalf("spool %s = %s (error %q)", sp.ID, sp.Status, sp.Error)
		}
	}
}

func TestWaitGatherDeadlineReportsNonTerminal(t *testing.T) {
	s, _ := newTestSupervisor(t, 15)
	backgroundTicker(t, s)

	ids := spinSleepers(t, s, "30")
	defer s.Drop(ids[0])

	start := time.Now()
	results, err := s.WaitGatherResult(t.Context(), ids, 500*time.Millisecond)
	if err != nil {
		t.Fatalf("WaitGatherResult: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Fatalf("gather did not respect deadline: %s", elapsed)
	}
	if results[0] == nil || results[0].Terminal() {
		t.Fatalf("deadline result = %+v, want current non-terminal state", results[0])
	}
}

func TestWaitGatherUnknownID(t *testing.T) {
	s, _ := newTestSupervisor(t, 15)
	if _, err := s.WaitGatherResult(t.Context(), []string{"missing0"}, time.Second); err == nil {
		t.Fatalf("unknown id should fail fast")
	}
	if _, err := s.WaitGatherResult(t.Context(), nil, time.Second); err == nil {
		t.Fatalf("empty id set should fail")
	}
}

func TestWaitStreamYieldsInCompletionOrder(t *testing.T) {
	s, _ := newTestSupervisor(t, 15)
	backgroundTicker(t, s)

	ids := spinSleepers(t, s, "0.9", "0.1", "0.5")

	ch, err := s.WaitStreamResult(t.Context(), ids, 10*time.Second)
	if err != nil {
		t.Fatalf("WaitStreamResult: %v", err)
	}

	var got []string
	for sp := range ch {
		if sp.Status != spool.StatusComplete {
			t.Fatalf("spool %s = %s (error %q)", sp.ID, sp.Status, sp.Error)
		}
		got = append(got, sp.Result)
	}
	want := []string{"slept-0.1", "slept-0.5", "slept-0.9"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("completion order = %v, want %v", got, want)
		}
	}
}

func TestWaitStreamYieldsEachIDOnce(t *testing.T) {
	s, _ := newTestSupervisor(t, 15)
	backgroundTicker(t, s)

	ids := spinSleepers(t, s, "0.1", "0.1", "0.1")

	ch, err := s.WaitStreamResult(t.Context(), ids, 10*time.Second)
	if err != nil {
		t.Fatalf("WaitStreamResult: %v", err)
	}

	seen := make(map[string]int)
	for sp := range ch {
		seen[sp.ID]++
	}
	if len(seen) != 3 {
		t.Fatalf("yielded %d distinct ids, want 3", len(seen))
	}
	for id, n := range seen {
		if n != 1 {
			t.Fatalf("id %s yielded %d times", id, n)
		}
	}
}

func TestWaitTimeoutDoesNotCancelSpools(t *testing.T) {
	s, _ := newTestSupervisor(t, 15)
	backgroundTicker(t, s)

	ids := spinSleepers(t, s, "1")

	// Waiter gives up long before the child finishes.
	if _, err := s.WaitGatherResult(t.Context(), ids, 100*time.Millisecond); err != nil {
		t.Fatalf("WaitGatherResult: %v", err)
	}

	// The spool must still run to completion.
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		sp := getSpool(t, s, ids[0])
		if sp.Terminal() {
			if sp.Status != spool.StatusComplete {
				t.Fatalf("spool = %s, want complete", sp.Status)
			}
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("spool never completed after waiter timeout")
}
