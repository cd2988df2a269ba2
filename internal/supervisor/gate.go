package supervisor

import (
	"errors"
	"fmt"
	"sync"

	"github.com/agusx1211/spindle/internal/store"
)

// ErrAtCapacity is returned when admission would exceed the ceiling.
var ErrAtCapacity = errors.New("at-capacity")

// gate enforces the global in-flight ceiling. Every admission recomputes the
// running census from disk so the limit stays correct across restarts; an
// in-memory reservation count covers the window between admission and the
// record becoming visible as running on disk.
type gate struct {
	mu       sync.Mutex
	ceiling  int
	reserved int
	store    *store.Store
}

func newGate(ceiling int, st *store.Store) *gate {
	return &gate{ceiling: ceiling, store: st}
}

// admit reserves a slot or fails with ErrAtCapacity. Every successful admit
// must be paired with exactly one confirm or abort.
func (g *gate) admit() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	running, err := g.store.CountRunning()
	if err != nil {
		return fmt.Errorf("computing running census: %w", err)
	}
	if running+g.reserved >= g.ceiling {
		return fmt.Errorf("%w: %d of %d spools running", ErrAtCapacity, running, g.ceiling)
	}
	g.reserved++
	return nil
}

// confirm drops the reservation once the spool is persisted as running and
// therefore counted by the on-disk census.
func (g *gate) confirm() {
	g.release()
}

// abort drops the reservation after a failed admission or launch.
func (g *gate) abort() {
	g.release()
}

func (g *gate) release() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.reserved > 0 {
		g.reserved--
	}
}
