package supervisor

import (
	"context"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/agusx1211/spindle/internal/spool"
)

// waitPoll is the cadence of the wait coordinator's store polling, shorter
// than the default one-second monitor tick.
const waitPoll = 250 * time.Millisecond

// WaitMode selects how spin_wait delivers results.
type WaitMode string

const (
	// WaitGather blocks until every spool is terminal or the deadline
	// elapses, then returns all records at once.
	WaitGather WaitMode = "gather"
	// WaitStream yields spools as they become terminal, in completion
	// order with ascending-id tie-breaks.
	WaitStream WaitMode = "stream"
)

// WaitGatherResult waits for all the given spools. The returned slice is in
// input order, one record per id; spools that failed to terminate before the
// deadline appear with their current non-terminal state.
func (s *Supervisor) WaitGatherResult(ctx context.Context, ids []string, timeout time.Duration) ([]*spool.Spool, error) {
	if len(ids) == 0 {
		return nil, fmt.Errorf("no spool ids given")
	}
	for _, id := range ids {
		if _, err := s.store.Get(id); err != nil {
			return nil, err
		}
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	results := make([]*spool.Spool, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	for i, id := range ids {
		g.Go(func() error {
			sp, err := s.pollUntilTerminal(gctx, id)
			if err != nil {
				return err
			}
			results[i] = sp
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// pollUntilTerminal polls one spool until it is terminal or the context
// expires, in which case the last observed record is returned as-is.
func (s *Supervisor) pollUntilTerminal(ctx context.Context, id string) (*spool.Spool, error) {
	ticker := time.NewTicker(waitPoll)
	defer ticker.Stop()

	for {
		sp, err := s.store.Get(id)
		if err != nil {
			return nil, err
		}
		if sp.Terminal() {
			return sp, nil
		}
		select {
		case <-ctx.Done():
			return sp, nil
		case <-ticker.C:
		}
	}
}

// WaitStreamResult yields spools over the returned channel as they become
// terminal, closing it once every input id has been delivered or the
// deadline elapses. Spools finalizing in the same poll are delivered in
// ascending id order; each id is yielded at most once.
func (s *Supervisor) WaitStreamResult(ctx context.Context, ids []string, timeout time.Duration) (<-chan *spool.Spool, error) {
	if len(ids) == 0 {
		return nil, fmt.Errorf("no spool ids given")
	}
	for _, id := range ids {
		if _, err := s.store.Get(id); err != nil {
			return nil, err
		}
	}

	out := make(chan *spool.Spool, len(ids))

	go func() {
		defer close(out)

		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		pending := make(map[string]bool, len(ids))
		for _, id := range ids {
			pending[id] = true
		}

		ticker := time.NewTicker(waitPoll)
		defer ticker.Stop()

		for len(pending) > 0 {
			var ready []*spool.Spool
			for id := range pending {
				sp, err := s.store.Get(id)
				if err != nil {
					delete(pending, id)
					continue
				}
				if sp.Terminal() {
					ready = append(ready, sp)
				}
			}
			sort.Slice(ready, func(i, j int) bool { return ready[i].ID < ready[j].ID })
			for _, sp := range ready {
				delete(pending, sp.ID)
				select {
				case out <- sp:
				case <-ctx.Done():
					return
				}
			}

			if len(pending) == 0 {
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	return out, nil
}
