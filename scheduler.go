package produce

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Outcome is what a Producer reports back to its caller: whether it
// rebuilt its target, found it already fresh, or failed.
type Outcome int

const (
	NotBuilt Outcome = iota
	Built
	Failed
)

func (o Outcome) String() string {
	switch o {
	case NotBuilt:
		return "not built"
	case Built:
		return "built"
	default:
		return "failed"
	}
}

// Scheduler drives concurrent Producer actors over a realized Graph,
// per §4.6.
type Scheduler struct {
	Graph *Graph
	Locks *LockManager
	Jobs  *semaphore.Weighted

	ownerSeq int64
}

// NewScheduler builds a Scheduler over g, whose graph must already be
// fully realized (Phase 1 complete) so Locks can be pre-seeded over the
// full output set.
func NewScheduler(g *Graph, jobs int) *Scheduler {
	if jobs < 1 {
		jobs = 1
	}
	return &Scheduler{
		Graph: g,
		Locks: NewLockManager(g.AllOutputs()),
		Jobs:  semaphore.NewWeighted(int64(jobs)),
	}
}

// Build runs a Producer for target to completion and returns its outcome.
// This is the Phase 2 entry point, called once per requested root target.
func (s *Scheduler) Build(ctx context.Context, target string) (Outcome, error) {
	return s.produce(ctx, target)
}

// produce runs one Producer for target: the four phases of §4.6. Every
// call mints its own owner token — reentrance is only for a single
// Producer re-entering a lock it already holds, never for coordinating
// concurrent siblings, so two Producers converging on a shared dependency
// (a diamond) always serialize on that dependency's output lock rather
// than racing each other into Phase D.
func (s *Scheduler) produce(ctx context.Context, target string) (Outcome, error) {
	owner := fmt.Sprintf("producer-%d", atomic.AddInt64(&s.ownerSeq, 1))
	outputs := s.outputsOf(target)

	// Phase A — lock.
	release := s.Locks.AcquireAll(owner, outputs)
	defer release()

	// Phase B — freshness re-check under the graph's own lock, plus
	// re-raise of a memoized failure from a prior Producer. Because Phase
	// A already serializes every Producer whose output sets intersect,
	// no other Producer can be mid-build on target here: either an
	// earlier one already finished (Fresh or Failed) or none has started.
	ts := s.Graph.State(target)
	if ts == nil {
		return Failed, &ResolutionError{Target: target, Msg: "build requested for unrealized target"}
	}
	s.Graph.mu.Lock()
	switch ts.State {
	case StateFailed:
		err := ts.Err
		s.Graph.mu.Unlock()
		return Failed, err
	case StateFresh:
		s.Graph.mu.Unlock()
		return NotBuilt, nil
	}
	ts.State = StateBuilding
	s.Graph.mu.Unlock()

	// Phase C — build dependencies. A pretend-up-to-date target returns
	// immediately, without touching its dependencies at all.
	if s.Graph.PretendUpToDate[target] {
		return NotBuilt, nil
	}

	grp, childCtx := errgroup.WithContext(ctx)
	for _, d := range ts.Deps {
		d := d
		grp.Go(func() error {
			_, err := s.produce(childCtx, d)
			return err
		})
	}
	if err := grp.Wait(); err != nil {
		s.Graph.mu.Lock()
		ts.State = StateFailed
		ts.Err = err
		s.Graph.mu.Unlock()
		return Failed, err
	}

	// Phase D — run the recipe, gated on the global parallelism permit.
	if err := s.Jobs.Acquire(ctx, 1); err != nil {
		return Failed, &ExternalError{Msg: "build interrupted", Err: err}
	}
	defer s.Jobs.Release(1)

	if err := s.Graph.RunRecipe(target, ts); err != nil {
		return Failed, err
	}
	return Built, nil
}

func (s *Scheduler) outputsOf(target string) []string {
	ts := s.Graph.State(target)
	if ts == nil {
		return []string{target}
	}
	return append([]string{target}, ts.Outputs...)
}
