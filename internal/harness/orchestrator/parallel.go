package orchestrator

import (
	"context"
	"sync"

	"gauntlet/internal/harness/report"
)

// runParallel executes the selected units on a fixed-size worker pool.
// Results land in an arena keyed by stable selection position, so the
// reported order always matches manifest order regardless of which worker
// finishes first. A timeout kills only the offending child; queued and
// running siblings are unaffected.
func (o *Orchestrator) runParallel(ctx context.Context, m *machine, selected []indexedUnit) ([]report.Unit, error) {
	if err := m.advance(PhaseExecuting); err != nil {
		return nil, err
	}

	results := make([]report.Unit, len(selected))
	jobs := make(chan int)

	workers := o.opts.Workers
	if workers > len(selected) {
		workers = len(selected)
	}

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for pos := range jobs {
				results[pos] = o.executeUnit(ctx, pos, selected[pos])
			}
		}()
	}
	for pos := range selected {
		jobs <- pos
	}
	close(jobs)
	wg.Wait()

	for _, unit := range results {
		o.reportUnitProgress(unit)
	}

	if err := m.advance(PhaseRecording); err != nil {
		return nil, err
	}
	if err := m.advance(PhaseCompleted); err != nil {
		return nil, err
	}
	return results, nil
}
