package usecase

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/semmidev/custodian/internal/domain"
)

// Queue launches pending executions under a global concurrency ceiling. It
// holds no lock of its own: the record store's conditional status transition
// is the arbiter, so overlapping passes can over-select but never over-run.
type Queue struct {
	records   ExecutionRecords
	catalog   Catalog
	launcher  Launcher
	lifecycle *Lifecycle
	logger    Logger
}

func NewQueue(records ExecutionRecords, catalog Catalog, launcher Launcher, lifecycle *Lifecycle, logger Logger) *Queue {
	return &Queue{
		records:   records,
		catalog:   catalog,
		launcher:  launcher,
		lifecycle: lifecycle,
		logger:    logger,
	}
}

// ProcessQueue runs one scheduling pass. It is idempotent and safe to invoke
// from a timer: at or over the ceiling it no-ops, otherwise it launches the
// oldest pending executions FIFO and waits for every launch to settle. The
// ceiling is re-read from settings on every pass, never cached.
func (q *Queue) ProcessQueue(ctx context.Context) error {
	if q.lifecycle != nil && q.lifecycle.ShuttingDown() {
		return nil
	}

	limit, err := q.catalog.MaxConcurrentJobs(ctx)
	if err != nil {
		return domain.NewPersistenceError("read max concurrent jobs", err)
	}

	running, err := q.records.CountByStatus(ctx, domain.StatusRunning)
	if err != nil {
		return domain.NewPersistenceError("count running executions", err)
	}
	if running >= int64(limit) {
		return nil
	}

	slots := limit - int(running)
	pending, err := q.records.OldestPending(ctx, slots)
	if err != nil {
		return domain.NewPersistenceError("list pending executions", err)
	}
	if len(pending) == 0 {
		return nil
	}

	// Launch failures are isolated per execution: one broken job must not
	// keep the others from starting or being awaited.
	var g errgroup.Group
	for _, exec := range pending {
		exec := exec
		g.Go(func() error {
			if err := q.launcher.Launch(ctx, exec); err != nil {
				q.logger.Errorf("launch execution %s (job %s): %v", exec.ID, exec.JobID, err)
			}
			return nil
		})
	}
	return g.Wait()
}
