package usecase

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/semmidev/custodian/internal/domain"
)

// runContext is the mutable runtime state of one execution: the log
// transcript, the progress gauge, and the optimistic terminal status. It is
// the Sink handed to adapters, and the only writer of its execution row.
type runContext struct {
	exec    *domain.Execution
	records ExecutionRecords
	logger  Logger
	fl      *flusher

	mu        sync.Mutex
	status    domain.ExecutionStatus
	logs      []string
	progress  float64
	stage     string
	artifact  string
	endedAt   *time.Time
	finalized bool
}

func (r *Runner) newRunContext(exec *domain.Execution) *runContext {
	rc := &runContext{
		exec:    exec,
		records: r.records,
		logger:  r.logger,
		// Optimistic default: the pipeline only ever downgrades it.
		status: domain.StatusSuccess,
	}
	rc.fl = newFlusher(rc.persist, r.flushInterval, r.logger)
	return rc
}

func (rc *runContext) Log(line string) {
	rc.mu.Lock()
	if rc.finalized {
		rc.mu.Unlock()
		return
	}
	rc.logs = append(rc.logs, line)
	rc.mu.Unlock()
	rc.fl.Request(false)
}

func (rc *runContext) Logf(format string, args ...interface{}) {
	rc.Log(fmt.Sprintf(format, args...))
}

// Progress never moves backwards: adapters that report coarse, jumpy numbers
// cannot make the gauge regress.
func (rc *runContext) Progress(pct float64, stage string) {
	rc.mu.Lock()
	if rc.finalized {
		rc.mu.Unlock()
		return
	}
	if pct > rc.progress {
		rc.progress = pct
	}
	if stage != "" {
		rc.stage = stage
	}
	rc.mu.Unlock()
	rc.fl.Request(false)
}

// enterStage marks a stage boundary, which forces a flush.
func (rc *runContext) enterStage(label string) {
	rc.mu.Lock()
	if rc.finalized {
		rc.mu.Unlock()
		return
	}
	rc.stage = label
	rc.logs = append(rc.logs, label)
	rc.mu.Unlock()
	rc.fl.Request(true)
}

func (rc *runContext) setArtifact(name string) {
	rc.mu.Lock()
	rc.artifact = name
	rc.mu.Unlock()
	rc.fl.Request(false)
}

func (rc *runContext) fail(err error) {
	rc.mu.Lock()
	if !rc.finalized {
		rc.status = domain.StatusFailed
		rc.logs = append(rc.logs, "ERROR: "+err.Error())
	}
	rc.mu.Unlock()
}

func (rc *runContext) finalStatus() domain.ExecutionStatus {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.status
}

// persist writes the current snapshot to the record store. Terminal fields
// are included only once finalize has sealed the context.
func (rc *runContext) persist(ctx context.Context) error {
	rc.mu.Lock()
	fields := map[string]interface{}{
		"log":      strings.Join(rc.logs, "\n"),
		"progress": rc.progress,
		"stage":    rc.stage,
	}
	if rc.artifact != "" {
		fields["artifact_path"] = rc.artifact
	}
	if rc.finalized {
		fields["status"] = rc.status
		fields["ended_at"] = rc.endedAt
	}
	id := rc.exec.ID
	rc.mu.Unlock()

	return rc.records.UpdateExecution(ctx, id, fields)
}

// finalize seals the context and performs the definitive flush. It runs
// exactly once; afterwards the execution is terminal and every mutator is a
// no-op. A failed final flush is logged but never blocks cleanup.
func (rc *runContext) finalize(ctx context.Context) {
	rc.mu.Lock()
	if rc.finalized {
		rc.mu.Unlock()
		return
	}
	rc.finalized = true
	now := time.Now()
	rc.endedAt = &now
	if rc.status == domain.StatusSuccess {
		rc.progress = 100
		rc.stage = "Completed"
	} else {
		rc.stage = "Failed"
	}
	rc.mu.Unlock()

	if err := rc.fl.Close(ctx); err != nil {
		rc.logger.Errorf("final flush for execution %s failed: %v", rc.exec.ID, err)
	}
}
