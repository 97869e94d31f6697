package usecase

import (
	"context"
	"io"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/semmidev/custodian/internal/domain"
)

type LifecycleState int32

const (
	StateRunning LifecycleState = iota
	StateShuttingDown
	StateExited
)

// Lifecycle is the shared shutdown state, passed by reference to everything
// that must stop taking on new work once draining begins.
type Lifecycle struct {
	state atomic.Int32
	done  chan struct{}
	once  sync.Once
}

func NewLifecycle() *Lifecycle {
	return &Lifecycle{done: make(chan struct{})}
}

func (l *Lifecycle) State() LifecycleState {
	return LifecycleState(l.state.Load())
}

func (l *Lifecycle) ShuttingDown() bool {
	return l.State() != StateRunning
}

// Done is closed once an orderly shutdown has fully drained and released.
func (l *Lifecycle) Done() <-chan struct{} {
	return l.done
}

func (l *Lifecycle) transition(from, to LifecycleState) bool {
	return l.state.CompareAndSwap(int32(from), int32(to))
}

func (l *Lifecycle) exited() {
	l.state.Store(int32(StateExited))
	l.once.Do(func() { close(l.done) })
}

const defaultDrainPollInterval = 2 * time.Second

// Shutdown coordinates graceful termination: stop timers, drain running
// executions without a deadline, fail what never started, release the store.
// A second signal while draining forces immediate exit.
type Shutdown struct {
	lifecycle *Lifecycle
	records   ExecutionRecords
	closer    io.Closer
	scheduler interface{ Stop() }
	logger    Logger

	pollInterval time.Duration
	exit         func(code int)
	registerOnce sync.Once
}

func NewShutdown(lifecycle *Lifecycle, records ExecutionRecords, closer io.Closer, scheduler interface{ Stop() }, logger Logger) *Shutdown {
	return &Shutdown{
		lifecycle:    lifecycle,
		records:      records,
		closer:       closer,
		scheduler:    scheduler,
		logger:       logger,
		pollInterval: defaultDrainPollInterval,
		exit:         os.Exit,
	}
}

// RegisterHandlers installs the termination-signal handlers. Calling it more
// than once is a no-op.
func (s *Shutdown) RegisterHandlers() {
	s.registerOnce.Do(func() {
		sigs := make(chan os.Signal, 2)
		signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
		go func() {
			<-sigs
			go s.Begin()
			<-sigs
			s.Force()
		}()
	})
}

// Begin starts an orderly shutdown. It returns once the drain has finished
// and resources are released. The wait for running executions has no
// deadline; Force is the only way out.
func (s *Shutdown) Begin() {
	if !s.lifecycle.transition(StateRunning, StateShuttingDown) {
		return
	}

	s.logger.Infof("Shutdown requested, draining in-flight executions...")
	if s.scheduler != nil {
		s.scheduler.Stop()
	}

	s.drain()

	ctx := context.Background()
	failed, err := s.records.MarkPendingFailed(ctx, "aborted: process shut down before execution started")
	if err != nil {
		s.logger.Errorf("failed to sweep pending executions: %v", err)
	} else if failed > 0 {
		s.logger.Infof("Marked %d pending execution(s) as failed", failed)
	}

	if s.closer != nil {
		if err := s.closer.Close(); err != nil {
			s.logger.Errorf("failed to close record store: %v", err)
		}
	}

	s.logger.Infof("Shutdown complete")
	s.lifecycle.exited()
}

// drain polls the record store until nothing is running, logging only when
// the count changes to keep the transcript quiet.
func (s *Shutdown) drain() {
	ctx := context.Background()
	last := int64(-1)
	for {
		running, err := s.records.CountByStatus(ctx, domain.StatusRunning)
		if err != nil {
			s.logger.Errorf("drain: count running executions: %v", err)
			time.Sleep(s.pollInterval)
			continue
		}
		if running == 0 {
			return
		}
		if running != last {
			s.logger.Infof("Waiting for %d running execution(s) to finish", running)
			last = running
		}
		time.Sleep(s.pollInterval)
	}
}

// Force abandons the drain and exits immediately, leaving in-flight
// executions in RUNNING state for inspection on restart.
func (s *Shutdown) Force() {
	s.logger.Warnf("Second signal received, forcing exit")
	s.exit(1)
}
