package usecase

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/semmidev/custodian/internal/domain"
)

type fakeScheduler struct {
	stopped atomic.Bool
}

func (f *fakeScheduler) Stop() {
	f.stopped.Store(true)
}

type fakeCloser struct {
	closed atomic.Bool
}

func (f *fakeCloser) Close() error {
	f.closed.Store(true)
	return nil
}

func TestLifecycle(t *testing.T) {
	Convey("Given a fresh lifecycle", t, func() {
		l := NewLifecycle()

		Convey("It starts running", func() {
			So(l.State(), ShouldEqual, StateRunning)
			So(l.ShuttingDown(), ShouldBeFalse)
		})

		Convey("Transitions are compare-and-swap", func() {
			So(l.transition(StateRunning, StateShuttingDown), ShouldBeTrue)
			So(l.transition(StateRunning, StateShuttingDown), ShouldBeFalse)
			So(l.ShuttingDown(), ShouldBeTrue)
		})

		Convey("Done closes exactly once on exit", func() {
			l.exited()
			l.exited()
			select {
			case <-l.Done():
			default:
				t.Fatal("done channel not closed")
			}
			So(l.State(), ShouldEqual, StateExited)
		})
	})
}

func TestShutdown(t *testing.T) {
	newShutdown := func(records *fakeRecords) (*Shutdown, *Lifecycle, *fakeScheduler, *fakeCloser) {
		lifecycle := NewLifecycle()
		scheduler := &fakeScheduler{}
		closer := &fakeCloser{}
		s := NewShutdown(lifecycle, records, closer, scheduler, nopLogger{})
		s.pollInterval = 5 * time.Millisecond
		return s, lifecycle, scheduler, closer
	}

	Convey("Given nothing running and some pending work", t, func() {
		records := newFakeRecords()
		pendingExec(records, "p1", time.Now())
		pendingExec(records, "p2", time.Now())
		s, lifecycle, scheduler, closer := newShutdown(records)

		Convey("Begin stops the scheduler, sweeps pending, and releases the store", func() {
			s.Begin()

			So(scheduler.stopped.Load(), ShouldBeTrue)
			So(closer.closed.Load(), ShouldBeTrue)
			So(records.get("p1").Status, ShouldEqual, domain.StatusFailed)
			So(records.get("p2").Status, ShouldEqual, domain.StatusFailed)
			So(records.get("p1").Log, ShouldContainSubstring, "aborted")

			select {
			case <-lifecycle.Done():
			default:
				t.Fatal("lifecycle not marked exited")
			}
		})

		Convey("A second Begin is a no-op", func() {
			s.Begin()
			s.Begin()
			So(lifecycle.State(), ShouldEqual, StateExited)
		})
	})

	Convey("Given an execution still running", t, func() {
		records := newFakeRecords()
		runningExec(records, "r1")
		s, lifecycle, _, closer := newShutdown(records)

		Convey("Begin drains before releasing anything", func() {
			go s.Begin()

			// Give the drain a few polls with work outstanding.
			time.Sleep(25 * time.Millisecond)
			So(closer.closed.Load(), ShouldBeFalse)
			So(lifecycle.ShuttingDown(), ShouldBeTrue)

			// The pipeline finishes; drain should notice and let go.
			records.mu.Lock()
			records.execs["r1"].Status = domain.StatusSuccess
			records.mu.Unlock()

			select {
			case <-lifecycle.Done():
			case <-time.After(time.Second):
				t.Fatal("shutdown did not complete after drain")
			}
			So(closer.closed.Load(), ShouldBeTrue)
		})
	})

	Convey("Given a shutdown already draining", t, func() {
		records := newFakeRecords()
		s, _, _, _ := newShutdown(records)
		var code atomic.Int64
		code.Store(-1)
		s.exit = func(c int) { code.Store(int64(c)) }

		Convey("Force exits immediately with a failure code", func() {
			s.Force()
			So(code.Load(), ShouldEqual, 1)
		})
	})

	Convey("Shutting down pauses the queue via the shared lifecycle", t, func() {
		records := newFakeRecords()
		pendingExec(records, "p1", time.Now())
		launcher := &fakeLauncher{}
		lifecycle := NewLifecycle()
		q := NewQueue(records, &fakeCatalog{maxConcurrent: 2}, launcher, lifecycle, nopLogger{})

		So(q.ProcessQueue(context.Background()), ShouldBeNil)
		So(launcher.ids(), ShouldHaveLength, 1)

		lifecycle.transition(StateRunning, StateShuttingDown)
		So(q.ProcessQueue(context.Background()), ShouldBeNil)
		So(launcher.ids(), ShouldHaveLength, 1)
	})
}
