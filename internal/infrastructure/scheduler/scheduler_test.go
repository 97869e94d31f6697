package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func TestScheduler(t *testing.T) {
	Convey("Given a scheduler", t, func() {
		s := New()

		Convey("Valid six-field specs register", func() {
			err := s.AddJob("*/1 * * * * *", func(context.Context) error { return nil })
			So(err, ShouldBeNil)
			So(s.JobCount(), ShouldEqual, 1)
		})

		Convey("Invalid specs are rejected", func() {
			err := s.AddJob("not a cron spec", func(context.Context) error { return nil })
			So(err, ShouldNotBeNil)
			So(s.JobCount(), ShouldEqual, 0)
		})

		Convey("Registered jobs fire once started", func() {
			var fired atomic.Int64
			err := s.AddJob("* * * * * *", func(context.Context) error {
				fired.Add(1)
				return nil
			})
			So(err, ShouldBeNil)

			s.Start()
			defer s.Stop()

			deadline := time.Now().Add(3 * time.Second)
			for fired.Load() == 0 && time.Now().Before(deadline) {
				time.Sleep(50 * time.Millisecond)
			}
			So(fired.Load(), ShouldBeGreaterThan, 0)
		})

		Convey("Stop waits for in-flight callbacks", func() {
			release := make(chan struct{})
			var done atomic.Bool
			err := s.AddJob("* * * * * *", func(context.Context) error {
				<-release
				done.Store(true)
				return nil
			})
			So(err, ShouldBeNil)

			s.Start()
			time.Sleep(1100 * time.Millisecond)

			go func() {
				time.Sleep(100 * time.Millisecond)
				close(release)
			}()
			s.Stop()
			So(done.Load(), ShouldBeTrue)
		})
	})
}
