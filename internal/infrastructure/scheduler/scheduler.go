// Package scheduler wraps robfig/cron with second-granularity specs. Stop
// blocks until every in-flight trigger callback has returned, which is what
// the shutdown coordinator relies on.
package scheduler

import (
	"context"

	"github.com/robfig/cron/v3"
)

type Scheduler struct {
	cron *cron.Cron
}

func New() *Scheduler {
	return &Scheduler{
		cron: cron.New(cron.WithSeconds()),
	}
}

// AddJob registers a callback under a six-field cron spec.
func (s *Scheduler) AddJob(spec string, job func(context.Context) error) error {
	_, err := s.cron.AddFunc(spec, func() {
		_ = job(context.Background())
	})
	return err
}

// JobCount returns the number of registered entries.
func (s *Scheduler) JobCount() int {
	return len(s.cron.Entries())
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the timers and waits for running callbacks to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
