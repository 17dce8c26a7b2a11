// Package jobs runs the periodic maintenance tasks.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"github.com/susu3304/amanteslive/internal/logging"
)

// Job is one scheduled task. Errors are logged and the schedule continues.
type Job struct {
	Name     string
	Schedule string
	Timeout  time.Duration
	Run      func(ctx context.Context) error
}

type Scheduler struct {
	cron *cron.Cron
	log  *logrus.Entry
}

func NewScheduler() *Scheduler {
	return &Scheduler{
		cron: cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		log:  logging.Component("jobs"),
	}
}

func (s *Scheduler) Add(j Job) error {
	if j.Timeout <= 0 {
		j.Timeout = time.Minute
	}
	if _, err := s.cron.AddFunc(j.Schedule, func() { s.run(j) }); err != nil {
		return fmt.Errorf("schedule %s: %w", j.Name, err)
	}
	return nil
}

func (s *Scheduler) run(j Job) {
	ctx, cancel := context.WithTimeout(context.Background(), j.Timeout)
	defer cancel()
	start := time.Now()
	if err := j.Run(ctx); err != nil {
		s.log.WithField("job", j.Name).WithError(err).Error("job failed")
		return
	}
	s.log.WithFields(logrus.Fields{"job": j.Name, "took": time.Since(start)}).Debug("job finished")
}

func (s *Scheduler) Start() { s.cron.Start() }

// Stop prevents new runs and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// ExpireSubscriptions wraps an expiry function as an hourly job.
func ExpireSubscriptions(expire func(ctx context.Context) (int64, error)) Job {
	log := logging.Component("jobs")
	return Job{
		Name:     "expire-subscriptions",
		Schedule: "@every 1h",
		Run: func(ctx context.Context) error {
			n, err := expire(ctx)
			if err != nil {
				return err
			}
			if n > 0 {
				log.WithField("count", n).Info("expired subscriptions")
			}
			return nil
		},
	}
}
