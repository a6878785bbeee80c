package cron

import (
	"context"
	"time"

	cronlib "github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Timer is a live recurrence armed for one job key.
type Timer interface {
	// Stop cancels future firings. Once it returns no new tick starts;
	// a tick already in flight is left to finish.
	Stop()
}

// Clock arms recurring timers and drives them.
type Clock interface {
	Arm(schedule cronlib.Schedule, fire func()) Timer
	Start()
	Stop() context.Context
}

// CronClock drives every timer from a single robfig/cron runner. Each tick
// runs on its own goroutine.
type CronClock struct {
	cron *cronlib.Cron
}

func NewCronClock(location *time.Location, logger *logrus.Logger) *CronClock {
	if location == nil {
		location = time.Local
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	cronLogger := cronlib.PrintfLogger(logger)
	return &CronClock{
		cron: cronlib.New(
			cronlib.WithLocation(location),
			cronlib.WithLogger(cronLogger),
			cronlib.WithChain(cronlib.Recover(cronLogger)),
		),
	}
}

func (c *CronClock) Arm(schedule cronlib.Schedule, fire func()) Timer {
	id := c.cron.Schedule(schedule, cronlib.FuncJob(fire))
	return &cronTimer{cron: c.cron, id: id}
}

func (c *CronClock) Start() {
	c.cron.Start()
}

func (c *CronClock) Stop() context.Context {
	return c.cron.Stop()
}

type cronTimer struct {
	cron *cronlib.Cron
	id   cronlib.EntryID
}

// Stop removes the entry. While the runner is active this hands the removal
// to the run loop and blocks until it has been accepted.
func (t *cronTimer) Stop() {
	t.cron.Remove(t.id)
}
