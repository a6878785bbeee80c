package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/0xPuncker/flow-scheduler/internal/cron"
	cronlib "github.com/robfig/cron/v3"
)

// FakeClock is a cron.Clock driven by Advance instead of wall time. Ticks
// run synchronously on the goroutine calling Advance.
type FakeClock struct {
	mu      sync.Mutex
	now     time.Time
	running bool
	nextID  int
	timers  map[int]*fakeTimer
}

type fakeTimer struct {
	clock    *FakeClock
	id       int
	schedule cronlib.Schedule
	next     time.Time
	fire     func()
}

var _ cron.Clock = (*FakeClock)(nil)

func NewFakeClock(now time.Time) *FakeClock {
	return &FakeClock{
		now:    now,
		timers: make(map[int]*fakeTimer),
	}
}

func (c *FakeClock) Arm(schedule cronlib.Schedule, fire func()) cron.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	t := &fakeTimer{
		clock:    c,
		id:       c.nextID,
		schedule: schedule,
		next:     schedule.Next(c.now),
		fire:     fire,
	}
	c.timers[t.id] = t
	return t
}

func (c *FakeClock) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.running = true
}

func (c *FakeClock) Stop() context.Context {
	c.mu.Lock()
	c.running = false
	c.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return ctx
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Armed returns the number of live timers.
func (c *FakeClock) Armed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

// Advance moves the clock forward by d and fires every tick that falls due,
// in chronological order. It returns the number of ticks fired. Nothing
// fires while the clock is stopped, though time still moves.
func (c *FakeClock) Advance(d time.Duration) int {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	fired := 0
	for {
		c.mu.Lock()
		if !c.running {
			c.now = target
			c.mu.Unlock()
			return fired
		}

		due := c.nextDueLocked(target)
		if due == nil {
			c.now = target
			c.mu.Unlock()
			return fired
		}

		c.now = due.next
		due.next = due.schedule.Next(due.next)
		fire := due.fire
		c.mu.Unlock()

		fire()
		fired++
	}
}

func (c *FakeClock) nextDueLocked(target time.Time) *fakeTimer {
	ids := make([]int, 0, len(c.timers))
	for id := range c.timers {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	var due *fakeTimer
	for _, id := range ids {
		t := c.timers[id]
		if t.next.IsZero() || t.next.After(target) {
			continue
		}
		if due == nil || t.next.Before(due.next) {
			due = t
		}
	}
	return due
}

func (t *fakeTimer) Stop() {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	delete(t.clock.timers, t.id)
}
