package cron

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/0xPuncker/flow-scheduler/pkg/types"
	"github.com/0xPuncker/flow-scheduler/pkg/utils"
	cronlib "github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// TriggerFunc is invoked on every tick of a job. Delivery is at-least-once
// and firings of the same job may overlap. Returned errors are only logged.
type TriggerFunc func(ctx context.Context, job types.JobDefinition) error

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

func WithHistory(h *RunHistory) RegistryOption {
	return func(r *Registry) { r.history = h }
}

func WithMetrics(m *Metrics) RegistryOption {
	return func(r *Registry) { r.metrics = m }
}

// Entry is a snapshot of one armed job.
type Entry struct {
	Key        types.JobKey
	Definition types.JobDefinition
	Next       time.Time
}

type armedJob struct {
	definition types.JobDefinition
	schedule   cronlib.Schedule
	timer      Timer
}

// Registry maps job keys to their live timers. At most one timer exists per
// key; every mutation holds mu for its whole duration.
type Registry struct {
	clock   Clock
	logger  *logrus.Logger
	history *RunHistory
	metrics *Metrics

	ctx    context.Context
	cancel context.CancelFunc

	mu   sync.Mutex
	jobs map[types.JobKey]*armedJob
}

func NewRegistry(clock Clock, logger *logrus.Logger, opts ...RegistryOption) *Registry {
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &Registry{
		clock:  clock,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
		jobs:   make(map[types.JobKey]*armedJob),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Arm binds a new timer for def to key, cancelling the previous one first.
// An invalid schedule returns a *ScheduleParseError and leaves key with no
// timer at all.
func (r *Registry) Arm(key types.JobKey, def types.JobDefinition, onFire TriggerFunc) error {
	if onFire == nil {
		return ErrNilTrigger
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if previous, exists := r.jobs[key]; exists {
		previous.timer.Stop()
		delete(r.jobs, key)
		r.metrics.setArmed(len(r.jobs))
	}

	schedule, err := ParseSchedule(def.Schedule)
	if err != nil {
		r.history.Forget(key)
		r.metrics.armFailed()
		return err
	}

	job := &armedJob{
		definition: def,
		schedule:   schedule,
	}
	job.timer = r.clock.Arm(schedule, func() {
		r.fire(key, def, onFire)
	})
	r.jobs[key] = job
	r.metrics.setArmed(len(r.jobs))

	r.logger.WithFields(logrus.Fields{
		"job_key":  key.String(),
		"schedule": def.Schedule,
		"next_run": utils.FormatDuration(time.Until(schedule.Next(time.Now()))),
	}).Info("Job armed")

	return nil
}

// Disarm cancels the timer for key. Unknown keys are ignored.
func (r *Registry) Disarm(key types.JobKey) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, exists := r.jobs[key]
	if !exists {
		return
	}

	job.timer.Stop()
	delete(r.jobs, key)
	r.history.Forget(key)
	r.metrics.setArmed(len(r.jobs))

	r.logger.WithField("job_key", key.String()).Info("Job disarmed")
}

func (r *Registry) Has(key types.JobKey) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, exists := r.jobs[key]
	return exists
}

// Keys returns the armed keys in sorted order.
func (r *Registry) Keys() []types.JobKey {
	r.mu.Lock()
	defer r.mu.Unlock()

	keys := make([]types.JobKey, 0, len(r.jobs))
	for key := range r.jobs {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}

// Entries returns every armed job with its next fire time after now,
// sorted by key.
func (r *Registry) Entries(now time.Time) []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries := make([]Entry, 0, len(r.jobs))
	for key, job := range r.jobs {
		entries = append(entries, Entry{
			Key:        key,
			Definition: job.definition,
			Next:       job.schedule.Next(now),
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	return entries
}

// Definitions returns the armed definitions sorted by key.
func (r *Registry) Definitions() []types.JobDefinition {
	entries := r.Entries(time.Now())
	defs := make([]types.JobDefinition, len(entries))
	for i, e := range entries {
		defs[i] = e.Definition
	}
	return defs
}

// Close stops every timer and cancels the context handed to triggers.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for key, job := range r.jobs {
		job.timer.Stop()
		delete(r.jobs, key)
	}
	r.metrics.setArmed(0)
	r.cancel()
}

func (r *Registry) fire(key types.JobKey, def types.JobDefinition, onFire TriggerFunc) {
	start := time.Now()
	engine := def.Engine.String()

	defer func() {
		if rec := recover(); rec != nil {
			r.metrics.fireFailed(engine)
			r.logger.WithFields(logrus.Fields{
				"job_key":  key.String(),
				"error":    fmt.Sprint(rec),
				"duration": utils.FormatElapsed(time.Since(start)),
			}).Error("Job trigger panicked")
		}
	}()

	r.history.Record(key, start)
	r.metrics.fired(engine)

	r.logger.WithFields(logrus.Fields{
		"job_key":     key.String(),
		"engine":      engine,
		"workflow_id": def.WorkflowID,
		"schedule":    def.Schedule,
	}).Info("Running scheduled job")

	if err := onFire(r.ctx, def); err != nil {
		r.metrics.fireFailed(engine)
		r.logger.WithFields(logrus.Fields{
			"job_key":  key.String(),
			"error":    err.Error(),
			"duration": utils.FormatElapsed(time.Since(start)),
		}).Error("Job execution failed")
		return
	}

	r.logger.WithFields(logrus.Fields{
		"job_key":  key.String(),
		"duration": utils.FormatElapsed(time.Since(start)),
	}).Info("Job execution completed successfully")
}
