package cron

import (
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/0xPuncker/flow-scheduler/internal/store"
	"github.com/0xPuncker/flow-scheduler/pkg/types"
	"github.com/sirupsen/logrus"
)

const keyLockStripes = 64

// JobStatus is the externally visible state of an armed job.
type JobStatus struct {
	Key        types.JobKey        `json:"key"`
	Definition types.JobDefinition `json:"definition"`
	NextRun    time.Time           `json:"next_run"`
	LastRun    *time.Time          `json:"last_run,omitempty"`
	FireCount  int                 `json:"fire_count"`
}

// Scheduler keeps the registry of live timers and the durable job record in
// step. Timers are armed before the record is written, so the record never
// holds a schedule that failed to arm.
type Scheduler struct {
	store    store.Store
	registry *Registry
	logger   *logrus.Logger

	mu          sync.RWMutex
	started     bool
	initialized bool

	// keyLocks keep arm+persist of one key from interleaving with a
	// concurrent disarm+persist of the same key. Keys share a fixed set of
	// stripes.
	keyLocks [keyLockStripes]sync.Mutex

	// persistMu serializes read-modify-write cycles on the store.
	persistMu sync.Mutex
	dirty     bool
}

func NewScheduler(st store.Store, registry *Registry, logger *logrus.Logger) *Scheduler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Scheduler{
		store:    st,
		registry: registry,
		logger:   logger,
	}
}

func (s *Scheduler) keyLock(key types.JobKey) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &s.keyLocks[h.Sum32()%keyLockStripes]
}

func (s *Scheduler) lockKey(key types.JobKey) func() {
	l := s.keyLock(key)
	l.Lock()
	return l.Unlock
}

func (s *Scheduler) Registry() *Registry {
	return s.registry
}

// ScheduleJob arms def, replacing any job with the same key, and then
// persists it. A *ScheduleParseError cancels any timer the key had and
// leaves the store untouched. A *store.WriteError leaves the timer armed.
func (s *Scheduler) ScheduleJob(def types.JobDefinition, onFire TriggerFunc) error {
	key := def.Key()
	defer s.lockKey(key)()

	if err := s.registry.Arm(key, def, onFire); err != nil {
		s.logger.WithFields(logrus.Fields{
			"job_key":  key.String(),
			"schedule": def.Schedule,
			"error":    err.Error(),
		}).Warn("Failed to schedule job")
		return err
	}

	err := s.persist(func(jobs []types.JobDefinition) ([]types.JobDefinition, bool) {
		updated, _ := store.Without(jobs, key)
		return append(updated, def), true
	})
	if err != nil {
		return err
	}

	s.logger.WithFields(logrus.Fields{
		"job_key":  key.String(),
		"schedule": def.Schedule,
	}).Info("Job scheduled successfully")
	return nil
}

// RemoveJob disarms the job and drops it from the durable record. Removing
// an unknown job is a no-op and leaves the record untouched.
func (s *Scheduler) RemoveJob(workflowID string, engine types.Engine) error {
	key := types.NewJobKey(engine, workflowID)
	defer s.lockKey(key)()

	s.registry.Disarm(key)

	err := s.persist(func(jobs []types.JobDefinition) ([]types.JobDefinition, bool) {
		return store.Without(jobs, key)
	})
	if err != nil {
		return err
	}

	s.logger.WithField("job_key", key.String()).Info("Job removed")
	return nil
}

// InitializeJobs arms every persisted job. A job that fails to arm is
// logged and skipped. It may only run once per Scheduler.
func (s *Scheduler) InitializeJobs(onFire TriggerFunc) (int, error) {
	if onFire == nil {
		return 0, ErrNilTrigger
	}

	s.mu.Lock()
	if s.initialized {
		s.mu.Unlock()
		return 0, ErrAlreadyInitialized
	}
	s.initialized = true
	s.mu.Unlock()

	jobs := s.store.LoadAll()
	s.logger.Infof("Loading %d persisted cron jobs...", len(jobs))

	armed := 0
	for _, job := range jobs {
		if err := s.registry.Arm(job.Key(), job, onFire); err != nil {
			s.logger.WithFields(logrus.Fields{
				"job_key":  job.Key().String(),
				"schedule": job.Schedule,
				"error":    err.Error(),
			}).Error("Failed to schedule job")
			continue
		}
		armed++
	}

	if failed := len(jobs) - armed; failed > 0 {
		s.logger.Warnf("Finished loading cron jobs: %d armed, %d skipped", armed, failed)
	} else {
		s.logger.Infof("Finished loading cron jobs: %d armed", armed)
	}
	return armed, nil
}

// persist applies mutate to the stored set. After a failed write the next
// persist, or Flush, writes the registry contents instead.
func (s *Scheduler) persist(mutate func([]types.JobDefinition) ([]types.JobDefinition, bool)) error {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	if s.dirty {
		return s.flushLocked()
	}

	updated, changed := mutate(s.store.LoadAll())
	if !changed {
		return nil
	}

	if err := s.store.SaveAll(updated); err != nil {
		s.markDirty(err)
		return err
	}
	return nil
}

// PendingFlush reports whether the durable record is behind the registry.
func (s *Scheduler) PendingFlush() bool {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()
	return s.dirty
}

// Flush writes the registry's definitions to the store. Stored entries that
// are not armed, such as ones InitializeJobs skipped, are dropped from the
// record.
func (s *Scheduler) Flush() error {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()
	return s.flushLocked()
}

func (s *Scheduler) flushLocked() error {
	defs := s.registry.Definitions()
	if err := s.store.SaveAll(defs); err != nil {
		s.markDirty(err)
		return err
	}

	if s.dirty {
		s.logger.WithField("jobs", len(defs)).Info("Job store resynchronized")
	}
	s.dirty = false
	return nil
}

func (s *Scheduler) markDirty(err error) {
	s.dirty = true
	s.registry.metrics.persistFailed()
	s.logger.WithField("error", err.Error()).Error("Failed to persist cron jobs, registry is ahead of the job store")
}

// Jobs returns the status of every armed job, sorted by key.
func (s *Scheduler) Jobs() []JobStatus {
	entries := s.registry.Entries(time.Now())

	jobs := make([]JobStatus, 0, len(entries))
	for _, e := range entries {
		status := JobStatus{
			Key:        e.Key,
			Definition: e.Definition,
			NextRun:    e.Next,
		}
		if record, found := s.registry.history.Last(e.Key); found {
			lastRun := record.LastRun
			status.LastRun = &lastRun
			status.FireCount = record.Count
		}
		jobs = append(jobs, status)
	}
	return jobs
}

func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("scheduler already started")
	}

	s.registry.clock.Start()
	s.started = true
	s.logger.Info("Scheduler started...")

	return nil
}

// Stop halts the timers and waits for in-flight triggers to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}

	ctx := s.registry.clock.Stop()
	<-ctx.Done()
	s.started = false
	s.logger.Info("Scheduler stopped")
}

func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.started
}

// Close cancels the context of in-flight triggers, stops the scheduler,
// writes a pending record if a previous write failed and releases every
// timer.
func (s *Scheduler) Close() {
	s.registry.cancel()
	s.Stop()

	if s.PendingFlush() {
		if err := s.Flush(); err != nil {
			s.logger.WithField("error", err.Error()).Error("Job store left out of date on close")
		}
	}
	s.registry.Close()
}
