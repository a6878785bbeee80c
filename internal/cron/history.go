package cron

import (
	"sync"
	"time"

	"github.com/0xPuncker/flow-scheduler/pkg/types"
	"github.com/patrickmn/go-cache"
)

// RunRecord describes the most recent firings of a job.
type RunRecord struct {
	LastRun time.Time `json:"last_run"`
	Count   int       `json:"count"`
}

// RunHistory remembers recent firings per job key. Records expire after the
// configured TTL without new firings.
type RunHistory struct {
	cache *cache.Cache
	mu    sync.Mutex
}

func NewRunHistory(ttl time.Duration) *RunHistory {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RunHistory{
		cache: cache.New(ttl, 10*time.Minute),
	}
}

func (h *RunHistory) Record(key types.JobKey, at time.Time) {
	if h == nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	record := RunRecord{LastRun: at, Count: 1}
	if cached, found := h.cache.Get(key.String()); found {
		record.Count = cached.(RunRecord).Count + 1
	}
	h.cache.Set(key.String(), record, cache.DefaultExpiration)
}

func (h *RunHistory) Last(key types.JobKey) (RunRecord, bool) {
	if h == nil {
		return RunRecord{}, false
	}

	cached, found := h.cache.Get(key.String())
	if !found {
		return RunRecord{}, false
	}
	return cached.(RunRecord), true
}

func (h *RunHistory) Forget(key types.JobKey) {
	if h == nil {
		return
	}
	h.cache.Delete(key.String())
}
