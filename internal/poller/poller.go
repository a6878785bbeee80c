package poller

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Flusher is something holding state that may need to be written again
// after a failed write.
type Flusher interface {
	PendingFlush() bool
	Flush() error
}

// Poller retries pending flushes on a fixed interval until one succeeds.
type Poller struct {
	flusher  Flusher
	logger   *logrus.Logger
	interval time.Duration
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func New(flusher Flusher, logger *logrus.Logger, interval time.Duration) *Poller {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Poller{
		flusher:  flusher,
		logger:   logger,
		interval: interval,
		stop:     make(chan struct{}),
	}
}

// Start runs the poll loop in the background until ctx is done or Stop is
// called.
func (p *Poller) Start(ctx context.Context) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				p.update()
			case <-ctx.Done():
				return
			case <-p.stop:
				return
			}
		}
	}()
}

func (p *Poller) Stop() {
	p.stopOnce.Do(func() { close(p.stop) })
	p.wg.Wait()
}

func (p *Poller) update() {
	if !p.flusher.PendingFlush() {
		return
	}

	p.logger.Debug("Retrying pending job record write")
	if err := p.flusher.Flush(); err != nil {
		p.logger.WithError(err).Warn("Job record is still out of date")
		return
	}
	p.logger.Debug("Pending job record write succeeded")
}
