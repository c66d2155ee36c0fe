package cache

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/presale-monitor/pkg/utils"
)

// Janitor periodically purges expired entries from a TieredCache
type Janitor struct {
	cache    *TieredCache
	interval time.Duration
	logger   *logrus.Entry

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewJanitor creates a janitor running every interval
func NewJanitor(cache *TieredCache, interval time.Duration) *Janitor {
	return &Janitor{
		cache:    cache,
		interval: interval,
		logger:   utils.ComponentLogger("cache-janitor"),
		stopChan: make(chan struct{}),
	}
}

// Start runs the purge loop until ctx is done or Stop is called
func (j *Janitor) Start(ctx context.Context) {
	if j.interval <= 0 {
		return
	}

	j.wg.Add(1)
	go func() {
		defer j.wg.Done()

		ticker := time.NewTicker(j.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-j.stopChan:
				return
			case <-ticker.C:
				j.purge(ctx)
			}
		}
	}()
}

func (j *Janitor) purge(ctx context.Context) {
	removed, err := j.cache.PurgeExpired(ctx)
	if err != nil {
		j.logger.WithError(err).Warn("Failed to purge expired cache entries")
		return
	}
	if removed > 0 {
		j.logger.WithField("removed", removed).Debug("Purged expired cache entries")
	}
}

// Stop stops the purge loop and waits for it to exit
func (j *Janitor) Stop() {
	j.stopOnce.Do(func() { close(j.stopChan) })
	j.wg.Wait()
}
