package orchestrator

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/venator/internal/common"
)

// Delayer paces requests to look like a person browsing: a randomized delay
// before every request, and a longer break after every burst of them.
type Delayer struct {
	cfg    common.PolitenessConfig
	logger arbor.ILogger

	mu    sync.Mutex
	count int
}

// NewDelayer creates a delayer from the politeness settings.
func NewDelayer(cfg common.PolitenessConfig, logger arbor.ILogger) *Delayer {
	if cfg.MinDelay <= 0 {
		cfg.MinDelay = 2 * time.Second
	}
	if cfg.MaxDelay < cfg.MinDelay {
		cfg.MaxDelay = cfg.MinDelay
	}
	return &Delayer{
		cfg:    cfg,
		logger: logger,
	}
}

// Wait blocks for the next politeness window or until the context ends.
func (d *Delayer) Wait(ctx context.Context) error {
	delay := randomBetween(d.cfg.MinDelay, d.cfg.MaxDelay)

	d.mu.Lock()
	d.count++
	if d.cfg.LongPauseEvery > 0 && d.count%d.cfg.LongPauseEvery == 0 {
		pause := randomBetween(d.cfg.LongPauseMin, d.cfg.LongPauseMax)
		delay += pause
		d.logger.Debug().
			Int("requests", d.count).
			Dur("pause", pause).
			Msg("Taking a longer pause")
	}
	d.mu.Unlock()

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func randomBetween(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(rand.Int63n(int64(max-min)))
}
