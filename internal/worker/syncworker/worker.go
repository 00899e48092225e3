// Package syncworker drives the portal reconciliation cycle on a timer.
package syncworker

import (
	"context"
	"time"

	"github.com/cabinetdz/cabinet-platform/internal/sync"
	"github.com/cabinetdz/cabinet-platform/pkg/logging"
)

type engine interface {
	Run(ctx context.Context, portalURL string) *sync.Result
}

type lease interface {
	Acquire(ctx context.Context) (token string, ok bool, err error)
	Release(ctx context.Context, token string) error
}

// Worker runs the sync engine every interval until its context is
// cancelled. The redis lease keeps a manually triggered cycle and the timer
// from interleaving.
type Worker struct {
	engine   engine
	lock     lease
	logger   *logging.Logger
	interval time.Duration
}

func New(e engine, lock lease, logger *logging.Logger) *Worker {
	if logger == nil {
		logger = logging.Default()
	}
	return &Worker{
		engine:   e,
		lock:     lock,
		logger:   logger.Named("syncworker"),
		interval: 15 * time.Minute,
	}
}

func (w *Worker) WithInterval(d time.Duration) *Worker {
	if d > 0 {
		w.interval = d
	}
	return w
}

func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	w.cycle(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.cycle(ctx)
		}
	}
}

func (w *Worker) cycle(ctx context.Context) {
	if w.engine == nil {
		return
	}
	if w.lock != nil {
		token, acquired, err := w.lock.Acquire(ctx)
		if err != nil {
			w.logger.Error("sync lease acquire failed", "error", err)
			return
		}
		if !acquired {
			w.logger.Info("sync cycle skipped, lease held elsewhere")
			return
		}
		defer func() {
			if err := w.lock.Release(ctx, token); err != nil {
				w.logger.Warn("sync lease release failed", "error", err)
			}
		}()
	}

	res := w.engine.Run(ctx, "")
	if !res.Pull.OK {
		w.logger.Warn("scheduled sync pull failed", "error", res.Pull.Error, "timeout", res.Pull.Timeout)
	}
}
