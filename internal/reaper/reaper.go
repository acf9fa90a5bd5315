// Copyright 2025 James Ross

// Package reaper runs a periodic background sweep that moves stalled
// in-flight jobs and recently-failed jobs back to queued, the
// always-on counterpart to the jobqueue-admin requeue command.
package reaper

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/rivergate/jobqueue/internal/config"
	"github.com/rivergate/jobqueue/internal/obs"
	"github.com/rivergate/jobqueue/internal/queue"
)

// Reaper periodically calls backend.Requeue so a worker that dies
// mid-job doesn't strand its claim forever.
type Reaper struct {
	cfg     *config.Config
	backend queue.Backend
	log     *zap.Logger
}

// New builds a Reaper over backend, using cfg.Worker.ReaperInterval as
// the sweep cadence and cfg.Worker.StalledAfter as the age cutoff.
func New(cfg *config.Config, backend queue.Backend, log *zap.Logger) *Reaper {
	return &Reaper{cfg: cfg, backend: backend, log: log}
}

// Run blocks until ctx is cancelled, sweeping every ReaperInterval.
func (r *Reaper) Run(ctx context.Context) {
	interval := r.cfg.Worker.ReaperInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweepOnce(ctx)
		}
	}
}

func (r *Reaper) sweepOnce(ctx context.Context) {
	// Requeue works in whole minutes, so a sub-minute StalledAfter
	// truncates to 0 and every in-flight job counts as stalled. An unset
	// StalledAfter falls back to 5 minutes.
	ageMinutes := int(r.cfg.Worker.StalledAfter / time.Minute)
	if r.cfg.Worker.StalledAfter <= 0 {
		ageMinutes = 5
	}
	if err := r.backend.Requeue(ctx, ageMinutes); err != nil {
		r.log.Warn("reaper sweep failed", obs.Err(err))
		return
	}
	r.log.Debug("reaper sweep completed", obs.Int("stalled_after_minutes", ageMinutes))
}
