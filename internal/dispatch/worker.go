package dispatch

import (
	"context"
	"time"

	"courier/internal/config"
	"courier/internal/logger"
	"courier/internal/message"
	pkgerrors "courier/pkg/errors"
	"courier/pkg/metrics"
)

// Worker runs the polling loop. Workers share no in-process state; all
// coordination happens through the store, so any number of them can run
// against the same queue.
type Worker struct {
	processor *Processor
	repo      message.Repository
	cfg       config.DispatchConfig
	logger    logger.Logger
}

func NewWorker(processor *Processor, repo message.Repository, cfg config.DispatchConfig, log logger.Logger) *Worker {
	return &Worker{
		processor: processor,
		repo:      repo,
		cfg:       cfg,
		logger:    log,
	}
}

// Run polls until the context is cancelled. Each iteration performs at most
// one claim-and-process cycle; a single message's failure never halts the
// loop.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Infow("Dispatch worker started",
		"poll_interval", w.cfg.PollInterval,
		"idle_poll_interval", w.cfg.IdlePollInterval,
		"max_attempts", w.cfg.MaxAttempts,
	)

	for {
		processed := w.iterate(ctx)

		sleep := w.cfg.IdlePollInterval
		if processed {
			sleep = w.cfg.PollInterval
		}

		select {
		case <-ctx.Done():
			w.logger.Infow("Dispatch worker stopped", "reason", "context canceled")
			return ctx.Err()
		case <-time.After(sleep):
		}
	}
}

func (w *Worker) iterate(ctx context.Context) (processed bool) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.ErrorwCtx(ctx, "Panic recovered in dispatch iteration",
				"error", pkgerrors.RecoverPanic(r),
			)
		}
	}()

	processed, err := w.processor.ProcessOne(ctx)
	if err != nil && ctx.Err() == nil {
		w.logger.ErrorwCtx(ctx, "Dispatch iteration failed", "error", err)
	}
	return processed
}

// RunReaper periodically returns rows stuck in sending past the claim
// lease back to the queue, and refreshes the queue depth gauge. A row goes
// stale when a worker dies between claiming and committing an outcome.
func (w *Worker) RunReaper(ctx context.Context) error {
	interval := w.cfg.ClaimLease / 2
	if interval <= 0 {
		interval = 30 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			cutoff := time.Now().Add(-w.cfg.ClaimLease)
			requeued, err := w.repo.RequeueStaleClaims(ctx, cutoff)
			if err != nil {
				if ctx.Err() == nil {
					w.logger.ErrorwCtx(ctx, "Failed to requeue stale claims", "error", err)
				}
				continue
			}
			if requeued > 0 {
				metrics.DispatchStaleRequeuedTotal.Add(float64(requeued))
				w.logger.Warnw("Requeued stale claims", "count", requeued)
			}

			depth, err := w.repo.CountEligible(ctx)
			if err != nil {
				if ctx.Err() == nil {
					w.logger.ErrorwCtx(ctx, "Failed to count eligible messages", "error", err)
				}
				continue
			}
			metrics.SetDispatchQueueDepth(depth)
		}
	}
}
