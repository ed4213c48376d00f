package dispatch

import (
	"context"
	"errors"
	"time"

	"courier/internal/bridge"
	"courier/internal/config"
	"courier/internal/logger"
	"courier/internal/message"
	"courier/pkg/logging"
	"courier/pkg/metrics"
)

// Breaker is the persisted circuit breaker gate; satisfied by
// internal/breaker.Service.
type Breaker interface {
	Allow(ctx context.Context) (bool, error)
	RecordOutcome(ctx context.Context, success bool) error
}

// Emitter records terminal failures; satisfied by internal/deadletter.Emitter.
type Emitter interface {
	Emit(ctx context.Context, msg *message.Message, last *message.Attempt)
}

// Processor runs one claim-and-process cycle of the retry scheduler.
type Processor struct {
	repo    message.Repository
	bridge  bridge.Client
	breaker Breaker
	emitter Emitter
	backoff *Backoff
	cfg     config.DispatchConfig
	logger  logger.Logger

	now func() time.Time
}

func NewProcessor(
	repo message.Repository,
	bridgeClient bridge.Client,
	breaker Breaker,
	emitter Emitter,
	backoff *Backoff,
	cfg config.DispatchConfig,
	log logger.Logger,
) *Processor {
	return &Processor{
		repo:    repo,
		bridge:  bridgeClient,
		breaker: breaker,
		emitter: emitter,
		backoff: backoff,
		cfg:     cfg,
		logger:  log,
		now:     time.Now,
	}
}

// ProcessOne claims at most one eligible outbound row and processes it.
// Reports whether a row was claimed; errors concern only that row, the
// caller keeps polling either way.
func (p *Processor) ProcessOne(ctx context.Context) (bool, error) {
	msg, claimed, err := p.repo.ClaimNext(ctx)
	if err != nil {
		return false, err
	}
	if !claimed {
		return false, nil
	}

	ctx = logging.WithMessageID(ctx, msg.ID)
	ctx = logging.WithAttempt(ctx, msg.AttemptCount)
	return true, p.processClaimed(ctx, msg)
}

func (p *Processor) processClaimed(ctx context.Context, msg *message.Message) error {
	allowed, err := p.breaker.Allow(ctx)
	if err != nil {
		// Breaker row unreadable; requeue and let a later poll decide.
		if reqErr := p.repo.Requeue(ctx, msg.ID, p.now().Add(p.cfg.OpenRetryDelay), ""); reqErr != nil {
			p.logger.ErrorwCtx(ctx, "Failed to requeue after breaker read error", "error", reqErr)
		}
		return err
	}

	if !allowed {
		return p.skipBreakerOpen(ctx, msg)
	}

	start := p.now()
	externalID, sendErr := p.bridge.Send(ctx, msg)
	latency := p.now().Sub(start)

	attempt := &message.Attempt{
		MessageID:     msg.ID,
		AttemptNumber: msg.AttemptCount,
		LatencyMS:     latency.Milliseconds(),
	}

	if sendErr == nil {
		return p.finishSuccess(ctx, msg, attempt, externalID, latency)
	}

	exhausted := p.deliveryAttempts(ctx, msg) >= p.cfg.MaxAttempts

	var dlvErr *bridge.DeliveryError
	if !errors.As(sendErr, &dlvErr) {
		// Not a gateway outcome (marshalling, request build); retryable,
		// but not a breaker signal. The cap still applies: a broken
		// bridge URL must not retry forever.
		if exhausted {
			attempt.Outcome = message.OutcomeFail
		} else {
			attempt.Outcome = message.OutcomeRetry
		}
		p.record(ctx, attempt)
		metrics.DispatchAttemptsTotal.WithLabelValues(string(attempt.Outcome)).Inc()
		metrics.ObserveAttemptDuration(latency, string(attempt.Outcome))

		if attempt.Outcome == message.OutcomeFail {
			return p.finishPermanentFailure(ctx, msg, attempt, sendErr.Error())
		}
		return p.requeueRetry(ctx, msg, sendErr.Error(), latency)
	}

	attempt.HTTPCode = dlvErr.StatusCode
	attempt.ErrorKind = dlvErr.Kind
	attempt.ResponseExcerpt = dlvErr.ResponseExcerpt

	if !dlvErr.Retryable() || exhausted {
		attempt.Outcome = message.OutcomeFail
	} else {
		attempt.Outcome = message.OutcomeRetry
	}

	p.record(ctx, attempt)
	if err := p.breaker.RecordOutcome(ctx, false); err != nil {
		p.logger.ErrorwCtx(ctx, "Failed to record breaker outcome", "error", err)
	}

	metrics.DispatchAttemptsTotal.WithLabelValues(string(attempt.Outcome)).Inc()
	metrics.ObserveAttemptDuration(latency, string(attempt.Outcome))

	if attempt.Outcome == message.OutcomeFail {
		return p.finishPermanentFailure(ctx, msg, attempt, dlvErr.Error())
	}
	return p.requeueRetry(ctx, msg, dlvErr.Error(), latency)
}

// deliveryAttempts is the number of claims that actually reached (or tried
// to reach) the gateway. Claims skipped on an open breaker increment
// attempt_count like any other claim but are discounted here, so an
// unhealthy downstream can never exhaust a message on its own.
func (p *Processor) deliveryAttempts(ctx context.Context, msg *message.Message) int {
	skips, err := p.repo.CountBreakerSkips(ctx, msg.ID)
	if err != nil {
		p.logger.ErrorwCtx(ctx, "Failed to count breaker skips", "error", err)
		return msg.AttemptCount
	}
	return msg.AttemptCount - skips
}

func (p *Processor) skipBreakerOpen(ctx context.Context, msg *message.Message) error {
	attempt := &message.Attempt{
		MessageID:     msg.ID,
		AttemptNumber: msg.AttemptCount,
		Outcome:       message.OutcomeBreakerOpen,
	}
	p.record(ctx, attempt)
	metrics.DispatchAttemptsTotal.WithLabelValues(string(message.OutcomeBreakerOpen)).Inc()

	// The claim incremented attempt_count, but deliveryAttempts discounts
	// breaker_open rows, so the skip does not burn retry budget. The row
	// goes back to queued after the open-retry delay.
	next := p.now().Add(p.cfg.OpenRetryDelay)
	if err := p.repo.Requeue(ctx, msg.ID, next, ""); err != nil {
		return err
	}

	p.logger.InfowCtx(ctx, "Dispatch skipped, breaker open",
		"attempt_number", msg.AttemptCount,
		"next_attempt_at", next,
	)
	return nil
}

func (p *Processor) finishSuccess(ctx context.Context, msg *message.Message, attempt *message.Attempt, externalID string, latency time.Duration) error {
	attempt.Outcome = message.OutcomeSuccess
	p.record(ctx, attempt)
	if err := p.breaker.RecordOutcome(ctx, true); err != nil {
		p.logger.ErrorwCtx(ctx, "Failed to record breaker outcome", "error", err)
	}

	metrics.DispatchAttemptsTotal.WithLabelValues(string(message.OutcomeSuccess)).Inc()
	metrics.ObserveAttemptDuration(latency, string(message.OutcomeSuccess))

	if err := p.repo.MarkSent(ctx, msg.ID); err != nil {
		return err
	}

	p.logger.InfowCtx(ctx, "Message delivered",
		"attempt_number", attempt.AttemptNumber,
		"external_message_id", externalID,
		"latency_ms", attempt.LatencyMS,
	)
	return nil
}

func (p *Processor) finishPermanentFailure(ctx context.Context, msg *message.Message, attempt *message.Attempt, lastError string) error {
	if err := p.repo.MarkPermanentlyFailed(ctx, msg.ID, lastError); err != nil {
		return err
	}
	msg.Status = message.StatusPermanentlyFailed
	msg.LastError = lastError

	p.emitter.Emit(ctx, msg, attempt)

	p.logger.WarnwCtx(ctx, "Message permanently failed",
		"attempt_number", attempt.AttemptNumber,
		"error_kind", attempt.ErrorKind,
		"http_code", attempt.HTTPCode,
	)
	return nil
}

func (p *Processor) requeueRetry(ctx context.Context, msg *message.Message, lastError string, latency time.Duration) error {
	next := p.now().Add(p.backoff.NextDelay(msg.AttemptCount))
	if err := p.repo.Requeue(ctx, msg.ID, next, lastError); err != nil {
		return err
	}

	p.logger.InfowCtx(ctx, "Message requeued for retry",
		"attempt_number", msg.AttemptCount,
		"next_attempt_at", next,
		"latency_ms", latency.Milliseconds(),
	)
	return nil
}

// record appends the attempt row. Failing to write audit must not stop the
// status transition; the claim and each status update are individually
// atomic.
func (p *Processor) record(ctx context.Context, attempt *message.Attempt) {
	if err := p.repo.RecordAttempt(ctx, attempt); err != nil {
		p.logger.ErrorwCtx(ctx, "Failed to record attempt",
			"error", err,
			"attempt_number", attempt.AttemptNumber,
		)
	}
}
