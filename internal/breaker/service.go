package breaker

import (
	"context"
	"time"

	"github.com/google/uuid"

	"courier/internal/broker"
	"courier/internal/config"
	"courier/internal/constants"
	"courier/internal/logger"
	"courier/pkg/metrics"
)

// Service implements the persisted circuit breaker shared by all dispatch
// workers. State transitions are linearizable: every write is a conditional
// update keyed on the row version, a lost race is retried once and then the
// outcome is dropped rather than double-counted.
type Service struct {
	repo     Repository
	cfg      config.BreakerConfig
	producer broker.Producer
	topic    string
	logger   logger.Logger

	now func() time.Time
}

func NewService(repo Repository, cfg config.BreakerConfig, producer broker.Producer, topic string, log logger.Logger) *Service {
	if topic == "" {
		topic = constants.DefaultAuditTopic
	}
	return &Service{
		repo:     repo,
		cfg:      cfg,
		producer: producer,
		topic:    topic,
		logger:   log,
		now:      time.Now,
	}
}

// Allow reports whether a dispatch attempt may proceed. An open breaker
// whose cooldown has elapsed is promoted to half_open (counters reset)
// before returning true; losing that promotion race to another worker is
// fine, the winner's state decides.
func (s *Service) Allow(ctx context.Context) (bool, error) {
	st, err := s.repo.Get(ctx, s.cfg.Service)
	if err != nil {
		return false, err
	}

	if st.State != StateOpen {
		return true, nil
	}

	if st.OpenedAt == nil || s.now().Sub(*st.OpenedAt) < s.cfg.Cooldown {
		return false, nil
	}

	next := *st
	next.State = StateHalfOpen
	next.FailureCount = 0
	next.SuccessCount = 0

	swapped, err := s.repo.CompareAndSwap(ctx, &next)
	if err != nil {
		return false, err
	}
	if swapped {
		s.observeTransition(ctx, st.State, next.State)
		return true, nil
	}

	// Another worker moved the row first; act on whatever it chose.
	current, err := s.repo.Get(ctx, s.cfg.Service)
	if err != nil {
		return false, err
	}
	return current.State != StateOpen, nil
}

// RecordOutcome applies one delivery outcome to the breaker row.
func (s *Service) RecordOutcome(ctx context.Context, success bool) error {
	for attempt := 0; attempt < 2; attempt++ {
		st, err := s.repo.Get(ctx, s.cfg.Service)
		if err != nil {
			return err
		}

		next, changed := s.transition(st, success)
		if !changed {
			return nil
		}

		swapped, err := s.repo.CompareAndSwap(ctx, next)
		if err != nil {
			return err
		}
		if swapped {
			if next.State != st.State {
				s.observeTransition(ctx, st.State, next.State)
			}
			return nil
		}
	}

	metrics.BreakerDroppedOutcomesTotal.WithLabelValues(s.cfg.Service).Inc()
	s.logger.WarnwCtx(ctx, "Dropped breaker outcome after losing conditional update race",
		"service", s.cfg.Service,
		"success", success,
	)
	return nil
}

// transition computes the successor state. Outcomes arriving while the
// breaker is open are not recorded; those attempts should have been blocked
// by Allow.
func (s *Service) transition(st *BreakerState, success bool) (*BreakerState, bool) {
	next := *st

	switch st.State {
	case StateClosed:
		if success {
			if st.FailureCount == 0 {
				return nil, false
			}
			next.FailureCount = 0
			return &next, true
		}
		next.FailureCount++
		if next.FailureCount >= s.cfg.FailureThreshold {
			now := s.now().UTC()
			next.State = StateOpen
			next.FailureCount = 0
			next.SuccessCount = 0
			next.OpenedAt = &now
		}
		return &next, true

	case StateHalfOpen:
		if success {
			next.SuccessCount++
			if next.SuccessCount >= s.cfg.SuccessThreshold {
				next.State = StateClosed
				next.FailureCount = 0
				next.SuccessCount = 0
				next.OpenedAt = nil
			}
			return &next, true
		}
		now := s.now().UTC()
		next.State = StateOpen
		next.FailureCount = 0
		next.SuccessCount = 0
		next.OpenedAt = &now
		return &next, true

	default:
		return nil, false
	}
}

// Snapshot returns the current breaker row for the status endpoint.
func (s *Service) Snapshot(ctx context.Context) (*BreakerState, error) {
	st, err := s.repo.Get(ctx, s.cfg.Service)
	if err != nil {
		return nil, err
	}
	metrics.SetBreakerState(st.Service, st.State.Code())
	return st, nil
}

func (s *Service) observeTransition(ctx context.Context, from, to State) {
	metrics.IncBreakerTransition(s.cfg.Service, string(from), string(to))
	metrics.SetBreakerState(s.cfg.Service, to.Code())
	s.logger.InfowCtx(ctx, "Breaker state transition",
		"service", s.cfg.Service,
		"from", from,
		"to", to,
	)

	if s.producer == nil {
		return
	}
	event := broker.Event{
		ID:         uuid.New().String(),
		Type:       broker.EventBreakerStateChanged,
		OccurredAt: s.now().UTC(),
		Payload: map[string]interface{}{
			"service": s.cfg.Service,
			"from":    string(from),
			"to":      string(to),
		},
	}
	if err := s.producer.Publish(ctx, s.topic, event); err != nil {
		s.logger.ErrorwCtx(ctx, "Failed to publish breaker transition event",
			"error", err,
			"service", s.cfg.Service,
		)
	}
}
