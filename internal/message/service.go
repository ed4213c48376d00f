package message

import (
	"context"
	"strings"
	"unicode/utf8"

	"courier/internal/constants"
	"courier/internal/logger"
	pkgerrors "courier/pkg/errors"
	"courier/pkg/metrics"
)

// StatusCache is the read-through cache used by the status query. Satisfied
// by internal/statuscache; may be nil when Redis is not configured.
type StatusCache interface {
	Get(ctx context.Context, id string) (*StatusView, bool, error)
	Set(ctx context.Context, view *StatusView) error
}

type Service interface {
	Enqueue(ctx context.Context, req EnqueueRequest) (*Message, error)
	GetStatus(ctx context.Context, id string) (*StatusView, error)
}

type service struct {
	repo   Repository
	cache  StatusCache
	logger logger.Logger
}

func NewService(repo Repository, cache StatusCache, log logger.Logger) Service {
	return &service{
		repo:   repo,
		cache:  cache,
		logger: log,
	}
}

func (s *service) Enqueue(ctx context.Context, req EnqueueRequest) (*Message, error) {
	if err := validateEnqueueRequest(&req); err != nil {
		return nil, err
	}

	msg, err := s.repo.EnqueueOutbound(ctx, req)
	if err != nil {
		return nil, err
	}

	s.logger.InfowCtx(ctx, "Outbound message enqueued",
		"message_id", msg.ID,
		"to_address", msg.ToAddress,
		"templated", msg.Template != nil,
	)

	return msg, nil
}

func validateEnqueueRequest(req *EnqueueRequest) error {
	if !IsPhoneAddress(req.ToAddress) {
		return pkgerrors.Validation("to_address", "must be an E.164-like phone number")
	}

	req.Body = strings.TrimSpace(req.Body)
	hasBody := req.Body != ""
	hasTemplate := req.Template != nil

	switch {
	case hasBody && hasTemplate:
		return pkgerrors.Validation("body", "body and template are mutually exclusive")
	case !hasBody && !hasTemplate:
		return pkgerrors.Validation("body", "either body or template is required")
	}

	if hasBody && utf8.RuneCountInString(req.Body) > constants.MaxBodyLen {
		return pkgerrors.Validation("body", "must be at most 1024 characters")
	}

	if hasTemplate {
		if req.Template.Name == "" {
			return pkgerrors.Validation("template.name", "is required")
		}
		if req.Template.Language == "" {
			return pkgerrors.Validation("template.language", "is required")
		}
	}

	return nil
}

func (s *service) GetStatus(ctx context.Context, id string) (*StatusView, error) {
	if s.cache != nil {
		view, found, err := s.cache.Get(ctx, id)
		if err != nil {
			metrics.StatusCacheRequestsTotal.WithLabelValues("error").Inc()
			s.logger.WarnwCtx(ctx, "Status cache lookup failed, falling back to store",
				"error", err,
				"message_id", id,
			)
		} else if found {
			metrics.StatusCacheRequestsTotal.WithLabelValues("hit").Inc()
			return view, nil
		} else {
			metrics.StatusCacheRequestsTotal.WithLabelValues("miss").Inc()
		}
	}

	msg, err := s.repo.GetMessage(ctx, id)
	if err != nil {
		return nil, err
	}

	attempts, err := s.repo.ListAttempts(ctx, id)
	if err != nil {
		return nil, err
	}

	view := &StatusView{
		ID:            msg.ID,
		Status:        msg.Status,
		AttemptCount:  msg.AttemptCount,
		LastError:     msg.LastError,
		LastErrorAt:   msg.LastErrorAt,
		NextAttemptAt: msg.NextAttemptAt,
		CreatedAt:     msg.CreatedAt,
		Attempts:      attempts,
	}

	if s.cache != nil && view.Status.IsTerminal() {
		if err := s.cache.Set(ctx, view); err != nil {
			s.logger.WarnwCtx(ctx, "Failed to cache terminal status",
				"error", err,
				"message_id", id,
			)
		}
	}

	return view, nil
}
