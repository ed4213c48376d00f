package message

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"courier/internal/constants"
	pkgerrors "courier/pkg/errors"
)

const pqUniqueViolation = "23505"

type Repository interface {
	// InsertInbound persists a canonical inbound record exactly once per
	// (source, source_message_id) pair. The uniqueness check rides on the
	// store's unique constraint, never on a separate read.
	InsertInbound(ctx context.Context, cm CanonicalMessage) (id string, idempotent bool, err error)

	EnqueueOutbound(ctx context.Context, req EnqueueRequest) (*Message, error)

	// ClaimNext atomically claims at most one eligible outbound row: the
	// row is moved to status=sending and its attempt_count incremented in
	// the same statement that selects it, so two concurrent workers can
	// never claim the same row.
	ClaimNext(ctx context.Context) (*Message, bool, error)

	MarkSent(ctx context.Context, id string) error
	Requeue(ctx context.Context, id string, nextAttemptAt time.Time, lastError string) error
	MarkPermanentlyFailed(ctx context.Context, id string, lastError string) error

	RecordAttempt(ctx context.Context, attempt *Attempt) error

	GetMessage(ctx context.Context, id string) (*Message, error)
	ListAttempts(ctx context.Context, messageID string) ([]Attempt, error)

	// CountBreakerSkips returns how many of a message's claims were
	// skipped on an open breaker. Those claims do not count against the
	// retry budget.
	CountBreakerSkips(ctx context.Context, messageID string) (int, error)

	// RequeueStaleClaims returns rows stuck in sending (a worker died
	// mid-attempt) to the queue once their claim lease has expired.
	RequeueStaleClaims(ctx context.Context, claimedBefore time.Time) (int64, error)

	CountEligible(ctx context.Context) (int, error)
}

type PostgresRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) InsertInbound(ctx context.Context, cm CanonicalMessage) (string, bool, error) {
	id := uuid.New().String()

	meta, err := marshalMeta(cm.Meta)
	if err != nil {
		return "", false, fmt.Errorf("failed to encode meta: %w", err)
	}

	query := `
		INSERT INTO messages (id, source, source_message_id, direction, from_address, body, meta, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err = r.db.ExecContext(ctx, query,
		id, cm.Source, cm.SourceMessageID, DirectionInbound,
		cm.FromAddress, cm.Body, meta, cm.Timestamp,
	)
	if err == nil {
		return id, false, nil
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
		existingID, lookupErr := r.lookupByNaturalKey(ctx, cm.Source, cm.SourceMessageID)
		if lookupErr != nil {
			return "", false, lookupErr
		}
		return existingID, true, nil
	}

	return "", false, pkgerrors.ErrStore.WithCause(err)
}

func (r *PostgresRepository) lookupByNaturalKey(ctx context.Context, source, sourceMessageID string) (string, error) {
	query := `SELECT id FROM messages WHERE source = $1 AND source_message_id = $2`

	var id string
	err := r.db.QueryRowContext(ctx, query, source, sourceMessageID).Scan(&id)
	if err != nil {
		return "", pkgerrors.ErrStore.WithCause(err)
	}
	return id, nil
}

func (r *PostgresRepository) EnqueueOutbound(ctx context.Context, req EnqueueRequest) (*Message, error) {
	now := time.Now().UTC()
	msg := &Message{
		ID:            uuid.New().String(),
		Source:        constants.OutboundSource,
		Direction:     DirectionOutbound,
		ToAddress:     req.ToAddress,
		Body:          req.Body,
		Status:        StatusQueued,
		NextAttemptAt: &now,
		Template:      req.Template,
		CreatedAt:     now,
	}
	// Outbound rows have no upstream event; the row id keeps the natural
	// key unique.
	msg.SourceMessageID = msg.ID

	var templateName, templateLanguage sql.NullString
	var templateComponents []byte
	if req.Template != nil {
		templateName = sql.NullString{String: req.Template.Name, Valid: true}
		templateLanguage = sql.NullString{String: req.Template.Language, Valid: true}
		if len(req.Template.Components) > 0 {
			b, err := json.Marshal(req.Template.Components)
			if err != nil {
				return nil, fmt.Errorf("failed to encode template components: %w", err)
			}
			templateComponents = b
		}
	}

	query := `
		INSERT INTO messages (id, source, source_message_id, direction, to_address, body, status,
			attempt_count, next_attempt_at, template_name, template_language, template_components, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 0, $8, $9, $10, $11, $12)
	`

	_, err := r.db.ExecContext(ctx, query,
		msg.ID, msg.Source, msg.SourceMessageID, msg.Direction,
		msg.ToAddress, msg.Body, msg.Status, now,
		templateName, templateLanguage, templateComponents, now,
	)
	if err != nil {
		return nil, pkgerrors.ErrStore.WithCause(err)
	}

	return msg, nil
}

func (r *PostgresRepository) ClaimNext(ctx context.Context) (*Message, bool, error) {
	query := `
		UPDATE messages
		SET status = $1, attempt_count = attempt_count + 1, claimed_at = now()
		WHERE id = (
			SELECT id FROM messages
			WHERE direction = $2 AND status = $3 AND next_attempt_at <= now()
			ORDER BY next_attempt_at, created_at
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING id, to_address, body, attempt_count, template_name, template_language, template_components, created_at
	`

	var (
		msg                            Message
		toAddress, body                sql.NullString
		templateName, templateLanguage sql.NullString
		templateComponents             []byte
	)

	err := r.db.QueryRowContext(ctx, query, StatusSending, DirectionOutbound, StatusQueued).Scan(
		&msg.ID, &toAddress, &body, &msg.AttemptCount,
		&templateName, &templateLanguage, &templateComponents, &msg.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, pkgerrors.ErrStore.WithCause(err)
	}

	msg.Direction = DirectionOutbound
	msg.Status = StatusSending
	msg.ToAddress = toAddress.String
	msg.Body = body.String

	if templateName.Valid {
		tmpl := &TemplateSpec{
			Name:     templateName.String,
			Language: templateLanguage.String,
		}
		if len(templateComponents) > 0 {
			if err := json.Unmarshal(templateComponents, &tmpl.Components); err != nil {
				return nil, false, fmt.Errorf("failed to decode template components for message %s: %w", msg.ID, err)
			}
		}
		msg.Template = tmpl
	}

	return &msg, true, nil
}

func (r *PostgresRepository) MarkSent(ctx context.Context, id string) error {
	query := `
		UPDATE messages
		SET status = $1, next_attempt_at = NULL, claimed_at = NULL
		WHERE id = $2 AND status = $3
	`

	return r.finish(ctx, query, id, StatusSent, StatusSending)
}

func (r *PostgresRepository) Requeue(ctx context.Context, id string, nextAttemptAt time.Time, lastError string) error {
	query := `
		UPDATE messages
		SET status = $1, next_attempt_at = $4,
			last_error = COALESCE(NULLIF($5, ''), last_error),
			last_error_at = CASE WHEN $5 = '' THEN last_error_at ELSE now() END,
			claimed_at = NULL
		WHERE id = $2 AND status = $3
	`

	res, err := r.db.ExecContext(ctx, query, StatusQueued, id, StatusSending, nextAttemptAt.UTC(), lastError)
	if err != nil {
		return pkgerrors.ErrStore.WithCause(err)
	}
	return requireRow(res, id)
}

func (r *PostgresRepository) MarkPermanentlyFailed(ctx context.Context, id string, lastError string) error {
	query := `
		UPDATE messages
		SET status = $1, next_attempt_at = NULL, last_error = $4, last_error_at = now(), claimed_at = NULL
		WHERE id = $2 AND status = $3
	`

	res, err := r.db.ExecContext(ctx, query, StatusPermanentlyFailed, id, StatusSending, lastError)
	if err != nil {
		return pkgerrors.ErrStore.WithCause(err)
	}
	return requireRow(res, id)
}

func (r *PostgresRepository) finish(ctx context.Context, query, id string, to, from Status) error {
	res, err := r.db.ExecContext(ctx, query, to, id, from)
	if err != nil {
		return pkgerrors.ErrStore.WithCause(err)
	}
	return requireRow(res, id)
}

func requireRow(res sql.Result, id string) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return pkgerrors.ErrNotFound.WithDetail("message", fmt.Sprintf("message %s not in expected status", id))
	}
	return nil
}

func (r *PostgresRepository) RecordAttempt(ctx context.Context, attempt *Attempt) error {
	attempt.CreatedAt = time.Now().UTC()

	query := `
		INSERT INTO attempts (message_id, attempt_number, http_code, outcome, latency_ms, error_kind, response_excerpt, created_at)
		VALUES ($1, $2, NULLIF($3, 0), $4, $5, NULLIF($6, ''), NULLIF($7, ''), $8)
		RETURNING id
	`

	err := r.db.QueryRowContext(ctx, query,
		attempt.MessageID, attempt.AttemptNumber, attempt.HTTPCode,
		attempt.Outcome, attempt.LatencyMS, attempt.ErrorKind,
		attempt.ResponseExcerpt, attempt.CreatedAt,
	).Scan(&attempt.ID)
	if err != nil {
		return pkgerrors.ErrStore.WithCause(err)
	}
	return nil
}

func (r *PostgresRepository) GetMessage(ctx context.Context, id string) (*Message, error) {
	query := `
		SELECT id, source, source_message_id, direction, from_address, to_address, body, status,
			attempt_count, next_attempt_at, last_error, last_error_at,
			template_name, template_language, template_components, meta, created_at
		FROM messages
		WHERE id = $1
	`

	row := r.db.QueryRowContext(ctx, query, id)

	var (
		msg                                            Message
		fromAddress, toAddress, body, status, lastErr  sql.NullString
		nextAttemptAt, lastErrorAt                     sql.NullTime
		templateName, templateLanguage                 sql.NullString
		templateComponents, meta                       []byte
	)

	err := row.Scan(
		&msg.ID, &msg.Source, &msg.SourceMessageID, &msg.Direction,
		&fromAddress, &toAddress, &body, &status,
		&msg.AttemptCount, &nextAttemptAt, &lastErr, &lastErrorAt,
		&templateName, &templateLanguage, &templateComponents, &meta, &msg.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, pkgerrors.ErrNotFound.WithDetail("message", fmt.Sprintf("message %s not found", id))
	}
	if err != nil {
		return nil, pkgerrors.ErrStore.WithCause(err)
	}

	msg.FromAddress = fromAddress.String
	msg.ToAddress = toAddress.String
	msg.Body = body.String
	msg.Status = Status(status.String)
	msg.LastError = lastErr.String
	if nextAttemptAt.Valid {
		t := nextAttemptAt.Time
		msg.NextAttemptAt = &t
	}
	if lastErrorAt.Valid {
		t := lastErrorAt.Time
		msg.LastErrorAt = &t
	}
	if templateName.Valid {
		tmpl := &TemplateSpec{Name: templateName.String, Language: templateLanguage.String}
		if len(templateComponents) > 0 {
			if err := json.Unmarshal(templateComponents, &tmpl.Components); err != nil {
				return nil, fmt.Errorf("failed to decode template components for message %s: %w", id, err)
			}
		}
		msg.Template = tmpl
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &msg.Meta); err != nil {
			return nil, fmt.Errorf("failed to decode meta for message %s: %w", id, err)
		}
	}

	return &msg, nil
}

func (r *PostgresRepository) ListAttempts(ctx context.Context, messageID string) ([]Attempt, error) {
	query := `
		SELECT id, message_id, attempt_number, http_code, outcome, latency_ms, error_kind, response_excerpt, created_at
		FROM attempts
		WHERE message_id = $1
		ORDER BY attempt_number, id
	`

	rows, err := r.db.QueryContext(ctx, query, messageID)
	if err != nil {
		return nil, pkgerrors.ErrStore.WithCause(err)
	}
	defer rows.Close()

	var attempts []Attempt
	for rows.Next() {
		var (
			a                          Attempt
			httpCode                   sql.NullInt64
			errorKind, responseExcerpt sql.NullString
		)
		if err := rows.Scan(
			&a.ID, &a.MessageID, &a.AttemptNumber, &httpCode,
			&a.Outcome, &a.LatencyMS, &errorKind, &responseExcerpt, &a.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan attempt: %w", err)
		}
		a.HTTPCode = int(httpCode.Int64)
		a.ErrorKind = errorKind.String
		a.ResponseExcerpt = responseExcerpt.String
		attempts = append(attempts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, pkgerrors.ErrStore.WithCause(err)
	}

	return attempts, nil
}

func (r *PostgresRepository) CountBreakerSkips(ctx context.Context, messageID string) (int, error) {
	query := `SELECT count(*) FROM attempts WHERE message_id = $1 AND outcome = $2`

	var count int
	if err := r.db.QueryRowContext(ctx, query, messageID, OutcomeBreakerOpen).Scan(&count); err != nil {
		return 0, pkgerrors.ErrStore.WithCause(err)
	}
	return count, nil
}

func (r *PostgresRepository) RequeueStaleClaims(ctx context.Context, claimedBefore time.Time) (int64, error) {
	query := `
		UPDATE messages
		SET status = $1, next_attempt_at = now(), claimed_at = NULL
		WHERE status = $2 AND claimed_at < $3
	`

	res, err := r.db.ExecContext(ctx, query, StatusQueued, StatusSending, claimedBefore.UTC())
	if err != nil {
		return 0, pkgerrors.ErrStore.WithCause(err)
	}
	return res.RowsAffected()
}

func (r *PostgresRepository) CountEligible(ctx context.Context) (int, error) {
	query := `
		SELECT count(*) FROM messages
		WHERE direction = $1 AND status = $2 AND next_attempt_at <= now()
	`

	var count int
	if err := r.db.QueryRowContext(ctx, query, DirectionOutbound, StatusQueued).Scan(&count); err != nil {
		return 0, pkgerrors.ErrStore.WithCause(err)
	}
	return count, nil
}

func marshalMeta(meta map[string]interface{}) ([]byte, error) {
	if len(meta) == 0 {
		return nil, nil
	}
	return json.Marshal(meta)
}
