package breaker

import (
	"context"
	"database/sql"
	"errors"

	pkgerrors "courier/pkg/errors"
)

type Repository interface {
	// Get returns the row for the given service, creating it in the
	// closed state on first use.
	Get(ctx context.Context, service string) (*BreakerState, error)

	// CompareAndSwap writes the given state only if the stored version
	// still matches state.Version. Reports whether the write won.
	CompareAndSwap(ctx context.Context, state *BreakerState) (bool, error)
}

type PostgresRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Get(ctx context.Context, service string) (*BreakerState, error) {
	insert := `
		INSERT INTO breaker_state (service, state, failure_count, success_count, updated_at, version)
		VALUES ($1, $2, 0, 0, now(), 1)
		ON CONFLICT (service) DO NOTHING
	`
	if _, err := r.db.ExecContext(ctx, insert, service, StateClosed); err != nil {
		return nil, pkgerrors.ErrStore.WithCause(err)
	}

	query := `
		SELECT service, state, failure_count, success_count, opened_at, updated_at, version
		FROM breaker_state
		WHERE service = $1
	`

	var (
		st       BreakerState
		state    string
		openedAt sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, query, service).Scan(
		&st.Service, &state, &st.FailureCount, &st.SuccessCount,
		&openedAt, &st.UpdatedAt, &st.Version,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, pkgerrors.ErrNotFound.WithDetail("message", "breaker row missing after create")
	}
	if err != nil {
		return nil, pkgerrors.ErrStore.WithCause(err)
	}

	st.State = State(state)
	if openedAt.Valid {
		t := openedAt.Time
		st.OpenedAt = &t
	}

	return &st, nil
}

func (r *PostgresRepository) CompareAndSwap(ctx context.Context, state *BreakerState) (bool, error) {
	query := `
		UPDATE breaker_state
		SET state = $1, failure_count = $2, success_count = $3, opened_at = $4, updated_at = now(), version = version + 1
		WHERE service = $5 AND version = $6
	`

	var openedAt sql.NullTime
	if state.OpenedAt != nil {
		openedAt = sql.NullTime{Time: state.OpenedAt.UTC(), Valid: true}
	}

	res, err := r.db.ExecContext(ctx, query,
		state.State, state.FailureCount, state.SuccessCount,
		openedAt, state.Service, state.Version,
	)
	if err != nil {
		return false, pkgerrors.ErrStore.WithCause(err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}
