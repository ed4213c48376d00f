package breaker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"courier/internal/broker"
	"courier/internal/config"
	"courier/internal/constants"
	"courier/internal/logger"
)

// fakeRepository keeps the row in memory and honors the version check the
// same way the Postgres implementation does.
type fakeRepository struct {
	state     BreakerState
	failSwaps int // number of upcoming CompareAndSwap calls to reject
	swapCalls int
}

func newFakeRepository(service string) *fakeRepository {
	return &fakeRepository{
		state: BreakerState{
			Service:   service,
			State:     StateClosed,
			UpdatedAt: time.Now(),
			Version:   1,
		},
	}
}

func (r *fakeRepository) Get(ctx context.Context, service string) (*BreakerState, error) {
	st := r.state
	return &st, nil
}

func (r *fakeRepository) CompareAndSwap(ctx context.Context, state *BreakerState) (bool, error) {
	r.swapCalls++
	if r.failSwaps > 0 {
		r.failSwaps--
		r.state.Version++ // someone else won
		return false, nil
	}
	if state.Version != r.state.Version {
		return false, nil
	}
	r.state = *state
	r.state.Version++
	r.state.UpdatedAt = time.Now()
	return true, nil
}

func testConfig() config.BreakerConfig {
	return config.BreakerConfig{
		Service:          "chat-gateway",
		FailureThreshold: 3,
		Cooldown:         time.Minute,
		SuccessThreshold: 2,
	}
}

func newTestService(repo Repository) *Service {
	return NewService(repo, testConfig(), nil, "", logger.NopLogger())
}

func TestAllow_ClosedAndHalfOpen(t *testing.T) {
	repo := newFakeRepository("chat-gateway")
	svc := newTestService(repo)

	allowed, err := svc.Allow(context.Background())
	require.NoError(t, err)
	assert.True(t, allowed)

	repo.state.State = StateHalfOpen
	allowed, err = svc.Allow(context.Background())
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestRecordOutcome_ClosedFailuresOpenAtThreshold(t *testing.T) {
	repo := newFakeRepository("chat-gateway")
	svc := newTestService(repo)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		require.NoError(t, svc.RecordOutcome(ctx, false))
		assert.Equal(t, StateClosed, repo.state.State)
	}
	assert.Equal(t, 2, repo.state.FailureCount)

	require.NoError(t, svc.RecordOutcome(ctx, false))
	assert.Equal(t, StateOpen, repo.state.State)
	assert.Zero(t, repo.state.FailureCount)
	assert.Zero(t, repo.state.SuccessCount)
	require.NotNil(t, repo.state.OpenedAt)
}

func TestRecordOutcome_ClosedSuccessResetsFailures(t *testing.T) {
	repo := newFakeRepository("chat-gateway")
	svc := newTestService(repo)
	ctx := context.Background()

	require.NoError(t, svc.RecordOutcome(ctx, false))
	assert.Equal(t, 1, repo.state.FailureCount)

	require.NoError(t, svc.RecordOutcome(ctx, true))
	assert.Zero(t, repo.state.FailureCount)
	assert.Equal(t, StateClosed, repo.state.State)
}

func TestRecordOutcome_ClosedSuccessAtZeroFailuresSkipsWrite(t *testing.T) {
	repo := newFakeRepository("chat-gateway")
	svc := newTestService(repo)

	require.NoError(t, svc.RecordOutcome(context.Background(), true))
	assert.Zero(t, repo.swapCalls)
}

func TestAllow_OpenBeforeCooldown(t *testing.T) {
	repo := newFakeRepository("chat-gateway")
	svc := newTestService(repo)

	openedAt := time.Now().Add(-10 * time.Second)
	repo.state.State = StateOpen
	repo.state.OpenedAt = &openedAt

	allowed, err := svc.Allow(context.Background())
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Equal(t, StateOpen, repo.state.State)
}

func TestAllow_OpenAfterCooldownPromotesHalfOpen(t *testing.T) {
	repo := newFakeRepository("chat-gateway")
	svc := newTestService(repo)

	openedAt := time.Now().Add(-2 * time.Minute)
	repo.state.State = StateOpen
	repo.state.OpenedAt = &openedAt
	repo.state.FailureCount = 5

	allowed, err := svc.Allow(context.Background())
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.Equal(t, StateHalfOpen, repo.state.State)
	assert.Zero(t, repo.state.FailureCount)
	assert.Zero(t, repo.state.SuccessCount)
}

func TestAllow_LostPromotionRaceFollowsWinner(t *testing.T) {
	repo := newFakeRepository("chat-gateway")
	svc := newTestService(repo)

	openedAt := time.Now().Add(-2 * time.Minute)
	repo.state.State = StateOpen
	repo.state.OpenedAt = &openedAt
	repo.failSwaps = 1

	// The fake rejects the swap but leaves the row open, as if the winner
	// had re-opened it; the caller must respect that.
	allowed, err := svc.Allow(context.Background())
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestRecordOutcome_HalfOpenSuccessesClose(t *testing.T) {
	repo := newFakeRepository("chat-gateway")
	svc := newTestService(repo)
	ctx := context.Background()

	repo.state.State = StateHalfOpen

	require.NoError(t, svc.RecordOutcome(ctx, true))
	assert.Equal(t, StateHalfOpen, repo.state.State)
	assert.Equal(t, 1, repo.state.SuccessCount)

	require.NoError(t, svc.RecordOutcome(ctx, true))
	assert.Equal(t, StateClosed, repo.state.State)
	assert.Zero(t, repo.state.FailureCount)
	assert.Zero(t, repo.state.SuccessCount)
	assert.Nil(t, repo.state.OpenedAt)
}

func TestRecordOutcome_HalfOpenFailureReopens(t *testing.T) {
	repo := newFakeRepository("chat-gateway")
	svc := newTestService(repo)

	repo.state.State = StateHalfOpen
	repo.state.SuccessCount = 1

	require.NoError(t, svc.RecordOutcome(context.Background(), false))
	assert.Equal(t, StateOpen, repo.state.State)
	assert.Zero(t, repo.state.FailureCount)
	assert.Zero(t, repo.state.SuccessCount)
	require.NotNil(t, repo.state.OpenedAt)
}

func TestRecordOutcome_OpenOutcomesNotRecorded(t *testing.T) {
	repo := newFakeRepository("chat-gateway")
	svc := newTestService(repo)

	openedAt := time.Now()
	repo.state.State = StateOpen
	repo.state.OpenedAt = &openedAt

	require.NoError(t, svc.RecordOutcome(context.Background(), false))
	assert.Zero(t, repo.swapCalls)
}

func TestRecordOutcome_RetriesLostRaceOnce(t *testing.T) {
	repo := newFakeRepository("chat-gateway")
	svc := newTestService(repo)

	repo.failSwaps = 1
	require.NoError(t, svc.RecordOutcome(context.Background(), false))
	assert.Equal(t, 2, repo.swapCalls)
	assert.Equal(t, 1, repo.state.FailureCount)
}

func TestRecordOutcome_DropsAfterSecondLostRace(t *testing.T) {
	repo := newFakeRepository("chat-gateway")
	svc := newTestService(repo)

	repo.failSwaps = 2
	require.NoError(t, svc.RecordOutcome(context.Background(), false))
	assert.Equal(t, 2, repo.swapCalls)
	assert.Zero(t, repo.state.FailureCount)
}

type recordingProducer struct {
	events []broker.Event
	topics []string
}

func (p *recordingProducer) Publish(ctx context.Context, topic string, event broker.Event) error {
	p.events = append(p.events, event)
	p.topics = append(p.topics, topic)
	return nil
}

func (p *recordingProducer) Close() error { return nil }

func TestTransitionEvent_DefaultTopic(t *testing.T) {
	repo := newFakeRepository("chat-gateway")
	producer := &recordingProducer{}
	svc := NewService(repo, testConfig(), producer, "", logger.NopLogger())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, svc.RecordOutcome(ctx, false))
	}

	require.Len(t, producer.events, 1)
	assert.Equal(t, broker.EventBreakerStateChanged, producer.events[0].Type)
	assert.Equal(t, constants.DefaultAuditTopic, producer.topics[0])
}

func TestBreakerScenario_FullCycle(t *testing.T) {
	repo := newFakeRepository("chat-gateway")
	svc := newTestService(repo)
	ctx := context.Background()

	// Threshold consecutive failures while closed trip the breaker.
	for i := 0; i < 3; i++ {
		require.NoError(t, svc.RecordOutcome(ctx, false))
	}
	assert.Equal(t, StateOpen, repo.state.State)

	// Cooldown elapses; the next Allow promotes to half_open.
	past := time.Now().Add(-2 * time.Minute)
	repo.state.OpenedAt = &past

	allowed, err := svc.Allow(ctx)
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.Equal(t, StateHalfOpen, repo.state.State)

	// Success-threshold consecutive successes close it again.
	require.NoError(t, svc.RecordOutcome(ctx, true))
	require.NoError(t, svc.RecordOutcome(ctx, true))
	assert.Equal(t, StateClosed, repo.state.State)
	assert.Zero(t, repo.state.FailureCount)
	assert.Zero(t, repo.state.SuccessCount)
}
