package integration

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"courier/internal/breaker"
	"courier/internal/bridge"
	"courier/internal/broker"
	"courier/internal/config"
	"courier/internal/deadletter"
	"courier/internal/dispatch"
	"courier/internal/message"
)

type recordingEmitter struct {
	emitted []string
}

func (e *recordingEmitter) Emit(ctx context.Context, msg *message.Message, last *message.Attempt) {
	e.emitted = append(e.emitted, msg.ID)
}

func newDispatchProcessor(t *testing.T, infra *TestInfra, gatewayURL string, emitter dispatch.Emitter) (*dispatch.Processor, message.Repository) {
	t.Helper()

	cfg := createTestDispatchConfig()
	schedule, err := config.ParseRetrySchedule(cfg.RetrySchedule)
	require.NoError(t, err)

	repo := message.NewRepository(infra.PostgresDB)
	breakerSvc := breaker.NewService(
		breaker.NewRepository(infra.PostgresDB),
		createTestBreakerConfig(),
		nil, "",
		createTestLogger(),
	)
	client := bridge.NewHTTPClient(config.BridgeConfig{
		URL:     gatewayURL,
		APIKey:  "test-key",
		Timeout: 5 * time.Second,
	}, createTestLogger())

	processor := dispatch.NewProcessor(
		repo, client, breakerSvc, emitter,
		dispatch.NewBackoff(schedule, cfg.JitterMax),
		cfg, createTestLogger(),
	)
	return processor, repo
}

func TestDispatchFlow_SuccessfulDelivery(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, true, false)
	ctx := context.Background()

	var requests int64
	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&requests, 1)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"message_id":"ext-1"}`))
	}))
	defer gateway.Close()

	emitter := &recordingEmitter{}
	processor, repo := newDispatchProcessor(t, infra, gateway.URL, emitter)

	enqueued, err := repo.EnqueueOutbound(ctx, createTestEnqueueRequest("deliver me"))
	require.NoError(t, err)

	processed, err := processor.ProcessOne(ctx)
	require.NoError(t, err)
	assert.True(t, processed)
	assert.EqualValues(t, 1, atomic.LoadInt64(&requests))

	stored, err := repo.GetMessage(ctx, enqueued.ID)
	require.NoError(t, err)
	assert.Equal(t, message.StatusSent, stored.Status)
	assert.Equal(t, 1, stored.AttemptCount)
	assert.Empty(t, emitter.emitted)

	attempts, err := repo.ListAttempts(ctx, enqueued.ID)
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	assert.Equal(t, message.OutcomeSuccess, attempts[0].Outcome)
}

func TestDispatchFlow_ServerErrorRequeuesWithBackoff(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, true, false)
	ctx := context.Background()

	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"upstream exploded"}`))
	}))
	defer gateway.Close()

	emitter := &recordingEmitter{}
	processor, repo := newDispatchProcessor(t, infra, gateway.URL, emitter)

	enqueued, err := repo.EnqueueOutbound(ctx, createTestEnqueueRequest("retry me"))
	require.NoError(t, err)

	before := time.Now()
	processed, err := processor.ProcessOne(ctx)
	require.NoError(t, err)
	assert.True(t, processed)

	stored, err := repo.GetMessage(ctx, enqueued.ID)
	require.NoError(t, err)
	assert.Equal(t, message.StatusQueued, stored.Status)
	assert.Equal(t, 1, stored.AttemptCount)
	assert.Contains(t, stored.LastError, "server_error")
	require.NotNil(t, stored.NextAttemptAt)
	assert.WithinDuration(t, before.Add(time.Second), *stored.NextAttemptAt, 500*time.Millisecond)
	assert.Empty(t, emitter.emitted)

	attempts, err := repo.ListAttempts(ctx, enqueued.ID)
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	assert.Equal(t, message.OutcomeRetry, attempts[0].Outcome)
	assert.Equal(t, 500, attempts[0].HTTPCode)
	assert.Equal(t, "server_error", attempts[0].ErrorKind)
}

func TestDispatchFlow_ClientErrorDeadLettersImmediately(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, true, false)
	ctx := context.Background()

	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"unknown recipient"}`))
	}))
	defer gateway.Close()

	emitter := &recordingEmitter{}
	processor, repo := newDispatchProcessor(t, infra, gateway.URL, emitter)

	enqueued, err := repo.EnqueueOutbound(ctx, createTestEnqueueRequest("doomed"))
	require.NoError(t, err)

	processed, err := processor.ProcessOne(ctx)
	require.NoError(t, err)
	assert.True(t, processed)

	stored, err := repo.GetMessage(ctx, enqueued.ID)
	require.NoError(t, err)
	assert.Equal(t, message.StatusPermanentlyFailed, stored.Status)
	assert.Equal(t, 1, stored.AttemptCount)
	assert.Equal(t, []string{enqueued.ID}, emitter.emitted)
}

func TestDispatchFlow_ExhaustionDeadLetters(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, true, false)
	ctx := context.Background()

	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer gateway.Close()

	emitter := &recordingEmitter{}
	processor, repo := newDispatchProcessor(t, infra, gateway.URL, emitter)

	enqueued, err := repo.EnqueueOutbound(ctx, createTestEnqueueRequest("exhaust me"))
	require.NoError(t, err)

	// Four attempts total; each requeue is reset to due so the next
	// ProcessOne claims the same row again.
	for i := 0; i < 4; i++ {
		processed, err := processor.ProcessOne(ctx)
		require.NoError(t, err)
		require.True(t, processed, "attempt %d", i+1)

		if i < 3 {
			makeDue(t, infra, enqueued.ID)
		}
	}

	stored, err := repo.GetMessage(ctx, enqueued.ID)
	require.NoError(t, err)
	assert.Equal(t, message.StatusPermanentlyFailed, stored.Status)
	assert.Equal(t, 4, stored.AttemptCount)
	assert.Equal(t, []string{enqueued.ID}, emitter.emitted)

	attempts, err := repo.ListAttempts(ctx, enqueued.ID)
	require.NoError(t, err)
	require.Len(t, attempts, 4)
	assert.Equal(t, message.OutcomeRetry, attempts[0].Outcome)
	assert.Equal(t, message.OutcomeFail, attempts[3].Outcome)

	// The row stays down; further polls find nothing.
	processed, err := processor.ProcessOne(ctx)
	require.NoError(t, err)
	assert.False(t, processed)
}

func TestDispatchFlow_BreakerTripsAndSkips(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, true, false)
	ctx := context.Background()

	var requests int64
	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&requests, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer gateway.Close()

	emitter := &recordingEmitter{}
	processor, repo := newDispatchProcessor(t, infra, gateway.URL, emitter)

	// Three failing deliveries on separate messages trip the breaker.
	for i := 0; i < 3; i++ {
		_, err := repo.EnqueueOutbound(ctx, createTestEnqueueRequest("tripping"))
		require.NoError(t, err)

		processed, err := processor.ProcessOne(ctx)
		require.NoError(t, err)
		require.True(t, processed)
	}
	assert.EqualValues(t, 3, atomic.LoadInt64(&requests))

	breakerRepo := breaker.NewRepository(infra.PostgresDB)
	st, err := breakerRepo.Get(ctx, "chat-gateway")
	require.NoError(t, err)
	assert.Equal(t, breaker.StateOpen, st.State)

	// Park the failed rows so the next claim is deterministic.
	_, err = infra.PostgresDB.Exec(
		`UPDATE messages SET next_attempt_at = now() + interval '1 hour' WHERE status = 'queued'`,
	)
	require.NoError(t, err)

	// The next message is skipped without touching the gateway and keeps
	// its attempt budget intact.
	skipped, err := repo.EnqueueOutbound(ctx, createTestEnqueueRequest("held back"))
	require.NoError(t, err)

	processed, err := processor.ProcessOne(ctx)
	require.NoError(t, err)
	assert.True(t, processed)
	assert.EqualValues(t, 3, atomic.LoadInt64(&requests))

	stored, err := repo.GetMessage(ctx, skipped.ID)
	require.NoError(t, err)
	assert.Equal(t, message.StatusQueued, stored.Status)
	assert.Empty(t, stored.LastError)

	attempts, err := repo.ListAttempts(ctx, skipped.ID)
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	assert.Equal(t, message.OutcomeBreakerOpen, attempts[0].Outcome)
	assert.Empty(t, emitter.emitted)
}

// makeDue forces the row's next_attempt_at into the past so the scheduler
// picks it up without sleeping through the real backoff.
func makeDue(t *testing.T, infra *TestInfra, id string) {
	t.Helper()
	_, err := infra.PostgresDB.Exec(
		`UPDATE messages SET next_attempt_at = now() - interval '1 second' WHERE id = $1`,
		id,
	)
	require.NoError(t, err)
}

func TestDeadLetterEmitter_PublishesOnExhaustion(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, true, false)
	ctx := context.Background()

	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"error":"template rejected"}`))
	}))
	defer gateway.Close()

	producer := &capturingProducer{}
	emitter := deadletter.NewEmitter(
		config.DeadLetterConfig{Enabled: true},
		config.BrokerConfig{},
		producer,
		nil,
		createTestLogger(),
	)
	processor, repo := newDispatchProcessor(t, infra, gateway.URL, emitter)

	enqueued, err := repo.EnqueueOutbound(ctx, createTestEnqueueRequest("rejected"))
	require.NoError(t, err)

	processed, err := processor.ProcessOne(ctx)
	require.NoError(t, err)
	assert.True(t, processed)

	require.Len(t, producer.events, 1)
	assert.Equal(t, broker.EventDeadLetter, producer.events[0].Type)
	assert.Equal(t, enqueued.ID, producer.events[0].MessageID)

	rec, ok := producer.events[0].Payload["message"].(deadletter.Record)
	require.True(t, ok)
	assert.Equal(t, 422, rec.HTTPCode)
	assert.Equal(t, "client_error", rec.ErrorKind)
	assert.Contains(t, rec.ResponseExcerpt, "template rejected")
}

type capturingProducer struct {
	events []broker.Event
}

func (p *capturingProducer) Publish(ctx context.Context, topic string, event broker.Event) error {
	p.events = append(p.events, event)
	return nil
}

func (p *capturingProducer) Close() error { return nil }
