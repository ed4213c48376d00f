package integration

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"courier/internal/message"
	pkgerrors "courier/pkg/errors"
)

func TestMessageRepository_InsertInbound_Idempotent(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, true, false)

	ctx := context.Background()
	repo := message.NewRepository(infra.PostgresDB)

	cm := createTestCanonical("twilio", "SM-idem-1")

	id1, idempotent, err := repo.InsertInbound(ctx, cm)
	require.NoError(t, err)
	assert.False(t, idempotent)
	assert.NotEmpty(t, id1)

	// Replay with a different body still maps to the original row.
	cm.Body = "retransmitted body"
	id2, idempotent, err := repo.InsertInbound(ctx, cm)
	require.NoError(t, err)
	assert.True(t, idempotent)
	assert.Equal(t, id1, id2)

	stored, err := repo.GetMessage(ctx, id1)
	require.NoError(t, err)
	assert.Equal(t, "inbound body", stored.Body)
	assert.Equal(t, message.DirectionInbound, stored.Direction)
}

func TestMessageRepository_InsertInbound_DistinctSources(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, true, false)

	ctx := context.Background()
	repo := message.NewRepository(infra.PostgresDB)

	id1, _, err := repo.InsertInbound(ctx, createTestCanonical("twilio", "SM-1"))
	require.NoError(t, err)

	// Same source id from another provider is a different message.
	id2, idempotent, err := repo.InsertInbound(ctx, createTestCanonical("infobip", "SM-1"))
	require.NoError(t, err)
	assert.False(t, idempotent)
	assert.NotEqual(t, id1, id2)
}

func TestMessageRepository_EnqueueAndClaim(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, true, false)

	ctx := context.Background()
	repo := message.NewRepository(infra.PostgresDB)

	enqueued, err := repo.EnqueueOutbound(ctx, createTestEnqueueRequest("hello"))
	require.NoError(t, err)
	assert.Equal(t, message.StatusQueued, enqueued.Status)
	assert.Zero(t, enqueued.AttemptCount)

	claimed, found, err := repo.ClaimNext(ctx)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, enqueued.ID, claimed.ID)
	assert.Equal(t, message.StatusSending, claimed.Status)
	assert.Equal(t, 1, claimed.AttemptCount)
	assert.Equal(t, "hello", claimed.Body)

	// The queue is empty while the claim is held.
	_, found, err = repo.ClaimNext(ctx)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, repo.MarkSent(ctx, claimed.ID))

	stored, err := repo.GetMessage(ctx, claimed.ID)
	require.NoError(t, err)
	assert.Equal(t, message.StatusSent, stored.Status)
	assert.Nil(t, stored.NextAttemptAt)
}

func TestMessageRepository_ClaimOrdering(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, true, false)

	ctx := context.Background()
	repo := message.NewRepository(infra.PostgresDB)

	first, err := repo.EnqueueOutbound(ctx, createTestEnqueueRequest("first"))
	require.NoError(t, err)
	time.Sleep(timestampDelay)
	second, err := repo.EnqueueOutbound(ctx, createTestEnqueueRequest("second"))
	require.NoError(t, err)

	claimed, found, err := repo.ClaimNext(ctx)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, first.ID, claimed.ID)

	claimed, found, err = repo.ClaimNext(ctx)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, second.ID, claimed.ID)
}

func TestMessageRepository_ClaimExclusivity(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, true, false)

	ctx := context.Background()
	repo := message.NewRepository(infra.PostgresDB)

	const rows = 5
	const workers = 10

	for i := 0; i < rows; i++ {
		_, err := repo.EnqueueOutbound(ctx, createTestEnqueueRequest("contended"))
		require.NoError(t, err)
	}

	var mu sync.Mutex
	claimedIDs := make(map[string]int)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				msg, found, err := repo.ClaimNext(ctx)
				require.NoError(t, err)
				if !found {
					return
				}
				mu.Lock()
				claimedIDs[msg.ID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, claimedIDs, rows)
	for id, count := range claimedIDs {
		assert.Equal(t, 1, count, "message %s claimed more than once", id)
	}
}

func TestMessageRepository_RequeueFutureKeepsRowOutOfQueue(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, true, false)

	ctx := context.Background()
	repo := message.NewRepository(infra.PostgresDB)

	enqueued, err := repo.EnqueueOutbound(ctx, createTestEnqueueRequest("retry me"))
	require.NoError(t, err)

	claimed, found, err := repo.ClaimNext(ctx)
	require.NoError(t, err)
	require.True(t, found)

	require.NoError(t, repo.Requeue(ctx, claimed.ID, time.Now().Add(time.Hour), "HTTP 500: server_error"))

	_, found, err = repo.ClaimNext(ctx)
	require.NoError(t, err)
	assert.False(t, found)

	stored, err := repo.GetMessage(ctx, enqueued.ID)
	require.NoError(t, err)
	assert.Equal(t, message.StatusQueued, stored.Status)
	assert.Equal(t, 1, stored.AttemptCount)
	assert.Equal(t, "HTTP 500: server_error", stored.LastError)
	require.NotNil(t, stored.LastErrorAt)
}

func TestMessageRepository_RequeueDueRowIsClaimableAgain(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, true, false)

	ctx := context.Background()
	repo := message.NewRepository(infra.PostgresDB)

	enqueued, err := repo.EnqueueOutbound(ctx, createTestEnqueueRequest("retry me"))
	require.NoError(t, err)

	claimed, _, err := repo.ClaimNext(ctx)
	require.NoError(t, err)
	require.NoError(t, repo.Requeue(ctx, claimed.ID, time.Now().Add(-time.Second), "HTTP 500: server_error"))

	claimed2, found, err := repo.ClaimNext(ctx)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, enqueued.ID, claimed2.ID)
	assert.Equal(t, 2, claimed2.AttemptCount)
}

func TestMessageRepository_RequeueKeepsLastErrorOnEmptyString(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, true, false)

	ctx := context.Background()
	repo := message.NewRepository(infra.PostgresDB)

	enqueued, err := repo.EnqueueOutbound(ctx, createTestEnqueueRequest("breaker skip"))
	require.NoError(t, err)

	claimed, _, err := repo.ClaimNext(ctx)
	require.NoError(t, err)
	require.NoError(t, repo.Requeue(ctx, claimed.ID, time.Now().Add(-time.Second), "HTTP 500: server_error"))

	// Breaker-open requeues pass an empty error; the previous one must
	// survive.
	claimed, _, err = repo.ClaimNext(ctx)
	require.NoError(t, err)
	require.NoError(t, repo.Requeue(ctx, claimed.ID, time.Now().Add(time.Hour), ""))

	stored, err := repo.GetMessage(ctx, enqueued.ID)
	require.NoError(t, err)
	assert.Equal(t, "HTTP 500: server_error", stored.LastError)
}

func TestMessageRepository_TerminalGuards(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, true, false)

	ctx := context.Background()
	repo := message.NewRepository(infra.PostgresDB)

	enqueued, err := repo.EnqueueOutbound(ctx, createTestEnqueueRequest("guarded"))
	require.NoError(t, err)

	// MarkSent on a row that is not in sending is rejected.
	err = repo.MarkSent(ctx, enqueued.ID)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsNotFound(err))

	claimed, _, err := repo.ClaimNext(ctx)
	require.NoError(t, err)
	require.NoError(t, repo.MarkPermanentlyFailed(ctx, claimed.ID, "HTTP 400: client_error"))

	stored, err := repo.GetMessage(ctx, enqueued.ID)
	require.NoError(t, err)
	assert.Equal(t, message.StatusPermanentlyFailed, stored.Status)

	// Terminal rows cannot be claimed or re-finished.
	_, found, err := repo.ClaimNext(ctx)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Error(t, repo.MarkSent(ctx, enqueued.ID))
}

func TestMessageRepository_RequeueStaleClaims(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, true, false)

	ctx := context.Background()
	repo := message.NewRepository(infra.PostgresDB)

	enqueued, err := repo.EnqueueOutbound(ctx, createTestEnqueueRequest("abandoned"))
	require.NoError(t, err)

	_, found, err := repo.ClaimNext(ctx)
	require.NoError(t, err)
	require.True(t, found)

	// A fresh claim is not stale yet.
	requeued, err := repo.RequeueStaleClaims(ctx, time.Now().Add(-time.Minute))
	require.NoError(t, err)
	assert.Zero(t, requeued)

	// A cutoff in the future treats the claim as expired.
	requeued, err = repo.RequeueStaleClaims(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.EqualValues(t, 1, requeued)

	claimed, found, err := repo.ClaimNext(ctx)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, enqueued.ID, claimed.ID)
	assert.Equal(t, 2, claimed.AttemptCount)
}

func TestMessageRepository_RecordAndListAttempts(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, true, false)

	ctx := context.Background()
	repo := message.NewRepository(infra.PostgresDB)

	enqueued, err := repo.EnqueueOutbound(ctx, createTestEnqueueRequest("attempted"))
	require.NoError(t, err)

	first := &message.Attempt{
		MessageID:       enqueued.ID,
		AttemptNumber:   1,
		HTTPCode:        500,
		Outcome:         message.OutcomeRetry,
		LatencyMS:       42,
		ErrorKind:       "server_error",
		ResponseExcerpt: "upstream exploded",
	}
	require.NoError(t, repo.RecordAttempt(ctx, first))
	assert.NotZero(t, first.ID)

	second := &message.Attempt{
		MessageID:     enqueued.ID,
		AttemptNumber: 2,
		Outcome:       message.OutcomeSuccess,
		LatencyMS:     17,
	}
	require.NoError(t, repo.RecordAttempt(ctx, second))

	attempts, err := repo.ListAttempts(ctx, enqueued.ID)
	require.NoError(t, err)
	require.Len(t, attempts, 2)

	assert.Equal(t, 1, attempts[0].AttemptNumber)
	assert.Equal(t, 500, attempts[0].HTTPCode)
	assert.Equal(t, "server_error", attempts[0].ErrorKind)
	assert.Equal(t, "upstream exploded", attempts[0].ResponseExcerpt)

	assert.Equal(t, 2, attempts[1].AttemptNumber)
	assert.Zero(t, attempts[1].HTTPCode)
	assert.Equal(t, message.OutcomeSuccess, attempts[1].Outcome)
}

func TestMessageRepository_CountBreakerSkips(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, true, false)

	ctx := context.Background()
	repo := message.NewRepository(infra.PostgresDB)

	enqueued, err := repo.EnqueueOutbound(ctx, createTestEnqueueRequest("skipped twice"))
	require.NoError(t, err)

	for i, outcome := range []message.Outcome{
		message.OutcomeBreakerOpen,
		message.OutcomeBreakerOpen,
		message.OutcomeRetry,
	} {
		require.NoError(t, repo.RecordAttempt(ctx, &message.Attempt{
			MessageID:     enqueued.ID,
			AttemptNumber: i + 1,
			Outcome:       outcome,
		}))
	}

	count, err := repo.CountBreakerSkips(ctx, enqueued.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	// Other messages' skips are not counted.
	other, err := repo.EnqueueOutbound(ctx, createTestEnqueueRequest("untouched"))
	require.NoError(t, err)
	count, err = repo.CountBreakerSkips(ctx, other.ID)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestMessageRepository_EnqueueTemplated(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, true, false)

	ctx := context.Background()
	repo := message.NewRepository(infra.PostgresDB)

	req := message.EnqueueRequest{
		ToAddress: "+27824537125",
		Template: &message.TemplateSpec{
			Name:     "welcome",
			Language: "en",
			Components: []map[string]interface{}{
				{"type": "body", "parameters": []interface{}{"Thandi"}},
			},
		},
	}

	enqueued, err := repo.EnqueueOutbound(ctx, req)
	require.NoError(t, err)

	claimed, found, err := repo.ClaimNext(ctx)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, enqueued.ID, claimed.ID)
	require.NotNil(t, claimed.Template)
	assert.Equal(t, "welcome", claimed.Template.Name)
	assert.Equal(t, "en", claimed.Template.Language)
	require.Len(t, claimed.Template.Components, 1)
}

func TestMessageRepository_GetMessage_NotFound(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, true, false)

	repo := message.NewRepository(infra.PostgresDB)

	_, err := repo.GetMessage(context.Background(), "00000000-0000-0000-0000-000000000000")
	require.Error(t, err)
	assert.True(t, pkgerrors.IsNotFound(err))
}

func TestMessageRepository_CountEligible(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, true, false)

	ctx := context.Background()
	repo := message.NewRepository(infra.PostgresDB)

	count, err := repo.CountEligible(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)

	for i := 0; i < 3; i++ {
		_, err := repo.EnqueueOutbound(ctx, createTestEnqueueRequest("counted"))
		require.NoError(t, err)
	}

	count, err = repo.CountEligible(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	_, _, err = repo.ClaimNext(ctx)
	require.NoError(t, err)

	count, err = repo.CountEligible(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}
