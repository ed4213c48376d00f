package integration

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"courier/internal/broker"
	"courier/internal/config"
	"courier/internal/ingest"
	"courier/internal/message"
	"courier/internal/statuscache"
)

func TestIngestService_EndToEnd(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, true, false)

	ctx := context.Background()
	repo := message.NewRepository(infra.PostgresDB)
	svc := ingest.NewService(repo, broker.NopProducer{}, config.BrokerConfig{}, createTestLogger())

	result, err := svc.Ingest(ctx, createTestCanonical("twilio", "SM-e2e-1"))
	require.NoError(t, err)
	assert.False(t, result.Idempotent)

	replay, err := svc.Ingest(ctx, createTestCanonical("twilio", "SM-e2e-1"))
	require.NoError(t, err)
	assert.True(t, replay.Idempotent)
	assert.Equal(t, result.StoredID, replay.StoredID)

	stored, err := repo.GetMessage(ctx, result.StoredID)
	require.NoError(t, err)
	assert.Equal(t, message.DirectionInbound, stored.Direction)
	assert.Equal(t, "twilio", stored.Source)
	assert.Equal(t, "SM-e2e-1", stored.SourceMessageID)
}

func TestMessageService_StatusReadThroughCache(t *testing.T) {
	infra := SetupTestInfra(t)

	ctx := context.Background()
	repo := message.NewRepository(infra.PostgresDB)
	cache := statuscache.NewRedisCache(infra.RedisClient, time.Minute)
	svc := message.NewService(repo, cache, createTestLogger())

	enqueued, err := svc.Enqueue(ctx, createTestEnqueueRequest("status me"))
	require.NoError(t, err)

	// Non-terminal status comes from the store and is not cached.
	view, err := svc.GetStatus(ctx, enqueued.ID)
	require.NoError(t, err)
	assert.Equal(t, message.StatusQueued, view.Status)

	_, found, err := cache.Get(ctx, enqueued.ID)
	require.NoError(t, err)
	assert.False(t, found)

	// Drive the row to a terminal status; the next read populates the
	// cache.
	claimed, _, err := repo.ClaimNext(ctx)
	require.NoError(t, err)
	require.NoError(t, repo.MarkSent(ctx, claimed.ID))

	view, err = svc.GetStatus(ctx, enqueued.ID)
	require.NoError(t, err)
	assert.Equal(t, message.StatusSent, view.Status)

	cached, found, err := cache.Get(ctx, enqueued.ID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, message.StatusSent, cached.Status)
}
