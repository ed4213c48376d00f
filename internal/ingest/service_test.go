package ingest

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"courier/internal/broker"
	"courier/internal/config"
	"courier/internal/logger"
	"courier/internal/message"
	pkgerrors "courier/pkg/errors"
)

type fakeRepo struct {
	stored     map[string]string // natural key -> id
	insertErr  error
	nextID     string
	insertions int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{stored: make(map[string]string), nextID: "generated-id"}
}

func (r *fakeRepo) InsertInbound(ctx context.Context, cm message.CanonicalMessage) (string, bool, error) {
	if r.insertErr != nil {
		return "", false, r.insertErr
	}
	key := cm.Source + "/" + cm.SourceMessageID
	if id, ok := r.stored[key]; ok {
		return id, true, nil
	}
	r.insertions++
	r.stored[key] = r.nextID
	return r.nextID, false, nil
}

func (r *fakeRepo) EnqueueOutbound(ctx context.Context, req message.EnqueueRequest) (*message.Message, error) {
	return nil, nil
}

func (r *fakeRepo) ClaimNext(ctx context.Context) (*message.Message, bool, error) {
	return nil, false, nil
}

func (r *fakeRepo) MarkSent(ctx context.Context, id string) error { return nil }

func (r *fakeRepo) Requeue(ctx context.Context, id string, nextAttemptAt time.Time, lastError string) error {
	return nil
}

func (r *fakeRepo) MarkPermanentlyFailed(ctx context.Context, id string, lastError string) error {
	return nil
}

func (r *fakeRepo) RecordAttempt(ctx context.Context, attempt *message.Attempt) error { return nil }

func (r *fakeRepo) GetMessage(ctx context.Context, id string) (*message.Message, error) {
	return nil, nil
}

func (r *fakeRepo) ListAttempts(ctx context.Context, messageID string) ([]message.Attempt, error) {
	return nil, nil
}

func (r *fakeRepo) CountBreakerSkips(ctx context.Context, messageID string) (int, error) {
	return 0, nil
}

func (r *fakeRepo) RequeueStaleClaims(ctx context.Context, claimedBefore time.Time) (int64, error) {
	return 0, nil
}

func (r *fakeRepo) CountEligible(ctx context.Context) (int, error) { return 0, nil }

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

func validCanonical() message.CanonicalMessage {
	return message.CanonicalMessage{
		Source:          "twilio",
		SourceMessageID: "SM123",
		FromAddress:     "+27824537125",
		Body:            "help",
		Timestamp:       time.Now(),
	}
}

func newTestService(repo message.Repository, producer broker.Producer) Service {
	return NewService(repo, producer, config.BrokerConfig{}, logger.NopLogger())
}

func TestIngest_NewMessage(t *testing.T) {
	repo := newFakeRepo()
	producer := &recordingProducer{}
	svc := newTestService(repo, producer)

	result, err := svc.Ingest(context.Background(), validCanonical())
	require.NoError(t, err)
	assert.Equal(t, "generated-id", result.StoredID)
	assert.False(t, result.Idempotent)

	require.Len(t, producer.events, 1)
	assert.Equal(t, broker.EventIngestedOK, producer.events[0].Type)
	assert.Equal(t, "generated-id", producer.events[0].MessageID)
}

func TestIngest_DuplicateReturnsSameID(t *testing.T) {
	repo := newFakeRepo()
	producer := &recordingProducer{}
	svc := newTestService(repo, producer)
	ctx := context.Background()

	first, err := svc.Ingest(ctx, validCanonical())
	require.NoError(t, err)
	assert.False(t, first.Idempotent)

	second, err := svc.Ingest(ctx, validCanonical())
	require.NoError(t, err)
	assert.True(t, second.Idempotent)
	assert.Equal(t, first.StoredID, second.StoredID)

	// Only the first ingestion writes a row and an audit event.
	assert.Equal(t, 1, repo.insertions)
	assert.Len(t, producer.events, 1)
}

func TestIngest_Validation(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*message.CanonicalMessage)
		wantField string
	}{
		{"missing source", func(cm *message.CanonicalMessage) { cm.Source = "" }, "source"},
		{"blank source", func(cm *message.CanonicalMessage) { cm.Source = "   " }, "source"},
		{"missing source_message_id", func(cm *message.CanonicalMessage) { cm.SourceMessageID = "" }, "source_message_id"},
		{"missing from_address", func(cm *message.CanonicalMessage) { cm.FromAddress = "" }, "from_address"},
		{"malformed from_address", func(cm *message.CanonicalMessage) { cm.FromAddress = "not-a-number" }, "from_address"},
		{"missing body", func(cm *message.CanonicalMessage) { cm.Body = "" }, "body"},
		{"whitespace body", func(cm *message.CanonicalMessage) { cm.Body = "   " }, "body"},
		{"oversized body", func(cm *message.CanonicalMessage) { cm.Body = strings.Repeat("x", 1025) }, "body"},
		{"oversized multibyte body", func(cm *message.CanonicalMessage) { cm.Body = strings.Repeat("ä", 1025) }, "body"},
		{"zero timestamp", func(cm *message.CanonicalMessage) { cm.Timestamp = time.Time{} }, "timestamp"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newFakeRepo()
			producer := &recordingProducer{}
			svc := newTestService(repo, producer)

			cm := validCanonical()
			tt.mutate(&cm)

			_, err := svc.Ingest(context.Background(), cm)
			require.Error(t, err)
			assert.True(t, pkgerrors.IsValidation(err))

			var appErr *pkgerrors.Error
			require.ErrorAs(t, err, &appErr)
			assert.Equal(t, tt.wantField, appErr.Details["field"])

			assert.Zero(t, repo.insertions)
			assert.Empty(t, producer.events)
		})
	}
}

func TestIngest_BodyLimitCountsRunes(t *testing.T) {
	// 600 two-byte characters are 1200 bytes but well under the 1024
	// character cap.
	repo := newFakeRepo()
	svc := newTestService(repo, &recordingProducer{})

	cm := validCanonical()
	cm.Body = strings.Repeat("ü", 600)

	_, err := svc.Ingest(context.Background(), cm)
	require.NoError(t, err)
	assert.Equal(t, 1, repo.insertions)
}

func TestIngest_BodyTrimmed(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, &recordingProducer{})

	cm := validCanonical()
	cm.Body = "  help  "

	_, err := svc.Ingest(context.Background(), cm)
	require.NoError(t, err)
}

func TestIngest_StoreErrorPropagates(t *testing.T) {
	repo := newFakeRepo()
	repo.insertErr = pkgerrors.ErrStore
	producer := &recordingProducer{}
	svc := newTestService(repo, producer)

	_, err := svc.Ingest(context.Background(), validCanonical())
	require.Error(t, err)
	assert.True(t, pkgerrors.IsStore(err))
	assert.Empty(t, producer.events)
}
