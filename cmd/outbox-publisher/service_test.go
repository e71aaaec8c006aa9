package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"gorm.io/gorm"

	"github.com/angelmondragon/loaderescrow-backend/pkg/config"
	"github.com/angelmondragon/loaderescrow-backend/pkg/db/models"
	"github.com/angelmondragon/loaderescrow-backend/pkg/enums"
	"github.com/angelmondragon/loaderescrow-backend/pkg/logger"
	"github.com/angelmondragon/loaderescrow-backend/pkg/outbox"
	"github.com/angelmondragon/loaderescrow-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/loaderescrow-backend/pkg/outbox/registry"
)

var fixedNow = time.Date(2026, 10, 14, 9, 30, 0, 0, time.UTC)

func TestDrainContinuesAfterTransientFailure(t *testing.T) {
	first := depositCredited(t, uuid.New())
	second := depositCredited(t, uuid.New())
	repo := &fakeRepo{events: []models.OutboxEvent{first, second}}
	pub := &fakePublisher{results: []publishResult{
		fakePublishResult{err: errors.New("transient")},
		fakePublishResult{},
	}}
	dlq := &fakeDLQRepo{}
	svc := newTestService(t, repo, pub, dlq, nil)

	stats, err := svc.drain(context.Background())
	require.NoError(t, err)
	require.Equal(t, batchStats{fetched: 2, published: 1, retried: 1}, stats)
	require.Equal(t, []uuid.UUID{first.ID}, repo.failed)
	require.Equal(t, []uuid.UUID{second.ID}, repo.published)
	require.Empty(t, dlq.entries)
}

func TestDepositMessageCarriesEscrowAttributes(t *testing.T) {
	owner := uuid.New()
	event := depositCredited(t, owner)
	pub := &fakePublisher{results: []publishResult{fakePublishResult{}}}
	svc := newTestService(t, &fakeRepo{events: []models.OutboxEvent{event}}, pub, &fakeDLQRepo{}, nil)

	_, err := svc.drain(context.Background())
	require.NoError(t, err)
	require.Len(t, pub.sent, 1)

	attrs := pub.sent[0].Attributes
	require.Equal(t, string(enums.EventDepositCredited), attrs["event_type"])
	require.Equal(t, event.AggregateID.String(), attrs["deposit_id"])
	require.Equal(t, owner.String(), attrs["owner_id"])
	require.Equal(t, "0xdep", attrs["tx_hash"])
	require.Equal(t, "125.5", attrs["amount"])
	require.Equal(t, "USDT", attrs["currency"])
	require.Equal(t, severityNotice, attrs["severity"])
	require.JSONEq(t, string(event.Payload), string(pub.sent[0].Data))
}

func TestUnconfirmedWithdrawalIsFlaggedAsAlert(t *testing.T) {
	owner := uuid.New()
	event := withdrawalEvent(t, enums.EventWithdrawalUnconfirmed, owner)
	pub := &fakePublisher{results: []publishResult{fakePublishResult{}}}
	svc := newTestService(t, &fakeRepo{events: []models.OutboxEvent{event}}, pub, &fakeDLQRepo{}, nil)

	_, err := svc.drain(context.Background())
	require.NoError(t, err)
	require.Len(t, pub.sent, 1)

	attrs := pub.sent[0].Attributes
	require.Equal(t, severityAlert, attrs["severity"])
	require.Equal(t, event.AggregateID.String(), attrs["withdrawal_id"])
	require.Equal(t, string(enums.WithdrawalStatusUnconfirmed), attrs["status"])
	require.Equal(t, "0xpay", attrs["tx_hash"])
}

func TestPermanentPublishErrorDeadLettersWithdrawal(t *testing.T) {
	event := withdrawalEvent(t, enums.EventWithdrawalCompleted, uuid.New())
	repo := &fakeRepo{events: []models.OutboxEvent{event}}
	pub := &fakePublisher{results: []publishResult{
		fakePublishResult{err: status.Error(codes.NotFound, "topic deleted")},
	}}
	dlq := &fakeDLQRepo{}
	svc := newTestService(t, repo, pub, dlq, nil)

	stats, err := svc.drain(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, stats.deadLettered)
	require.Empty(t, repo.published)
	require.Equal(t, []uuid.UUID{event.ID}, repo.terminal)
	require.Len(t, dlq.entries, 1)
	require.Equal(t, enums.OutboxDLQReasonNonRetryable, dlq.entries[0].ErrorReason)
	require.Equal(t, enums.AggregateWithdrawal, dlq.entries[0].AggregateType)
	require.Equal(t, fixedNow, dlq.entries[0].FailedAt)
}

func TestUndecodablePayloadIsDeadLetteredWithoutPublishing(t *testing.T) {
	event := models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     enums.EventDepositSwept,
		AggregateType: enums.AggregateDeposit,
		AggregateID:   uuid.New(),
		Payload:       json.RawMessage(`{"version":1,"eventId":"x","data":null}`),
	}
	pub := &fakePublisher{}
	dlq := &fakeDLQRepo{}
	svc := newTestService(t, &fakeRepo{events: []models.OutboxEvent{event}}, pub, dlq, nil)

	_, err := svc.drain(context.Background())
	require.NoError(t, err)
	require.Empty(t, pub.sent)
	require.Len(t, dlq.entries, 1)
	require.Equal(t, event.ID, dlq.entries[0].EventID)
	require.JSONEq(t, string(event.Payload), string(dlq.entries[0].Payload))
	require.Contains(t, *dlq.entries[0].ErrorMessage, "payload missing")
}

func TestSweepExhaustedDeadLettersAfterMaxAttempts(t *testing.T) {
	event := envelopeEvent(t, enums.EventDepositSweepExhausted, enums.AggregateDeposit, payloads.DepositSweepEvent{
		DepositID: uuid.New(),
		SweepID:   uuid.New(),
		Amount:    decimal.NewFromInt(40),
		Attempts:  5,
		Error:     "insufficient gas",
	})
	event.AttemptCount = 1
	pub := &fakePublisher{results: []publishResult{fakePublishResult{err: errors.New("transient")}}}
	dlq := &fakeDLQRepo{}
	svc := newTestService(t, &fakeRepo{events: []models.OutboxEvent{event}}, pub, dlq, &config.OutboxConfig{
		BatchSize:   1,
		MaxAttempts: 2,
	})

	_, err := svc.drain(context.Background())
	require.NoError(t, err)
	require.Len(t, dlq.entries, 1)
	require.Equal(t, enums.OutboxDLQReasonMaxAttempts, dlq.entries[0].ErrorReason)
	require.Contains(t, *dlq.entries[0].ErrorMessage, "max publish attempts")
}

func TestEscrowAttributesSkipEmptyIdentifiers(t *testing.T) {
	attrs := escrowAttributes(&payloads.DepositSweepEvent{DepositID: uuid.New(), Amount: decimal.NewFromInt(3)})
	require.NotContains(t, attrs, "tx_hash")
	require.Equal(t, "3", attrs["amount"])

	attrs = escrowAttributes(&payloads.MasterWalletEvent{Address: "0xabc", ActorID: uuid.Nil})
	require.Equal(t, map[string]string{"address": "0xabc"}, attrs)
	require.Empty(t, escrowAttributes(nil))
}

func TestRunStopsWhenDatabaseIsDown(t *testing.T) {
	svc := newTestService(t, &fakeRepo{}, &fakePublisher{}, &fakeDLQRepo{}, nil)
	svc.db = &fakeDB{pingErr: errors.New("connection refused")}

	err := svc.Run(context.Background())
	require.ErrorContains(t, err, "database ping failed")
}

func TestRunReturnsOnCancel(t *testing.T) {
	svc := newTestService(t, &fakeRepo{}, &fakePublisher{}, &fakeDLQRepo{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, svc.Run(ctx), context.Canceled)
}

func newTestService(t *testing.T, repo outboxRepository, pub publisher, dlq dlqRepository, override *config.OutboxConfig) *Service {
	t.Helper()
	outboxCfg := config.OutboxConfig{BatchSize: 2, PollIntervalMS: 10, MaxAttempts: 5}
	if override != nil {
		outboxCfg = *override
	}
	reg, err := registry.NewEventRegistry(config.PubSubConfig{DomainTopic: "le-domain-events"})
	require.NoError(t, err)
	svc, err := NewService(ServiceParams{
		Config:           &config.Config{Outbox: outboxCfg},
		Logger:           logger.New(logger.Options{ServiceName: "outbox-publisher-test", Output: io.Discard}),
		DB:               &fakeDB{},
		PubSub:           &fakePubSubClient{},
		Repository:       repo,
		Registry:         reg,
		PublisherFactory: func(string) publisher { return pub },
		DLQRepository:    dlq,
		Now:              func() time.Time { return fixedNow },
	})
	require.NoError(t, err)
	return svc
}

func envelopeEvent(t *testing.T, eventType enums.OutboxEventType, aggregate enums.OutboxAggregateType, data any) models.OutboxEvent {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	id := uuid.New()
	payload, err := json.Marshal(outbox.PayloadEnvelope{
		Version:    1,
		EventID:    id.String(),
		OccurredAt: fixedNow,
		Data:       raw,
	})
	require.NoError(t, err)
	return models.OutboxEvent{
		ID:            id,
		EventType:     eventType,
		AggregateType: aggregate,
		AggregateID:   uuid.New(),
		Payload:       payload,
		CreatedAt:     fixedNow,
	}
}

func depositCredited(t *testing.T, owner uuid.UUID) models.OutboxEvent {
	t.Helper()
	event := envelopeEvent(t, enums.EventDepositCredited, enums.AggregateDeposit, nil)
	data := payloads.DepositCreditedEvent{
		DepositID:     event.AggregateID,
		OwnerID:       owner,
		TxHash:        "0xdep",
		Amount:        decimal.RequireFromString("125.5"),
		Currency:      "USDT",
		TransactionID: uuid.New(),
		CreditedAt:    fixedNow,
	}
	return withData(t, event, data)
}

func withdrawalEvent(t *testing.T, eventType enums.OutboxEventType, owner uuid.UUID) models.OutboxEvent {
	t.Helper()
	event := envelopeEvent(t, eventType, enums.AggregateWithdrawal, nil)
	st := enums.WithdrawalStatusCompleted
	if eventType == enums.EventWithdrawalUnconfirmed {
		st = enums.WithdrawalStatusUnconfirmed
	}
	return withData(t, event, payloads.WithdrawalEvent{
		WithdrawalID: event.AggregateID,
		OwnerID:      owner,
		ToAddress:    "0x3333333333333333333333333333333333333333",
		Amount:       decimal.NewFromInt(60),
		Status:       st,
		TxHash:       "0xpay",
	})
}

// withData swaps the envelope body once the aggregate id is known.
func withData(t *testing.T, event models.OutboxEvent, data any) models.OutboxEvent {
	t.Helper()
	var env outbox.PayloadEnvelope
	require.NoError(t, json.Unmarshal(event.Payload, &env))
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	env.Data = raw
	event.Payload, err = json.Marshal(env)
	require.NoError(t, err)
	return event
}

type fakeRepo struct {
	events    []models.OutboxEvent
	published []uuid.UUID
	failed    []uuid.UUID
	terminal  []uuid.UUID
}

func (f *fakeRepo) FetchUnpublishedForPublish(*gorm.DB, int, int) ([]models.OutboxEvent, error) {
	return f.events, nil
}

func (f *fakeRepo) MarkPublishedTx(_ *gorm.DB, id uuid.UUID) error {
	f.published = append(f.published, id)
	return nil
}

func (f *fakeRepo) MarkFailedTx(_ *gorm.DB, id uuid.UUID, _ error) error {
	f.failed = append(f.failed, id)
	return nil
}

func (f *fakeRepo) MarkTerminalTx(_ *gorm.DB, id uuid.UUID, _ error, _ int) error {
	f.terminal = append(f.terminal, id)
	return nil
}

type fakeDB struct {
	pingErr error
}

func (f *fakeDB) Ping(context.Context) error { return f.pingErr }

func (f *fakeDB) WithTx(_ context.Context, fn func(*gorm.DB) error) error {
	return fn(nil)
}

type fakePubSubClient struct{}

func (f *fakePubSubClient) Ping(context.Context) error { return nil }

func (f *fakePubSubClient) Publisher(string) *gcppubsub.Publisher { return nil }

type fakePublisher struct {
	results []publishResult
	sent    []*gcppubsub.Message
}

func (f *fakePublisher) Publish(_ context.Context, msg *gcppubsub.Message) publishResult {
	if len(f.results) == 0 {
		return nil
	}
	f.sent = append(f.sent, msg)
	result := f.results[0]
	f.results = f.results[1:]
	return result
}

type fakePublishResult struct {
	err error
}

func (f fakePublishResult) Get(context.Context) (string, error) {
	return "server-id", f.err
}

type fakeDLQRepo struct {
	entries []models.OutboxDLQ
}

func (f *fakeDLQRepo) InsertTx(_ *gorm.DB, entry models.OutboxDLQ) error {
	f.entries = append(f.entries, entry)
	return nil
}
