package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/loaderescrow-backend/pkg/db/dbtest"
	"github.com/angelmondragon/loaderescrow-backend/pkg/db/models"
	"github.com/angelmondragon/loaderescrow-backend/pkg/enums"
)

func TestEmitStoresVersionedEnvelope(t *testing.T) {
	conn := dbtest.Open(t)
	svc := NewService(NewRepository(conn), nil)
	aggregateID := uuid.New()
	actorID := uuid.New()

	err := svc.Emit(context.Background(), conn, DomainEvent{
		EventType:     enums.EventDepositCredited,
		AggregateType: enums.AggregateDeposit,
		AggregateID:   aggregateID,
		Actor:         &ActorRef{UserID: actorID, Role: "system"},
		Data:          map[string]string{"tx_hash": "0xabc"},
	})
	require.NoError(t, err)

	var rows []models.OutboxEvent
	require.NoError(t, conn.Find(&rows).Error)
	require.Len(t, rows, 1)
	require.Equal(t, aggregateID, rows[0].AggregateID)
	require.Nil(t, rows[0].PublishedAt)

	var envelope PayloadEnvelope
	require.NoError(t, json.Unmarshal(rows[0].Payload, &envelope))
	require.Equal(t, EnvelopeVersion, envelope.Version)
	require.NotEmpty(t, envelope.EventID)
	require.Equal(t, actorID, envelope.Actor.UserID)
	require.JSONEq(t, `{"tx_hash":"0xabc"}`, string(envelope.Data))
}

func TestEmitValidatesInput(t *testing.T) {
	conn := dbtest.Open(t)
	svc := NewService(NewRepository(conn), nil)

	require.Error(t, svc.Emit(context.Background(), nil, DomainEvent{
		EventType:     enums.EventDepositCredited,
		AggregateType: enums.AggregateDeposit,
	}))
	require.Error(t, svc.Emit(context.Background(), conn, DomainEvent{
		EventType:     enums.OutboxEventType("bogus"),
		AggregateType: enums.AggregateDeposit,
	}))
	require.Error(t, svc.Emit(context.Background(), conn, DomainEvent{
		EventType:     enums.EventDepositCredited,
		AggregateType: enums.OutboxAggregateType("bogus"),
	}))
}

func TestRepositoryPublishLifecycle(t *testing.T) {
	conn := dbtest.Open(t)
	repo := NewRepository(conn)
	svc := NewService(repo, nil)

	for i := 0; i < 3; i++ {
		require.NoError(t, svc.Emit(context.Background(), conn, DomainEvent{
			EventType:     enums.EventLoaderOrderStateChanged,
			AggregateType: enums.AggregateLoaderOrder,
			AggregateID:   uuid.New(),
			Data:          map[string]int{"i": i},
		}))
	}

	batch, err := repo.FetchUnpublishedForPublish(conn, 10, 3)
	require.NoError(t, err)
	require.Len(t, batch, 3)

	require.NoError(t, repo.MarkPublishedTx(conn, batch[0].ID))
	require.NoError(t, repo.MarkFailedTx(conn, batch[1].ID, errors.New("boom")))
	require.NoError(t, repo.MarkTerminalTx(conn, batch[2].ID, errors.New("bad payload"), 3))

	remaining, err := repo.FetchUnpublishedForPublish(conn, 10, 3)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	require.Equal(t, batch[1].ID, remaining[0].ID)
	require.Equal(t, 1, remaining[0].AttemptCount)
	require.Equal(t, "boom", *remaining[0].LastError)
}

func TestPurgeRelayedKeepsAlertEventsUnderTheirOwnRule(t *testing.T) {
	conn := dbtest.Open(t)
	repo := NewRepository(conn)
	old := time.Now().UTC().Add(-60 * 24 * time.Hour)
	recent := time.Now().UTC()

	rows := []models.OutboxEvent{
		{EventType: enums.EventDepositSwept, AggregateType: enums.AggregateDeposit, AggregateID: uuid.New(), Payload: json.RawMessage(`{}`), CreatedAt: old, PublishedAt: &old},
		{EventType: enums.EventDepositSwept, AggregateType: enums.AggregateDeposit, AggregateID: uuid.New(), Payload: json.RawMessage(`{}`), CreatedAt: recent, PublishedAt: &recent},
		{EventType: enums.EventDepositSwept, AggregateType: enums.AggregateDeposit, AggregateID: uuid.New(), Payload: json.RawMessage(`{}`), CreatedAt: old, AttemptCount: 9},
		{EventType: enums.EventDepositSwept, AggregateType: enums.AggregateDeposit, AggregateID: uuid.New(), Payload: json.RawMessage(`{}`), CreatedAt: old},
		{EventType: enums.EventWithdrawalUnconfirmed, AggregateType: enums.AggregateWithdrawal, AggregateID: uuid.New(), Payload: json.RawMessage(`{}`), CreatedAt: old, PublishedAt: &old},
	}
	for i := range rows {
		require.NoError(t, conn.Create(&rows[i]).Error)
	}

	ctx := context.Background()
	deleted, err := repo.PurgeRelayed(ctx, conn, PurgeRule{
		Cutoff:      time.Now().UTC().Add(-30 * 24 * time.Hour),
		MinAttempts: 5,
		Except:      enums.AlertEventTypes(),
	})
	require.NoError(t, err)
	require.Equal(t, int64(2), deleted)

	var count int64
	require.NoError(t, conn.Model(&models.OutboxEvent{}).Count(&count).Error)
	require.Equal(t, int64(3), count)

	deleted, err = repo.PurgeRelayed(ctx, conn, PurgeRule{
		Cutoff:      time.Now().UTC().Add(-90 * 24 * time.Hour),
		MinAttempts: 5,
		Only:        enums.AlertEventTypes(),
	})
	require.NoError(t, err)
	require.Zero(t, deleted)

	deleted, err = repo.PurgeRelayed(ctx, conn, PurgeRule{
		Cutoff:      time.Now().UTC().Add(-45 * 24 * time.Hour),
		MinAttempts: 5,
		Only:        enums.AlertEventTypes(),
	})
	require.NoError(t, err)
	require.Equal(t, int64(1), deleted)
}

func TestDLQRepositoryTruncatesAndFinds(t *testing.T) {
	conn := dbtest.Open(t)
	repo := NewDLQRepository(conn)
	eventID := uuid.New()

	long := strings.Repeat("x", maxDLQErrorLen+100)
	require.NoError(t, repo.InsertTx(conn, models.OutboxDLQ{
		EventID:       eventID,
		EventType:     enums.EventWithdrawalFailed,
		AggregateType: enums.AggregateWithdrawal,
		AggregateID:   uuid.New(),
		Payload:       json.RawMessage(`{}`),
		ErrorMessage:  &long,
		AttemptCount:  10,
	}))

	found, err := repo.FindByEventID(context.Background(), eventID)
	require.NoError(t, err)
	require.NotNil(t, found)
	require.Equal(t, enums.OutboxDLQReasonNonRetryable, found.ErrorReason)
	require.Len(t, *found.ErrorMessage, maxDLQErrorLen)

	missing, err := repo.FindByEventID(context.Background(), uuid.New())
	require.NoError(t, err)
	require.Nil(t, missing)

	listed, err := repo.List(context.Background(), enums.EventWithdrawalFailed, 0)
	require.NoError(t, err)
	require.Len(t, listed, 1)
}
