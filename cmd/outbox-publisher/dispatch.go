package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/loaderescrow-backend/pkg/db/models"
	"github.com/angelmondragon/loaderescrow-backend/pkg/enums"
	"github.com/angelmondragon/loaderescrow-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/loaderescrow-backend/pkg/outbox/registry"
	"github.com/angelmondragon/loaderescrow-backend/pkg/pubsub"
)

const (
	severityAlert  = "alert"
	severityNotice = "notice"
)

func severityOf(t enums.OutboxEventType) string {
	if t.IsAlert() {
		return severityAlert
	}
	return severityNotice
}

type batchStats struct {
	fetched      int
	published    int
	retried      int
	deadLettered int
}

// drain publishes one batch inside a single transaction so the row locks
// taken by the fetch hold until every row is marked.
func (s *Service) drain(ctx context.Context) (batchStats, error) {
	var stats batchStats
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		events, err := s.repo.FetchUnpublishedForPublish(tx, s.batchSize, s.maxAttempts)
		if err != nil {
			return err
		}
		stats.fetched = len(events)
		for _, event := range events {
			if err := s.relay(ctx, tx, event, &stats); err != nil {
				return err
			}
		}
		return nil
	})
	if err == nil && stats.fetched > 0 {
		s.logg.Info(s.logg.WithFields(ctx, map[string]any{
			"fetched":       stats.fetched,
			"published":     stats.published,
			"retried":       stats.retried,
			"dead_lettered": stats.deadLettered,
		}), "outbox batch relayed")
	}
	return stats, err
}

// relay returns an error only when bookkeeping fails; publish failures
// are recorded on the row.
func (s *Service) relay(ctx context.Context, tx *gorm.DB, event models.OutboxEvent, stats *batchStats) error {
	resolved, err := s.registry.Resolve(event)
	if err != nil {
		stats.deadLettered++
		return s.deadLetter(ctx, tx, event, nil, enums.OutboxDLQReasonNonRetryable, err)
	}

	msg := s.message(event, resolved)
	logCtx := s.logg.WithFields(ctx, logFields(event, msg))
	pubErr := s.publish(ctx, resolved.Descriptor.Topic, msg)
	if pubErr == nil {
		if err := s.repo.MarkPublishedTx(tx, event.ID); err != nil {
			return fmt.Errorf("mark published %s: %w", event.ID, err)
		}
		stats.published++
		return nil
	}

	var nonRetry registry.NonRetryableError
	if errors.As(pubErr, &nonRetry) {
		stats.deadLettered++
		return s.deadLetter(ctx, tx, event, msg, enums.OutboxDLQReasonNonRetryable, pubErr)
	}
	if event.AttemptCount+1 >= s.maxAttempts {
		stats.deadLettered++
		return s.deadLetter(ctx, tx, event, msg, enums.OutboxDLQReasonMaxAttempts, fmt.Errorf("max publish attempts reached: %w", pubErr))
	}

	s.logg.Warn(s.logg.WithFields(logCtx, map[string]any{
		"attempt_count": event.AttemptCount + 1,
		"error":         pubErr.Error(),
	}), "outbox publish failed")
	if err := s.repo.MarkFailedTx(tx, event.ID, pubErr); err != nil {
		return fmt.Errorf("mark failure %s: %w", event.ID, err)
	}
	stats.retried++
	return nil
}

func (s *Service) publish(ctx context.Context, topic string, msg *gcppubsub.Message) error {
	pub := s.publishers(topic)
	if pub == nil {
		return registry.NewNonRetryableError(fmt.Errorf("publisher not configured for topic %s", topic))
	}
	publishCtx, cancel := context.WithTimeout(ctx, defaultPublishTimeout)
	defer cancel()
	result := pub.Publish(publishCtx, msg)
	if result == nil {
		return registry.NewNonRetryableError(fmt.Errorf("publisher returned nil for topic %s", topic))
	}
	if _, err := result.Get(publishCtx); err != nil {
		if !pubsub.IsRetryable(err) {
			return registry.NewNonRetryableError(err)
		}
		return err
	}
	return nil
}

// deadLetter parks the row in outbox_dlq. Alert events log at error level.
func (s *Service) deadLetter(ctx context.Context, tx *gorm.DB, event models.OutboxEvent, msg *gcppubsub.Message, reason enums.OutboxDLQErrorReason, cause error) error {
	fields := logFields(event, msg)
	fields["error_reason"] = reason
	logCtx := s.logg.WithFields(ctx, fields)
	if event.EventType.IsAlert() {
		s.logg.Error(logCtx, "escrow alert event dead-lettered", cause)
	} else {
		s.logg.Warn(s.logg.WithField(logCtx, "error", cause.Error()), "outbox event will not be retried")
	}

	msgText := cause.Error()
	entry := models.OutboxDLQ{
		EventID:       event.ID,
		EventType:     event.EventType,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		Payload:       event.Payload,
		ErrorReason:   reason,
		ErrorMessage:  &msgText,
		AttemptCount:  event.AttemptCount,
		FailedAt:      s.now().UTC(),
	}
	if err := s.dlq.InsertTx(tx, entry); err != nil {
		return fmt.Errorf("insert dlq %s: %w", event.ID, err)
	}
	if err := s.repo.MarkTerminalTx(tx, event.ID, cause, s.maxAttempts); err != nil {
		return fmt.Errorf("mark terminal %s: %w", event.ID, err)
	}
	return nil
}

// message carries the stored envelope untouched. Attributes let subscribers
// filter by owner, aggregate or severity without decoding the body.
func (s *Service) message(event models.OutboxEvent, resolved *registry.ResolvedEvent) *gcppubsub.Message {
	attrs := map[string]string{
		"event_id":       resolved.Envelope.EventID,
		"event_type":     string(event.EventType),
		"aggregate_type": string(event.AggregateType),
		"aggregate_id":   event.AggregateID.String(),
		"severity":       severityOf(event.EventType),
		"created_at":     event.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	for k, v := range escrowAttributes(resolved.Payload) {
		attrs[k] = v
	}
	return &gcppubsub.Message{Data: event.Payload, Attributes: attrs}
}

// escrowAttributes lifts the identifiers each payload carries. Empty values
// are left out.
func escrowAttributes(payload any) map[string]string {
	attrs := map[string]string{}
	put := func(k, v string) {
		if v != "" && v != uuid.Nil.String() {
			attrs[k] = v
		}
	}
	switch p := payload.(type) {
	case *payloads.DepositCreditedEvent:
		put("deposit_id", p.DepositID.String())
		put("owner_id", p.OwnerID.String())
		put("tx_hash", p.TxHash)
		put("amount", p.Amount.String())
		put("currency", p.Currency)
	case *payloads.DepositSweepEvent:
		put("deposit_id", p.DepositID.String())
		put("tx_hash", p.TxHash)
		put("amount", p.Amount.String())
	case *payloads.WithdrawalEvent:
		put("withdrawal_id", p.WithdrawalID.String())
		put("owner_id", p.OwnerID.String())
		put("status", string(p.Status))
		put("tx_hash", p.TxHash)
		put("amount", p.Amount.String())
	case *payloads.LoaderOrderStateChangedEvent:
		put("order_id", p.OrderID.String())
		put("loader_id", p.LoaderID.String())
		put("receiver_id", p.ReceiverID.String())
		put("status", string(p.To))
	case *payloads.LoaderAdEvent:
		put("ad_id", p.AdID.String())
		put("owner_id", p.PosterID.String())
		put("status", string(p.Status))
	case *payloads.MasterWalletEvent:
		put("address", p.Address)
	}
	return attrs
}

func logFields(event models.OutboxEvent, msg *gcppubsub.Message) map[string]any {
	fields := map[string]any{
		"outbox_id":      event.ID.String(),
		"event_type":     event.EventType,
		"aggregate_type": event.AggregateType,
		"aggregate_id":   event.AggregateID.String(),
		"attempt_count":  event.AttemptCount,
		"severity":       severityOf(event.EventType),
	}
	if msg != nil {
		for _, k := range []string{"owner_id", "tx_hash", "status"} {
			if v, ok := msg.Attributes[k]; ok {
				fields[k] = v
			}
		}
	}
	if event.LastError != nil {
		fields["last_error"] = *event.LastError
	}
	return fields
}
