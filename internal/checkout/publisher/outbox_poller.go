// Package publisher drains the checkout ledger: confirmed orders go to Kafka,
// and drafts the order backend missed are submitted again.
package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	r "github.com/roosvelt/autobusiness/internal/checkout/repository"
	"github.com/roosvelt/autobusiness/internal/domain"
	"github.com/roosvelt/autobusiness/pkg/logger"
	"github.com/roosvelt/autobusiness/pkg/metrics"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const (
	TopicOrderConfirmed     = "order-confirmed"
	EventTypeOrderConfirmed = "order.confirmed"

	defaultBatchSize = 100
)

// MessageWriter is the part of kafka.Writer the poller uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

type OrderSubmitter interface {
	CreateOrder(ctx context.Context, draft domain.OrderDraft) (*domain.OrderRecord, error)
}

// OrderConfirmedEvent is the Kafka payload for one confirmed checkout.
type OrderConfirmedEvent struct {
	CheckoutID     string              `json:"checkout_id"`
	OrderID        string              `json:"order_id"`
	SessionID      string              `json:"session_id"`
	IdempotencyKey string              `json:"idempotency_key"`
	Persisted      bool                `json:"persisted"`
	Customer       domain.CustomerInfo `json:"customer"`
	Items          []domain.CartLine   `json:"items"`
	Total          int64               `json:"total"`
	ConfirmedAt    time.Time           `json:"confirmed_at"`
}

func NewKafkaWriter(brokers ...string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  TopicOrderConfirmed,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}
}

type OutboxPoller struct {
	timeout   time.Duration
	eventTick time.Duration
	syncTick  time.Duration
	batchSize int
	repo      r.RepoInterface
	writer    MessageWriter
	submitter OrderSubmitter
	metrics   *metrics.CheckoutMetrics
	log       *zap.Logger
}

// NewOutboxPoller wires the poller. A nil writer disables publishing and a
// nil submitter disables the draft resync; nil metrics are not recorded.
func NewOutboxPoller(repo r.RepoInterface, writer MessageWriter, submitter OrderSubmitter, m *metrics.CheckoutMetrics, log *zap.Logger) *OutboxPoller {
	return &OutboxPoller{
		timeout:   5 * time.Second,
		eventTick: time.Second,
		syncTick:  30 * time.Second,
		batchSize: defaultBatchSize,
		repo:      repo,
		writer:    writer,
		submitter: submitter,
		metrics:   m,
		log:       logger.OrNop(log),
	}
}

func (p *OutboxPoller) Run(ctx context.Context) {
	eventTicker := time.NewTicker(p.eventTick)
	syncTicker := time.NewTicker(p.syncTick)
	defer eventTicker.Stop()
	defer syncTicker.Stop()
	for {
		select {
		case <-eventTicker.C:
			p.processUnpublished(ctx)
		case <-syncTicker.C:
			p.resyncDrafts(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (p *OutboxPoller) processUnpublished(ctx context.Context) {
	if p.writer == nil {
		return
	}
	records, err := p.repo.GetUnpublished(ctx, p.batchSize)
	if err != nil {
		p.log.Error("failed to fetch unpublished checkouts", zap.Error(err))
		return
	}

	for _, rec := range records {
		if err := p.publish(ctx, rec); err != nil {
			p.log.Error("failed to publish checkout", zap.Stringer("checkout_id", rec.ID), zap.Error(err))
			continue
		}

		if err := p.repo.MarkPublished(ctx, rec.ID); err != nil {
			p.log.Error("failed to mark checkout as published", zap.Stringer("checkout_id", rec.ID), zap.Error(err))
			continue
		}
		if p.metrics != nil {
			p.metrics.EventsPublished.Inc()
		}
	}
}

func (p *OutboxPoller) publish(ctx context.Context, rec *r.CheckoutRecord) error {
	event, err := newOrderConfirmedEvent(rec)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(event.OrderID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(EventTypeOrderConfirmed)},
		},
	}

	writeCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	return p.writer.WriteMessages(writeCtx, msg)
}

func newOrderConfirmedEvent(rec *r.CheckoutRecord) (*OrderConfirmedEvent, error) {
	var order domain.OrderRecord
	if err := json.Unmarshal(rec.Record, &order); err != nil {
		return nil, fmt.Errorf("failed to unmarshal order record: %w", err)
	}
	orderID := rec.OrderID
	if orderID == "" {
		orderID = order.ID
	}
	return &OrderConfirmedEvent{
		CheckoutID:     rec.ID.String(),
		OrderID:        orderID,
		SessionID:      rec.SessionID,
		IdempotencyKey: rec.IdempotencyKey,
		Persisted:      rec.Persisted,
		Customer:       order.CustomerInfo,
		Items:          order.Items,
		Total:          order.Total,
		ConfirmedAt:    rec.CreatedAt,
	}, nil
}

// resyncDrafts hands fallback drafts to the order backend again. The
// draft keeps its idempotency key, so a backend that did store the first
// attempt answers with the same order.
func (p *OutboxPoller) resyncDrafts(ctx context.Context) {
	if p.submitter == nil {
		return
	}
	records, err := p.repo.GetUnpersisted(ctx, p.batchSize)
	if err != nil {
		p.log.Error("failed to fetch unpersisted checkouts", zap.Error(err))
		return
	}

	for _, rec := range records {
		log := p.log.With(zap.Stringer("checkout_id", rec.ID))

		var draft domain.OrderDraft
		if err := json.Unmarshal(rec.Draft, &draft); err != nil {
			log.Error("failed to unmarshal order draft", zap.Error(err))
			continue
		}

		order, err := p.submit(ctx, draft)
		if err != nil {
			status := r.StatusForSubmissionError(err)
			if status == r.StatusFallback {
				log.Warn("order backend still rejects draft", zap.String("order_id", draft.ID), zap.Error(err))
				continue
			}
			if markErr := p.repo.StopResync(ctx, rec.ID, status, err.Error()); markErr != nil {
				log.Error("failed to stop draft resync", zap.Error(markErr))
				continue
			}
			log.Warn("draft dropped from resync", zap.String("order_id", draft.ID), zap.String("status", status), zap.Error(err))
			continue
		}

		record, err := json.Marshal(order)
		if err != nil {
			log.Error("failed to marshal order record", zap.Error(err))
			continue
		}
		if err := p.repo.MarkPersisted(ctx, rec.ID, order.ID, record); err != nil {
			log.Error("failed to mark checkout as persisted", zap.Error(err))
			continue
		}
		if p.metrics != nil {
			p.metrics.DraftsResynced.Inc()
		}
		log.Info("draft persisted", zap.String("order_id", order.ID))
	}
}

func (p *OutboxPoller) submit(ctx context.Context, draft domain.OrderDraft) (*domain.OrderRecord, error) {
	subCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	order, err := p.submitter.CreateOrder(subCtx, draft)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, fmt.Errorf("order backend returned no record")
	}
	return order, nil
}
