// Package consumer empties session carts once their order is confirmed,
// including orders confirmed by another storefront instance.
package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/roosvelt/autobusiness/internal/checkout/publisher"
	"github.com/roosvelt/autobusiness/pkg/logger"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const GroupID = "storefront-cart-cleanup"

// MessageReader is the part of kafka.Reader the consumer uses.
type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

type CartClearer interface {
	ClearCartIfUnchangedSince(ctx context.Context, sessionID string, since time.Time) (bool, error)
}

type Consumer struct {
	reader  MessageReader
	carts   CartClearer
	timeout time.Duration
	backoff time.Duration
	log     *zap.Logger
}

func NewKafkaReader(brokers ...string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    publisher.TopicOrderConfirmed,
		GroupID:  GroupID,
		MaxBytes: 10e6, // 10MB
	})
}

func NewConsumer(reader MessageReader, carts CartClearer, log *zap.Logger) *Consumer {
	return &Consumer{
		reader:  reader,
		carts:   carts,
		timeout: 5 * time.Second,
		backoff: time.Second,
		log:     logger.OrNop(log),
	}
}

// Run reads events until ctx is done.
func (c *Consumer) Run(ctx context.Context) {
	for ctx.Err() == nil {
		if err := c.handleNext(ctx); err != nil && ctx.Err() == nil {
			c.log.Warn("cart cleanup read failed", zap.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(c.backoff):
			}
		}
	}
}

func (c *Consumer) Close() {
	if err := c.reader.Close(); err != nil {
		c.log.Warn("error closing reader", zap.Error(err))
	}
}

// handleNext only returns read errors. Bad payloads and clear failures are
// logged and the message is skipped.
func (c *Consumer) handleNext(ctx context.Context) error {
	m, err := c.reader.ReadMessage(ctx)
	if err != nil {
		return err
	}

	var event publisher.OrderConfirmedEvent
	if err := json.Unmarshal(m.Value, &event); err != nil {
		c.log.Error("error parsing message", zap.Int64("offset", m.Offset), zap.Error(err))
		return nil
	}
	if event.SessionID == "" {
		c.log.Error("event without session id", zap.String("order_id", event.OrderID))
		return nil
	}

	log := c.log.With(zap.String("session_id", event.SessionID), zap.String("order_id", event.OrderID))

	clearCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	cleared, err := c.carts.ClearCartIfUnchangedSince(clearCtx, event.SessionID, event.ConfirmedAt)
	switch {
	case err != nil && !errors.Is(err, context.Canceled):
		log.Error("failed to clear cart", zap.Error(err))
	case cleared:
		log.Debug("cart cleared after confirmation")
	}
	return nil
}
