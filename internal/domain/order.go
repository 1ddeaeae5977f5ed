package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusConfirmed OrderStatus = "confirmed"
	OrderStatusDelivered OrderStatus = "delivered"
)

// Timestamp decodes both RFC 3339 and the backend's zone-less local time.
type Timestamp struct {
	time.Time
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		t.Time = time.Time{}
		return nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05"} {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("unsupported timestamp %q", s)
}

// OrderDraft is assembled once at submit time and never modified.
type OrderDraft struct {
	ID             string       `json:"id"`
	IdempotencyKey string       `json:"idempotencyKey"`
	CustomerInfo   CustomerInfo `json:"customerInfo"`
	Items          []CartLine   `json:"items"`
	Total          int64        `json:"total"`
	CreatedAt      time.Time    `json:"createdAt"`
}

// NewOrderDraft snapshots cart and info. An empty city falls back to the
// default one.
func NewOrderDraft(info CustomerInfo, cart CartState, now time.Time) OrderDraft {
	if info.City == "" {
		info.City = DefaultCity
	}
	snap := cart.Clone()
	return OrderDraft{
		ID:             "order_" + strconv.FormatInt(now.UnixMilli(), 10),
		IdempotencyKey: uuid.NewString(),
		CustomerInfo:   info,
		Items:          snap.Lines,
		Total:          SumLines(snap.Lines),
		CreatedAt:      now,
	}
}

type OrderRecord struct {
	ID           string       `json:"id"`
	CustomerInfo CustomerInfo `json:"customerInfo"`
	Items        []CartLine   `json:"items"`
	Total        int64        `json:"total"`
	Status       OrderStatus  `json:"status"`
	CreatedAt    Timestamp    `json:"createdAt"`

	// Persisted is set only on records returned by the backend.
	Persisted bool `json:"-"`
}

// FromDraft builds the local stand-in used when the backend did not take
// the order.
func FromDraft(d OrderDraft) *OrderRecord {
	return &OrderRecord{
		ID:           d.ID,
		CustomerInfo: d.CustomerInfo,
		Items:        CartState{Lines: d.Items}.Clone().Lines,
		Total:        d.Total,
		Status:       OrderStatusPending,
		CreatedAt:    Timestamp{Time: d.CreatedAt},
	}
}

// SubmissionResult is the outcome of handing a draft to the order backend.
// Exactly one of Record and Err is set.
type SubmissionResult struct {
	Record *OrderRecord
	Err    error
}

func (r SubmissionResult) OK() bool {
	return r.Err == nil && r.Record != nil
}
