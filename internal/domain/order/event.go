package order

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// OrderEvent is an append-only audit record of an order
type OrderEvent struct {
	ID        uuid.UUID
	OrderID   uuid.UUID
	EventType string
	Payload   []byte
	CreatedAt time.Time
}

// StatusChangedPayload is the snapshot stored with every status transition
type StatusChangedPayload struct {
	Status    Status    `json:"status"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// StatusChangedEventType returns the audit event type for a status
func StatusChangedEventType(status Status) string {
	return "StatusChanged:" + string(status)
}

// NewStatusChangedEvent creates the audit event for a transition
func NewStatusChangedEvent(orderID uuid.UUID, status Status, reason string, at time.Time) (*OrderEvent, error) {
	payload, err := json.Marshal(StatusChangedPayload{Status: status, Reason: reason, Timestamp: at})
	if err != nil {
		return nil, fmt.Errorf("marshal status changed payload: %w", err)
	}
	return &OrderEvent{
		ID:        uuid.New(),
		OrderID:   orderID,
		EventType: StatusChangedEventType(status),
		Payload:   payload,
		CreatedAt: at,
	}, nil
}
