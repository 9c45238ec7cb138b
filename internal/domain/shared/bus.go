package shared

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrRequestTimeout is returned when no reply arrives within the request timeout
var ErrRequestTimeout = errors.New("bus: request timed out")

// ErrNoResponder is returned when a request type has no registered responder
var ErrNoResponder = errors.New("bus: no responder for message type")

// Message is the unit carried by the bus
type Message struct {
	ID            uuid.UUID
	Type          string
	CorrelationID uuid.UUID
	Payload       []byte
	OccurredAt    time.Time
}

// NewMessage builds a message with a fresh id
func NewMessage(msgType string, correlationID uuid.UUID, payload []byte, now time.Time) Message {
	return Message{
		ID:            uuid.New(),
		Type:          msgType,
		CorrelationID: correlationID,
		Payload:       payload,
		OccurredAt:    now,
	}
}

// HandlerFunc consumes a published message. A returned error means the
// delivery was not processed.
type HandlerFunc func(ctx context.Context, msg Message) error

// RequestHandlerFunc answers a request message with a reply message
type RequestHandlerFunc func(ctx context.Context, msg Message) (Message, error)

// Bus is the transport-agnostic messaging contract: fire-and-forget
// publish/subscribe plus request/response with a per-call timeout.
type Bus interface {
	// Publish hands the message to the transport
	Publish(ctx context.Context, msg Message) error
	// Subscribe registers a handler for a message type
	Subscribe(msgType string, handler HandlerFunc)
	// Request sends a request and waits for the reply or the timeout
	Request(ctx context.Context, msg Message, timeout time.Duration) (Message, error)
	// Respond registers the responder for a request type
	Respond(msgType string, handler RequestHandlerFunc)
	// Start begins consuming
	Start(ctx context.Context) error
	// Stop gracefully stops consuming
	Stop(ctx context.Context) error
}
