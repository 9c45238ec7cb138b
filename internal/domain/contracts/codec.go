package contracts

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/orderflow/backend/internal/domain/shared"
)

// Contract is implemented by every versioned message
type Contract interface {
	MessageType() string
	Meta() Envelope
}

var knownTypes = map[string]struct{}{
	TypeOrderCreated:            {},
	TypeOrderUpdated:            {},
	TypeInventoryReserveRequest: {},
	TypeInventoryReserveResult:  {},
	TypeInventoryReleaseRequest: {},
	TypeInventoryReleaseResult:  {},
	TypePaymentAuthorizeRequest: {},
	TypePaymentAuthorizeResult:  {},
	TypeEmailSendRequest:        {},
	TypeEmailSendResult:         {},
}

// IsKnownType reports whether msgType names a contract of this package
func IsKnownType(msgType string) bool {
	_, ok := knownTypes[msgType]
	return ok
}

// Encode serializes a contract
func Encode(c Contract) ([]byte, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", c.MessageType(), err)
	}
	return data, nil
}

// Decode deserializes a payload into the contract type T. Unknown fields
// are ignored so newer producers stay readable.
func Decode[T Contract](payload []byte) (T, error) {
	var v T
	if err := json.Unmarshal(payload, &v); err != nil {
		return v, fmt.Errorf("failed to decode %s: %w", v.MessageType(), err)
	}
	return v, nil
}

// ToMessage wraps a contract into a bus message
func ToMessage(c Contract, now time.Time) (shared.Message, error) {
	payload, err := Encode(c)
	if err != nil {
		return shared.Message{}, err
	}
	return shared.NewMessage(c.MessageType(), c.Meta().CorrelationID, payload, now), nil
}

// ToOutbox wraps a contract into a pending outbox message
func ToOutbox(c Contract, now time.Time) (*shared.OutboxMessage, error) {
	payload, err := Encode(c)
	if err != nil {
		return nil, err
	}
	return shared.NewOutboxMessage(c.MessageType(), c.Meta().CorrelationID, payload, now), nil
}

// FromMessage decodes a bus message into T after checking its type
func FromMessage[T Contract](msg shared.Message) (T, error) {
	var zero T
	if msg.Type != zero.MessageType() {
		return zero, fmt.Errorf("unexpected message type %s, want %s", msg.Type, zero.MessageType())
	}
	return Decode[T](msg.Payload)
}
