// Package contracts defines the versioned messages exchanged over the bus.
// Field names are part of the wire format; add fields, never rename them.
package contracts

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SchemaVersion is the version written into every V1 message
const SchemaVersion = 1

// Message type names
const (
	TypeOrderCreated            = "OrderCreatedV1"
	TypeOrderUpdated            = "OrderUpdatedV1"
	TypeInventoryReserveRequest = "InventoryReserveRequestV1"
	TypeInventoryReserveResult  = "InventoryReserveResultV1"
	TypeInventoryReleaseRequest = "InventoryReleaseRequestV1"
	TypeInventoryReleaseResult  = "InventoryReleaseResultV1"
	TypePaymentAuthorizeRequest = "PaymentAuthorizeRequestV1"
	TypePaymentAuthorizeResult  = "PaymentAuthorizeResultV1"
	TypeEmailSendRequest        = "EmailSendRequestV1"
	TypeEmailSendResult         = "EmailSendResultV1"
)

// Envelope carries the fields shared by every message
type Envelope struct {
	CorrelationID uuid.UUID `json:"correlationId"`
	SchemaVersion int       `json:"schemaVersion"`
	OccurredAt    time.Time `json:"occurredAt"`
}

// NewEnvelope stamps a message with the current schema version
func NewEnvelope(correlationID uuid.UUID, now time.Time) Envelope {
	return Envelope{
		CorrelationID: correlationID,
		SchemaVersion: SchemaVersion,
		OccurredAt:    now,
	}
}

// Meta returns the envelope
func (e Envelope) Meta() Envelope {
	return e
}

// LineItem is an order line as broadcast in OrderCreatedV1
type LineItem struct {
	SKU       string          `json:"sku"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	IsTaxable bool            `json:"isTaxable"`
}

// OrderCreatedV1 announces a newly accepted order
type OrderCreatedV1 struct {
	Envelope
	OrderID      uuid.UUID       `json:"orderId"`
	CustomerID   string          `json:"customerId"`
	Currency     string          `json:"currency"`
	Items        []LineItem      `json:"items"`
	Subtotal     decimal.Decimal `json:"subtotal"`
	ShippingCost decimal.Decimal `json:"shippingCost"`
	Tax          decimal.Decimal `json:"tax"`
	Total        decimal.Decimal `json:"total"`
}

// MessageType implements Contract
func (OrderCreatedV1) MessageType() string { return TypeOrderCreated }

// OrderUpdatedV1 broadcasts a status transition
type OrderUpdatedV1 struct {
	Envelope
	OrderID uuid.UUID `json:"orderId"`
	Status  string    `json:"status"`
	Reason  string    `json:"reason"`
}

// MessageType implements Contract
func (OrderUpdatedV1) MessageType() string { return TypeOrderUpdated }

// ReserveItem is one sku to hold
type ReserveItem struct {
	SKU      string `json:"sku"`
	Quantity int    `json:"quantity"`
}

// InventoryReserveRequestV1 asks inventory to hold every line of an order
type InventoryReserveRequestV1 struct {
	Envelope
	OrderID uuid.UUID     `json:"orderId"`
	Items   []ReserveItem `json:"items"`
}

// MessageType implements Contract
func (InventoryReserveRequestV1) MessageType() string { return TypeInventoryReserveRequest }

// InventoryReserveResultV1 answers InventoryReserveRequestV1
type InventoryReserveResultV1 struct {
	Envelope
	OrderID uuid.UUID `json:"orderId"`
	Success bool      `json:"success"`
	Reason  string    `json:"reason,omitempty"`
}

// MessageType implements Contract
func (InventoryReserveResultV1) MessageType() string { return TypeInventoryReserveResult }

// InventoryReleaseRequestV1 asks inventory to free everything it holds for an order
type InventoryReleaseRequestV1 struct {
	Envelope
	OrderID uuid.UUID `json:"orderId"`
	Reason  string    `json:"reason"`
}

// MessageType implements Contract
func (InventoryReleaseRequestV1) MessageType() string { return TypeInventoryReleaseRequest }

// InventoryReleaseResultV1 answers InventoryReleaseRequestV1
type InventoryReleaseResultV1 struct {
	Envelope
	OrderID  uuid.UUID `json:"orderId"`
	Success  bool      `json:"success"`
	Released int64     `json:"released"`
	Reason   string    `json:"reason,omitempty"`
}

// MessageType implements Contract
func (InventoryReleaseResultV1) MessageType() string { return TypeInventoryReleaseResult }

// PaymentAuthorizeRequestV1 asks for an authorization of the order total
type PaymentAuthorizeRequestV1 struct {
	Envelope
	OrderID  uuid.UUID       `json:"orderId"`
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

// MessageType implements Contract
func (PaymentAuthorizeRequestV1) MessageType() string { return TypePaymentAuthorizeRequest }

// PaymentAuthorizeResultV1 answers PaymentAuthorizeRequestV1
type PaymentAuthorizeResultV1 struct {
	Envelope
	OrderID    uuid.UUID `json:"orderId"`
	Authorized bool      `json:"authorized"`
	IntentID   string    `json:"intentId,omitempty"`
	Reason     string    `json:"reason,omitempty"`
}

// MessageType implements Contract
func (PaymentAuthorizeResultV1) MessageType() string { return TypePaymentAuthorizeResult }

// EmailSendRequestV1 asks for a templated customer email
type EmailSendRequestV1 struct {
	Envelope
	OrderID uuid.UUID `json:"orderId"`
	// To is the recipient reference. Orders hold no email address, so the
	// saga sends the customer id and the email provider resolves it.
	To       string         `json:"to"`
	Template string         `json:"template"`
	Model    map[string]any `json:"model"`
}

// MessageType implements Contract
func (EmailSendRequestV1) MessageType() string { return TypeEmailSendRequest }

// EmailSendResultV1 answers EmailSendRequestV1
type EmailSendResultV1 struct {
	Envelope
	OrderID uuid.UUID `json:"orderId"`
	Sent    bool      `json:"sent"`
	Reason  string    `json:"reason,omitempty"`
}

// MessageType implements Contract
func (EmailSendResultV1) MessageType() string { return TypeEmailSendResult }
