// Package order holds the order aggregate and its fulfillment state machine.
package order

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/orderflow/backend/internal/domain/shared"
	"github.com/shopspring/decimal"
)

// ShippingAddress is the delivery address captured at intake
type ShippingAddress struct {
	Name       string
	Line1      string
	Line2      string
	City       string
	State      string
	PostalCode string
	Country    string
}

// ItemInput is a requested order line before it is attached to an order
type ItemInput struct {
	SKU       string
	Name      string
	Quantity  int
	UnitPrice decimal.Decimal
	IsTaxable bool
}

// OrderItem is an immutable line of an order
type OrderItem struct {
	ID        uuid.UUID
	OrderID   uuid.UUID
	SKU       string
	Name      string
	Quantity  int
	UnitPrice decimal.Decimal
	IsTaxable bool
}

// LineTotal returns quantity * unit price
func (i OrderItem) LineTotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Order is the aggregate root of the fulfillment saga.
// Monetary fields are computed once at creation and never recomputed.
type Order struct {
	shared.BaseAggregateRoot
	CustomerID      string
	Currency        string
	IdempotencyKey  string
	CorrelationID   uuid.UUID
	ShippingAddress ShippingAddress
	Subtotal        decimal.Decimal
	ShippingCost    decimal.Decimal
	Tax             decimal.Decimal
	Total           decimal.Decimal
	TaxRate         decimal.Decimal
	Status          Status
	Items           []OrderItem
}

// NewOrderParams carries the validated intake request
type NewOrderParams struct {
	CustomerID      string
	Currency        string
	IdempotencyKey  string
	ShippingAddress ShippingAddress
	ShippingCost    decimal.Decimal
	Items           []ItemInput
	TaxRate         decimal.Decimal
}

// NewOrder creates an order in Created status with its totals computed
func NewOrder(p NewOrderParams, now time.Time) (*Order, error) {
	if strings.TrimSpace(p.CustomerID) == "" {
		return nil, shared.NewDomainError("INVALID_INPUT", "Customer ID cannot be empty")
	}
	if strings.TrimSpace(p.IdempotencyKey) == "" {
		return nil, shared.NewDomainError("INVALID_INPUT", "Idempotency key is required")
	}
	if len(p.Currency) != 3 {
		return nil, shared.NewDomainError("INVALID_INPUT", "Currency must be a 3-letter code")
	}
	if len(p.Items) == 0 {
		return nil, shared.NewDomainError("INVALID_INPUT", "Order must contain at least one item")
	}
	if p.ShippingCost.IsNegative() {
		return nil, shared.NewDomainError("INVALID_INPUT", "Shipping cost cannot be negative")
	}
	if !IsWholeCents(p.ShippingCost) {
		return nil, shared.NewDomainError("INVALID_INPUT", "Shipping cost cannot have fractional cents")
	}
	for i, item := range p.Items {
		if strings.TrimSpace(item.SKU) == "" {
			return nil, shared.NewDomainError("INVALID_INPUT", fmt.Sprintf("Item %d: SKU is required", i))
		}
		if item.Quantity < 1 {
			return nil, shared.NewDomainError("INVALID_INPUT", fmt.Sprintf("Item %d: quantity must be at least 1", i))
		}
		if !item.UnitPrice.IsPositive() {
			return nil, shared.NewDomainError("INVALID_INPUT", fmt.Sprintf("Item %d: unit price must be positive", i))
		}
		if !IsWholeCents(item.UnitPrice) {
			return nil, shared.NewDomainError("INVALID_INPUT", fmt.Sprintf("Item %d: unit price cannot have fractional cents", i))
		}
	}

	rate := p.TaxRate
	if rate.IsZero() {
		rate = DefaultTaxRate
	}
	totals := CalculateTotals(p.Items, p.ShippingCost, rate)

	o := &Order{
		BaseAggregateRoot: shared.NewBaseAggregateRoot(now),
		CustomerID:        p.CustomerID,
		Currency:          strings.ToUpper(p.Currency),
		IdempotencyKey:    p.IdempotencyKey,
		CorrelationID:     uuid.New(),
		ShippingAddress:   p.ShippingAddress,
		Subtotal:          totals.Subtotal,
		ShippingCost:      totals.ShippingCost,
		Tax:               totals.Tax,
		Total:             totals.Total,
		TaxRate:           totals.TaxRate,
		Status:            StatusCreated,
	}
	o.Items = make([]OrderItem, 0, len(p.Items))
	for _, item := range p.Items {
		o.Items = append(o.Items, OrderItem{
			ID:        uuid.New(),
			OrderID:   o.ID,
			SKU:       item.SKU,
			Name:      item.Name,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			IsTaxable: item.IsTaxable,
		})
	}
	return o, nil
}

// StatusChange is everything one transition persists atomically: the
// conditional status update, its audit event and (optionally) the release
// of held reservations.
type StatusChange struct {
	OrderID             uuid.UUID
	From                Status
	To                  Status
	Reason              string
	ExpectedVersion     int
	Version             int
	At                  time.Time
	Event               *OrderEvent
	ReleaseReservations bool
}

// TransitionTo moves the order to the target status and returns the change
// to persist. The order is left untouched when the move is not allowed.
func (o *Order) TransitionTo(to Status, reason string, now time.Time) (*StatusChange, error) {
	if !o.Status.CanTransitionTo(to) {
		return nil, shared.NewDomainError("INVALID_STATE",
			fmt.Sprintf("Cannot transition order from %s to %s", o.Status, to))
	}
	return o.apply(to, reason, now)
}

// Cancel cancels the order unless it is already Confirmed or Cancelled.
// Reserved inventory is released as part of the same change.
func (o *Order) Cancel(reason string, now time.Time) (*StatusChange, error) {
	switch o.Status {
	case StatusConfirmed:
		return nil, shared.NewDomainError("INVALID_STATE", "Cannot cancel a confirmed order")
	case StatusCancelled:
		return nil, shared.NewDomainError("INVALID_STATE", "Order is already cancelled")
	}
	if reason == "" {
		reason = "Admin cancelled"
	}
	change, err := o.TransitionTo(StatusCancelled, reason, now)
	if err != nil {
		return nil, err
	}
	change.ReleaseReservations = true
	return change, nil
}

func (o *Order) apply(to Status, reason string, now time.Time) (*StatusChange, error) {
	event, err := NewStatusChangedEvent(o.ID, to, reason, now)
	if err != nil {
		return nil, err
	}
	change := &StatusChange{
		OrderID:         o.ID,
		From:            o.Status,
		To:              to,
		Reason:          reason,
		ExpectedVersion: o.Version,
		At:              now,
		Event:           event,
	}
	o.Status = to
	o.Touch(now)
	change.Version = o.Version
	return change, nil
}

// ItemCount returns the total number of units ordered
func (o *Order) ItemCount() int {
	n := 0
	for _, item := range o.Items {
		n += item.Quantity
	}
	return n
}
