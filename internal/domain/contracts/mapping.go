package contracts

import (
	"time"

	"github.com/orderflow/backend/internal/domain/order"
)

// NewOrderCreated builds the creation broadcast for an order
func NewOrderCreated(o *order.Order, now time.Time) OrderCreatedV1 {
	items := make([]LineItem, 0, len(o.Items))
	for _, item := range o.Items {
		items = append(items, LineItem{
			SKU:       item.SKU,
			Name:      item.Name,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			IsTaxable: item.IsTaxable,
		})
	}
	return OrderCreatedV1{
		Envelope:     NewEnvelope(o.CorrelationID, now),
		OrderID:      o.ID,
		CustomerID:   o.CustomerID,
		Currency:     o.Currency,
		Items:        items,
		Subtotal:     o.Subtotal,
		ShippingCost: o.ShippingCost,
		Tax:          o.Tax,
		Total:        o.Total,
	}
}

// NewOrderUpdated builds the status broadcast for a transition
func NewOrderUpdated(o *order.Order, change *order.StatusChange) OrderUpdatedV1 {
	return OrderUpdatedV1{
		Envelope: NewEnvelope(o.CorrelationID, change.At),
		OrderID:  o.ID,
		Status:   string(change.To),
		Reason:   change.Reason,
	}
}
