package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/orderflow/backend/internal/domain/order"
	"github.com/shopspring/decimal"
)

// OrderModel is the persistence model for the Order aggregate root
type OrderModel struct {
	AggregateModel
	CustomerID     string           `gorm:"type:varchar(200);not null;uniqueIndex:idx_orders_idempotency,priority:2"`
	Currency       string           `gorm:"type:varchar(3);not null"`
	IdempotencyKey string           `gorm:"type:varchar(200);not null;uniqueIndex:idx_orders_idempotency,priority:1"`
	CorrelationID  uuid.UUID        `gorm:"type:uuid;not null;index:idx_orders_correlation"`
	ShipName       string           `gorm:"type:varchar(200);not null"`
	ShipLine1      string           `gorm:"type:varchar(200);not null"`
	ShipLine2      string           `gorm:"type:varchar(200)"`
	ShipCity       string           `gorm:"type:varchar(100);not null"`
	ShipState      string           `gorm:"type:varchar(50);not null"`
	ShipPostalCode string           `gorm:"type:varchar(20);not null"`
	ShipCountry    string           `gorm:"type:varchar(50);not null"`
	Subtotal       decimal.Decimal  `gorm:"type:decimal(18,2);not null"`
	ShippingCost   decimal.Decimal  `gorm:"type:decimal(18,2);not null"`
	Tax            decimal.Decimal  `gorm:"type:decimal(18,2);not null"`
	Total          decimal.Decimal  `gorm:"type:decimal(18,2);not null"`
	TaxRate        decimal.Decimal  `gorm:"type:decimal(6,4);not null"`
	Status         string           `gorm:"type:varchar(32);not null;index:idx_orders_status_created,priority:1"`
	Items          []OrderItemModel `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
}

// TableName returns the table name for GORM
func (OrderModel) TableName() string {
	return "orders"
}

// ToDomain converts the persistence model to a domain Order
func (m *OrderModel) ToDomain() *order.Order {
	o := &order.Order{
		BaseAggregateRoot: m.AggregateModel.ToDomain(),
		CustomerID:        m.CustomerID,
		Currency:          m.Currency,
		IdempotencyKey:    m.IdempotencyKey,
		CorrelationID:     m.CorrelationID,
		ShippingAddress: order.ShippingAddress{
			Name:       m.ShipName,
			Line1:      m.ShipLine1,
			Line2:      m.ShipLine2,
			City:       m.ShipCity,
			State:      m.ShipState,
			PostalCode: m.ShipPostalCode,
			Country:    m.ShipCountry,
		},
		Subtotal:     m.Subtotal,
		ShippingCost: m.ShippingCost,
		Tax:          m.Tax,
		Total:        m.Total,
		TaxRate:      m.TaxRate,
		Status:       order.Status(m.Status),
	}
	if len(m.Items) > 0 {
		o.Items = make([]order.OrderItem, len(m.Items))
		for i := range m.Items {
			o.Items[i] = m.Items[i].ToDomain()
		}
	}
	return o
}

// FromDomain populates the persistence model from a domain Order
func (m *OrderModel) FromDomain(o *order.Order) {
	m.AggregateModel.FromDomain(o.BaseAggregateRoot)
	m.CustomerID = o.CustomerID
	m.Currency = o.Currency
	m.IdempotencyKey = o.IdempotencyKey
	m.CorrelationID = o.CorrelationID
	m.ShipName = o.ShippingAddress.Name
	m.ShipLine1 = o.ShippingAddress.Line1
	m.ShipLine2 = o.ShippingAddress.Line2
	m.ShipCity = o.ShippingAddress.City
	m.ShipState = o.ShippingAddress.State
	m.ShipPostalCode = o.ShippingAddress.PostalCode
	m.ShipCountry = o.ShippingAddress.Country
	m.Subtotal = o.Subtotal
	m.ShippingCost = o.ShippingCost
	m.Tax = o.Tax
	m.Total = o.Total
	m.TaxRate = o.TaxRate
	m.Status = string(o.Status)
	m.Items = make([]OrderItemModel, len(o.Items))
	for i, item := range o.Items {
		m.Items[i].FromDomain(item)
	}
}

// OrderModelFromDomain creates a new persistence model from a domain Order
func OrderModelFromDomain(o *order.Order) *OrderModel {
	m := &OrderModel{}
	m.FromDomain(o)
	return m
}

// OrderItemModel is the persistence model for an order line
type OrderItemModel struct {
	ID        uuid.UUID       `gorm:"type:uuid;primaryKey"`
	OrderID   uuid.UUID       `gorm:"type:uuid;not null;index"`
	SKU       string          `gorm:"column:sku;type:varchar(100);not null"`
	Name      string          `gorm:"type:varchar(300);not null"`
	Quantity  int             `gorm:"not null"`
	UnitPrice decimal.Decimal `gorm:"type:decimal(18,2);not null"`
	IsTaxable bool            `gorm:"not null"`
}

// TableName returns the table name for GORM
func (OrderItemModel) TableName() string {
	return "order_items"
}

// ToDomain converts the persistence model to a domain OrderItem
func (m *OrderItemModel) ToDomain() order.OrderItem {
	return order.OrderItem{
		ID:        m.ID,
		OrderID:   m.OrderID,
		SKU:       m.SKU,
		Name:      m.Name,
		Quantity:  m.Quantity,
		UnitPrice: m.UnitPrice,
		IsTaxable: m.IsTaxable,
	}
}

// FromDomain populates the persistence model from a domain OrderItem
func (m *OrderItemModel) FromDomain(i order.OrderItem) {
	m.ID = i.ID
	m.OrderID = i.OrderID
	m.SKU = i.SKU
	m.Name = i.Name
	m.Quantity = i.Quantity
	m.UnitPrice = i.UnitPrice
	m.IsTaxable = i.IsTaxable
}

// PaymentModel is the persistence model for a payment attempt
type PaymentModel struct {
	ID            uuid.UUID       `gorm:"type:uuid;primaryKey"`
	OrderID       uuid.UUID       `gorm:"type:uuid;not null;index"`
	Provider      string          `gorm:"type:varchar(50);not null"`
	IntentID      *string         `gorm:"type:varchar(100);uniqueIndex"`
	Status        string          `gorm:"type:varchar(20);not null"`
	Amount        decimal.Decimal `gorm:"type:decimal(18,2);not null"`
	AuthorizedAt  *time.Time
	FailureReason string    `gorm:"type:varchar(500)"`
	CreatedAt     time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (PaymentModel) TableName() string {
	return "payments"
}

// ToDomain converts the persistence model to a domain Payment
func (m *PaymentModel) ToDomain() *order.Payment {
	return &order.Payment{
		ID:            m.ID,
		OrderID:       m.OrderID,
		Provider:      m.Provider,
		IntentID:      m.IntentID,
		Status:        order.PaymentStatus(m.Status),
		Amount:        m.Amount,
		AuthorizedAt:  m.AuthorizedAt,
		FailureReason: m.FailureReason,
		CreatedAt:     m.CreatedAt,
	}
}

// FromDomain populates the persistence model from a domain Payment
func (m *PaymentModel) FromDomain(p *order.Payment) {
	m.ID = p.ID
	m.OrderID = p.OrderID
	m.Provider = p.Provider
	m.IntentID = p.IntentID
	m.Status = string(p.Status)
	m.Amount = p.Amount
	m.AuthorizedAt = p.AuthorizedAt
	m.FailureReason = p.FailureReason
	m.CreatedAt = p.CreatedAt
}

// InventoryReservationModel is the persistence model for a reservation attempt
type InventoryReservationModel struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey"`
	OrderID       uuid.UUID `gorm:"type:uuid;not null;index"`
	SKU           string    `gorm:"column:sku;type:varchar(100);not null;index:idx_reservations_sku_status,priority:1"`
	Quantity      int       `gorm:"not null"`
	Status        string    `gorm:"type:varchar(20);not null;index:idx_reservations_sku_status,priority:2"`
	ReservedAt    time.Time `gorm:"not null"`
	ReleasedAt    *time.Time
	FailureReason string `gorm:"type:varchar(500)"`
}

// TableName returns the table name for GORM
func (InventoryReservationModel) TableName() string {
	return "inventory_reservations"
}

// ToDomain converts the persistence model to a domain InventoryReservation
func (m *InventoryReservationModel) ToDomain() *order.InventoryReservation {
	return &order.InventoryReservation{
		ID:            m.ID,
		OrderID:       m.OrderID,
		SKU:           m.SKU,
		Quantity:      m.Quantity,
		Status:        order.ReservationStatus(m.Status),
		ReservedAt:    m.ReservedAt,
		ReleasedAt:    m.ReleasedAt,
		FailureReason: m.FailureReason,
	}
}

// FromDomain populates the persistence model from a domain InventoryReservation
func (m *InventoryReservationModel) FromDomain(r *order.InventoryReservation) {
	m.ID = r.ID
	m.OrderID = r.OrderID
	m.SKU = r.SKU
	m.Quantity = r.Quantity
	m.Status = string(r.Status)
	m.ReservedAt = r.ReservedAt
	m.ReleasedAt = r.ReleasedAt
	m.FailureReason = r.FailureReason
}

// OrderEventModel is the persistence model for the append-only audit trail
type OrderEventModel struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	OrderID   uuid.UUID `gorm:"type:uuid;not null;index:idx_order_events_order_created,priority:1"`
	EventType string    `gorm:"type:varchar(100);not null"`
	Payload   []byte    `gorm:"type:jsonb;not null"`
	CreatedAt time.Time `gorm:"not null;index:idx_order_events_order_created,priority:2"`
}

// TableName returns the table name for GORM
func (OrderEventModel) TableName() string {
	return "order_events"
}

// ToDomain converts the persistence model to a domain OrderEvent
func (m *OrderEventModel) ToDomain() *order.OrderEvent {
	return &order.OrderEvent{
		ID:        m.ID,
		OrderID:   m.OrderID,
		EventType: m.EventType,
		Payload:   m.Payload,
		CreatedAt: m.CreatedAt,
	}
}

// FromDomain populates the persistence model from a domain OrderEvent
func (m *OrderEventModel) FromDomain(e *order.OrderEvent) {
	m.ID = e.ID
	m.OrderID = e.OrderID
	m.EventType = e.EventType
	m.Payload = e.Payload
	m.CreatedAt = e.CreatedAt
}
