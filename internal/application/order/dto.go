package order

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/orderflow/backend/internal/domain/order"
)

// ==================== Intake DTOs ====================

// ShippingAddressInput is the delivery address of a create request
type ShippingAddressInput struct {
	Name       string `json:"name" binding:"required,min=1,max=200"`
	Line1      string `json:"line1" binding:"required,min=1,max=200"`
	Line2      string `json:"line2,omitempty" binding:"max=200"`
	City       string `json:"city" binding:"required,min=1,max=100"`
	State      string `json:"state" binding:"required,min=1,max=50"`
	PostalCode string `json:"postalCode" binding:"required,min=1,max=20"`
	Country    string `json:"country" binding:"required,min=1,max=50"`
}

// CreateOrderItemInput is one requested line
type CreateOrderItemInput struct {
	SKU       string          `json:"sku" binding:"required,min=1,max=100"`
	Name      string          `json:"name" binding:"required,min=1,max=300"`
	Quantity  int             `json:"quantity" binding:"required,min=1"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	IsTaxable *bool           `json:"isTaxable,omitempty"`
}

// CreateOrderRequest is the intake payload
type CreateOrderRequest struct {
	CustomerID      string                 `json:"customerId" binding:"required,min=1,max=200"`
	Currency        string                 `json:"currency" binding:"required,len=3"`
	ShippingAddress ShippingAddressInput   `json:"shippingAddress" binding:"required"`
	ShippingCost    decimal.Decimal        `json:"shippingCost"`
	Items           []CreateOrderItemInput `json:"items" binding:"required,min=1,dive"`
}

// OrderResponse is the public projection returned by intake
type OrderResponse struct {
	OrderID      uuid.UUID       `json:"orderId"`
	Status       string          `json:"status"`
	CustomerID   string          `json:"customerId"`
	Currency     string          `json:"currency"`
	Subtotal     decimal.Decimal `json:"subtotal"`
	ShippingCost decimal.Decimal `json:"shippingCost"`
	Tax          decimal.Decimal `json:"tax"`
	Total        decimal.Decimal `json:"total"`
	CreatedAt    time.Time       `json:"createdAt"`
}

// ==================== Query DTOs ====================

// OrderItemResponse is one line of an order
type OrderItemResponse struct {
	SKU       string          `json:"sku"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	IsTaxable bool            `json:"isTaxable"`
}

// ShippingAddressResponse mirrors ShippingAddressInput
type ShippingAddressResponse struct {
	Name       string `json:"name"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
}

// OrderDetailResponse is the public order detail
type OrderDetailResponse struct {
	OrderID         uuid.UUID               `json:"orderId"`
	Status          string                  `json:"status"`
	CustomerID      string                  `json:"customerId"`
	Currency        string                  `json:"currency"`
	ShippingAddress ShippingAddressResponse `json:"shippingAddress"`
	Subtotal        decimal.Decimal         `json:"subtotal"`
	ShippingCost    decimal.Decimal         `json:"shippingCost"`
	Tax             decimal.Decimal         `json:"tax"`
	Total           decimal.Decimal         `json:"total"`
	CreatedAt       time.Time               `json:"createdAt"`
	UpdatedAt       time.Time               `json:"updatedAt"`
	Items           []OrderItemResponse     `json:"items"`
}

// ==================== Admin DTOs ====================

// ListOrdersQuery filters the admin order list
type ListOrdersQuery struct {
	Status   string     `form:"status"`
	FromDate *time.Time `form:"fromDate" time_format:"2006-01-02T15:04:05Z07:00"`
	ToDate   *time.Time `form:"toDate" time_format:"2006-01-02T15:04:05Z07:00"`
	Page     int        `form:"page"`
	PageSize int        `form:"pageSize"`
	OrderBy  string     `form:"orderBy"`
	OrderDir string     `form:"orderDir" binding:"omitempty,oneof=asc desc ASC DESC"`
}

// OrderListItem is one row of the admin order list
type OrderListItem struct {
	ID         uuid.UUID       `json:"id"`
	CustomerID string          `json:"customerId"`
	Status     string          `json:"status"`
	Currency   string          `json:"currency"`
	Total      decimal.Decimal `json:"total"`
	CreatedAt  time.Time       `json:"createdAt"`
	UpdatedAt  time.Time       `json:"updatedAt"`
}

// ListOrdersResponse is a page of orders
type ListOrdersResponse struct {
	TotalCount int64           `json:"totalCount"`
	Page       int             `json:"page"`
	PageSize   int             `json:"pageSize"`
	Orders     []OrderListItem `json:"orders"`
}

// PaymentResponse is one authorization attempt
type PaymentResponse struct {
	ID            uuid.UUID       `json:"id"`
	Provider      string          `json:"provider"`
	IntentID      *string         `json:"intentId"`
	Status        string          `json:"status"`
	Amount        decimal.Decimal `json:"amount"`
	AuthorizedAt  *time.Time      `json:"authorizedAt"`
	FailureReason string          `json:"failureReason,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
}

// ReservationResponse is one held sku
type ReservationResponse struct {
	ID            uuid.UUID  `json:"id"`
	SKU           string     `json:"sku"`
	Quantity      int        `json:"quantity"`
	Status        string     `json:"status"`
	ReservedAt    time.Time  `json:"reservedAt"`
	ReleasedAt    *time.Time `json:"releasedAt"`
	FailureReason string     `json:"failureReason,omitempty"`
}

// OrderEventResponse is one audit record
type OrderEventResponse struct {
	ID        uuid.UUID       `json:"id"`
	EventType string          `json:"eventType"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"createdAt"`
}

// AdminOrderDetailResponse is the full operator view of an order
type AdminOrderDetailResponse struct {
	ID                    uuid.UUID               `json:"id"`
	CustomerID            string                  `json:"customerId"`
	Status                string                  `json:"status"`
	Currency              string                  `json:"currency"`
	IdempotencyKey        string                  `json:"idempotencyKey"`
	CorrelationID         uuid.UUID               `json:"correlationId"`
	Subtotal              decimal.Decimal         `json:"subtotal"`
	ShippingCost          decimal.Decimal         `json:"shippingCost"`
	Tax                   decimal.Decimal         `json:"tax"`
	Total                 decimal.Decimal         `json:"total"`
	TaxRate               decimal.Decimal         `json:"taxRate"`
	Version               int                     `json:"version"`
	ShippingAddress       ShippingAddressResponse `json:"shippingAddress"`
	Items                 []OrderItemResponse     `json:"items"`
	Payments              []PaymentResponse       `json:"payments"`
	InventoryReservations []ReservationResponse   `json:"inventoryReservations"`
	Events                []OrderEventResponse    `json:"events"`
	CreatedAt             time.Time               `json:"createdAt"`
	UpdatedAt             time.Time               `json:"updatedAt"`
}

// CancelOrderRequest is the optional admin cancel body
type CancelOrderRequest struct {
	Reason string `json:"reason" binding:"max=500"`
}

// CancelOrderResponse confirms a cancellation
type CancelOrderResponse struct {
	Message string    `json:"message"`
	OrderID uuid.UUID `json:"orderId"`
	Status  string    `json:"status"`
}

// ComponentHealth is the state of one dependency
type ComponentHealth struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// HealthStatistics summarises orders and the outbox
type HealthStatistics struct {
	TotalOrders                int64            `json:"totalOrders"`
	OrdersByStatus             map[string]int64 `json:"ordersByStatus"`
	UnpublishedOutboxMessages  int64            `json:"unpublishedOutboxMessages"`
	DeadLetteredOutboxMessages int64            `json:"deadLetteredOutboxMessages"`
	Error                      string           `json:"error,omitempty"`
}

// HealthResponse is the admin health report
type HealthResponse struct {
	Status     string           `json:"status"`
	Timestamp  time.Time        `json:"timestamp"`
	Database   ComponentHealth  `json:"database"`
	Statistics HealthStatistics `json:"statistics"`
}

// IsHealthy reports whether every component is healthy
func (h *HealthResponse) IsHealthy() bool {
	return h.Status == HealthStatusHealthy
}

const (
	HealthStatusHealthy   = "Healthy"
	HealthStatusUnhealthy = "Unhealthy"
)

// ==================== Mapping ====================

func toOrderResponse(o *order.Order) *OrderResponse {
	return &OrderResponse{
		OrderID:      o.ID,
		Status:       string(o.Status),
		CustomerID:   o.CustomerID,
		Currency:     o.Currency,
		Subtotal:     o.Subtotal,
		ShippingCost: o.ShippingCost,
		Tax:          o.Tax,
		Total:        o.Total,
		CreatedAt:    o.CreatedAt,
	}
}

func toAddressResponse(a order.ShippingAddress) ShippingAddressResponse {
	return ShippingAddressResponse{
		Name:       a.Name,
		Line1:      a.Line1,
		Line2:      a.Line2,
		City:       a.City,
		State:      a.State,
		PostalCode: a.PostalCode,
		Country:    a.Country,
	}
}

func toItemResponses(items []order.OrderItem) []OrderItemResponse {
	out := make([]OrderItemResponse, 0, len(items))
	for _, item := range items {
		out = append(out, OrderItemResponse{
			SKU:       item.SKU,
			Name:      item.Name,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			IsTaxable: item.IsTaxable,
		})
	}
	return out
}

func toOrderDetailResponse(o *order.Order) *OrderDetailResponse {
	return &OrderDetailResponse{
		OrderID:         o.ID,
		Status:          string(o.Status),
		CustomerID:      o.CustomerID,
		Currency:        o.Currency,
		ShippingAddress: toAddressResponse(o.ShippingAddress),
		Subtotal:        o.Subtotal,
		ShippingCost:    o.ShippingCost,
		Tax:             o.Tax,
		Total:           o.Total,
		CreatedAt:       o.CreatedAt,
		UpdatedAt:       o.UpdatedAt,
		Items:           toItemResponses(o.Items),
	}
}

func toEventResponses(events []*order.OrderEvent) []OrderEventResponse {
	out := make([]OrderEventResponse, 0, len(events))
	for _, e := range events {
		out = append(out, OrderEventResponse{
			ID:        e.ID,
			EventType: e.EventType,
			Payload:   json.RawMessage(e.Payload),
			CreatedAt: e.CreatedAt,
		})
	}
	return out
}
