package order

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/orderflow/backend/internal/domain/shared"
)

// ListFilter narrows an admin order listing
type ListFilter struct {
	Status   Status
	FromDate *time.Time
	ToDate   *time.Time
	Page     int
	PageSize int
	// OrderBy is a column name; unknown columns fall back to created_at
	OrderBy  string
	OrderDir string
}

// Repository persists the order aggregate. Every write that changes
// order state also writes its outbox message in the same transaction.
type Repository interface {
	// FindByID loads an order with its items
	FindByID(ctx context.Context, id uuid.UUID) (*Order, error)
	// FindByIdempotencyKey loads the order created for (key, customer)
	FindByIdempotencyKey(ctx context.Context, key, customerID string) (*Order, error)
	// Create inserts the order, its items and the outbox message atomically.
	// Returns shared.ErrAlreadyExists when (key, customer) is taken.
	Create(ctx context.Context, o *Order, msg *shared.OutboxMessage) error
	// ApplyStatusChange performs the compare-and-swap status update, appends
	// the audit event, releases reservations when asked and writes the
	// outbox message atomically. Returns shared.ErrConcurrencyConflict when
	// the stored version or status no longer matches.
	ApplyStatusChange(ctx context.Context, change *StatusChange, msg *shared.OutboxMessage) error
	// List returns a page of orders, newest first, and the total count
	List(ctx context.Context, filter ListFilter) ([]*Order, int64, error)
	// CountByStatus returns the number of orders per status
	CountByStatus(ctx context.Context) (map[Status]int64, error)
	// ListEvents returns the audit trail, newest first
	ListEvents(ctx context.Context, orderID uuid.UUID) ([]*OrderEvent, error)
}

// ReservationRepository persists inventory reservation attempts
type ReservationRepository interface {
	Save(ctx context.Context, reservations ...*InventoryReservation) error
	FindByOrder(ctx context.Context, orderID uuid.UUID) ([]*InventoryReservation, error)
	// ReleaseByOrder moves every Reserved row of the order to Released
	ReleaseByOrder(ctx context.Context, orderID uuid.UUID, at time.Time) (int64, error)
}

// PaymentRepository persists payment authorization attempts
type PaymentRepository interface {
	Save(ctx context.Context, payment *Payment) error
	FindByOrder(ctx context.Context, orderID uuid.UUID) ([]*Payment, error)
}
