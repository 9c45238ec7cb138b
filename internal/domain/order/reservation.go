package order

import (
	"time"

	"github.com/google/uuid"
	"github.com/orderflow/backend/internal/domain/shared"
)

// ReservationStatus is the state of a held inventory line
type ReservationStatus string

const (
	ReservationStatusReserved ReservationStatus = "Reserved"
	ReservationStatusReleased ReservationStatus = "Released"
	ReservationStatusFailed   ReservationStatus = "Failed"
)

// InventoryReservation records one sku held (or not) for an order
type InventoryReservation struct {
	ID            uuid.UUID
	OrderID       uuid.UUID
	SKU           string
	Quantity      int
	Status        ReservationStatus
	ReservedAt    time.Time
	ReleasedAt    *time.Time
	FailureReason string
}

// NewReservation records a successfully held line
func NewReservation(orderID uuid.UUID, sku string, quantity int, now time.Time) *InventoryReservation {
	return &InventoryReservation{
		ID:         uuid.New(),
		OrderID:    orderID,
		SKU:        sku,
		Quantity:   quantity,
		Status:     ReservationStatusReserved,
		ReservedAt: now,
	}
}

// NewFailedReservation records a line that could not be held
func NewFailedReservation(orderID uuid.UUID, sku string, quantity int, reason string, now time.Time) *InventoryReservation {
	return &InventoryReservation{
		ID:            uuid.New(),
		OrderID:       orderID,
		SKU:           sku,
		Quantity:      quantity,
		Status:        ReservationStatusFailed,
		ReservedAt:    now,
		FailureReason: reason,
	}
}

// Release frees a reserved line
func (r *InventoryReservation) Release(now time.Time) error {
	if r.Status != ReservationStatusReserved {
		return shared.NewDomainError("INVALID_STATE", "Only reserved inventory can be released")
	}
	r.Status = ReservationStatusReleased
	r.ReleasedAt = &now
	return nil
}
