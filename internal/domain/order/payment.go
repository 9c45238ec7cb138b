package order

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaymentStatus is the outcome of one authorization attempt
type PaymentStatus string

const (
	PaymentStatusAuthorized PaymentStatus = "Authorized"
	PaymentStatusFailed     PaymentStatus = "Failed"
)

// Payment records one authorization attempt. A retried authorization
// appends a new row; rows are never updated.
type Payment struct {
	ID            uuid.UUID
	OrderID       uuid.UUID
	Provider      string
	IntentID      *string
	Status        PaymentStatus
	Amount        decimal.Decimal
	AuthorizedAt  *time.Time
	FailureReason string
	CreatedAt     time.Time
}

// NewAuthorizedPayment records a successful authorization
func NewAuthorizedPayment(orderID uuid.UUID, provider, intentID string, amount decimal.Decimal, now time.Time) *Payment {
	authorizedAt := now
	return &Payment{
		ID:           uuid.New(),
		OrderID:      orderID,
		Provider:     provider,
		IntentID:     &intentID,
		Status:       PaymentStatusAuthorized,
		Amount:       amount,
		AuthorizedAt: &authorizedAt,
		CreatedAt:    now,
	}
}

// NewFailedPayment records a declined or errored authorization
func NewFailedPayment(orderID uuid.UUID, provider string, amount decimal.Decimal, reason string, now time.Time) *Payment {
	return &Payment{
		ID:            uuid.New(),
		OrderID:       orderID,
		Provider:      provider,
		Status:        PaymentStatusFailed,
		Amount:        amount,
		FailureReason: reason,
		CreatedAt:     now,
	}
}

// IsAuthorized reports whether the attempt succeeded
func (p *Payment) IsAuthorized() bool {
	return p.Status == PaymentStatusAuthorized
}
