package shared

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// OutboxStatus represents the delivery state of an outbox message
type OutboxStatus string

const (
	OutboxStatusPending   OutboxStatus = "PENDING"
	OutboxStatusPublished OutboxStatus = "PUBLISHED"
	OutboxStatusDead      OutboxStatus = "DEAD"
)

// Default retry configuration
const (
	DefaultMaxAttempts = 10
	DefaultBaseBackoff = time.Second
	DefaultMaxBackoff  = 5 * time.Minute
)

// maxShift caps the exponent so the backoff multiplication cannot overflow
const maxShift = 32

// RetryPolicy bounds relay retries of a single message
type RetryPolicy struct {
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// DefaultRetryPolicy returns the default retry policy
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: DefaultMaxAttempts,
		BaseBackoff: DefaultBaseBackoff,
		MaxBackoff:  DefaultMaxBackoff,
	}
}

// Delay returns the wait before the next attempt after `attempts` failures:
// base * 2^(attempts-1), capped at MaxBackoff.
func (p RetryPolicy) Delay(attempts int) time.Duration {
	if p.BaseBackoff <= 0 || attempts <= 0 {
		return 0
	}
	shift := attempts - 1
	if shift > maxShift {
		shift = maxShift
	}
	delay := p.BaseBackoff * time.Duration(int64(1)<<uint(shift))
	if delay <= 0 || (p.MaxBackoff > 0 && delay > p.MaxBackoff) {
		return p.MaxBackoff
	}
	return delay
}

// OutboxMessage is a message written in the same transaction as the domain
// change that produced it and relayed to the bus afterwards.
// PublishedAt is set exactly once; Attempts only grows.
type OutboxMessage struct {
	ID            uuid.UUID
	Type          string
	Payload       []byte
	CorrelationID uuid.UUID
	Status        OutboxStatus
	Attempts      int
	MaxAttempts   int
	LastError     string
	NextAttemptAt time.Time
	PublishedAt   *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// NewOutboxMessage creates a pending outbox message due immediately
func NewOutboxMessage(msgType string, correlationID uuid.UUID, payload []byte, now time.Time) *OutboxMessage {
	return &OutboxMessage{
		ID:            uuid.New(),
		Type:          msgType,
		Payload:       payload,
		CorrelationID: correlationID,
		Status:        OutboxStatusPending,
		MaxAttempts:   DefaultMaxAttempts,
		NextAttemptAt: now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// IsPublished reports whether the message reached the bus
func (m *OutboxMessage) IsPublished() bool {
	return m.PublishedAt != nil
}

// IsDead returns true if the message is in dead letter status
func (m *OutboxMessage) IsDead() bool {
	return m.Status == OutboxStatusDead
}

// MarkPublished records a successful hand-off to the bus
func (m *OutboxMessage) MarkPublished(now time.Time) {
	m.Attempts++
	if m.PublishedAt == nil {
		published := now
		m.PublishedAt = &published
	}
	m.Status = OutboxStatusPublished
	m.LastError = ""
	m.UpdatedAt = now
}

// RecordFailure records a failed publish attempt and schedules the next one.
// The message is dead-lettered once it reaches its attempt ceiling.
func (m *OutboxMessage) RecordFailure(errMsg string, now time.Time, policy RetryPolicy) {
	m.Attempts++
	m.LastError = errMsg
	m.UpdatedAt = now

	maxAttempts := m.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = policy.MaxAttempts
	}
	if maxAttempts > 0 && m.Attempts >= maxAttempts {
		m.Status = OutboxStatusDead
		return
	}
	m.Status = OutboxStatusPending
	m.NextAttemptAt = now.Add(policy.Delay(m.Attempts))
}

// DeadLetter quarantines a message that can never be published
func (m *OutboxMessage) DeadLetter(errMsg string, now time.Time) {
	m.Attempts++
	m.LastError = errMsg
	m.Status = OutboxStatusDead
	m.UpdatedAt = now
}

// Requeue moves a dead letter back to pending and grants it another
// `extraAttempts` tries. Attempts are not reset.
func (m *OutboxMessage) Requeue(extraAttempts int, now time.Time) error {
	if m.Status != OutboxStatusDead {
		return errors.New("can only requeue dead letter messages")
	}
	if extraAttempts <= 0 {
		extraAttempts = DefaultMaxAttempts
	}
	m.Status = OutboxStatusPending
	m.MaxAttempts = m.Attempts + extraAttempts
	m.NextAttemptAt = now
	m.UpdatedAt = now
	return nil
}

// OutboxRepository defines the interface for outbox persistence
type OutboxRepository interface {
	// Save persists one or more outbox messages
	Save(ctx context.Context, msgs ...*OutboxMessage) error
	// Claim locks up to limit due messages (unpublished, pending, next attempt
	// at or before now) in creation order and leases them until leaseUntil.
	Claim(ctx context.Context, now, leaseUntil time.Time, limit int) ([]*OutboxMessage, error)
	// Update persists delivery state of a message
	Update(ctx context.Context, msg *OutboxMessage) error
	// FindByID retrieves a single outbox message by ID
	FindByID(ctx context.Context, id uuid.UUID) (*OutboxMessage, error)
	// FindDead retrieves dead letter messages with pagination
	FindDead(ctx context.Context, page, pageSize int) ([]*OutboxMessage, int64, error)
	// CountUnpublished returns the number of messages with no published timestamp
	CountUnpublished(ctx context.Context) (int64, error)
	// CountByStatus returns count of messages for each status
	CountByStatus(ctx context.Context) (map[OutboxStatus]int64, error)
	// DeletePublishedBefore deletes published messages older than the cutoff
	DeletePublishedBefore(ctx context.Context, before time.Time) (int64, error)
}
