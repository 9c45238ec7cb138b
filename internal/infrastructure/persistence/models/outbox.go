package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/orderflow/backend/internal/domain/shared"
)

// OutboxMessageModel is the persistence model for messages awaiting relay
type OutboxMessageModel struct {
	ID            uuid.UUID           `gorm:"type:uuid;primaryKey"`
	Type          string              `gorm:"type:varchar(100);not null"`
	Payload       []byte              `gorm:"type:jsonb;not null"`
	CorrelationID uuid.UUID           `gorm:"type:uuid;not null;index:idx_outbox_correlation"`
	Status        shared.OutboxStatus `gorm:"type:varchar(20);not null;index:idx_outbox_status_next,priority:1"`
	Attempts      int                 `gorm:"not null"`
	MaxAttempts   int                 `gorm:"not null"`
	LastError     string              `gorm:"type:text"`
	NextAttemptAt time.Time           `gorm:"not null;index:idx_outbox_status_next,priority:2"`
	PublishedAt   *time.Time          `gorm:"index:idx_outbox_published"`
	CreatedAt     time.Time           `gorm:"not null;index:idx_outbox_created"`
	UpdatedAt     time.Time           `gorm:"not null"`
}

// TableName returns the table name for GORM
func (OutboxMessageModel) TableName() string {
	return "outbox_messages"
}

// ToDomain converts the persistence model to a domain OutboxMessage
func (m *OutboxMessageModel) ToDomain() *shared.OutboxMessage {
	return &shared.OutboxMessage{
		ID:            m.ID,
		Type:          m.Type,
		Payload:       m.Payload,
		CorrelationID: m.CorrelationID,
		Status:        m.Status,
		Attempts:      m.Attempts,
		MaxAttempts:   m.MaxAttempts,
		LastError:     m.LastError,
		NextAttemptAt: m.NextAttemptAt,
		PublishedAt:   m.PublishedAt,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

// FromDomain populates the persistence model from a domain OutboxMessage
func (m *OutboxMessageModel) FromDomain(e *shared.OutboxMessage) {
	m.ID = e.ID
	m.Type = e.Type
	m.Payload = e.Payload
	m.CorrelationID = e.CorrelationID
	m.Status = e.Status
	m.Attempts = e.Attempts
	m.MaxAttempts = e.MaxAttempts
	m.LastError = e.LastError
	m.NextAttemptAt = e.NextAttemptAt
	m.PublishedAt = e.PublishedAt
	m.CreatedAt = e.CreatedAt
	m.UpdatedAt = e.UpdatedAt
}

// OutboxMessageModelFromDomain creates a new persistence model from a domain OutboxMessage
func OutboxMessageModelFromDomain(e *shared.OutboxMessage) *OutboxMessageModel {
	m := &OutboxMessageModel{}
	m.FromDomain(e)
	return m
}
