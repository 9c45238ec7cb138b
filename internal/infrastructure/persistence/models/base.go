package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/orderflow/backend/internal/domain/shared"
)

// AggregateModel provides the common persistence fields for aggregate roots,
// including the version column used for compare-and-swap updates.
type AggregateModel struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	Version   int       `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// ToDomain converts AggregateModel to the domain BaseAggregateRoot
func (m *AggregateModel) ToDomain() shared.BaseAggregateRoot {
	return shared.BaseAggregateRoot{
		ID:        m.ID,
		Version:   m.Version,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

// FromDomain populates AggregateModel from the domain BaseAggregateRoot
func (m *AggregateModel) FromDomain(a shared.BaseAggregateRoot) {
	m.ID = a.ID
	m.Version = a.Version
	m.CreatedAt = a.CreatedAt
	m.UpdatedAt = a.UpdatedAt
}

// AllModels returns every model in dependency order, for AutoMigrate
func AllModels() []any {
	return []any{
		&OrderModel{},
		&OrderItemModel{},
		&PaymentModel{},
		&InventoryReservationModel{},
		&OrderEventModel{},
		&OutboxMessageModel{},
	}
}
