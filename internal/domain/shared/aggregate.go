package shared

import (
	"time"

	"github.com/google/uuid"
)

// BaseAggregateRoot provides identity, optimistic-lock version and timestamps
// for aggregate roots. Version starts at 1 and is bumped on every persisted
// state change; repositories use it for compare-and-swap updates.
type BaseAggregateRoot struct {
	ID        uuid.UUID
	Version   int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewBaseAggregateRoot creates a new base aggregate root
func NewBaseAggregateRoot(now time.Time) BaseAggregateRoot {
	return BaseAggregateRoot{
		ID:        uuid.New(),
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// GetID returns the aggregate id
func (a *BaseAggregateRoot) GetID() uuid.UUID {
	return a.ID
}

// GetVersion returns the aggregate version for optimistic locking
func (a *BaseAggregateRoot) GetVersion() int {
	return a.Version
}

// Touch bumps the version and the update timestamp
func (a *BaseAggregateRoot) Touch(now time.Time) {
	a.Version++
	a.UpdatedAt = now
}
