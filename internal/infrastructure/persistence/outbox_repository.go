package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/orderflow/backend/internal/domain/shared"
	"github.com/orderflow/backend/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormOutboxRepository implements shared.OutboxRepository using GORM
type GormOutboxRepository struct {
	db *gorm.DB
}

// NewGormOutboxRepository creates a new GORM-based outbox repository
func NewGormOutboxRepository(db *gorm.DB) *GormOutboxRepository {
	return &GormOutboxRepository{db: db}
}

// WithTx returns a new repository instance bound to the given transaction
func (r *GormOutboxRepository) WithTx(tx *gorm.DB) *GormOutboxRepository {
	return &GormOutboxRepository{db: tx}
}

// Save persists one or more outbox messages
func (r *GormOutboxRepository) Save(ctx context.Context, msgs ...*shared.OutboxMessage) error {
	if len(msgs) == 0 {
		return nil
	}
	rows := make([]*models.OutboxMessageModel, len(msgs))
	for i, m := range msgs {
		rows[i] = models.OutboxMessageModelFromDomain(m)
	}
	return r.db.WithContext(ctx).Create(rows).Error
}

// Claim locks due messages with FOR UPDATE SKIP LOCKED and pushes their next
// attempt out to leaseUntil, so concurrent relays skip them and a relay that
// dies mid-batch leaves them due again once the lease expires.
func (r *GormOutboxRepository) Claim(ctx context.Context, now, leaseUntil time.Time, limit int) ([]*shared.OutboxMessage, error) {
	var rows []models.OutboxMessageModel

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("status = ? AND published_at IS NULL AND next_attempt_at <= ?", shared.OutboxStatusPending, now).
			Order("created_at ASC").
			Limit(limit).
			Find(&rows).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}

		ids := make([]uuid.UUID, len(rows))
		for i := range rows {
			ids[i] = rows[i].ID
		}
		return tx.Model(&models.OutboxMessageModel{}).
			Where("id IN ?", ids).
			Updates(map[string]any{
				"next_attempt_at": leaseUntil,
				"updated_at":      now,
			}).Error
	})
	if err != nil {
		return nil, err
	}

	msgs := make([]*shared.OutboxMessage, len(rows))
	for i := range rows {
		rows[i].NextAttemptAt = leaseUntil
		rows[i].UpdatedAt = now
		msgs[i] = rows[i].ToDomain()
	}
	return msgs, nil
}

// Update persists the delivery state of a message. A published timestamp
// already stored is never overwritten.
func (r *GormOutboxRepository) Update(ctx context.Context, msg *shared.OutboxMessage) error {
	updates := map[string]any{
		"status":          msg.Status,
		"attempts":        msg.Attempts,
		"max_attempts":    msg.MaxAttempts,
		"last_error":      msg.LastError,
		"next_attempt_at": msg.NextAttemptAt,
		"updated_at":      msg.UpdatedAt,
	}
	if msg.PublishedAt != nil {
		updates["published_at"] = gorm.Expr("COALESCE(published_at, ?)", *msg.PublishedAt)
	}
	result := r.db.WithContext(ctx).
		Model(&models.OutboxMessageModel{}).
		Where("id = ?", msg.ID).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// FindByID retrieves a single outbox message by ID
func (r *GormOutboxRepository) FindByID(ctx context.Context, id uuid.UUID) (*shared.OutboxMessage, error) {
	var row models.OutboxMessageModel
	if err := r.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return row.ToDomain(), nil
}

// FindDead retrieves dead letter messages with pagination, most recently failed first
func (r *GormOutboxRepository) FindDead(ctx context.Context, page, pageSize int) ([]*shared.OutboxMessage, int64, error) {
	var rows []models.OutboxMessageModel
	var total int64

	if err := r.db.WithContext(ctx).
		Model(&models.OutboxMessageModel{}).
		Where("status = ?", shared.OutboxStatusDead).
		Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * pageSize
	if err := r.db.WithContext(ctx).
		Where("status = ?", shared.OutboxStatusDead).
		Order("updated_at DESC").
		Offset(offset).
		Limit(pageSize).
		Find(&rows).Error; err != nil {
		return nil, 0, err
	}

	msgs := make([]*shared.OutboxMessage, len(rows))
	for i := range rows {
		msgs[i] = rows[i].ToDomain()
	}
	return msgs, total, nil
}

// CountUnpublished returns the number of messages that have not reached the bus
func (r *GormOutboxRepository) CountUnpublished(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.OutboxMessageModel{}).
		Where("published_at IS NULL").
		Count(&count).Error
	return count, err
}

// CountByStatus returns count of messages for each status
func (r *GormOutboxRepository) CountByStatus(ctx context.Context) (map[shared.OutboxStatus]int64, error) {
	type statusCount struct {
		Status shared.OutboxStatus
		Count  int64
	}

	var results []statusCount
	err := r.db.WithContext(ctx).
		Model(&models.OutboxMessageModel{}).
		Select("status, count(*) as count").
		Group("status").
		Scan(&results).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[shared.OutboxStatus]int64)
	for _, c := range results {
		counts[c.Status] = c.Count
	}
	return counts, nil
}

// DeletePublishedBefore deletes published messages older than the cutoff
func (r *GormOutboxRepository) DeletePublishedBefore(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("status = ? AND published_at < ?", shared.OutboxStatusPublished, before).
		Delete(&models.OutboxMessageModel{})
	return result.RowsAffected, result.Error
}

// Ensure GormOutboxRepository implements OutboxRepository
var _ shared.OutboxRepository = (*GormOutboxRepository)(nil)
