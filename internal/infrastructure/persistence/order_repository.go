package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/orderflow/backend/internal/domain/order"
	"github.com/orderflow/backend/internal/domain/shared"
	"github.com/orderflow/backend/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
)

// GormOrderRepository implements order.Repository using GORM
type GormOrderRepository struct {
	db *gorm.DB
}

// NewGormOrderRepository creates a new GORM-based order repository
func NewGormOrderRepository(db *gorm.DB) *GormOrderRepository {
	return &GormOrderRepository{db: db}
}

// WithTx returns a new repository instance bound to the given transaction
func (r *GormOrderRepository) WithTx(tx *gorm.DB) *GormOrderRepository {
	return &GormOrderRepository{db: tx}
}

// FindByID finds an order with its items
func (r *GormOrderRepository) FindByID(ctx context.Context, id uuid.UUID) (*order.Order, error) {
	var m models.OrderModel
	if err := r.db.WithContext(ctx).
		Preload("Items").
		First(&m, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return m.ToDomain(), nil
}

// FindByIdempotencyKey finds the order created for the (key, customer) pair
func (r *GormOrderRepository) FindByIdempotencyKey(ctx context.Context, key, customerID string) (*order.Order, error) {
	var m models.OrderModel
	if err := r.db.WithContext(ctx).
		Preload("Items").
		Where("idempotency_key = ? AND customer_id = ?", key, customerID).
		First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return m.ToDomain(), nil
}

// Create inserts the order, its items and the outbox message in one transaction
func (r *GormOrderRepository) Create(ctx context.Context, o *order.Order, msg *shared.OutboxMessage) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(models.OrderModelFromDomain(o)).Error; err != nil {
			if isUniqueViolation(err) {
				return shared.WrapDomainError("ALREADY_EXISTS", "Order already exists for idempotency key", err)
			}
			return err
		}
		if msg == nil {
			return nil
		}
		return NewGormOutboxRepository(tx).Save(ctx, msg)
	})
}

// ApplyStatusChange updates status and version only if both still hold the
// values the change was computed from, then appends the audit event,
// releases reservations when requested and writes the outbox message.
func (r *GormOrderRepository) ApplyStatusChange(ctx context.Context, change *order.StatusChange, msg *shared.OutboxMessage) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.OrderModel{}).
			Where("id = ? AND version = ? AND status = ?", change.OrderID, change.ExpectedVersion, string(change.From)).
			Updates(map[string]any{
				"status":     string(change.To),
				"version":    change.Version,
				"updated_at": change.At,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return shared.WrapDomainError("CONCURRENCY_CONFLICT",
				fmt.Sprintf("Order %s was modified concurrently", change.OrderID), shared.ErrConcurrencyConflict)
		}

		if change.ReleaseReservations {
			if _, err := NewGormReservationRepository(tx).ReleaseByOrder(ctx, change.OrderID, change.At); err != nil {
				return err
			}
		}

		if change.Event != nil {
			event := &models.OrderEventModel{}
			event.FromDomain(change.Event)
			if err := tx.Create(event).Error; err != nil {
				return err
			}
		}

		if msg == nil {
			return nil
		}
		return NewGormOutboxRepository(tx).Save(ctx, msg)
	})
}

// FindStalled returns in-progress orders last touched before the given
// time, oldest first, with their items.
func (r *GormOrderRepository) FindStalled(ctx context.Context, before time.Time, limit int) ([]*order.Order, error) {
	statuses := make([]string, 0, len(order.InProgressStatuses()))
	for _, s := range order.InProgressStatuses() {
		statuses = append(statuses, string(s))
	}

	var rows []models.OrderModel
	if err := r.db.WithContext(ctx).
		Preload("Items").
		Where("status IN ? AND updated_at < ?", statuses, before).
		Order("updated_at ASC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	orders := make([]*order.Order, len(rows))
	for i := range rows {
		orders[i] = rows[i].ToDomain()
	}
	return orders, nil
}

// List returns a page of orders (without items), newest first by default
func (r *GormOrderRepository) List(ctx context.Context, filter order.ListFilter) ([]*order.Order, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.OrderModel{})
	if filter.Status != "" {
		query = query.Where("status = ?", string(filter.Status))
	}
	if filter.FromDate != nil {
		query = query.Where("created_at >= ?", *filter.FromDate)
	}
	if filter.ToDate != nil {
		query = query.Where("created_at <= ?", *filter.ToDate)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page, pageSize := filter.Page, filter.PageSize
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 50
	}

	sortField := ValidateSortField(filter.OrderBy, OrderSortFields, "created_at")
	sortOrder := ValidateSortOrder(filter.OrderDir)

	var rows []models.OrderModel
	if err := query.
		Order(sortField + " " + sortOrder).
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&rows).Error; err != nil {
		return nil, 0, err
	}

	orders := make([]*order.Order, len(rows))
	for i := range rows {
		orders[i] = rows[i].ToDomain()
	}
	return orders, total, nil
}

// CountByStatus returns the number of orders per status
func (r *GormOrderRepository) CountByStatus(ctx context.Context) (map[order.Status]int64, error) {
	type statusCount struct {
		Status string
		Count  int64
	}

	var results []statusCount
	if err := r.db.WithContext(ctx).
		Model(&models.OrderModel{}).
		Select("status, count(*) as count").
		Group("status").
		Scan(&results).Error; err != nil {
		return nil, err
	}

	counts := make(map[order.Status]int64, len(results))
	for _, c := range results {
		counts[order.Status(c.Status)] = c.Count
	}
	return counts, nil
}

// ListEvents returns the audit trail of an order, newest first
func (r *GormOrderRepository) ListEvents(ctx context.Context, orderID uuid.UUID) ([]*order.OrderEvent, error) {
	var rows []models.OrderEventModel
	if err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at DESC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	events := make([]*order.OrderEvent, len(rows))
	for i := range rows {
		events[i] = rows[i].ToDomain()
	}
	return events, nil
}

// Ensure GormOrderRepository implements order.Repository
var _ order.Repository = (*GormOrderRepository)(nil)

// GormReservationRepository implements order.ReservationRepository using GORM
type GormReservationRepository struct {
	db *gorm.DB
}

// NewGormReservationRepository creates a new GORM-based reservation repository
func NewGormReservationRepository(db *gorm.DB) *GormReservationRepository {
	return &GormReservationRepository{db: db}
}

// Save inserts reservation attempts
func (r *GormReservationRepository) Save(ctx context.Context, reservations ...*order.InventoryReservation) error {
	if len(reservations) == 0 {
		return nil
	}
	rows := make([]*models.InventoryReservationModel, len(reservations))
	for i, res := range reservations {
		rows[i] = &models.InventoryReservationModel{}
		rows[i].FromDomain(res)
	}
	return r.db.WithContext(ctx).Create(rows).Error
}

// FindByOrder returns every reservation attempt of an order, oldest first
func (r *GormReservationRepository) FindByOrder(ctx context.Context, orderID uuid.UUID) ([]*order.InventoryReservation, error) {
	var rows []models.InventoryReservationModel
	if err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("reserved_at ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*order.InventoryReservation, len(rows))
	for i := range rows {
		out[i] = rows[i].ToDomain()
	}
	return out, nil
}

// ReleaseByOrder releases every Reserved row of the order
func (r *GormReservationRepository) ReleaseByOrder(ctx context.Context, orderID uuid.UUID, at time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.InventoryReservationModel{}).
		Where("order_id = ? AND status = ?", orderID, string(order.ReservationStatusReserved)).
		Updates(map[string]any{
			"status":      string(order.ReservationStatusReleased),
			"released_at": at,
		})
	return result.RowsAffected, result.Error
}

var _ order.ReservationRepository = (*GormReservationRepository)(nil)

// GormPaymentRepository implements order.PaymentRepository using GORM
type GormPaymentRepository struct {
	db *gorm.DB
}

// NewGormPaymentRepository creates a new GORM-based payment repository
func NewGormPaymentRepository(db *gorm.DB) *GormPaymentRepository {
	return &GormPaymentRepository{db: db}
}

// Save inserts a payment attempt
func (r *GormPaymentRepository) Save(ctx context.Context, payment *order.Payment) error {
	m := &models.PaymentModel{}
	m.FromDomain(payment)
	if err := r.db.WithContext(ctx).Create(m).Error; err != nil {
		if isUniqueViolation(err) {
			return shared.WrapDomainError("ALREADY_EXISTS", "Payment intent already recorded", err)
		}
		return err
	}
	return nil
}

// FindByOrder returns every payment attempt of an order, oldest first
func (r *GormPaymentRepository) FindByOrder(ctx context.Context, orderID uuid.UUID) ([]*order.Payment, error) {
	var rows []models.PaymentModel
	if err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*order.Payment, len(rows))
	for i := range rows {
		out[i] = rows[i].ToDomain()
	}
	return out, nil
}

var _ order.PaymentRepository = (*GormPaymentRepository)(nil)
