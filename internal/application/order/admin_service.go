package order

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/orderflow/backend/internal/domain/contracts"
	"github.com/orderflow/backend/internal/domain/order"
	"github.com/orderflow/backend/internal/domain/shared"
	"github.com/orderflow/backend/internal/infrastructure/logger"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// OutboxCounter reports outbox backlog for the health view
type OutboxCounter interface {
	CountByStatus(ctx context.Context) (map[shared.OutboxStatus]int64, error)
}

// Pinger checks database connectivity
type Pinger interface {
	PingContext(ctx context.Context) error
}

// AdminService is the operator surface over orders
type AdminService struct {
	repo         order.Repository
	reservations order.ReservationRepository
	payments     order.PaymentRepository
	outbox       OutboxCounter
	db           Pinger
	clock        shared.Clock
	logger       *zap.Logger
}

// NewAdminService creates a new AdminService
func NewAdminService(
	repo order.Repository,
	reservations order.ReservationRepository,
	payments order.PaymentRepository,
	outbox OutboxCounter,
	db Pinger,
	clock shared.Clock,
	log *zap.Logger,
) *AdminService {
	if clock == nil {
		clock = shared.SystemClock{}
	}
	return &AdminService{
		repo:         repo,
		reservations: reservations,
		payments:     payments,
		outbox:       outbox,
		db:           db,
		clock:        clock,
		logger:       logger.OrNop(log).Named("order_admin"),
	}
}

// List returns a page of orders, newest first unless q says otherwise
func (s *AdminService) List(ctx context.Context, q ListOrdersQuery) (*ListOrdersResponse, error) {
	filter := order.ListFilter{
		FromDate: q.FromDate,
		ToDate:   q.ToDate,
		Page:     q.Page,
		PageSize: q.PageSize,
		OrderBy:  q.OrderBy,
		OrderDir: q.OrderDir,
	}
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PageSize < 1 {
		filter.PageSize = defaultPageSize
	}
	if filter.PageSize > maxPageSize {
		filter.PageSize = maxPageSize
	}
	if q.Status != "" {
		status := order.Status(q.Status)
		if !status.IsValid() {
			return nil, shared.NewDomainError("INVALID_INPUT", fmt.Sprintf("Unknown order status %q", q.Status))
		}
		filter.Status = status
	}

	orders, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	items := make([]OrderListItem, 0, len(orders))
	for _, o := range orders {
		items = append(items, OrderListItem{
			ID:         o.ID,
			CustomerID: o.CustomerID,
			Status:     string(o.Status),
			Currency:   o.Currency,
			Total:      o.Total,
			CreatedAt:  o.CreatedAt,
			UpdatedAt:  o.UpdatedAt,
		})
	}
	return &ListOrdersResponse{
		TotalCount: total,
		Page:       filter.Page,
		PageSize:   filter.PageSize,
		Orders:     items,
	}, nil
}

// GetDetail returns the order with payments, reservations and events
func (s *AdminService) GetDetail(ctx context.Context, id uuid.UUID) (*AdminOrderDetailResponse, error) {
	o, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	payments, err := s.payments.FindByOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	reservations, err := s.reservations.FindByOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	events, err := s.repo.ListEvents(ctx, id)
	if err != nil {
		return nil, err
	}

	resp := &AdminOrderDetailResponse{
		ID:                    o.ID,
		CustomerID:            o.CustomerID,
		Status:                string(o.Status),
		Currency:              o.Currency,
		IdempotencyKey:        o.IdempotencyKey,
		CorrelationID:         o.CorrelationID,
		Subtotal:              o.Subtotal,
		ShippingCost:          o.ShippingCost,
		Tax:                   o.Tax,
		Total:                 o.Total,
		TaxRate:               o.TaxRate,
		Version:               o.Version,
		ShippingAddress:       toAddressResponse(o.ShippingAddress),
		Items:                 toItemResponses(o.Items),
		Payments:              make([]PaymentResponse, 0, len(payments)),
		InventoryReservations: make([]ReservationResponse, 0, len(reservations)),
		Events:                toEventResponses(events),
		CreatedAt:             o.CreatedAt,
		UpdatedAt:             o.UpdatedAt,
	}
	for _, p := range payments {
		resp.Payments = append(resp.Payments, PaymentResponse{
			ID:            p.ID,
			Provider:      p.Provider,
			IntentID:      p.IntentID,
			Status:        string(p.Status),
			Amount:        p.Amount,
			AuthorizedAt:  p.AuthorizedAt,
			FailureReason: p.FailureReason,
			CreatedAt:     p.CreatedAt,
		})
	}
	for _, r := range reservations {
		resp.InventoryReservations = append(resp.InventoryReservations, ReservationResponse{
			ID:            r.ID,
			SKU:           r.SKU,
			Quantity:      r.Quantity,
			Status:        string(r.Status),
			ReservedAt:    r.ReservedAt,
			ReleasedAt:    r.ReleasedAt,
			FailureReason: r.FailureReason,
		})
	}
	return resp, nil
}

// ListEvents returns the audit trail newest first, or shared.ErrNotFound
func (s *AdminService) ListEvents(ctx context.Context, id uuid.UUID) ([]OrderEventResponse, error) {
	if _, err := s.repo.FindByID(ctx, id); err != nil {
		return nil, err
	}
	events, err := s.repo.ListEvents(ctx, id)
	if err != nil {
		return nil, err
	}
	return toEventResponses(events), nil
}

// Cancel cancels an order that is not Confirmed or already Cancelled.
// Held inventory is released and OrderUpdatedV1 is written in the same
// transaction. A concurrent transition yields shared.ErrConcurrencyConflict.
func (s *AdminService) Cancel(ctx context.Context, id uuid.UUID, reason string) (*CancelOrderResponse, error) {
	o, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	change, err := o.Cancel(reason, now)
	if err != nil {
		return nil, err
	}
	msg, err := contracts.ToOutbox(contracts.NewOrderUpdated(o, change), now)
	if err != nil {
		return nil, err
	}
	if err := s.repo.ApplyStatusChange(ctx, change, msg); err != nil {
		return nil, err
	}

	s.logger.Info("Order cancelled",
		logger.OrderID(o.ID),
		logger.CorrelationID(o.CorrelationID),
		zap.String("from", string(change.From)),
		zap.String("reason", change.Reason),
	)
	return &CancelOrderResponse{
		Message: "Order cancelled successfully",
		OrderID: o.ID,
		Status:  string(o.Status),
	}, nil
}

// Health pings the database and collects order and outbox statistics.
// Statistics failures are reported inline and do not make the service unhealthy.
func (s *AdminService) Health(ctx context.Context) *HealthResponse {
	resp := &HealthResponse{
		Status:    HealthStatusHealthy,
		Timestamp: s.clock.Now(),
		Database:  ComponentHealth{Status: HealthStatusHealthy, Message: "Database connection successful"},
	}
	if err := s.db.PingContext(ctx); err != nil {
		s.logger.Error("Database health check failed", zap.Error(err))
		resp.Status = HealthStatusUnhealthy
		resp.Database = ComponentHealth{Status: HealthStatusUnhealthy, Message: err.Error()}
		return resp
	}

	stats, err := s.statistics(ctx)
	if err != nil {
		s.logger.Error("Failed to retrieve statistics", zap.Error(err))
		resp.Statistics = HealthStatistics{Error: err.Error()}
		return resp
	}
	resp.Statistics = *stats
	return resp
}

func (s *AdminService) statistics(ctx context.Context) (*HealthStatistics, error) {
	byStatus, err := s.repo.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	stats := &HealthStatistics{OrdersByStatus: make(map[string]int64, len(byStatus))}
	for status, n := range byStatus {
		stats.OrdersByStatus[string(status)] = n
		stats.TotalOrders += n
	}

	if s.outbox == nil {
		return nil, errors.New("outbox statistics unavailable")
	}
	outbox, err := s.outbox.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	stats.UnpublishedOutboxMessages = outbox[shared.OutboxStatusPending]
	stats.DeadLetteredOutboxMessages = outbox[shared.OutboxStatusDead]
	return stats, nil
}
