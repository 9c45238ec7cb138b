package order

import (
	"context"
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/orderflow/backend/internal/domain/contracts"
	"github.com/orderflow/backend/internal/domain/order"
	"github.com/orderflow/backend/internal/domain/shared"
	"github.com/orderflow/backend/internal/infrastructure/logger"
	"github.com/orderflow/backend/internal/infrastructure/telemetry"
)

// IntakeMetrics counts accepted orders
type IntakeMetrics interface {
	RecordOrderCreated(ctx context.Context, currency string)
}

// IntakeService accepts new orders. Creation is idempotent on
// (Idempotency-Key, customer) and writes the order together with its
// OrderCreatedV1 outbox message.
type IntakeService struct {
	repo     order.Repository
	clock    shared.Clock
	taxRate  decimal.Decimal
	validate *validator.Validate
	metrics  IntakeMetrics
	logger   *zap.Logger
}

// NewIntakeService creates a new IntakeService. A zero taxRate uses order.DefaultTaxRate.
func NewIntakeService(repo order.Repository, clock shared.Clock, taxRate decimal.Decimal, log *zap.Logger) *IntakeService {
	if clock == nil {
		clock = shared.SystemClock{}
	}
	if taxRate.IsZero() {
		taxRate = order.DefaultTaxRate
	}
	return &IntakeService{
		repo:     repo,
		clock:    clock,
		taxRate:  taxRate,
		validate: newValidator(),
		logger:   logger.OrNop(log).Named("intake"),
	}
}

// SetMetrics attaches an order counter
func (s *IntakeService) SetMetrics(m IntakeMetrics) {
	s.metrics = m
}

// Create validates the request and creates the order, or returns the
// existing order for a replayed key. replayed reports the latter.
func (s *IntakeService) Create(ctx context.Context, idempotencyKey string, req CreateOrderRequest) (resp *OrderResponse, replayed bool, err error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "IntakeService", "Create",
		telemetry.WithAttribute(telemetry.SpanAttrCustomerID, req.CustomerID))
	defer func() {
		telemetry.RecordError(span, err)
		span.End()
	}()

	if err := validateIdempotencyKey(idempotencyKey); err != nil {
		return nil, false, err
	}
	if err := s.validate.Struct(req); err != nil {
		return nil, false, validationError(err)
	}

	existing, err := s.repo.FindByIdempotencyKey(ctx, idempotencyKey, req.CustomerID)
	switch {
	case err == nil:
		s.logger.Info("Duplicate request for idempotency key",
			zap.String("idempotency_key", idempotencyKey), logger.OrderID(existing.ID))
		return toOrderResponse(existing), true, nil
	case !errors.Is(err, shared.ErrNotFound):
		return nil, false, err
	}

	now := s.clock.Now()
	o, err := order.NewOrder(toOrderParams(idempotencyKey, req, s.taxRate), now)
	if err != nil {
		return nil, false, err
	}
	msg, err := contracts.ToOutbox(contracts.NewOrderCreated(o, now), now)
	if err != nil {
		return nil, false, err
	}

	if err := s.repo.Create(ctx, o, msg); err != nil {
		if !errors.Is(err, shared.ErrAlreadyExists) {
			return nil, false, err
		}
		// lost a race with a concurrent first submission of the same key
		winner, findErr := s.repo.FindByIdempotencyKey(ctx, idempotencyKey, req.CustomerID)
		if findErr != nil {
			return nil, false, findErr
		}
		return toOrderResponse(winner), true, nil
	}

	if s.metrics != nil {
		s.metrics.RecordOrderCreated(ctx, o.Currency)
	}
	telemetry.SetAttributes(span, telemetry.SpanAttrOrderID, o.ID, telemetry.SpanAttrCorrelationID, o.CorrelationID)
	s.logger.Info("Order created",
		logger.OrderID(o.ID),
		logger.CorrelationID(o.CorrelationID),
		zap.String("total", o.Total.StringFixed(2)),
	)
	return toOrderResponse(o), false, nil
}

func toOrderParams(key string, req CreateOrderRequest, taxRate decimal.Decimal) order.NewOrderParams {
	items := make([]order.ItemInput, 0, len(req.Items))
	for _, item := range req.Items {
		taxable := true
		if item.IsTaxable != nil {
			taxable = *item.IsTaxable
		}
		items = append(items, order.ItemInput{
			SKU:       item.SKU,
			Name:      item.Name,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			IsTaxable: taxable,
		})
	}
	return order.NewOrderParams{
		CustomerID:     req.CustomerID,
		Currency:       req.Currency,
		IdempotencyKey: key,
		ShippingAddress: order.ShippingAddress{
			Name:       req.ShippingAddress.Name,
			Line1:      req.ShippingAddress.Line1,
			Line2:      req.ShippingAddress.Line2,
			City:       req.ShippingAddress.City,
			State:      req.ShippingAddress.State,
			PostalCode: req.ShippingAddress.PostalCode,
			Country:    req.ShippingAddress.Country,
		},
		ShippingCost: req.ShippingCost,
		Items:        items,
		TaxRate:      taxRate,
	}
}
