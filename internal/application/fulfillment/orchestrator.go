package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/orderflow/backend/internal/domain/contracts"
	"github.com/orderflow/backend/internal/domain/order"
	"github.com/orderflow/backend/internal/domain/shared"
	"github.com/orderflow/backend/internal/infrastructure/logger"
	"github.com/orderflow/backend/internal/infrastructure/telemetry"
)

// Step names used in logs, spans and metrics
const (
	StepInventory = "inventory"
	StepPayment   = "payment"
	StepEmail     = "email"
	StepRelease   = "release"
)

// ConfirmationTemplate is the email template sent on confirmation
const ConfirmationTemplate = "order-confirmation"

// maxConflicts bounds how often one run reloads the order after losing a
// status compare-and-swap.
const maxConflicts = 3

var errStepTimeout = errors.New("step timed out")

// Config bounds a saga run
type Config struct {
	// StepTimeout is the wait for each request/response step
	StepTimeout time.Duration
	// Deadline bounds the whole run, zero disables it
	Deadline time.Duration
}

// DefaultConfig returns a 30s step timeout and a 2m saga deadline
func DefaultConfig() Config {
	return Config{
		StepTimeout: 30 * time.Second,
		Deadline:    2 * time.Minute,
	}
}

// Metrics records saga outcomes and step latencies
type Metrics interface {
	RecordSagaOutcome(ctx context.Context, outcome string)
	RecordStep(ctx context.Context, step string, d time.Duration, success bool)
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithMetrics attaches saga metrics
func WithMetrics(m Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// Orchestrator runs the fulfillment saga of one order:
// Created -> Accepted -> InventoryReserved -> PaymentAuthorized -> Confirmed.
//
// The persisted status is the checkpoint. A run always starts from the
// stored status, so a retried or redelivered saga continues where the
// previous run stopped instead of repeating finished steps. Every
// transition is a compare-and-swap on (version, status).
type Orchestrator struct {
	repo    order.Repository
	bus     shared.Bus
	clock   shared.Clock
	config  Config
	metrics Metrics
	logger  *zap.Logger
}

// NewOrchestrator creates a new Orchestrator
func NewOrchestrator(repo order.Repository, bus shared.Bus, clock shared.Clock, config Config, log *zap.Logger, opts ...Option) *Orchestrator {
	if config.StepTimeout <= 0 {
		config.StepTimeout = DefaultConfig().StepTimeout
	}
	if clock == nil {
		clock = shared.SystemClock{}
	}
	o := &Orchestrator{
		repo:   repo,
		bus:    bus,
		clock:  clock,
		config: config,
		logger: logger.OrNop(log).Named("saga"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run executes the saga for an OrderCreatedV1 event. Business failures are
// reported as outcomes; only interrupted runs ask for a retry.
func (o *Orchestrator) Run(ctx context.Context, evt contracts.OrderCreatedV1) (res Result) {
	ctx, span := telemetry.StartServiceSpan(ctx, "Orchestrator", "Run",
		telemetry.WithAttribute(telemetry.SpanAttrOrderID, evt.OrderID),
		telemetry.WithAttribute(telemetry.SpanAttrCorrelationID, evt.CorrelationID),
	)
	defer func() {
		telemetry.SetAttributes(span,
			telemetry.SpanAttrOutcome, string(res.Outcome),
			telemetry.SpanAttrOrderStatus, string(res.Status),
		)
		telemetry.RecordError(span, res.Err)
		span.End()
		if o.metrics != nil {
			o.metrics.RecordSagaOutcome(ctx, string(res.Outcome))
		}
	}()

	if o.config.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.config.Deadline)
		defer cancel()
	}

	log := o.logger.With(logger.OrderID(evt.OrderID), logger.CorrelationID(evt.CorrelationID))
	log.Info("Processing order")

	ord, err := o.repo.FindByID(ctx, evt.OrderID)
	if errors.Is(err, shared.ErrNotFound) {
		log.Error("Order not found, dropping message")
		return dropped("", "Order not found")
	}
	if err != nil {
		return retry("", fmt.Errorf("load order: %w", err))
	}

	r := &sagaRun{o: o, ord: ord, log: log}
	res = r.execute(ctx)
	log.Info("Saga finished",
		zap.String("outcome", string(res.Outcome)),
		logger.Status(string(res.Status)),
		zap.String("reason", res.Reason),
	)
	return res
}

// MarkFailed records Failed with "Processing error: <detail>" unless the
// order already reached a terminal status. Held reservations are released
// in the same transaction.
func (o *Orchestrator) MarkFailed(ctx context.Context, orderID uuid.UUID, detail string) error {
	reason := "Processing error: " + detail
	for i := 0; i <= maxConflicts; i++ {
		ord, err := o.repo.FindByID(ctx, orderID)
		if err != nil {
			return err
		}
		if ord.Status.IsTerminal() {
			return nil
		}
		holdsInventory := ord.Status == order.StatusInventoryReserved || ord.Status == order.StatusPaymentAuthorized

		now := o.clock.Now()
		change, err := ord.TransitionTo(order.StatusFailed, reason, now)
		if err != nil {
			return err
		}
		change.ReleaseReservations = holdsInventory
		msg, err := contracts.ToOutbox(contracts.NewOrderUpdated(ord, change), now)
		if err != nil {
			return err
		}

		err = o.repo.ApplyStatusChange(ctx, change, msg)
		if errors.Is(err, shared.ErrConcurrencyConflict) {
			continue
		}
		if err != nil {
			return err
		}
		o.logger.Error("Order failed", logger.OrderID(orderID), zap.String("reason", reason))
		return nil
	}
	return shared.ErrConcurrencyConflict
}

// persistContext keeps status writes alive after the saga deadline expired,
// so the outcome of the interrupted step is still recorded.
func (o *Orchestrator) persistContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx.Err() == nil {
		return ctx, func() {}
	}
	return context.WithTimeout(context.WithoutCancel(ctx), o.config.StepTimeout)
}

func (o *Orchestrator) observe(ctx context.Context, step string, start time.Time, success bool) {
	if o.metrics != nil {
		o.metrics.RecordStep(ctx, step, o.clock.Now().Sub(start), success)
	}
}

// request sends a step request and decodes the typed reply. A reply that
// does not arrive in time, including one cut off by the saga deadline,
// yields errStepTimeout.
func request[Res contracts.Contract](ctx context.Context, o *Orchestrator, step string, req contracts.Contract) (Res, error) {
	var zero Res
	ctx, span := telemetry.StartSpan(ctx, "saga."+step,
		telemetry.WithAttribute(telemetry.SpanAttrStep, step),
		telemetry.WithAttribute(telemetry.SpanAttrMessageType, req.MessageType()),
	)
	defer span.End()

	msg, err := contracts.ToMessage(req, o.clock.Now())
	if err != nil {
		return zero, err
	}
	reply, err := o.bus.Request(ctx, msg, o.config.StepTimeout)
	if err != nil {
		if errors.Is(err, shared.ErrRequestTimeout) || errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %v", errStepTimeout, err)
		}
		telemetry.RecordError(span, err)
		return zero, err
	}
	res, err := contracts.FromMessage[Res](reply)
	if err != nil {
		telemetry.RecordError(span, err)
		return zero, err
	}
	return res, nil
}

// sagaRun is the state of one Run call
type sagaRun struct {
	o         *Orchestrator
	ord       *order.Order
	log       *zap.Logger
	held      bool // inventory may be reserved for the order
	conflicts int
}

func (r *sagaRun) execute(ctx context.Context) Result {
	for {
		res, done, err := r.step(ctx)
		if err == nil {
			if done {
				return res
			}
			continue
		}

		if !errors.Is(err, shared.ErrConcurrencyConflict) || r.conflicts >= maxConflicts {
			r.log.Warn("Saga interrupted", logger.Status(string(r.ord.Status)), zap.Error(err))
			return retry(r.ord.Status, err)
		}

		// someone else moved the order, continue from what they stored
		r.conflicts++
		loadCtx, cancel := r.o.persistContext(ctx)
		fresh, loadErr := r.o.repo.FindByID(loadCtx, r.ord.ID)
		cancel()
		if loadErr != nil {
			return retry(r.ord.Status, fmt.Errorf("reload order: %w", loadErr))
		}
		r.ord = fresh
		r.log.Info("Order changed concurrently, resuming", logger.Status(string(fresh.Status)))

		if fresh.Status == order.StatusCancelled {
			r.compensate(ctx, "Order cancelled")
			return cancelled("Order cancelled while processing")
		}
	}
}

func (r *sagaRun) step(ctx context.Context) (Result, bool, error) {
	switch r.ord.Status {
	case order.StatusCreated:
		return Result{}, false, r.advance(ctx, order.StatusAccepted, "Order accepted for processing")
	case order.StatusAccepted:
		return r.reserveInventory(ctx)
	case order.StatusInventoryReserved:
		return r.authorizePayment(ctx)
	case order.StatusPaymentAuthorized:
		return r.sendConfirmation(ctx)
	default:
		r.log.Info("Order already processed, dropping message", logger.Status(string(r.ord.Status)))
		return dropped(r.ord.Status, "Order is already "+string(r.ord.Status)), true, nil
	}
}

// advance persists a transition together with its audit event and
// OrderUpdatedV1 outbox row. The in-memory order is restored on failure.
func (r *sagaRun) advance(ctx context.Context, to order.Status, reason string) error {
	ctx, cancel := r.o.persistContext(ctx)
	defer cancel()

	prev := *r.ord
	now := r.o.clock.Now()
	change, err := r.ord.TransitionTo(to, reason, now)
	if err != nil {
		return err
	}
	msg, err := contracts.ToOutbox(contracts.NewOrderUpdated(r.ord, change), now)
	if err != nil {
		*r.ord = prev
		return err
	}
	if err := r.o.repo.ApplyStatusChange(ctx, change, msg); err != nil {
		*r.ord = prev
		return err
	}

	r.log.Info("Order status updated", logger.Status(string(to)), zap.String("reason", reason))
	return nil
}

// fail persists a failure status and only then releases held inventory.
// If the write fails nothing was released, so the retry resumes from a
// checkpoint whose reservations are still intact.
func (r *sagaRun) fail(ctx context.Context, status order.Status, reason string) (Result, bool, error) {
	if err := r.advance(ctx, status, reason); err != nil {
		return Result{}, false, err
	}
	r.compensate(ctx, reason)
	return businessFailure(status, reason), true, nil
}

func (r *sagaRun) envelope() contracts.Envelope {
	return contracts.NewEnvelope(r.ord.CorrelationID, r.o.clock.Now())
}

func (r *sagaRun) reserveInventory(ctx context.Context) (Result, bool, error) {
	items := make([]contracts.ReserveItem, 0, len(r.ord.Items))
	for _, item := range r.ord.Items {
		items = append(items, contracts.ReserveItem{SKU: item.SKU, Quantity: item.Quantity})
	}
	req := contracts.InventoryReserveRequestV1{
		Envelope: r.envelope(),
		OrderID:  r.ord.ID,
		Items:    items,
	}

	start := r.o.clock.Now()
	reply, err := request[contracts.InventoryReserveResultV1](ctx, r.o, StepInventory, req)
	switch {
	case errors.Is(err, errStepTimeout):
		r.o.observe(ctx, StepInventory, start, false)
		// a late reply may still have reserved stock
		r.held = true
		return r.fail(ctx, order.StatusFailedInventory, "Inventory reservation timed out")
	case err != nil:
		return Result{}, false, err
	}

	r.o.observe(ctx, StepInventory, start, reply.Success)
	if !reply.Success {
		reason := reply.Reason
		if reason == "" {
			reason = "Inventory reservation failed"
		}
		return r.fail(ctx, order.StatusFailedInventory, reason)
	}

	r.held = true
	return Result{}, false, r.advance(ctx, order.StatusInventoryReserved, "Inventory reserved")
}

func (r *sagaRun) authorizePayment(ctx context.Context) (Result, bool, error) {
	r.held = true
	req := contracts.PaymentAuthorizeRequestV1{
		Envelope: r.envelope(),
		OrderID:  r.ord.ID,
		Amount:   r.ord.Total,
		Currency: r.ord.Currency,
	}

	start := r.o.clock.Now()
	reply, err := request[contracts.PaymentAuthorizeResultV1](ctx, r.o, StepPayment, req)
	var reason string
	switch {
	case errors.Is(err, errStepTimeout):
		reason = "Payment authorization timed out"
	case err != nil:
		return Result{}, false, err
	case !reply.Authorized:
		reason = reply.Reason
		if reason == "" {
			reason = "Payment authorization failed"
		}
	}
	r.o.observe(ctx, StepPayment, start, reason == "")

	if reason != "" {
		r.log.Warn("Payment failed, releasing inventory", zap.String("reason", reason))
		return r.fail(ctx, order.StatusFailedPayment, reason)
	}
	return Result{}, false, r.advance(ctx, order.StatusPaymentAuthorized, "Payment authorized")
}

// sendConfirmation sends the confirmation email and confirms the order
// whatever the email outcome; the outcome only changes the reason text.
func (r *sagaRun) sendConfirmation(ctx context.Context) (Result, bool, error) {
	req := contracts.EmailSendRequestV1{
		Envelope: r.envelope(),
		OrderID:  r.ord.ID,
		// recipient is resolved from the customer id by the email provider
		To:       r.ord.CustomerID,
		Template: ConfirmationTemplate,
		Model: map[string]any{
			"orderId":  r.ord.ID.String(),
			"total":    r.ord.Total.StringFixed(2),
			"currency": r.ord.Currency,
		},
	}

	start := r.o.clock.Now()
	reply, err := request[contracts.EmailSendResultV1](ctx, r.o, StepEmail, req)
	if errors.Is(err, context.Canceled) {
		return Result{}, false, err
	}

	reason := "Order confirmed"
	switch {
	case err != nil:
		r.log.Warn("Email send failed, order still confirmed", zap.Error(err))
		reason = fmt.Sprintf("Order confirmed (email error: %s)", err)
	case !reply.Sent:
		r.log.Warn("Email failed, order still confirmed", zap.String("reason", reply.Reason))
		reason = fmt.Sprintf("Order confirmed (email failed: %s)", reply.Reason)
	}
	r.o.observe(ctx, StepEmail, start, err == nil && reply.Sent)

	if err := r.advance(ctx, order.StatusConfirmed, reason); err != nil {
		return Result{}, false, err
	}
	return completed(order.StatusConfirmed, reason), true, nil
}

// compensate asks inventory to release everything held for the order. It
// runs detached from the saga deadline; a failed release is logged only.
func (r *sagaRun) compensate(ctx context.Context, reason string) {
	if !r.held {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.o.config.StepTimeout)
	defer cancel()

	req := contracts.InventoryReleaseRequestV1{
		Envelope: r.envelope(),
		OrderID:  r.ord.ID,
		Reason:   reason,
	}
	start := r.o.clock.Now()
	reply, err := request[contracts.InventoryReleaseResultV1](ctx, r.o, StepRelease, req)
	if err != nil {
		r.o.observe(ctx, StepRelease, start, false)
		r.log.Error("Compensating inventory release failed", zap.Error(err))
		return
	}
	r.o.observe(ctx, StepRelease, start, reply.Success)
	if !reply.Success {
		r.log.Error("Compensating inventory release declined", zap.String("reason", reply.Reason))
		return
	}
	r.held = false
	r.log.Info("Inventory released", zap.Int64("released", reply.Released))
}
