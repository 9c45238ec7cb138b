package fulfillment

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/orderflow/backend/internal/domain/contracts"
	"github.com/orderflow/backend/internal/domain/order"
	"github.com/orderflow/backend/internal/domain/shared"
	"github.com/orderflow/backend/internal/infrastructure/event"
	"github.com/orderflow/backend/internal/infrastructure/persistence"
	"github.com/orderflow/backend/tests/testutil"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// stubProviders scripts every provider decision
type stubProviders struct {
	mu sync.Mutex

	reserveOK     bool
	reserveReason string
	reserveErr    error
	onReserve     func(ctx context.Context, orderID uuid.UUID)

	releaseErr error

	authorized bool
	payReason  string

	emailSent   bool
	emailReason string
	emailTo     []string

	calls map[string]int
}

func newStubProviders() *stubProviders {
	return &stubProviders{
		reserveOK:  true,
		authorized: true,
		emailSent:  true,
		calls:      map[string]int{},
	}
}

func (p *stubProviders) count(step string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[step]
}

func (p *stubProviders) record(step string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls[step]++
}

func (p *stubProviders) Reserve(ctx context.Context, orderID uuid.UUID, _ []contracts.ReserveItem) (bool, string, error) {
	p.record(StepInventory)
	if p.onReserve != nil {
		p.onReserve(ctx, orderID)
	}
	return p.reserveOK, p.reserveReason, p.reserveErr
}

func (p *stubProviders) Release(context.Context, uuid.UUID) error {
	p.record(StepRelease)
	return p.releaseErr
}

func (p *stubProviders) Authorize(context.Context, uuid.UUID, decimal.Decimal, string) (Authorization, error) {
	p.record(StepPayment)
	if !p.authorized {
		return Authorization{Reason: p.payReason}, nil
	}
	return Authorization{Authorized: true, IntentID: "pi_0123456789abcdef0123456789abcdef"}, nil
}

func (p *stubProviders) Send(_ context.Context, _ uuid.UUID, to, _ string, _ map[string]any) (bool, string, error) {
	p.record(StepEmail)
	p.mu.Lock()
	p.emailTo = append(p.emailTo, to)
	p.mu.Unlock()
	return p.emailSent, p.emailReason, nil
}

type stepRecord struct {
	step    string
	success bool
}

type recordingMetrics struct {
	mu       sync.Mutex
	outcomes []string
	steps    []stepRecord
}

func (m *recordingMetrics) RecordSagaOutcome(_ context.Context, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes = append(m.outcomes, outcome)
}

func (m *recordingMetrics) RecordStep(_ context.Context, step string, _ time.Duration, success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.steps = append(m.steps, stepRecord{step: step, success: success})
}

type sagaFixture struct {
	repo         *persistence.GormOrderRepository
	reservations *persistence.GormReservationRepository
	payments     *persistence.GormPaymentRepository
	outbox       *persistence.GormOutboxRepository
	bus          *event.InMemoryBus
	providers    *stubProviders
	consumers    *Consumers
	orchestrator *Orchestrator
	metrics      *recordingMetrics
	clock        *testutil.FakeClock
}

func newSagaFixture(t *testing.T, cfg Config) *sagaFixture {
	t.Helper()
	db := testutil.NewSQLiteDB(t)
	clock := testutil.NewFakeClock(testNow)

	bus := event.NewInMemoryBus(zap.NewNop())
	require.NoError(t, bus.Start(context.Background()))
	t.Cleanup(func() { _ = bus.Stop(context.Background()) })

	f := &sagaFixture{
		repo:         persistence.NewGormOrderRepository(db),
		reservations: persistence.NewGormReservationRepository(db),
		payments:     persistence.NewGormPaymentRepository(db),
		outbox:       persistence.NewGormOutboxRepository(db),
		bus:          bus,
		providers:    newStubProviders(),
		metrics:      &recordingMetrics{},
		clock:        clock,
	}
	f.consumers = NewConsumers(f.reservations, f.payments, f.providers, f.providers, f.providers, clock, zap.NewNop())
	f.consumers.Register(bus)
	f.orchestrator = NewOrchestrator(f.repo, bus, clock, cfg, zap.NewNop(), WithMetrics(f.metrics))
	return f
}

// createOrder stores a new order and returns its OrderCreatedV1 event
func (f *sagaFixture) createOrder(t *testing.T) contracts.OrderCreatedV1 {
	t.Helper()
	o, err := order.NewOrder(order.NewOrderParams{
		CustomerID:     "cust-" + uuid.NewString()[:8],
		Currency:       "USD",
		IdempotencyKey: uuid.NewString(),
		ShippingAddress: order.ShippingAddress{
			Name: "Ada", Line1: "1 Main St", City: "Springfield", State: "IL", PostalCode: "62701", Country: "US",
		},
		ShippingCost: decimal.RequireFromString("5.00"),
		Items: []order.ItemInput{
			{SKU: "A", Name: "Widget", Quantity: 2, UnitPrice: decimal.RequireFromString("10.00"), IsTaxable: true},
			{SKU: "B", Name: "Gadget", Quantity: 1, UnitPrice: decimal.RequireFromString("4.00"), IsTaxable: true},
		},
	}, f.clock.Now())
	require.NoError(t, err)

	evt := contracts.NewOrderCreated(o, f.clock.Now())
	msg, err := contracts.ToOutbox(evt, f.clock.Now())
	require.NoError(t, err)
	require.NoError(t, f.repo.Create(context.Background(), o, msg))
	return evt
}

// moveTo advances a stored order through statuses without running steps
func (f *sagaFixture) moveTo(t *testing.T, id uuid.UUID, statuses ...order.Status) {
	t.Helper()
	ctx := context.Background()
	for _, s := range statuses {
		o, err := f.repo.FindByID(ctx, id)
		require.NoError(t, err)
		change, err := o.TransitionTo(s, "test", f.clock.Now())
		require.NoError(t, err)
		require.NoError(t, f.repo.ApplyStatusChange(ctx, change, nil))
	}
}

func (f *sagaFixture) cancel(t *testing.T, ctx context.Context, id uuid.UUID) {
	t.Helper()
	o, err := f.repo.FindByID(ctx, id)
	require.NoError(t, err)
	change, err := o.Cancel("", f.clock.Now())
	require.NoError(t, err)
	require.NoError(t, f.repo.ApplyStatusChange(ctx, change, nil))
}

func (f *sagaFixture) status(t *testing.T, id uuid.UUID) order.Status {
	t.Helper()
	o, err := f.repo.FindByID(context.Background(), id)
	require.NoError(t, err)
	return o.Status
}

func (f *sagaFixture) eventTypes(t *testing.T, id uuid.UUID) []string {
	t.Helper()
	events, err := f.repo.ListEvents(context.Background(), id)
	require.NoError(t, err)
	types := make([]string, 0, len(events))
	for _, e := range events {
		types = append(types, e.EventType)
	}
	return types
}

// failingRepo fails status changes to targets in failTo
type failingRepo struct {
	order.Repository
	failTo map[order.Status]bool
	err    error
}

func (r *failingRepo) ApplyStatusChange(ctx context.Context, change *order.StatusChange, msg *shared.OutboxMessage) error {
	if r.failTo[change.To] {
		return r.err
	}
	return r.Repository.ApplyStatusChange(ctx, change, msg)
}

// releaseHookBus calls onRelease before forwarding an inventory release
type releaseHookBus struct {
	shared.Bus
	onRelease func()
}

func (b *releaseHookBus) Request(ctx context.Context, msg shared.Message, timeout time.Duration) (shared.Message, error) {
	if msg.Type == contracts.TypeInventoryReleaseRequest {
		b.onRelease()
	}
	return b.Bus.Request(ctx, msg, timeout)
}
