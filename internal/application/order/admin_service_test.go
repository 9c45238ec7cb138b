package order

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/orderflow/backend/internal/domain/order"
	"github.com/orderflow/backend/internal/domain/shared"
	"github.com/orderflow/backend/internal/infrastructure/persistence"
	"github.com/orderflow/backend/tests/testutil"
)

type failingPinger struct{ err error }

func (p failingPinger) PingContext(context.Context) error { return p.err }

type adminFixture struct {
	intake       *IntakeService
	query        *QueryService
	admin        *AdminService
	repo         *persistence.GormOrderRepository
	reservations *persistence.GormReservationRepository
	payments     *persistence.GormPaymentRepository
	outbox       *persistence.GormOutboxRepository
	clock        *testutil.FakeClock
}

func newAdminFixture(t *testing.T) *adminFixture {
	t.Helper()
	db := testutil.NewSQLiteDB(t)
	clock := testutil.NewFakeClock(testNow)
	f := &adminFixture{
		repo:         persistence.NewGormOrderRepository(db),
		reservations: persistence.NewGormReservationRepository(db),
		payments:     persistence.NewGormPaymentRepository(db),
		outbox:       persistence.NewGormOutboxRepository(db),
		clock:        clock,
	}
	f.intake = NewIntakeService(f.repo, clock, decimal.Zero, zap.NewNop())
	f.query = NewQueryService(f.repo)
	f.admin = NewAdminService(f.repo, f.reservations, f.payments, f.outbox,
		persistence.NewDatabaseFromGorm(db), clock, zap.NewNop())
	return f
}

func (f *adminFixture) createOrder(t *testing.T, key string) uuid.UUID {
	t.Helper()
	resp, _, err := f.intake.Create(context.Background(), key, validRequest())
	require.NoError(t, err)
	return resp.OrderID
}

// advance moves a stored order through the given statuses
func (f *adminFixture) advance(t *testing.T, id uuid.UUID, statuses ...order.Status) {
	t.Helper()
	ctx := context.Background()
	for _, s := range statuses {
		f.clock.Advance(time.Second)
		o, err := f.repo.FindByID(ctx, id)
		require.NoError(t, err)
		change, err := o.TransitionTo(s, "moved to "+string(s), f.clock.Now())
		require.NoError(t, err)
		require.NoError(t, f.repo.ApplyStatusChange(ctx, change, nil))
	}
}

func TestQueryService_GetByID(t *testing.T) {
	f := newAdminFixture(t)
	id := f.createOrder(t, "K1")

	detail, err := f.query.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, id, detail.OrderID)
	assert.Equal(t, "Created", detail.Status)
	assert.Equal(t, "Springfield", detail.ShippingAddress.City)
	require.Len(t, detail.Items, 1)
	assert.Equal(t, "A", detail.Items[0].SKU)
	assert.Equal(t, 2, detail.Items[0].Quantity)

	_, err = f.query.GetByID(context.Background(), uuid.New())
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestAdminService_List_DefaultsAndFilter(t *testing.T) {
	f := newAdminFixture(t)
	ctx := context.Background()

	first := f.createOrder(t, "K1")
	f.clock.Advance(time.Minute)
	second := f.createOrder(t, "K2")
	f.advance(t, first, order.StatusAccepted)

	all, err := f.admin.List(ctx, ListOrdersQuery{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), all.TotalCount)
	assert.Equal(t, 1, all.Page)
	assert.Equal(t, 50, all.PageSize)
	require.Len(t, all.Orders, 2)
	assert.Equal(t, second, all.Orders[0].ID, "newest first")

	accepted, err := f.admin.List(ctx, ListOrdersQuery{Status: "Accepted"})
	require.NoError(t, err)
	require.Len(t, accepted.Orders, 1)
	assert.Equal(t, first, accepted.Orders[0].ID)

	capped, err := f.admin.List(ctx, ListOrdersQuery{PageSize: 1000})
	require.NoError(t, err)
	assert.Equal(t, 200, capped.PageSize)

	_, err = f.admin.List(ctx, ListOrdersQuery{Status: "Shipped"})
	assert.ErrorIs(t, err, shared.ErrInvalidInput)
}

func TestAdminService_GetDetail(t *testing.T) {
	f := newAdminFixture(t)
	ctx := context.Background()
	id := f.createOrder(t, "K1")
	f.advance(t, id, order.StatusAccepted, order.StatusInventoryReserved)

	require.NoError(t, f.reservations.Save(ctx, order.NewReservation(id, "A", 2, f.clock.Now())))
	require.NoError(t, f.payments.Save(ctx,
		order.NewFailedPayment(id, "MockPay", decimal.RequireFromString("27.46"), "Card declined", f.clock.Now())))

	detail, err := f.admin.GetDetail(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "InventoryReserved", detail.Status)
	assert.Equal(t, "K1", detail.IdempotencyKey)
	assert.Equal(t, 3, detail.Version)
	require.Len(t, detail.InventoryReservations, 1)
	assert.Equal(t, "Reserved", detail.InventoryReservations[0].Status)
	require.Len(t, detail.Payments, 1)
	assert.Equal(t, "Card declined", detail.Payments[0].FailureReason)
	assert.Nil(t, detail.Payments[0].IntentID)

	require.Len(t, detail.Events, 2)
	assert.True(t, detail.Events[0].CreatedAt.After(detail.Events[1].CreatedAt), "events newest first")
	var payload map[string]any
	require.NoError(t, json.Unmarshal(detail.Events[0].Payload, &payload))

	_, err = f.admin.GetDetail(ctx, uuid.New())
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestAdminService_ListEvents(t *testing.T) {
	f := newAdminFixture(t)
	ctx := context.Background()
	id := f.createOrder(t, "K1")
	f.advance(t, id, order.StatusAccepted)

	events, err := f.admin.ListEvents(ctx, id)
	require.NoError(t, err)
	require.Len(t, events, 1)

	_, err = f.admin.ListEvents(ctx, uuid.New())
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestAdminService_Cancel(t *testing.T) {
	f := newAdminFixture(t)
	ctx := context.Background()
	id := f.createOrder(t, "K1")
	f.advance(t, id, order.StatusAccepted, order.StatusInventoryReserved)
	require.NoError(t, f.reservations.Save(ctx, order.NewReservation(id, "A", 2, f.clock.Now())))

	resp, err := f.admin.Cancel(ctx, id, "")
	require.NoError(t, err)
	assert.Equal(t, "Cancelled", resp.Status)
	assert.Equal(t, id, resp.OrderID)

	o, err := f.repo.FindByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, order.StatusCancelled, o.Status)

	reservations, err := f.reservations.FindByOrder(ctx, id)
	require.NoError(t, err)
	require.Len(t, reservations, 1)
	assert.Equal(t, order.ReservationStatusReleased, reservations[0].Status)
	assert.NotNil(t, reservations[0].ReleasedAt)

	// OrderCreatedV1 plus OrderUpdatedV1
	pending, err := f.outbox.CountUnpublished(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), pending)

	events, err := f.admin.ListEvents(ctx, id)
	require.NoError(t, err)
	assert.Contains(t, string(events[0].Payload), "Admin cancelled")

	_, err = f.admin.Cancel(ctx, id, "again")
	assert.ErrorIs(t, err, shared.ErrInvalidState)
}

func TestAdminService_Cancel_ConfirmedRejected(t *testing.T) {
	f := newAdminFixture(t)
	id := f.createOrder(t, "K1")
	f.advance(t, id, order.StatusAccepted, order.StatusInventoryReserved,
		order.StatusPaymentAuthorized, order.StatusConfirmed)

	_, err := f.admin.Cancel(context.Background(), id, "too late")
	assert.ErrorIs(t, err, shared.ErrInvalidState)
}

func TestAdminService_Cancel_NotFound(t *testing.T) {
	f := newAdminFixture(t)
	_, err := f.admin.Cancel(context.Background(), uuid.New(), "")
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestAdminService_Cancel_ConcurrentTransition(t *testing.T) {
	repo := new(MockOrderRepository)
	admin := NewAdminService(repo, nil, nil, nil, failingPinger{}, testutil.NewFakeClock(testNow), nil)
	ctx := context.Background()

	o, err := order.NewOrder(order.NewOrderParams{
		CustomerID:     "cust-1",
		Currency:       "USD",
		IdempotencyKey: "K1",
		Items: []order.ItemInput{
			{SKU: "A", Name: "Widget", Quantity: 1, UnitPrice: decimal.RequireFromString("1.00")},
		},
	}, testNow)
	require.NoError(t, err)

	repo.On("FindByID", ctx, o.ID).Return(o, nil)
	repo.On("ApplyStatusChange", ctx, mock.Anything, mock.Anything).Return(shared.ErrConcurrencyConflict)

	_, err = admin.Cancel(ctx, o.ID, "")
	assert.ErrorIs(t, err, shared.ErrConcurrencyConflict)
}

func TestAdminService_Health(t *testing.T) {
	f := newAdminFixture(t)
	ctx := context.Background()
	first := f.createOrder(t, "K1")
	f.createOrder(t, "K2")
	f.advance(t, first, order.StatusAccepted)

	health := f.admin.Health(ctx)
	assert.True(t, health.IsHealthy())
	assert.Equal(t, HealthStatusHealthy, health.Database.Status)
	assert.Equal(t, int64(2), health.Statistics.TotalOrders)
	assert.Equal(t, int64(1), health.Statistics.OrdersByStatus["Created"])
	assert.Equal(t, int64(1), health.Statistics.OrdersByStatus["Accepted"])
	assert.Equal(t, int64(2), health.Statistics.UnpublishedOutboxMessages)
	assert.Zero(t, health.Statistics.DeadLetteredOutboxMessages)
}

func TestAdminService_Health_DatabaseDown(t *testing.T) {
	f := newAdminFixture(t)
	f.admin.db = failingPinger{err: errors.New("connection refused")}

	health := f.admin.Health(context.Background())
	assert.False(t, health.IsHealthy())
	assert.Equal(t, HealthStatusUnhealthy, health.Database.Status)
	assert.Equal(t, "connection refused", health.Database.Message)
}
