package contracts

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/orderflow/backend/internal/domain/order"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func TestToMessage_CarriesCorrelationAndSchema(t *testing.T) {
	correlationID := uuid.New()
	req := PaymentAuthorizeRequestV1{
		Envelope: NewEnvelope(correlationID, now),
		OrderID:  uuid.New(),
		Amount:   decimal.RequireFromString("27.46"),
		Currency: "USD",
	}

	msg, err := ToMessage(req, now)
	require.NoError(t, err)
	assert.Equal(t, TypePaymentAuthorizeRequest, msg.Type)
	assert.Equal(t, correlationID, msg.CorrelationID)
	assert.JSONEq(t, `"27.46"`, string(mustField(t, msg.Payload, "amount")))
	assert.JSONEq(t, `1`, string(mustField(t, msg.Payload, "schemaVersion")))

	decoded, err := FromMessage[PaymentAuthorizeRequestV1](msg)
	require.NoError(t, err)
	assert.Equal(t, req.OrderID, decoded.OrderID)
	assert.True(t, req.Amount.Equal(decoded.Amount))
	assert.Equal(t, correlationID, decoded.CorrelationID)
}

func TestFromMessage_RejectsOtherTypes(t *testing.T) {
	msg, err := ToMessage(EmailSendResultV1{Envelope: NewEnvelope(uuid.New(), now), Sent: true}, now)
	require.NoError(t, err)

	_, err = FromMessage[PaymentAuthorizeResultV1](msg)
	assert.Error(t, err)
}

func TestDecode_IgnoresUnknownFields(t *testing.T) {
	payload := []byte(`{"orderId":"` + uuid.NewString() + `","sent":true,"schemaVersion":2,"priority":"high"}`)
	res, err := Decode[EmailSendResultV1](payload)
	require.NoError(t, err)
	assert.True(t, res.Sent)
	assert.Equal(t, 2, res.SchemaVersion)
}

func TestIsKnownType(t *testing.T) {
	assert.True(t, IsKnownType(TypeOrderCreated))
	assert.True(t, IsKnownType(TypeInventoryReleaseRequest))
	assert.False(t, IsKnownType("OrderShippedV1"))
}

func TestNewOrderCreated(t *testing.T) {
	o, err := order.NewOrder(order.NewOrderParams{
		CustomerID:     "cust-1",
		Currency:       "USD",
		IdempotencyKey: "K1",
		ShippingCost:   decimal.RequireFromString("5.00"),
		Items: []order.ItemInput{
			{SKU: "A", Name: "Widget", Quantity: 2, UnitPrice: decimal.RequireFromString("10.00"), IsTaxable: true},
		},
	}, now)
	require.NoError(t, err)

	created := NewOrderCreated(o, now)
	assert.Equal(t, o.ID, created.OrderID)
	assert.Equal(t, o.CorrelationID, created.CorrelationID)
	assert.Equal(t, SchemaVersion, created.SchemaVersion)
	require.Len(t, created.Items, 1)
	assert.Equal(t, "A", created.Items[0].SKU)
	assert.True(t, decimal.RequireFromString("27.46").Equal(created.Total))

	outbox, err := ToOutbox(created, now)
	require.NoError(t, err)
	assert.Equal(t, TypeOrderCreated, outbox.Type)
	assert.Equal(t, o.CorrelationID, outbox.CorrelationID)
}
