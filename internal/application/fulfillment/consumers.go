package fulfillment

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/orderflow/backend/internal/domain/contracts"
	"github.com/orderflow/backend/internal/domain/order"
	"github.com/orderflow/backend/internal/domain/shared"
	"github.com/orderflow/backend/internal/infrastructure/logger"
)

// Consumers answer the saga's step requests. Each step persists its
// attempt and always replies; local errors become a failed reply with
// reason "Internal error: <detail>". Redeliveries create new attempt rows.
type Consumers struct {
	reservations order.ReservationRepository
	payments     order.PaymentRepository
	inventory    InventoryProvider
	payment      PaymentProvider
	email        EmailProvider
	clock        shared.Clock
	logger       *zap.Logger
}

// NewConsumers creates the step consumers
func NewConsumers(
	reservations order.ReservationRepository,
	payments order.PaymentRepository,
	inventory InventoryProvider,
	payment PaymentProvider,
	email EmailProvider,
	clock shared.Clock,
	log *zap.Logger,
) *Consumers {
	if clock == nil {
		clock = shared.SystemClock{}
	}
	return &Consumers{
		reservations: reservations,
		payments:     payments,
		inventory:    inventory,
		payment:      payment,
		email:        email,
		clock:        clock,
		logger:       logger.OrNop(log).Named("consumers"),
	}
}

// Handlers returns the responder of every step request type
func (c *Consumers) Handlers() map[string]shared.RequestHandlerFunc {
	return map[string]shared.RequestHandlerFunc{
		contracts.TypeInventoryReserveRequest: handle(c, c.reserve),
		contracts.TypeInventoryReleaseRequest: handle(c, c.release),
		contracts.TypePaymentAuthorizeRequest: handle(c, c.authorize),
		contracts.TypeEmailSendRequest:        handle(c, c.sendEmail),
	}
}

// Register installs the responders on the bus
func (c *Consumers) Register(bus shared.Bus) {
	for msgType, h := range c.Handlers() {
		bus.Respond(msgType, h)
	}
}

// handle adapts a typed step to a bus responder: decode, run, encode.
// A payload that cannot be decoded is returned as an error, there is
// nobody to address a typed reply to.
func handle[Req, Res contracts.Contract](c *Consumers, step func(context.Context, Req) Res) shared.RequestHandlerFunc {
	return func(ctx context.Context, msg shared.Message) (shared.Message, error) {
		req, err := contracts.FromMessage[Req](msg)
		if err != nil {
			c.logger.Error("Undecodable step request", logger.MessageID(msg.ID), logger.MessageType(msg.Type), zap.Error(err))
			return shared.Message{}, err
		}
		reply, err := contracts.ToMessage(step(ctx, req), c.clock.Now())
		if err != nil {
			return shared.Message{}, err
		}
		reply.CorrelationID = msg.CorrelationID
		return reply, nil
	}
}

func internalError(err error) string {
	return "Internal error: " + err.Error()
}

func (c *Consumers) envelope(e contracts.Envelope) contracts.Envelope {
	return contracts.NewEnvelope(e.CorrelationID, c.clock.Now())
}

func (c *Consumers) reserve(ctx context.Context, req contracts.InventoryReserveRequestV1) contracts.InventoryReserveResultV1 {
	log := c.logger.With(logger.OrderID(req.OrderID), logger.CorrelationID(req.CorrelationID))
	res := contracts.InventoryReserveResultV1{Envelope: c.envelope(req.Envelope), OrderID: req.OrderID}

	ok, reason, err := c.inventory.Reserve(ctx, req.OrderID, req.Items)
	if err == nil {
		now := c.clock.Now()
		rows := make([]*order.InventoryReservation, 0, len(req.Items))
		for _, item := range req.Items {
			if ok {
				rows = append(rows, order.NewReservation(req.OrderID, item.SKU, item.Quantity, now))
			} else {
				rows = append(rows, order.NewFailedReservation(req.OrderID, item.SKU, item.Quantity, reason, now))
			}
		}
		err = c.reservations.Save(ctx, rows...)
	}
	if err != nil {
		log.Error("Error reserving inventory", zap.Error(err))
		res.Reason = internalError(err)
		return res
	}

	res.Success = ok
	res.Reason = reason
	log.Info("Inventory reservation completed", zap.Bool("success", ok))
	return res
}

func (c *Consumers) release(ctx context.Context, req contracts.InventoryReleaseRequestV1) contracts.InventoryReleaseResultV1 {
	log := c.logger.With(logger.OrderID(req.OrderID), logger.CorrelationID(req.CorrelationID))
	res := contracts.InventoryReleaseResultV1{Envelope: c.envelope(req.Envelope), OrderID: req.OrderID}

	var released int64
	err := c.inventory.Release(ctx, req.OrderID)
	if err == nil {
		released, err = c.reservations.ReleaseByOrder(ctx, req.OrderID, c.clock.Now())
	}
	if err != nil {
		log.Error("Error releasing inventory", zap.Error(err))
		res.Reason = internalError(err)
		return res
	}

	res.Success = true
	res.Released = released
	log.Info("Inventory release completed", zap.Int64("released", released), zap.String("reason", req.Reason))
	return res
}

func (c *Consumers) authorize(ctx context.Context, req contracts.PaymentAuthorizeRequestV1) contracts.PaymentAuthorizeResultV1 {
	log := c.logger.With(logger.OrderID(req.OrderID), logger.CorrelationID(req.CorrelationID))
	res := contracts.PaymentAuthorizeResultV1{Envelope: c.envelope(req.Envelope), OrderID: req.OrderID}

	decision, err := c.payment.Authorize(ctx, req.OrderID, req.Amount, req.Currency)
	if err == nil {
		now := c.clock.Now()
		var p *order.Payment
		if decision.Authorized {
			p = order.NewAuthorizedPayment(req.OrderID, PaymentProviderName, decision.IntentID, req.Amount, now)
		} else {
			p = order.NewFailedPayment(req.OrderID, PaymentProviderName, req.Amount, decision.Reason, now)
		}
		err = c.payments.Save(ctx, p)
	}
	if err != nil {
		log.Error("Error authorizing payment", zap.Error(err))
		res.Reason = internalError(err)
		return res
	}

	res.Authorized = decision.Authorized
	res.IntentID = decision.IntentID
	res.Reason = decision.Reason
	log.Info("Payment authorization completed", zap.Bool("authorized", decision.Authorized))
	return res
}

func (c *Consumers) sendEmail(ctx context.Context, req contracts.EmailSendRequestV1) contracts.EmailSendResultV1 {
	log := c.logger.With(logger.OrderID(req.OrderID), logger.CorrelationID(req.CorrelationID))
	res := contracts.EmailSendResultV1{Envelope: c.envelope(req.Envelope), OrderID: req.OrderID}

	if req.To == "" {
		res.Reason = internalError(errors.New("recipient is empty"))
		return res
	}
	sent, reason, err := c.email.Send(ctx, req.OrderID, req.To, req.Template, req.Model)
	if err != nil {
		log.Error("Error sending email", zap.Error(err))
		res.Reason = internalError(err)
		return res
	}

	res.Sent = sent
	res.Reason = reason
	log.Info("Email send completed", zap.Bool("sent", sent), zap.String("template", req.Template))
	return res
}
