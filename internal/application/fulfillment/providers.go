package fulfillment

import (
	"context"
	"errors"
	mrand "math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/orderflow/backend/internal/domain/contracts"
	"github.com/orderflow/backend/internal/domain/shared"
	"github.com/orderflow/backend/internal/infrastructure/config"
	"github.com/orderflow/backend/internal/infrastructure/logger"
)

// PaymentProviderName is recorded on every payment row
const PaymentProviderName = "MockPay"

var (
	paymentFailureReasons = []string{
		"Insufficient funds",
		"Card declined",
		"Invalid card details",
		"Payment processor timeout",
	}
	emailFailureReasons = []string{
		"SMTP server timeout",
		"Invalid recipient email address",
		"Email service unavailable",
	}
)

// InventoryProvider holds and frees stock
type InventoryProvider interface {
	// Reserve returns ok=false with a reason when stock cannot be held
	Reserve(ctx context.Context, orderID uuid.UUID, items []contracts.ReserveItem) (ok bool, reason string, err error)
	Release(ctx context.Context, orderID uuid.UUID) error
}

// Authorization is a payment provider decision
type Authorization struct {
	Authorized bool
	IntentID   string
	Reason     string
}

// PaymentProvider authorizes order totals
type PaymentProvider interface {
	Authorize(ctx context.Context, orderID uuid.UUID, amount decimal.Decimal, currency string) (Authorization, error)
}

// EmailProvider sends templated email. to is a customer reference, not an
// address; implementations look up where to deliver.
type EmailProvider interface {
	Send(ctx context.Context, orderID uuid.UUID, to, template string, model map[string]any) (sent bool, reason string, err error)
}

// faults injects latency and failures into the simulated providers
type faults struct {
	mu    sync.Mutex
	rnd   *mrand.Rand
	clock shared.Clock
}

func newFaults(rnd *mrand.Rand, clock shared.Clock) *faults {
	if rnd == nil {
		rnd = mrand.New(mrand.NewPCG(uint64(time.Now().UnixNano()), 0)) // #nosec G404 -- simulation only
	}
	if clock == nil {
		clock = shared.SystemClock{}
	}
	return &faults{rnd: rnd, clock: clock}
}

// delay waits a random duration in [min, max)
func (f *faults) delay(ctx context.Context, cfg config.ProviderConfig) error {
	d := cfg.MinLatency
	if span := cfg.MaxLatency - cfg.MinLatency; span > 0 {
		f.mu.Lock()
		d += time.Duration(f.rnd.Int64N(int64(span)))
		f.mu.Unlock()
	}
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-f.clock.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *faults) fail(rate float64) bool {
	if rate <= 0 {
		return false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rnd.Float64() < rate
}

func (f *faults) pick(n int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rnd.IntN(n)
}

// SimulatedProviders implements every step provider with configured latency
// and failure probability.
type SimulatedProviders struct {
	cfg    config.ProvidersConfig
	faults *faults
	logger *zap.Logger
}

// NewSimulatedProviders creates the simulated providers. rnd and clock may be
// nil for a time-seeded source and the system clock.
func NewSimulatedProviders(cfg config.ProvidersConfig, rnd *mrand.Rand, clock shared.Clock, log *zap.Logger) *SimulatedProviders {
	return &SimulatedProviders{
		cfg:    cfg,
		faults: newFaults(rnd, clock),
		logger: logger.OrNop(log).Named("providers"),
	}
}

// Reserve implements InventoryProvider
func (p *SimulatedProviders) Reserve(ctx context.Context, orderID uuid.UUID, items []contracts.ReserveItem) (bool, string, error) {
	if err := p.faults.delay(ctx, p.cfg.Inventory); err != nil {
		return false, "", err
	}
	if len(items) > 0 && p.faults.fail(p.cfg.Inventory.FailureRate) {
		reason := "Insufficient inventory for SKU " + items[p.faults.pick(len(items))].SKU
		p.logger.Warn("Inventory reservation failed", logger.OrderID(orderID), zap.String("reason", reason))
		return false, reason, nil
	}
	p.logger.Info("Inventory reserved", logger.OrderID(orderID), zap.Int("items", len(items)))
	return true, "", nil
}

// Release implements InventoryProvider
func (p *SimulatedProviders) Release(ctx context.Context, orderID uuid.UUID) error {
	if err := p.faults.delay(ctx, p.cfg.Release); err != nil {
		return err
	}
	if p.faults.fail(p.cfg.Release.FailureRate) {
		return errors.New("inventory service unavailable")
	}
	p.logger.Info("Inventory released", logger.OrderID(orderID))
	return nil
}

// Authorize implements PaymentProvider
func (p *SimulatedProviders) Authorize(ctx context.Context, orderID uuid.UUID, amount decimal.Decimal, currency string) (Authorization, error) {
	if err := p.faults.delay(ctx, p.cfg.Payment); err != nil {
		return Authorization{}, err
	}
	if p.faults.fail(p.cfg.Payment.FailureRate) {
		reason := paymentFailureReasons[p.faults.pick(len(paymentFailureReasons))]
		p.logger.Warn("Payment authorization failed", logger.OrderID(orderID), zap.String("reason", reason))
		return Authorization{Reason: reason}, nil
	}
	intentID := "pi_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	p.logger.Info("Payment authorized",
		logger.OrderID(orderID),
		zap.String("amount", amount.StringFixed(2)),
		zap.String("currency", currency),
		zap.String("intent_id", intentID),
	)
	return Authorization{Authorized: true, IntentID: intentID}, nil
}

// Send implements EmailProvider
func (p *SimulatedProviders) Send(ctx context.Context, orderID uuid.UUID, to, template string, _ map[string]any) (bool, string, error) {
	if err := p.faults.delay(ctx, p.cfg.Email); err != nil {
		return false, "", err
	}
	if p.faults.fail(p.cfg.Email.FailureRate) {
		reason := emailFailureReasons[p.faults.pick(len(emailFailureReasons))]
		p.logger.Warn("Email send failed", logger.OrderID(orderID), zap.String("reason", reason))
		return false, reason, nil
	}
	p.logger.Info("Email sent", logger.OrderID(orderID), zap.String("to", to), zap.String("template", template))
	return true, "", nil
}

var (
	_ InventoryProvider = (*SimulatedProviders)(nil)
	_ PaymentProvider   = (*SimulatedProviders)(nil)
	_ EmailProvider     = (*SimulatedProviders)(nil)
)
