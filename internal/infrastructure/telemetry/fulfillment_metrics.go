package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/orderflow/backend/internal/infrastructure/event"
)

// ErrMeterNil is returned when a metrics constructor receives no meter.
var ErrMeterNil = errors.New("telemetry: meter is nil")

// MetricsError wraps an instrument creation failure with the instrument name.
type MetricsError struct {
	Instrument string
	Err        error
}

func (e *MetricsError) Error() string {
	return fmt.Sprintf("telemetry: create %s: %v", e.Instrument, e.Err)
}

func (e *MetricsError) Unwrap() error { return e.Err }

// BacklogSource reports how many outbox rows still wait for delivery.
type BacklogSource interface {
	CountUnpublished(ctx context.Context) (int64, error)
}

// FulfillmentMetrics holds the order, saga and outbox instruments.
// It satisfies event.RelayObserver.
type FulfillmentMetrics struct {
	ordersCreated *Counter
	sagaOutcomes  *Counter
	stepDuration  *Histogram
	published     *Counter
	failed        *Counter
	dead          *Counter
	backlog       metric.Int64ObservableGauge
}

var _ event.RelayObserver = (*FulfillmentMetrics)(nil)

// NewFulfillmentMetrics creates the instruments on meter. backlog may be nil.
func NewFulfillmentMetrics(meter metric.Meter, backlog BacklogSource) (*FulfillmentMetrics, error) {
	if meter == nil {
		return nil, ErrMeterNil
	}
	m := &FulfillmentMetrics{}

	counters := []struct {
		dst         **Counter
		name, descr string
		unit        string
	}{
		{&m.ordersCreated, "orderflow_orders_created_total", "Orders accepted at intake", "{order}"},
		{&m.sagaOutcomes, "orderflow_saga_outcome_total", "Fulfillment saga runs by outcome", "{saga}"},
		{&m.published, "orderflow_outbox_published_total", "Outbox messages delivered to the bus", "{message}"},
		{&m.failed, "orderflow_outbox_failed_total", "Outbox publish attempts that failed", "{message}"},
		{&m.dead, "orderflow_outbox_dead_total", "Outbox messages moved to the dead letter state", "{message}"},
	}
	for _, c := range counters {
		counter, err := NewCounter(meter, c.name, c.descr, c.unit)
		if err != nil {
			return nil, &MetricsError{Instrument: c.name, Err: err}
		}
		*c.dst = counter
	}

	var err error
	m.stepDuration, err = NewHistogram(meter, HistogramOpts{
		Name:        "orderflow_step_duration_seconds",
		Description: "Latency of one saga step request/reply",
		Unit:        "s",
		Boundaries:  StepDurationBuckets,
	})
	if err != nil {
		return nil, &MetricsError{Instrument: "orderflow_step_duration_seconds", Err: err}
	}

	if backlog != nil {
		m.backlog, err = meter.Int64ObservableGauge("orderflow_outbox_backlog",
			metric.WithDescription("Outbox messages awaiting delivery"),
			metric.WithUnit("{message}"),
			metric.WithInt64Callback(func(ctx context.Context, o metric.Int64Observer) error {
				n, err := backlog.CountUnpublished(ctx)
				if err != nil {
					return err
				}
				o.Observe(n)
				return nil
			}),
		)
		if err != nil {
			return nil, &MetricsError{Instrument: "orderflow_outbox_backlog", Err: err}
		}
	}
	return m, nil
}

// RecordOrderCreated counts a newly accepted order.
func (m *FulfillmentMetrics) RecordOrderCreated(ctx context.Context, currency string) {
	m.ordersCreated.Inc(ctx, AttrCurrency.String(currency))
}

// RecordSagaOutcome counts a finished saga run.
func (m *FulfillmentMetrics) RecordSagaOutcome(ctx context.Context, outcome string) {
	m.sagaOutcomes.Inc(ctx, AttrOutcome.String(outcome))
}

// RecordStep records one step round trip.
func (m *FulfillmentMetrics) RecordStep(ctx context.Context, step string, d time.Duration, success bool) {
	m.stepDuration.RecordDuration(ctx, d, AttrStep.String(step), AttrSuccess.Bool(success))
}

// RecordRelayBatch implements event.RelayObserver.
func (m *FulfillmentMetrics) RecordRelayBatch(ctx context.Context, stats event.RelayStats) {
	if stats.Published > 0 {
		m.published.Add(ctx, int64(stats.Published))
	}
	if stats.Failed > 0 {
		m.failed.Add(ctx, int64(stats.Failed))
	}
}

// RecordDeadLetter implements event.RelayObserver.
func (m *FulfillmentMetrics) RecordDeadLetter(ctx context.Context, msgType, reason string) {
	m.dead.Inc(ctx, AttrMessageType.String(msgType))
}
