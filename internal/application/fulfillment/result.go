// Package fulfillment drives an order from Created to a terminal status by
// calling the inventory, payment and email steps over the bus.
package fulfillment

import (
	"github.com/orderflow/backend/internal/domain/order"
)

// Outcome classifies how a saga run ended
type Outcome string

const (
	// OutcomeCompleted: the order reached Confirmed
	OutcomeCompleted Outcome = "Completed"
	// OutcomeBusinessFailure: a step declined and the order reached a failure status
	OutcomeBusinessFailure Outcome = "BusinessFailure"
	// OutcomeDropped: nothing to do (order missing or already terminal)
	OutcomeDropped Outcome = "Dropped"
	// OutcomeCancelled: the order was cancelled while the saga ran
	OutcomeCancelled Outcome = "Cancelled"
	// OutcomeInfrastructureError: the run was interrupted and should be retried
	OutcomeInfrastructureError Outcome = "InfrastructureError"
)

// Result is what a saga run reports to its supervisor. Business failures are
// outcomes, not errors; Err is only set together with Retry.
type Result struct {
	Outcome Outcome
	Status  order.Status
	Reason  string
	Err     error
	Retry   bool
}

func completed(status order.Status, reason string) Result {
	return Result{Outcome: OutcomeCompleted, Status: status, Reason: reason}
}

func businessFailure(status order.Status, reason string) Result {
	return Result{Outcome: OutcomeBusinessFailure, Status: status, Reason: reason}
}

func dropped(status order.Status, reason string) Result {
	return Result{Outcome: OutcomeDropped, Status: status, Reason: reason}
}

func cancelled(reason string) Result {
	return Result{Outcome: OutcomeCancelled, Status: order.StatusCancelled, Reason: reason}
}

func retry(status order.Status, err error) Result {
	return Result{Outcome: OutcomeInfrastructureError, Status: status, Reason: err.Error(), Err: err, Retry: true}
}
