package order

// Status represents the fulfillment status of an order
type Status string

const (
	StatusCreated           Status = "Created"
	StatusAccepted          Status = "Accepted"
	StatusInventoryReserved Status = "InventoryReserved"
	StatusPaymentAuthorized Status = "PaymentAuthorized"
	StatusConfirmed         Status = "Confirmed"
	StatusFailedInventory   Status = "FailedInventory"
	StatusFailedPayment     Status = "FailedPayment"
	// StatusEmailFailed is kept for status filters only. An email failure
	// leaves the order Confirmed with the outcome in the transition reason.
	StatusEmailFailed Status = "EmailFailed"
	StatusCancelled   Status = "Cancelled"
	StatusFailed      Status = "Failed"
)

// AllStatuses returns every status in lifecycle order
func AllStatuses() []Status {
	return []Status{
		StatusCreated,
		StatusAccepted,
		StatusInventoryReserved,
		StatusPaymentAuthorized,
		StatusConfirmed,
		StatusFailedInventory,
		StatusFailedPayment,
		StatusEmailFailed,
		StatusCancelled,
		StatusFailed,
	}
}

// IsValid checks if the status is a known Status
func (s Status) IsValid() bool {
	for _, st := range AllStatuses() {
		if s == st {
			return true
		}
	}
	return false
}

// String returns the string representation of Status
func (s Status) String() string {
	return string(s)
}

// IsTerminal reports whether the saga has nothing left to do for the order
func (s Status) IsTerminal() bool {
	switch s {
	case StatusConfirmed, StatusFailedInventory, StatusFailedPayment, StatusCancelled, StatusFailed:
		return true
	}
	return false
}

// InProgressStatuses are the statuses a saga run still has to move on
func InProgressStatuses() []Status {
	return []Status{StatusCreated, StatusAccepted, StatusInventoryReserved, StatusPaymentAuthorized}
}

// CanTransitionTo checks whether moving from s to target is allowed.
// Failure states still accept an administrative cancel; Confirmed and
// Cancelled accept nothing.
func (s Status) CanTransitionTo(target Status) bool {
	switch s {
	case StatusCreated:
		return target == StatusAccepted || target == StatusCancelled || target == StatusFailed
	case StatusAccepted:
		return target == StatusInventoryReserved || target == StatusFailedInventory ||
			target == StatusCancelled || target == StatusFailed
	case StatusInventoryReserved:
		return target == StatusPaymentAuthorized || target == StatusFailedPayment ||
			target == StatusCancelled || target == StatusFailed
	case StatusPaymentAuthorized:
		return target == StatusConfirmed || target == StatusCancelled || target == StatusFailed
	case StatusFailedInventory, StatusFailedPayment, StatusFailed, StatusEmailFailed:
		return target == StatusCancelled
	case StatusConfirmed, StatusCancelled:
		return false
	}
	return false
}
