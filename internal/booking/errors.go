package booking

import "errors"

// ErrSlotTaken is the expected business outcome for a taken slot: the
// conflict re-check inside the reservation transaction found a pending or
// confirmed appointment holding the interval. Never retried.
var ErrSlotTaken = errors.New("time slot already booked")

// ErrServiceBusy surfaces a lock-wait or transaction timeout. The caller may
// retry later; nothing was committed.
var ErrServiceBusy = errors.New("booking busy, retry later")

// ErrorClass partitions storage failures for the retry loop, decoupling it
// from any one engine's error taxonomy.
type ErrorClass int

const (
	// ClassPersistence errors propagate immediately, untouched.
	ClassPersistence ErrorClass = iota
	// ClassRetryable marks transient write-conflict/serialization failures;
	// the whole reservation procedure is retried within the attempt budget.
	ClassRetryable
	// ClassBusy marks lock-wait and statement timeouts, reported to the
	// caller as ErrServiceBusy.
	ClassBusy
)

// Classifier maps store-specific errors to an ErrorClass.
type Classifier func(error) ErrorClass
