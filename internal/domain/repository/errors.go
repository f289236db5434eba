package repository

import "fmt"

// PartialDeliveryError is returned by a fan-out Notifier when some sinks
// accepted the signal and others failed. The signal is out: callers must
// treat it as emitted.
type PartialDeliveryError struct {
	Delivered int
	Failed    int
	Err       error
}

func (e *PartialDeliveryError) Error() string {
	return fmt.Sprintf("delivered to %d of %d notifiers: %v", e.Delivered, e.Delivered+e.Failed, e.Err)
}

func (e *PartialDeliveryError) Unwrap() error { return e.Err }
