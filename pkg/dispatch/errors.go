package dispatch

import "errors"

var (
	// ErrStopped is returned by Enqueue* once Stop has been called; no new
	// work is accepted after stop.
	ErrStopped = errors.New("dispatch: dispatcher stopped")

	// ErrQueueFull is returned when a droppable message item is rejected
	// under back-pressure; field updates and priority items never see this.
	ErrQueueFull = errors.New("dispatch: queue full, item dropped")
)
