package core

import "errors"

// Error taxonomy delivered to callers, spec.md 6.5. Every CoreFacade
// operation that fails returns one of these, wrapping the lower-level
// collaborator error where one exists.
var (
	ErrAlreadyOffered      = errors.New("core: service already offered by another client")
	ErrVersionMismatch     = errors.New("core: version mismatch")
	ErrServiceUnknown      = errors.New("core: service unknown")
	ErrEventUnknown        = errors.New("core: event unknown")
	ErrSubscriptionPending = errors.New("core: subscription still awaiting acknowledgement")
	ErrSubscriptionRejected = errors.New("core: subscription was not acknowledged")
	ErrNotAuthorized       = errors.New("core: operation not authorized")
	ErrPoolExhausted       = errors.New("core: client id pool exhausted")
	ErrIoError             = errors.New("core: transport io error")
	ErrInvalidArgument     = errors.New("core: invalid argument")
)
