package registry

import "errors"

var (
	// ErrAlreadyOffered is returned when a different client attempts to
	// offer a (service, instance) that another client currently provides.
	ErrAlreadyOffered = errors.New("registry: service already offered by another client")
	// ErrVersionMismatch is returned when a caller's major/minor version
	// does not satisfy the existing record's version per the wildcard rule.
	ErrVersionMismatch = errors.New("registry: version mismatch")
	// ErrServiceUnknown is returned when request/release/find target a
	// (service, instance) with no record.
	ErrServiceUnknown = errors.New("registry: service unknown")
	// ErrNotAuthorized is returned when stop_offer is called by a client
	// other than the current provider.
	ErrNotAuthorized = errors.New("registry: caller is not the current provider")
)
