package subscription

import "errors"

var (
	// ErrNotAuthorized is returned when SecurityPolicy denies a subscribe.
	ErrNotAuthorized = errors.New("subscription: not authorized")

	// ErrUnknown is returned by on_subscription_ack for a (client, s, i, g, e)
	// tuple with no tracked subscription.
	ErrUnknown = errors.New("subscription: no tracked subscription")

	// ErrAlreadyAcknowledged is returned by on_subscription_ack when the
	// subscription has already left the Subscribing state.
	ErrAlreadyAcknowledged = errors.New("subscription: already acknowledged")
)
