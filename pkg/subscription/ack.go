package subscription

import "github.com/cuemby/someip-core/pkg/someip"

// ackEvent is the input to the ack state machine: the routing daemon's own
// verdict on the subscribe (ErrNotAuthorized etc.) never reaches this
// machine, only the remote/offer-side ack or nack that on_subscription_ack
// reports.
type ackEvent int

const (
	ackEventAccepted ackEvent = iota
	ackEventRejected
)

// nextAckState applies one ack event to a subscription's current state.
// Subscribing is the only state that accepts a transition; a second ack for
// an already-acknowledged or already-rejected subscription is a caller bug,
// grounded on the same explicit apply-by-type style as the teacher's
// pkg/manager FSM rather than silently tolerating it.
func nextAckState(current someip.AckState, ev ackEvent) (someip.AckState, error) {
	if current != someip.AckSubscribing {
		return current, ErrAlreadyAcknowledged
	}
	switch ev {
	case ackEventAccepted:
		return someip.AckAcknowledged, nil
	case ackEventRejected:
		return someip.AckNotAcknowledged, nil
	default:
		return current, ErrAlreadyAcknowledged
	}
}
