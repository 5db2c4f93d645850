package endpoint

import (
	"errors"

	"github.com/cuemby/someip-core/pkg/someip"
)

// MessageHandler receives a raw wire frame delivered by a Router along with
// the client id the transport associated with its origin. Decoding the
// frame into a wire.Header and payload is CoreFacade's job, matching
// spec.md's "EndpointRouter::deliver(raw) -> CoreFacade::on_message(msg)"
// control flow.
type MessageHandler func(client someip.ClientID, frame []byte)

// Router is the EndpointRouter trait of spec.md 6.1.
type Router interface {
	// Send transports an already wire-encoded frame to client. The routers
	// in this package address a client by its id alone; someip.RoutingClient
	// gets no special handling and does not address a group of remote
	// subscribers.
	Send(client someip.ClientID, frame []byte) error

	// OnMessage registers the single handler invoked for every frame the
	// router receives. Registering again replaces the previous handler.
	OnMessage(handler MessageHandler)

	Start() error
	Stop() error
}

var (
	// ErrRouterStopped is returned by Send after Stop.
	ErrRouterStopped = errors.New("endpoint: router stopped")

	// ErrUnknownClient is returned by Send for a client id the router has
	// no open connection for.
	ErrUnknownClient = errors.New("endpoint: unknown client")
)
