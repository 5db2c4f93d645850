// Package endpoint implements the EndpointRouter collaborator from
// spec.md 6.1: the thing CoreFacade hands an already wire-encoded frame to
// for transport, and that calls back into CoreFacade with every frame it
// receives. LoopbackRouter is an in-process implementation for tests;
// TCPRouter is a real net.Listener/net.Conn based implementation.
package endpoint
