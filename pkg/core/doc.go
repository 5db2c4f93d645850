// Package core implements CoreFacade, the public entry point described in
// spec.md 4.6: it wires Registry, EventStore, SubscriptionEngine, and
// Dispatcher together behind the operations an embedding application calls
// (offer/request/subscribe/notify/send) and the handlers it registers.
package core
