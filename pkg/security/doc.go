// Package security defines the authorization collaborator the routing
// core consults before offering, requesting, or subscribing to a service:
// the Policy interface, plus an always-allow default and an audit-mode
// implementation that logs denials without blocking, except for the
// ANY_EVENT subscribe rule where any member denial blocks the whole
// subscription.
package security
