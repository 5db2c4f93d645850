// Package dispatch implements the bounded worker pool described in
// spec.md 4.5: user-registered handlers (message, availability, state,
// subscription-status, offered-services, watchdog) are invoked off the
// caller's goroutine, never concurrently for the same (service, instance)
// when one of them is an availability handler, and escalate to an extra
// worker when a handler blocks past max_dispatch_time.
package dispatch
