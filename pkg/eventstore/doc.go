// Package eventstore owns per-event payloads and eventgroup subscriber
// sets, and implements the publish path: set_payload/notify_one run every
// update through a debounce (epsilon) filter before handing the result to
// an injected Forwarder, and a background timer wheel drives the
// send-current-value-after contract for subscriptions that ask for it.
package eventstore
