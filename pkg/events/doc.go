// Package events provides an in-memory, non-blocking broker for the
// routing engine's lifecycle events (service availability, application
// state transitions, subscription status) so that observers such as a
// CLI or an admin RPC surface can follow them without polling the
// registry or subscription engine directly.
package events
