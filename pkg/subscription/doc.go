// Package subscription tracks per-client subscriptions, placeholder
// promotion, and acknowledgement state for eventgroups, delegating payload
// and subscriber-set storage to pkg/eventstore and authorization to an
// injected security.Policy.
package subscription
