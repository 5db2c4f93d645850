// Package someip defines the shared identifier types and sentinel values
// used across the routing core: service/instance/event/eventgroup/method/
// client/session ids, version fields, and the ANY_* wildcards from the
// SOME/IP specification.
package someip
