// Package admin implements a debug/management RPC surface over gRPC: a
// single Snapshot call exposing the live registry and subscription state a
// someip-routingd process holds, for someip-routingd inspect --remote. It
// is deliberately schema-light (google.golang.org/protobuf's structpb
// rather than a fixed message set) since the shape of a diagnostic
// snapshot is expected to grow with whatever the registry and
// subscription engine track next.
package admin
