// Package log provides structured, component-scoped logging for the
// someip-core routing engine, built on zerolog.
//
// Call Init once at process start, then derive child loggers per
// component with WithComponent, and layer routing-specific fields onto
// that component logger with WithClientID / WithService / WithEventgroup
// so a single record carries both its subsystem and its SOME/IP context.
package log
