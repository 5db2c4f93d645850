// Package metrics defines and registers the Prometheus metrics exposed by
// the someip-core routing engine: registry size, subscriber counts,
// dispatcher pool occupancy, debounce-suppression rates, and back-pressure
// drops. Metrics are exposed via Handler for scraping.
package metrics
