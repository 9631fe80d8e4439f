// Package metrics exposes Prometheus collectors for the Warden control
// plane: task lifecycle counters, remediation and circuit breaker state,
// health check outcomes and API request totals. Collectors are package
// level and registered once at init.
package metrics
