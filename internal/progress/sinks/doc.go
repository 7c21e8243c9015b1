// Package sinks implements progress consumers: structured logs, Prometheus
// collectors and an in-memory run status view.
package sinks
