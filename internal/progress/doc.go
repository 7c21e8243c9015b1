// Package progress carries crawl progress events from the engine to pluggable
// sinks. Emission never blocks the crawl: events are buffered, batched on a
// background goroutine and fanned out to sinks such as structured logs,
// Prometheus collectors or the in-memory status view served by the API.
package progress
