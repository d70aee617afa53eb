// Package progress provides the event primitives, non-blocking hub, and emitter
// interfaces that workers and the scrape pipeline use to report job and page
// progress. It batches events on a background goroutine and fans them out to
// pluggable sinks such as logs, Prometheus metrics or Redis pub/sub.
package progress
