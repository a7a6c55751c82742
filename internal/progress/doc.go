// Package progress carries harvest lifecycle events from the harvester to
// observers. Emitters never block: the Hub buffers events on a background
// goroutine, batches them, and fans each batch out to pluggable sinks such as
// structured logs, Prometheus collectors, Pub/Sub, or live HTTP subscribers.
package progress
