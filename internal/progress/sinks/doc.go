// Package sinks implements concrete progress consumers: structured logging,
// Prometheus collectors, Google Cloud Pub/Sub publishing, and an in-process
// broadcaster for live HTTP observers. Each sink satisfies progress.Sink.
package sinks
