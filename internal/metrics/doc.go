// Package metrics defines the Prometheus collectors for task processing and
// streaming. A nil *Metrics is valid and records nothing.
package metrics
