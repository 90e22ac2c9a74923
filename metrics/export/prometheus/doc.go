// Package prometheus exposes goGuard engine metrics as a
// prometheus.Collector.
//
// Counters are named goguard_*_total; the validation latency histogram is
// goguard_validate_latency_seconds. The collector reads a snapshot on every
// scrape and never mutates the engine.
package prometheus
