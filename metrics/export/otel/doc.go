// Package otel registers observable OpenTelemetry instruments that read
// goGuard engine metrics on each collection.
package otel
