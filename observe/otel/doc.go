// Package otel provides an OpenTelemetry observer plugin for the scope
// library. It emits span events (submit, start, cancel, join) with low
// overhead.
package otel
