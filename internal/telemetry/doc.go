// Package telemetry wraps OpenTelemetry SDK initialization, wiring the
// global TracerProvider and MeterProvider to an OTLP gRPC collector.
// When telemetry is disabled it installs nothing and stays noop.
package telemetry
