/*
Package metrics records Prometheus metrics for conclave.

# Overview

A single Collector owns every metric vector, registered through promauto
under one namespace. Dimensions cover the HTTP gateway, workflow runs,
individual steps, provider calls, streaming output, and persistence.

# Core types

  - Collector: holds the Counter, Histogram, and Gauge vectors and
    exposes Record* methods for each dimension.

# Event observation

Collector.Sink wraps a workflow event sink so that streaming deltas,
step state changes, and run completions are counted without the engine
knowing about Prometheus.
*/
package metrics
