/*
Package server is the HTTP gateway for conclave.

# Overview

The package has three layers. Manager wraps net/http.Server with
non-blocking start, graceful shutdown, and SIGINT/SIGTERM handling.
Gateway exposes the workflow API: POST /v1/workflows runs a request to
completion, GET /v1/workflows/events streams boundary events over a
websocket, plus /healthz and /metrics. A middleware chain adds panic
recovery, request ids, request logging, per-client rate limiting, and
optional JWT bearer auth.

# Event fan-out

Broker receives every engine event through its Sink and fans it out to
session-keyed websocket subscribers. Slow subscribers drop events rather
than block the engine.
*/
package server
