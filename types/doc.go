// Package types defines the core data model shared across the Conclave
// engine: workflow requests and resolved contexts, typed steps and their
// payloads, claims and edges of the consensus graph, the provider error
// taxonomy, and the boundary event protocol.
//
// The package deliberately imports nothing outside the standard library so
// that every other package can depend on it without cycles.
package types
