// Package workflow contains the orchestration core: the compiler that turns
// a request into an ordered plan of typed steps, the executor that runs one
// step against the provider fan-out, and the engine state machine that
// drives a full run through its phases with explicit halt rules.
package workflow
