package mocks

import (
	"context"
	"sync/atomic"

	"github.com/conclave-ai/conclave/types"
)

// ConfirmGate is a confirmation-gate stub with a fixed answer and a call
// counter.
type ConfirmGate struct {
	Halt  bool
	calls atomic.Int32
}

func (g *ConfirmGate) ShouldHalt(_ context.Context, _ *types.WorkflowRequest, _ *types.MappingOutput) bool {
	g.calls.Add(1)
	return g.Halt
}

// CallCount reports how many times the gate was consulted.
func (g *ConfirmGate) CallCount() int {
	return int(g.calls.Load())
}
