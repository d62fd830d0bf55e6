// Package mocks provides scripted doubles for the engine's collaborator
// contracts: the fan-out collaborator, the turn store and the confirmation
// gate. All doubles record their calls and support error injection.
package mocks

import (
	"context"
	"sync"

	"github.com/conclave-ai/conclave/fanout"
	"github.com/conclave-ai/conclave/types"
)

// ProviderScript describes one provider's scripted behavior in a fan-out.
type ProviderScript struct {
	// Partials are full-text snapshots emitted in order before completion.
	Partials []string
	// Text is the final response text; empty with a nil Err simulates an
	// empty completion.
	Text string
	Meta types.ContinuationMeta
	// Err fails the call after the partials have been emitted.
	Err error
}

// FanoutCall records one ExecuteParallelFanout or ExecuteSingle invocation.
type FanoutCall struct {
	SessionID    string
	Prompt       string
	ProviderIDs  []string
	Continuation types.ContinuationMeta
	Single       bool
}

// ScriptedCollaborator is a deterministic fanout.Collaborator driven by
// per-provider script queues: each call to a provider consumes the next
// script, and the last one repeats. Unscripted providers succeed with a
// canned line.
type ScriptedCollaborator struct {
	mu        sync.Mutex
	scripts   map[string][]ProviderScript
	calls     []FanoutCall
	cancelled []string
}

// NewScriptedCollaborator builds an empty collaborator; add behavior with
// Script.
func NewScriptedCollaborator() *ScriptedCollaborator {
	return &ScriptedCollaborator{scripts: make(map[string][]ProviderScript)}
}

// Script appends one behavior to a provider's queue and returns the
// collaborator for chaining.
func (s *ScriptedCollaborator) Script(providerID string, script ProviderScript) *ScriptedCollaborator {
	s.mu.Lock()
	s.scripts[providerID] = append(s.scripts[providerID], script)
	s.mu.Unlock()
	return s
}

// Calls returns a copy of every recorded invocation.
func (s *ScriptedCollaborator) Calls() []FanoutCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]FanoutCall(nil), s.calls...)
}

// Cancelled returns the session ids passed to CancelSession.
func (s *ScriptedCollaborator) Cancelled() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.cancelled...)
}

func (s *ScriptedCollaborator) ExecuteParallelFanout(ctx context.Context, sessionID, prompt string, providerIDs []string, opts fanout.Options, cb fanout.Callbacks) error {
	s.record(FanoutCall{
		SessionID:    sessionID,
		Prompt:       prompt,
		ProviderIDs:  append([]string(nil), providerIDs...),
		Continuation: opts.Continuation,
	})

	results := make(map[string]fanout.Result, len(providerIDs))
	errs := make(map[string]error)

	// Scripts run sequentially so tests observe deterministic event order.
	for _, id := range providerIDs {
		script := s.scriptFor(id)
		for _, p := range script.Partials {
			if cb.OnPartial != nil {
				cb.OnPartial(id, p)
			}
		}
		if script.Err != nil {
			errs[id] = script.Err
			if cb.OnError != nil {
				cb.OnError(id, script.Err)
			}
			continue
		}
		results[id] = fanout.Result{ProviderID: id, Text: script.Text, Meta: script.Meta}
		if cb.OnProviderComplete != nil {
			cb.OnProviderComplete(id)
		}
	}

	if cb.OnAllComplete != nil {
		cb.OnAllComplete(results, errs)
	}
	return nil
}

func (s *ScriptedCollaborator) ExecuteSingle(ctx context.Context, sessionID, prompt, providerID string, opts fanout.Options) (fanout.Result, error) {
	s.record(FanoutCall{
		SessionID:    sessionID,
		Prompt:       prompt,
		ProviderIDs:  []string{providerID},
		Continuation: opts.Continuation,
		Single:       true,
	})
	script := s.scriptFor(providerID)
	if script.Err != nil {
		return fanout.Result{}, script.Err
	}
	return fanout.Result{ProviderID: providerID, Text: script.Text, Meta: script.Meta}, nil
}

func (s *ScriptedCollaborator) CancelSession(sessionID string) {
	s.mu.Lock()
	s.cancelled = append(s.cancelled, sessionID)
	s.mu.Unlock()
}

func (s *ScriptedCollaborator) scriptFor(providerID string) ProviderScript {
	s.mu.Lock()
	defer s.mu.Unlock()
	queue := s.scripts[providerID]
	switch len(queue) {
	case 0:
		return ProviderScript{Text: "scripted response from " + providerID}
	case 1:
		return queue[0]
	default:
		head := queue[0]
		s.scripts[providerID] = queue[1:]
		return head
	}
}

func (s *ScriptedCollaborator) record(c FanoutCall) {
	s.mu.Lock()
	s.calls = append(s.calls, c)
	s.mu.Unlock()
}
