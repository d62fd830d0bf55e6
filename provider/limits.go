// Package provider holds the read-only provider limit table and the error
// classifier that maps raw transport failures onto the engine's taxonomy.
// It knows provider metadata, never provider wire formats.
package provider

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// DefaultMaxInputChars applies to providers missing from the table.
const DefaultMaxInputChars = 60000

// Limit is one provider's static input budget.
type Limit struct {
	// MaxInputChars is the hard per-call input budget, in characters.
	MaxInputChars int `yaml:"max_input_chars" json:"max_input_chars"`

	// Encoding optionally names a tiktoken encoding for token estimates.
	Encoding string `yaml:"encoding,omitempty" json:"encoding,omitempty"`

	// MaxInputTokens optionally bounds the token estimate; zero disables
	// the token check.
	MaxInputTokens int `yaml:"max_input_tokens,omitempty" json:"max_input_tokens,omitempty"`
}

// LimitTable is the static per-provider limit lookup, consulted read-only.
type LimitTable struct {
	limits map[string]Limit

	mu        sync.Mutex
	encodings map[string]*tiktoken.Tiktoken
}

// NewLimitTable builds a table from config. The map is copied; later caller
// mutations do not leak in.
func NewLimitTable(limits map[string]Limit) *LimitTable {
	copied := make(map[string]Limit, len(limits))
	for id, l := range limits {
		copied[id] = l
	}
	return &LimitTable{
		limits:    copied,
		encodings: make(map[string]*tiktoken.Tiktoken),
	}
}

// MaxInputChars returns the provider's character budget.
func (t *LimitTable) MaxInputChars(providerID string) int {
	if l, ok := t.limits[providerID]; ok && l.MaxInputChars > 0 {
		return l.MaxInputChars
	}
	return DefaultMaxInputChars
}

// Fits reports whether the prompt is within the provider's budgets. The
// character budget always applies; the token budget applies only when the
// provider declares an encoding and a token cap.
func (t *LimitTable) Fits(providerID, prompt string) bool {
	if len(prompt) > t.MaxInputChars(providerID) {
		return false
	}
	l, ok := t.limits[providerID]
	if !ok || l.MaxInputTokens <= 0 || l.Encoding == "" {
		return true
	}
	tokens, err := t.EstimateTokens(providerID, prompt)
	if err != nil {
		// Token estimation is advisory; a missing encoding must not block
		// dispatch when the character budget passed.
		return true
	}
	return tokens <= l.MaxInputTokens
}

// EstimateTokens counts tokens with the provider's declared encoding.
func (t *LimitTable) EstimateTokens(providerID, text string) (int, error) {
	l, ok := t.limits[providerID]
	if !ok || l.Encoding == "" {
		return 0, fmt.Errorf("provider %s has no token encoding configured", providerID)
	}

	t.mu.Lock()
	enc, ok := t.encodings[l.Encoding]
	if !ok {
		var err error
		enc, err = tiktoken.GetEncoding(l.Encoding)
		if err != nil {
			t.mu.Unlock()
			return 0, fmt.Errorf("load encoding %s: %w", l.Encoding, err)
		}
		t.encodings[l.Encoding] = enc
	}
	t.mu.Unlock()

	return len(enc.Encode(text, nil, nil)), nil
}
