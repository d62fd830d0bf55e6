// Package streaming reconciles successive full-text snapshots from a
// provider into append-only deltas. Providers re-send the whole accumulated
// text on every tick; the manager remembers the last snapshot per
// (session, step, provider) and emits only what changed.
package streaming

import (
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	// appendPrefixRatio: if the common prefix covers at least this share of
	// the prior snapshot, the new text is treated as an append.
	appendPrefixRatio = 0.7

	// Shrinks within these bounds are normal terminal corrections and are
	// absorbed silently.
	regressionAbsLimit  = 200
	regressionFracLimit = 0.05

	regressionWarnBurst    = 2
	regressionWarnCooldown = 5 * time.Second
)

// Key identifies one provider stream within a run.
type Key struct {
	SessionID  string
	StepID     string
	ProviderID string
}

// warnKey scopes regression warnings to (session, provider); a noisy
// provider should not get a fresh warning budget per step.
type warnKey struct {
	sessionID  string
	providerID string
}

// Manager holds per-stream baselines. Safe for concurrent use; fan-out
// callbacks for distinct providers arrive on distinct goroutines.
type Manager struct {
	logger *zap.Logger

	mu        sync.Mutex
	baselines map[Key]string
	warners   map[warnKey]*rate.Limiter

	onRegression func(providerID string)
}

// NewManager creates an empty delta manager.
func NewManager(logger *zap.Logger) *Manager {
	return &Manager{
		logger:    logger.With(zap.String("component", "streaming_manager")),
		baselines: make(map[Key]string),
		warners:   make(map[warnKey]*rate.Limiter),
	}
}

// SetRegressionHook registers a callback invoked on every regression beyond
// tolerance, warned or not. The hook runs under the manager's lock and must
// not call back into the manager. Not safe to call after streams start.
func (m *Manager) SetRegressionHook(fn func(providerID string)) {
	m.onRegression = fn
}

// MakeDelta reconciles a new full-text snapshot against the stored baseline
// and returns the delta to emit. emit is false when nothing should be
// surfaced (equal text, or an absorbed regression).
//
// A final snapshot bypasses reconciliation entirely: terminal text cleanup
// legitimately shrinks content, so the text is stored and emitted as-is.
func (m *Manager) MakeDelta(key Key, newFullText string, final bool) (delta string, emit bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if final {
		m.baselines[key] = newFullText
		return newFullText, true
	}

	prior, ok := m.baselines[key]
	if !ok || prior == "" {
		if newFullText == "" {
			return "", false
		}
		m.baselines[key] = newFullText
		return newFullText, true
	}

	switch {
	case len(newFullText) > len(prior):
		p := commonPrefixLen(prior, newFullText)
		m.baselines[key] = newFullText
		if float64(p) >= appendPrefixRatio*float64(len(prior)) {
			// Append: emit only the tail past the prior snapshot.
			return newFullText[len(prior):], true
		}
		// Divergence: resynchronize from the first differing byte.
		return newFullText[p:], true

	case newFullText == prior:
		return "", false

	default:
		regression := len(prior) - len(newFullText)
		if regression > regressionAbsLimit && float64(regression) > regressionFracLimit*float64(len(prior)) {
			m.warnRegression(key, len(prior), len(newFullText))
		}
		// Store regardless; a negative-length delta is never emitted.
		m.baselines[key] = newFullText
		return "", false
	}
}

// Baseline returns the last stored snapshot for a stream. Used to recover
// partial text when a provider errors mid-stream.
func (m *Manager) Baseline(key Key) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	text, ok := m.baselines[key]
	return text, ok
}

// ClearSession drops every baseline and warning budget belonging to a
// session. Called once at the end of a run.
func (m *Manager) ClearSession(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for k := range m.baselines {
		if k.SessionID == sessionID {
			delete(m.baselines, k)
		}
	}
	for k := range m.warners {
		if k.sessionID == sessionID {
			delete(m.warners, k)
		}
	}
}

// warnRegression logs a large shrink, rate-limited per (session, provider).
// Caller holds the lock.
func (m *Manager) warnRegression(key Key, priorLen, newLen int) {
	if m.onRegression != nil {
		m.onRegression(key.ProviderID)
	}
	wk := warnKey{sessionID: key.SessionID, providerID: key.ProviderID}
	limiter, ok := m.warners[wk]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(regressionWarnCooldown), regressionWarnBurst)
		m.warners[wk] = limiter
	}
	if !limiter.Allow() {
		return
	}
	m.logger.Warn("stream regressed beyond tolerance",
		zap.String("session_id", key.SessionID),
		zap.String("step_id", key.StepID),
		zap.String("provider", key.ProviderID),
		zap.Int("prior_len", priorLen),
		zap.Int("new_len", newLen),
	)
}

func commonPrefixLen(a, b string) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return i
		}
	}
	return n
}
