package streaming

import (
	"strings"
	"testing"

	"go.uber.org/zap"
	"pgregory.net/rapid"
)

// An append-only snapshot sequence must round-trip: concatenating every
// emitted delta reproduces the last snapshot exactly.
func TestMakeDelta_AppendRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		m := NewManager(zap.NewNop())
		key := Key{SessionID: "s", StepID: "st", ProviderID: "p"}

		chunks := rapid.SliceOfN(rapid.StringN(0, 40, -1), 1, 20).Draw(t, "chunks")

		var full strings.Builder
		var emitted strings.Builder
		for _, chunk := range chunks {
			full.WriteString(chunk)
			delta, emit := m.MakeDelta(key, full.String(), false)
			if emit {
				emitted.WriteString(delta)
			}
		}

		if emitted.String() != full.String() {
			t.Fatalf("round-trip mismatch: emitted %q, want %q", emitted.String(), full.String())
		}
	})
}

// Shrinking snapshots never produce an emission, whatever the size of the
// shrink, and the stored baseline always tracks the latest snapshot.
func TestMakeDelta_ShrinkNeverEmits(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		m := NewManager(zap.NewNop())
		key := Key{SessionID: "s", StepID: "st", ProviderID: "p"}

		prior := rapid.StringN(1, 2000, -1).Draw(t, "prior")
		m.MakeDelta(key, prior, false)

		cut := rapid.IntRange(0, len(prior)-1).Draw(t, "cut")
		shrunk := prior[:cut]
		if shrunk == prior {
			t.Skip()
		}

		_, emit := m.MakeDelta(key, shrunk, false)
		if emit {
			t.Fatalf("shrink from %d to %d emitted a delta", len(prior), len(shrunk))
		}
		base, _ := m.Baseline(key)
		if base != shrunk {
			t.Fatalf("baseline not updated after shrink")
		}
	})
}

// A final emission always equals the exact text passed, regardless of what
// was streamed before.
func TestMakeDelta_FinalAlwaysVerbatim(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		m := NewManager(zap.NewNop())
		key := Key{SessionID: "s", StepID: "st", ProviderID: "p"}

		for _, snap := range rapid.SliceOfN(rapid.String(), 0, 5).Draw(t, "snaps") {
			m.MakeDelta(key, snap, false)
		}

		finalText := rapid.String().Draw(t, "final")
		delta, emit := m.MakeDelta(key, finalText, true)
		if !emit || delta != finalText {
			t.Fatalf("final emission %q (emit=%v), want verbatim %q", delta, emit, finalText)
		}
	})
}
