package streaming

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testKey() Key {
	return Key{SessionID: "s1", StepID: "step-1", ProviderID: "gpt"}
}

func TestMakeDelta_FirstEmissionIsWhole(t *testing.T) {
	t.Parallel()

	m := NewManager(zap.NewNop())
	delta, emit := m.MakeDelta(testKey(), "hello", false)
	require.True(t, emit)
	assert.Equal(t, "hello", delta)
}

func TestMakeDelta_EmptyFirstSnapshotIsSilent(t *testing.T) {
	t.Parallel()

	m := NewManager(zap.NewNop())
	_, emit := m.MakeDelta(testKey(), "", false)
	assert.False(t, emit)
}

func TestMakeDelta_AppendEmitsTail(t *testing.T) {
	t.Parallel()

	m := NewManager(zap.NewNop())
	m.MakeDelta(testKey(), "hello", false)

	delta, emit := m.MakeDelta(testKey(), "hello world", false)
	require.True(t, emit)
	assert.Equal(t, " world", delta)
}

func TestMakeDelta_DivergenceResyncsFromDifference(t *testing.T) {
	t.Parallel()

	m := NewManager(zap.NewNop())
	m.MakeDelta(testKey(), "aaaabbbb", false)

	// Common prefix "aaaa" is 4/8 = 50% of prior, below the 70% append
	// threshold, so the emission restarts at the first differing byte.
	delta, emit := m.MakeDelta(testKey(), "aaaaXXXXXXXX", false)
	require.True(t, emit)
	assert.Equal(t, "XXXXXXXX", delta)
}

func TestMakeDelta_EqualSnapshotIsNoop(t *testing.T) {
	t.Parallel()

	m := NewManager(zap.NewNop())
	m.MakeDelta(testKey(), "stable", false)

	_, emit := m.MakeDelta(testKey(), "stable", false)
	assert.False(t, emit)
}

func TestMakeDelta_SmallRegressionAbsorbed(t *testing.T) {
	t.Parallel()

	m := NewManager(zap.NewNop())
	prior := strings.Repeat("x", 1000)
	m.MakeDelta(testKey(), prior, false)

	// 40-char shrink: within both the 200-char and 5% tolerances.
	shrunk := prior[:960]
	_, emit := m.MakeDelta(testKey(), shrunk, false)
	assert.False(t, emit)

	base, ok := m.Baseline(testKey())
	require.True(t, ok)
	assert.Equal(t, shrunk, base)
}

func TestMakeDelta_LargeRegressionStoresButNeverEmits(t *testing.T) {
	t.Parallel()

	m := NewManager(zap.NewNop())
	prior := strings.Repeat("x", 10000)
	m.MakeDelta(testKey(), prior, false)

	// 5000-char shrink: beyond both tolerances.
	shrunk := prior[:5000]
	_, emit := m.MakeDelta(testKey(), shrunk, false)
	assert.False(t, emit)

	base, _ := m.Baseline(testKey())
	assert.Equal(t, shrunk, base)
}

func TestRegressionHook_FiresPerRegression(t *testing.T) {
	t.Parallel()

	m := NewManager(zap.NewNop())
	var got []string
	m.SetRegressionHook(func(providerID string) { got = append(got, providerID) })

	prior := strings.Repeat("x", 10000)
	m.MakeDelta(testKey(), prior, false)
	m.MakeDelta(testKey(), prior[:5000], false)

	require.Equal(t, []string{"gpt"}, got)

	// Small shrink within tolerance never counts.
	m.MakeDelta(testKey(), prior[:4990], false)
	assert.Len(t, got, 1)
}

func TestMakeDelta_PercentToleranceDominatesForLongText(t *testing.T) {
	t.Parallel()

	m := NewManager(zap.NewNop())
	prior := strings.Repeat("x", 100000)
	m.MakeDelta(testKey(), prior, false)

	// 4000 chars is over the absolute limit but only 4% of prior: absorbed.
	_, emit := m.MakeDelta(testKey(), prior[:96000], false)
	assert.False(t, emit)
}

func TestMakeDelta_FinalForceReplaces(t *testing.T) {
	t.Parallel()

	m := NewManager(zap.NewNop())
	m.MakeDelta(testKey(), strings.Repeat("draft text ", 100), false)

	// Final cleanup shrinks drastically; it must still be emitted verbatim.
	delta, emit := m.MakeDelta(testKey(), "clean", true)
	require.True(t, emit)
	assert.Equal(t, "clean", delta)

	base, _ := m.Baseline(testKey())
	assert.Equal(t, "clean", base)
}

func TestClearSession_DropsOnlyThatSession(t *testing.T) {
	t.Parallel()

	m := NewManager(zap.NewNop())
	k1 := Key{SessionID: "s1", StepID: "a", ProviderID: "p"}
	k2 := Key{SessionID: "s2", StepID: "a", ProviderID: "p"}
	m.MakeDelta(k1, "one", false)
	m.MakeDelta(k2, "two", false)

	m.ClearSession("s1")

	_, ok := m.Baseline(k1)
	assert.False(t, ok)
	_, ok = m.Baseline(k2)
	assert.True(t, ok)
}
