package consensus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conclave-ai/conclave/types"
)

func claim(id string, role types.ClaimRole, supporters ...string) types.Claim {
	return types.Claim{ID: id, Label: id, Text: "claim " + id, Supporters: supporters, Type: types.ClaimFactual, Role: role}
}

func TestValidateGraph_RejectsDanglingEdge(t *testing.T) {
	t.Parallel()

	claims := []types.Claim{claim("a", types.RoleAnchor, "p1")}
	edges := []types.Edge{{From: "a", To: "ghost", Type: types.EdgeSupports}}

	err := ValidateGraph(claims, edges)
	require.Error(t, err)
	assert.Equal(t, types.ErrInvalidGraph, types.GetErrorCode(err))
}

func TestNormalizeSupporters_CitationIndices(t *testing.T) {
	t.Parallel()

	order := []string{"gpt", "claude", "gemini"}
	got := NormalizeSupporters([]string{"1", "3", "claude", "3"}, order)
	assert.Equal(t, []string{"gpt", "gemini", "claude"}, got)
}

func TestNormalizeSupporters_OutOfRangeIndexDropped(t *testing.T) {
	t.Parallel()

	got := NormalizeSupporters([]string{"0", "4", "2"}, []string{"gpt", "claude"})
	assert.Equal(t, []string{"claude"}, got)
}

func TestNormalizeSupporters_RawIDsWithoutTable(t *testing.T) {
	t.Parallel()

	// Without a citation table, numeric strings are taken as raw ids.
	got := NormalizeSupporters([]string{"gpt", "gpt", "claude"}, nil)
	assert.Equal(t, []string{"gpt", "claude"}, got)
}

func TestConsensusGate_Monoculture(t *testing.T) {
	t.Parallel()

	mapping := &types.MappingOutput{
		Claims: []types.Claim{claim("a", types.RoleAnchor, "gpt", "claude", "gemini")},
	}
	gate := ComputeConsensusGate(DefaultConfig(), mapping, []string{"gpt", "claude", "gemini"})

	assert.True(t, gate.ConsensusOnly)
	assert.Equal(t, types.GateMonoculture, gate.Reason)
	assert.Equal(t, 3, gate.Stats.MaxSupporters)
}

func TestConsensusGate_NoAnchor(t *testing.T) {
	t.Parallel()

	mapping := &types.MappingOutput{
		Claims: []types.Claim{
			claim("a", types.RoleAnchor, "gpt", "claude"),
			claim("b", types.RoleBranch, "gemini"),
			claim("c", types.RoleChallenger, "claude"),
		},
	}
	gate := ComputeConsensusGate(DefaultConfig(), mapping, []string{"gpt", "claude", "gemini"})

	assert.True(t, gate.ConsensusOnly)
	assert.Equal(t, types.GateNoAnchor, gate.Reason)
	assert.Equal(t, 2, gate.Stats.MaxSupporters)
}

func TestConsensusGate_AnchorWithOutliersProceeds(t *testing.T) {
	t.Parallel()

	mapping := &types.MappingOutput{
		Claims: []types.Claim{
			claim("a", types.RoleAnchor, "gpt", "claude", "gemini"),
			claim("b", types.RoleBranch, "gpt"),
			claim("c", types.RoleChallenger, "claude"),
			claim("d", types.RoleSupplement, "gemini"),
		},
	}
	gate := ComputeConsensusGate(DefaultConfig(), mapping, []string{"gpt", "claude", "gemini"})

	assert.False(t, gate.ConsensusOnly)
	assert.Equal(t, types.GateAnchorOutlier, gate.Reason)
	assert.Equal(t, 3, gate.Stats.MaxSupporters)
}

func TestConsensusGate_FailedProviderCitationsDoNotCount(t *testing.T) {
	t.Parallel()

	// gemini was cited by the mapper but its batch call failed; with it
	// excluded the anchor drops to quorum and the gate closes.
	mapping := &types.MappingOutput{
		Claims: []types.Claim{
			claim("a", types.RoleAnchor, "gpt", "claude", "gemini"),
			claim("b", types.RoleBranch, "gpt"),
			claim("c", types.RoleChallenger, "claude"),
			claim("d", types.RoleSupplement, "gpt"),
		},
	}
	gate := ComputeConsensusGate(DefaultConfig(), mapping, []string{"gpt", "claude"})

	assert.True(t, gate.ConsensusOnly)
	assert.Equal(t, types.GateNoAnchor, gate.Reason)
	assert.Equal(t, 2, gate.Stats.MaxSupporters)
}

func TestConsensusGate_CitationEncodedSupporters(t *testing.T) {
	t.Parallel()

	mapping := &types.MappingOutput{
		CitationOrder: []string{"gpt", "claude", "gemini"},
		Claims: []types.Claim{
			claim("a", types.RoleAnchor, "1", "2", "3"),
			claim("b", types.RoleBranch, "1"),
			claim("c", types.RoleChallenger, "2"),
			claim("d", types.RoleSupplement, "3"),
		},
	}
	gate := ComputeConsensusGate(DefaultConfig(), mapping, []string{"gpt", "claude", "gemini"})

	assert.False(t, gate.ConsensusOnly)
	assert.Equal(t, 3, gate.Stats.MaxSupporters)
}
