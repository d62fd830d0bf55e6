package consensus

import (
	"fmt"
	"reflect"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/conclave-ai/conclave/types"
)

func providerPool(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("prov-%d", i)
	}
	return out
}

// Property: the gate decision is a pure function of claim count and the
// restricted max supporter count, and restriction can only shrink support.
func TestConsensusGate_Properties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	// Generate valid lengths directly; filtering SliceOf with SuchThat
	// discards most candidates and makes gopter give up.
	genClaimSupports := gen.IntRange(1, 8).FlatMap(func(n interface{}) gopter.Gen {
		return gen.SliceOfN(n.(int), gen.IntRange(0, 6))
	}, reflect.TypeOf([]int{}))

	properties.Property("restricting to completed never raises max supporters", prop.ForAll(
		func(supports []int, completedCount int) bool {
			pool := providerPool(6)
			claims := make([]types.Claim, len(supports))
			for i, n := range supports {
				claims[i] = types.Claim{
					ID:         fmt.Sprintf("c%d", i),
					Supporters: pool[:n],
					Role:       types.RoleBranch,
				}
			}
			mapping := &types.MappingOutput{Claims: claims}

			all := ComputeConsensusGate(DefaultConfig(), mapping, pool)
			restricted := ComputeConsensusGate(DefaultConfig(), mapping, pool[:completedCount])
			return restricted.Stats.MaxSupporters <= all.Stats.MaxSupporters
		},
		genClaimSupports,
		gen.IntRange(0, 6),
	))

	properties.Property("consensusOnly exactly when monoculture or no anchor", prop.ForAll(
		func(supports []int, completedCount int) bool {
			pool := providerPool(6)
			claims := make([]types.Claim, len(supports))
			for i, n := range supports {
				claims[i] = types.Claim{
					ID:         fmt.Sprintf("c%d", i),
					Supporters: pool[:n],
					Role:       types.RoleBranch,
				}
			}
			mapping := &types.MappingOutput{Claims: claims}
			gate := ComputeConsensusGate(DefaultConfig(), mapping, pool[:completedCount])

			want := len(claims) == 1 || gate.Stats.MaxSupporters <= 2
			return gate.ConsensusOnly == want
		},
		genClaimSupports,
		gen.IntRange(0, 6),
	))

	properties.TestingRun(t)
}
