// Package consensus contains the pure analytics over a mapped claim graph:
// the consensus gate deciding whether the deep critique stages are worth
// running, and the structural classification of how provider agreement is
// shaped.
package consensus

import "github.com/conclave-ai/conclave/types"

// AnalyticsConfig exposes every threshold and weight used by the gate and
// the structural classifier. The defaults reproduce the engine's historical
// behaviour; deployments may override individual values.
type AnalyticsConfig struct {
	// Quorum is the minimum restricted supporter count a claim needs to act
	// as an anchor; at or below it the gate reports no_anchor.
	Quorum int `yaml:"quorum" json:"quorum"`

	// Percentile cut-offs over the live score distributions.
	HighSupportPercentile    float64 `yaml:"high_support_percentile" json:"high_support_percentile"`
	LowSupportPercentile     float64 `yaml:"low_support_percentile" json:"low_support_percentile"`
	LeverageTopPercentile    float64 `yaml:"leverage_top_percentile" json:"leverage_top_percentile"`
	KeystoneTopPercentile    float64 `yaml:"keystone_top_percentile" json:"keystone_top_percentile"`
	EvidenceGapTopPercentile float64 `yaml:"evidence_gap_top_percentile" json:"evidence_gap_top_percentile"`
	KeystoneMinOutDegree     int     `yaml:"keystone_min_out_degree" json:"keystone_min_out_degree"`

	// Leverage weights.
	SupportWeight   float64                     `yaml:"support_weight" json:"support_weight"`
	RoleWeights     map[types.ClaimRole]float64 `yaml:"role_weights" json:"role_weights"`
	PrereqOutWeight float64                     `yaml:"prereq_out_weight" json:"prereq_out_weight"`
	PrereqInWeight  float64                     `yaml:"prereq_in_weight" json:"prereq_in_weight"`
	ConflictWeight  float64                     `yaml:"conflict_weight" json:"conflict_weight"`
	AnyEdgeWeight   float64                     `yaml:"any_edge_weight" json:"any_edge_weight"`
	ChainRootBonus  float64                     `yaml:"chain_root_bonus" json:"chain_root_bonus"`

	// Pattern classification.
	PatternWeights  map[types.StructurePattern]FeatureWeights `yaml:"pattern_weights" json:"pattern_weights"`
	ConfidenceFloor float64                                   `yaml:"confidence_floor" json:"confidence_floor"`
}

// FeatureWeights is one pattern's linear combination over the graph feature
// vector.
type FeatureWeights struct {
	Concentration float64 `yaml:"concentration" json:"concentration"`
	Alignment     float64 `yaml:"alignment" json:"alignment"`
	Tension       float64 `yaml:"tension" json:"tension"`
	TradeoffShare float64 `yaml:"tradeoff_share" json:"tradeoff_share"`
	Fragmentation float64 `yaml:"fragmentation" json:"fragmentation"`
	Depth         float64 `yaml:"depth" json:"depth"`
	KeystoneShare float64 `yaml:"keystone_share" json:"keystone_share"`
	GapShare      float64 `yaml:"gap_share" json:"gap_share"`
}

// DefaultConfig returns the historical constants. The percentile values
// (0.30 / 0.25 / 0.20) are behavioural invariants; change them only with a
// reclassification review.
func DefaultConfig() AnalyticsConfig {
	return AnalyticsConfig{
		Quorum: 2,

		HighSupportPercentile:    0.30,
		LowSupportPercentile:     0.30,
		LeverageTopPercentile:    0.25,
		KeystoneTopPercentile:    0.20,
		EvidenceGapTopPercentile: 0.20,
		KeystoneMinOutDegree:     2,

		SupportWeight: 1.0,
		RoleWeights: map[types.ClaimRole]float64{
			types.RoleChallenger: 1.0,
			types.RoleAnchor:     0.8,
			types.RoleBranch:     0.5,
			types.RoleSupplement: 0.25,
		},
		PrereqOutWeight: 2.0,
		PrereqInWeight:  1.0,
		ConflictWeight:  1.5,
		AnyEdgeWeight:   0.25,
		ChainRootBonus:  0.5,

		PatternWeights: map[types.StructurePattern]FeatureWeights{
			types.PatternSettled: {
				Concentration: 0.45, Alignment: 0.40, Tension: -0.35,
				Fragmentation: -0.20, Depth: -0.15, GapShare: -0.10,
			},
			types.PatternContested: {
				Tension: 0.55, Alignment: -0.25, Concentration: -0.10,
				Fragmentation: 0.15, GapShare: 0.10,
			},
			types.PatternLinear: {
				Depth: 0.65, Fragmentation: -0.20, Tension: -0.15,
				Concentration: 0.10,
			},
			types.PatternKeystone: {
				KeystoneShare: 1.00, Depth: 0.10, Concentration: 0.15,
				Tension: 0.05,
			},
			types.PatternTradeoff: {
				TradeoffShare: 0.60, Tension: 0.20, Alignment: -0.10,
			},
			types.PatternDimensional: {
				Fragmentation: 0.60, Concentration: -0.20, Tension: 0.10,
				GapShare: 0.10,
			},
			types.PatternExploratory: {
				GapShare: 0.30, Fragmentation: 0.20, Concentration: -0.25,
				Alignment: -0.20, Depth: -0.15,
			},
		},
		ConfidenceFloor: 0.15,
	}
}
