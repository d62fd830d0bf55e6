package consensus

import (
	"fmt"
	"strconv"

	"github.com/conclave-ai/conclave/types"
)

// ValidateGraph checks the mapping's structural invariant: every edge
// endpoint must reference an existing claim id.
func ValidateGraph(claims []types.Claim, edges []types.Edge) error {
	ids := make(map[string]struct{}, len(claims))
	for _, c := range claims {
		ids[c.ID] = struct{}{}
	}
	for _, e := range edges {
		if _, ok := ids[e.From]; !ok {
			return types.NewError(types.ErrInvalidGraph,
				fmt.Sprintf("edge %s->%s references unknown claim %q", e.From, e.To, e.From))
		}
		if _, ok := ids[e.To]; !ok {
			return types.NewError(types.ErrInvalidGraph,
				fmt.Sprintf("edge %s->%s references unknown claim %q", e.From, e.To, e.To))
		}
	}
	return nil
}

// NormalizeSupporters resolves a claim's supporter list to deduplicated
// provider ids. Supporters arrive in two encodings: raw provider ids, or
// 1-based numeric citation indices into the mapping's citation-order table.
func NormalizeSupporters(supporters []string, citationOrder []string) []string {
	seen := make(map[string]struct{}, len(supporters))
	out := make([]string, 0, len(supporters))
	for _, s := range supporters {
		id := s
		if idx, err := strconv.Atoi(s); err == nil && len(citationOrder) > 0 {
			if idx >= 1 && idx <= len(citationOrder) {
				id = citationOrder[idx-1]
			} else {
				continue
			}
		}
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// restrictSupporters drops supporters that are not in the batch's completed
// provider set. A mapper may cite a provider whose call later failed; such
// citations must not count toward consensus.
func restrictSupporters(supporters, completed []string) []string {
	allowed := make(map[string]struct{}, len(completed))
	for _, id := range completed {
		allowed[id] = struct{}{}
	}
	out := make([]string, 0, len(supporters))
	for _, id := range supporters {
		if _, ok := allowed[id]; ok {
			out = append(out, id)
		}
	}
	return out
}

// ComputeConsensusGate decides whether the deep critique stages should be
// skipped. Skipping is correct in two shapes: a single claim everyone agrees
// on (monoculture), and a graph where no claim has enough live supporters to
// anchor a debate (no_anchor). A genuine majority anchor plus live
// alternatives is exactly the situation worth contesting further, so the
// gate lets it through.
//
// The gate is recomputed once per run from the mapping step's output and the
// batch step's actually-completed provider set; it is never cached across
// runs.
func ComputeConsensusGate(cfg AnalyticsConfig, mapping *types.MappingOutput, completed []string) types.ConsensusGate {
	quorum := cfg.Quorum
	if quorum <= 0 {
		quorum = 2
	}

	maxSupporters := 0
	for _, claim := range mapping.Claims {
		normalized := NormalizeSupporters(claim.Supporters, mapping.CitationOrder)
		restricted := restrictSupporters(normalized, completed)
		if len(restricted) > maxSupporters {
			maxSupporters = len(restricted)
		}
	}

	stats := types.GateStats{
		ClaimCount:         len(mapping.Claims),
		CompletedProviders: len(completed),
		MaxSupporters:      maxSupporters,
	}

	switch {
	case len(mapping.Claims) == 1:
		return types.ConsensusGate{ConsensusOnly: true, Reason: types.GateMonoculture, Stats: stats}
	case maxSupporters <= quorum:
		return types.ConsensusGate{ConsensusOnly: true, Reason: types.GateNoAnchor, Stats: stats}
	default:
		// has_anchor_outlier is documentation-only: it labels the proceed
		// path, never a third skip branch.
		return types.ConsensusGate{ConsensusOnly: false, Reason: types.GateAnchorOutlier, Stats: stats}
	}
}
