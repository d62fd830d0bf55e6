package consensus

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/conclave-ai/conclave/types"
)

// ClaimMetrics are the per-claim scores feeding the structural classifier.
type ClaimMetrics struct {
	SupportCount      int     `json:"support_count"`
	SupportRatio      float64 `json:"support_ratio"`
	Leverage          float64 `json:"leverage"`
	KeystoneScore     float64 `json:"keystone_score"`
	OutDegree         int     `json:"out_degree"`
	CascadeDependents int     `json:"cascade_dependents"`
	CascadeMaxDepth   int     `json:"cascade_max_depth"`
	EvidenceGapScore  float64 `json:"evidence_gap_score"`

	HighSupport       bool `json:"high_support"`
	LeverageInversion bool `json:"leverage_inversion"`
	Keystone          bool `json:"keystone"`
	EvidenceGap       bool `json:"evidence_gap"`
}

// Ratios are the whole-graph features.
type Ratios struct {
	Concentration float64 `json:"concentration"`
	Alignment     float64 `json:"alignment"`
	Tension       float64 `json:"tension"`
	TradeoffShare float64 `json:"tradeoff_share"`
	Fragmentation float64 `json:"fragmentation"`
	Depth         float64 `json:"depth"`
	KeystoneShare float64 `json:"keystone_share"`
	GapShare      float64 `json:"gap_share"`
}

// Analysis is the full structural-analysis product. Structure is the
// boundary-facing verdict; the rest is supporting artifact data.
type Analysis struct {
	Structure types.ProblemStructure             `json:"structure"`
	Ratios    Ratios                             `json:"ratios"`
	Claims    map[string]*ClaimMetrics           `json:"claims"`
	Scores    map[types.StructurePattern]float64 `json:"scores"`
}

// ComputeStructuralAnalysis classifies the shape of agreement in a claim
// graph. Pure function: no I/O, deterministic for a given input and config.
func ComputeStructuralAnalysis(cfg AnalyticsConfig, mapping *types.MappingOutput) (*Analysis, error) {
	if err := ValidateGraph(mapping.Claims, mapping.Edges); err != nil {
		return nil, err
	}
	if len(mapping.Claims) == 0 {
		return &Analysis{
			Structure: types.ProblemStructure{
				PrimaryPattern: types.PatternExploratory,
				Confidence:     0.1,
				Evidence:       []string{"empty claim graph"},
			},
			Claims: map[string]*ClaimMetrics{},
			Scores: map[types.StructurePattern]float64{},
		}, nil
	}

	g := buildGraph(mapping)
	metrics := computeClaimMetrics(cfg, g)
	ratios := computeRatios(cfg, g, metrics)
	applyFlags(cfg, g, metrics, &ratios)

	scores := scorePatterns(cfg, ratios)
	structure := classify(cfg, g, metrics, ratios, scores)

	return &Analysis{
		Structure: structure,
		Ratios:    ratios,
		Claims:    metrics,
		Scores:    scores,
	}, nil
}

// graph is the indexed working form of a mapping output.
type graph struct {
	claims []types.Claim

	// supporters holds normalized, deduplicated supporter ids per claim.
	supporters map[string][]string
	modelCount int

	// prereqOut[from] lists prerequisite targets; prereqIn is its reverse.
	prereqOut map[string][]string
	prereqIn  map[string][]string

	// outDegree counts outgoing edges of any type.
	outDegree map[string]int

	// incident edge counts per claim by concern.
	conflictEdges map[string]int
	anyEdges      map[string]int

	// undirected adjacency over every edge type, for components.
	neighbors map[string][]string

	edges []types.Edge
}

func buildGraph(mapping *types.MappingOutput) *graph {
	g := &graph{
		claims:        mapping.Claims,
		supporters:    make(map[string][]string),
		prereqOut:     make(map[string][]string),
		prereqIn:      make(map[string][]string),
		outDegree:     make(map[string]int),
		conflictEdges: make(map[string]int),
		anyEdges:      make(map[string]int),
		neighbors:     make(map[string][]string),
		edges:         mapping.Edges,
	}

	models := make(map[string]struct{})
	for _, c := range mapping.Claims {
		ids := NormalizeSupporters(c.Supporters, mapping.CitationOrder)
		g.supporters[c.ID] = ids
		for _, id := range ids {
			models[id] = struct{}{}
		}
	}
	g.modelCount = len(models)
	if g.modelCount == 0 {
		g.modelCount = 1
	}

	for _, e := range mapping.Edges {
		g.outDegree[e.From]++
		g.anyEdges[e.From]++
		g.anyEdges[e.To]++
		g.neighbors[e.From] = append(g.neighbors[e.From], e.To)
		g.neighbors[e.To] = append(g.neighbors[e.To], e.From)

		switch e.Type {
		case types.EdgePrerequisite:
			g.prereqOut[e.From] = append(g.prereqOut[e.From], e.To)
			g.prereqIn[e.To] = append(g.prereqIn[e.To], e.From)
		case types.EdgeConflicts:
			g.conflictEdges[e.From]++
			g.conflictEdges[e.To]++
		}
	}
	return g
}

func computeClaimMetrics(cfg AnalyticsConfig, g *graph) map[string]*ClaimMetrics {
	metrics := make(map[string]*ClaimMetrics, len(g.claims))

	for _, c := range g.claims {
		supporters := g.supporters[c.ID]
		m := &ClaimMetrics{
			SupportCount: len(supporters),
			SupportRatio: float64(len(supporters)) / float64(g.modelCount),
			OutDegree:    g.outDegree[c.ID],
		}

		// Leverage: weighted sum of support, role, connectivity, and a bonus
		// for rooting a prerequisite chain.
		m.Leverage = cfg.SupportWeight*m.SupportRatio +
			cfg.RoleWeights[c.Role] +
			cfg.PrereqOutWeight*float64(len(g.prereqOut[c.ID])) +
			cfg.PrereqInWeight*float64(len(g.prereqIn[c.ID])) +
			cfg.ConflictWeight*float64(g.conflictEdges[c.ID]) +
			cfg.AnyEdgeWeight*float64(g.anyEdges[c.ID])
		if len(g.prereqOut[c.ID]) > 0 && len(g.prereqIn[c.ID]) == 0 {
			m.Leverage += cfg.ChainRootBonus
		}

		m.KeystoneScore = float64(m.OutDegree) * float64(m.SupportCount)

		m.CascadeDependents, m.CascadeMaxDepth = cascade(g, c.ID)

		denom := m.SupportCount
		if denom < 1 {
			denom = 1
		}
		m.EvidenceGapScore = float64(m.CascadeDependents) / float64(denom)

		metrics[c.ID] = m
	}
	return metrics
}

// cascade walks forward over prerequisite edges from a claim: BFS counts
// distinct reachable dependents, DFS measures the deepest chain. Both are
// cycle-safe.
func cascade(g *graph, id string) (dependents, maxDepth int) {
	visited := map[string]struct{}{id: {}}
	queue := append([]string(nil), g.prereqOut[id]...)
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if _, ok := visited[cur]; ok {
			continue
		}
		visited[cur] = struct{}{}
		dependents++
		queue = append(queue, g.prereqOut[cur]...)
	}

	onStack := make(map[string]struct{})
	var dfs func(cur string) int
	dfs = func(cur string) int {
		if _, ok := onStack[cur]; ok {
			return 0
		}
		onStack[cur] = struct{}{}
		defer delete(onStack, cur)

		deepest := 0
		for _, next := range g.prereqOut[cur] {
			if d := 1 + dfs(next); d > deepest {
				deepest = d
			}
		}
		return deepest
	}
	return dependents, dfs(id)
}

func computeRatios(cfg AnalyticsConfig, g *graph, metrics map[string]*ClaimMetrics) Ratios {
	var r Ratios

	maxSupport := 0
	for _, m := range metrics {
		if m.SupportCount > maxSupport {
			maxSupport = m.SupportCount
		}
	}
	r.Concentration = float64(maxSupport) / float64(g.modelCount)

	if len(g.edges) > 0 {
		conflicted := 0
		tradeoffs := 0
		for _, e := range g.edges {
			switch e.Type {
			case types.EdgeConflicts:
				conflicted++
			case types.EdgeTradeoff:
				tradeoffs++
			}
		}
		r.Tension = float64(conflicted+tradeoffs) / float64(len(g.edges))
		r.TradeoffShare = float64(tradeoffs) / float64(len(g.edges))
	}

	if len(g.claims) > 1 {
		r.Fragmentation = float64(componentCount(g)-1) / float64(len(g.claims)-1)
	}

	r.Depth = float64(longestPrereqChain(g)) / float64(len(g.claims))

	return r
}

// componentCount finds connected components via undirected DFS over every
// edge type.
func componentCount(g *graph) int {
	visited := make(map[string]struct{}, len(g.claims))
	count := 0
	for _, c := range g.claims {
		if _, ok := visited[c.ID]; ok {
			continue
		}
		count++
		stack := []string{c.ID}
		for len(stack) > 0 {
			cur := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if _, ok := visited[cur]; ok {
				continue
			}
			visited[cur] = struct{}{}
			stack = append(stack, g.neighbors[cur]...)
		}
	}
	return count
}

// longestPrereqChain returns the node count of the longest prerequisite
// chain, or 0 when the graph has no prerequisite edges.
func longestPrereqChain(g *graph) int {
	if len(g.prereqOut) == 0 {
		return 0
	}
	longest := 0
	onStack := make(map[string]struct{})
	memo := make(map[string]int)

	var dfs func(id string) int
	dfs = func(id string) int {
		if d, ok := memo[id]; ok {
			return d
		}
		if _, ok := onStack[id]; ok {
			return 0
		}
		onStack[id] = struct{}{}
		defer delete(onStack, id)

		deepest := 0
		for _, next := range g.prereqOut[id] {
			if d := dfs(next); d > deepest {
				deepest = d
			}
		}
		memo[id] = deepest + 1
		return deepest + 1
	}

	for _, c := range g.claims {
		if d := dfs(c.ID); d > longest {
			longest = d
		}
	}
	return longest
}

// applyFlags marks claims using percentiles of the live score distributions
// rather than fixed constants, then fills the flag-derived ratios.
func applyFlags(cfg AnalyticsConfig, g *graph, metrics map[string]*ClaimMetrics, r *Ratios) {
	n := len(g.claims)
	support := make([]float64, 0, n)
	leverage := make([]float64, 0, n)
	keystone := make([]float64, 0, n)
	gaps := make([]float64, 0, n)
	for _, m := range metrics {
		support = append(support, m.SupportRatio)
		leverage = append(leverage, m.Leverage)
		keystone = append(keystone, m.KeystoneScore)
		gaps = append(gaps, m.EvidenceGapScore)
	}

	// A flat support distribution has no "top": flagging every claim as
	// high-support would make alignment meaningless.
	supportVaries := false
	for _, v := range support {
		if v != support[0] {
			supportVaries = true
			break
		}
	}

	highSupportCut := topThreshold(support, cfg.HighSupportPercentile)
	lowSupportCut := bottomThreshold(support, cfg.LowSupportPercentile)
	leverageCut := topThreshold(leverage, cfg.LeverageTopPercentile)
	keystoneCut := topThreshold(keystone, cfg.KeystoneTopPercentile)
	gapCut := topThreshold(gaps, cfg.EvidenceGapTopPercentile)

	keystoneCount := 0
	gapCount := 0
	for _, m := range metrics {
		m.HighSupport = supportVaries && m.SupportRatio >= highSupportCut
		m.LeverageInversion = m.SupportRatio <= lowSupportCut && m.Leverage >= leverageCut
		m.Keystone = m.KeystoneScore >= keystoneCut &&
			m.KeystoneScore > 0 &&
			m.OutDegree >= cfg.KeystoneMinOutDegree
		m.EvidenceGap = m.EvidenceGapScore >= gapCut && m.EvidenceGapScore > 0

		if m.Keystone {
			keystoneCount++
		}
		if m.EvidenceGap {
			gapCount++
		}
	}

	r.KeystoneShare = float64(keystoneCount) / float64(n)
	r.GapShare = float64(gapCount) / float64(n)

	// Alignment: among edges connecting two high-support claims, the share
	// that reinforce (supports/prerequisite) rather than oppose.
	reinforcing := 0
	total := 0
	for _, e := range g.edges {
		fm, tm := metrics[e.From], metrics[e.To]
		if fm == nil || tm == nil || !fm.HighSupport || !tm.HighSupport {
			continue
		}
		total++
		if e.Type == types.EdgeSupports || e.Type == types.EdgePrerequisite {
			reinforcing++
		}
	}
	if total > 0 {
		r.Alignment = float64(reinforcing) / float64(total)
	}
}

// topThreshold returns the cut-off at which a value enters the top q share
// of the distribution, rank-based with ties included.
func topThreshold(values []float64, q float64) float64 {
	if len(values) == 0 {
		return math.Inf(1)
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	count := int(math.Floor(q*float64(len(sorted)) + 1e-9))
	if count < 1 {
		count = 1
	}
	return sorted[len(sorted)-count]
}

// bottomThreshold is the mirror of topThreshold for the bottom q share.
func bottomThreshold(values []float64, q float64) float64 {
	if len(values) == 0 {
		return math.Inf(-1)
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	count := int(math.Floor(q*float64(len(sorted)) + 1e-9))
	if count < 1 {
		count = 1
	}
	return sorted[count-1]
}

func scorePatterns(cfg AnalyticsConfig, r Ratios) map[types.StructurePattern]float64 {
	scores := make(map[types.StructurePattern]float64, len(cfg.PatternWeights))
	for pattern, w := range cfg.PatternWeights {
		scores[pattern] = w.Concentration*r.Concentration +
			w.Alignment*r.Alignment +
			w.Tension*r.Tension +
			w.TradeoffShare*r.TradeoffShare +
			w.Fragmentation*r.Fragmentation +
			w.Depth*r.Depth +
			w.KeystoneShare*r.KeystoneShare +
			w.GapShare*r.GapShare
	}
	return scores
}

func classify(cfg AnalyticsConfig, g *graph, metrics map[string]*ClaimMetrics, r Ratios, scores map[types.StructurePattern]float64) types.ProblemStructure {
	best := types.PatternExploratory
	bestScore, secondScore := math.Inf(-1), math.Inf(-1)

	// Deterministic iteration: map order must not decide ties.
	patterns := make([]types.StructurePattern, 0, len(scores))
	for p := range scores {
		patterns = append(patterns, p)
	}
	sort.Slice(patterns, func(i, j int) bool { return patterns[i] < patterns[j] })

	for _, p := range patterns {
		s := scores[p]
		if s > bestScore {
			secondScore = bestScore
			best, bestScore = p, s
		} else if s > secondScore {
			secondScore = s
		}
	}

	if math.IsInf(secondScore, -1) {
		secondScore = 0
	}
	margin := bestScore - secondScore
	confidence := clamp(0.25+1.2*margin+0.5*bestScore, 0.05, 0.95)

	pattern := best
	if bestScore < cfg.ConfidenceFloor {
		// Reporting a weak winner as certainty would be false precision.
		pattern = types.PatternExploratory
		confidence = clamp(confidence*0.5, 0.1, 0.4)
	}

	return types.ProblemStructure{
		PrimaryPattern: pattern,
		Confidence:     confidence,
		Evidence:       buildEvidence(g, metrics, r, pattern, bestScore),
	}
}

func buildEvidence(g *graph, metrics map[string]*ClaimMetrics, r Ratios, pattern types.StructurePattern, score float64) []string {
	evidence := []string{
		fmt.Sprintf("pattern %s scored %.2f", pattern, score),
		fmt.Sprintf("concentration %.2f, alignment %.2f, tension %.2f", r.Concentration, r.Alignment, r.Tension),
		fmt.Sprintf("fragmentation %.2f, depth %.2f over %d claims and %d edges",
			r.Fragmentation, r.Depth, len(g.claims), len(g.edges)),
	}

	var keystones, inversions []string
	for _, c := range g.claims {
		m := metrics[c.ID]
		if m.Keystone {
			keystones = append(keystones, c.ID)
		}
		if m.LeverageInversion {
			inversions = append(inversions, c.ID)
		}
	}
	sort.Strings(keystones)
	sort.Strings(inversions)
	if len(keystones) > 0 {
		evidence = append(evidence, "keystone claims: "+strings.Join(keystones, ", "))
	}
	if len(inversions) > 0 {
		evidence = append(evidence, "leverage inversions: "+strings.Join(inversions, ", "))
	}
	return evidence
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
