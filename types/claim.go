package types

// ClaimType classifies the epistemic nature of a claim.
type ClaimType string

const (
	ClaimFactual      ClaimType = "factual"
	ClaimPrescriptive ClaimType = "prescriptive"
	ClaimConditional  ClaimType = "conditional"
	ClaimContested    ClaimType = "contested"
	ClaimSpeculative  ClaimType = "speculative"
)

// ClaimRole is the position a claim takes in the mapped argument.
type ClaimRole string

const (
	RoleAnchor     ClaimRole = "anchor"
	RoleBranch     ClaimRole = "branch"
	RoleSupplement ClaimRole = "supplement"
	RoleChallenger ClaimRole = "challenger"
)

// Claim is a distilled position extracted from provider outputs by the
// mapping step. Supporters may be encoded either as raw provider ids or as
// numeric citation indices into the mapping's citation-order table; the
// consensus package normalizes both forms.
type Claim struct {
	ID         string    `json:"id"`
	Label      string    `json:"label"`
	Text       string    `json:"text"`
	Supporters []string  `json:"supporters"`
	Type       ClaimType `json:"type"`
	Role       ClaimRole `json:"role"`
	Challenges []string  `json:"challenges,omitempty"`
}

// EdgeType is the relation an edge asserts between two claims.
type EdgeType string

const (
	EdgeSupports     EdgeType = "supports"
	EdgeConflicts    EdgeType = "conflicts"
	EdgeTradeoff     EdgeType = "tradeoff"
	EdgePrerequisite EdgeType = "prerequisite"
)

// Edge is a directed relation between two claims. Both endpoints must
// reference existing claim ids.
type Edge struct {
	From string   `json:"from"`
	To   string   `json:"to"`
	Type EdgeType `json:"type"`
}

// MappingOutput is the structured product of a mapping step: the claim graph
// plus the citation-order table used to resolve numeric supporter encodings.
type MappingOutput struct {
	Claims []Claim `json:"claims"`
	Edges  []Edge  `json:"edges"`

	// CitationOrder maps citation index (position) to provider id.
	CitationOrder []string `json:"citation_order,omitempty"`
}

// GateReason explains a consensus-gate decision.
type GateReason string

const (
	// GateMonoculture: a single claim supported by everyone; nothing to contest.
	GateMonoculture GateReason = "monoculture"
	// GateNoAnchor: no claim has enough live supporters to anchor a debate.
	GateNoAnchor GateReason = "no_anchor"
	// GateAnchorOutlier labels the proceed path: a genuine majority anchor
	// plus live alternatives, worth contesting further.
	GateAnchorOutlier GateReason = "has_anchor_outlier"
)

// GateStats are the observable inputs to a consensus-gate decision.
type GateStats struct {
	ClaimCount         int `json:"claim_count"`
	CompletedProviders int `json:"completed_providers"`
	MaxSupporters      int `json:"max_supporters"`
}

// ConsensusGate is the binary decision to skip the deep critique stages.
// Recomputed once per run from the mapping step's output; never cached
// across runs.
type ConsensusGate struct {
	ConsensusOnly bool       `json:"consensus_only"`
	Reason        GateReason `json:"reason"`
	Stats         GateStats  `json:"stats"`
}

// StructurePattern classifies how a claim graph's agreement or disagreement
// is shaped.
type StructurePattern string

const (
	PatternSettled     StructurePattern = "settled"
	PatternContested   StructurePattern = "contested"
	PatternLinear      StructurePattern = "linear"
	PatternKeystone    StructurePattern = "keystone"
	PatternTradeoff    StructurePattern = "tradeoff"
	PatternDimensional StructurePattern = "dimensional"
	PatternExploratory StructurePattern = "exploratory"
)

// ProblemStructure is the read-only structural-analysis verdict over a claim
// graph.
type ProblemStructure struct {
	PrimaryPattern StructurePattern `json:"primary_pattern"`
	Confidence     float64          `json:"confidence"`
	Evidence       []string         `json:"evidence"`
}
