package model

// MatchPolicy says how a matching field contributes to the pairwise verdict.
type MatchPolicy string

const (
	MatchConfident  MatchPolicy = "confident"
	MatchPotential  MatchPolicy = "potential"
	MatchMultiplier MatchPolicy = "multiplier"
)

// DifferentPolicy says what a true mismatch (both items populated, no edge)
// does to the verdict. The "prevent" legs are an effective veto; the "reduce"
// legs shave one point off the corresponding score.
type DifferentPolicy string

const (
	DifferentPreventMatch         DifferentPolicy = "prevent-match"
	DifferentPreventConfident     DifferentPolicy = "prevent-confident"
	DifferentReduceConfident      DifferentPolicy = "reduce-confident"
	DifferentReducePotential      DifferentPolicy = "reduce-potential"
	DifferentPreventConfReducePot DifferentPolicy = "prevent-confident-reduce-potential"
	DifferentReduceConfReducePot  DifferentPolicy = "reduce-confident-reduce-potential"
	DifferentNone                 DifferentPolicy = "none"
)

// MatchingMethod selects the comparison algorithm for a field.
type MatchingMethod string

const (
	// MethodExact emits an edge only on literal equality (phones, domains).
	MethodExact MatchingMethod = "exact"
	// MethodName normalizes then falls back to bigram similarity (names).
	MethodName MatchingMethod = "name"
	// MethodEmail compares value lists pairwise with email normalization.
	MethodEmail MatchingMethod = "email"
)

// FieldConfig is the static dedup policy for one field of an item type.
// Supplied as external input (config file or built-in defaults), never
// computed by the engine.
type FieldConfig struct {
	ID             string
	DisplayName    string
	IfMatch        MatchPolicy
	IfDifferent    DifferentPolicy
	Method         MatchingMethod
	FastCompatible bool
}
