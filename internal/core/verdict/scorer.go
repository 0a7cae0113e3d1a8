package verdict

import "github.com/agenthands/dedupstack/internal/core/model"

// Verdict is the pairwise duplicate classification of two items.
type Verdict string

const (
	None      Verdict = ""
	Potential Verdict = "POTENTIAL"
	Confident Verdict = "CONFIDENT"
)

// Canonical scoring constants. Earlier generations of this algorithm shipped
// with diverging thresholds; this set is the one source of truth and must
// not be blended with any other.
const (
	// ConfidentThreshold / PotentialThreshold are the minimum final scores
	// for the corresponding verdict.
	ConfidentThreshold = 1.0
	PotentialThreshold = 1.0

	// SparseMultiplier compensates items with a single populated signal
	// field, letting single-rich-field records still reach POTENTIAL.
	SparseMultiplier = 1.35

	// PreventMalus is an effective veto; ReduceMalus shaves one point.
	PreventMalus = -1000.0
	ReduceMalus  = -1.0
)

// Score classifies a pair of items from their similarity edges and the
// type's field policy table. It is a pure function: same inputs, same
// verdict. Missing data on either side of a field is neutral evidence; only
// a both-populated field with no edge counts as a true mismatch.
func Score(a, b *model.Item, edges []*model.SimilarityEdge, fields []model.FieldConfig) Verdict {
	byField := make(map[string]*model.SimilarityEdge, len(edges))
	for _, e := range edges {
		if prev, ok := byField[e.FieldID]; !ok || e.Tier.Stronger(prev.Tier) {
			byField[e.FieldID] = e
		}
	}

	var (
		confidentScore float64
		potentialScore float64
		confidentMalus float64
		potentialMalus float64
		multiplier     = 1.0
	)

	if a.FillScore <= 1 || b.FillScore <= 1 {
		multiplier *= SparseMultiplier
	}

	for _, f := range fields {
		if e, ok := byField[f.ID]; ok {
			weight := e.Tier.Weight()
			switch f.IfMatch {
			case model.MatchConfident:
				if weight == 1 {
					confidentScore++
				}
				potentialScore += 2 * weight
			case model.MatchPotential:
				potentialScore += weight
			case model.MatchMultiplier:
				multiplier *= 1 + 0.5*weight
			}
			continue
		}

		if !a.HasValue(f.ID) || !b.HasValue(f.ID) {
			continue
		}

		switch f.IfDifferent {
		case model.DifferentPreventMatch:
			confidentMalus += PreventMalus
			potentialMalus += PreventMalus
		case model.DifferentPreventConfident:
			confidentMalus += PreventMalus
		case model.DifferentReduceConfident:
			confidentMalus += ReduceMalus
		case model.DifferentReducePotential:
			potentialMalus += ReduceMalus
		case model.DifferentPreventConfReducePot:
			confidentMalus += PreventMalus
			potentialMalus += ReduceMalus
		case model.DifferentReduceConfReducePot:
			confidentMalus += ReduceMalus
			potentialMalus += ReduceMalus
		}
	}

	finalConfident := confidentScore*multiplier + confidentMalus
	finalPotential := potentialScore*multiplier + potentialMalus

	switch {
	case finalConfident >= ConfidentThreshold:
		return Confident
	case finalPotential >= PotentialThreshold:
		return Potential
	default:
		return None
	}
}
