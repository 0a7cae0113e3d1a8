package similarity

import (
	"strings"

	"github.com/agenthands/dedupstack/internal/core/model"
)

// Similarity cut-offs shared by the name and email comparators.
const (
	similarRatio  = 0.8
	unlikelyRatio = 0.7
)

// Evaluate compares two same-type items field by field per the type's dedup
// policy table and returns the resulting similarity edges. A field with no
// data on either side is skipped; at most one edge is emitted per field (the
// strongest tier found across value pairs). The result is deterministic for
// a given pair and policy table.
func Evaluate(a, b *model.Item, fields []model.FieldConfig) []*model.SimilarityEdge {
	var edges []*model.SimilarityEdge
	for _, f := range fields {
		if e := evaluateField(a, b, f); e != nil {
			edges = append(edges, e)
		}
	}
	return edges
}

func evaluateField(a, b *model.Item, f model.FieldConfig) *model.SimilarityEdge {
	valuesA, valuesB := a.Values(f.ID), b.Values(f.ID)
	if len(valuesA) == 0 || len(valuesB) == 0 {
		return nil
	}

	var best *model.SimilarityEdge
	record := func(tier model.Tier, va, vb string) {
		if best != nil && !tier.Stronger(best.Tier) {
			return
		}
		aID, bID := model.OrderPair(a.UUID, b.UUID)
		if aID != a.UUID {
			va, vb = vb, va
		}
		best = &model.SimilarityEdge{
			WorkspaceID: a.WorkspaceID,
			ItemType:    a.Type,
			ItemAID:     aID,
			ItemBID:     bID,
			FieldID:     f.ID,
			ValueA:      va,
			ValueB:      vb,
			Tier:        tier,
		}
	}

	switch f.Method {
	case model.MethodExact:
		for _, va := range valuesA {
			for _, vb := range valuesB {
				if va == vb {
					record(model.TierExact, va, vb)
				}
			}
		}

	case model.MethodName:
		na := NormalizeName(strings.Join(valuesA, " "))
		nb := NormalizeName(strings.Join(valuesB, " "))
		if na == "" || nb == "" {
			return nil
		}
		switch ratio := DiceCoefficient(na, nb); {
		case na == nb:
			record(model.TierExact, na, nb)
		case ratio > similarRatio:
			record(model.TierSimilar, na, nb)
		case ratio > unlikelyRatio:
			record(model.TierUnlikely, na, nb)
		}

	case model.MethodEmail:
		for _, va := range valuesA {
			for _, vb := range valuesB {
				na, nb := NormalizeEmail(va), NormalizeEmail(vb)
				switch ratio := DiceCoefficient(na, nb); {
				case va == vb:
					record(model.TierExact, va, vb)
				case na == nb:
					record(model.TierSimilar, va, vb)
				case ratio > similarRatio:
					record(model.TierPotential, va, vb)
				case ratio > unlikelyRatio:
					record(model.TierUnlikely, va, vb)
				}
			}
		}
	}

	return best
}
