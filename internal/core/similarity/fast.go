package similarity

import (
	"strings"

	"github.com/agenthands/dedupstack/internal/core/model"
)

// DefaultFastGroupCap bounds the pair blowup of a single fast-field group.
// A group above the cap is skipped entirely: a value shared by that many
// records is a list artifact (shared mailbox, placeholder phone) rather than
// a duplicate signal, and the skip is a documented precision/cost trade-off.
const DefaultFastGroupCap = 40

// FastGroupEdges runs the exact-value grouping shortcut for one
// fast-compatible field: the population is grouped by the normalized
// concatenation of the field's values and every pair within a group gets an
// exact edge, replacing pairwise evaluation of that field.
func FastGroupEdges(items []*model.Item, f model.FieldConfig, groupCap int) []*model.SimilarityEdge {
	if groupCap <= 0 {
		groupCap = DefaultFastGroupCap
	}

	groups := make(map[string][]*model.Item)
	for _, it := range items {
		values := it.Values(f.ID)
		if len(values) == 0 {
			continue
		}
		key := NormalizeName(strings.Join(values, " "))
		if key == "" {
			continue
		}
		groups[key] = append(groups[key], it)
	}

	var edges []*model.SimilarityEdge
	for key, group := range groups {
		if len(group) < 2 || len(group) > groupCap {
			continue
		}
		for i := 0; i < len(group); i++ {
			for j := i + 1; j < len(group); j++ {
				aID, bID := model.OrderPair(group[i].UUID, group[j].UUID)
				edges = append(edges, &model.SimilarityEdge{
					WorkspaceID: group[i].WorkspaceID,
					ItemType:    group[i].Type,
					ItemAID:     aID,
					ItemBID:     bID,
					FieldID:     f.ID,
					ValueA:      key,
					ValueB:      key,
					Tier:        model.TierExact,
				})
			}
		}
	}
	return edges
}
