package model

// Tier classifies how alike two field values are.
type Tier string

const (
	TierExact     Tier = "exact"
	TierSimilar   Tier = "similar"
	TierPotential Tier = "potential"
	TierUnlikely  Tier = "unlikely"
)

// Weight is the scoring weight of a tier. Exact always outweighs similar,
// which always outweighs potential.
func (t Tier) Weight() float64 {
	switch t {
	case TierExact:
		return 1.0
	case TierSimilar:
		return 0.75
	case TierPotential:
		return 0.4
	default:
		return 0
	}
}

// Stronger reports whether t ranks above other.
func (t Tier) Stronger(other Tier) bool {
	return t.rank() > other.rank()
}

func (t Tier) rank() int {
	switch t {
	case TierExact:
		return 3
	case TierSimilar:
		return 2
	case TierPotential:
		return 1
	case TierUnlikely:
		return 0
	}
	return -1
}

// SimilarityEdge records a per-field likeness between two items. Edges are
// undirected; ItemAID/ItemBID are stored in lexicographic order so the edge
// is unique per (item_a, item_b, field_id).
type SimilarityEdge struct {
	WorkspaceID string   `json:"workspace_id"`
	ItemType    ItemType `json:"item_type"`
	ItemAID     string   `json:"item_a_uuid"`
	ItemBID     string   `json:"item_b_uuid"`
	FieldID     string   `json:"field_id"`
	ValueA      string   `json:"value_a"`
	ValueB      string   `json:"value_b"`
	Tier        Tier     `json:"tier"`
}

// OrderPair returns the two ids in canonical (lexicographic) storage order.
func OrderPair(a, b string) (string, string) {
	if a > b {
		return b, a
	}
	return a, b
}

// Other returns the endpoint opposite to the given item id.
func (e *SimilarityEdge) Other(itemID string) string {
	if e.ItemAID == itemID {
		return e.ItemBID
	}
	return e.ItemAID
}
