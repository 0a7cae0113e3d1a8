package similarity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenthands/dedupstack/internal/core/model"
)

func contact(uuid string, fields model.FieldValues) *model.Item {
	return &model.Item{
		UUID:        uuid,
		WorkspaceID: "ws",
		Type:        model.ItemTypeContact,
		RemoteID:    uuid,
		Fields:      fields,
	}
}

var testFields = []model.FieldConfig{
	{ID: "emails", Method: model.MethodEmail},
	{ID: "fullname", Method: model.MethodName},
	{ID: "phones", Method: model.MethodExact},
}

func TestEvaluateEmailTiers(t *testing.T) {
	cases := []struct {
		name string
		a, b string
		tier model.Tier
	}{
		{"literal equality", "ada@acme.com", "ada@acme.com", model.TierExact},
		{"normalized equality", "ada+work@acme.com", "a.da@acme.org", model.TierSimilar},
		{"close but not equal", "adalovelace@acme.com", "ada.lovelace1@acme.com", model.TierPotential},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			a := contact("a", model.FieldValues{"emails": {tc.a}})
			b := contact("b", model.FieldValues{"emails": {tc.b}})

			edges := Evaluate(a, b, testFields)
			require.Len(t, edges, 1)
			assert.Equal(t, "emails", edges[0].FieldID)
			assert.Equal(t, tc.tier, edges[0].Tier)
		})
	}
}

func TestEvaluateNameMethod(t *testing.T) {
	a := contact("a", model.FieldValues{"fullname": {"Ada", "Lovelace"}})
	b := contact("b", model.FieldValues{"fullname": {"ada  lovelace"}})

	// Multi-value names join before normalization, so these are exact.
	edges := Evaluate(a, b, testFields)
	require.Len(t, edges, 1)
	assert.Equal(t, model.TierExact, edges[0].Tier)

	// A near-miss lands on similar, a distant one on unlikely or nothing.
	c := contact("c", model.FieldValues{"fullname": {"Ada Lovelance"}})
	edges = Evaluate(a, c, testFields)
	require.Len(t, edges, 1)
	assert.Equal(t, model.TierSimilar, edges[0].Tier)

	d := contact("d", model.FieldValues{"fullname": {"Grace Hopper"}})
	assert.Empty(t, Evaluate(a, d, testFields))
}

func TestEvaluateBestTierWinsPerField(t *testing.T) {
	// One value pair is exact, another only similar; the field reports its
	// strongest finding once.
	a := contact("a", model.FieldValues{"emails": {"ada@acme.com", "a.da@acme.com"}})
	b := contact("b", model.FieldValues{"emails": {"ada@acme.com"}})

	edges := Evaluate(a, b, testFields)
	require.Len(t, edges, 1)
	assert.Equal(t, model.TierExact, edges[0].Tier)
}

func TestEvaluateMissingDataEmitsNothing(t *testing.T) {
	a := contact("a", model.FieldValues{"emails": {"ada@acme.com"}})
	b := contact("b", model.FieldValues{"phones": {"+4411111111"}})

	assert.Empty(t, Evaluate(a, b, testFields))
}

func TestEvaluateCanonicalPairOrder(t *testing.T) {
	// The same pair evaluated in either argument order produces the same
	// stored edge.
	a := contact("a", model.FieldValues{"phones": {"+4411111111"}})
	b := contact("b", model.FieldValues{"phones": {"+4411111111"}})

	ab := Evaluate(a, b, testFields)
	ba := Evaluate(b, a, testFields)
	require.Len(t, ab, 1)
	require.Len(t, ba, 1)
	assert.Equal(t, ab[0], ba[0])
	assert.Equal(t, "a", ab[0].ItemAID)
	assert.Equal(t, "b", ab[0].ItemBID)
}

func TestFastGroupEdges(t *testing.T) {
	f := model.FieldConfig{ID: "domain", Method: model.MethodExact, FastCompatible: true}

	items := []*model.Item{
		contact("a", model.FieldValues{"domain": {"acme.example"}}),
		contact("b", model.FieldValues{"domain": {"ACME.example"}}),
		contact("c", model.FieldValues{"domain": {"acme.example"}}),
		contact("d", model.FieldValues{"domain": {"other.example"}}),
		contact("e", nil),
	}

	edges := FastGroupEdges(items, f, DefaultFastGroupCap)

	// a, b, c share a normalized value: 3 pairwise exact edges. d's group has
	// one member and e has no data; neither contributes.
	require.Len(t, edges, 3)
	for _, e := range edges {
		assert.Equal(t, model.TierExact, e.Tier)
		assert.Equal(t, "domain", e.FieldID)
		assert.Less(t, e.ItemAID, e.ItemBID)
	}
}

func TestFastGroupEdgesCapSkipsHugeGroups(t *testing.T) {
	f := model.FieldConfig{ID: "phones", Method: model.MethodExact, FastCompatible: true}

	var items []*model.Item
	for i := 0; i < 5; i++ {
		items = append(items, contact(string(rune('a'+i)), model.FieldValues{"phones": {"+4400000000"}}))
	}

	// A group larger than the cap is a shared-value artifact and is skipped
	// wholesale rather than truncated.
	assert.Empty(t, FastGroupEdges(items, f, 4))
	assert.Len(t, FastGroupEdges(items, f, 5), 10)
}
