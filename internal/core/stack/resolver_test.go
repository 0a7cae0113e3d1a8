package stack

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenthands/dedupstack/internal/core/model"
	"github.com/agenthands/dedupstack/internal/store"
)

var resolverFields = []model.FieldConfig{
	{ID: "emails", IfMatch: model.MatchConfident, IfDifferent: model.DifferentNone, Method: model.MethodEmail},
	{ID: "phones", IfMatch: model.MatchConfident, IfDifferent: model.DifferentNone, Method: model.MethodExact},
}

func fieldsFor(model.ItemType) []model.FieldConfig { return resolverFields }

func newResolver(s store.Store) *Resolver {
	return NewResolver(s, fieldsFor, 0)
}

func putItem(t *testing.T, s store.Store, uuid string, fillScore int) {
	t.Helper()
	require.NoError(t, s.UpsertItem(context.Background(), &model.Item{
		UUID:        uuid,
		WorkspaceID: "ws",
		Type:        model.ItemTypeContact,
		RemoteID:    "r-" + uuid,
		FillScore:   fillScore,
		Fields:      model.FieldValues{"emails": {uuid + "@x.com"}},
	}))
}

func putEdge(t *testing.T, s store.Store, a, b, field string, tier model.Tier) {
	t.Helper()
	aID, bID := model.OrderPair(a, b)
	require.NoError(t, s.UpsertEdges(context.Background(), []*model.SimilarityEdge{{
		WorkspaceID: "ws",
		ItemType:    model.ItemTypeContact,
		ItemAID:     aID,
		ItemBID:     bID,
		FieldID:     field,
		Tier:        tier,
	}}))
}

func resolveAll(t *testing.T, s store.Store) []*model.DupStack {
	t.Helper()
	r := newResolver(s)
	for {
		more, err := r.ResolveStep(context.Background(), "ws", model.ItemTypeContact)
		require.NoError(t, err)
		if !more {
			break
		}
	}
	stacks, err := s.ListStacks(context.Background(), "ws")
	require.NoError(t, err)
	return stacks
}

// Two items joined by an exact confident-policy edge form a two-member stack
// with the richer item as reference.
func TestResolveSimplePair(t *testing.T) {
	s := store.NewMemoryStore()
	putItem(t, s, "a", 3)
	putItem(t, s, "b", 2)
	putEdge(t, s, "a", "b", "phones", model.TierExact)

	stacks := resolveAll(t, s)
	require.Len(t, stacks, 1)

	st := stacks[0]
	require.NoError(t, st.Validate())
	ref, ok := st.Reference()
	require.True(t, ok)
	assert.Equal(t, "a", ref) // highest fill score seeds first
	assert.Equal(t, []string{"b"}, st.WithRole(model.RoleConfident))
}

// A chain confers roles through its weakest link: an item reached through a
// POTENTIAL member can never enter as CONFIDENT, however strong its own edge.
func TestResolveWeakestLinkCapsRole(t *testing.T) {
	s := store.NewMemoryStore()
	putItem(t, s, "a", 3)
	putItem(t, s, "b", 2)
	putItem(t, s, "c", 2)
	putEdge(t, s, "a", "b", "emails", model.TierSimilar) // potential verdict
	putEdge(t, s, "b", "c", "phones", model.TierExact)   // confident verdict

	stacks := resolveAll(t, s)
	require.Len(t, stacks, 1)

	st := stacks[0]
	roleB, _ := st.RoleOf("b")
	roleC, _ := st.RoleOf("c")
	assert.Equal(t, model.RolePotential, roleB)
	assert.Equal(t, model.RolePotential, roleC)
}

// Every item is classified at most once: stacks partition the population,
// and a later seed cannot steal an already-consumed item.
func TestResolveFirstClassificationWins(t *testing.T) {
	s := store.NewMemoryStore()
	putItem(t, s, "a", 3)
	putItem(t, s, "b", 2)
	putItem(t, s, "c", 2)
	putItem(t, s, "d", 1)
	putEdge(t, s, "a", "b", "phones", model.TierExact)
	putEdge(t, s, "c", "d", "phones", model.TierExact)
	// A weak cross edge between the two groups below any verdict threshold.
	putEdge(t, s, "b", "c", "emails", model.TierUnlikely)

	stacks := resolveAll(t, s)
	require.Len(t, stacks, 2)

	seen := map[string]int{}
	for _, st := range stacks {
		require.NoError(t, st.Validate())
		for _, m := range st.Members {
			seen[m.ItemID]++
		}
	}
	for id, n := range seen {
		assert.Equal(t, 1, n, "item %s appears in %d stacks", id, n)
	}
}

// A lone seed with no qualifying neighbors produces no stack but is still
// consumed, so resolution always terminates.
func TestResolveLoneSeedDiscarded(t *testing.T) {
	s := store.NewMemoryStore()
	putItem(t, s, "a", 2)
	putItem(t, s, "b", 2)
	// An edge exists but its verdict is below both thresholds.
	putEdge(t, s, "a", "b", "emails", model.TierUnlikely)

	stacks := resolveAll(t, s)
	assert.Empty(t, stacks)

	n, err := s.CountDupUnchecked(context.Background(), "ws", model.ItemTypeContact)
	require.NoError(t, err)
	assert.Zero(t, n)
}

// Merged items and items already consumed by another stack are skipped even
// when an edge still points at them.
func TestResolveSkipsMergedNeighbors(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()

	putItem(t, s, "a", 3)
	putItem(t, s, "b", 2)
	putEdge(t, s, "a", "b", "phones", model.TierExact)
	require.NoError(t, s.MarkMerged(ctx, "ws", "b", "r-x"))

	stacks := resolveAll(t, s)
	assert.Empty(t, stacks)
}

// ResolveStep yields after MaxPerStep seeds and reports remaining work.
func TestResolveStepBounded(t *testing.T) {
	s := store.NewMemoryStore()
	for _, id := range []string{"a", "b", "c"} {
		putItem(t, s, id, 1)
	}

	r := NewResolver(s, fieldsFor, 2)
	more, err := r.ResolveStep(context.Background(), "ws", model.ItemTypeContact)
	require.NoError(t, err)
	assert.True(t, more)

	n, err := s.CountDupUnchecked(context.Background(), "ws", model.ItemTypeContact)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	more, err = r.ResolveStep(context.Background(), "ws", model.ItemTypeContact)
	require.NoError(t, err)
	assert.False(t, more)
}
