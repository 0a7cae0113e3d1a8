package stack

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/agenthands/dedupstack/internal/core/model"
	"github.com/agenthands/dedupstack/internal/core/verdict"
	"github.com/agenthands/dedupstack/internal/store"
)

// DefaultMaxPerStep bounds how many seed resolutions one execution step
// performs before yielding.
const DefaultMaxPerStep = 200

// Resolver turns scattered similarity edges into dup-stacks. It is driven
// entirely by the persisted dupChecked flags: each round fetches the richest
// unvisited item, expands its similarity neighborhood breadth-first, and
// consumes every classified item. A crash mid-pass restarts from the same
// remaining candidate set with no cursor to recover.
type Resolver struct {
	Store      store.Store
	Fields     func(model.ItemType) []model.FieldConfig
	MaxPerStep int
}

func NewResolver(s store.Store, fields func(model.ItemType) []model.FieldConfig, maxPerStep int) *Resolver {
	if maxPerStep <= 0 {
		maxPerStep = DefaultMaxPerStep
	}
	return &Resolver{Store: s, Fields: fields, MaxPerStep: maxPerStep}
}

// ResolveStep runs one bounded slice of the resolution pass and reports
// whether more work remains. The step stops early when the context deadline
// is near; the caller re-enqueues until more is false.
func (r *Resolver) ResolveStep(ctx context.Context, workspaceID string, t model.ItemType) (more bool, err error) {
	for n := 0; n < r.MaxPerStep; n++ {
		if ctx.Err() != nil {
			return true, nil
		}
		if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < time.Second {
			return true, nil
		}

		seed, err := r.Store.NextDupUnchecked(ctx, workspaceID, t)
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("failed to fetch next dup candidate: %w", err)
		}

		consumed, err := r.resolveOne(ctx, seed)
		if err != nil {
			return false, err
		}
		if _, err := r.Store.IncrementProgress(ctx, workspaceID, model.PhaseResolve, consumed, 0); err != nil {
			return false, err
		}
	}
	return true, nil
}

type frontier struct {
	item *model.Item
	role model.MemberRole
}

// resolveOne seeds a stack with the given item as REFERENCE and expands it
// breadth-first over similarity edges with an explicit work queue. Each
// neighbor is classified once (first classification wins) and consumed. The
// stack is emitted only if any non-reference member was found; either way
// every visited item is flagged dup-checked, so the pass always advances.
func (r *Resolver) resolveOne(ctx context.Context, seed *model.Item) (consumed int, err error) {
	fields := r.Fields(seed.Type)

	members := []model.StackMember{{ItemID: seed.UUID, Role: model.RoleReference}}
	visited := map[string]bool{seed.UUID: true}
	queue := []frontier{{item: seed, role: model.RoleReference}}

	for len(queue) > 0 {
		fr := queue[0]
		queue = queue[1:]

		edges, err := r.Store.EdgesForItem(ctx, seed.WorkspaceID, fr.item.UUID)
		if err != nil {
			return 0, fmt.Errorf("failed to load edges of %s: %w", fr.item.UUID, err)
		}

		byNeighbor := make(map[string][]*model.SimilarityEdge)
		for _, e := range edges {
			other := e.Other(fr.item.UUID)
			byNeighbor[other] = append(byNeighbor[other], e)
		}

		// Deterministic expansion order regardless of store iteration order.
		neighborIDs := make([]string, 0, len(byNeighbor))
		for id := range byNeighbor {
			neighborIDs = append(neighborIDs, id)
		}
		sort.Strings(neighborIDs)

		for _, id := range neighborIDs {
			if visited[id] {
				continue
			}
			neighbor, err := r.Store.GetItem(ctx, seed.WorkspaceID, id)
			if errors.Is(err, store.ErrNotFound) {
				continue // edge outlived its endpoint; garbage, not fatal
			}
			if err != nil {
				return 0, err
			}
			if neighbor.DupChecked || neighbor.Merged() {
				continue // already classified into another stack
			}

			v := verdict.Score(fr.item, neighbor, byNeighbor[id], fields)
			if v == verdict.None {
				continue
			}

			// A chain cannot upgrade past its weakest link: a frontier that
			// is itself only POTENTIAL caps everything it confers.
			role := model.RolePotential
			if v == verdict.Confident && fr.role != model.RolePotential {
				role = model.RoleConfident
			}

			visited[id] = true
			members = append(members, model.StackMember{ItemID: id, Role: role})
			queue = append(queue, frontier{item: neighbor, role: role})
		}
	}

	ids := make([]string, 0, len(visited))
	for id := range visited {
		ids = append(ids, id)
	}
	if err := r.Store.SetDupChecked(ctx, seed.WorkspaceID, ids, true); err != nil {
		return 0, fmt.Errorf("failed to mark items dup-checked: %w", err)
	}

	// A lone seed is not a stack.
	if len(members) >= 2 {
		s := &model.DupStack{
			UUID:        uuid.New().String(),
			WorkspaceID: seed.WorkspaceID,
			ItemType:    seed.Type,
			Members:     members,
			CreatedAt:   time.Now().UTC(),
		}
		if err := r.Store.SaveStack(ctx, s); err != nil {
			return 0, fmt.Errorf("failed to save stack: %w", err)
		}
	}

	return len(ids), nil
}
