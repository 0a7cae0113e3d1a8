package store

import (
	"context"
	"errors"

	"github.com/agenthands/dedupstack/internal/core/model"
)

var (
	ErrNotFound = errors.New("not found")
)

// Store is the persisted-store contract the engine requires. All shared
// mutable state lives behind it; tasks never share in-memory state. Writes
// are conditional, flag-guarded read-check-write transitions.
type Store interface {
	// Items. Merged items are excluded from every query except GetItems.
	UpsertItem(ctx context.Context, item *model.Item) error
	GetItem(ctx context.Context, workspaceID, itemID string) (*model.Item, error)
	GetItemByRemoteID(ctx context.Context, workspaceID string, t model.ItemType, remoteID string) (*model.Item, error)
	GetItems(ctx context.Context, workspaceID string, itemIDs []string) ([]*model.Item, error)

	// UncheckedPage pages items with similarityChecked=false ordered by
	// remoteId with a strict > cursor. InstalledPage pages checked items the
	// same way. The remoteId ordering is the one fixed monotonic sort key
	// batching relies on.
	UncheckedPage(ctx context.Context, workspaceID string, t model.ItemType, afterRemoteID string, limit int) ([]*model.Item, error)
	InstalledPage(ctx context.Context, workspaceID string, t model.ItemType, afterRemoteID string, limit int) ([]*model.Item, error)
	ActivePage(ctx context.Context, workspaceID string, t model.ItemType, afterRemoteID string, limit int) ([]*model.Item, error)

	SetSimilarityChecked(ctx context.Context, workspaceID string, itemIDs []string, checked bool) error
	SetDupChecked(ctx context.Context, workspaceID string, itemIDs []string, checked bool) error

	// NextDupUnchecked returns the richest (fillScore desc) item not yet
	// visited by the resolver, or ErrNotFound when the pass is complete.
	NextDupUnchecked(ctx context.Context, workspaceID string, t model.ItemType) (*model.Item, error)
	CountDupUnchecked(ctx context.Context, workspaceID string, t model.ItemType) (int, error)

	MarkMerged(ctx context.Context, workspaceID, itemID, intoRemoteID string) error

	// Edges. UpsertEdges is idempotent on (itemA, itemB, fieldId).
	UpsertEdges(ctx context.Context, edges []*model.SimilarityEdge) error
	EdgesForItem(ctx context.Context, workspaceID, itemID string) ([]*model.SimilarityEdge, error)
	DeleteEdgesForItem(ctx context.Context, workspaceID, itemID string) error
	DeleteAllEdges(ctx context.Context, workspaceID string) error

	// Dup-stacks. StackForItem returns the active stack holding the item, or
	// ErrNotFound; an item is a member of at most one.
	SaveStack(ctx context.Context, stack *model.DupStack) error
	GetStack(ctx context.Context, workspaceID, stackID string) (*model.DupStack, error)
	StackForItem(ctx context.Context, workspaceID, itemID string) (*model.DupStack, error)
	ListStacks(ctx context.Context, workspaceID string) ([]*model.DupStack, error)
	DeleteStack(ctx context.Context, workspaceID, stackID string) error
	DeleteAllStacks(ctx context.Context, workspaceID string) error

	// Operations and progress counters. IncrementProgress must be atomic
	// against the store so concurrent tasks never lose an increment.
	SaveOperation(ctx context.Context, op *model.Operation) error
	GetOperation(ctx context.Context, workspaceID string, phase model.Phase) (*model.Operation, error)
	IncrementProgress(ctx context.Context, workspaceID string, phase model.Phase, doneDelta, totalDelta int) (*model.Operation, error)

	// ResetWorkspace clears similarity/dup flags and counters, forcing full
	// recomputation on the next run.
	ResetWorkspace(ctx context.Context, workspaceID string) error
}
