package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/agenthands/dedupstack/internal/core/model"
)

// MemoryStore is an in-memory Store used by unit tests and local runs
// without a graph database. It mirrors GraphStore's query semantics,
// including cursor ordering and idempotent edge upserts.
type MemoryStore struct {
	mu     sync.Mutex
	items  map[string]map[string]*model.Item           // workspace -> uuid -> item
	edges  map[string]map[string]*model.SimilarityEdge // workspace -> pair key -> edge
	stacks map[string]map[string]*model.DupStack       // workspace -> uuid -> stack
	ops    map[string]map[model.Phase]*model.Operation // workspace -> phase -> op
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items:  make(map[string]map[string]*model.Item),
		edges:  make(map[string]map[string]*model.SimilarityEdge),
		stacks: make(map[string]map[string]*model.DupStack),
		ops:    make(map[string]map[model.Phase]*model.Operation),
	}
}

func edgeKey(e *model.SimilarityEdge) string {
	return e.ItemAID + "|" + e.ItemBID + "|" + e.FieldID
}

func copyItem(i *model.Item) *model.Item {
	c := *i
	c.Fields = make(model.FieldValues, len(i.Fields))
	for k, v := range i.Fields {
		c.Fields[k] = append([]string(nil), v...)
	}
	return &c
}

func copyStack(s *model.DupStack) *model.DupStack {
	c := *s
	c.Members = append([]model.StackMember(nil), s.Members...)
	return &c
}

func (m *MemoryStore) UpsertItem(ctx context.Context, item *model.Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ws := m.items[item.WorkspaceID]
	if ws == nil {
		ws = make(map[string]*model.Item)
		m.items[item.WorkspaceID] = ws
	}
	ws[item.UUID] = copyItem(item)
	return nil
}

func (m *MemoryStore) GetItem(ctx context.Context, workspaceID, itemID string) (*model.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if it, ok := m.items[workspaceID][itemID]; ok {
		return copyItem(it), nil
	}
	return nil, fmt.Errorf("item %s: %w", itemID, ErrNotFound)
}

func (m *MemoryStore) GetItemByRemoteID(ctx context.Context, workspaceID string, t model.ItemType, remoteID string) (*model.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, it := range m.items[workspaceID] {
		if it.Type == t && it.RemoteID == remoteID {
			return copyItem(it), nil
		}
	}
	return nil, fmt.Errorf("remote id %s: %w", remoteID, ErrNotFound)
}

func (m *MemoryStore) GetItems(ctx context.Context, workspaceID string, itemIDs []string) ([]*model.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*model.Item, 0, len(itemIDs))
	for _, id := range itemIDs {
		if it, ok := m.items[workspaceID][id]; ok {
			out = append(out, copyItem(it))
		}
	}
	return out, nil
}

func (m *MemoryStore) page(workspaceID string, t model.ItemType, afterRemoteID string, limit int, keep func(*model.Item) bool) []*model.Item {
	var out []*model.Item
	for _, it := range m.items[workspaceID] {
		if it.Type != t || it.Merged() {
			continue
		}
		if it.RemoteID <= afterRemoteID {
			continue
		}
		if keep(it) {
			out = append(out, copyItem(it))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RemoteID < out[j].RemoteID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (m *MemoryStore) UncheckedPage(ctx context.Context, workspaceID string, t model.ItemType, afterRemoteID string, limit int) ([]*model.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.page(workspaceID, t, afterRemoteID, limit, func(i *model.Item) bool { return !i.SimilarityChecked }), nil
}

func (m *MemoryStore) InstalledPage(ctx context.Context, workspaceID string, t model.ItemType, afterRemoteID string, limit int) ([]*model.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.page(workspaceID, t, afterRemoteID, limit, func(i *model.Item) bool { return i.SimilarityChecked }), nil
}

func (m *MemoryStore) ActivePage(ctx context.Context, workspaceID string, t model.ItemType, afterRemoteID string, limit int) ([]*model.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.page(workspaceID, t, afterRemoteID, limit, func(i *model.Item) bool { return true }), nil
}

func (m *MemoryStore) setFlag(workspaceID string, itemIDs []string, set func(*model.Item)) {
	for _, id := range itemIDs {
		if it, ok := m.items[workspaceID][id]; ok {
			set(it)
		}
	}
}

func (m *MemoryStore) SetSimilarityChecked(ctx context.Context, workspaceID string, itemIDs []string, checked bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setFlag(workspaceID, itemIDs, func(i *model.Item) { i.SimilarityChecked = checked })
	return nil
}

func (m *MemoryStore) SetDupChecked(ctx context.Context, workspaceID string, itemIDs []string, checked bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setFlag(workspaceID, itemIDs, func(i *model.Item) { i.DupChecked = checked })
	return nil
}

func (m *MemoryStore) NextDupUnchecked(ctx context.Context, workspaceID string, t model.ItemType) (*model.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best *model.Item
	for _, it := range m.items[workspaceID] {
		if it.Type != t || it.Merged() || it.DupChecked {
			continue
		}
		// Tie-break on remoteId so the scan order stays deterministic.
		if best == nil || it.FillScore > best.FillScore ||
			(it.FillScore == best.FillScore && it.RemoteID < best.RemoteID) {
			best = it
		}
	}
	if best == nil {
		return nil, fmt.Errorf("dup-unchecked %s: %w", t, ErrNotFound)
	}
	return copyItem(best), nil
}

func (m *MemoryStore) CountDupUnchecked(ctx context.Context, workspaceID string, t model.ItemType) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, it := range m.items[workspaceID] {
		if it.Type == t && !it.Merged() && !it.DupChecked {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) MarkMerged(ctx context.Context, workspaceID, itemID, intoRemoteID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[workspaceID][itemID]
	if !ok {
		return fmt.Errorf("item %s: %w", itemID, ErrNotFound)
	}
	now := time.Now().UTC()
	it.MergedInto = intoRemoteID
	it.MergedAt = &now
	return nil
}

func (m *MemoryStore) UpsertEdges(ctx context.Context, edges []*model.SimilarityEdge) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range edges {
		ws := m.edges[e.WorkspaceID]
		if ws == nil {
			ws = make(map[string]*model.SimilarityEdge)
			m.edges[e.WorkspaceID] = ws
		}
		c := *e
		ws[edgeKey(e)] = &c
	}
	return nil
}

func (m *MemoryStore) EdgesForItem(ctx context.Context, workspaceID, itemID string) ([]*model.SimilarityEdge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.SimilarityEdge
	for _, e := range m.edges[workspaceID] {
		if e.ItemAID == itemID || e.ItemBID == itemID {
			c := *e
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return edgeKey(out[i]) < edgeKey(out[j]) })
	return out, nil
}

func (m *MemoryStore) DeleteEdgesForItem(ctx context.Context, workspaceID, itemID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, e := range m.edges[workspaceID] {
		if e.ItemAID == itemID || e.ItemBID == itemID {
			delete(m.edges[workspaceID], k)
		}
	}
	return nil
}

func (m *MemoryStore) DeleteAllEdges(ctx context.Context, workspaceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.edges, workspaceID)
	return nil
}

func (m *MemoryStore) SaveStack(ctx context.Context, stack *model.DupStack) error {
	if err := stack.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	ws := m.stacks[stack.WorkspaceID]
	if ws == nil {
		ws = make(map[string]*model.DupStack)
		m.stacks[stack.WorkspaceID] = ws
	}
	ws[stack.UUID] = copyStack(stack)
	return nil
}

func (m *MemoryStore) GetStack(ctx context.Context, workspaceID, stackID string) (*model.DupStack, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.stacks[workspaceID][stackID]; ok {
		return copyStack(s), nil
	}
	return nil, fmt.Errorf("stack %s: %w", stackID, ErrNotFound)
}

func (m *MemoryStore) StackForItem(ctx context.Context, workspaceID, itemID string) (*model.DupStack, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.stacks[workspaceID] {
		if _, ok := s.RoleOf(itemID); ok {
			return copyStack(s), nil
		}
	}
	return nil, fmt.Errorf("stack holding item %s: %w", itemID, ErrNotFound)
}

func (m *MemoryStore) ListStacks(ctx context.Context, workspaceID string) ([]*model.DupStack, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.DupStack
	for _, s := range m.stacks[workspaceID] {
		out = append(out, copyStack(s))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UUID < out[j].UUID })
	return out, nil
}

func (m *MemoryStore) DeleteStack(ctx context.Context, workspaceID, stackID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.stacks[workspaceID], stackID)
	return nil
}

func (m *MemoryStore) DeleteAllStacks(ctx context.Context, workspaceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.stacks, workspaceID)
	return nil
}

func (m *MemoryStore) SaveOperation(ctx context.Context, op *model.Operation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ws := m.ops[op.WorkspaceID]
	if ws == nil {
		ws = make(map[model.Phase]*model.Operation)
		m.ops[op.WorkspaceID] = ws
	}
	c := *op
	c.UpdatedAt = time.Now().UTC()
	ws[op.Phase] = &c
	return nil
}

func (m *MemoryStore) GetOperation(ctx context.Context, workspaceID string, phase model.Phase) (*model.Operation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if op, ok := m.ops[workspaceID][phase]; ok {
		c := *op
		return &c, nil
	}
	return nil, fmt.Errorf("operation %s/%s: %w", workspaceID, phase, ErrNotFound)
}

func (m *MemoryStore) IncrementProgress(ctx context.Context, workspaceID string, phase model.Phase, doneDelta, totalDelta int) (*model.Operation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ws := m.ops[workspaceID]
	if ws == nil {
		ws = make(map[model.Phase]*model.Operation)
		m.ops[workspaceID] = ws
	}
	op, ok := ws[phase]
	if !ok {
		op = &model.Operation{WorkspaceID: workspaceID, Phase: phase, Status: model.StatusRunning}
		ws[phase] = op
	}
	op.Done += doneDelta
	op.Total += totalDelta
	op.UpdatedAt = time.Now().UTC()
	c := *op
	return &c, nil
}

func (m *MemoryStore) ResetWorkspace(ctx context.Context, workspaceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, it := range m.items[workspaceID] {
		it.SimilarityChecked = false
		it.DupChecked = false
	}
	delete(m.edges, workspaceID)
	delete(m.stacks, workspaceID)
	delete(m.ops, workspaceID)
	return nil
}
