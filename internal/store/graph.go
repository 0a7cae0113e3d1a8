package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/agenthands/dedupstack/internal/core/model"
	"github.com/agenthands/dedupstack/internal/driver"
)

// GraphStore persists items, similarity edges, and dup-stacks in Memgraph.
// Items and stacks are nodes; similarity edges and stack membership are
// relationships, so edge cleanup on merge is a single Cypher delete.
type GraphStore struct {
	Driver driver.GraphDriver
}

func NewGraphStore(d driver.GraphDriver) *GraphStore {
	return &GraphStore{Driver: d}
}

func (g *GraphStore) UpsertItem(ctx context.Context, item *model.Item) error {
	fields, err := json.Marshal(item.Fields)
	if err != nil {
		return fmt.Errorf("failed to encode item fields: %w", err)
	}

	mergedAt := ""
	if item.MergedAt != nil {
		mergedAt = item.MergedAt.UTC().Format(time.RFC3339)
	}

	params := map[string]interface{}{
		"uuid":               item.UUID,
		"workspace_id":       item.WorkspaceID,
		"item_type":          string(item.Type),
		"remote_id":          item.RemoteID,
		"fields":             string(fields),
		"fill_score":         item.FillScore,
		"similarity_checked": item.SimilarityChecked,
		"dup_checked":        item.DupChecked,
		"merged_into":        item.MergedInto,
		"merged_at":          mergedAt,
		"created_at":         item.CreatedAt.UTC().Format(time.RFC3339),
	}

	_, err = g.Driver.ExecuteQuery(ctx, driver.UpsertItemQuery, params)
	return err
}

func itemFromNode(n neo4j.Node) (*model.Item, error) {
	item := &model.Item{
		UUID:        asString(n.Props["uuid"]),
		WorkspaceID: asString(n.Props["workspace_id"]),
		Type:        model.ItemType(asString(n.Props["item_type"])),
		RemoteID:    asString(n.Props["remote_id"]),
		FillScore:   int(asInt(n.Props["fill_score"])),
		MergedInto:  asString(n.Props["merged_into"]),
	}
	item.SimilarityChecked, _ = n.Props["similarity_checked"].(bool)
	item.DupChecked, _ = n.Props["dup_checked"].(bool)

	if raw := asString(n.Props["fields"]); raw != "" {
		if err := json.Unmarshal([]byte(raw), &item.Fields); err != nil {
			return nil, fmt.Errorf("failed to decode fields of item %s: %w", item.UUID, err)
		}
	}
	if item.Fields == nil {
		item.Fields = model.FieldValues{}
	}
	if ts := asString(n.Props["created_at"]); ts != "" {
		item.CreatedAt, _ = time.Parse(time.RFC3339, ts)
	}
	if ts := asString(n.Props["merged_at"]); ts != "" {
		if t, err := time.Parse(time.RFC3339, ts); err == nil {
			item.MergedAt = &t
		}
	}
	return item, nil
}

func asString(v interface{}) string {
	s, _ := v.(string)
	return s
}

func asInt(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	}
	return 0
}

func (g *GraphStore) itemQuery(ctx context.Context, query string, params map[string]interface{}) ([]*model.Item, error) {
	res, err := g.Driver.ExecuteQuery(ctx, query, params)
	if err != nil {
		return nil, err
	}
	var items []*model.Item
	for _, rec := range res.Records {
		raw, ok := rec.Get("i")
		if !ok {
			continue
		}
		node, ok := raw.(neo4j.Node)
		if !ok {
			continue
		}
		item, err := itemFromNode(node)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

func (g *GraphStore) oneItem(ctx context.Context, query string, params map[string]interface{}, what string) (*model.Item, error) {
	items, err := g.itemQuery(ctx, query, params)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return items[0], nil
}

func (g *GraphStore) GetItem(ctx context.Context, workspaceID, itemID string) (*model.Item, error) {
	return g.oneItem(ctx, driver.GetItemQuery, map[string]interface{}{
		"workspace_id": workspaceID,
		"uuid":         itemID,
	}, "item "+itemID)
}

func (g *GraphStore) GetItemByRemoteID(ctx context.Context, workspaceID string, t model.ItemType, remoteID string) (*model.Item, error) {
	return g.oneItem(ctx, driver.GetItemByRemoteIDQuery, map[string]interface{}{
		"workspace_id": workspaceID,
		"item_type":    string(t),
		"remote_id":    remoteID,
	}, "remote id "+remoteID)
}

func (g *GraphStore) GetItems(ctx context.Context, workspaceID string, itemIDs []string) ([]*model.Item, error) {
	return g.itemQuery(ctx, driver.GetItemsQuery, map[string]interface{}{
		"workspace_id": workspaceID,
		"uuids":        itemIDs,
	})
}

func (g *GraphStore) UncheckedPage(ctx context.Context, workspaceID string, t model.ItemType, afterRemoteID string, limit int) ([]*model.Item, error) {
	return g.itemQuery(ctx, driver.UncheckedPageQuery, pageParams(workspaceID, t, afterRemoteID, limit))
}

func (g *GraphStore) InstalledPage(ctx context.Context, workspaceID string, t model.ItemType, afterRemoteID string, limit int) ([]*model.Item, error) {
	return g.itemQuery(ctx, driver.InstalledPageQuery, pageParams(workspaceID, t, afterRemoteID, limit))
}

func (g *GraphStore) ActivePage(ctx context.Context, workspaceID string, t model.ItemType, afterRemoteID string, limit int) ([]*model.Item, error) {
	return g.itemQuery(ctx, driver.ActivePageQuery, pageParams(workspaceID, t, afterRemoteID, limit))
}

func pageParams(workspaceID string, t model.ItemType, afterRemoteID string, limit int) map[string]interface{} {
	return map[string]interface{}{
		"workspace_id": workspaceID,
		"item_type":    string(t),
		"after":        afterRemoteID,
		"limit":        limit,
	}
}

func (g *GraphStore) SetSimilarityChecked(ctx context.Context, workspaceID string, itemIDs []string, checked bool) error {
	_, err := g.Driver.ExecuteQuery(ctx, driver.SetSimilarityCheckedQuery, map[string]interface{}{
		"workspace_id": workspaceID,
		"uuids":        itemIDs,
		"checked":      checked,
	})
	return err
}

func (g *GraphStore) SetDupChecked(ctx context.Context, workspaceID string, itemIDs []string, checked bool) error {
	_, err := g.Driver.ExecuteQuery(ctx, driver.SetDupCheckedQuery, map[string]interface{}{
		"workspace_id": workspaceID,
		"uuids":        itemIDs,
		"checked":      checked,
	})
	return err
}

func (g *GraphStore) NextDupUnchecked(ctx context.Context, workspaceID string, t model.ItemType) (*model.Item, error) {
	return g.oneItem(ctx, driver.NextDupUncheckedQuery, map[string]interface{}{
		"workspace_id": workspaceID,
		"item_type":    string(t),
	}, "dup-unchecked "+string(t))
}

func (g *GraphStore) CountDupUnchecked(ctx context.Context, workspaceID string, t model.ItemType) (int, error) {
	res, err := g.Driver.ExecuteQuery(ctx, driver.CountDupUncheckedQuery, map[string]interface{}{
		"workspace_id": workspaceID,
		"item_type":    string(t),
	})
	if err != nil {
		return 0, err
	}
	if len(res.Records) == 0 {
		return 0, nil
	}
	n, _ := res.Records[0].Get("n")
	return int(asInt(n)), nil
}

func (g *GraphStore) MarkMerged(ctx context.Context, workspaceID, itemID, intoRemoteID string) error {
	res, err := g.Driver.ExecuteQuery(ctx, driver.MarkMergedQuery, map[string]interface{}{
		"workspace_id": workspaceID,
		"uuid":         itemID,
		"merged_into":  intoRemoteID,
		"merged_at":    time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	if len(res.Records) == 0 {
		return fmt.Errorf("item %s: %w", itemID, ErrNotFound)
	}
	return nil
}

func (g *GraphStore) UpsertEdges(ctx context.Context, edges []*model.SimilarityEdge) error {
	for _, e := range edges {
		_, err := g.Driver.ExecuteQuery(ctx, driver.UpsertEdgeQuery, map[string]interface{}{
			"workspace_id": e.WorkspaceID,
			"item_type":    string(e.ItemType),
			"item_a":       e.ItemAID,
			"item_b":       e.ItemBID,
			"field_id":     e.FieldID,
			"value_a":      e.ValueA,
			"value_b":      e.ValueB,
			"tier":         string(e.Tier),
		})
		if err != nil {
			return fmt.Errorf("failed to upsert edge %s-%s/%s: %w", e.ItemAID, e.ItemBID, e.FieldID, err)
		}
	}
	return nil
}

func (g *GraphStore) EdgesForItem(ctx context.Context, workspaceID, itemID string) ([]*model.SimilarityEdge, error) {
	res, err := g.Driver.ExecuteQuery(ctx, driver.EdgesForItemQuery, map[string]interface{}{
		"workspace_id": workspaceID,
		"uuid":         itemID,
	})
	if err != nil {
		return nil, err
	}
	var edges []*model.SimilarityEdge
	for _, rec := range res.Records {
		edges = append(edges, edgeFromRecord(rec, workspaceID))
	}
	return edges, nil
}

func edgeFromRecord(rec *neo4j.Record, workspaceID string) *model.SimilarityEdge {
	get := func(key string) string {
		v, _ := rec.Get(key)
		return asString(v)
	}
	return &model.SimilarityEdge{
		WorkspaceID: workspaceID,
		ItemType:    model.ItemType(get("item_type")),
		ItemAID:     get("item_a"),
		ItemBID:     get("item_b"),
		FieldID:     get("field_id"),
		ValueA:      get("value_a"),
		ValueB:      get("value_b"),
		Tier:        model.Tier(get("tier")),
	}
}

func (g *GraphStore) DeleteEdgesForItem(ctx context.Context, workspaceID, itemID string) error {
	_, err := g.Driver.ExecuteQuery(ctx, driver.DeleteEdgesForItemQuery, map[string]interface{}{
		"workspace_id": workspaceID,
		"uuid":         itemID,
	})
	return err
}

func (g *GraphStore) DeleteAllEdges(ctx context.Context, workspaceID string) error {
	_, err := g.Driver.ExecuteQuery(ctx, driver.DeleteAllEdgesQuery, map[string]interface{}{
		"workspace_id": workspaceID,
	})
	return err
}

func (g *GraphStore) SaveStack(ctx context.Context, stack *model.DupStack) error {
	if err := stack.Validate(); err != nil {
		return err
	}

	params := map[string]interface{}{
		"workspace_id": stack.WorkspaceID,
		"uuid":         stack.UUID,
		"item_type":    string(stack.ItemType),
		"created_at":   stack.CreatedAt.UTC().Format(time.RFC3339),
	}
	if _, err := g.Driver.ExecuteQuery(ctx, driver.SaveStackQuery, params); err != nil {
		return err
	}

	// Membership is rewritten wholesale: the stack node is small and this
	// keeps removal and role changes idempotent under retry.
	if _, err := g.Driver.ExecuteQuery(ctx, driver.ClearStackMembersQuery, params); err != nil {
		return err
	}
	for _, m := range stack.Members {
		_, err := g.Driver.ExecuteQuery(ctx, driver.AddStackMemberQuery, map[string]interface{}{
			"workspace_id": stack.WorkspaceID,
			"uuid":         stack.UUID,
			"item_uuid":    m.ItemID,
			"role":         string(m.Role),
		})
		if err != nil {
			return fmt.Errorf("failed to save member %s of stack %s: %w", m.ItemID, stack.UUID, err)
		}
	}
	return nil
}

func stackFromRecord(rec *neo4j.Record, workspaceID string) *model.DupStack {
	get := func(key string) interface{} {
		v, _ := rec.Get(key)
		return v
	}
	s := &model.DupStack{
		UUID:        asString(get("uuid")),
		WorkspaceID: workspaceID,
		ItemType:    model.ItemType(asString(get("item_type"))),
	}
	if ts := asString(get("created_at")); ts != "" {
		s.CreatedAt, _ = time.Parse(time.RFC3339, ts)
	}
	members, _ := get("members").([]interface{})
	for _, raw := range members {
		m, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		itemID := asString(m["item_uuid"])
		if itemID == "" {
			continue // OPTIONAL MATCH miss on an empty stack
		}
		s.Members = append(s.Members, model.StackMember{
			ItemID: itemID,
			Role:   model.MemberRole(asString(m["role"])),
		})
	}
	return s
}

func (g *GraphStore) GetStack(ctx context.Context, workspaceID, stackID string) (*model.DupStack, error) {
	res, err := g.Driver.ExecuteQuery(ctx, driver.GetStackQuery, map[string]interface{}{
		"workspace_id": workspaceID,
		"uuid":         stackID,
	})
	if err != nil {
		return nil, err
	}
	if len(res.Records) == 0 {
		return nil, fmt.Errorf("stack %s: %w", stackID, ErrNotFound)
	}
	return stackFromRecord(res.Records[0], workspaceID), nil
}

func (g *GraphStore) StackForItem(ctx context.Context, workspaceID, itemID string) (*model.DupStack, error) {
	res, err := g.Driver.ExecuteQuery(ctx, driver.StackForItemQuery, map[string]interface{}{
		"workspace_id": workspaceID,
		"item_uuid":    itemID,
	})
	if err != nil {
		return nil, err
	}
	if len(res.Records) == 0 {
		return nil, fmt.Errorf("stack holding item %s: %w", itemID, ErrNotFound)
	}
	return stackFromRecord(res.Records[0], workspaceID), nil
}

func (g *GraphStore) ListStacks(ctx context.Context, workspaceID string) ([]*model.DupStack, error) {
	res, err := g.Driver.ExecuteQuery(ctx, driver.ListStacksQuery, map[string]interface{}{
		"workspace_id": workspaceID,
	})
	if err != nil {
		return nil, err
	}
	var stacks []*model.DupStack
	for _, rec := range res.Records {
		stacks = append(stacks, stackFromRecord(rec, workspaceID))
	}
	return stacks, nil
}

func (g *GraphStore) DeleteStack(ctx context.Context, workspaceID, stackID string) error {
	_, err := g.Driver.ExecuteQuery(ctx, driver.DeleteStackQuery, map[string]interface{}{
		"workspace_id": workspaceID,
		"uuid":         stackID,
	})
	return err
}

func (g *GraphStore) DeleteAllStacks(ctx context.Context, workspaceID string) error {
	_, err := g.Driver.ExecuteQuery(ctx, driver.DeleteAllStacksQuery, map[string]interface{}{
		"workspace_id": workspaceID,
	})
	return err
}

func (g *GraphStore) SaveOperation(ctx context.Context, op *model.Operation) error {
	_, err := g.Driver.ExecuteQuery(ctx, driver.SaveOperationQuery, map[string]interface{}{
		"workspace_id": op.WorkspaceID,
		"phase":        string(op.Phase),
		"status":       string(op.Status),
		"done":         op.Done,
		"total":        op.Total,
		"error":        op.Error,
		"updated_at":   time.Now().UTC().Format(time.RFC3339),
	})
	return err
}

func operationFromRecord(rec *neo4j.Record, workspaceID string, phase model.Phase) *model.Operation {
	get := func(key string) interface{} {
		v, _ := rec.Get(key)
		return v
	}
	op := &model.Operation{
		WorkspaceID: workspaceID,
		Phase:       phase,
		Status:      model.OperationStatus(asString(get("status"))),
		Done:        int(asInt(get("done"))),
		Total:       int(asInt(get("total"))),
		Error:       asString(get("error")),
	}
	if ts := asString(get("updated_at")); ts != "" {
		op.UpdatedAt, _ = time.Parse(time.RFC3339, ts)
	}
	return op
}

func (g *GraphStore) GetOperation(ctx context.Context, workspaceID string, phase model.Phase) (*model.Operation, error) {
	res, err := g.Driver.ExecuteQuery(ctx, driver.GetOperationQuery, map[string]interface{}{
		"workspace_id": workspaceID,
		"phase":        string(phase),
	})
	if err != nil {
		return nil, err
	}
	if len(res.Records) == 0 {
		return nil, fmt.Errorf("operation %s/%s: %w", workspaceID, phase, ErrNotFound)
	}
	return operationFromRecord(res.Records[0], workspaceID, phase), nil
}

func (g *GraphStore) IncrementProgress(ctx context.Context, workspaceID string, phase model.Phase, doneDelta, totalDelta int) (*model.Operation, error) {
	res, err := g.Driver.ExecuteQuery(ctx, driver.IncrementProgressQuery, map[string]interface{}{
		"workspace_id": workspaceID,
		"phase":        string(phase),
		"done_delta":   doneDelta,
		"total_delta":  totalDelta,
		"updated_at":   time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return nil, err
	}
	if len(res.Records) == 0 {
		return nil, fmt.Errorf("operation %s/%s: %w", workspaceID, phase, ErrNotFound)
	}
	return operationFromRecord(res.Records[0], workspaceID, phase), nil
}

func (g *GraphStore) ResetWorkspace(ctx context.Context, workspaceID string) error {
	params := map[string]interface{}{"workspace_id": workspaceID}
	if _, err := g.Driver.ExecuteQuery(ctx, driver.ResetItemFlagsQuery, params); err != nil {
		return err
	}
	if err := g.DeleteAllEdges(ctx, workspaceID); err != nil {
		return err
	}
	if err := g.DeleteAllStacks(ctx, workspaceID); err != nil {
		return err
	}
	_, err := g.Driver.ExecuteQuery(ctx, driver.DeleteOperationsQuery, params)
	return err
}
