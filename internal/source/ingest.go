package source

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/agenthands/dedupstack/internal/config"
	"github.com/agenthands/dedupstack/internal/core/model"
	"github.com/agenthands/dedupstack/internal/store"
)

// DefaultPageSize is the pull size used when syncing a RecordSource.
const DefaultPageSize = 500

// Ingestor turns raw source records into stored items. Ingestion is
// idempotent on (workspace, type, remoteId): re-delivering an unchanged
// record is a no-op, while a changed record resets the item's checked flags,
// drops its now-stale edges and leaves its dup-stack so the next pass
// reclassifies it from scratch.
type Ingestor struct {
	Store  store.Store
	Config *config.Config
}

func NewIngestor(s store.Store, cfg *config.Config) *Ingestor {
	return &Ingestor{Store: s, Config: cfg}
}

// Ingest upserts a batch of records and returns how many items were created
// or changed.
func (in *Ingestor) Ingest(ctx context.Context, workspaceID string, t model.ItemType, records []*Record) (int, error) {
	fields := in.Config.FieldsFor(t)
	if len(fields) == 0 {
		return 0, fmt.Errorf("no field policy configured for item type %q", t)
	}

	changed := 0
	for _, rec := range records {
		if rec.RemoteID == "" {
			return changed, fmt.Errorf("record without a remote id")
		}

		item, err := in.Store.GetItemByRemoteID(ctx, workspaceID, t, rec.RemoteID)
		switch {
		case err == nil:
			if item.Merged() {
				// The remote side already absorbed this record; whatever the
				// source re-delivers is the pre-merge snapshot. Keep the
				// retirement.
				continue
			}
			next := normalizeFields(rec.Fields)
			if fieldsEqual(item.Fields, next) {
				continue
			}
			if err := in.Store.DeleteEdgesForItem(ctx, workspaceID, item.UUID); err != nil {
				return changed, err
			}
			if err := in.detachFromStack(ctx, workspaceID, item.UUID); err != nil {
				return changed, err
			}
			item.Fields = next
			item.FillScore = fillScore(item, fields)
			item.SimilarityChecked = false
			item.DupChecked = false
		case errors.Is(err, store.ErrNotFound):
			item = &model.Item{
				UUID:        uuid.New().String(),
				WorkspaceID: workspaceID,
				Type:        t,
				RemoteID:    rec.RemoteID,
				Fields:      normalizeFields(rec.Fields),
				CreatedAt:   time.Now().UTC(),
			}
			item.FillScore = fillScore(item, fields)
		default:
			return changed, err
		}

		if err := in.Store.UpsertItem(ctx, item); err != nil {
			return changed, err
		}
		changed++
	}
	return changed, nil
}

// detachFromStack removes a changed item from the dup-stack it belongs to,
// keeping every item in at most one active stack. Losing the REFERENCE, or
// dropping the stack below two members, dissolves the stack and releases the
// remaining members for re-resolution.
func (in *Ingestor) detachFromStack(ctx context.Context, workspaceID, itemID string) error {
	s, err := in.Store.StackForItem(ctx, workspaceID, itemID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	role, _ := s.RoleOf(itemID)
	s.Remove(itemID)
	if role == model.RoleReference || len(s.Members) < 2 {
		if err := in.Store.DeleteStack(ctx, workspaceID, s.UUID); err != nil {
			return err
		}
		remaining := make([]string, 0, len(s.Members))
		for _, m := range s.Members {
			remaining = append(remaining, m.ItemID)
		}
		return in.Store.SetDupChecked(ctx, workspaceID, remaining, false)
	}
	return in.Store.SaveStack(ctx, s)
}

// Sync drains a RecordSource for one item type, page by page.
func (in *Ingestor) Sync(ctx context.Context, workspaceID string, t model.ItemType, src RecordSource) (int, error) {
	total := 0
	cursor := ""
	for {
		page, err := src.FetchPage(ctx, t, cursor, DefaultPageSize)
		if err != nil {
			return total, fmt.Errorf("failed to fetch %s page after %q: %w", t, cursor, err)
		}
		if len(page) == 0 {
			return total, nil
		}
		n, err := in.Ingest(ctx, workspaceID, t, page)
		total += n
		if err != nil {
			return total, err
		}
		cursor = page[len(page)-1].RemoteID
	}
}

// fillScore counts the configured fields an item carries data for. Sparse
// items (score <= 1) get boosted during scoring and seed dup-stacks last.
func fillScore(item *model.Item, fields []model.FieldConfig) int {
	score := 0
	for _, f := range fields {
		if item.HasValue(f.ID) {
			score++
		}
	}
	return score
}

func normalizeFields(raw map[string][]string) model.FieldValues {
	out := make(model.FieldValues, len(raw))
	for id, values := range raw {
		var kept []string
		for _, v := range values {
			v = strings.TrimSpace(v)
			if v != "" {
				kept = append(kept, v)
			}
		}
		if len(kept) > 0 {
			out[id] = kept
		}
	}
	return out
}

func fieldsEqual(a, b model.FieldValues) bool {
	if len(a) != len(b) {
		return false
	}
	for id, av := range a {
		bv, ok := b[id]
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if av[i] != bv[i] {
				return false
			}
		}
	}
	return true
}
