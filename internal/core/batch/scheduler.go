package batch

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/agenthands/dedupstack/internal/core/model"
	"github.com/agenthands/dedupstack/internal/core/similarity"
	"github.com/agenthands/dedupstack/internal/store"
)

// DefaultBatchSize keeps every comparison task under B^2 pair evaluations.
const DefaultBatchSize = 1000

// Task is one bounded, independently retryable unit of pairwise comparison
// work: either a batch against itself (upper-triangular pairs) or a batch
// against one previously installed batch (full cross product).
type Task struct {
	ID          string
	WorkspaceID string
	ItemType    model.ItemType
	BatchIDs    []string
	AgainstIDs  []string // empty for a self comparison
}

func (t *Task) Self() bool { return len(t.AgainstIDs) == 0 }

// Scheduler partitions the unchecked population of a workspace into batches
// along the remote-id sort key and emits the comparison tasks that cover
// every unordered pair exactly once at batch granularity.
type Scheduler struct {
	Store          store.Store
	BatchSize      int
	MaxSelfBatches int // free-tier cap on self-compared batches; 0 = unlimited
}

func NewScheduler(s store.Store, batchSize, maxSelfBatches int) *Scheduler {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Scheduler{Store: s, BatchSize: batchSize, MaxSelfBatches: maxSelfBatches}
}

// ScheduleNext forms the next batch from the unchecked population and
// returns its comparison tasks: one self task plus one task per installed
// batch. The batch's items are flipped to checked only after every task has
// been produced, so a crash between the two leaves the batch unchecked and
// the next pass re-schedules it.
//
// batchNum is the number of batches already installed in this pass. Once the
// free-tier cap is reached the remaining tail of the ordered population is
// skipped deterministically: those items are flipped to checked without any
// comparison and reported in skipped.
//
// Returns (nil, 0, nil) when the unchecked population is exhausted.
func (s *Scheduler) ScheduleNext(ctx context.Context, workspaceID string, t model.ItemType, batchNum int) (tasks []*Task, skipped int, err error) {
	if s.MaxSelfBatches > 0 && batchNum >= s.MaxSelfBatches {
		n, err := s.skipTail(ctx, workspaceID, t)
		return nil, n, err
	}

	items, err := s.Store.UncheckedPage(ctx, workspaceID, t, "", s.BatchSize)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to page unchecked items: %w", err)
	}
	if len(items) == 0 {
		return nil, 0, nil
	}

	batchIDs := itemIDs(items)

	tasks = append(tasks, &Task{
		ID:          uuid.New().String(),
		WorkspaceID: workspaceID,
		ItemType:    t,
		BatchIDs:    batchIDs,
	})

	// One cross task per installed batch, paged along the same sort key the
	// batch itself was formed on. New items ingested concurrently land in the
	// unchecked set and get their own batch later, so no pair is skipped.
	cursor := ""
	for {
		installed, err := s.Store.InstalledPage(ctx, workspaceID, t, cursor, s.BatchSize)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to page installed items: %w", err)
		}
		if len(installed) == 0 {
			break
		}
		tasks = append(tasks, &Task{
			ID:          uuid.New().String(),
			WorkspaceID: workspaceID,
			ItemType:    t,
			BatchIDs:    batchIDs,
			AgainstIDs:  itemIDs(installed),
		})
		cursor = installed[len(installed)-1].RemoteID
	}

	if err := s.Store.SetSimilarityChecked(ctx, workspaceID, batchIDs, true); err != nil {
		return nil, 0, fmt.Errorf("failed to install batch: %w", err)
	}

	return tasks, 0, nil
}

func (s *Scheduler) skipTail(ctx context.Context, workspaceID string, t model.ItemType) (int, error) {
	skipped := 0
	for {
		items, err := s.Store.UncheckedPage(ctx, workspaceID, t, "", s.BatchSize)
		if err != nil {
			return skipped, err
		}
		if len(items) == 0 {
			return skipped, nil
		}
		if err := s.Store.SetSimilarityChecked(ctx, workspaceID, itemIDs(items), true); err != nil {
			return skipped, err
		}
		skipped += len(items)
	}
}

// RunTask evaluates every pair the task covers and upserts the resulting
// edges. Fast-compatible fields are excluded here; they are covered by the
// grouping pass. Safe to retry: edge upserts are idempotent.
func (s *Scheduler) RunTask(ctx context.Context, task *Task, fields []model.FieldConfig) error {
	pairwise := pairwiseFields(fields)
	if len(pairwise) == 0 {
		return nil
	}

	batch, err := s.Store.GetItems(ctx, task.WorkspaceID, task.BatchIDs)
	if err != nil {
		return fmt.Errorf("failed to load batch items: %w", err)
	}

	var edges []*model.SimilarityEdge
	if task.Self() {
		for i := 0; i < len(batch); i++ {
			for j := i + 1; j < len(batch); j++ {
				edges = append(edges, similarity.Evaluate(batch[i], batch[j], pairwise)...)
			}
		}
	} else {
		against, err := s.Store.GetItems(ctx, task.WorkspaceID, task.AgainstIDs)
		if err != nil {
			return fmt.Errorf("failed to load comparison items: %w", err)
		}
		for _, a := range batch {
			for _, b := range against {
				edges = append(edges, similarity.Evaluate(a, b, pairwise)...)
			}
		}
	}

	if len(edges) == 0 {
		return nil
	}
	if err := s.Store.UpsertEdges(ctx, edges); err != nil {
		return fmt.Errorf("failed to persist edges for task %s: %w", task.ID, err)
	}
	return nil
}

// Rollback clears the checked flag on the task's batch after a terminal
// failure so a later pass recomputes it. An item must never stay marked
// checked with its edges missing.
func (s *Scheduler) Rollback(ctx context.Context, task *Task) error {
	return s.Store.SetSimilarityChecked(ctx, task.WorkspaceID, task.BatchIDs, false)
}

func pairwiseFields(fields []model.FieldConfig) []model.FieldConfig {
	var out []model.FieldConfig
	for _, f := range fields {
		if !f.FastCompatible {
			out = append(out, f)
		}
	}
	return out
}

func itemIDs(items []*model.Item) []string {
	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = it.UUID
	}
	return ids
}
