package core

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"

	"github.com/agenthands/dedupstack/internal/config"
	"github.com/agenthands/dedupstack/internal/core/batch"
	"github.com/agenthands/dedupstack/internal/core/merge"
	"github.com/agenthands/dedupstack/internal/core/model"
	"github.com/agenthands/dedupstack/internal/core/similarity"
	dupstack "github.com/agenthands/dedupstack/internal/core/stack"
	"github.com/agenthands/dedupstack/internal/crm"
	"github.com/agenthands/dedupstack/internal/store"
	"github.com/agenthands/dedupstack/internal/task"
)

// Engine wires the store and the pipeline components and drives the two
// long-running phases as resumable steps on the task runner: similarity
// install (fast-field grouping plus batched pairwise comparison), then
// dup-stack resolution. Merging runs on user or sweep trigger.
type Engine struct {
	Store     store.Store
	Runner    *task.Runner
	Scheduler *batch.Scheduler
	Resolver  *dupstack.Resolver
	Merger    *merge.Executor
	Config    *config.Config
}

func NewEngine(s store.Store, runner *task.Runner, cfg *config.Config, absorber crm.Absorber) *Engine {
	return &Engine{
		Store:     s,
		Runner:    runner,
		Scheduler: batch.NewScheduler(s, cfg.Engine.BatchSize, cfg.Engine.FreeTierSelfBatches),
		Resolver:  dupstack.NewResolver(s, cfg.FieldsFor, cfg.Engine.MaxResolutionsPerStep),
		Merger:    merge.NewExecutor(s, absorber, cfg.CRM.RequestsPerSecond),
		Config:    cfg,
	}
}

// StartInstall kicks off the similarity install phase for a workspace. The
// scheduling step runs under the workspace's exclusivity lock; the
// comparison tasks it emits run afterwards, each independently retryable.
func (e *Engine) StartInstall(ctx context.Context, workspaceID string) error {
	err := e.Store.SaveOperation(ctx, &model.Operation{
		WorkspaceID: workspaceID,
		Phase:       model.PhaseInstall,
		Status:      model.StatusRunning,
	})
	if err != nil {
		return err
	}

	e.Runner.Enqueue(&task.Task{
		ID:          uuid.New().String(),
		WorkspaceID: workspaceID,
		Kind:        "install-schedule",
		Run: func(ctx context.Context) error {
			return e.scheduleInstall(ctx, workspaceID)
		},
		OnFailure: func(ctx context.Context, err error) {
			e.failOperation(ctx, workspaceID, model.PhaseInstall, err)
		},
	})
	return nil
}

// scheduleInstall emits the full task set for the phase: one fast-field
// grouping task per fast-compatible field, then batch comparison tasks until
// the unchecked population is exhausted. Totals are counted before the
// comparison tasks can run (the workspace lock is held), so the done==total
// completion check never fires early.
func (e *Engine) scheduleInstall(ctx context.Context, workspaceID string) error {
	for _, t := range e.Config.TypesToRun() {
		fields := e.Config.FieldsFor(t)

		for _, f := range fields {
			if f.FastCompatible {
				e.enqueueComparison(workspaceID, "fast-group", nil, func(ctx context.Context) error {
					return e.runFastGroup(ctx, workspaceID, t, f)
				})
				if _, err := e.Store.IncrementProgress(ctx, workspaceID, model.PhaseInstall, 0, 1); err != nil {
					return err
				}
			}
		}

		for batchNum := 0; ; batchNum++ {
			tasks, skipped, err := e.Scheduler.ScheduleNext(ctx, workspaceID, t, batchNum)
			if err != nil {
				return err
			}
			if skipped > 0 {
				log.Printf("install %s/%s: free tier cap reached, skipped tail of %d items", workspaceID, t, skipped)
			}
			if len(tasks) == 0 {
				break
			}
			for _, ct := range tasks {
				ct := ct
				e.enqueueComparison(workspaceID, "compare-batch", ct, func(ctx context.Context) error {
					return e.Scheduler.RunTask(ctx, ct, fields)
				})
			}
			if _, err := e.Store.IncrementProgress(ctx, workspaceID, model.PhaseInstall, 0, len(tasks)); err != nil {
				return err
			}
		}
	}

	// Nothing to do: the phase is complete as soon as it starts.
	op, err := e.Store.GetOperation(ctx, workspaceID, model.PhaseInstall)
	if err != nil {
		return err
	}
	if op.Total == 0 {
		return e.finishInstall(ctx, workspaceID)
	}
	return nil
}

func (e *Engine) enqueueComparison(workspaceID, kind string, ct *batch.Task, run func(ctx context.Context) error) {
	e.Runner.Enqueue(&task.Task{
		ID:          uuid.New().String(),
		WorkspaceID: workspaceID,
		Kind:        kind,
		Run: func(ctx context.Context) error {
			if err := run(ctx); err != nil {
				return err
			}
			return e.completeInstallTask(ctx, workspaceID)
		},
		OnFailure: func(ctx context.Context, err error) {
			if ct != nil {
				if rbErr := e.Scheduler.Rollback(ctx, ct); rbErr != nil {
					log.Printf("install %s: rollback of failed batch also failed: %v", workspaceID, rbErr)
				}
			}
			e.failOperation(ctx, workspaceID, model.PhaseInstall, err)
			// Still consume the remaining-task slot so siblings can finish
			// their own accounting.
			if _, cErr := e.Store.IncrementProgress(ctx, workspaceID, model.PhaseInstall, 1, 0); cErr != nil {
				log.Printf("install %s: progress update failed: %v", workspaceID, cErr)
			}
		},
	})
}

func (e *Engine) runFastGroup(ctx context.Context, workspaceID string, t model.ItemType, f model.FieldConfig) error {
	var items []*model.Item
	cursor := ""
	for {
		page, err := e.Store.ActivePage(ctx, workspaceID, t, cursor, e.Scheduler.BatchSize)
		if err != nil {
			return err
		}
		if len(page) == 0 {
			break
		}
		items = append(items, page...)
		cursor = page[len(page)-1].RemoteID
	}

	edges := similarity.FastGroupEdges(items, f, e.Config.Engine.FastGroupCap)
	if len(edges) == 0 {
		return nil
	}
	return e.Store.UpsertEdges(ctx, edges)
}

// completeInstallTask decrements the remaining-task counter; reaching zero
// triggers the resolution phase.
func (e *Engine) completeInstallTask(ctx context.Context, workspaceID string) error {
	op, err := e.Store.IncrementProgress(ctx, workspaceID, model.PhaseInstall, 1, 0)
	if err != nil {
		return err
	}
	if op.Done >= op.Total && op.Status != model.StatusError {
		return e.finishInstall(ctx, workspaceID)
	}
	return nil
}

func (e *Engine) finishInstall(ctx context.Context, workspaceID string) error {
	op, err := e.Store.GetOperation(ctx, workspaceID, model.PhaseInstall)
	if err != nil {
		return err
	}
	op.Status = model.StatusDone
	if err := e.Store.SaveOperation(ctx, op); err != nil {
		return err
	}
	return e.StartResolve(ctx, workspaceID)
}

// StartResolve kicks off (or resumes) the dup-stack resolution phase.
func (e *Engine) StartResolve(ctx context.Context, workspaceID string) error {
	total := 0
	for _, t := range e.Config.TypesToRun() {
		n, err := e.Store.CountDupUnchecked(ctx, workspaceID, t)
		if err != nil {
			return err
		}
		total += n
	}

	err := e.Store.SaveOperation(ctx, &model.Operation{
		WorkspaceID: workspaceID,
		Phase:       model.PhaseResolve,
		Status:      model.StatusRunning,
		Total:       total,
	})
	if err != nil {
		return err
	}

	e.enqueueResolveStep(workspaceID)
	return nil
}

// enqueueResolveStep schedules one bounded resolution slice. The step
// re-enqueues itself while work remains instead of looping in-process; no
// cursor is needed beyond the persisted dupChecked flags.
func (e *Engine) enqueueResolveStep(workspaceID string) {
	e.Runner.Enqueue(&task.Task{
		ID:          uuid.New().String(),
		WorkspaceID: workspaceID,
		Kind:        "resolve-step",
		Run: func(ctx context.Context) error {
			more := false
			for _, t := range e.Config.TypesToRun() {
				m, err := e.Resolver.ResolveStep(ctx, workspaceID, t)
				if err != nil {
					return err
				}
				more = more || m
			}
			if more {
				e.enqueueResolveStep(workspaceID)
				return nil
			}

			op, err := e.Store.GetOperation(ctx, workspaceID, model.PhaseResolve)
			if err != nil {
				return err
			}
			op.Status = model.StatusDone
			return e.Store.SaveOperation(ctx, op)
		},
		OnFailure: func(ctx context.Context, err error) {
			e.failOperation(ctx, workspaceID, model.PhaseResolve, err)
		},
	})
}

// MergeStack merges one resolved stack under the workspace lock.
func (e *Engine) MergeStack(ctx context.Context, workspaceID, stackID string, includePotential bool) (*merge.Result, error) {
	var result *merge.Result
	err := e.Runner.WithWorkspace(workspaceID, func() error {
		var err error
		result, err = e.Merger.MergeStack(ctx, workspaceID, stackID, includePotential)
		return err
	})
	return result, err
}

// MergeAll sweeps every resolved stack in the workspace.
func (e *Engine) MergeAll(ctx context.Context, workspaceID string, includePotential bool) ([]*merge.Result, error) {
	var results []*merge.Result
	err := e.Runner.WithWorkspace(workspaceID, func() error {
		if sErr := e.Store.SaveOperation(ctx, &model.Operation{
			WorkspaceID: workspaceID,
			Phase:       model.PhaseMerge,
			Status:      model.StatusRunning,
		}); sErr != nil {
			return sErr
		}
		var err error
		results, err = e.Merger.MergeAll(ctx, workspaceID, includePotential)
		if err != nil {
			e.failOperation(ctx, workspaceID, model.PhaseMerge, err)
			return err
		}
		op, gErr := e.Store.GetOperation(ctx, workspaceID, model.PhaseMerge)
		if gErr != nil {
			return gErr
		}
		op.Status = model.StatusDone
		return e.Store.SaveOperation(ctx, op)
	})
	return results, err
}

// MarkFalsePositive re-tags a stack member so later sweeps keep it as
// residue instead of merging it.
func (e *Engine) MarkFalsePositive(ctx context.Context, workspaceID, stackID, itemID string) error {
	return e.Runner.WithWorkspace(workspaceID, func() error {
		s, err := e.Store.GetStack(ctx, workspaceID, stackID)
		if err != nil {
			return err
		}
		role, ok := s.RoleOf(itemID)
		if !ok {
			return fmt.Errorf("item %s is not a member of stack %s: %w", itemID, stackID, store.ErrNotFound)
		}
		if role == model.RoleReference {
			return errors.New("the reference member cannot be marked a false positive")
		}
		s.SetRole(itemID, model.RoleFalsePositive)
		return e.Store.SaveStack(ctx, s)
	})
}

// Reset clears the workspace's checked flags, counters, edges, and stacks,
// forcing full recomputation on the next run.
func (e *Engine) Reset(ctx context.Context, workspaceID string) error {
	return e.Runner.WithWorkspace(workspaceID, func() error {
		return e.Store.ResetWorkspace(ctx, workspaceID)
	})
}

// Progress returns the per-phase operation records of a workspace. Phases
// that never ran are omitted.
func (e *Engine) Progress(ctx context.Context, workspaceID string) ([]*model.Operation, error) {
	var ops []*model.Operation
	for _, phase := range []model.Phase{model.PhaseInstall, model.PhaseResolve, model.PhaseMerge} {
		op, err := e.Store.GetOperation(ctx, workspaceID, phase)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	return ops, nil
}

func (e *Engine) failOperation(ctx context.Context, workspaceID string, phase model.Phase, cause error) {
	op, err := e.Store.GetOperation(ctx, workspaceID, phase)
	if err != nil {
		op = &model.Operation{WorkspaceID: workspaceID, Phase: phase}
	}
	op.Status = model.StatusError
	op.Error = cause.Error()
	if err := e.Store.SaveOperation(ctx, op); err != nil {
		log.Printf("failed to record %s operation error for %s: %v", phase, workspaceID, err)
	}
}
