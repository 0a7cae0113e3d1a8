package merge

import (
	"context"
	"errors"
	"fmt"
	"log"

	"golang.org/x/time/rate"

	"github.com/agenthands/dedupstack/internal/core/model"
	"github.com/agenthands/dedupstack/internal/crm"
	"github.com/agenthands/dedupstack/internal/store"
)

// ErrIntegrity marks data-integrity failures: the stack references items the
// store no longer agrees about. Such operations surface as ERROR and are
// never silently patched.
var ErrIntegrity = errors.New("dup-stack integrity violation")

// Result reports one stack's merge sweep. Per-member failures are partial
// success, not an operation error: a failed member keeps its membership so
// it stays visible as an unresolved duplicate.
type Result struct {
	StackID      string            `json:"stack_id"`
	Merged       []string          `json:"merged,omitempty"`
	Failed       map[string]string `json:"failed,omitempty"`
	StackDeleted bool              `json:"stack_deleted"`
}

// Executor retires the duplicates of a resolved dup-stack: the external CRM
// absorbs each member into the reference, the member item is soft-retired,
// and its edges are garbage-collected. Members are processed independently,
// best-effort; nothing is transactional across members.
type Executor struct {
	Store   store.Store
	CRM     crm.Absorber
	Limiter *rate.Limiter
}

func NewExecutor(s store.Store, absorber crm.Absorber, requestsPerSecond float64) *Executor {
	if requestsPerSecond <= 0 {
		requestsPerSecond = 10
	}
	return &Executor{
		Store:   s,
		CRM:     absorber,
		Limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), 1),
	}
}

// MergeStack merges the stack's CONFIDENT members (and POTENTIAL members if
// includePotential) into the reference. FALSE_POSITIVE members and any
// POTENTIAL members not opted in stay behind as residue; with no residue the
// emptied stack is deleted.
func (e *Executor) MergeStack(ctx context.Context, workspaceID, stackID string, includePotential bool) (*Result, error) {
	s, err := e.Store.GetStack(ctx, workspaceID, stackID)
	if err != nil {
		return nil, err
	}

	refID, ok := s.Reference()
	if !ok {
		return nil, fmt.Errorf("%w: stack %s has no reference member", ErrIntegrity, stackID)
	}
	ref, err := e.Store.GetItem(ctx, workspaceID, refID)
	if err != nil {
		return nil, fmt.Errorf("%w: reference item %s of stack %s: %v", ErrIntegrity, refID, stackID, err)
	}
	if ref.Merged() {
		return nil, fmt.Errorf("%w: reference item %s of stack %s was already merged into %s", ErrIntegrity, refID, stackID, ref.MergedInto)
	}

	toMerge := s.WithRole(model.RoleConfident)
	if includePotential {
		toMerge = append(toMerge, s.WithRole(model.RolePotential)...)
	}

	result := &Result{StackID: stackID, Failed: map[string]string{}}
	for _, memberID := range toMerge {
		if err := e.mergeMember(ctx, s, ref, memberID); err != nil {
			log.Printf("merge: member %s of stack %s failed: %v", memberID, stackID, err)
			result.Failed[memberID] = err.Error()
			continue
		}
		result.Merged = append(result.Merged, memberID)
	}

	// Residue = anything left besides the reference.
	if len(s.Members) <= 1 {
		if err := e.Store.DeleteStack(ctx, workspaceID, stackID); err != nil {
			return result, err
		}
		result.StackDeleted = true
	} else if err := e.Store.SaveStack(ctx, s); err != nil {
		return result, err
	}

	return result, nil
}

func (e *Executor) mergeMember(ctx context.Context, s *model.DupStack, ref *model.Item, memberID string) error {
	member, err := e.Store.GetItem(ctx, s.WorkspaceID, memberID)
	if err != nil {
		return fmt.Errorf("%w: member item %s: %v", ErrIntegrity, memberID, err)
	}
	if member.Merged() {
		// Retried sweep; the remote merge already happened. Finish cleanup.
		return e.retireMember(ctx, s, memberID)
	}

	if err := e.Limiter.Wait(ctx); err != nil {
		return err
	}
	if err := e.CRM.Absorb(ctx, ref.RemoteID, member.RemoteID); err != nil {
		// Fail closed: the member stays un-merged and keeps its membership
		// for manual resolution.
		return err
	}

	if err := e.Store.MarkMerged(ctx, s.WorkspaceID, memberID, ref.RemoteID); err != nil {
		return err
	}
	return e.retireMember(ctx, s, memberID)
}

func (e *Executor) retireMember(ctx context.Context, s *model.DupStack, memberID string) error {
	if err := e.Store.DeleteEdgesForItem(ctx, s.WorkspaceID, memberID); err != nil {
		return err
	}
	s.Remove(memberID)
	return nil
}

// MergeAll sweeps every resolved stack in the workspace. Per-stack failures
// are logged and skipped; one bad stack never blocks its siblings.
func (e *Executor) MergeAll(ctx context.Context, workspaceID string, includePotential bool) ([]*Result, error) {
	stacks, err := e.Store.ListStacks(ctx, workspaceID)
	if err != nil {
		return nil, err
	}

	if _, err := e.Store.IncrementProgress(ctx, workspaceID, model.PhaseMerge, 0, len(stacks)); err != nil {
		return nil, err
	}

	var results []*Result
	for _, s := range stacks {
		res, err := e.MergeStack(ctx, workspaceID, s.UUID, includePotential)
		if err != nil {
			log.Printf("merge: stack %s failed, continuing sweep: %v", s.UUID, err)
		}
		if res != nil {
			results = append(results, res)
		}
		if _, err := e.Store.IncrementProgress(ctx, workspaceID, model.PhaseMerge, 1, 0); err != nil {
			return results, err
		}
	}
	return results, nil
}
