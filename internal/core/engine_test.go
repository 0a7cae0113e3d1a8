package core

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenthands/dedupstack/internal/config"
	"github.com/agenthands/dedupstack/internal/core/model"
	"github.com/agenthands/dedupstack/internal/source"
	"github.com/agenthands/dedupstack/internal/store"
	"github.com/agenthands/dedupstack/internal/task"
)

type recordingAbsorber struct {
	err      error
	absorbed [][2]string
}

func (a *recordingAbsorber) Absorb(ctx context.Context, primary, secondary string) error {
	if a.err != nil {
		return a.err
	}
	a.absorbed = append(a.absorbed, [2]string{primary, secondary})
	return nil
}

type fixture struct {
	engine   *Engine
	store    *store.MemoryStore
	runner   *task.Runner
	absorber *recordingAbsorber
	ingestor *source.Ingestor
}

func newFixture(t *testing.T, cfg *config.Config) *fixture {
	t.Helper()
	s := store.NewMemoryStore()
	absorber := &recordingAbsorber{}
	runner := task.NewRunner(2, 2, time.Millisecond, time.Minute)
	runner.Start(context.Background())
	t.Cleanup(runner.Stop)

	return &fixture{
		engine:   NewEngine(s, runner, cfg, absorber),
		store:    s,
		runner:   runner,
		absorber: absorber,
		ingestor: source.NewIngestor(s, cfg),
	}
}

func ingestContacts(t *testing.T, f *fixture, records []*source.Record) {
	t.Helper()
	_, err := f.ingestor.Ingest(context.Background(), "ws", model.ItemTypeContact, records)
	require.NoError(t, err)
}

func operationStatus(t *testing.T, f *fixture, phase model.Phase) model.OperationStatus {
	t.Helper()
	op, err := f.store.GetOperation(context.Background(), "ws", phase)
	require.NoError(t, err)
	return op.Status
}

// Install drives comparison to completion and hands off to resolution; the
// duplicates end up in one stack with the richer item as reference.
func TestInstallResolvesIntoStacks(t *testing.T) {
	cfg := config.Default()
	cfg.Engine.BatchSize = 2 // force multiple batches and cross tasks
	f := newFixture(t, cfg)

	ingestContacts(t, f, []*source.Record{
		{RemoteID: "r-1", Fields: map[string][]string{
			"emails": {"ada@acme.com"}, "fullname": {"Ada Lovelace"}, "phones": {"+441"},
		}},
		{RemoteID: "r-2", Fields: map[string][]string{
			"emails": {"ada@acme.com"}, "fullname": {"Ada Lovelace"},
		}},
		{RemoteID: "r-3", Fields: map[string][]string{
			"emails": {"grace@navy.mil"}, "fullname": {"Grace Hopper"},
		}},
		{RemoteID: "r-4", Fields: map[string][]string{
			"emails": {"alan@bletchley.uk"}, "fullname": {"Alan Turing"},
		}},
	})

	require.NoError(t, f.engine.StartInstall(context.Background(), "ws"))
	f.runner.Drain()

	assert.Equal(t, model.StatusDone, operationStatus(t, f, model.PhaseInstall))
	assert.Equal(t, model.StatusDone, operationStatus(t, f, model.PhaseResolve))

	stacks, err := f.store.ListStacks(context.Background(), "ws")
	require.NoError(t, err)
	require.Len(t, stacks, 1)

	st := stacks[0]
	require.NoError(t, st.Validate())
	ref, ok := st.Reference()
	require.True(t, ok)

	refItem, err := f.store.GetItem(context.Background(), "ws", ref)
	require.NoError(t, err)
	assert.Equal(t, "r-1", refItem.RemoteID) // three populated fields beats two
}

// A second install over an already-processed workspace finds no unchecked
// items and completes immediately.
func TestInstallIsIncremental(t *testing.T) {
	f := newFixture(t, config.Default())

	ingestContacts(t, f, []*source.Record{
		{RemoteID: "r-1", Fields: map[string][]string{"emails": {"a@x.com"}}},
		{RemoteID: "r-2", Fields: map[string][]string{"emails": {"b@y.com"}}},
	})

	require.NoError(t, f.engine.StartInstall(context.Background(), "ws"))
	f.runner.Drain()
	require.Equal(t, model.StatusDone, operationStatus(t, f, model.PhaseInstall))

	require.NoError(t, f.engine.StartInstall(context.Background(), "ws"))
	f.runner.Drain()
	assert.Equal(t, model.StatusDone, operationStatus(t, f, model.PhaseInstall))

	op, err := f.store.GetOperation(context.Background(), "ws", model.PhaseInstall)
	require.NoError(t, err)
	// Only the per-type fast grouping passes remain; no comparison batches.
	assert.Equal(t, op.Total, op.Done)
}

// A record whose fields change between passes must move between stacks, not
// accumulate memberships: every item sits in at most one active stack.
func TestReingestChangeKeepsSingleStackMembership(t *testing.T) {
	f := newFixture(t, config.Default())
	ctx := context.Background()

	ingestContacts(t, f, []*source.Record{
		{RemoteID: "r-1", Fields: map[string][]string{"emails": {"ada@acme.com"}, "fullname": {"Ada Lovelace"}}},
		{RemoteID: "r-2", Fields: map[string][]string{"emails": {"ada@acme.com"}, "fullname": {"Ada Lovelace"}}},
	})
	require.NoError(t, f.engine.StartInstall(ctx, "ws"))
	f.runner.Drain()

	stacks, err := f.store.ListStacks(ctx, "ws")
	require.NoError(t, err)
	require.Len(t, stacks, 1)

	// r-2 turns out to be a different person, and a matching record for that
	// person arrives in the same sync.
	ingestContacts(t, f, []*source.Record{
		{RemoteID: "r-2", Fields: map[string][]string{"emails": {"grace@navy.mil"}, "fullname": {"Grace Hopper"}}},
		{RemoteID: "r-3", Fields: map[string][]string{"emails": {"grace@navy.mil"}, "fullname": {"Grace Hopper"}}},
	})
	require.NoError(t, f.engine.StartInstall(ctx, "ws"))
	f.runner.Drain()

	stacks, err = f.store.ListStacks(ctx, "ws")
	require.NoError(t, err)
	seen := map[string]string{}
	for _, st := range stacks {
		require.NoError(t, st.Validate())
		for _, m := range st.Members {
			prev, twice := seen[m.ItemID]
			require.False(t, twice, "item %s is in stacks %s and %s", m.ItemID, prev, st.UUID)
			seen[m.ItemID] = st.UUID
		}
	}

	// The old pair dissolved; only the new pair is stacked.
	require.Len(t, stacks, 1)
	r2, err := f.store.GetItemByRemoteID(ctx, "ws", model.ItemTypeContact, "r-2")
	require.NoError(t, err)
	r3, err := f.store.GetItemByRemoteID(ctx, "ws", model.ItemTypeContact, "r-3")
	require.NoError(t, err)
	_, ok := stacks[0].RoleOf(r2.UUID)
	assert.True(t, ok)
	_, ok = stacks[0].RoleOf(r3.UUID)
	assert.True(t, ok)
}

func TestMergeAllAbsorbsConfidentMembers(t *testing.T) {
	f := newFixture(t, config.Default())

	ingestContacts(t, f, []*source.Record{
		{RemoteID: "r-1", Fields: map[string][]string{"phones": {"+441"}, "emails": {"a@x.com"}}},
		{RemoteID: "r-2", Fields: map[string][]string{"phones": {"+441"}, "emails": {"a@x.com"}}},
	})

	require.NoError(t, f.engine.StartInstall(context.Background(), "ws"))
	f.runner.Drain()

	results, err := f.engine.MergeAll(context.Background(), "ws", false)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Len(t, f.absorber.absorbed, 1)
	assert.Equal(t, "r-1", f.absorber.absorbed[0][0])
	assert.Equal(t, "r-2", f.absorber.absorbed[0][1])
	assert.Equal(t, model.StatusDone, operationStatus(t, f, model.PhaseMerge))
}

func TestMarkFalsePositiveExcludesFromMerge(t *testing.T) {
	f := newFixture(t, config.Default())

	ingestContacts(t, f, []*source.Record{
		{RemoteID: "r-1", Fields: map[string][]string{"phones": {"+441"}, "emails": {"a@x.com"}}},
		{RemoteID: "r-2", Fields: map[string][]string{"phones": {"+441"}, "emails": {"a@x.com"}}},
	})

	require.NoError(t, f.engine.StartInstall(context.Background(), "ws"))
	f.runner.Drain()

	stacks, err := f.store.ListStacks(context.Background(), "ws")
	require.NoError(t, err)
	require.Len(t, stacks, 1)
	st := stacks[0]
	dups := st.WithRole(model.RoleConfident)
	require.Len(t, dups, 1)

	require.NoError(t, f.engine.MarkFalsePositive(context.Background(), "ws", st.UUID, dups[0]))

	// The reference cannot be re-tagged.
	ref, _ := st.Reference()
	assert.Error(t, f.engine.MarkFalsePositive(context.Background(), "ws", st.UUID, ref))

	results, err := f.engine.MergeAll(context.Background(), "ws", true)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Empty(t, results[0].Merged)
	assert.Empty(t, f.absorber.absorbed)
}

func TestResetAllowsRecomputation(t *testing.T) {
	f := newFixture(t, config.Default())

	ingestContacts(t, f, []*source.Record{
		{RemoteID: "r-1", Fields: map[string][]string{"phones": {"+441"}, "emails": {"a@x.com"}}},
		{RemoteID: "r-2", Fields: map[string][]string{"phones": {"+441"}, "emails": {"a@x.com"}}},
	})

	require.NoError(t, f.engine.StartInstall(context.Background(), "ws"))
	f.runner.Drain()

	stacks, err := f.store.ListStacks(context.Background(), "ws")
	require.NoError(t, err)
	require.Len(t, stacks, 1)

	require.NoError(t, f.engine.Reset(context.Background(), "ws"))

	ops, err := f.engine.Progress(context.Background(), "ws")
	require.NoError(t, err)
	assert.Empty(t, ops)

	require.NoError(t, f.engine.StartInstall(context.Background(), "ws"))
	f.runner.Drain()

	stacks, err = f.store.ListStacks(context.Background(), "ws")
	require.NoError(t, err)
	assert.Len(t, stacks, 1)
}

// The free-tier cap truncates the population deterministically; the run
// still completes instead of erroring.
func TestInstallFreeTierCap(t *testing.T) {
	cfg := config.Default()
	cfg.Engine.BatchSize = 5
	cfg.Engine.FreeTierSelfBatches = 1
	f := newFixture(t, cfg)

	var records []*source.Record
	for i := 0; i < 12; i++ {
		records = append(records, &source.Record{
			RemoteID: fmt.Sprintf("r-%02d", i),
			Fields:   map[string][]string{"emails": {fmt.Sprintf("u%02d@x.com", i)}},
		})
	}
	ingestContacts(t, f, records)

	require.NoError(t, f.engine.StartInstall(context.Background(), "ws"))
	f.runner.Drain()

	assert.Equal(t, model.StatusDone, operationStatus(t, f, model.PhaseInstall))

	unchecked, err := f.store.UncheckedPage(context.Background(), "ws", model.ItemTypeContact, "", 100)
	require.NoError(t, err)
	assert.Empty(t, unchecked)
}

// A terminally failing comparison task rolls its batch back and surfaces the
// operation as ERROR.
func TestInstallTaskFailureRollsBack(t *testing.T) {
	cfg := config.Default()
	f := newFixture(t, cfg)

	ingestContacts(t, f, []*source.Record{
		{RemoteID: "r-1", Fields: map[string][]string{"emails": {"a@x.com"}}},
		{RemoteID: "r-2", Fields: map[string][]string{"emails": {"b@y.com"}}},
	})

	// Simulate terminal failure by enqueueing a comparison task directly
	// with a Run that always fails.
	boom := errors.New("boom")
	tasks, _, err := f.engine.Scheduler.ScheduleNext(context.Background(), "ws", model.ItemTypeContact, 0)
	require.NoError(t, err)
	require.Len(t, tasks, 1)

	_, err = f.store.IncrementProgress(context.Background(), "ws", model.PhaseInstall, 0, 1)
	require.NoError(t, err)
	f.engine.enqueueComparison("ws", "compare-batch", tasks[0], func(ctx context.Context) error {
		return boom
	})
	f.runner.Drain()

	assert.Equal(t, model.StatusError, operationStatus(t, f, model.PhaseInstall))

	unchecked, err := f.store.UncheckedPage(context.Background(), "ws", model.ItemTypeContact, "", 100)
	require.NoError(t, err)
	assert.Len(t, unchecked, 2)
}
