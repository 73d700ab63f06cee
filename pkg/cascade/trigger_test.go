package cascade

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type call struct {
	Relation string
	ID       any
}

// recorder collects handler invocations from concurrent goroutines.
type recorder struct {
	mu    sync.Mutex
	calls []call
	err   map[string]error
}

func (r *recorder) handler(ctx context.Context, dc *DeleteContext, inst Instance, rel Relation, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call{Relation: name, ID: inst["id"]})
	return r.err[name]
}

func (r *recorder) sorted() []call {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := append([]call(nil), r.calls...)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Relation != out[j].Relation {
			return out[i].Relation < out[j].Relation
		}
		return out[i].ID.(int) < out[j].ID.(int)
	})
	return out
}

func (r *recorder) count(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.calls {
		if c.Relation == name {
			n++
		}
	}
	return n
}

func staticFinder(rows ...Instance) (Finder, *[]Query) {
	var queries []Query
	var mu sync.Mutex
	return FinderFunc(func(_ context.Context, _ *Model, q Query) ([]Instance, error) {
		mu.Lock()
		queries = append(queries, q)
		mu.Unlock()
		return rows, nil
	}), &queries
}

func parentModel() *Model {
	return &Model{
		Name:  "Parent",
		Table: "parents",
		Fields: map[string]Field{
			"id":      {Name: "id"},
			"ownerId": {Name: "ownerId"},
			"name":    {Name: "name"},
		},
		Relations: map[string]Relation{
			"children": {Type: HasMany, Target: "children", ForeignKey: "parentId", Options: map[string]any{DefaultOptionKey: true}},
			"owner":    {Type: BelongsTo, Target: "owners", ForeignKey: "ownerId"},
		},
	}
}

func TestTrigger_CascadesEligibleRelationPerInstance(t *testing.T) {
	rec := &recorder{}
	reg := NewRegistry(map[RelationType]Handler{HasMany: rec.handler, BelongsTo: rec.handler})
	finder, queries := staticFinder(Instance{"id": 1, "ownerId": 7}, Instance{"id": 2, "ownerId": 7})

	trig := NewTrigger(reg)
	where := map[string]any{"name": "x"}
	err := trig.Handle(context.Background(), parentModel(), finder, &DeleteContext{Where: where})
	require.NoError(t, err)

	assert.Equal(t, []call{{"children", 1}, {"children", 2}}, rec.sorted())
	assert.Equal(t, 0, rec.count("owner"))

	require.Len(t, *queries, 1)
	assert.Equal(t, where, (*queries)[0].Where)
	assert.Equal(t, []string{"id", "ownerId"}, (*queries)[0].Fields)

	snap := trig.Metrics().GetSnapshot()
	assert.Equal(t, uint64(1), snap.Operations)
	assert.Equal(t, uint64(2), snap.InstancesVisited)
	assert.Equal(t, uint64(2), snap.HandlerCalls)
	assert.Equal(t, uint64(2), snap.SkippedIneligible)
}

func TestTrigger_RetrievalFailureRunsNoHandler(t *testing.T) {
	boom := errors.New("storage unavailable")
	rec := &recorder{}
	reg := NewRegistry(map[RelationType]Handler{HasMany: rec.handler})
	finder := FinderFunc(func(context.Context, *Model, Query) ([]Instance, error) {
		return nil, boom
	})

	trig := NewTrigger(reg)
	err := trig.Handle(context.Background(), parentModel(), finder, &DeleteContext{})
	assert.Same(t, boom, err, "retrieval error is surfaced unchanged")
	assert.Empty(t, rec.sorted())
	assert.Equal(t, uint64(1), trig.Metrics().GetSnapshot().RetrievalFailures)
}

func TestTrigger_HandlerFailureWins(t *testing.T) {
	boom := errors.New("cannot delete children")
	rec := &recorder{err: map[string]error{"children": boom}}
	reg := NewRegistry(map[RelationType]Handler{HasMany: rec.handler})
	finder, _ := staticFinder(Instance{"id": 1}, Instance{"id": 2}, Instance{"id": 3})

	trig := NewTrigger(reg)
	err := trig.Handle(context.Background(), parentModel(), finder, &DeleteContext{})
	assert.Same(t, boom, err)

	// no cancellation: every pair is still attempted
	assert.Equal(t, 3, rec.count("children"))
	snap := trig.Metrics().GetSnapshot()
	assert.Equal(t, uint64(3), snap.HandlerFailures)
	assert.Equal(t, uint64(1), snap.FailedOperations)
}

func TestTrigger_DisabledRelationInvokesNothing(t *testing.T) {
	m := parentModel()
	rel := m.Relations["children"]
	rel.Options = map[string]any{DefaultOptionKey: false}
	m.Relations["children"] = rel

	rec := &recorder{}
	reg := NewRegistry(map[RelationType]Handler{HasMany: rec.handler, BelongsTo: rec.handler})
	finder, _ := staticFinder(Instance{"id": 1}, Instance{"id": 2})

	require.NoError(t, NewTrigger(reg).Handle(context.Background(), m, finder, &DeleteContext{}))
	assert.Empty(t, rec.sorted())
}

func TestTrigger_UnknownRelationTypeSkipped(t *testing.T) {
	m := parentModel()
	m.Relations["gallery"] = Relation{Type: EmbedsMany, Options: map[string]any{DefaultOptionKey: true}}
	m.Relations["odd"] = Relation{Type: RelationType("polymorphicWhatever"), Options: map[string]any{DefaultOptionKey: true}}

	rec := &recorder{}
	reg := NewRegistry(map[RelationType]Handler{HasMany: rec.handler})
	finder, _ := staticFinder(Instance{"id": 1})

	trig := NewTrigger(reg)
	require.NoError(t, trig.Handle(context.Background(), m, finder, &DeleteContext{}))
	assert.Equal(t, []call{{"children", 1}}, rec.sorted())
	assert.Equal(t, uint64(2), trig.Metrics().GetSnapshot().SkippedNoHandler)
}

func TestTrigger_SettingsOverrideEnablesRelation(t *testing.T) {
	m := parentModel()
	m.Settings.Relations = map[string]map[string]any{"owner": {DefaultOptionKey: true}}

	rec := &recorder{}
	reg := NewRegistry(map[RelationType]Handler{HasMany: rec.handler, BelongsTo: rec.handler})
	finder, _ := staticFinder(Instance{"id": 1})

	require.NoError(t, NewTrigger(reg).Handle(context.Background(), m, finder, &DeleteContext{}))
	assert.Equal(t, []call{{"children", 1}, {"owner", 1}}, rec.sorted())
}

func TestTrigger_NoMatchesIsSuccess(t *testing.T) {
	rec := &recorder{}
	finder, _ := staticFinder()
	err := NewTrigger(NewRegistry(map[RelationType]Handler{HasMany: rec.handler})).
		Handle(context.Background(), parentModel(), finder, nil)
	require.NoError(t, err)
	assert.Empty(t, rec.sorted())
}

func TestTrigger_SetupErrors(t *testing.T) {
	trig := NewTrigger(nil)
	finder, _ := staticFinder()
	assert.ErrorIs(t, trig.Handle(context.Background(), nil, finder, nil), ErrNilModel)
	assert.ErrorIs(t, trig.Handle(context.Background(), parentModel(), nil, nil), ErrNilFinder)
}

func TestTrigger_PassesRequestAndContextToHandlers(t *testing.T) {
	req := NewRequest("bob")
	var got *Request
	var mu sync.Mutex
	reg := NewRegistry(map[RelationType]Handler{
		HasMany: func(ctx context.Context, dc *DeleteContext, inst Instance, rel Relation, name string) error {
			mu.Lock()
			defer mu.Unlock()
			got = dc.Request
			assert.Equal(t, "children", rel.Target)
			return nil
		},
	})
	finder, _ := staticFinder(Instance{"id": 1})

	require.NoError(t, NewTrigger(reg).Handle(context.Background(), parentModel(), finder, &DeleteContext{Request: req}))
	assert.Same(t, req, got)
}

func TestTrigger_ConcurrencyLimit(t *testing.T) {
	var inFlight, peak atomic.Int32
	reg := NewRegistry(map[RelationType]Handler{
		HasMany: func(context.Context, *DeleteContext, Instance, Relation, string) error {
			n := inFlight.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			inFlight.Add(-1)
			return nil
		},
	})
	rows := make([]Instance, 10)
	for i := range rows {
		rows[i] = Instance{"id": i + 1}
	}
	finder, _ := staticFinder(rows...)

	trig := NewTrigger(reg, WithConfig(&Config{OptionKey: DefaultOptionKey, Concurrency: 1}))
	require.NoError(t, trig.Handle(context.Background(), parentModel(), finder, &DeleteContext{}))
	assert.Equal(t, int32(1), peak.Load())
}

func TestTrigger_CycleGuard(t *testing.T) {
	// a node whose children relation points back at the same table
	m := &Model{
		Name:  "Node",
		Table: "nodes",
		Relations: map[string]Relation{
			"children": {Type: HasMany, Target: "nodes", Options: map[string]any{DefaultOptionKey: true}},
		},
	}
	finder, _ := staticFinder(Instance{"id": 1})

	var trig *Trigger
	var depth atomic.Int32
	reg := NewRegistry(map[RelationType]Handler{
		HasMany: func(ctx context.Context, dc *DeleteContext, inst Instance, rel Relation, name string) error {
			if depth.Add(1) > 5 {
				return errors.New("runaway recursion")
			}
			// deleting the child re-enters the trigger with the same row
			return trig.Handle(ctx, m, finder, dc)
		},
	})
	trig = NewTrigger(reg)

	require.NoError(t, trig.Handle(context.Background(), m, finder, &DeleteContext{}))
	assert.Equal(t, int32(1), depth.Load())
	assert.Equal(t, uint64(1), trig.Metrics().GetSnapshot().InstancesRevisit)
}

func TestTrigger_LogsFailures(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	boom := errors.New("nope")
	reg := NewRegistry(map[RelationType]Handler{
		HasMany: func(context.Context, *DeleteContext, Instance, Relation, string) error { return boom },
	})
	finder, _ := staticFinder(Instance{"id": 1})

	trig := NewTrigger(reg,
		WithLogger(zap.New(core)),
		WithConfig(&Config{OptionKey: DefaultOptionKey, Concurrency: 2, LogSkips: true}),
	)
	req := &Request{ID: "req-1"}
	require.ErrorIs(t, trig.Handle(context.Background(), parentModel(), finder, &DeleteContext{Request: req}), boom)

	failed := logs.FilterMessage("cascade handler failed").All()
	require.Len(t, failed, 1)
	assert.Equal(t, "req-1", failed[0].ContextMap()["request_id"])
	assert.Equal(t, "children", failed[0].ContextMap()["relation"])
	assert.Equal(t, 1, logs.FilterMessage("relation not enabled for cascade").Len())
}

func TestTrigger_Plan(t *testing.T) {
	m := parentModel()
	m.Relations["photos"] = Relation{Type: EmbedsMany, Options: map[string]any{DefaultOptionKey: "true"}}
	trig := NewTrigger(NewRegistry(map[RelationType]Handler{HasMany: noop}))

	plan := trig.Plan(m)
	require.Len(t, plan, 3)
	assert.Equal(t, Decision{Relation: "children", Type: HasMany, Target: "children", Eligible: true, HasHandler: true}, plan[0])
	assert.True(t, plan[0].Cascades())
	assert.False(t, plan[1].Cascades(), "owner is not eligible")
	assert.True(t, plan[2].Eligible)
	assert.False(t, plan[2].Cascades(), "photos has no handler")
	assert.Nil(t, trig.Plan(nil))
}

func TestConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 8, cfg.groupLimit())

	cfg.Concurrency = 0
	assert.Equal(t, -1, cfg.groupLimit())

	cfg.OptionKey = ""
	assert.Error(t, cfg.Validate())
}
