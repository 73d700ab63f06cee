// Package cascade implements cascading deletes driven by relation metadata.
//
// A Trigger is attached to the pre-delete point of a model. Before the
// parent rows are removed it retrieves every instance the delete matches and,
// for each instance, invokes the handler registered for the type of every
// relation that is enabled for cascading. The parent delete may only proceed
// when Handle returns nil.
package cascade

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Finder executes a retrieval against the storage of a model.
type Finder interface {
	Find(ctx context.Context, m *Model, q Query) ([]Instance, error)
}

// FinderFunc adapts an ordinary function to Finder.
type FinderFunc func(ctx context.Context, m *Model, q Query) ([]Instance, error)

// Find calls f(ctx, m, q).
func (f FinderFunc) Find(ctx context.Context, m *Model, q Query) ([]Instance, error) {
	return f(ctx, m, q)
}

// Trigger runs the cascade for a delete.
type Trigger struct {
	config   *Config
	handlers *Registry
	logger   *zap.Logger
	metrics  *Metrics
}

// Option configures a Trigger.
type Option func(*Trigger)

// WithConfig sets the trigger configuration. A nil config keeps the default.
func WithConfig(cfg *Config) Option {
	return func(t *Trigger) {
		if cfg != nil {
			t.config = cfg
		}
	}
}

// WithLogger sets the logger used for skip and failure reports.
func WithLogger(l *zap.Logger) Option {
	return func(t *Trigger) {
		if l != nil {
			t.logger = l
		}
	}
}

// WithMetrics shares a metrics collector between triggers.
func WithMetrics(m *Metrics) Option {
	return func(t *Trigger) {
		if m != nil {
			t.metrics = m
		}
	}
}

// NewTrigger creates a trigger dispatching to handlers.
func NewTrigger(handlers *Registry, opts ...Option) *Trigger {
	if handlers == nil {
		handlers = NewRegistry(nil)
	}
	t := &Trigger{
		config:   DefaultConfig(),
		handlers: handlers,
		logger:   zap.NewNop(),
		metrics:  NewMetrics(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Handlers returns the handler table of the trigger.
func (t *Trigger) Handlers() *Registry {
	return t.handlers
}

// Metrics returns the trigger's metrics collector.
func (t *Trigger) Metrics() *Metrics {
	return t.metrics
}

// Handle cascades the delete described by dc over model m.
//
// A retrieval error is returned as is and no handler runs. Otherwise every
// eligible (instance, relation) pair with a registered handler is attempted,
// with no ordering guarantee, and the first handler error is returned.
func (t *Trigger) Handle(ctx context.Context, m *Model, finder Finder, dc *DeleteContext) error {
	if m == nil {
		return ErrNilModel
	}
	if finder == nil {
		return ErrNilFinder
	}
	if dc == nil {
		dc = &DeleteContext{}
	}

	start := time.Now()
	err := t.handle(ctx, m, finder, dc)
	t.metrics.recordOperation(time.Since(start), err)
	return err
}

func (t *Trigger) handle(ctx context.Context, m *Model, finder Finder, dc *DeleteContext) error {
	log := t.logger.With(zap.String("model", m.Name))
	if id := dc.Request.requestID(); id != "" {
		log = log.With(zap.String("request_id", id))
	}

	start := time.Now()
	q := Query{Where: dc.Where, Args: dc.Args, Fields: projection(m)}
	instances, err := finder.Find(ctx, m, q)
	if err != nil {
		t.metrics.recordRetrievalFailure()
		log.Warn("cascade retrieval failed", zap.Error(err))
		return err
	}
	if len(instances) == 0 {
		return nil
	}

	ctx, visited := withVisited(ctx)
	names := relationNames(m)

	var g errgroup.Group
	g.SetLimit(t.config.groupLimit())
	for _, inst := range instances {
		if !visited.claim(m.TableName(), inst[m.PrimaryKeyColumn()]) {
			t.metrics.recordRevisit()
			continue
		}
		t.metrics.recordInstance()
		g.Go(func() error {
			return t.cascadeInstance(ctx, log, m, dc, inst, names)
		})
	}
	err = g.Wait()

	log.Debug("cascade finished",
		zap.Int("instances", len(instances)),
		zap.Duration("elapsed", time.Since(start)),
		zap.Error(err),
	)
	return err
}

func (t *Trigger) cascadeInstance(ctx context.Context, log *zap.Logger, m *Model, dc *DeleteContext, inst Instance, names []string) error {
	var g errgroup.Group
	g.SetLimit(t.config.groupLimit())

	for _, name := range names {
		rel := m.Relations[name]

		if !IsEligible(m, name, t.config.OptionKey) {
			t.metrics.recordIneligible()
			if t.config.LogSkips {
				log.Debug("relation not enabled for cascade", zap.String("relation", name))
			}
			continue
		}

		h, ok := t.handlers.Lookup(rel.Type)
		if !ok {
			t.metrics.recordNoHandler()
			if t.config.LogSkips {
				log.Debug("no delete handler for relation type",
					zap.String("relation", name),
					zap.String("type", string(rel.Type)),
				)
			}
			continue
		}

		g.Go(func() error {
			err := h(ctx, dc, inst, rel, name)
			t.metrics.recordHandler(err)
			if err != nil {
				log.Warn("cascade handler failed",
					zap.String("relation", name),
					zap.String("type", string(rel.Type)),
					zap.Any("key", inst[m.KeyFrom(rel)]),
					zap.Error(err),
				)
			}
			return err
		})
	}

	return g.Wait()
}

// Decision is the outcome of the cascade checks for one relation.
type Decision struct {
	Relation   string
	Type       RelationType
	Target     string
	Eligible   bool
	HasHandler bool
}

// Cascades reports whether the relation would be handed to a handler.
func (d Decision) Cascades() bool {
	return d.Eligible && d.HasHandler
}

// Plan returns the cascade decision for every relation of m, sorted by
// relation name. It does not touch storage.
func (t *Trigger) Plan(m *Model) []Decision {
	if m == nil {
		return nil
	}
	names := relationNames(m)
	out := make([]Decision, 0, len(names))
	for _, name := range names {
		rel := m.Relations[name]
		_, ok := t.handlers.Lookup(rel.Type)
		out = append(out, Decision{
			Relation:   name,
			Type:       rel.Type,
			Target:     rel.Target,
			Eligible:   IsEligible(m, name, t.config.OptionKey),
			HasHandler: ok,
		})
	}
	return out
}

func relationNames(m *Model) []string {
	names := make([]string, 0, len(m.Relations))
	for name := range m.Relations {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// visitSet records the instances already cascaded within one logical delete.
type visitSet struct {
	seen sync.Map
}

type visitKey struct{}

// withVisited returns ctx carrying a visit set, reusing the one of an
// enclosing cascade when there is one.
func withVisited(ctx context.Context) (context.Context, *visitSet) {
	if vs, ok := ctx.Value(visitKey{}).(*visitSet); ok {
		return ctx, vs
	}
	vs := &visitSet{}
	return context.WithValue(ctx, visitKey{}, vs), vs
}

// claim marks (table, key) visited. It returns false when it already was.
// Instances without a key are always visited.
func (v *visitSet) claim(table string, key any) bool {
	if key == nil {
		return true
	}
	_, loaded := v.seen.LoadOrStore(fmt.Sprintf("%s:%v", table, key), struct{}{})
	return !loaded
}
