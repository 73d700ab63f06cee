package repository

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/schema"

	"github.com/ammar0144/cascade4go/pkg/cascade"
	"github.com/ammar0144/cascade4go/pkg/redis"
)

const (
	pluginName        = "cascade4go:cascade"
	callbackName      = "cascade:before_delete"
	afterCallbackName = "cascade:after_delete"
	flushKey          = "cascade:flush_invalidation"
)

// Cascade is a GORM plugin that runs the cascade before every delete of a
// registered model. Handler failures are added to the statement, so the
// parent rows are not deleted and the surrounding transaction rolls back.
//
// All statements of one delete share its transaction, which cannot be used
// concurrently; the plugin therefore always cascades sequentially.
type Cascade struct {
	config  cascade.Config
	logger  *zap.Logger
	metrics *cascade.Metrics

	cache          *redis.Manager
	cacheNamespace string

	mu       sync.RWMutex
	models   map[string]*registeredModel
	handlers map[cascade.RelationType]GormHandler
}

type registeredModel struct {
	model *cascade.Model
	// newValue returns a pointer to a fresh value of the GORM model, nil for
	// models known only from a schema file
	newValue func() any
}

// CascadeOption configures the plugin
type CascadeOption func(*Cascade)

// WithCascadeConfig sets the trigger configuration
func WithCascadeConfig(cfg *cascade.Config) CascadeOption {
	return func(p *Cascade) {
		if cfg != nil {
			p.config = *cfg
		}
	}
}

// WithCascadeLogger sets the logger
func WithCascadeLogger(l *zap.Logger) CascadeOption {
	return func(p *Cascade) {
		if l != nil {
			p.logger = l.Named("cascade")
		}
	}
}

// WithCascadeCache invalidates the cached reads of every table a cascade
// deletes from
func WithCascadeCache(m *redis.Manager, namespace string) CascadeOption {
	return func(p *Cascade) {
		p.cache = m
		p.cacheNamespace = namespace
	}
}

// WithCascadeHandler registers h for relation type t, replacing the
// built-in one. A nil h removes the handler.
func WithCascadeHandler(t cascade.RelationType, h GormHandler) CascadeOption {
	return func(p *Cascade) {
		p.setHandler(t, h)
	}
}

// NewCascade creates the plugin with the default handlers
func NewCascade(opts ...CascadeOption) *Cascade {
	p := &Cascade{
		config:   *cascade.DefaultConfig(),
		logger:   zap.NewNop(),
		metrics:  cascade.NewMetrics(),
		models:   make(map[string]*registeredModel),
		handlers: DefaultHandlers(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.config.Concurrency = 1
	return p
}

// Name implements gorm.Plugin
func (p *Cascade) Name() string {
	return pluginName
}

// installedCascade returns the cascade plugin installed on db, if any.
func installedCascade(db *gorm.DB) (*Cascade, bool) {
	if db == nil || db.Config == nil {
		return nil, false
	}
	p, ok := db.Config.Plugins[pluginName].(*Cascade)
	return p, ok
}

// Initialize implements gorm.Plugin
func (p *Cascade) Initialize(db *gorm.DB) error {
	if err := db.Callback().Delete().Before("gorm:delete").Register(callbackName, p.beforeDelete); err != nil {
		return err
	}
	return db.Callback().Delete().After("gorm:commit_or_rollback_transaction").Register(afterCallbackName, p.afterDelete)
}

// Register describes GORM models and registers them.
func (p *Cascade) Register(db *gorm.DB, values ...any) error {
	for _, v := range values {
		m, err := Describe(db, v)
		if err != nil {
			return err
		}
		typ := reflect.Indirect(reflect.ValueOf(v)).Type()
		p.add(m, func() any { return reflect.New(typ).Interface() })
	}
	return nil
}

// RegisterModel registers models described elsewhere, e.g. in a schema file.
// A model replaces the metadata of an earlier registration of its table.
func (p *Cascade) RegisterModel(models ...*cascade.Model) error {
	for _, m := range models {
		if m == nil {
			return cascade.ErrNilModel
		}
		if m.TableName() == "" {
			return fmt.Errorf("%w: model without name or table", cascade.ErrInvalidSchema)
		}
		for name, rel := range m.Relations {
			if _, err := cascade.ParseRelationType(string(rel.Type)); err != nil {
				return fmt.Errorf("%s.%s: %w", m.Name, name, err)
			}
		}
		p.add(m, nil)
	}
	return nil
}

func (p *Cascade) add(m *cascade.Model, newValue func() any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if prev, ok := p.models[m.TableName()]; ok && newValue == nil {
		newValue = prev.newValue
	}
	p.models[m.TableName()] = &registeredModel{model: m, newValue: newValue}
}

// SetSettings replaces the model-level option overrides of table.
func (p *Cascade) SetSettings(table string, s cascade.Settings) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	rm, ok := p.models[table]
	if !ok {
		return fmt.Errorf("%w: %s", cascade.ErrModelNotRegistered, table)
	}
	m := *rm.model
	m.Settings = s
	p.models[table] = &registeredModel{model: &m, newValue: rm.newValue}
	return nil
}

// Model returns the registered model of table.
func (p *Cascade) Model(table string) (*cascade.Model, bool) {
	rm, ok := p.lookup(table)
	if !ok {
		return nil, false
	}
	return rm.model, true
}

// Models returns every registered model, sorted by table.
func (p *Cascade) Models() []*cascade.Model {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*cascade.Model, 0, len(p.models))
	for _, rm := range p.models {
		out = append(out, rm.model)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TableName() < out[j].TableName() })
	return out
}

// Plan reports how a delete of table would cascade, without touching storage.
func (p *Cascade) Plan(table string) ([]cascade.Decision, error) {
	rm, ok := p.lookup(table)
	if !ok {
		return nil, fmt.Errorf("%w: %s", cascade.ErrModelNotRegistered, table)
	}
	return p.trigger(nil, rm.model).Plan(rm.model), nil
}

// Metrics returns the cascade metrics shared by every delete.
func (p *Cascade) Metrics() *cascade.Metrics {
	return p.metrics
}

func (p *Cascade) setHandler(t cascade.RelationType, h GormHandler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if h == nil {
		delete(p.handlers, t)
		return
	}
	p.handlers[t] = h
}

func (p *Cascade) lookup(table string) (*registeredModel, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	rm, ok := p.models[table]
	return rm, ok
}

// trigger binds the handlers to the transaction of one delete.
func (p *Cascade) trigger(tx *gorm.DB, parent *cascade.Model) *cascade.Trigger {
	scope := &Scope{Tx: tx, Parent: parent, plugin: p}
	if tx != nil {
		scope.Unscoped = tx.Statement.Unscoped
	}

	p.mu.RLock()
	reg := cascade.NewRegistry(nil)
	for t, h := range p.handlers {
		reg.Register(t, func(ctx context.Context, dc *cascade.DeleteContext, inst cascade.Instance, rel cascade.Relation, name string) error {
			return h(ctx, scope, dc, inst, rel, name)
		})
	}
	p.mu.RUnlock()

	return cascade.NewTrigger(reg,
		cascade.WithConfig(&p.config),
		cascade.WithLogger(p.logger),
		cascade.WithMetrics(p.metrics),
	)
}

func (p *Cascade) beforeDelete(tx *gorm.DB) {
	stmt := tx.Statement
	if tx.Error != nil || stmt.SkipHooks || stmt.SQL.Len() > 0 {
		return
	}

	table := stmt.Table
	if table == "" && stmt.Schema != nil {
		table = stmt.Schema.Table
	}
	rm, ok := p.lookup(table)
	if !ok {
		return
	}

	where, ok := deleteConditions(stmt)
	if !ok && !tx.AllowGlobalUpdate {
		// gorm:delete rejects it
		return
	}

	ctx, flush := p.DeferInvalidation(stmt.Context)
	tx.InstanceSet(flushKey, flush)

	dc := &cascade.DeleteContext{Where: where, Request: cascade.RequestFrom(ctx)}
	finder := &gormFinder{tx: tx, plugin: p, unscoped: stmt.Unscoped}
	if err := p.trigger(tx, rm.model).Handle(ctx, rm.model, finder, dc); err != nil {
		_ = tx.AddError(err)
		return
	}
	p.invalidateLater(ctx, table)
}

// afterDelete drops the caches of the cascaded tables once the statement's
// own transaction has committed. Inside a caller's transaction the flush
// belongs to whoever deferred the invalidation first.
func (p *Cascade) afterDelete(tx *gorm.DB) {
	v, ok := tx.InstanceGet(flushKey)
	if !ok {
		return
	}
	flush, ok := v.(func(context.Context))
	if !ok || tx.Error != nil {
		return
	}
	flush(tx.Statement.Context)
}

// deleteConditions collects the WHERE expressions of a delete statement,
// including the primary keys of the value being deleted.
func deleteConditions(stmt *gorm.Statement) (clause.Where, bool) {
	var where clause.Where
	if c, ok := stmt.Clauses["WHERE"]; ok {
		if w, ok := c.Expression.(clause.Where); ok {
			where.Exprs = append(where.Exprs, w.Exprs...)
		}
	}

	if stmt.Schema != nil && stmt.ReflectValue.IsValid() {
		_, values := schema.GetIdentityFieldValuesMap(stmt.Context, stmt.ReflectValue, stmt.Schema.PrimaryFields)
		column, vals := schema.ToQueryValues(stmt.Table, stmt.Schema.PrimaryFieldDBNames, values)
		if len(vals) > 0 {
			where.Exprs = append(where.Exprs, clause.IN{Column: column, Values: vals})
		}
	}
	return where, len(where.Exprs) > 0
}

// pendingTables collects the tables one logical delete removed rows from.
type pendingTables struct {
	mu     sync.Mutex
	tables []string
}

type pendingKey struct{}

func (pt *pendingTables) add(table string) {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	for _, t := range pt.tables {
		if t == table {
			return
		}
	}
	pt.tables = append(pt.tables, table)
}

func (pt *pendingTables) drain() []string {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	tables := pt.tables
	pt.tables = nil
	return tables
}

// DeferInvalidation returns ctx collecting the tables cascades delete from
// and a flush func dropping their caches. Call flush after the transaction
// running the deletes has committed, and not at all when it rolled back.
// When ctx already defers invalidation, flush is a no-op and the outer
// owner flushes.
func (p *Cascade) DeferInvalidation(ctx context.Context) (context.Context, func(context.Context)) {
	if _, ok := ctx.Value(pendingKey{}).(*pendingTables); ok {
		return ctx, func(context.Context) {}
	}
	pt := &pendingTables{}
	return context.WithValue(ctx, pendingKey{}, pt), func(ctx context.Context) {
		for _, table := range pt.drain() {
			p.invalidate(ctx, table)
		}
	}
}

// invalidateLater records table for the pending flush of ctx, or
// invalidates it right away when nothing defers invalidation.
func (p *Cascade) invalidateLater(ctx context.Context, table string) {
	if p.cache == nil {
		return
	}
	if pt, ok := ctx.Value(pendingKey{}).(*pendingTables); ok {
		pt.add(table)
		return
	}
	p.invalidate(ctx, table)
}

func (p *Cascade) invalidate(ctx context.Context, table string) {
	if p.cache == nil {
		return
	}
	if err := p.cache.InvalidateTable(ctx, p.cacheNamespace, table); err != nil && !redis.IsCacheDisabled(err) {
		p.logger.Warn("cache invalidation failed", zap.String("table", table), zap.Error(err))
	}
}
