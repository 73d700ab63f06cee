package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/ammar0144/cascade4go/pkg/cascade"
	"github.com/ammar0144/cascade4go/pkg/db"
	"github.com/ammar0144/cascade4go/pkg/redis"
)

// GenericRepository provides CRUD operations with cache-first reads and
// cascading deletes
type GenericRepository[T Entity] struct {
	db        *gorm.DB
	dbManager *db.Manager
	redis     *redis.Manager
	cascade   *Cascade
	tableName string
	namespace string // cache key isolation per database
}

// RepositoryOption configures a GenericRepository
type RepositoryOption func(*repositoryOptions)

type repositoryOptions struct {
	redis   *redis.Manager
	cascade *Cascade
}

// WithCache enables cache-first reads through m
func WithCache(m *redis.Manager) RepositoryOption {
	return func(o *repositoryOptions) {
		o.redis = m
	}
}

// WithCascade registers the entity with the cascade plugin p. The plugin
// must be installed on the manager's connection.
func WithCascade(p *Cascade) RepositoryOption {
	return func(o *repositoryOptions) {
		o.cascade = p
	}
}

// NewGenericRepository creates a new generic repository
func NewGenericRepository[T Entity](dbManager *db.Manager, opts ...RepositoryOption) (*GenericRepository[T], error) {
	if dbManager == nil || dbManager.DB() == nil {
		return nil, fmt.Errorf("db manager cannot be nil")
	}

	o := &repositoryOptions{}
	for _, opt := range opts {
		opt(o)
	}

	var model T
	tableName := model.TableName()
	if tableName == "" {
		return nil, fmt.Errorf("entity type %T returned empty TableName()", model)
	}

	if o.cascade != nil {
		if err := o.cascade.Register(dbManager.DB(), new(T)); err != nil {
			return nil, fmt.Errorf("register %s for cascade: %w", tableName, err)
		}
	}

	return &GenericRepository[T]{
		db:        dbManager.DB(),
		dbManager: dbManager,
		redis:     o.redis,
		cascade:   o.cascade,
		tableName: tableName,
		namespace: dbManager.Config().CacheNamespace(),
	}, nil
}

// withQueryTimeout wraps a context with the configured query timeout
func (r *GenericRepository[T]) withQueryTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if cfg := r.dbManager.Config(); cfg != nil && cfg.QueryTimeout > 0 {
		return context.WithTimeout(ctx, cfg.QueryTimeout)
	}
	return ctx, func() {}
}

// ============================================================================
// READ OPERATIONS - Cache-First Implementation
// ============================================================================

// FindByID finds a record by ID. A missing record is (nil, nil).
func (r *GenericRepository[T]) FindByID(ctx context.Context, id any) (*T, error) {
	if id == nil {
		return nil, fmt.Errorf("id cannot be nil")
	}

	ctx, cancel := r.withQueryTimeout(ctx)
	defer cancel()

	cacheKey := r.cacheKey("find_by_id", fmt.Sprintf("%v", id))
	var entity T
	if r.getCached(ctx, cacheKey, &entity) {
		return &entity, nil
	}

	if err := r.db.WithContext(ctx).First(&entity, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("database error: %w", err)
	}

	r.setCached(ctx, cacheKey, entity)
	return &entity, nil
}

// FindAll finds all records
func (r *GenericRepository[T]) FindAll(ctx context.Context) ([]T, error) {
	ctx, cancel := r.withQueryTimeout(ctx)
	defer cancel()

	cacheKey := r.cacheKey("find_all")
	var entities []T
	if r.getCached(ctx, cacheKey, &entities) {
		return entities, nil
	}

	if err := r.db.WithContext(ctx).Find(&entities).Error; err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}

	r.setCached(ctx, cacheKey, entities)
	return entities, nil
}

// FindWhere finds records matching a condition. query may also be a *db.Filter.
func (r *GenericRepository[T]) FindWhere(ctx context.Context, query any, args ...any) ([]T, error) {
	ctx, cancel := r.withQueryTimeout(ctx)
	defer cancel()

	query, args = normalizeCondition(query, args)

	// *gorm.DB conditions are not deterministic enough to key a cache entry
	_, uncacheable := query.(*gorm.DB)

	var cacheKey string
	var entities []T
	if !uncacheable {
		cacheKey = r.cacheKey("find_where", redis.QueryHash(query, args...))
		if r.getCached(ctx, cacheKey, &entities) {
			return entities, nil
		}
	}

	if err := r.db.WithContext(ctx).Where(query, args...).Find(&entities).Error; err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}

	if !uncacheable {
		r.setCached(ctx, cacheKey, entities)
	}
	return entities, nil
}

// Count counts all records
func (r *GenericRepository[T]) Count(ctx context.Context) (int64, error) {
	ctx, cancel := r.withQueryTimeout(ctx)
	defer cancel()

	cacheKey := r.cacheKey("count")
	var count int64
	if r.getCached(ctx, cacheKey, &count) {
		return count, nil
	}

	if err := r.db.WithContext(ctx).Model(new(T)).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("database error: %w", err)
	}

	r.setCached(ctx, cacheKey, count)
	return count, nil
}

// Exists checks if a record exists by ID
func (r *GenericRepository[T]) Exists(ctx context.Context, id any) (bool, error) {
	entity, err := r.FindByID(ctx, id)
	if err != nil {
		return false, err
	}
	return entity != nil, nil
}

// ============================================================================
// WRITE OPERATIONS
// ============================================================================

// Create creates a new record
func (r *GenericRepository[T]) Create(ctx context.Context, entity *T) error {
	if entity == nil {
		return fmt.Errorf("entity cannot be nil")
	}

	ctx, cancel := r.withQueryTimeout(ctx)
	defer cancel()

	if err := r.db.WithContext(ctx).Create(entity).Error; err != nil {
		return fmt.Errorf("database error: %w", err)
	}

	r.invalidate(ctx)
	return nil
}

// Update saves a record
func (r *GenericRepository[T]) Update(ctx context.Context, entity *T) error {
	if entity == nil {
		return fmt.Errorf("entity cannot be nil")
	}

	ctx, cancel := r.withQueryTimeout(ctx)
	defer cancel()

	if err := r.db.WithContext(ctx).Save(entity).Error; err != nil {
		return fmt.Errorf("database error: %w", err)
	}

	r.invalidate(ctx)
	return nil
}

// Delete deletes a record by ID together with everything that cascades
// from it. Deleting a missing record is not an error.
func (r *GenericRepository[T]) Delete(ctx context.Context, id any) error {
	if id == nil {
		return fmt.Errorf("id cannot be nil")
	}

	_, err := r.delete(ctx, func(tx *gorm.DB) *gorm.DB {
		return tx.Delete(new(T), id)
	})
	return err
}

// DeleteWhere deletes every record matching the condition, cascading, and
// returns the number of records deleted. query may also be a *db.Filter.
// An empty condition is rejected.
func (r *GenericRepository[T]) DeleteWhere(ctx context.Context, query any, args ...any) (int64, error) {
	query, args = normalizeCondition(query, args)
	if query == nil || query == "" {
		return 0, gorm.ErrMissingWhereClause
	}

	return r.delete(ctx, func(tx *gorm.DB) *gorm.DB {
		return tx.Where(query, args...).Delete(new(T))
	})
}

// delete runs fn in a transaction so the cascade and the parent delete
// commit or roll back together. Caches of cascaded tables are dropped after
// the commit.
func (r *GenericRepository[T]) delete(ctx context.Context, fn func(tx *gorm.DB) *gorm.DB) (int64, error) {
	ctx, cancel := r.withQueryTimeout(ctx)
	defer cancel()

	if cascade.RequestFrom(ctx) == nil {
		ctx = cascade.WithRequest(ctx, cascade.NewRequest(""))
	}

	flush := func(context.Context) {}
	if p, ok := installedCascade(r.db); ok {
		ctx, flush = p.DeferInvalidation(ctx)
	}

	var affected int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := fn(tx)
		if res.Error != nil {
			return res.Error
		}
		affected = res.RowsAffected
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("delete %s: %w", r.tableName, err)
	}

	flush(ctx)
	r.invalidate(ctx)
	return affected, nil
}

// InvalidateCache drops every cached read of this entity's table
func (r *GenericRepository[T]) InvalidateCache(ctx context.Context) error {
	if r.redis == nil {
		return nil
	}
	return r.redis.InvalidateTable(ctx, r.namespace, r.tableName)
}

// ============================================================================
// HELPER METHODS
// ============================================================================

func (r *GenericRepository[T]) cacheKey(operation string, suffix ...string) string {
	if r.redis == nil {
		return ""
	}
	return r.redis.Key(append([]string{r.namespace, r.tableName, operation}, suffix...)...)
}

// getCached is best effort: any cache error reads as a miss
func (r *GenericRepository[T]) getCached(ctx context.Context, key string, target any) bool {
	if r.redis == nil {
		return false
	}
	return r.redis.GetValue(ctx, key, target) == nil
}

func (r *GenericRepository[T]) setCached(ctx context.Context, key string, value any) {
	if r.redis == nil {
		return
	}
	_ = r.redis.SetValue(ctx, key, value)
}

func (r *GenericRepository[T]) invalidate(ctx context.Context) {
	_ = r.InvalidateCache(ctx)
}

// normalizeCondition renders a *db.Filter into a string condition
func normalizeCondition(query any, args []any) (any, []any) {
	if f, ok := query.(*db.Filter); ok {
		sql, fargs := f.Build()
		return sql, fargs
	}
	return query, args
}
