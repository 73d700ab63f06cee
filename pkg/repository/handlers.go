package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ammar0144/cascade4go/pkg/cascade"
)

// ErrIncompleteRelation is returned by a handler when the relation lacks the
// metadata it needs, such as the target table or foreign key.
var ErrIncompleteRelation = errors.New("relation metadata incomplete")

// Scope is the per-delete state a GormHandler works with.
type Scope struct {
	// Tx is the transaction of the intercepted delete.
	Tx *gorm.DB
	// Parent is the model being deleted.
	Parent *cascade.Model
	// Unscoped is set when the intercepted delete bypasses soft delete; the
	// cascade then removes related rows for good as well.
	Unscoped bool

	plugin *Cascade
}

// Key returns the parent value rel refers to. ok is false when the instance
// carries no usable key.
func (s *Scope) Key(inst cascade.Instance, rel cascade.Relation) (any, bool) {
	v, ok := inst[s.Parent.KeyFrom(rel)]
	return v, ok && v != nil
}

// DeleteRows deletes the rows of table matching conds. Rows of registered
// models go through the delete callbacks, so their own relations cascade.
// The caches of table are dropped once the delete commits.
func (s *Scope) DeleteRows(ctx context.Context, table string, conds []clause.Expression) (int64, error) {
	db := s.Tx.Session(&gorm.Session{NewDB: true, Context: ctx})
	if s.Unscoped {
		db = db.Unscoped()
	}
	where := clause.Where{Exprs: conds}

	var res *gorm.DB
	if rm, ok := s.plugin.lookup(table); ok && rm.newValue != nil {
		res = db.Clauses(where).Delete(rm.newValue())
	} else {
		res = db.Table(table).Clauses(where).Delete(map[string]any{})
	}
	if res.Error != nil {
		return 0, res.Error
	}

	s.plugin.invalidateLater(ctx, table)
	return res.RowsAffected, nil
}

// GormHandler deletes the related data of one relation of one instance.
type GormHandler func(ctx context.Context, s *Scope, dc *cascade.DeleteContext, inst cascade.Instance, rel cascade.Relation, name string) error

// DefaultHandlers returns the built-in delete handlers. belongsTo, embedded
// and referencesMany relations have none: the parent does not own that data.
func DefaultHandlers() map[cascade.RelationType]GormHandler {
	return map[cascade.RelationType]GormHandler{
		cascade.HasMany:             DeleteTargets,
		cascade.HasOne:              DeleteTargets,
		cascade.HasAndBelongsToMany: DeleteLinks,
		cascade.HasManyThrough:      DeleteLinks,
	}
}

// DeleteTargets deletes the target rows whose foreign key points at the instance.
func DeleteTargets(ctx context.Context, s *Scope, dc *cascade.DeleteContext, inst cascade.Instance, rel cascade.Relation, name string) error {
	if rel.Target == "" || rel.ForeignKey == "" {
		return fmt.Errorf("%s.%s: %w", s.Parent.Name, name, ErrIncompleteRelation)
	}
	key, ok := s.Key(inst, rel)
	if !ok {
		return nil
	}

	n, err := s.DeleteRows(ctx, rel.Target, relationConds(rel, key))
	if err != nil {
		return fmt.Errorf("delete %s of %s %v: %w", name, s.Parent.Name, key, err)
	}
	s.plugin.logger.Debug("cascade deleted targets",
		zap.String("relation", name),
		zap.String("table", rel.Target),
		zap.Int64("rows", n),
	)
	return nil
}

// DeleteLinks deletes the join rows linking the instance to its targets.
// The targets themselves are shared and stay.
func DeleteLinks(ctx context.Context, s *Scope, dc *cascade.DeleteContext, inst cascade.Instance, rel cascade.Relation, name string) error {
	if rel.Through == "" || rel.ForeignKey == "" {
		return fmt.Errorf("%s.%s: %w", s.Parent.Name, name, ErrIncompleteRelation)
	}
	key, ok := s.Key(inst, rel)
	if !ok {
		return nil
	}

	n, err := s.DeleteRows(ctx, rel.Through, relationConds(rel, key))
	if err != nil {
		return fmt.Errorf("detach %s of %s %v: %w", name, s.Parent.Name, key, err)
	}
	s.plugin.logger.Debug("cascade deleted links",
		zap.String("relation", name),
		zap.String("table", rel.Through),
		zap.Int64("rows", n),
	)
	return nil
}

// relationConds is the foreign key condition plus the constant matches, in
// column order.
func relationConds(rel cascade.Relation, key any) []clause.Expression {
	conds := []clause.Expression{clause.Eq{Column: clause.Column{Name: rel.ForeignKey}, Value: key}}

	cols := make([]string, 0, len(rel.Match))
	for col := range rel.Match {
		cols = append(cols, col)
	}
	sort.Strings(cols)
	for _, col := range cols {
		conds = append(conds, clause.Eq{Column: clause.Column{Name: col}, Value: rel.Match[col]})
	}
	return conds
}
