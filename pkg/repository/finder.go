package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ammar0144/cascade4go/pkg/cascade"
)

// gormFinder retrieves cascade instances inside the transaction of the
// delete being intercepted.
type gormFinder struct {
	tx       *gorm.DB
	plugin   *Cascade
	unscoped bool
}

func (f *gormFinder) Find(ctx context.Context, m *cascade.Model, q cascade.Query) ([]cascade.Instance, error) {
	query := f.tx.Session(&gorm.Session{NewDB: true, Context: ctx})
	if f.unscoped {
		// a hard delete also reaches rows that were soft deleted before
		query = query.Unscoped()
	}
	if rm, ok := f.plugin.lookup(m.TableName()); ok && rm.newValue != nil {
		// typed models keep their scopes, soft delete included
		query = query.Model(rm.newValue())
	} else {
		query = query.Table(m.TableName())
	}
	if len(q.Fields) > 0 {
		query = query.Select(q.Fields)
	}
	query = applyWhere(query, q.Where, q.Args)

	var rows []map[string]any
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}

	out := make([]cascade.Instance, len(rows))
	for i, row := range rows {
		out[i] = cascade.Instance(row)
	}
	return out, nil
}

// applyWhere accepts the condition forms a delete can carry: GORM clauses
// taken from an intercepted statement, or anything db.Where understands.
func applyWhere(db *gorm.DB, where any, args []any) *gorm.DB {
	switch w := where.(type) {
	case nil:
		return db
	case clause.Where:
		if len(w.Exprs) == 0 {
			return db
		}
		return db.Clauses(w)
	case clause.Expression:
		return db.Clauses(clause.Where{Exprs: []clause.Expression{w}})
	case string:
		if w == "" {
			return db
		}
		return db.Where(w, args...)
	default:
		return db.Where(w, args...)
	}
}
