package repository

import (
	"fmt"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/schema"

	"github.com/ammar0144/cascade4go/pkg/cascade"
)

// TagName is the struct tag holding relation cascade options, e.g.
//
//	Comments []Comment `cascade:"destroyOnDelete"`
//	Author   User      `cascade:"destroyOnDelete:false"`
const TagName = "cascade"

var relationTypes = map[schema.RelationshipType]cascade.RelationType{
	schema.HasOne:    cascade.HasOne,
	schema.HasMany:   cascade.HasMany,
	schema.BelongsTo: cascade.BelongsTo,
	schema.Many2Many: cascade.HasAndBelongsToMany,
}

// Describe builds the cascade model of a GORM model from its parsed schema.
//
// Fields are keyed by the lower camel form of their column so that a column
// such as author_id is seen as the foreign key field authorId. Relation
// names are the Go field names.
func Describe(db *gorm.DB, value any) (*cascade.Model, error) {
	if db == nil {
		return nil, fmt.Errorf("describe %T: nil db", value)
	}
	stmt := &gorm.Statement{DB: db}
	if err := stmt.Parse(value); err != nil {
		return nil, fmt.Errorf("describe %T: %w", value, err)
	}
	s := stmt.Schema

	m := &cascade.Model{
		Name:      s.Name,
		Table:     s.Table,
		Fields:    make(map[string]cascade.Field, len(s.Fields)),
		Relations: make(map[string]cascade.Relation, len(s.Relationships.Relations)),
	}
	if s.PrioritizedPrimaryField != nil {
		m.PrimaryKey = s.PrioritizedPrimaryField.DBName
	}

	for _, f := range s.Fields {
		if f.DBName == "" {
			continue
		}
		name := fieldName(f.DBName)
		m.Fields[name] = cascade.Field{Name: name, Column: f.DBName}
	}

	for name, rel := range s.Relationships.Relations {
		r, err := describeRelation(rel)
		if err != nil {
			return nil, fmt.Errorf("describe %s.%s: %w", s.Name, name, err)
		}
		m.Relations[name] = r
	}

	if c, ok := value.(CascadeConfigurable); ok {
		m.Settings = c.CascadeSettings()
	}
	return m, nil
}

func describeRelation(rel *schema.Relationship) (cascade.Relation, error) {
	t, ok := relationTypes[rel.Type]
	if !ok {
		return cascade.Relation{}, fmt.Errorf("%w: %q", cascade.ErrUnknownRelationType, rel.Type)
	}

	r := cascade.Relation{
		Type:    t,
		Target:  rel.FieldSchema.Table,
		Options: parseTag(rel.Field.Tag.Get(TagName)),
	}
	if rel.JoinTable != nil {
		r.Through = rel.JoinTable.Table
	}

	for _, ref := range rel.References {
		switch {
		case ref.PrimaryKey == nil:
			// polymorphic type column
			if r.Match == nil {
				r.Match = make(map[string]any)
			}
			r.Match[ref.ForeignKey.DBName] = ref.PrimaryValue
		case ref.OwnPrimaryKey:
			r.ForeignKey = ref.ForeignKey.DBName
			r.KeyFrom = ref.PrimaryKey.DBName
		case t == cascade.BelongsTo:
			// the key lives on this side
			r.ForeignKey = ref.PrimaryKey.DBName
			r.KeyFrom = ref.ForeignKey.DBName
		}
	}
	return r, nil
}

// parseTag reads "opt;opt:value" pairs. A bare option is true.
func parseTag(tag string) map[string]any {
	if tag == "" {
		return nil
	}
	opts := make(map[string]any)
	for _, part := range strings.Split(tag, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, found := strings.Cut(part, ":")
		if !found {
			opts[key] = true
			continue
		}
		opts[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	return opts
}

// fieldName converts a column name to lower camel case: author_id -> authorId
func fieldName(column string) string {
	parts := strings.Split(column, "_")
	var b strings.Builder
	for i, p := range parts {
		if p == "" {
			continue
		}
		if i == 0 || b.Len() == 0 {
			b.WriteString(strings.ToLower(p))
			continue
		}
		b.WriteString(strings.ToUpper(p[:1]) + strings.ToLower(p[1:]))
	}
	return b.String()
}
