package cascade

import "fmt"

// RelationType tags the kind of a relation declared on a model.
// The handler table is keyed by this tag.
type RelationType string

const (
	BelongsTo           RelationType = "belongsTo"
	HasMany             RelationType = "hasMany"
	HasManyThrough      RelationType = "hasManyThrough"
	HasOne              RelationType = "hasOne"
	HasAndBelongsToMany RelationType = "hasAndBelongsToMany"
	EmbedsOne           RelationType = "embedsOne"
	EmbedsMany          RelationType = "embedsMany"
	ReferencesMany      RelationType = "referencesMany"
)

// KnownRelationTypes lists every relation type the schema loader accepts.
var KnownRelationTypes = []RelationType{
	BelongsTo, HasMany, HasManyThrough, HasOne,
	HasAndBelongsToMany, EmbedsOne, EmbedsMany, ReferencesMany,
}

// ParseRelationType validates a relation type tag.
func ParseRelationType(s string) (RelationType, error) {
	for _, t := range KnownRelationTypes {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownRelationType, s)
}

// Field describes a single model field.
type Field struct {
	Name   string `json:"name" yaml:"name"`     // field name as declared on the model
	Column string `json:"column" yaml:"column"` // storage column, defaults to Name
}

// ColumnName returns the storage column of the field.
func (f Field) ColumnName() string {
	if f.Column != "" {
		return f.Column
	}
	return f.Name
}

// Relation is the schema-level descriptor of how a model relates to another one.
//
// Type and Options are all the trigger itself looks at. The remaining fields
// are host metadata consumed by the delete handlers.
type Relation struct {
	Type    RelationType   `json:"type" yaml:"type"`
	Options map[string]any `json:"options,omitempty" yaml:"options,omitempty"`

	// Target is the related table.
	Target string `json:"target,omitempty" yaml:"target,omitempty"`
	// ForeignKey is the column on Target (or Through) pointing at the parent.
	ForeignKey string `json:"foreign_key,omitempty" yaml:"foreignKey,omitempty"`
	// KeyFrom is the parent column referenced, the primary key when empty.
	KeyFrom string `json:"key_from,omitempty" yaml:"keyFrom,omitempty"`
	// Through is the join table of many-to-many and through relations.
	Through string `json:"through,omitempty" yaml:"through,omitempty"`
	// Match holds constant conditions, e.g. a polymorphic type column.
	Match map[string]any `json:"match,omitempty" yaml:"match,omitempty"`
}

// Settings holds model-level configuration overrides.
type Settings struct {
	// Relations maps relation name to its option overrides.
	Relations map[string]map[string]any `json:"relations,omitempty" yaml:"relations,omitempty"`
}

// Model is the schema descriptor of a data model.
type Model struct {
	Name       string              `json:"name" yaml:"name"`
	Table      string              `json:"table" yaml:"table"`
	PrimaryKey string              `json:"primary_key" yaml:"primaryKey"`
	Fields     map[string]Field    `json:"fields" yaml:"fields"`
	Relations  map[string]Relation `json:"relations" yaml:"relations"`
	Settings   Settings            `json:"settings" yaml:"settings"`
}

// PrimaryKeyColumn returns the primary key column, "id" when unset.
func (m *Model) PrimaryKeyColumn() string {
	if m.PrimaryKey == "" {
		return "id"
	}
	return m.PrimaryKey
}

// TableName returns the storage table, falling back to the model name.
func (m *Model) TableName() string {
	if m.Table != "" {
		return m.Table
	}
	return m.Name
}

// KeyFrom returns the parent column referenced by rel.
func (m *Model) KeyFrom(rel Relation) string {
	if rel.KeyFrom != "" {
		return rel.KeyFrom
	}
	return m.PrimaryKeyColumn()
}

// Instance is one retrieved row keyed by column name.
type Instance map[string]any

// Get returns the value stored under column.
func (i Instance) Get(column string) (any, bool) {
	v, ok := i[column]
	return v, ok
}

// Query is the retrieval issued before cascading.
type Query struct {
	Where  any
	Args   []any
	Fields []string
}

// DeleteContext describes the delete being intercepted.
type DeleteContext struct {
	Where   any      // host filter identifying the instances to delete
	Args    []any    // bind arguments when Where is a string condition
	Request *Request // request/trace handle of the caller, may be nil
}
