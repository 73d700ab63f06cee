package repository

import "github.com/ammar0144/cascade4go/pkg/cascade"

// Entity is the minimal contract for repository entities
type Entity interface {
	// TableName returns the database table name for this entity.
	// It must match GORM's table naming for the model.
	TableName() string
}

// CascadeConfigurable lets a model override the cascade options of its
// relations without touching the struct tags, like the settings block of
// a schema file.
type CascadeConfigurable interface {
	CascadeSettings() cascade.Settings
}
