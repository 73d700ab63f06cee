// Package cascade4go provides cascading deletes for GORM models, with
// optional Redis caching of repository reads.
//
// Relations opt in through the destroyOnDelete option, either as a struct
// tag (`cascade:"destroyOnDelete"`), in model settings or in a YAML schema.
// Deleting a parent then deletes the owned rows of every enabled relation in
// the same transaction.
package cascade4go

import (
	"github.com/ammar0144/cascade4go/pkg/cascade"
	"github.com/ammar0144/cascade4go/pkg/db"
	"github.com/ammar0144/cascade4go/pkg/redis"
	"github.com/ammar0144/cascade4go/pkg/repository"
)

// Config represents database configuration
type Config = db.Config

// RedisConfig represents Redis configuration
type RedisConfig = redis.Config

// Model, Relation and Settings describe the relations a delete cascades over
type (
	Model    = cascade.Model
	Relation = cascade.Relation
	Settings = cascade.Settings
)

// Entity interface that all repository entities must implement
type Entity = repository.Entity

// Repository provides the generic repository interface
type Repository[T Entity] interface {
	repository.Repository[T]
}

// Plugin is the GORM cascade plugin
type Plugin = repository.Cascade

// NewManager creates a new database manager with the given plugins installed
func NewManager(config *Config, plugins ...*Plugin) (*db.Manager, error) {
	opts := make([]db.ManagerOption, 0, 1)
	for _, p := range plugins {
		opts = append(opts, db.WithPlugins(p))
	}
	return db.NewManager(config, opts...)
}

// NewCascade creates the cascade plugin
func NewCascade(opts ...repository.CascadeOption) *Plugin {
	return repository.NewCascade(opts...)
}

// NewRepository creates a new repository instance.
// A nil redisManager runs in database-only mode; a nil plugin disables
// cascading for T.
func NewRepository[T Entity](dbManager *db.Manager, redisManager *redis.Manager, plugin *Plugin) (Repository[T], error) {
	var opts []repository.RepositoryOption
	if redisManager != nil {
		opts = append(opts, repository.WithCache(redisManager))
	}
	if plugin != nil {
		opts = append(opts, repository.WithCascade(plugin))
	}
	repo, err := repository.NewGenericRepository[T](dbManager, opts...)
	if err != nil {
		return nil, err
	}
	return repo, nil
}

// NewRedisManager creates a new Redis manager
func NewRedisManager(config *RedisConfig) (*redis.Manager, error) {
	return redis.NewManager(config)
}

// LoadSchema reads model descriptors from a YAML schema file
func LoadSchema(path string) ([]*Model, error) {
	return cascade.LoadSchemaFile(path)
}
