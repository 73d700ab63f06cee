package repository

import (
	"context"
)

// Repository defines the generic repository interface
type Repository[T any] interface {
	// Queries (cache-first)
	FindByID(ctx context.Context, id any) (*T, error)
	FindAll(ctx context.Context) ([]T, error)
	FindWhere(ctx context.Context, query any, args ...any) ([]T, error)
	Count(ctx context.Context) (int64, error)
	Exists(ctx context.Context, id any) (bool, error)

	// Commands. Deletes cascade through every relation enabled for it and
	// run in one transaction with the cascade.
	Create(ctx context.Context, entity *T) error
	Update(ctx context.Context, entity *T) error
	Delete(ctx context.Context, id any) error
	DeleteWhere(ctx context.Context, query any, args ...any) (int64, error)

	// Cache Management
	InvalidateCache(ctx context.Context) error
}
