// Package repo defines a generic keyed repository and its Neo4j
// implementation.
package repo

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get and Patch when no entity has the id.
var ErrNotFound = errors.New("not found")

// Repository reads and writes entities of one kind.
type Repository[T any, ID comparable] interface {
	Get(ctx context.Context, id ID) (T, error)
	List(ctx context.Context, opts ListOpts) ([]T, error)
	Upsert(ctx context.Context, entity T) (T, error)
	// Patch sets the given properties on an existing entity.
	Patch(ctx context.Context, id ID, props map[string]any) error
}

// ListOpts controls pagination and filtering for List operations. Filter
// matches properties by equality; OrderBy names a property to sort on.
type ListOpts struct {
	Offset  int
	Limit   int
	Filter  map[string]any
	OrderBy string
}
