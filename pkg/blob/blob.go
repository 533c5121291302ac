package blob

import (
	"context"
)

// Store is the capability interface for the flat object namespace workers
// and the orchestrator exchange results through. Implementations must be
// safe for concurrent use.
//
// Put overwrites on existence and is durable before return. Get returns an
// error wrapping types.ErrBlobNotFound for missing objects. List returns
// names in lexicographic order.
type Store interface {
	Put(ctx context.Context, namespace, name string, data []byte) error
	Get(ctx context.Context, namespace, name string) ([]byte, error)
	List(ctx context.Context, namespace, prefix string) ([]string, error)
	Exists(ctx context.Context, namespace, name string) (bool, error)
}
