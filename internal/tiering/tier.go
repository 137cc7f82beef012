// Package tiering resolves which storage backend currently holds an asset's
// bytes and exposes a uniform seekable read over all of them, so range
// serving is written once.
package tiering

import (
	"context"
	"errors"
	"io"
)

// ErrMiss means the tier does not hold the requested key. Resolvers degrade
// to the next tier on a miss.
var ErrMiss = errors.New("asset not in tier")

// Tier is one storage backend in the fallback chain.
type Tier interface {
	Name() string
	Exists(ctx context.Context, key string) bool
	// Open returns a seekable reader over the asset plus its total size, or
	// ErrMiss. Local disk streams incrementally; the durable tier buffers
	// the whole object.
	Open(ctx context.Context, key string) (io.ReadSeekCloser, int64, error)
}
