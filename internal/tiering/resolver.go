package tiering

import (
	"context"
	"errors"
	"io"
	"log/slog"
)

// Resolver tries tiers in fixed priority order. Tier failures degrade
// silently to the next tier; only a miss on every tier surfaces to the
// caller.
type Resolver struct {
	tiers []Tier
}

// NewResolver builds a resolver over the given tiers, highest priority
// first. Nil tiers (an unconfigured durable backend) are skipped.
func NewResolver(tiers ...Tier) *Resolver {
	kept := make([]Tier, 0, len(tiers))
	for _, t := range tiers {
		if t != nil {
			kept = append(kept, t)
		}
	}
	return &Resolver{tiers: kept}
}

// Open returns a seekable reader for the key from the first tier holding it,
// along with the tier's name. ErrMiss means no tier has the bytes.
func (r *Resolver) Open(ctx context.Context, key string) (io.ReadSeekCloser, int64, string, error) {
	for _, tier := range r.tiers {
		reader, size, err := tier.Open(ctx, key)
		if err == nil {
			return reader, size, tier.Name(), nil
		}
		if !errors.Is(err, ErrMiss) {
			slog.Warn("storage tier read failed, degrading", "tier", tier.Name(), "key", key, "err", err)
		}
	}
	return nil, 0, "", ErrMiss
}

// Exists reports whether any tier holds the key.
func (r *Resolver) Exists(ctx context.Context, key string) bool {
	for _, tier := range r.tiers {
		if tier.Exists(ctx, key) {
			return true
		}
	}
	return false
}
