// Package gate provides the counting admission primitive that bounds
// simultaneously active fetches.
package gate

import (
	"context"
	"fmt"
)

// Gate holds a fixed number of permits. Acquire blocks until a permit is
// free or the context ends; every successful Acquire must be paired with a
// Release on all exit paths.
type Gate struct {
	permits chan struct{}
}

// New builds a Gate with the given permit count; limits below one are
// raised to one so a gate can never deadlock all callers.
func New(limit int) *Gate {
	if limit < 1 {
		limit = 1
	}
	return &Gate{permits: make(chan struct{}, limit)}
}

// Acquire takes a permit, suspending the caller while none are free.
func (g *Gate) Acquire(ctx context.Context) error {
	select {
	case g.permits <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("acquire fetch slot: %w", ctx.Err())
	}
}

// Release returns a permit. Releasing more than was acquired is a no-op
// rather than a corruption of the permit count.
func (g *Gate) Release() {
	select {
	case <-g.permits:
	default:
	}
}

// Limit reports the permit capacity.
func (g *Gate) Limit() int {
	return cap(g.permits)
}
