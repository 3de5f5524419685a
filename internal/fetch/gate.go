// File: internal/fetch/gate.go
package fetch

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Gate serializes executions that share the single addressed page.
// A nil *Gate admits everyone immediately.
type Gate struct {
	sem *semaphore.Weighted
}

// NewGate returns a gate admitting one execution at a time.
func NewGate() *Gate {
	return &Gate{sem: semaphore.NewWeighted(1)}
}

// Acquire blocks until the page is free or ctx is done. The returned release
// func must be called exactly once when err is nil.
func (g *Gate) Acquire(ctx context.Context) (release func(), err error) {
	if g == nil {
		return func() {}, nil
	}
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return func() { g.sem.Release(1) }, nil
}
