package fetch

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// RequestGate bounds the number of in-flight portal requests across every caller sharing a Session.
// A crawl is already sequential; the gate matters when the MCP server runs a sync job and
// ad-hoc detail lookups at the same time.
type RequestGate struct {
	sem      *semaphore.Weighted
	limit    int64
	inFlight atomic.Int64
}

// NewRequestGate creates a gate admitting at most limit concurrent requests (minimum 1)
func NewRequestGate(limit int) *RequestGate {
	if limit <= 0 {
		limit = 1
	}
	return &RequestGate{sem: semaphore.NewWeighted(int64(limit)), limit: int64(limit)}
}

// Acquire blocks until a slot is free or ctx is done
func (g *RequestGate) Acquire(ctx context.Context) error {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	g.inFlight.Add(1)
	return nil
}

// Release frees a slot taken by Acquire
func (g *RequestGate) Release() {
	g.inFlight.Add(-1)
	g.sem.Release(1)
}

// InFlight returns the number of currently held slots
func (g *RequestGate) InFlight() int64 {
	return g.inFlight.Load()
}

// Limit returns the gate's capacity
func (g *RequestGate) Limit() int64 {
	return g.limit
}
