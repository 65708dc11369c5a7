// Copyright 2024-2026 Aiku AI

package bridgebot

import "context"

// CreationGuard serializes room-creation workflows. It is a single lock for
// the whole bridge rather than per-room: the failure mode it exists for is
// the same command arriving twice through mirrored transports, which would
// otherwise create duplicate room pairs.
type CreationGuard struct {
	sem chan struct{}
}

func NewCreationGuard() *CreationGuard {
	return &CreationGuard{sem: make(chan struct{}, 1)}
}

// Acquire blocks until the guard is free or the context is cancelled.
func (g *CreationGuard) Acquire(ctx context.Context) error {
	select {
	case g.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release frees the guard. It must only be called after a successful Acquire.
func (g *CreationGuard) Release() {
	<-g.sem
}
