// Copyright 2024-2026 Aiku AI

package bridgebot

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestCreationGuard(t *testing.T) {
	t.Parallel()
	guard := NewCreationGuard()

	if err := guard.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire: unexpected error: %v", err)
	}

	// A second acquire blocks until release.
	acquired := make(chan struct{})
	go func() {
		if err := guard.Acquire(context.Background()); err != nil {
			t.Errorf("second Acquire: unexpected error: %v", err)
		}
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("second Acquire succeeded while the guard was held")
	case <-time.After(50 * time.Millisecond):
	}

	guard.Release()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second Acquire did not proceed after Release")
	}
	guard.Release()
}

func TestCreationGuard_ContextCancel(t *testing.T) {
	t.Parallel()
	guard := NewCreationGuard()
	if err := guard.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire: unexpected error: %v", err)
	}
	defer guard.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := guard.Acquire(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Acquire with expired context: got %v, want deadline exceeded", err)
	}
}
