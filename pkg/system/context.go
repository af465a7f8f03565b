package system

import (
	"context"
)

// RunWithContext executes a shutdown style operation with context
// awareness. The operation always runs to completion so resources are not
// left half released; a cancelled context only stops the wait, the
// operation's own context signals it to hurry up.
func RunWithContext(ctx context.Context, operation func(context.Context) error) error {
	// The operation gets an independent context so it can finish critical
	// work even when the caller gives up waiting.
	opCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Buffered so the goroutine can exit even when nobody reads the result.
	done := make(chan error, 1)

	go func() {
		done <- operation(opCtx)
		close(done)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		cancel()
		return ctx.Err()
	}
}
