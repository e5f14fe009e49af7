package async

import (
	"context"
	"runtime/debug"
	"time"

	"github.com/funish/nexus/pkg/observability"
)

// SafeGo executes a function in a detached goroutine with:
// - Panic recovery
// - Timeout enforcement
// - Error logging
//
// The task context is detached from the caller's cancellation: a request
// handler that is cancelled must not cancel the warmup it scheduled. Context
// values (request id, logger) still flow through.
//
// Use this instead of bare `go func()` for post-response work.
//
// Example:
//
//	SafeGo(r.Context(), 60*time.Second, "package warmup", func(ctx context.Context) error {
//	    return cache.Hydrate(ctx, key)
//	})
func SafeGo(parentCtx context.Context, timeout time.Duration, taskName string, fn func(context.Context) error) {
	logger := observability.FromContext(parentCtx).WithField("task", taskName)
	detached := context.WithoutCancel(parentCtx)

	go func() {
		ctx, cancel := context.WithTimeout(detached, timeout)
		defer cancel()

		defer func() {
			if r := recover(); r != nil {
				logger.WithFields(map[string]interface{}{
					"panic": r,
					"stack": string(debug.Stack()),
				}).Error("panic in detached task")
			}
		}()

		if err := fn(ctx); err != nil {
			// Detached work is best effort; log and move on.
			logger.WithError(err).Warn("detached task failed")
		}
	}()
}

// SafeGoNoError is like SafeGo but for functions that don't return errors.
// Still provides panic recovery and timeout enforcement.
func SafeGoNoError(parentCtx context.Context, timeout time.Duration, taskName string, fn func(context.Context)) {
	SafeGo(parentCtx, timeout, taskName, func(ctx context.Context) error {
		fn(ctx)
		return nil
	})
}
