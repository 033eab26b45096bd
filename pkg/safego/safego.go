package safego

import (
	"context"
	"fmt"
	"runtime/debug"

	"gitlab.com/timkado/api/course-data-layer/internal/domain"
)

// Execute runs fn in a new goroutine, recovering and logging any panic with a stack trace.
// Listener loops and store background tasks are started through it.
func Execute(ctx context.Context, logger domain.Logger, goroutineName string, fn func()) {
	go Run(ctx, logger, goroutineName, fn)
}

// Run is the synchronous form of Execute: it calls fn on the current goroutine and
// turns a panic into a log entry.
func Run(ctx context.Context, logger domain.Logger, goroutineName string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			// The original context may already be cancelled; logging must still work.
			logCtx := ctx
			if ctx.Err() != nil {
				logCtx = context.Background()
			}
			logger.Error(logCtx, fmt.Sprintf("Panic recovered in goroutine: %s", goroutineName),
				"goroutine", goroutineName,
				"panic_info", fmt.Sprintf("%v", r),
				"stacktrace", string(debug.Stack()),
			)
		}
	}()
	fn()
}
