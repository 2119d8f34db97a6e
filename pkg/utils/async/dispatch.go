package async

import (
	"context"

	"github.com/secmon-lab/docket/pkg/utils/errutil"
	"github.com/secmon-lab/docket/pkg/utils/logging"
)

// Dispatch runs handler in a new goroutine on a background context that keeps the
// caller's logger. Errors and panics are logged. The returned channel is closed when
// the handler returns.
func Dispatch(ctx context.Context, handler func(ctx context.Context) error) <-chan struct{} {
	bgCtx := context.Background()
	if logger := logging.From(ctx); logger != nil {
		bgCtx = logging.With(bgCtx, logger)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer func() {
			if r := recover(); r != nil {
				logging.From(bgCtx).Error("panic in async handler", "panic", r)
			}
		}()

		if err := handler(bgCtx); err != nil {
			_ = errutil.Handle(bgCtx, err, "async handler failed")
		}
	}()
	return done
}
