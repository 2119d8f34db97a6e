package errutil

import (
	"context"
	"errors"
	"log/slog"

	"github.com/getsentry/sentry-go"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/docket/pkg/utils/logging"
)

// Handle logs the error with goerr values and stack, and reports it to Sentry when
// a client is configured. It returns err unchanged.
func Handle(ctx context.Context, err error, msg string) error {
	if err == nil {
		return nil
	}

	logger := logging.From(ctx)

	var ge *goerr.Error
	if errors.As(err, &ge) {
		logger.Error(msg,
			"error", err.Error(),
			"values", ge.Values(),
			"stack", ge.Stacks(),
		)
	} else {
		logger.Error(msg, "error", err.Error())
	}

	capture(ctx, err, msg)
	return err
}

// Warn logs an expected failure (a single task of a batch, a retried call) without
// reporting it to Sentry.
func Warn(ctx context.Context, err error, msg string, attrs ...any) {
	if err == nil {
		return
	}
	args := append([]any{"error", err.Error()}, attrs...)
	var ge *goerr.Error
	if errors.As(err, &ge) {
		args = append(args, "values", ge.Values())
	}
	logging.From(ctx).Warn(msg, args...)
}

func capture(ctx context.Context, err error, msg string) {
	hub := sentry.GetHubFromContext(ctx)
	if hub == nil {
		hub = sentry.CurrentHub()
	}
	if hub.Client() == nil {
		return
	}

	hub = hub.Clone()
	hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("message", msg)
		var ge *goerr.Error
		if errors.As(err, &ge) {
			values := sentry.Context{}
			for k, v := range ge.Values() {
				values[k] = v
			}
			scope.SetContext("goerr", values)
		}
		if id := hub.CaptureException(err); id != nil {
			logging.From(ctx).Debug("error reported to sentry", slog.String("event_id", string(*id)))
		}
	})
}
