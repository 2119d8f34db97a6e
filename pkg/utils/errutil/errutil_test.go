package errutil_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/getsentry/sentry-go"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/docket/pkg/utils/errutil"
	"github.com/secmon-lab/docket/pkg/utils/logging"
)

func TestHandleLogsGoerrValues(t *testing.T) {
	var buf bytes.Buffer
	ctx := logging.With(context.Background(), slog.New(slog.NewJSONHandler(&buf, nil)))

	base := errors.New("boom")
	err := goerr.Wrap(base, "failed to save task", goerr.V("task_id", "t-1"))

	got := errutil.Handle(ctx, err, "operation failed")
	gt.Error(t, got).Is(base)
	gt.Bool(t, strings.Contains(buf.String(), "operation failed")).True()
	gt.Bool(t, strings.Contains(buf.String(), "t-1")).True()
}

func TestHandleNil(t *testing.T) {
	gt.NoError(t, errutil.Handle(context.Background(), nil, "noop"))
}

func TestWarn(t *testing.T) {
	var buf bytes.Buffer
	ctx := logging.With(context.Background(), slog.New(slog.NewTextHandler(&buf, nil)))

	errutil.Warn(ctx, errors.New("conflict"), "task skipped", "task_id", "t-2")
	gt.Bool(t, strings.Contains(buf.String(), "level=WARN")).True()
	gt.Bool(t, strings.Contains(buf.String(), "task_id=t-2")).True()
}

func TestHandleReportsToSentry(t *testing.T) {
	var events []*sentry.Event
	client, err := sentry.NewClient(sentry.ClientOptions{
		Dsn: "https://public@sentry.example.com/1",
		BeforeSend: func(event *sentry.Event, hint *sentry.EventHint) *sentry.Event {
			events = append(events, event)
			return nil
		},
	})
	gt.NoError(t, err).Required()
	ctx := sentry.SetHubOnContext(context.Background(), sentry.NewHub(client, sentry.NewScope()))

	errutil.Handle(ctx, goerr.New("store down", goerr.V("task_id", "t-3")), "failed to save task")

	gt.Array(t, events).Length(1).Required()
	gt.Value(t, events[0].Tags["message"]).Equal("failed to save task")
	gt.Value(t, events[0].Contexts["goerr"]["task_id"]).Equal(any("t-3"))
}
