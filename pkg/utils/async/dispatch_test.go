package async_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/docket/pkg/utils/async"
)

type ctxKey struct{}

func TestDispatchDetachesFromCallerContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.WithValue(context.Background(), ctxKey{}, "v"))
	cancel()

	var ran atomic.Bool
	done := async.Dispatch(ctx, func(ctx context.Context) error {
		gt.NoError(t, ctx.Err())
		gt.Value(t, ctx.Value(ctxKey{})).Nil()
		ran.Store(true)
		return nil
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handler did not finish")
	}
	gt.Bool(t, ran.Load()).True()
}

func TestDispatchRecoversPanicAndError(t *testing.T) {
	<-async.Dispatch(context.Background(), func(ctx context.Context) error {
		panic("boom")
	})
	<-async.Dispatch(context.Background(), func(ctx context.Context) error {
		return errors.New("failed")
	})
}
