package worker_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/docket/pkg/domain/model"
	"github.com/secmon-lab/docket/pkg/domain/model/auth"
	"github.com/secmon-lab/docket/pkg/domain/types"
	"github.com/secmon-lab/docket/pkg/service/worker"
)

type fakeRunner struct {
	mu     sync.Mutex
	ops    []types.OperationName
	tokens []*auth.Token
	errFor map[types.OperationName]error
	calls  chan struct{}
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{
		errFor: map[types.OperationName]error{},
		calls:  make(chan struct{}, 16),
	}
}

func (f *fakeRunner) PerformOperation(ctx context.Context, op *model.TaskOperation) (*model.OperationResult, error) {
	f.mu.Lock()
	defer func() {
		f.mu.Unlock()
		f.calls <- struct{}{}
	}()

	f.ops = append(f.ops, op.Name)
	token, err := auth.TokenFromContext(ctx)
	if err == nil {
		f.tokens = append(f.tokens, token)
	}
	if err := f.errFor[op.Name]; err != nil {
		return nil, err
	}
	return &model.OperationResult{RunID: "run", Operation: op.Name}, nil
}

func (f *fakeRunner) snapshot() ([]types.OperationName, []*auth.Token) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]types.OperationName(nil), f.ops...), append([]*auth.Token(nil), f.tokens...)
}

func waitCalls(t *testing.T, f *fakeRunner, n int, timeout time.Duration) {
	t.Helper()
	deadline := time.After(timeout)
	for range n {
		select {
		case <-f.calls:
		case <-deadline:
			t.Fatalf("runner was not called %d times", n)
		}
	}
}

func TestNewOperationWorker_Validation(t *testing.T) {
	t.Run("invalid schedule", func(t *testing.T) {
		_, err := worker.NewOperationWorker(newFakeRunner(), "every minute")
		gt.Value(t, err).NotNil()
	})

	t.Run("unknown operation", func(t *testing.T) {
		_, err := worker.NewOperationWorker(newFakeRunner(), "*/5 * * * *",
			worker.WithOperations("REINDEX_ALL"))
		gt.Error(t, err).Is(model.ErrConstraintViolation)
	})

	t.Run("descriptor", func(t *testing.T) {
		_, err := worker.NewOperationWorker(newFakeRunner(), "@hourly")
		gt.NoError(t, err)
	})
}

func TestOperationWorker_RunsOnStartAsService(t *testing.T) {
	runner := newFakeRunner()
	w, err := worker.NewOperationWorker(runner, "@every 1h")
	gt.NoError(t, err).Required()

	gt.NoError(t, w.Start(context.Background())).Required()
	waitCalls(t, runner, 1, 2*time.Second)
	w.Stop()

	ops, tokens := runner.snapshot()
	gt.Value(t, ops).Equal([]types.OperationName{types.OperationExecuteReconfigure})
	gt.Array(t, tokens).Length(1)
	gt.Bool(t, tokens[0].IsService()).True()
	gt.Value(t, tokens[0].Service).Equal(worker.ServiceName)
}

func TestOperationWorker_FailureDoesNotStopLaterOperations(t *testing.T) {
	runner := newFakeRunner()
	runner.errFor[types.OperationExecuteReconfigure] = errors.Join(model.ErrStorageUnavailable, errors.New("down"))

	w, err := worker.NewOperationWorker(runner, "@every 1h",
		worker.WithOperations(types.OperationExecuteReconfigure, types.OperationUpdateSearchIndex))
	gt.NoError(t, err).Required()

	gt.NoError(t, w.Start(context.Background())).Required()
	waitCalls(t, runner, 2, 2*time.Second)
	w.Stop()

	ops, _ := runner.snapshot()
	gt.Value(t, ops).Equal([]types.OperationName{types.OperationExecuteReconfigure, types.OperationUpdateSearchIndex})
}

func TestOperationWorker_FollowsSchedule(t *testing.T) {
	runner := newFakeRunner()
	w, err := worker.NewOperationWorker(runner, "@every 1s")
	gt.NoError(t, err).Required()

	gt.NoError(t, w.Start(context.Background())).Required()
	waitCalls(t, runner, 3, 5*time.Second)
	w.Stop()

	ops, _ := runner.snapshot()
	gt.Bool(t, len(ops) >= 3).True()
}

func TestOperationWorker_StopsOnContextCancel(t *testing.T) {
	runner := newFakeRunner()
	w, err := worker.NewOperationWorker(runner, "@every 1h")
	gt.NoError(t, err).Required()

	ctx, cancel := context.WithCancel(context.Background())
	gt.NoError(t, w.Start(ctx)).Required()
	waitCalls(t, runner, 1, 2*time.Second)
	cancel()

	// Stop must return once the loop has exited on its own
	done := make(chan struct{})
	go func() {
		w.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
}
