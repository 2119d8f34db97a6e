package worker

import (
	"context"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/robfig/cron/v3"
	"github.com/secmon-lab/docket/pkg/domain/model"
	"github.com/secmon-lab/docket/pkg/domain/model/auth"
	"github.com/secmon-lab/docket/pkg/domain/types"
	"github.com/secmon-lab/docket/pkg/utils/errutil"
	"github.com/secmon-lab/docket/pkg/utils/logging"
)

// ServiceName identifies the worker when it calls service-only operations
const ServiceName = "docket-scheduler"

// OperationRunner runs a batch operation over tasks
type OperationRunner interface {
	PerformOperation(ctx context.Context, op *model.TaskOperation) (*model.OperationResult, error)
}

// OperationWorker runs batch operations on a cron schedule.
//
// Architecture assumptions:
// - Single scheduler instance (no distributed locking)
// - Tasks touched by concurrent operations are protected by version checks
type OperationWorker struct {
	runner     OperationRunner
	schedule   cron.Schedule
	spec       string
	operations []types.OperationName
	stopCh     chan struct{}
	doneCh     chan struct{}
}

// Option configures OperationWorker
type Option func(*OperationWorker)

// WithOperations overrides the operations run on every tick
func WithOperations(ops ...types.OperationName) Option {
	return func(w *OperationWorker) {
		w.operations = ops
	}
}

// NewOperationWorker parses a standard five field cron expression or a
// descriptor such as "@every 5m". By default it executes pending
// reconfigurations.
func NewOperationWorker(runner OperationRunner, spec string, opts ...Option) (*OperationWorker, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	schedule, err := parser.Parse(spec)
	if err != nil {
		return nil, goerr.Wrap(err, "invalid worker schedule", goerr.V("schedule", spec))
	}

	w := &OperationWorker{
		runner:     runner,
		schedule:   schedule,
		spec:       spec,
		operations: []types.OperationName{types.OperationExecuteReconfigure},
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	for _, op := range w.operations {
		if !op.IsValid() {
			return nil, goerr.Wrap(model.ErrConstraintViolation, "unknown worker operation", goerr.V("operation", op))
		}
	}
	return w, nil
}

// Start runs every operation once and then follows the schedule in the
// background. It does not block server startup.
func (w *OperationWorker) Start(ctx context.Context) error {
	logging.Default().Info("operation worker starting",
		"schedule", w.spec,
		"operations", w.operations)

	go w.run(ctx)

	return nil
}

// Stop signals the worker to stop and waits for the running tick to finish
func (w *OperationWorker) Stop() {
	logging.Default().Info("operation worker stopping")
	close(w.stopCh)
	<-w.doneCh
	logging.Default().Info("operation worker stopped")
}

func (w *OperationWorker) run(ctx context.Context) {
	defer close(w.doneCh)

	ctx = auth.ContextWithToken(ctx, auth.NewServiceToken(ServiceName))
	w.tick(ctx)

	for {
		now := time.Now()
		timer := time.NewTimer(w.schedule.Next(now).Sub(now))

		select {
		case <-timer.C:
			w.tick(ctx)

		case <-w.stopCh:
			timer.Stop()
			logging.Default().Info("operation worker received stop signal")
			return

		case <-ctx.Done():
			timer.Stop()
			logging.Default().Info("operation worker context cancelled")
			return
		}
	}
}

// tick runs the configured operations in order. A failed operation is logged
// and does not prevent the rest from running.
func (w *OperationWorker) tick(ctx context.Context) {
	for _, name := range w.operations {
		if ctx.Err() != nil {
			return
		}
		result, err := w.runner.PerformOperation(ctx, &model.TaskOperation{Name: name})
		if err != nil {
			errutil.Warn(ctx, err, "scheduled operation failed", "operation", name)
			continue
		}
		logging.From(ctx).Info("scheduled operation finished",
			"operation", name,
			"run_id", result.RunID,
			"matched", result.Matched,
			"failed", result.Failed)
	}
}
