package config

import (
	"log/slog"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/docket/pkg/domain/types"
	"github.com/secmon-lab/docket/pkg/service/worker"
	"github.com/urfave/cli/v3"
)

// Scheduler holds CLI flags for the in-process batch operation worker
type Scheduler struct {
	schedule   string
	operations []string
}

func (x *Scheduler) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "schedule",
			Usage:       `Cron expression for batch operations, e.g. "*/5 * * * *" or "@every 10m". Disabled when empty`,
			Category:    "Scheduler",
			Sources:     cli.EnvVars("DOCKET_SCHEDULE"),
			Destination: &x.schedule,
		},
		&cli.StringSliceFlag{
			Name:        "schedule-operation",
			Usage:       "Operation run on every tick (repeatable)",
			Value:       []string{string(types.OperationExecuteReconfigure)},
			Category:    "Scheduler",
			Sources:     cli.EnvVars("DOCKET_SCHEDULE_OPERATIONS"),
			Destination: &x.operations,
		},
	}
}

func (x Scheduler) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("schedule", x.schedule),
		slog.Any("operations", x.operations),
	)
}

// Configure returns nil when no schedule is set
func (x *Scheduler) Configure(runner worker.OperationRunner) (*worker.OperationWorker, error) {
	if x.schedule == "" {
		return nil, nil
	}
	ops := make([]types.OperationName, len(x.operations))
	for i, op := range x.operations {
		ops[i] = types.OperationName(op)
	}
	w, err := worker.NewOperationWorker(runner, x.schedule, worker.WithOperations(ops...))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to configure scheduler")
	}
	return w, nil
}
