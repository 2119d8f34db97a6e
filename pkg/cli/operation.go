package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/docket/pkg/cli/config"
	"github.com/secmon-lab/docket/pkg/domain/model"
	"github.com/secmon-lab/docket/pkg/domain/model/auth"
	"github.com/secmon-lab/docket/pkg/domain/types"
	"github.com/secmon-lab/docket/pkg/usecase"
	"github.com/secmon-lab/docket/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

// operationService identifies the operation command to the use cases
const operationService = "docket-cli"

func cmdOperation() *cli.Command {
	var name string
	var runID string
	var caseIDs []string
	var states []string
	var before string
	var after string
	var maxConcurrency int
	var timeoutSeconds int
	var repoCfg config.Repository
	var downstreamCfg config.Downstream
	var taskCfg config.TaskConfig
	var reportCfg config.Report

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "name",
			Aliases:     []string{"n"},
			Usage:       "Operation name (MARK_TO_RECONFIGURE, EXECUTE_RECONFIGURE, UPDATE_SEARCH_INDEX)",
			Required:    true,
			Destination: &name,
		},
		&cli.StringFlag{
			Name:        "run-id",
			Usage:       "Run ID recorded in logs and reports (generated when empty)",
			Destination: &runID,
		},
		&cli.StringSliceFlag{
			Name:        "case-id",
			Usage:       "Target case ID (repeatable)",
			Destination: &caseIDs,
		},
		&cli.StringSliceFlag{
			Name:        "state",
			Usage:       "Target task state (repeatable)",
			Destination: &states,
		},
		&cli.StringFlag{
			Name:        "before",
			Usage:       "Only tasks marked for reconfiguration at or before this time (RFC3339)",
			Destination: &before,
		},
		&cli.StringFlag{
			Name:        "after",
			Usage:       "Only tasks marked for reconfiguration at or after this time (RFC3339)",
			Destination: &after,
		},
		&cli.IntFlag{
			Name:        "max-concurrency",
			Usage:       "Tasks processed at once",
			Value:       model.DefaultMaxConcurrency,
			Destination: &maxConcurrency,
		},
		&cli.IntFlag{
			Name:        "timeout-seconds",
			Usage:       "Time budget of the whole run",
			Value:       model.DefaultTimeoutSeconds,
			Destination: &timeoutSeconds,
		},
	}
	flags = append(flags, repoCfg.Flags()...)
	flags = append(flags, downstreamCfg.Flags()...)
	flags = append(flags, taskCfg.Flags()...)
	flags = append(flags, reportCfg.Flags()...)

	return &cli.Command{
		Name:    "operation",
		Aliases: []string{"op"},
		Usage:   "Run a batch operation over stored tasks",
		Flags:   flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			op := &model.TaskOperation{
				Name:           types.OperationName(name),
				RunID:          runID,
				MaxConcurrency: maxConcurrency,
				TimeoutSeconds: timeoutSeconds,
			}
			if len(caseIDs) > 0 {
				op.Filters = append(op.Filters, model.TaskFilter{
					Key: types.FilterKeyCaseID, Operator: types.FilterOperatorIn, Values: caseIDs,
				})
			}
			if len(states) > 0 {
				op.Filters = append(op.Filters, model.TaskFilter{
					Key: types.FilterKeyState, Operator: types.FilterOperatorIn, Values: states,
				})
			}
			if before != "" {
				op.Filters = append(op.Filters, model.TaskFilter{
					Key: types.FilterKeyReconfigureRequestTime, Operator: types.FilterOperatorBefore, Values: []string{before},
				})
			}
			if after != "" {
				op.Filters = append(op.Filters, model.TaskFilter{
					Key: types.FilterKeyReconfigureRequestTime, Operator: types.FilterOperatorAfter, Values: []string{after},
				})
			}

			repo, err := repoCfg.Configure(ctx)
			if err != nil {
				return goerr.Wrap(err, "failed to initialize repository")
			}
			defer func() {
				if err := repo.Close(); err != nil {
					logging.Default().Error("failed to close repository", "error", err.Error())
				}
			}()

			reporter, closeReporter, err := reportCfg.Configure(ctx)
			if err != nil {
				return err
			}
			defer closeReporter()

			var ucOpts []usecase.Option
			if reporter != nil {
				ucOpts = append(ucOpts, usecase.WithOperationReporter(reporter))
			}
			// Only reconfiguration evaluates rules and rechecks assignees
			if op.Name == types.OperationExecuteReconfigure {
				provider, err := taskCfg.Configure()
				if err != nil {
					return err
				}
				roles, err := downstreamCfg.RoleAssignments()
				if err != nil {
					return err
				}
				ucOpts = append(ucOpts,
					usecase.WithConfigurationProvider(provider),
					usecase.WithRoleAssignments(roles),
				)
			}
			uc := usecase.New(repo, ucOpts...)

			ctx = auth.ContextWithToken(ctx, auth.NewServiceToken(operationService))
			result, err := uc.Operation.PerformOperation(ctx, op)
			if err != nil {
				return err
			}

			printOperationResult(c.Root().Writer, result)
			if result.Failed > 0 {
				return goerr.New("operation finished with failures",
					goerr.V("run_id", result.RunID), goerr.V("failed", result.Failed))
			}
			return nil
		},
	}
}

func printOperationResult(w io.Writer, r *model.OperationResult) {
	if w == nil {
		return
	}
	bold := color.New(color.Bold)
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)
	red := color.New(color.FgRed)

	_, _ = bold.Fprintf(w, "%s (run %s)\n", r.Operation, r.RunID)
	_, _ = fmt.Fprintf(w, "  matched:   %d\n", r.Matched)
	_, _ = green.Fprintf(w, "  succeeded: %d\n", r.Succeeded)
	_, _ = yellow.Fprintf(w, "  skipped:   %d\n", r.Skipped)
	if r.Failed > 0 {
		_, _ = red.Fprintf(w, "  failed:    %d\n", r.Failed)
		for _, id := range r.FailedTaskIDs {
			_, _ = red.Fprintf(w, "    - %s\n", id)
		}
	} else {
		_, _ = fmt.Fprintf(w, "  failed:    0\n")
	}
	_, _ = fmt.Fprintf(w, "  elapsed:   %s\n", r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond))
}
