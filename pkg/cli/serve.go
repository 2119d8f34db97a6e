package cli

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/docket/pkg/cli/config"
	httpctrl "github.com/secmon-lab/docket/pkg/controller/http"
	"github.com/secmon-lab/docket/pkg/service/worker"
	"github.com/secmon-lab/docket/pkg/usecase"
	"github.com/secmon-lab/docket/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

func cmdServe() *cli.Command {
	var addr string
	var repoCfg config.Repository
	var authCfg config.Auth
	var downstreamCfg config.Downstream
	var taskCfg config.TaskConfig
	var reportCfg config.Report
	var schedulerCfg config.Scheduler

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "addr",
			Usage:       "HTTP server address",
			Value:       ":8080",
			Sources:     cli.EnvVars("DOCKET_ADDR"),
			Destination: &addr,
		},
	}

	// Add shared config flags
	flags = append(flags, repoCfg.Flags()...)
	flags = append(flags, authCfg.Flags()...)
	flags = append(flags, downstreamCfg.Flags()...)
	flags = append(flags, taskCfg.Flags()...)
	flags = append(flags, reportCfg.Flags()...)
	flags = append(flags, schedulerCfg.Flags()...)

	return &cli.Command{
		Name:    "serve",
		Aliases: []string{"s"},
		Usage:   "Start HTTP server",
		Flags:   flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			logging.Default().Info("Serve configuration",
				"repository", repoCfg,
				"auth", authCfg,
				"downstream", downstreamCfg,
				"task_config", taskCfg,
				"report", reportCfg,
				"scheduler", schedulerCfg,
			)

			provider, err := taskCfg.Configure()
			if err != nil {
				return err
			}
			logging.Default().Info("Task configuration loaded", "rules", provider.RuleCount())

			repo, err := repoCfg.Configure(ctx)
			if err != nil {
				return goerr.Wrap(err, "failed to initialize repository")
			}
			defer func() {
				if err := repo.Close(); err != nil {
					logging.Default().Error("failed to close repository", "error", err.Error())
				}
			}()

			authUC, err := authCfg.Configure(ctx)
			if err != nil {
				return err
			}

			roles, err := downstreamCfg.RoleAssignments()
			if err != nil {
				return err
			}
			engine, err := downstreamCfg.Workflow()
			if err != nil {
				return err
			}
			if engine == nil {
				logging.Default().Warn("Workflow URL not configured, completion and cancellation are not signalled")
			}

			reporter, closeReporter, err := reportCfg.Configure(ctx)
			if err != nil {
				return err
			}
			defer closeReporter()

			ucOpts := []usecase.Option{
				usecase.WithAuth(authUC),
				usecase.WithRoleAssignments(roles),
				usecase.WithConfigurationProvider(provider),
			}
			if engine != nil {
				ucOpts = append(ucOpts, usecase.WithWorkflowEngine(engine))
			}
			if reporter != nil {
				ucOpts = append(ucOpts, usecase.WithOperationReporter(reporter))
			}
			uc := usecase.New(repo, ucOpts...)

			// Scheduled operations run in process, sharing the use cases of the server
			var opWorker *worker.OperationWorker
			opWorker, err = schedulerCfg.Configure(uc.Operation)
			if err != nil {
				return err
			}
			if opWorker != nil {
				if err := opWorker.Start(ctx); err != nil {
					return goerr.Wrap(err, "failed to start operation worker")
				}
			}

			server := &http.Server{
				Addr:              addr,
				Handler:           httpctrl.New(uc),
				ReadHeaderTimeout: 30 * time.Second,
			}

			// Setup signal handling for graceful shutdown
			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

			errCh := make(chan error, 1)
			go func() {
				logging.Default().Info("Starting HTTP server", "addr", addr)
				if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					errCh <- goerr.Wrap(err, "failed to start server")
				}
			}()

			select {
			case err := <-errCh:
				if opWorker != nil {
					opWorker.Stop()
				}
				return err
			case sig := <-sigCh:
				logging.Default().Info("Received shutdown signal", "signal", sig)

				// Stop the worker first so no batch run outlives the server
				if opWorker != nil {
					opWorker.Stop()
				}

				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()

				if err := server.Shutdown(shutdownCtx); err != nil {
					return goerr.Wrap(err, "failed to shutdown server gracefully")
				}

				logging.Default().Info("Server shutdown completed")
				return nil
			}
		},
	}
}
