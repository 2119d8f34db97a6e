package cli

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/docket/pkg/cli/config"
	"github.com/secmon-lab/docket/pkg/service/roleassignment"
	"github.com/secmon-lab/docket/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

func cmdValidate() *cli.Command {
	var taskCfg config.TaskConfig
	var roleFile string

	var flags []cli.Flag
	flags = append(flags, taskCfg.Flags()...)
	flags = append(flags, &cli.StringFlag{
		Name:        "role-assignment-file",
		Usage:       "TOML file of static role assignments to validate",
		Sources:     cli.EnvVars("DOCKET_ROLE_ASSIGNMENT_FILE"),
		Destination: &roleFile,
	})

	return &cli.Command{
		Name:    "validate",
		Aliases: []string{"v"},
		Usage:   "Validate task configuration rules and static role assignments",
		Flags:   flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			logger := logging.Default()

			provider, err := taskCfg.Configure()
			if err != nil {
				return goerr.Wrap(err, "configuration validation failed")
			}
			logger.Info("Task configuration validation passed", "rule_count", provider.RuleCount())

			if roleFile == "" {
				logger.Info("No role assignment file specified, skipping")
				return nil
			}
			src, err := roleassignment.LoadStatic(roleFile)
			if err != nil {
				return goerr.Wrap(err, "role assignment validation failed", goerr.V("path", roleFile))
			}
			logger.Info("Role assignment validation passed", "path", roleFile, "assignment_count", src.Count())
			return nil
		},
	}
}
