package config

import (
	"errors"
	"log/slog"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/docket/pkg/service/taskconfig"
	"github.com/urfave/cli/v3"
)

// TaskConfig holds the path of the task configuration rules
type TaskConfig struct {
	path string
}

func (x *TaskConfig) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "task-config",
			Aliases:     []string{"c"},
			Usage:       "TOML file of task configuration rules",
			Category:    "Task",
			Sources:     cli.EnvVars("DOCKET_TASK_CONFIG"),
			Destination: &x.path,
		},
	}
}

func (x TaskConfig) LogValue() slog.Value {
	return slog.GroupValue(slog.String("path", x.path))
}

// Configure loads and validates the rules
func (x *TaskConfig) Configure() (*taskconfig.Provider, error) {
	if x.path == "" {
		return nil, goerr.Wrap(ErrMissingRequired, "task-config is required", goerr.V(FlagKey, "task-config"))
	}
	p, err := taskconfig.Load(x.path)
	if err != nil {
		return nil, goerr.Wrap(errors.Join(ErrInvalidConfig, err), "failed to load task configuration", goerr.V(PathKey, x.path))
	}
	return p, nil
}
