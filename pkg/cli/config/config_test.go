package config_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/docket/pkg/cli/config"
	"github.com/secmon-lab/docket/pkg/domain/types"
	"github.com/secmon-lab/docket/pkg/usecase"
	"github.com/urfave/cli/v3"
)

// parseFlags runs a throwaway command so that flag destinations get populated
func parseFlags(t *testing.T, flags []cli.Flag, args ...string) {
	t.Helper()
	cmd := &cli.Command{
		Name:   "test",
		Flags:  flags,
		Action: func(ctx context.Context, c *cli.Command) error { return nil },
	}
	gt.NoError(t, cmd.Run(context.Background(), append([]string{"test"}, args...))).Required()
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	gt.NoError(t, os.WriteFile(path, []byte(content), 0600)).Required()
	return path
}

func TestRepository_Configure(t *testing.T) {
	ctx := context.Background()

	t.Run("memory", func(t *testing.T) {
		var cfg config.Repository
		parseFlags(t, cfg.Flags(), "--repository-backend", "memory")
		repo, err := cfg.Configure(ctx)
		gt.NoError(t, err).Required()
		gt.NoError(t, repo.Close())
	})

	t.Run("sqlite", func(t *testing.T) {
		var cfg config.Repository
		parseFlags(t, cfg.Flags(),
			"--repository-backend", "sqlite",
			"--sqlite-dsn", filepath.Join(t.TempDir(), "docket.db"))
		repo, err := cfg.Configure(ctx)
		gt.NoError(t, err).Required()
		gt.NoError(t, repo.Close())
	})

	t.Run("sqlite without dsn", func(t *testing.T) {
		var cfg config.Repository
		parseFlags(t, cfg.Flags(), "--repository-backend", "sqlite")
		_, err := cfg.Configure(ctx)
		gt.Error(t, err).Is(config.ErrMissingRequired)
	})

	t.Run("firestore without project", func(t *testing.T) {
		var cfg config.Repository
		parseFlags(t, cfg.Flags(), "--repository-backend", "firestore")
		_, err := cfg.Configure(ctx)
		gt.Error(t, err).Is(config.ErrMissingRequired)
	})

	t.Run("unknown backend", func(t *testing.T) {
		var cfg config.Repository
		parseFlags(t, cfg.Flags(), "--repository-backend", "postgres")
		_, err := cfg.Configure(ctx)
		gt.Error(t, err).Is(config.ErrInvalidConfig)
	})
}

func TestAuth_Configure(t *testing.T) {
	ctx := context.Background()

	t.Run("no-authn", func(t *testing.T) {
		var cfg config.Auth
		parseFlags(t, cfg.Flags(), "--no-authn", "alice")
		uc, err := cfg.Configure(ctx)
		gt.NoError(t, err).Required()
		gt.Bool(t, uc.IsNoAuthn()).True()

		token, err := uc.ValidateToken(ctx, "")
		gt.NoError(t, err).Required()
		gt.Value(t, token.Sub).Equal(types.ActorID("alice"))
	})

	t.Run("missing key material", func(t *testing.T) {
		var cfg config.Auth
		parseFlags(t, cfg.Flags())
		_, err := cfg.Configure(ctx)
		gt.Error(t, err).Is(config.ErrMissingRequired)
	})

	t.Run("service secret without allowed services", func(t *testing.T) {
		var cfg config.Auth
		parseFlags(t, cfg.Flags(), "--idam-secret", "user-secret", "--s2s-secret", "service-secret")
		_, err := cfg.Configure(ctx)
		gt.Error(t, err).Is(config.ErrMissingRequired)
	})

	t.Run("secrets", func(t *testing.T) {
		var cfg config.Auth
		parseFlags(t, cfg.Flags(),
			"--idam-secret", "user-secret",
			"--s2s-secret", "service-secret",
			"--s2s-allowed-service", "wa_task_management_api",
			"--s2s-allowed-service", "wa_case_event_handler")
		uc, err := cfg.Configure(ctx)
		gt.NoError(t, err).Required()
		gt.Bool(t, uc.IsNoAuthn()).False()
		_, ok := uc.(*usecase.AuthUseCase)
		gt.Bool(t, ok).True()
	})
}

const staticRoles = `
[[assignment]]
actor_id = "alice"
role_name = "tribunal-caseworker"
role_type = "ORGANISATION"
classification = "PUBLIC"
grant_type = "STANDARD"
[assignment.attributes]
jurisdiction = "IA"
`

func TestDownstream(t *testing.T) {
	t.Run("static role assignments", func(t *testing.T) {
		var cfg config.Downstream
		parseFlags(t, cfg.Flags(), "--role-assignment-file", writeFile(t, "roles.toml", staticRoles))
		src, err := cfg.RoleAssignments()
		gt.NoError(t, err).Required()

		list, err := src.GetRoleAssignments(context.Background(), "alice")
		gt.NoError(t, err).Required()
		gt.Array(t, list).Length(1)
	})

	t.Run("role assignment service is required", func(t *testing.T) {
		var cfg config.Downstream
		parseFlags(t, cfg.Flags())
		_, err := cfg.RoleAssignments()
		gt.Error(t, err).Is(config.ErrMissingRequired)
	})

	t.Run("role assignment service", func(t *testing.T) {
		var cfg config.Downstream
		parseFlags(t, cfg.Flags(),
			"--role-assignment-url", "http://role-assignment.local",
			"--s2s-outbound-secret", "service-secret")
		src, err := cfg.RoleAssignments()
		gt.NoError(t, err).Required()
		gt.Value(t, src).NotNil()
	})

	t.Run("workflow is optional", func(t *testing.T) {
		var cfg config.Downstream
		parseFlags(t, cfg.Flags())
		engine, err := cfg.Workflow()
		gt.NoError(t, err).Required()
		gt.Value(t, engine).Nil()
	})

	t.Run("workflow", func(t *testing.T) {
		var cfg config.Downstream
		parseFlags(t, cfg.Flags(), "--workflow-url", "http://workflow.local")
		engine, err := cfg.Workflow()
		gt.NoError(t, err).Required()
		gt.Value(t, engine).NotNil()
	})
}

func TestTaskConfig_Configure(t *testing.T) {
	t.Run("missing path", func(t *testing.T) {
		var cfg config.TaskConfig
		parseFlags(t, cfg.Flags())
		_, err := cfg.Configure()
		gt.Error(t, err).Is(config.ErrMissingRequired)
	})

	t.Run("invalid rules", func(t *testing.T) {
		var cfg config.TaskConfig
		parseFlags(t, cfg.Flags(), "--task-config", writeFile(t, "rules.toml", `
[[rule]]
security_classification = "TOP_SECRET"
`))
		_, err := cfg.Configure()
		gt.Error(t, err).Is(config.ErrInvalidConfig)
	})

	t.Run("valid rules", func(t *testing.T) {
		var cfg config.TaskConfig
		parseFlags(t, cfg.Flags(), "--task-config", writeFile(t, "rules.toml", `
[[rule]]
jurisdiction = "IA"
work_type = "routine_work"
`))
		p, err := cfg.Configure()
		gt.NoError(t, err).Required()
		gt.Value(t, p.RuleCount()).Equal(1)
	})
}

func TestScheduler_Configure(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		var cfg config.Scheduler
		parseFlags(t, cfg.Flags())
		w, err := cfg.Configure(nil)
		gt.NoError(t, err).Required()
		gt.Value(t, w).Nil()
	})

	t.Run("unknown operation", func(t *testing.T) {
		var cfg config.Scheduler
		parseFlags(t, cfg.Flags(), "--schedule", "@every 10m", "--schedule-operation", "REINDEX_ALL")
		_, err := cfg.Configure(nil)
		gt.Value(t, err).NotNil()
	})

	t.Run("enabled", func(t *testing.T) {
		var cfg config.Scheduler
		parseFlags(t, cfg.Flags(), "--schedule", "*/5 * * * *")
		w, err := cfg.Configure(nil)
		gt.NoError(t, err).Required()
		gt.Value(t, w).NotNil()
	})
}

func TestLogger_Configure(t *testing.T) {
	t.Run("invalid level", func(t *testing.T) {
		var cfg config.Logger
		parseFlags(t, cfg.Flags(), "--log-level", "verbose")
		_, err := cfg.Configure()
		gt.Value(t, err).NotNil()
	})

	t.Run("file output", func(t *testing.T) {
		var cfg config.Logger
		parseFlags(t, cfg.Flags(), "--log-format", "json", "--log-output", filepath.Join(t.TempDir(), "docket.log"))
		closer, err := cfg.Configure()
		gt.NoError(t, err).Required()
		closer()
	})
}
