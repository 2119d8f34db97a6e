package config

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/docket/pkg/domain/interfaces"
	"github.com/secmon-lab/docket/pkg/service/gateway"
	"github.com/secmon-lab/docket/pkg/service/roleassignment"
	"github.com/secmon-lab/docket/pkg/service/servicetoken"
	"github.com/secmon-lab/docket/pkg/service/workflow"
	"github.com/secmon-lab/docket/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

// Downstream holds CLI flags for the services docket calls: the workflow
// engine and the role assignment service
type Downstream struct {
	workflowURL       string
	roleAssignmentURL string
	roleStaticFile    string
	roleCacheTTL      time.Duration
	serviceName       string
	serviceSecret     string
	timeout           time.Duration
	maxAttempts       int
	initialBackoff    time.Duration
	maxBackoff        time.Duration
}

func (x *Downstream) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "workflow-url",
			Usage:       "Base URL of the workflow engine REST API",
			Category:    "Downstream",
			Sources:     cli.EnvVars("DOCKET_WORKFLOW_URL"),
			Destination: &x.workflowURL,
		},
		&cli.StringFlag{
			Name:        "role-assignment-url",
			Usage:       "Base URL of the role assignment service",
			Category:    "Downstream",
			Sources:     cli.EnvVars("DOCKET_ROLE_ASSIGNMENT_URL"),
			Destination: &x.roleAssignmentURL,
		},
		&cli.StringFlag{
			Name:        "role-assignment-file",
			Usage:       "TOML file of static role assignments, used instead of the role assignment service",
			Category:    "Downstream",
			Sources:     cli.EnvVars("DOCKET_ROLE_ASSIGNMENT_FILE"),
			Destination: &x.roleStaticFile,
		},
		&cli.DurationFlag{
			Name:        "role-assignment-cache-ttl",
			Usage:       "How long role assignments of an actor are cached (0 disables the cache)",
			Value:       time.Minute,
			Category:    "Downstream",
			Sources:     cli.EnvVars("DOCKET_ROLE_ASSIGNMENT_CACHE_TTL"),
			Destination: &x.roleCacheTTL,
		},
		&cli.StringFlag{
			Name:        "s2s-name",
			Usage:       "Service name presented to downstream services",
			Value:       "docket",
			Category:    "Downstream",
			Sources:     cli.EnvVars("DOCKET_S2S_NAME"),
			Destination: &x.serviceName,
		},
		&cli.StringFlag{
			Name:        "s2s-outbound-secret",
			Usage:       "HS256 secret used to sign tokens for downstream services",
			Category:    "Downstream",
			Sources:     cli.EnvVars("DOCKET_S2S_OUTBOUND_SECRET"),
			Destination: &x.serviceSecret,
		},
		&cli.DurationFlag{
			Name:        "downstream-timeout",
			Usage:       "Timeout of a single downstream attempt",
			Value:       10 * time.Second,
			Category:    "Downstream",
			Sources:     cli.EnvVars("DOCKET_DOWNSTREAM_TIMEOUT"),
			Destination: &x.timeout,
		},
		&cli.IntFlag{
			Name:        "downstream-max-attempts",
			Usage:       "Attempts per downstream call including the first",
			Value:       gateway.DefaultRetryPolicy().MaxAttempts,
			Category:    "Downstream",
			Sources:     cli.EnvVars("DOCKET_DOWNSTREAM_MAX_ATTEMPTS"),
			Destination: &x.maxAttempts,
		},
		&cli.DurationFlag{
			Name:        "downstream-initial-backoff",
			Usage:       "Delay before the first retry",
			Value:       gateway.DefaultRetryPolicy().InitialBackoff,
			Category:    "Downstream",
			Sources:     cli.EnvVars("DOCKET_DOWNSTREAM_INITIAL_BACKOFF"),
			Destination: &x.initialBackoff,
		},
		&cli.DurationFlag{
			Name:        "downstream-max-backoff",
			Usage:       "Upper bound of the delay between retries",
			Value:       gateway.DefaultRetryPolicy().MaxBackoff,
			Category:    "Downstream",
			Sources:     cli.EnvVars("DOCKET_DOWNSTREAM_MAX_BACKOFF"),
			Destination: &x.maxBackoff,
		},
	}
}

func (x Downstream) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("workflow_url", x.workflowURL),
		slog.String("role_assignment_url", x.roleAssignmentURL),
		slog.String("role_assignment_file", x.roleStaticFile),
		slog.String("s2s_name", x.serviceName),
		slog.Int("s2s_outbound_secret.len", len(x.serviceSecret)),
		slog.Int("max_attempts", x.maxAttempts),
	)
}

func (x *Downstream) retryPolicy() gateway.RetryPolicy {
	policy := gateway.DefaultRetryPolicy()
	policy.MaxAttempts = x.maxAttempts
	policy.InitialBackoff = x.initialBackoff
	policy.MaxBackoff = x.maxBackoff
	return policy
}

func logAttempt(ctx context.Context, a gateway.Attempt) {
	if a.Err == nil && a.StatusCode < http.StatusBadRequest {
		return
	}
	logging.From(ctx).Warn("downstream attempt failed",
		"attempt", a.Number,
		"method", a.Method,
		"url", a.URL,
		"status", a.StatusCode,
		"error", a.Err)
}

func (x *Downstream) newCaller(name, baseURL string) (*gateway.Caller, error) {
	opts := []gateway.Option{
		gateway.WithHTTPClient(&http.Client{Timeout: x.timeout}),
		gateway.WithRetryPolicy(x.retryPolicy()),
		gateway.WithAttemptHook(logAttempt),
	}
	if x.serviceSecret != "" {
		tokens, err := servicetoken.New(x.serviceName, []byte(x.serviceSecret))
		if err != nil {
			return nil, goerr.Wrap(err, "failed to configure service token", goerr.V("downstream", name))
		}
		opts = append(opts, gateway.WithTokenSource(tokens))
	}
	return gateway.New(name, baseURL, opts...), nil
}

// Workflow builds the workflow engine client. It returns nil when no engine
// is configured.
func (x *Downstream) Workflow() (interfaces.WorkflowEngine, error) {
	if x.workflowURL == "" {
		return nil, nil
	}
	caller, err := x.newCaller("workflow", x.workflowURL)
	if err != nil {
		return nil, err
	}
	return workflow.New(caller), nil
}

// RoleAssignments builds the role assignment source. A static file wins over
// the service URL. Assignments from the service are cached per actor.
func (x *Downstream) RoleAssignments() (interfaces.RoleAssignmentSource, error) {
	if x.roleStaticFile != "" {
		src, err := roleassignment.LoadStatic(x.roleStaticFile)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to load static role assignments", goerr.V(PathKey, x.roleStaticFile))
		}
		logging.Default().Info("Using static role assignments", "path", x.roleStaticFile)
		return src, nil
	}
	if x.roleAssignmentURL == "" {
		return nil, goerr.Wrap(ErrMissingRequired, "role-assignment-url or role-assignment-file is required",
			goerr.V(FlagKey, "role-assignment-url"))
	}

	caller, err := x.newCaller("role-assignment", x.roleAssignmentURL)
	if err != nil {
		return nil, err
	}
	client := roleassignment.NewClient(caller)
	if x.roleCacheTTL <= 0 {
		return client, nil
	}
	return roleassignment.NewCached(client, roleassignment.WithCacheTTL(x.roleCacheTTL)), nil
}
