package usecase

import (
	"time"

	"github.com/secmon-lab/docket/pkg/domain/interfaces"
)

type UseCases struct {
	repo     interfaces.Repository
	roles    interfaces.RoleAssignmentSource
	engine   interfaces.WorkflowEngine
	config   interfaces.TaskConfigurationProvider
	reporter interfaces.OperationReporter
	now      func() time.Time

	Task      *TaskUseCase
	Operation *OperationUseCase
	Auth      AuthUseCaseInterface
}

type Option func(*UseCases)

// WithRoleAssignments sets where caller role assignments come from. Without it every
// caller holds no role and is denied.
func WithRoleAssignments(src interfaces.RoleAssignmentSource) Option {
	return func(uc *UseCases) {
		uc.roles = src
	}
}

func WithWorkflowEngine(engine interfaces.WorkflowEngine) Option {
	return func(uc *UseCases) {
		uc.engine = engine
	}
}

func WithConfigurationProvider(provider interfaces.TaskConfigurationProvider) Option {
	return func(uc *UseCases) {
		uc.config = provider
	}
}

func WithOperationReporter(reporter interfaces.OperationReporter) Option {
	return func(uc *UseCases) {
		uc.reporter = reporter
	}
}

func WithAuth(auth AuthUseCaseInterface) Option {
	return func(uc *UseCases) {
		uc.Auth = auth
	}
}

// WithClock replaces time.Now. Returned times are normalised to UTC.
func WithClock(now func() time.Time) Option {
	return func(uc *UseCases) {
		uc.now = now
	}
}

func New(repo interfaces.Repository, opts ...Option) *UseCases {
	uc := &UseCases{
		repo: repo,
		now:  time.Now,
	}

	for _, opt := range opts {
		opt(uc)
	}

	clock := func() time.Time { return uc.now().UTC() }
	authz := newAuthorizer(uc.roles, clock)

	uc.Task = NewTaskUseCase(repo, authz, uc.engine, uc.config, clock)
	uc.Operation = NewOperationUseCase(repo, authz, uc.config, uc.reporter, clock)
	if uc.Auth == nil {
		uc.Auth = NewNoAuthnUseCase("", "")
	}

	return uc
}
