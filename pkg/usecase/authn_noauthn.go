package usecase

import (
	"context"

	"github.com/secmon-lab/docket/pkg/domain/model/auth"
	"github.com/secmon-lab/docket/pkg/domain/types"
)

// NoAuthnService is the service name given to every service call in no-auth mode
const NoAuthnService = "no-authn"

// NoAuthnUseCase accepts every caller as a fixed user (for development/testing)
type NoAuthnUseCase struct {
	sub  types.ActorID
	name string
}

// NewNoAuthnUseCase creates a NoAuthnUseCase. An empty sub means the anonymous user.
func NewNoAuthnUseCase(sub types.ActorID, name string) *NoAuthnUseCase {
	if sub == "" {
		sub = auth.AnonymousActor
		name = "Anonymous"
	}
	return &NoAuthnUseCase{sub: sub, name: name}
}

// ValidateToken always returns a token for the configured user
func (uc *NoAuthnUseCase) ValidateToken(ctx context.Context, bearer string) (*auth.Token, error) {
	return auth.NewToken(uc.sub, uc.name), nil
}

// ValidateServiceToken accepts any service token
func (uc *NoAuthnUseCase) ValidateServiceToken(ctx context.Context, bearer string) (*auth.Token, error) {
	return auth.NewServiceToken(NoAuthnService), nil
}

// IsNoAuthn returns true for NoAuthnUseCase
func (uc *NoAuthnUseCase) IsNoAuthn() bool {
	return true
}
