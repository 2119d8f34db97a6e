package usecase

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/docket/pkg/domain/model"
	"github.com/secmon-lab/docket/pkg/domain/model/auth"
	"github.com/secmon-lab/docket/pkg/domain/types"
	"github.com/secmon-lab/docket/pkg/utils/logging"
)

// AuthUseCaseInterface resolves bearer tokens into caller identities
type AuthUseCaseInterface interface {
	// ValidateToken verifies a user bearer token
	ValidateToken(ctx context.Context, bearer string) (*auth.Token, error)
	// ValidateServiceToken verifies a token minted by a calling service
	ValidateServiceToken(ctx context.Context, bearer string) (*auth.Token, error)
	IsNoAuthn() bool
}

// acceptableSkew tolerates clock differences between issuer and this service
const acceptableSkew = 10 * time.Second

type AuthUseCase struct {
	userKeys        jwk.Set
	userSecret      []byte
	issuer          string
	audience        string
	serviceSecret   []byte
	allowedServices []string
	cache           *authCache
}

type AuthOption func(*AuthUseCase)

// WithUserSecret verifies user tokens signed with HS256 instead of a JWKS
func WithUserSecret(secret []byte) AuthOption {
	return func(uc *AuthUseCase) {
		uc.userSecret = secret
	}
}

func WithIssuer(issuer string) AuthOption {
	return func(uc *AuthUseCase) {
		uc.issuer = issuer
	}
}

func WithAudience(audience string) AuthOption {
	return func(uc *AuthUseCase) {
		uc.audience = audience
	}
}

// WithServiceSecret enables service tokens signed with secret. When services are
// given, only tokens issued by one of them are accepted.
func WithServiceSecret(secret []byte, services ...string) AuthOption {
	return func(uc *AuthUseCase) {
		uc.serviceSecret = secret
		uc.allowedServices = services
	}
}

// NewAuthUseCase verifies user tokens against the key set published at jwksURL.
// jwksURL may be empty when WithUserSecret is given.
func NewAuthUseCase(ctx context.Context, jwksURL string, options ...AuthOption) (*AuthUseCase, error) {
	uc := &AuthUseCase{
		cache: newAuthCache(),
	}
	for _, opt := range options {
		opt(uc)
	}

	if jwksURL != "" {
		c := jwk.NewCache(ctx)
		if err := c.Register(jwksURL, jwk.WithMinRefreshInterval(15*time.Minute)); err != nil {
			return nil, goerr.Wrap(err, "failed to register JWKS", goerr.V("jwks_url", jwksURL))
		}
		if _, err := c.Refresh(ctx, jwksURL); err != nil {
			return nil, goerr.Wrap(err, "failed to fetch JWKS", goerr.V("jwks_url", jwksURL))
		}
		uc.userKeys = jwk.NewCachedSet(c, jwksURL)
	}

	if uc.userKeys == nil && len(uc.userSecret) == 0 {
		return nil, goerr.New("either JWKS URL or user token secret is required")
	}
	return uc, nil
}

// IsNoAuthn returns false for regular AuthUseCase
func (uc *AuthUseCase) IsNoAuthn() bool {
	return false
}

// ValidateToken verifies a user bearer token and returns the caller
func (uc *AuthUseCase) ValidateToken(ctx context.Context, bearer string) (*auth.Token, error) {
	if bearer == "" {
		return nil, goerr.Wrap(model.ErrUnauthenticated, "bearer token is empty")
	}
	if token, ok := uc.cache.get(bearer); ok {
		return token, nil
	}

	opts := []jwt.ParseOption{
		jwt.WithValidate(true),
		jwt.WithAcceptableSkew(acceptableSkew),
	}
	if uc.userKeys != nil {
		opts = append(opts, jwt.WithKeySet(uc.userKeys))
	} else {
		opts = append(opts, jwt.WithKey(jwa.HS256, uc.userSecret))
	}
	if uc.issuer != "" {
		opts = append(opts, jwt.WithIssuer(uc.issuer))
	}
	if uc.audience != "" {
		opts = append(opts, jwt.WithAudience(uc.audience))
	}

	parsed, err := jwt.Parse([]byte(bearer), opts...)
	if err != nil {
		return nil, goerr.Wrap(errors.Join(model.ErrUnauthenticated, err), "failed to verify user token")
	}

	token, err := tokenFromJWT(parsed)
	if err != nil {
		return nil, err
	}
	if name, ok := parsed.Get("name"); ok {
		if s, ok := name.(string); ok {
			token.Name = s
		}
	}

	uc.cache.set(bearer, token)
	logging.From(ctx).Debug("user token verified", "sub", token.Sub, "token_id", token.ID)
	return token, nil
}

// ValidateServiceToken verifies a service token and returns the calling service
func (uc *AuthUseCase) ValidateServiceToken(ctx context.Context, bearer string) (*auth.Token, error) {
	if len(uc.serviceSecret) == 0 {
		return nil, goerr.Wrap(model.ErrUnauthenticated, "service tokens are not accepted")
	}
	if bearer == "" {
		return nil, goerr.Wrap(model.ErrUnauthenticated, "service token is empty")
	}
	if token, ok := uc.cache.get(bearer); ok && token.IsService() {
		return token, nil
	}

	parsed, err := jwt.Parse([]byte(bearer),
		jwt.WithKey(jwa.HS256, uc.serviceSecret),
		jwt.WithValidate(true),
		jwt.WithAcceptableSkew(acceptableSkew),
	)
	if err != nil {
		return nil, goerr.Wrap(errors.Join(model.ErrUnauthenticated, err), "failed to verify service token")
	}

	service := parsed.Issuer()
	if service == "" {
		return nil, goerr.Wrap(model.ErrUnauthenticated, "service token has no issuer")
	}
	if len(uc.allowedServices) > 0 && !slices.Contains(uc.allowedServices, service) {
		return nil, goerr.Wrap(model.ErrUnauthenticated, "service is not allowed", goerr.V("service", service))
	}

	token, err := tokenFromJWT(parsed)
	if err != nil {
		return nil, err
	}
	token.Sub = types.ActorID(service)
	token.Name = service
	token.Service = service

	uc.cache.set(bearer, token)
	return token, nil
}

func tokenFromJWT(parsed jwt.Token) (*auth.Token, error) {
	if parsed.Subject() == "" {
		return nil, goerr.Wrap(model.ErrUnauthenticated, "sub claim not found in token")
	}
	if parsed.Expiration().IsZero() {
		return nil, goerr.Wrap(model.ErrUnauthenticated, "exp claim not found in token", goerr.V("sub", parsed.Subject()))
	}

	id := auth.TokenID(parsed.JwtID())
	if id == "" {
		id = auth.NewTokenID()
	}
	return &auth.Token{
		ID:        id,
		Sub:       types.ActorID(parsed.Subject()),
		Name:      parsed.Subject(),
		ExpiresAt: parsed.Expiration(),
	}, nil
}
