package usecase_test

import (
	"context"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/docket/pkg/domain/model"
	"github.com/secmon-lab/docket/pkg/domain/model/auth"
	"github.com/secmon-lab/docket/pkg/domain/types"
	"github.com/secmon-lab/docket/pkg/service/servicetoken"
	"github.com/secmon-lab/docket/pkg/usecase"
)

var (
	userSecret    = []byte("user-secret-user-secret-user-secret!")
	serviceSecret = []byte("service-secret-service-secret-service!")
)

func signUserToken(t *testing.T, secret []byte, sub string, exp time.Time) string {
	t.Helper()
	tok, err := jwt.NewBuilder().
		JwtID("jti-" + sub).
		Subject(sub).
		Issuer("idam").
		IssuedAt(time.Now()).
		Expiration(exp).
		Claim("name", "Alice Example").
		Build()
	gt.NoError(t, err).Required()
	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256, secret))
	gt.NoError(t, err).Required()
	return string(signed)
}

func TestAuthUseCase_ValidateToken(t *testing.T) {
	ctx := context.Background()
	uc, err := usecase.NewAuthUseCase(ctx, "",
		usecase.WithUserSecret(userSecret),
		usecase.WithIssuer("idam"),
		usecase.WithServiceSecret(serviceSecret, "wa_task_management_api"),
	)
	gt.NoError(t, err).Required()
	gt.Bool(t, uc.IsNoAuthn()).False()

	t.Run("valid user token", func(t *testing.T) {
		bearer := signUserToken(t, userSecret, "alice", time.Now().Add(time.Hour))
		token, err := uc.ValidateToken(ctx, bearer)
		gt.NoError(t, err).Required()
		gt.Value(t, token.Sub).Equal(types.ActorID("alice"))
		gt.Value(t, token.Name).Equal("Alice Example")
		gt.Value(t, token.ID).Equal(auth.TokenID("jti-alice"))
		gt.Bool(t, token.IsService()).False()

		// served from cache
		again, err := uc.ValidateToken(ctx, bearer)
		gt.NoError(t, err).Required()
		gt.Value(t, again).Equal(token)
	})

	t.Run("wrong key", func(t *testing.T) {
		bearer := signUserToken(t, serviceSecret, "alice", time.Now().Add(time.Hour))
		_, err := uc.ValidateToken(ctx, bearer)
		gt.Error(t, err).Is(model.ErrUnauthenticated)
	})

	t.Run("expired", func(t *testing.T) {
		bearer := signUserToken(t, userSecret, "alice", time.Now().Add(-time.Hour))
		_, err := uc.ValidateToken(ctx, bearer)
		gt.Error(t, err).Is(model.ErrUnauthenticated)
	})

	t.Run("empty", func(t *testing.T) {
		_, err := uc.ValidateToken(ctx, "")
		gt.Error(t, err).Is(model.ErrUnauthenticated)
	})

	t.Run("service token from allowed service", func(t *testing.T) {
		src, err := servicetoken.New("wa_task_management_api", serviceSecret)
		gt.NoError(t, err).Required()
		bearer, err := src.Token(ctx)
		gt.NoError(t, err).Required()

		token, err := uc.ValidateServiceToken(ctx, bearer)
		gt.NoError(t, err).Required()
		gt.Bool(t, token.IsService()).True()
		gt.Value(t, token.Sub).Equal(types.ActorID("wa_task_management_api"))
	})

	t.Run("service token from unknown service", func(t *testing.T) {
		src, err := servicetoken.New("ccd_data", serviceSecret)
		gt.NoError(t, err).Required()
		bearer, err := src.Token(ctx)
		gt.NoError(t, err).Required()

		_, err = uc.ValidateServiceToken(ctx, bearer)
		gt.Error(t, err).Is(model.ErrUnauthenticated)
	})

	t.Run("user token is not a service token", func(t *testing.T) {
		bearer := signUserToken(t, userSecret, "bob", time.Now().Add(time.Hour))
		_, err := uc.ValidateServiceToken(ctx, bearer)
		gt.Error(t, err).Is(model.ErrUnauthenticated)
	})
}

func TestNewAuthUseCase_RequiresKeys(t *testing.T) {
	_, err := usecase.NewAuthUseCase(context.Background(), "")
	gt.Value(t, err).NotNil()
}

func TestNoAuthnUseCase(t *testing.T) {
	ctx := context.Background()

	t.Run("configured user", func(t *testing.T) {
		uc := usecase.NewNoAuthnUseCase("alice", "Alice")
		token, err := uc.ValidateToken(ctx, "")
		gt.NoError(t, err).Required()
		gt.Value(t, token.Sub).Equal(types.ActorID("alice"))
		gt.Value(t, token.Name).Equal("Alice")
		gt.Bool(t, uc.IsNoAuthn()).True()
	})

	t.Run("anonymous by default", func(t *testing.T) {
		uc := usecase.NewNoAuthnUseCase("", "")
		token, err := uc.ValidateToken(ctx, "anything")
		gt.NoError(t, err).Required()
		gt.Value(t, token.Sub).Equal(auth.AnonymousActor)
	})

	t.Run("service calls are accepted", func(t *testing.T) {
		uc := usecase.NewNoAuthnUseCase("", "")
		token, err := uc.ValidateServiceToken(ctx, "anything")
		gt.NoError(t, err).Required()
		gt.Bool(t, token.IsService()).True()
		gt.Value(t, token.Service).Equal(usecase.NoAuthnService)
	})
}
