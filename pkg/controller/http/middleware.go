package http

import (
	"errors"
	"net/http"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/docket/pkg/domain/model"
	"github.com/secmon-lab/docket/pkg/domain/model/auth"
	"github.com/secmon-lab/docket/pkg/usecase"
)

type AuthUseCase = usecase.AuthUseCaseInterface

const (
	headerServiceAuthorization = "ServiceAuthorization"
	headerAuthorization        = "Authorization"
)

// bearer strips an optional "Bearer " prefix
func bearer(v string) string {
	v = strings.TrimSpace(v)
	if len(v) > 7 && strings.EqualFold(v[:7], "bearer ") {
		return strings.TrimSpace(v[7:])
	}
	return v
}

// authMiddleware resolves the caller. A service token wins over a user token;
// requests with neither are rejected unless authentication is disabled.
func authMiddleware(authUC AuthUseCase) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			var (
				token *auth.Token
				err   error
			)
			switch {
			case authUC == nil:
				token = auth.NewAnonymousUser()
			case r.Header.Get(headerServiceAuthorization) != "":
				token, err = authUC.ValidateServiceToken(ctx, bearer(r.Header.Get(headerServiceAuthorization)))
			case r.Header.Get(headerAuthorization) != "" || authUC.IsNoAuthn():
				token, err = authUC.ValidateToken(ctx, bearer(r.Header.Get(headerAuthorization)))
			default:
				err = goerr.Wrap(model.ErrUnauthenticated, "authentication required")
			}

			if err != nil {
				if !errors.Is(err, model.ErrUnauthenticated) {
					err = errors.Join(model.ErrUnauthenticated, err)
				}
				writeError(w, r, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(auth.ContextWithToken(ctx, token)))
		})
	}
}
