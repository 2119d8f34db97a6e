package config

import (
	"context"
	"log/slog"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/docket/pkg/domain/types"
	"github.com/secmon-lab/docket/pkg/usecase"
	"github.com/secmon-lab/docket/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

// Auth holds CLI flags for caller authentication
type Auth struct {
	jwksURL         string
	userSecret      string
	issuer          string
	audience        string
	serviceSecret   string
	allowedServices []string
	noAuthnUser     string
}

func (x *Auth) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "idam-jwks-url",
			Usage:       "JWKS endpoint used to verify user tokens",
			Category:    "Authentication",
			Sources:     cli.EnvVars("DOCKET_IDAM_JWKS_URL"),
			Destination: &x.jwksURL,
		},
		&cli.StringFlag{
			Name:        "idam-secret",
			Usage:       "HS256 secret used to verify user tokens when no JWKS is available",
			Category:    "Authentication",
			Sources:     cli.EnvVars("DOCKET_IDAM_SECRET"),
			Destination: &x.userSecret,
		},
		&cli.StringFlag{
			Name:        "idam-issuer",
			Usage:       "Expected issuer of user tokens",
			Category:    "Authentication",
			Sources:     cli.EnvVars("DOCKET_IDAM_ISSUER"),
			Destination: &x.issuer,
		},
		&cli.StringFlag{
			Name:        "idam-audience",
			Usage:       "Expected audience of user tokens",
			Category:    "Authentication",
			Sources:     cli.EnvVars("DOCKET_IDAM_AUDIENCE"),
			Destination: &x.audience,
		},
		&cli.StringFlag{
			Name:        "s2s-secret",
			Usage:       "HS256 secret shared with calling services",
			Category:    "Authentication",
			Sources:     cli.EnvVars("DOCKET_S2S_SECRET"),
			Destination: &x.serviceSecret,
		},
		&cli.StringSliceFlag{
			Name:        "s2s-allowed-service",
			Usage:       "Service allowed to call service-only endpoints (repeatable)",
			Category:    "Authentication",
			Sources:     cli.EnvVars("DOCKET_S2S_ALLOWED_SERVICES"),
			Destination: &x.allowedServices,
		},
		&cli.StringFlag{
			Name:        "no-authn",
			Usage:       "Skip authentication and act as the given user ID (development only)",
			Category:    "Authentication",
			Sources:     cli.EnvVars("DOCKET_NO_AUTHN"),
			Destination: &x.noAuthnUser,
		},
	}
}

func (x Auth) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("jwks_url", x.jwksURL),
		slog.Int("idam_secret.len", len(x.userSecret)),
		slog.String("issuer", x.issuer),
		slog.Int("s2s_secret.len", len(x.serviceSecret)),
		slog.Any("allowed_services", x.allowedServices),
		slog.Bool("no_authn", x.noAuthnUser != ""),
	)
}

// IsNoAuthn reports whether authentication is disabled
func (x *Auth) IsNoAuthn() bool {
	return x.noAuthnUser != ""
}

// Configure builds the authentication use case. --no-authn wins over every
// other option.
func (x *Auth) Configure(ctx context.Context) (usecase.AuthUseCaseInterface, error) {
	if x.noAuthnUser != "" {
		logging.Default().Warn("Running in no-authn mode (development only)", "user_id", x.noAuthnUser)
		return usecase.NewNoAuthnUseCase(types.ActorID(x.noAuthnUser), x.noAuthnUser), nil
	}

	if x.jwksURL == "" && x.userSecret == "" {
		return nil, goerr.Wrap(ErrMissingRequired, "idam-jwks-url or idam-secret is required",
			goerr.V(FlagKey, "idam-jwks-url"))
	}

	var opts []usecase.AuthOption
	if x.userSecret != "" {
		opts = append(opts, usecase.WithUserSecret([]byte(x.userSecret)))
	}
	if x.issuer != "" {
		opts = append(opts, usecase.WithIssuer(x.issuer))
	}
	if x.audience != "" {
		opts = append(opts, usecase.WithAudience(x.audience))
	}
	if x.serviceSecret != "" {
		if len(x.allowedServices) == 0 {
			return nil, goerr.Wrap(ErrMissingRequired, "s2s-allowed-service is required with s2s-secret",
				goerr.V(FlagKey, "s2s-allowed-service"))
		}
		opts = append(opts, usecase.WithServiceSecret([]byte(x.serviceSecret), x.allowedServices...))
	}

	uc, err := usecase.NewAuthUseCase(ctx, x.jwksURL, opts...)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to configure authentication")
	}
	return uc, nil
}
