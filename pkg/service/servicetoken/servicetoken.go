package servicetoken

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/docket/pkg/utils/logging"
)

const (
	defaultTTL = 10 * time.Minute
	// renewBefore keeps a token from expiring while a call is in flight
	renewBefore = 30 * time.Second
)

// Source mints HS256 service tokens identifying this service to downstream services.
// A token is reused until it is close to expiry or Refresh is called.
type Source struct {
	service string
	secret  []byte
	ttl     time.Duration
	now     func() time.Time

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

type Option func(*Source)

func WithTTL(ttl time.Duration) Option {
	return func(s *Source) {
		s.ttl = ttl
	}
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(s *Source) {
		s.now = now
	}
}

// New creates a token source for service, signing with secret
func New(service string, secret []byte, opts ...Option) (*Source, error) {
	if service == "" {
		return nil, goerr.New("service name is required")
	}
	if len(secret) < 32 {
		return nil, goerr.New("service token secret must be at least 32 bytes", goerr.V("length", len(secret)))
	}

	s := &Source{
		service: service,
		secret:  secret,
		ttl:     defaultTTL,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Token returns the cached token or mints a new one
func (s *Source) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token != "" && s.now().Add(renewBefore).Before(s.expiresAt) {
		return s.token, nil
	}
	return s.mint(ctx)
}

// Refresh drops the cached token and mints a new one
func (s *Source) Refresh(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.token = ""
	return s.mint(ctx)
}

func (s *Source) mint(ctx context.Context) (string, error) {
	now := s.now().UTC()
	exp := now.Add(s.ttl)

	tok, err := jwt.NewBuilder().
		JwtID(uuid.NewString()).
		Issuer(s.service).
		Subject(s.service).
		IssuedAt(now).
		Expiration(exp).
		Build()
	if err != nil {
		return "", goerr.Wrap(err, "failed to build service token")
	}

	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256, s.secret))
	if err != nil {
		return "", goerr.Wrap(err, "failed to sign service token")
	}

	s.token = string(signed)
	s.expiresAt = exp
	logging.From(ctx).Debug("minted service token", "service", s.service, "jti", tok.JwtID(), "expires_at", exp)
	return s.token, nil
}
