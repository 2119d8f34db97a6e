package auth

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/docket/pkg/domain/types"
)

// TokenID is the unique id (jti) of a verified caller token
type TokenID string

// NewTokenID generates a random token id
func NewTokenID() TokenID {
	return TokenID(uuid.New().String())
}

// Validate checks the token id is not empty
func (id TokenID) Validate() error {
	if id == "" {
		return goerr.New("token ID is empty")
	}
	return nil
}

// String returns the string representation of TokenID
func (id TokenID) String() string {
	return string(id)
}

// AnonymousActor is the caller used when authentication is disabled
const AnonymousActor types.ActorID = "anonymous"

// Token is the resolved identity of the caller of a request
type Token struct {
	ID        TokenID
	Sub       types.ActorID
	Name      string
	Service   string // calling service name, empty for human callers
	ExpiresAt time.Time
}

// NewToken builds a token for sub valid for one hour
func NewToken(sub types.ActorID, name string) *Token {
	return &Token{
		ID:        NewTokenID(),
		Sub:       sub,
		Name:      name,
		ExpiresAt: time.Now().Add(time.Hour),
	}
}

// NewAnonymousUser returns the caller used in no-auth mode
func NewAnonymousUser() *Token {
	return NewToken(AnonymousActor, "Anonymous")
}

// NewServiceToken builds a token for a calling service rather than a person
func NewServiceToken(service string) *Token {
	t := NewToken(types.ActorID(service), service)
	t.Service = service
	return t
}

// IsService reports whether the caller is a service
func (t *Token) IsService() bool {
	return t.Service != ""
}

// IsExpired reports whether the token is past its expiry
func (t *Token) IsExpired() bool {
	return time.Now().After(t.ExpiresAt)
}

// Validate checks mandatory fields
func (t *Token) Validate() error {
	if err := t.ID.Validate(); err != nil {
		return err
	}
	if t.Sub == "" {
		return goerr.New("token subject is empty", goerr.V("token_id", t.ID))
	}
	return nil
}

type ctxTokenKey struct{}

// ContextWithToken stores the caller token in ctx
func ContextWithToken(ctx context.Context, token *Token) context.Context {
	return context.WithValue(ctx, ctxTokenKey{}, token)
}

// ErrNoToken is returned when the context carries no caller token
var ErrNoToken = errors.New("no auth token in context")

// TokenFromContext returns the caller token stored by ContextWithToken
func TokenFromContext(ctx context.Context) (*Token, error) {
	token, ok := ctx.Value(ctxTokenKey{}).(*Token)
	if !ok || token == nil {
		return nil, ErrNoToken
	}
	return token, nil
}
