package usecase

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/secmon-lab/docket/pkg/domain/model/auth"
)

const (
	authCacheTTL = 5 * time.Minute
)

type cachedToken struct {
	token     *auth.Token
	expiresAt time.Time
}

// authCache keeps verified tokens keyed by a digest of the raw bearer string
type authCache struct {
	cache sync.Map
}

func newAuthCache() *authCache {
	return &authCache{}
}

func cacheKey(bearer string) string {
	sum := sha256.Sum256([]byte(bearer))
	return hex.EncodeToString(sum[:])
}

func (c *authCache) get(bearer string) (*auth.Token, bool) {
	key := cacheKey(bearer)
	val, ok := c.cache.Load(key)
	if !ok {
		return nil, false
	}

	cached := val.(*cachedToken)
	if time.Now().After(cached.expiresAt) {
		c.cache.Delete(key)
		return nil, false
	}

	return cached.token, true
}

func (c *authCache) set(bearer string, token *auth.Token) {
	expiresAt := time.Now().Add(authCacheTTL)
	if token.ExpiresAt.Before(expiresAt) {
		expiresAt = token.ExpiresAt
	}
	c.cache.Store(cacheKey(bearer), &cachedToken{
		token:     token,
		expiresAt: expiresAt,
	})
}
