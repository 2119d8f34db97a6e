package roleassignment

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/docket/pkg/domain/interfaces"
	"github.com/secmon-lab/docket/pkg/domain/model"
	"github.com/secmon-lab/docket/pkg/domain/types"
)

const (
	defaultCacheSize = 4096
	defaultCacheTTL  = time.Minute
)

// Cached memoises another source per actor for a short TTL. Failures are not cached.
type Cached struct {
	source interfaces.RoleAssignmentSource
	cache  *expirable.LRU[types.ActorID, []*model.RoleAssignment]
}

var (
	_ interfaces.RoleAssignmentSource  = &Cached{}
	_ interfaces.RoleAssignmentQuerier = &Cached{}
)

type CacheOption func(*cacheConfig)

type cacheConfig struct {
	size int
	ttl  time.Duration
}

func WithCacheSize(size int) CacheOption {
	return func(c *cacheConfig) {
		c.size = size
	}
}

func WithCacheTTL(ttl time.Duration) CacheOption {
	return func(c *cacheConfig) {
		c.ttl = ttl
	}
}

func NewCached(source interfaces.RoleAssignmentSource, opts ...CacheOption) *Cached {
	cfg := cacheConfig{size: defaultCacheSize, ttl: defaultCacheTTL}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Cached{
		source: source,
		cache:  expirable.NewLRU[types.ActorID, []*model.RoleAssignment](cfg.size, nil, cfg.ttl),
	}
}

func (c *Cached) GetRoleAssignments(ctx context.Context, actorID types.ActorID) ([]*model.RoleAssignment, error) {
	if list, ok := c.cache.Get(actorID); ok {
		return copyList(list), nil
	}

	list, err := c.source.GetRoleAssignments(ctx, actorID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to load role assignments", goerr.V(model.ActorIDKey, actorID))
	}
	c.cache.Add(actorID, copyList(list))
	return list, nil
}

// Invalidate drops the cached assignments of actorID
func (c *Cached) Invalidate(actorID types.ActorID) {
	c.cache.Remove(actorID)
}

func copyList(list []*model.RoleAssignment) []*model.RoleAssignment {
	out := make([]*model.RoleAssignment, len(list))
	copy(out, list)
	return out
}

// QueryRoleAssignments passes through uncached. Sources that cannot be queried yield nothing.
func (c *Cached) QueryRoleAssignments(ctx context.Context, roleNames []string, target model.TaskTarget) ([]*model.RoleAssignment, error) {
	querier, ok := c.source.(interfaces.RoleAssignmentQuerier)
	if !ok {
		return nil, nil
	}
	return querier.QueryRoleAssignments(ctx, roleNames, target)
}
