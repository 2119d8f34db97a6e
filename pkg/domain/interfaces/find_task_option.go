package interfaces

import (
	"slices"
	"time"

	"github.com/secmon-lab/docket/pkg/domain/model"
	"github.com/secmon-lab/docket/pkg/domain/types"
)

// FindTaskOption is a functional option for filtering tasks in Find
type FindTaskOption func(*findTaskConfig)

type findTaskConfig struct {
	caseIDs         []types.CaseID
	states          []types.TaskState
	jurisdictions   []string
	marked          *bool
	requestedBefore *time.Time
	requestedAfter  *time.Time
	indexed         *bool
	limit           int
}

// WithCaseIDs keeps tasks of any of the given cases
func WithCaseIDs(ids ...types.CaseID) FindTaskOption {
	return func(c *findTaskConfig) {
		c.caseIDs = append(c.caseIDs, ids...)
	}
}

// WithStates keeps tasks in any of the given states
func WithStates(states ...types.TaskState) FindTaskOption {
	return func(c *findTaskConfig) {
		c.states = append(c.states, states...)
	}
}

// WithJurisdictions keeps tasks of any of the given jurisdictions
func WithJurisdictions(jurisdictions ...string) FindTaskOption {
	return func(c *findTaskConfig) {
		c.jurisdictions = append(c.jurisdictions, jurisdictions...)
	}
}

// WithReconfigureMarked keeps tasks whose reconfigure marker is (or is not) set
func WithReconfigureMarked(marked bool) FindTaskOption {
	return func(c *findTaskConfig) {
		c.marked = &marked
	}
}

// WithRequestedBefore keeps marked tasks whose marker is at or before t
func WithRequestedBefore(t time.Time) FindTaskOption {
	return func(c *findTaskConfig) {
		v := t.UTC()
		c.requestedBefore = &v
	}
}

// WithRequestedAfter keeps marked tasks whose marker is at or after t
func WithRequestedAfter(t time.Time) FindTaskOption {
	return func(c *findTaskConfig) {
		v := t.UTC()
		c.requestedAfter = &v
	}
}

// WithIndexed keeps tasks with the given search index flag
func WithIndexed(indexed bool) FindTaskOption {
	return func(c *findTaskConfig) {
		c.indexed = &indexed
	}
}

// WithLimit caps the number of returned tasks. Zero means unlimited.
func WithLimit(n int) FindTaskOption {
	return func(c *findTaskConfig) {
		c.limit = n
	}
}

// BuildFindTaskConfig builds a findTaskConfig from options
func BuildFindTaskConfig(opts ...FindTaskOption) *findTaskConfig {
	cfg := &findTaskConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.requestedBefore != nil || cfg.requestedAfter != nil {
		marked := true
		cfg.marked = &marked
	}
	return cfg
}

func (c *findTaskConfig) CaseIDs() []types.CaseID      { return c.caseIDs }
func (c *findTaskConfig) States() []types.TaskState    { return c.states }
func (c *findTaskConfig) Jurisdictions() []string      { return c.jurisdictions }
func (c *findTaskConfig) Marked() *bool                { return c.marked }
func (c *findTaskConfig) RequestedBefore() *time.Time  { return c.requestedBefore }
func (c *findTaskConfig) RequestedAfter() *time.Time   { return c.requestedAfter }
func (c *findTaskConfig) Indexed() *bool               { return c.indexed }
func (c *findTaskConfig) Limit() int                   { return c.limit }

// Match evaluates the filter in memory. Backends that cannot push every
// predicate down to storage use it to post-filter.
func (c *findTaskConfig) Match(t *model.Task) bool {
	if len(c.caseIDs) > 0 && !slices.Contains(c.caseIDs, t.CaseID) {
		return false
	}
	if len(c.states) > 0 && !slices.Contains(c.states, t.State) {
		return false
	}
	if len(c.jurisdictions) > 0 && !slices.Contains(c.jurisdictions, t.Jurisdiction) {
		return false
	}
	if c.marked != nil && *c.marked != (t.ReconfigureRequestTime != nil) {
		return false
	}
	if c.requestedBefore != nil && t.ReconfigureRequestTime.After(*c.requestedBefore) {
		return false
	}
	if c.requestedAfter != nil && t.ReconfigureRequestTime.Before(*c.requestedAfter) {
		return false
	}
	if c.indexed != nil && *c.indexed != t.Indexed {
		return false
	}
	return true
}
