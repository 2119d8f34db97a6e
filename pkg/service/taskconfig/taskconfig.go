package taskconfig

import (
	"context"
	"os"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/pelletier/go-toml/v2"
	"github.com/secmon-lab/docket/pkg/domain/interfaces"
	"github.com/secmon-lab/docket/pkg/domain/model"
	"github.com/secmon-lab/docket/pkg/domain/types"
)

// Wildcard matches any value in a rule selector
const Wildcard = "*"

type ruleFile struct {
	Rules []Rule `toml:"rule"`
}

// Rule configures every task matching its selector. Empty selector fields match anything.
type Rule struct {
	TaskType     string `toml:"task_type"`
	Jurisdiction string `toml:"jurisdiction"`
	CaseType     string `toml:"case_type"`

	Name                   string `toml:"name"`
	WorkType               string `toml:"work_type"`
	RoleCategory           string `toml:"role_category"`
	Region                 string `toml:"region"`
	Location               string `toml:"location"`
	CaseCategory           string `toml:"case_category"`
	SecurityClassification string `toml:"security_classification"`
	DueIn                  string `toml:"due_in"`
	MajorPriority          int    `toml:"major_priority"`
	MinorPriority          int    `toml:"minor_priority"`
	Assignee               string `toml:"assignee"`

	// FromParams copies case event parameters into attributes, keyed by attribute
	// name (region, location, case_category, security_classification, priority_date)
	FromParams map[string]string `toml:"from_params"`

	Permissions []Permission `toml:"permission"`

	dueIn time.Duration
}

// Permission is a role permission row produced by a rule
type Permission struct {
	RoleName           string   `toml:"role_name"`
	Permissions        []string `toml:"permissions"`
	Authorizations     []string `toml:"authorizations"`
	RoleCategory       string   `toml:"role_category"`
	AutoAssignable     bool     `toml:"auto_assignable"`
	AssignmentPriority int      `toml:"assignment_priority"`

	set types.PermissionSet
}

var paramTargets = map[string]bool{
	"region":                  true,
	"location":                true,
	"case_category":           true,
	"security_classification": true,
	"priority_date":           true,
}

// Validate checks values that can be checked without a request
func (r *Rule) Validate() error {
	if r.SecurityClassification != "" {
		if _, err := types.ParseSecurityClassification(r.SecurityClassification); err != nil {
			return goerr.Wrap(err, "invalid security classification", goerr.V("task_type", r.TaskType))
		}
	}
	if !types.RoleCategory(r.RoleCategory).IsValid() {
		return goerr.New("invalid role category", goerr.V("task_type", r.TaskType), goerr.V("role_category", r.RoleCategory))
	}
	if r.DueIn != "" {
		d, err := time.ParseDuration(r.DueIn)
		if err != nil {
			return goerr.Wrap(err, "invalid due_in", goerr.V("task_type", r.TaskType), goerr.V("due_in", r.DueIn))
		}
		r.dueIn = d
	}
	for attr := range r.FromParams {
		if !paramTargets[attr] {
			return goerr.New("unsupported from_params attribute", goerr.V("task_type", r.TaskType), goerr.V("attribute", attr))
		}
	}

	seen := make(map[string]bool)
	for i := range r.Permissions {
		p := &r.Permissions[i]
		if p.RoleName == "" {
			return goerr.New("permission role_name is required", goerr.V("task_type", r.TaskType))
		}
		if seen[p.RoleName] {
			return goerr.New("duplicate permission role", goerr.V("task_type", r.TaskType), goerr.V(model.RoleNameKey, p.RoleName))
		}
		seen[p.RoleName] = true
		if !types.RoleCategory(p.RoleCategory).IsValid() {
			return goerr.New("invalid permission role category", goerr.V(model.RoleNameKey, p.RoleName))
		}

		p.set = 0
		for _, name := range p.Permissions {
			pt, err := types.ParsePermissionType(name)
			if err != nil {
				return goerr.Wrap(err, "invalid permission", goerr.V(model.RoleNameKey, p.RoleName))
			}
			p.set = p.set.Union(types.NewPermissionSet(pt))
		}
	}
	return nil
}

func matches(selector, value string) bool {
	return selector == "" || selector == Wildcard || selector == value
}

func (r *Rule) matches(req interfaces.ConfigurationRequest) bool {
	return matches(r.TaskType, req.TaskType) &&
		matches(r.Jurisdiction, req.Jurisdiction) &&
		matches(r.CaseType, req.CaseTypeID)
}

// Provider evaluates configuration rules loaded from TOML
type Provider struct {
	rules []Rule
}

var _ interfaces.TaskConfigurationProvider = &Provider{}

// Load reads a rule file
func Load(path string) (*Provider, error) {
	// #nosec G304 -- path comes from CLI flag
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read task configuration", goerr.V("path", path))
	}
	p, err := Parse(data)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to load task configuration", goerr.V("path", path))
	}
	return p, nil
}

// Parse parses and validates TOML rules
func Parse(data []byte) (*Provider, error) {
	var file ruleFile
	if err := toml.Unmarshal(data, &file); err != nil {
		return nil, goerr.Wrap(err, "failed to parse task configuration")
	}
	for i := range file.Rules {
		if err := file.Rules[i].Validate(); err != nil {
			return nil, goerr.Wrap(err, "invalid rule", goerr.V("index", i))
		}
	}
	return &Provider{rules: file.Rules}, nil
}

// RuleCount returns the number of loaded rules
func (p *Provider) RuleCount() int {
	return len(p.rules)
}

// EvaluateConfiguration applies every matching rule in file order. Later rules
// override scalar attributes and replace permission rows of the same role.
// No matching rule is a configuration failure.
func (p *Provider) EvaluateConfiguration(ctx context.Context, req interfaces.ConfigurationRequest) (*model.TaskConfiguration, error) {
	cfg := &model.TaskConfiguration{}
	perms := make(map[string]int)
	matched := 0

	for i := range p.rules {
		r := &p.rules[i]
		if !r.matches(req) {
			continue
		}
		matched++

		if err := apply(cfg, r, req); err != nil {
			return nil, goerr.Wrap(err, "failed to apply rule",
				goerr.V(model.TaskIDKey, req.TaskID), goerr.V("task_type", req.TaskType), goerr.V("rule", i))
		}

		for _, perm := range r.Permissions {
			row := model.TaskRolePermission{
				RoleName:           perm.RoleName,
				Permissions:        perm.set,
				Authorizations:     perm.Authorizations,
				RoleCategory:       types.RoleCategory(perm.RoleCategory),
				AutoAssignable:     perm.AutoAssignable,
				AssignmentPriority: perm.AssignmentPriority,
			}
			if idx, ok := perms[perm.RoleName]; ok {
				cfg.RolePermissions[idx] = row
				continue
			}
			perms[perm.RoleName] = len(cfg.RolePermissions)
			cfg.RolePermissions = append(cfg.RolePermissions, row)
		}
	}

	if matched == 0 {
		return nil, goerr.Wrap(model.ErrConfiguration, "no configuration rule matches task",
			goerr.V(model.TaskIDKey, req.TaskID),
			goerr.V("task_type", req.TaskType),
			goerr.V("jurisdiction", req.Jurisdiction),
			goerr.V("case_type", req.CaseTypeID))
	}
	if cfg.SecurityClassification == "" {
		cfg.SecurityClassification = types.ClassificationPublic
	}
	return cfg, nil
}

func apply(cfg *model.TaskConfiguration, r *Rule, req interfaces.ConfigurationRequest) error {
	setString(&cfg.Name, r.Name)
	setString(&cfg.WorkType, r.WorkType)
	setString(&cfg.Region, r.Region)
	setString(&cfg.Location, r.Location)
	setString(&cfg.CaseCategory, r.CaseCategory)
	if r.RoleCategory != "" {
		cfg.RoleCategory = types.RoleCategory(r.RoleCategory)
	}
	if r.SecurityClassification != "" {
		cfg.SecurityClassification = types.SecurityClassification(r.SecurityClassification)
	}
	if r.MajorPriority != 0 {
		cfg.MajorPriority = r.MajorPriority
	}
	if r.MinorPriority != 0 {
		cfg.MinorPriority = r.MinorPriority
	}
	if r.Assignee != "" {
		cfg.Assignee = types.ActorID(r.Assignee)
	}
	if r.dueIn > 0 {
		due := req.Now.UTC().Add(r.dueIn)
		cfg.DueDateTime = &due
	}

	for attr, param := range r.FromParams {
		value, ok := req.EventParams[param]
		if !ok || value == "" {
			continue
		}
		switch attr {
		case "region":
			cfg.Region = value
		case "location":
			cfg.Location = value
		case "case_category":
			cfg.CaseCategory = value
		case "security_classification":
			c, err := types.ParseSecurityClassification(value)
			if err != nil {
				return goerr.Wrap(model.ErrConfiguration, "invalid classification parameter", goerr.V("param", param), goerr.V("value", value))
			}
			cfg.SecurityClassification = c
		case "priority_date":
			ts, err := time.Parse(time.RFC3339, value)
			if err != nil {
				return goerr.Wrap(model.ErrConfiguration, "invalid priority date parameter", goerr.V("param", param), goerr.V("value", value))
			}
			ts = ts.UTC()
			cfg.PriorityDate = &ts
		}
	}
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
