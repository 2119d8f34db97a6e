package usecase

// Context keys for error values
const (
	RequirementKey = "requirement"
	RunIDKey       = "run_id"
	AssigneeKey    = "assignee"
)
