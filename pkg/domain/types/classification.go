package types

import "fmt"

// SecurityClassification is the ordered sensitivity level of a task or role assignment
type SecurityClassification string

const (
	ClassificationPublic     SecurityClassification = "PUBLIC"
	ClassificationPrivate    SecurityClassification = "PRIVATE"
	ClassificationRestricted SecurityClassification = "RESTRICTED"
)

// AllSecurityClassifications returns all classifications from least to most sensitive
func AllSecurityClassifications() []SecurityClassification {
	return []SecurityClassification{
		ClassificationPublic,
		ClassificationPrivate,
		ClassificationRestricted,
	}
}

// IsValid checks if the classification is valid
func (c SecurityClassification) IsValid() bool {
	return c.rank() > 0
}

func (c SecurityClassification) rank() int {
	switch c {
	case ClassificationPublic:
		return 1
	case ClassificationPrivate:
		return 2
	case ClassificationRestricted:
		return 3
	default:
		return 0
	}
}

// Covers reports whether a holder cleared at c may see data classified as other.
// Unknown classifications cover nothing and are covered by nothing.
func (c SecurityClassification) Covers(other SecurityClassification) bool {
	if !c.IsValid() || !other.IsValid() {
		return false
	}
	return c.rank() >= other.rank()
}

// Max returns the more sensitive of the two classifications
func (c SecurityClassification) Max(other SecurityClassification) SecurityClassification {
	if other.rank() > c.rank() {
		return other
	}
	return c
}

// Min returns the less sensitive of the two valid classifications
func (c SecurityClassification) Min(other SecurityClassification) SecurityClassification {
	if !c.IsValid() {
		return other
	}
	if other.IsValid() && other.rank() < c.rank() {
		return other
	}
	return c
}

// String returns the string representation of the classification
func (c SecurityClassification) String() string {
	return string(c)
}

// ParseSecurityClassification parses a string into a SecurityClassification
func ParseSecurityClassification(s string) (SecurityClassification, error) {
	c := SecurityClassification(s)
	if !c.IsValid() {
		return "", fmt.Errorf("invalid security classification: %s", s)
	}
	return c, nil
}
