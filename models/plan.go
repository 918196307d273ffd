package models

import "strings"

// Subscription plans.
const (
	PlanFree         = "free"
	PlanStarter      = "starter"
	PlanProfessional = "professional"
	PlanBusiness     = "business"

	DefaultPlan = PlanFree
)

// ValidPlan reports whether the supplied value names a known plan.
func ValidPlan(value string) bool {
	switch value {
	case PlanFree, PlanStarter, PlanProfessional, PlanBusiness:
		return true
	default:
		return false
	}
}

// NormalizePlan trims and lowercases value, falling back to DefaultPlan.
func NormalizePlan(value string) string {
	v := strings.ToLower(strings.TrimSpace(value))
	if ValidPlan(v) {
		return v
	}
	return DefaultPlan
}
