package engine

import "qgnotify/internal/domain"

// SkipReason labels why a delivery was suppressed.
type SkipReason string

const (
	// SkipNone means delivery proceeds.
	SkipNone SkipReason = ""
	// SkipDisabled means notifications are globally disabled.
	SkipDisabled SkipReason = "disabled"
	// SkipNoDestination means the resolved rule has a blank destination.
	SkipNoDestination SkipReason = "no_destination"
	// SkipGatePassed means a fail-only rule saw a passing quality gate.
	SkipGatePassed SkipReason = "gate_passed"
)

// ShouldSkip decides whether delivery is suppressed before any message is built.
// Params: resolved rule and optional quality gate (nil when absent).
// Returns: skip flag and reason label.
func ShouldSkip(rule domain.ProjectRule, gate *domain.QualityGate) (bool, SkipReason) {
	if !rule.Active() {
		return true, SkipNoDestination
	}
	if rule.FailOnlyOnError && gate != nil && gate.Status == domain.GateStatusOK {
		return true, SkipGatePassed
	}
	return false, SkipNone
}
