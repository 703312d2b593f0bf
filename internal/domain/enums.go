// Package domain contains the core domain models for the portfolio optimization workflow.
package domain

// RiskLevel selects the optimization objective used by the backend.
type RiskLevel string

const (
	RiskLevelLow    RiskLevel = "low"
	RiskLevelMedium RiskLevel = "medium"
	RiskLevelHigh   RiskLevel = "high"
)

// DefaultRiskLevel is the risk level a fresh workflow starts with.
const DefaultRiskLevel = RiskLevelMedium

// IsValid returns true if the level is one of the enumerated risk levels.
func (r RiskLevel) IsValid() bool {
	switch r {
	case RiskLevelLow, RiskLevelMedium, RiskLevelHigh:
		return true
	default:
		return false
	}
}

// String returns the string representation of the risk level.
func (r RiskLevel) String() string {
	return string(r)
}

// RiskLevelFromString converts a string to RiskLevel.
// Unknown values fall back to DefaultRiskLevel.
func RiskLevelFromString(s string) RiskLevel {
	level := RiskLevel(s)
	if level.IsValid() {
		return level
	}
	return DefaultRiskLevel
}

// WorkflowStatus represents where the workflow is in its request lifecycle.
type WorkflowStatus string

const (
	WorkflowStatusIdle      WorkflowStatus = "idle"
	WorkflowStatusPending   WorkflowStatus = "pending"
	WorkflowStatusSucceeded WorkflowStatus = "succeeded"
	WorkflowStatusFailed    WorkflowStatus = "failed"
)

// IsTerminal returns true if the status ends an operation.
func (s WorkflowStatus) IsTerminal() bool {
	return s == WorkflowStatusSucceeded || s == WorkflowStatusFailed
}

// IsValid returns true if the status is a valid WorkflowStatus.
func (s WorkflowStatus) IsValid() bool {
	switch s {
	case WorkflowStatusIdle, WorkflowStatusPending, WorkflowStatusSucceeded, WorkflowStatusFailed:
		return true
	default:
		return false
	}
}

// String returns the string representation of the status.
func (s WorkflowStatus) String() string {
	return string(s)
}

// Operation names one of the two remote operations the workflow can run.
type Operation string

const (
	OperationOptimize  Operation = "optimize"
	OperationRecommend Operation = "recommend"
)

// IsValid returns true if the operation is known.
func (o Operation) IsValid() bool {
	return o == OperationOptimize || o == OperationRecommend
}

// String returns the string representation of the operation.
func (o Operation) String() string {
	return string(o)
}
