package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// GateStatus is overall quality gate outcome.
// Params: OK/WARN/ERROR constants.
// Returns: status used for colour selection and fail-only gating.
type GateStatus string

const (
	// GateStatusOK marks a passing quality gate.
	GateStatusOK GateStatus = "OK"
	// GateStatusWarn marks a gate passing with warnings.
	GateStatusWarn GateStatus = "WARN"
	// GateStatusError marks a failing quality gate.
	GateStatusError GateStatus = "ERROR"
)

// EvaluationStatus is per-condition evaluation outcome.
// Params: OK/WARN/ERROR/NO_VALUE constants.
// Returns: status used for condition formatting and fail-only filtering.
type EvaluationStatus string

const (
	// EvaluationOK marks a satisfied condition.
	EvaluationOK EvaluationStatus = "OK"
	// EvaluationWarn marks a condition over its warning threshold.
	EvaluationWarn EvaluationStatus = "WARN"
	// EvaluationError marks a condition over its error threshold.
	EvaluationError EvaluationStatus = "ERROR"
	// EvaluationNoValue marks a condition without measured value.
	EvaluationNoValue EvaluationStatus = "NO_VALUE"
)

// Operator is the comparison used by one condition threshold.
// Params: EQUALS/NOT_EQUALS/GREATER_THAN/LESS_THAN constants.
// Returns: operator rendered as a symbol in messages.
type Operator string

const (
	OperatorEquals      Operator = "EQUALS"
	OperatorNotEquals   Operator = "NOT_EQUALS"
	OperatorGreaterThan Operator = "GREATER_THAN"
	OperatorLessThan    Operator = "LESS_THAN"
)

// Symbol renders operator as message prefix.
// Params: none.
// Returns: comparison symbol or empty string for unknown operators.
func (o Operator) Symbol() string {
	switch o {
	case OperatorEquals:
		return "=="
	case OperatorNotEquals:
		return "!="
	case OperatorGreaterThan:
		return ">"
	case OperatorLessThan:
		return "<"
	default:
		return ""
	}
}

// Project identifies the analyzed project.
// Params: key, display name, and optional dashboard URL.
// Returns: project descriptor from host event.
type Project struct {
	Key  string `json:"key"`
	Name string `json:"name"`
	URL  string `json:"url,omitempty"`
}

// Branch describes the analyzed branch.
// Params: branch name, type, and main-branch flag.
// Returns: branch descriptor used for summary suffix.
type Branch struct {
	Name   string `json:"name"`
	Type   string `json:"type,omitempty"`
	IsMain bool   `json:"isMain"`
}

// Condition is one quality gate condition evaluation.
// Params: metric key, operator, status, measured value, and optional thresholds.
// Returns: read-only input for message formatting.
type Condition struct {
	MetricKey        string           `json:"metric"`
	Operator         Operator         `json:"operator"`
	Status           EvaluationStatus `json:"status"`
	Value            string           `json:"value,omitempty"`
	WarningThreshold *string          `json:"warningThreshold,omitempty"`
	ErrorThreshold   *string          `json:"errorThreshold,omitempty"`
	OnLeakPeriod     bool             `json:"onLeakPeriod,omitempty"`
}

// QualityGate is the evaluation result of one analysis.
// Params: gate name, overall status, and ordered conditions.
// Returns: evaluation result consumed by gate and message builder.
type QualityGate struct {
	Name       string      `json:"name,omitempty"`
	Status     GateStatus  `json:"status"`
	Conditions []Condition `json:"conditions"`
}

// Analysis is one analysis-finished event delivered by the host.
// Params: project, optional branch, optional quality gate, and scanner properties.
// Returns: validated input for notification handling.
type Analysis struct {
	TaskID      string            `json:"taskId,omitempty"`
	Status      string            `json:"status,omitempty"`
	AnalysedAt  string            `json:"analysedAt,omitempty"`
	ServerURL   string            `json:"serverUrl,omitempty"`
	Project     Project           `json:"project"`
	Branch      *Branch           `json:"branch,omitempty"`
	QualityGate *QualityGate      `json:"qualityGate,omitempty"`
	Properties  map[string]string `json:"properties,omitempty"`
}

// DisplayName returns project name with key fallback.
// Params: none.
// Returns: non-empty display name when key is set.
func (a Analysis) DisplayName() string {
	if name := strings.TrimSpace(a.Project.Name); name != "" {
		return name
	}
	return a.Project.Key
}

// DecodeAnalysis decodes and validates one analysis payload.
// Params: JSON document bytes.
// Returns: validated analysis or decode/validation error.
func DecodeAnalysis(raw []byte) (Analysis, error) {
	var analysis Analysis
	if err := json.Unmarshal(raw, &analysis); err != nil {
		return Analysis{}, fmt.Errorf("decode analysis: %w", err)
	}
	if err := analysis.Validate(); err != nil {
		return Analysis{}, err
	}
	return analysis, nil
}

// Encode serializes analysis for transport.
// Params: none.
// Returns: JSON document or encode error.
func (a Analysis) Encode() ([]byte, error) {
	body, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("encode analysis: %w", err)
	}
	return body, nil
}

// Validate validates one analysis against the inbound contract.
// Params: analysis fields parsed from transport.
// Returns: validation error when schema is violated.
func (a Analysis) Validate() error {
	if strings.TrimSpace(a.Project.Key) == "" {
		return errors.New("project.key is required")
	}
	if a.QualityGate == nil {
		return nil
	}
	switch a.QualityGate.Status {
	case GateStatusOK, GateStatusWarn, GateStatusError:
	default:
		return fmt.Errorf("qualityGate.status has unsupported value %q", a.QualityGate.Status)
	}
	for i, condition := range a.QualityGate.Conditions {
		if strings.TrimSpace(condition.MetricKey) == "" {
			return fmt.Errorf("qualityGate.conditions[%d].metric is required", i)
		}
		switch condition.Status {
		case EvaluationOK, EvaluationWarn, EvaluationError, EvaluationNoValue:
		default:
			return fmt.Errorf("qualityGate.conditions[%d].status has unsupported value %q", i, condition.Status)
		}
	}
	return nil
}
