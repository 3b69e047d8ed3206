package alert

import (
	"time"
)

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Rule fires when its conditions over the ledger backlog hold.
type Rule struct {
	Name           string        `json:"name"`
	Conditions     []Condition   `json:"conditions"`
	ConditionLogic string        `json:"condition_logic"`
	Cooldown       time.Duration `json:"cooldown"`
	Severity       Severity      `json:"severity"`
}

// Condition compares one backlog state count against a threshold.
type Condition struct {
	State     string  `json:"state"`
	Operator  string  `json:"operator"`
	Threshold float64 `json:"threshold"`
}
