package alert

import (
	"time"
)

type Engine struct{}

func NewEngine() *Engine {
	return &Engine{}
}

// Evaluate checks rule against one backlog snapshot. Missing states count as zero.
func (e *Engine) Evaluate(rule Rule, counts map[string]int) (bool, map[string]interface{}) {
	results := make(map[string]interface{})
	conditionsMet := make([]bool, len(rule.Conditions))

	for i, cond := range rule.Conditions {
		value := float64(counts[cond.State])
		met := e.evaluateCondition(cond.Operator, value, cond.Threshold)
		conditionsMet[i] = met

		results[cond.State] = map[string]interface{}{
			"value":     value,
			"threshold": cond.Threshold,
			"operator":  cond.Operator,
			"met":       met,
		}
	}

	var triggered bool
	if rule.ConditionLogic == "OR" {
		for _, met := range conditionsMet {
			if met {
				triggered = true
				break
			}
		}
	} else {
		triggered = len(conditionsMet) > 0
		for _, met := range conditionsMet {
			if !met {
				triggered = false
				break
			}
		}
	}

	results["triggered"] = triggered
	return triggered, results
}

func (e *Engine) evaluateCondition(operator string, value, threshold float64) bool {
	switch operator {
	case "gt":
		return value > threshold
	case "gte":
		return value >= threshold
	case "lt":
		return value < threshold
	case "lte":
		return value <= threshold
	case "eq":
		return value == threshold
	case "ne":
		return value != threshold
	default:
		return false
	}
}

func (e *Engine) ShouldTrigger(rule Rule, lastTriggered *time.Time, now time.Time) bool {
	if lastTriggered == nil {
		return true
	}
	return now.After(lastTriggered.Add(rule.Cooldown))
}
