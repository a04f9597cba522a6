package models

import "time"

// Algorithm is a named collection of rules owned by a user.
type Algorithm struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// RuleType enumerates the semantic role of a rule. The evaluator treats
// all types identically (the type is metadata for the UI/author, not a
// branch in evaluation logic) — a rule fires or it doesn't, regardless of
// whether it is labeled entry/exit/stop_loss/take_profit/condition.
type RuleType string

const (
	RuleEntry      RuleType = "entry"
	RuleExit       RuleType = "exit"
	RuleStopLoss   RuleType = "stop_loss"
	RuleTakeProfit RuleType = "take_profit"
	RuleCondition  RuleType = "condition"
)

// ConditionOperator is the comparison applied between field_value and
// condition_value.
type ConditionOperator string

const (
	OpGT ConditionOperator = ">"
	OpLT ConditionOperator = "<"
	OpGE ConditionOperator = ">="
	OpLE ConditionOperator = "<="
	OpEQ ConditionOperator = "=="
	OpNE ConditionOperator = "!="
)

// Rule belongs to an algorithm and is cascade-deleted with it.
type Rule struct {
	ID               string            `json:"id"`
	AlgorithmID      string            `json:"algorithm_id"`
	RuleType         RuleType          `json:"rule_type"`
	ConditionField   string            `json:"condition_field"`
	ConditionOperator ConditionOperator `json:"condition_operator"`
	ConditionValue   string            `json:"condition_value"`
	Action           string            `json:"action"`
	OrderIndex       int               `json:"order_index"`
	CreatedAt        time.Time         `json:"created_at"`
}
