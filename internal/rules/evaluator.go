package rules

import (
	"strconv"
	"strings"

	"github.com/paperdesk/paperdeskd/pkg/models"
)

// Evaluate resolves rule.ConditionField against ctx and applies
// rule.ConditionOperator against the parsed ConditionValue, per §4.3.
// There is no teacher analogue for this condition-DSL evaluator — it is
// built directly from the specification's procedure text.
func Evaluate(rule models.Rule, ctx MarketContext) bool {
	if strings.HasPrefix(rule.ConditionField, "position.") && ctx.Position == nil {
		return false
	}

	fieldValue, ok := resolveField(rule.ConditionField, ctx)
	if !ok {
		return false
	}

	target, ok := resolveValue(rule.ConditionValue, ctx)
	if !ok {
		return false
	}

	return applyOperator(rule.ConditionOperator, fieldValue, target)
}

// resolveField looks up a named field in the market context. Unknown
// fields report ok=false so the rule does not fire on a typo'd field
// name rather than silently comparing against zero.
func resolveField(field string, ctx MarketContext) (float64, bool) {
	if strings.HasPrefix(field, "position.") {
		if ctx.Position == nil {
			return 0, false
		}
		switch strings.TrimPrefix(field, "position.") {
		case "quantity":
			return ctx.Position.Quantity, true
		case "average_price":
			return ctx.Position.AveragePrice, true
		case "unrealizedPL":
			return ctx.Position.UnrealizedPL, true
		case "unrealizedPLPercent":
			return ctx.Position.UnrealizedPLPercent, true
		default:
			return 0, false
		}
	}

	switch field {
	case "price":
		return ctx.Price, true
	case "open":
		return ctx.Open, true
	case "high":
		return ctx.High, true
	case "low":
		return ctx.Low, true
	case "volume":
		return ctx.Volume, true
	case "change":
		return ctx.Change, true
	case "change_percent":
		return ctx.ChangePercent, true
	case "balance":
		return ctx.Balance, true
	default:
		if v, ok := ctx.Indicators[field]; ok {
			return v, true
		}
		return 0, false
	}
}

// resolveValue implements §4.3's "parse condition_value: if it parses as
// a finite decimal, use that; else treat it as another field name and
// look it up (missing ⇒ 0)".
func resolveValue(raw string, ctx MarketContext) (float64, bool) {
	if v, err := strconv.ParseFloat(raw, 64); err == nil && !isInfOrNaN(v) {
		return v, true
	}
	v, ok := resolveField(raw, ctx)
	if !ok {
		return 0, true // missing field name ⇒ 0, per spec
	}
	return v, true
}

func isInfOrNaN(f float64) bool {
	return f != f || f > 1e308 || f < -1e308
}

// applyOperator evaluates field OP target. Equality is bit-exact
// float64 comparison on purpose — a known hazard preserved from the
// source system and documented at this call site rather than patched,
// per the resolved Open Question in DESIGN.md.
func applyOperator(op models.ConditionOperator, field, target float64) bool {
	switch op {
	case models.OpGT:
		return field > target
	case models.OpLT:
		return field < target
	case models.OpGE:
		return field >= target
	case models.OpLE:
		return field <= target
	case models.OpEQ:
		return field == target
	case models.OpNE:
		return field != target
	default:
		return false
	}
}
