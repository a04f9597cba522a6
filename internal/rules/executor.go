package rules

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/paperdesk/paperdeskd/pkg/models"
)

// Verb is the buy/sell half of an action string.
type Verb string

const (
	VerbBuy  Verb = "buy"
	VerbSell Verb = "sell"
)

// Intent is what the Action Executor hands to the Bookkeeper: a concrete
// share count to fill, or Quantity == 0 for a no-op (§4.4).
type Intent struct {
	Verb     Verb
	Quantity int64
}

// Execute parses action as "<verb>:<qualifier>" and resolves the
// qualifier against ctx per §4.4's table. Ported from the specification
// text directly — there is no broker-layer analogue in the teacher for
// this kind of percentage/max/all qualifier grammar.
func Execute(action string, ctx MarketContext) (*Intent, error) {
	verb, qualifier, err := splitAction(action)
	if err != nil {
		return nil, err
	}

	switch verb {
	case VerbBuy:
		qty := resolveBuyQuantity(qualifier, ctx)
		return &Intent{Verb: VerbBuy, Quantity: qty}, nil
	case VerbSell:
		qty := resolveSellQuantity(qualifier, ctx)
		return &Intent{Verb: VerbSell, Quantity: qty}, nil
	default:
		return nil, fmt.Errorf("rules: unknown verb %q", verb)
	}
}

func splitAction(action string) (Verb, string, error) {
	parts := strings.SplitN(action, ":", 2)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("rules: malformed action %q, want verb:qualifier", action)
	}
	verb := Verb(strings.ToLower(strings.TrimSpace(parts[0])))
	qualifier := strings.ToLower(strings.TrimSpace(parts[1]))
	if verb != VerbBuy && verb != VerbSell {
		return "", "", fmt.Errorf("rules: unknown verb %q", verb)
	}
	return verb, qualifier, nil
}

func resolveBuyQuantity(qualifier string, ctx MarketContext) int64 {
	if ctx.Price <= 0 {
		return 0
	}
	switch {
	case qualifier == "max":
		return int64(math.Floor(ctx.Balance / ctx.Price))
	case strings.HasSuffix(qualifier, "%"):
		pct := parsePercent(qualifier)
		return int64(math.Floor((ctx.Balance * pct / 100) / ctx.Price))
	default:
		n, err := strconv.ParseFloat(qualifier, 64)
		if err != nil {
			return 0
		}
		return int64(math.Floor(n))
	}
}

func resolveSellQuantity(qualifier string, ctx MarketContext) int64 {
	if ctx.Position == nil {
		return 0
	}
	held := int64(math.Floor(ctx.Position.Quantity))
	switch {
	case qualifier == "all":
		return held
	case strings.HasSuffix(qualifier, "%"):
		pct := parsePercent(qualifier)
		return int64(math.Floor(float64(held) * pct / 100))
	default:
		n, err := strconv.ParseFloat(qualifier, 64)
		if err != nil {
			return 0
		}
		wanted := int64(math.Floor(n))
		if wanted > held {
			return held
		}
		return wanted
	}
}

func parsePercent(qualifier string) float64 {
	n, err := strconv.ParseFloat(strings.TrimSuffix(qualifier, "%"), 64)
	if err != nil {
		return 0
	}
	return n
}

// OrderSideOf maps a Verb to the models.OrderSide the Bookkeeper expects.
func OrderSideOf(v Verb) models.OrderSide {
	if v == VerbSell {
		return models.Sell
	}
	return models.Buy
}
