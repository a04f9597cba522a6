package rules

import "testing"

func TestExecute_BuyMax(t *testing.T) {
	ctx := MarketContext{Price: 100, Balance: 1050}
	intent, err := Execute("buy:max", ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if intent.Verb != VerbBuy || intent.Quantity != 10 {
		t.Errorf("expected buy 10, got %s %d", intent.Verb, intent.Quantity)
	}
}

func TestExecute_BuyPercent(t *testing.T) {
	ctx := MarketContext{Price: 10, Balance: 1000}
	intent, err := Execute("buy:50%", ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if intent.Quantity != 50 {
		t.Errorf("expected 50 shares (50%% of 1000 / 10), got %d", intent.Quantity)
	}
}

func TestExecute_BuyFixedQuantity(t *testing.T) {
	ctx := MarketContext{Price: 10, Balance: 1000}
	intent, err := Execute("buy:5", ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if intent.Quantity != 5 {
		t.Errorf("expected 5 shares, got %d", intent.Quantity)
	}
}

func TestExecute_BuyZeroPrice(t *testing.T) {
	ctx := MarketContext{Price: 0, Balance: 1000}
	intent, err := Execute("buy:max", ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if intent.Quantity != 0 {
		t.Error("zero price must never produce a positive quantity")
	}
}

func TestExecute_SellAll(t *testing.T) {
	ctx := MarketContext{Position: &PositionContext{Quantity: 25}}
	intent, err := Execute("sell:all", ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if intent.Verb != VerbSell || intent.Quantity != 25 {
		t.Errorf("expected sell 25, got %s %d", intent.Verb, intent.Quantity)
	}
}

func TestExecute_SellPercent(t *testing.T) {
	ctx := MarketContext{Position: &PositionContext{Quantity: 40}}
	intent, err := Execute("sell:25%", ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if intent.Quantity != 10 {
		t.Errorf("expected 10 shares (25%% of 40), got %d", intent.Quantity)
	}
}

func TestExecute_SellFixedQuantityClampedToHeld(t *testing.T) {
	ctx := MarketContext{Position: &PositionContext{Quantity: 5}}
	intent, err := Execute("sell:100", ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if intent.Quantity != 5 {
		t.Errorf("expected sell quantity clamped to held (5), got %d", intent.Quantity)
	}
}

func TestExecute_SellWithoutPosition(t *testing.T) {
	ctx := MarketContext{}
	intent, err := Execute("sell:all", ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if intent.Quantity != 0 {
		t.Error("selling without a position must produce quantity 0")
	}
}

func TestExecute_MalformedAction(t *testing.T) {
	if _, err := Execute("buymax", MarketContext{}); err == nil {
		t.Error("expected error for action missing ':'")
	}
}

func TestExecute_UnknownVerb(t *testing.T) {
	if _, err := Execute("hold:all", MarketContext{}); err == nil {
		t.Error("expected error for unknown verb")
	}
}

func TestOrderSideOf(t *testing.T) {
	if sideOfBuyIsBuy := OrderSideOf(VerbBuy); sideOfBuyIsBuy != "buy" {
		t.Errorf("expected buy, got %s", sideOfBuyIsBuy)
	}
	if sideOfSellIsSell := OrderSideOf(VerbSell); sideOfSellIsSell != "sell" {
		t.Errorf("expected sell, got %s", sideOfSellIsSell)
	}
}
