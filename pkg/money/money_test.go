package money

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestRound2(t *testing.T) {
	d := decimal.NewFromFloat(10.12345)
	got := Round2(d)
	want := decimal.NewFromFloat(10.12)
	if !got.Equal(want) {
		t.Errorf("expected %s, got %s", want, got)
	}
}

func TestParse(t *testing.T) {
	d, err := Parse("123.45")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !d.Equal(decimal.NewFromFloat(123.45)) {
		t.Errorf("expected 123.45, got %s", d)
	}
}

func TestParse_Invalid(t *testing.T) {
	if _, err := Parse("not-a-number"); err == nil {
		t.Error("expected error for invalid decimal literal")
	}
}

func TestFloorShares(t *testing.T) {
	d := decimal.NewFromFloat(9.99)
	if got := FloorShares(d); got != 9 {
		t.Errorf("expected 9, got %d", got)
	}
}

func TestPercentOf(t *testing.T) {
	d := decimal.NewFromInt(1000)
	pct := decimal.NewFromInt(25)
	got := PercentOf(d, pct)
	if !got.Equal(decimal.NewFromInt(250)) {
		t.Errorf("expected 250, got %s", got)
	}
}

func TestZero(t *testing.T) {
	if !Zero.Equal(decimal.NewFromInt(0)) {
		t.Error("Zero should equal 0")
	}
}
