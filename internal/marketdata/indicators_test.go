package marketdata

import (
	"math"
	"testing"
)

func TestIndicatorFromCloses_SMA(t *testing.T) {
	closes := []float64{1, 2, 3, 4, 5}
	out := IndicatorFromCloses(closes, SMA, 3)
	if !isNaN(out[0]) || !isNaN(out[1]) {
		t.Error("expected first period-1 entries to be NaN")
	}
	if math.Abs(out[2]-2) > 1e-9 {
		t.Errorf("expected sma[2]=2, got %f", out[2])
	}
	if math.Abs(out[4]-4) > 1e-9 {
		t.Errorf("expected sma[4]=4, got %f", out[4])
	}
}

func TestIndicatorFromCloses_SMA_InsufficientData(t *testing.T) {
	out := IndicatorFromCloses([]float64{1, 2}, SMA, 5)
	for i, v := range out {
		if !isNaN(v) {
			t.Errorf("expected NaN at %d for insufficient data, got %f", i, v)
		}
	}
}

func TestIndicatorFromCloses_EMA_SeededWithSMA(t *testing.T) {
	closes := []float64{10, 11, 12, 13, 14}
	out := IndicatorFromCloses(closes, EMA, 3)
	wantSeed := (10.0 + 11 + 12) / 3
	if math.Abs(out[2]-wantSeed) > 1e-9 {
		t.Errorf("expected ema seed %f, got %f", wantSeed, out[2])
	}
	k := 2.0 / 4.0
	wantNext := (closes[3]-out[2])*k + out[2]
	if math.Abs(out[3]-wantNext) > 1e-9 {
		t.Errorf("expected ema[3]=%f, got %f", wantNext, out[3])
	}
}

func TestIndicatorFromCloses_RSI_AllGains(t *testing.T) {
	closes := make([]float64, 20)
	for i := range closes {
		closes[i] = float64(i + 1)
	}
	out := IndicatorFromCloses(closes, RSI, 14)
	v, ok := Latest(out)
	if !ok {
		t.Fatal("expected a defined RSI value")
	}
	if math.Abs(v-100) > 1e-9 {
		t.Errorf("expected RSI=100 for all-gains series, got %f", v)
	}
}

func TestIndicatorFromCloses_RSI_AllLosses(t *testing.T) {
	closes := make([]float64, 20)
	for i := range closes {
		closes[i] = float64(20 - i)
	}
	out := IndicatorFromCloses(closes, RSI, 14)
	v, ok := Latest(out)
	if !ok {
		t.Fatal("expected a defined RSI value")
	}
	if v > 1e-9 {
		t.Errorf("expected RSI~0 for all-losses series, got %f", v)
	}
}

func TestIndicatorFromCloses_UnknownKind(t *testing.T) {
	out := IndicatorFromCloses([]float64{1, 2, 3}, IndicatorKind("bogus"), 2)
	if out != nil {
		t.Error("expected nil for unknown indicator kind")
	}
}

func TestLatest_EmptySeries(t *testing.T) {
	if _, ok := Latest(nanSeries(5)); ok {
		t.Error("expected ok=false for an all-NaN series")
	}
}
