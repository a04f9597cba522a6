package marketdata

import "github.com/paperdesk/paperdeskd/pkg/models"

// IndicatorKind is one of the three kinds §4.1 defines.
type IndicatorKind string

const (
	SMA IndicatorKind = "sma"
	EMA IndicatorKind = "ema"
	RSI IndicatorKind = "rsi"
)

// Indicator computes kind over period against bars' closing prices,
// following §4.1's formulas exactly (ported from the teacher's
// internal/analysis/technical SMA/EMA/RSI, which used the same
// seed-then-smooth shape). The result is parallel to bars; undefined
// entries are NaN rather than omitted, so callers can index by position.
func Indicator(bars []models.Bar, kind IndicatorKind, period int) []float64 {
	closes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i], _ = b.Close.Float64()
	}
	switch kind {
	case SMA:
		return sma(closes, period)
	case EMA:
		return ema(closes, period)
	case RSI:
		return rsi(closes, period)
	default:
		return nil
	}
}

// IndicatorFromCloses computes kind over period directly against a
// closing-price series, for callers (the Backtest Engine) that already
// hold a rolling window of closes rather than full Bar records.
func IndicatorFromCloses(closes []float64, kind IndicatorKind, period int) []float64 {
	switch kind {
	case SMA:
		return sma(closes, period)
	case EMA:
		return ema(closes, period)
	case RSI:
		return rsi(closes, period)
	default:
		return nil
	}
}

// Latest returns the most recent defined (non-NaN) value, or false if
// the series is too short to produce one.
func Latest(values []float64) (float64, bool) {
	for i := len(values) - 1; i >= 0; i-- {
		if !isNaN(values[i]) {
			return values[i], true
		}
	}
	return 0, false
}

func isNaN(f float64) bool { return f != f }

func nanSeries(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = nan()
	}
	return out
}

func nan() float64 {
	var zero float64
	return zero / zero
}

// sma[i] = mean(close[i-period+1..i]); undefined for i < period-1.
func sma(closes []float64, period int) []float64 {
	n := len(closes)
	out := nanSeries(n)
	if period <= 0 || n < period {
		return out
	}
	sum := 0.0
	for i := 0; i < period; i++ {
		sum += closes[i]
	}
	out[period-1] = sum / float64(period)
	for i := period; i < n; i++ {
		sum += closes[i] - closes[i-period]
		out[i] = sum / float64(period)
	}
	return out
}

// ema seeded with SMA at index period-1; thereafter ema[i] =
// (close[i]-ema[i-1])*k + ema[i-1] with k = 2/(period+1).
func ema(closes []float64, period int) []float64 {
	n := len(closes)
	out := nanSeries(n)
	if period <= 0 || n < period {
		return out
	}
	sum := 0.0
	for i := 0; i < period; i++ {
		sum += closes[i]
	}
	out[period-1] = sum / float64(period)
	k := 2.0 / float64(period+1)
	for i := period; i < n; i++ {
		out[i] = (closes[i]-out[i-1])*k + out[i-1]
	}
	return out
}

// rsi per Wilder smoothing; defined from index period onward.
func rsi(closes []float64, period int) []float64 {
	n := len(closes)
	out := nanSeries(n)
	if period <= 0 {
		period = 14
	}
	if n < period+1 {
		return out
	}

	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		delta := closes[i] - closes[i-1]
		if delta > 0 {
			avgGain += delta
		} else {
			avgLoss += -delta
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)
	out[period] = rsiValue(avgGain, avgLoss)

	for i := period + 1; i < n; i++ {
		delta := closes[i] - closes[i-1]
		gain, loss := 0.0, 0.0
		if delta > 0 {
			gain = delta
		} else {
			loss = -delta
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
		out[i] = rsiValue(avgGain, avgLoss)
	}
	return out
}

func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs))
}
