package signal

// SMA calculates the simple moving average for the last period values.
func SMA(values []float64, period int) float64 {
	if period <= 0 || len(values) < period {
		return 0
	}
	sum := 0.0
	for i := len(values) - period; i < len(values); i++ {
		sum += values[i]
	}
	return sum / float64(period)
}

// EMA returns the exponential moving average of the whole series, seeded with its first value.
func EMA(values []float64, period int) float64 {
	if period <= 0 || len(values) == 0 {
		return 0
	}
	alpha := 2.0 / float64(period+1)
	ema := values[0]
	for _, v := range values[1:] {
		ema = alpha*v + (1-alpha)*ema
	}
	return ema
}

// RSI computes a basic Relative Strength Index over the last period changes.
// A flat series reads 50.
func RSI(values []float64, period int) float64 {
	if period <= 0 || len(values) < period+1 {
		return 50
	}

	gain := 0.0
	loss := 0.0
	for i := len(values) - period; i < len(values); i++ {
		change := values[i] - values[i-1]
		if change > 0 {
			gain += change
		} else {
			loss -= change
		}
	}

	if loss == 0 {
		if gain == 0 {
			return 50
		}
		return 100
	}
	rs := gain / loss
	return 100 - (100 / (1 + rs))
}

// MACD is the simplified proxy: fast EMA minus slow EMA, no signal line.
func MACD(values []float64) float64 {
	return EMA(values, 12) - EMA(values, 26)
}
