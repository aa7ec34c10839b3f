package indicator

// SMA returns the simple moving average of series over a trailing window of
// period values. Index i is ready once i >= period-1. A period longer than
// the series leaves every index not ready.
func SMA(series []float64, period int) (Series, error) {
	if err := checkPeriod("SMA", period); err != nil {
		return nil, err
	}

	out := make(Series, len(series))
	sum := 0.0
	for i, price := range series {
		sum += price
		if i >= period {
			// Drop the value leaving the window.
			sum -= series[i-period]
		}
		if i >= period-1 {
			out[i] = Value{V: sum / float64(period), Ready: true}
		}
	}
	return out, nil
}
