package indicator

// RSI returns the relative strength index of series. Index i is ready once
// i >= period and uses the period deltas ending at i.
//
// Gains are averaged over the number of rising steps and losses over the
// number of falling steps in the window. A window with no losses saturates
// to 100, a flat window included.
func RSI(series []float64, period int) (Series, error) {
	if err := checkPeriod("RSI", period); err != nil {
		return nil, err
	}

	out := make(Series, len(series))
	for i := period; i < len(series); i++ {
		out[i] = Value{V: rsiAt(series, i, period), Ready: true}
	}
	return out, nil
}

func rsiAt(series []float64, i, period int) float64 {
	var gain, loss float64
	var gains, losses int
	for j := i - period + 1; j <= i; j++ {
		delta := series[j] - series[j-1]
		switch {
		case delta > 0:
			gain += delta
			gains++
		case delta < 0:
			loss -= delta
			losses++
		}
	}

	if losses == 0 {
		return 100.0
	}
	avgLoss := loss / float64(losses)
	avgGain := 0.0
	if gains > 0 {
		avgGain = gain / float64(gains)
	}
	rs := avgGain / avgLoss
	return 100.0 - (100.0 / (1.0 + rs))
}
