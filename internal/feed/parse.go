package feed

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// toFloat converts the loosely typed numbers found in market-data payloads.
// CoinCap sends decimals as strings; push channels send JSON numbers.
func toFloat(v interface{}) (float64, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case int:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case json.Number:
		return t.Float64()
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return 0, fmt.Errorf("empty number")
		}
		return strconv.ParseFloat(s, 64)
	case nil:
		return 0, fmt.Errorf("null number")
	default:
		return 0, fmt.Errorf("unsupported number type %T", v)
	}
}

// optFloat is toFloat for optional fields: null and "" give 0.
func optFloat(v interface{}) float64 {
	f, err := toFloat(v)
	if err != nil {
		return 0
	}
	return f
}

func toInt(v interface{}) int {
	switch t := v.(type) {
	case int:
		return t
	case int64:
		return int(t)
	case float64:
		return int(t)
	case json.Number:
		n, _ := t.Int64()
		return int(n)
	case string:
		n, _ := strconv.Atoi(strings.TrimSpace(t))
		return n
	default:
		return 0
	}
}

// fromUnixMilli converts a provider millisecond timestamp to UTC.
func fromUnixMilli(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
