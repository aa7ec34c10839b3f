package feed

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cryptodash/internal/model"
)

// ErrEmptyPrediction is returned for a push message with neither a price
// nor a chat line.
var ErrEmptyPrediction = errors.New("empty prediction message")

// predictionMessage is the push-channel payload:
//
//	{"predicted_price": 63120.5, "chat_prediction": "BTC to 65k this week"}
//
// predicted_price may be a number, a numeric string, or null.
type predictionMessage struct {
	PredictedPrice interface{} `json:"predicted_price"`
	ChatPrediction string      `json:"chat_prediction"`
}

// DecodePrediction parses one push-channel message. Price validity is left
// to the core; only the shape is checked here.
func DecodePrediction(data []byte, source string, receivedAt time.Time) (model.PredictionUpdated, error) {
	var msg predictionMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return model.PredictionUpdated{}, fmt.Errorf("decode prediction: %w", err)
	}
	ev := model.PredictionUpdated{
		Message:    strings.TrimSpace(msg.ChatPrediction),
		ReceivedAt: receivedAt,
		Source:     source,
	}
	if msg.PredictedPrice != nil {
		p, err := toFloat(msg.PredictedPrice)
		if err != nil {
			return model.PredictionUpdated{}, fmt.Errorf("decode prediction price: %w", err)
		}
		ev.PriceUsd = model.Float(p)
	}
	if ev.PriceUsd == nil && ev.Message == "" {
		return model.PredictionUpdated{}, ErrEmptyPrediction
	}
	return ev, nil
}
