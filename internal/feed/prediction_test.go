package feed

import (
	"errors"
	"testing"
	"time"
)

func TestDecodePrediction(t *testing.T) {
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name      string
		payload   string
		wantPrice *float64
		wantMsg   string
		wantErr   bool
	}{
		{"number", `{"predicted_price": 63120.5, "chat_prediction": "  BTC to 65k "}`, ptr(63120.5), "BTC to 65k", false},
		{"string price", `{"predicted_price": "64000"}`, ptr(64000), "", false},
		{"chat only", `{"predicted_price": null, "chat_prediction": "sideways"}`, nil, "sideways", false},
		{"negative passes shape check", `{"predicted_price": -5}`, ptr(-5), "", false},
		{"empty", `{"predicted_price": null, "chat_prediction": ""}`, nil, "", true},
		{"garbage price", `{"predicted_price": "soon"}`, nil, "", true},
		{"not json", `update_price`, nil, "", true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ev, err := DecodePrediction([]byte(tc.payload), "websocket", at)
			if (err != nil) != tc.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tc.wantErr)
			}
			if tc.wantErr {
				return
			}
			if (ev.PriceUsd == nil) != (tc.wantPrice == nil) || (ev.PriceUsd != nil && *ev.PriceUsd != *tc.wantPrice) {
				t.Errorf("price = %v, want %v", ev.PriceUsd, tc.wantPrice)
			}
			if ev.Message != tc.wantMsg || ev.Source != "websocket" || !ev.ReceivedAt.Equal(at) {
				t.Errorf("unexpected event %+v", ev)
			}
		})
	}

	if _, err := DecodePrediction([]byte(`{}`), "redis", at); !errors.Is(err, ErrEmptyPrediction) {
		t.Errorf("expected ErrEmptyPrediction, got %v", err)
	}
}

func ptr(v float64) *float64 { return &v }
