package stream

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var decTwo = decimal.NewFromInt(2)

// Tick is a single normalized quote update. Mid and spread are derived from
// bid/ask at construction and serialized alongside them, so polling readers
// never recompute.
type Tick struct {
	Symbol    string          `json:"symbol"`
	Bid       decimal.Decimal `json:"bid"`
	Ask       decimal.Decimal `json:"ask"`
	Mid       decimal.Decimal `json:"mid"`
	Spread    decimal.Decimal `json:"spread"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewTick builds a tick with derived fields populated.
func NewTick(symbol string, bid, ask decimal.Decimal, ts time.Time) Tick {
	return Tick{
		Symbol:    symbol,
		Bid:       bid,
		Ask:       ask,
		Mid:       bid.Add(ask).Div(decTwo),
		Spread:    ask.Sub(bid),
		Timestamp: ts.UTC(),
	}
}

// Encode serializes the tick for the cache.
func (t Tick) Encode() (string, error) {
	raw, err := json.Marshal(t)
	if err != nil {
		return "", fmt.Errorf("marshal tick: %w", err)
	}
	return string(raw), nil
}

// DecodeTick parses a cached tick record.
func DecodeTick(raw string) (Tick, error) {
	var t Tick
	if err := json.Unmarshal([]byte(raw), &t); err != nil {
		return Tick{}, fmt.Errorf("unmarshal tick: %w", err)
	}
	return t, nil
}

// pricePayload is the JSON body of a streamed price message.
type pricePayload struct {
	LastUpdated string `json:"LastUpdated"`
	Quote       *struct {
		Bid *decimal.Decimal `json:"Bid"`
		Ask *decimal.Decimal `json:"Ask"`
	} `json:"Quote"`
}

// subscriptionReference returns the wire reference id for a symbol
// ("EUR-USD" -> "EUR_USD_sub").
func subscriptionReference(symbol string) string {
	return strings.ReplaceAll(symbol, "-", "_") + "_sub"
}

// symbolFromReference inverts subscriptionReference.
func symbolFromReference(ref string) string {
	return strings.ReplaceAll(strings.TrimSuffix(ref, "_sub"), "_", "-")
}

// parseTick turns one streamed payload into a Tick. Quote-less payloads
// (subscription resets, partial updates without both sides) are rejected;
// the caller logs and skips them without terminating the stream.
func parseTick(ref string, payload []byte, now time.Time) (Tick, error) {
	var body pricePayload
	if err := json.Unmarshal(payload, &body); err != nil {
		return Tick{}, fmt.Errorf("parse price payload: %w", err)
	}
	if body.Quote == nil || body.Quote.Bid == nil || body.Quote.Ask == nil {
		return Tick{}, fmt.Errorf("price payload missing quote")
	}

	ts := now
	if body.LastUpdated != "" {
		if parsed, err := time.Parse(time.RFC3339, body.LastUpdated); err == nil {
			ts = parsed
		}
	}

	return NewTick(symbolFromReference(ref), *body.Quote.Bid, *body.Quote.Ask, ts), nil
}
