package wata

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"esimstore/backend/internal/models"
)

var ErrMalformedPayload = errors.New("malformed webhook payload")

// Wata has shipped several webhook shapes over time. Each field is read
// from the first key that carries a usable value.
var (
	orderIDKeys       = []string{"orderId", "order_uuid", "order_id", "id"}
	transactionIDKeys = []string{"transactionId", "payment_id", "paymentId", "transaction_id"}
	statusKeys        = []string{"transactionStatus", "status", "state", "payment_status"}
	amountKeys        = []string{"amount", "total", "sum"}
)

var paidTokens = []string{"Paid", "Success", "Succeeded"}

var failedTokens = []string{"Failed", "Declined", "Cancelled", "Error"}

// Event is a normalized webhook notification.
type Event struct {
	OrderID       string
	TransactionID string
	RawStatus     string
	Amount        float64
	Raw           map[string]interface{}
}

// ParseEvent decodes a webhook body into an Event. The payload must be
// a JSON object naming both an order and a status under one of the
// known keys; anything else is ErrMalformedPayload. A status token the
// vocabulary does not cover is not malformed, that is CanonicalStatus's
// call.
func ParseEvent(body []byte) (Event, error) {
	var raw map[string]interface{}
	if err := json.Unmarshal(body, &raw); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	out := Event{Raw: raw}
	out.OrderID = firstString(raw, orderIDKeys)
	if out.OrderID == "" {
		return Event{}, fmt.Errorf("%w: no order reference", ErrMalformedPayload)
	}
	out.RawStatus = firstString(raw, statusKeys)
	if out.RawStatus == "" {
		return Event{}, fmt.Errorf("%w: no status field", ErrMalformedPayload)
	}
	out.TransactionID = firstString(raw, transactionIDKeys)
	out.Amount = firstNumber(raw, amountKeys)
	return out, nil
}

// CanonicalStatus maps a provider status token onto an order status.
// The second return is false for vocabulary this code does not know,
// which callers must treat as "acknowledge and do nothing".
func CanonicalStatus(raw string) (string, bool) {
	token := strings.TrimSpace(raw)
	for _, t := range paidTokens {
		if strings.EqualFold(token, t) {
			return models.OrderStatusPaid, true
		}
	}
	for _, t := range failedTokens {
		if strings.EqualFold(token, t) {
			return models.OrderStatusFailed, true
		}
	}
	return "", false
}

func firstString(raw map[string]interface{}, keys []string) string {
	for _, key := range keys {
		value, ok := raw[key]
		if !ok {
			continue
		}
		switch v := value.(type) {
		case string:
			if trimmed := strings.TrimSpace(v); trimmed != "" {
				return trimmed
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		case json.Number:
			return v.String()
		}
	}
	return ""
}

func firstNumber(raw map[string]interface{}, keys []string) float64 {
	for _, key := range keys {
		value, ok := raw[key]
		if !ok {
			continue
		}
		switch v := value.(type) {
		case float64:
			return v
		case string:
			if parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
				return parsed
			}
		case json.Number:
			if parsed, err := v.Float64(); err == nil {
				return parsed
			}
		}
	}
	return 0
}
