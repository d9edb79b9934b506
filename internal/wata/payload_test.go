package wata

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"testing"

	"esimstore/backend/internal/models"
)

func TestParseEventFieldVariants(t *testing.T) {
	cases := []struct {
		name    string
		body    string
		orderID string
		txID    string
		status  string
		amount  float64
	}{
		{
			name:    "current shape",
			body:    `{"orderId":"ord-1","transactionId":"tx-1","transactionStatus":"Paid","amount":499.5}`,
			orderID: "ord-1", txID: "tx-1", status: "Paid", amount: 499.5,
		},
		{
			name:    "legacy snake case",
			body:    `{"order_uuid":"ord-2","payment_id":"tx-2","status":"Failed","total":"120"}`,
			orderID: "ord-2", txID: "tx-2", status: "Failed", amount: 120,
		},
		{
			name:    "bare id and state",
			body:    `{"id":"ord-3","state":"Declined","sum":10}`,
			orderID: "ord-3", status: "Declined", amount: 10,
		},
		{
			name:    "priority over fallback keys",
			body:    `{"orderId":"ord-4","id":"ignored","transactionStatus":"Paid","status":"Failed"}`,
			orderID: "ord-4", status: "Paid",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			event, err := ParseEvent([]byte(tc.body))
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if event.OrderID != tc.orderID {
				t.Errorf("orderID = %q, want %q", event.OrderID, tc.orderID)
			}
			if event.TransactionID != tc.txID {
				t.Errorf("transactionID = %q, want %q", event.TransactionID, tc.txID)
			}
			if event.RawStatus != tc.status {
				t.Errorf("status = %q, want %q", event.RawStatus, tc.status)
			}
			if event.Amount != tc.amount {
				t.Errorf("amount = %v, want %v", event.Amount, tc.amount)
			}
		})
	}
}

func TestParseEventMalformed(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"invalid json", `{"orderId":`},
		{"array payload", `[1,2,3]`},
		{"no order reference", `{"transactionStatus":"Paid"}`},
		{"blank order id", `{"orderId":"   "}`},
		{"no status field", `{"orderId":"ord-1","transactionId":"tx-1"}`},
		{"blank status", `{"orderId":"ord-1","status":"   "}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ParseEvent([]byte(tc.body)); !errors.Is(err, ErrMalformedPayload) {
				t.Fatalf("expected ErrMalformedPayload, got %v", err)
			}
		})
	}
}

func TestCanonicalStatus(t *testing.T) {
	paid := []string{"Paid", "paid", "SUCCESS", "Succeeded"}
	for _, token := range paid {
		status, ok := CanonicalStatus(token)
		if !ok || status != models.OrderStatusPaid {
			t.Errorf("CanonicalStatus(%q) = %q, %v; want paid", token, status, ok)
		}
	}
	failed := []string{"Failed", "declined", "Cancelled", "ERROR"}
	for _, token := range failed {
		status, ok := CanonicalStatus(token)
		if !ok || status != models.OrderStatusFailed {
			t.Errorf("CanonicalStatus(%q) = %q, %v; want failed", token, status, ok)
		}
	}
	for _, token := range []string{"Refunded", "Hold", "", "  "} {
		if _, ok := CanonicalStatus(token); ok {
			t.Errorf("CanonicalStatus(%q) recognized unknown token", token)
		}
	}
}

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"orderId":"ord-1"}`)
	// HMAC-SHA256("secret", body) in hex.
	const signed = "2f7f1f4f4a97f9d69f0d9c1f0a3d0b2e0000000000000000000000000000000"

	if !VerifySignature("", "", body) {
		t.Error("empty secret must disable verification")
	}
	if VerifySignature("secret", "", body) {
		t.Error("missing signature with configured secret accepted")
	}
	if VerifySignature("secret", signed, body) {
		t.Error("bogus signature accepted")
	}
	// Round-trip with a real signature.
	mac := hmac.New(sha256.New, []byte("secret"))
	mac.Write(body)
	valid := hex.EncodeToString(mac.Sum(nil))
	if !VerifySignature("secret", valid, body) {
		t.Error("valid signature rejected")
	}
	if !VerifySignature("secret", strings.ToUpper(valid), body) {
		t.Error("uppercase hex signature rejected")
	}
}
