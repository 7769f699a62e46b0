package stripe

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/freight-next/internal/payment"

	"github.com/shopspring/decimal"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client, err := NewClient(Config{SecretKey: " sk_test_123 ", APIBaseURL: server.URL + "/"})
	if err != nil {
		t.Fatalf("new client failed: %v", err)
	}
	return client
}

func TestNewClientValidatesConfig(t *testing.T) {
	if _, err := NewClient(Config{}); !errors.Is(err, ErrConfigInvalid) {
		t.Fatalf("expected config invalid, got %v", err)
	}
	client, err := NewClient(Config{SecretKey: "sk_test_1"})
	if err != nil {
		t.Fatalf("new client failed: %v", err)
	}
	if client.cfg.APIBaseURL != defaultAPIBaseURL {
		t.Fatalf("unexpected default api base url: %s", client.cfg.APIBaseURL)
	}
	if client.cfg.Timeout != defaultTimeout {
		t.Fatalf("unexpected default timeout: %v", client.cfg.Timeout)
	}
}

func TestCreateTransferSendsIdempotencyKey(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/transfers" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Idempotency-Key"); got != "key-1" {
			t.Errorf("unexpected idempotency key: %s", got)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk_test_123" {
			t.Errorf("unexpected authorization: %s", got)
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form failed: %v", err)
		}
		if r.PostForm.Get("amount") != "8050" {
			t.Errorf("unexpected amount: %s", r.PostForm.Get("amount"))
		}
		if r.PostForm.Get("currency") != "usd" {
			t.Errorf("unexpected currency: %s", r.PostForm.Get("currency"))
		}
		if r.PostForm.Get("destination") != "acct_42" {
			t.Errorf("unexpected destination: %s", r.PostForm.Get("destination"))
		}
		if r.PostForm.Get("transfer_group") != "key-1" {
			t.Errorf("unexpected transfer group: %s", r.PostForm.Get("transfer_group"))
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"tr_123","reversed":false}`))
	})

	result, err := client.CreateTransfer(context.Background(), payment.TransferRequest{
		DriverID:          42,
		ExternalAccountID: "acct_42",
		Amount:            decimal.RequireFromString("80.50"),
		Currency:          "USD",
		IdempotencyKey:    "key-1",
	})
	if err != nil {
		t.Fatalf("create transfer failed: %v", err)
	}
	if result.TransferID != "tr_123" || result.Status != payment.TransferStatusSucceeded {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestCreateTransferErrorStatus(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		_, _ = w.Write([]byte(`{"error":{"message":"insufficient platform balance"}}`))
	})
	_, err := client.CreateTransfer(context.Background(), payment.TransferRequest{
		ExternalAccountID: "acct_1",
		Amount:            decimal.NewFromInt(10),
		Currency:          "usd",
		IdempotencyKey:    "key-2",
	})
	if !errors.Is(err, ErrResponseInvalid) {
		t.Fatalf("expected response invalid, got %v", err)
	}
}

func TestGetTransferByGroup(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("unexpected method: %s", r.Method)
		}
		switch r.URL.Query().Get("transfer_group") {
		case "found":
			_, _ = w.Write([]byte(`{"data":[{"id":"tr_found","reversed":false}]}`))
		default:
			_, _ = w.Write([]byte(`{"data":[]}`))
		}
	})

	result, err := client.GetTransfer(context.Background(), "found")
	if err != nil {
		t.Fatalf("get transfer failed: %v", err)
	}
	if result.TransferID != "tr_found" {
		t.Fatalf("unexpected transfer id: %s", result.TransferID)
	}
	if _, err := client.GetTransfer(context.Background(), "missing"); !errors.Is(err, payment.ErrTransferNotFound) {
		t.Fatalf("expected transfer not found, got %v", err)
	}
}

func TestCreatePaymentIntentAndRefund(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form failed: %v", err)
		}
		switch r.URL.Path {
		case "/v1/payment_intents":
			if r.PostForm.Get("metadata[order_id]") != "7" {
				t.Errorf("unexpected order metadata: %s", r.PostForm.Get("metadata[order_id]"))
			}
			_, _ = w.Write([]byte(`{"id":"pi_7","status":"requires_payment_method"}`))
		case "/v1/refunds":
			if r.PostForm.Get("payment_intent") != "pi_7" {
				t.Errorf("unexpected payment intent: %s", r.PostForm.Get("payment_intent"))
			}
			if r.PostForm.Get("amount") != "5400" {
				t.Errorf("unexpected refund amount: %s", r.PostForm.Get("amount"))
			}
			_, _ = w.Write([]byte(`{"id":"re_1","status":"succeeded"}`))
		default:
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
	})

	intentID, err := client.CreatePaymentIntent(context.Background(), payment.PaymentIntentRequest{
		OrderID:        7,
		OrderNo:        "FO-7",
		Amount:         decimal.NewFromInt(60),
		Currency:       "usd",
		IdempotencyKey: "order:7:intent",
	})
	if err != nil {
		t.Fatalf("create payment intent failed: %v", err)
	}
	if intentID != "pi_7" {
		t.Fatalf("unexpected intent id: %s", intentID)
	}

	ok, err := client.RefundPaymentIntent(context.Background(), payment.RefundRequest{
		PaymentIntentID: intentID,
		Amount:          decimal.NewFromInt(54),
		Currency:        "usd",
		IdempotencyKey:  "order:7:cancel_refund",
	})
	if err != nil {
		t.Fatalf("refund failed: %v", err)
	}
	if !ok {
		t.Fatalf("expected refund accepted")
	}
}

func TestToMinorAmount(t *testing.T) {
	cases := []struct {
		amount   string
		currency string
		want     int64
		wantErr  bool
	}{
		{amount: "12.34", currency: "usd", want: 1234},
		{amount: "500", currency: "JPY", want: 500},
		{amount: "1.005", currency: "usd", wantErr: true},
		{amount: "0", currency: "usd", wantErr: true},
	}
	for _, tc := range cases {
		got, err := toMinorAmount(decimal.RequireFromString(tc.amount), tc.currency)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("expected error for %s %s", tc.amount, tc.currency)
			}
			continue
		}
		if err != nil {
			t.Fatalf("to minor amount failed: %v", err)
		}
		if got != tc.want {
			t.Fatalf("unexpected minor amount for %s: %d", tc.amount, got)
		}
	}
}

func TestCancelPaymentIntent(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form failed: %v", err)
		}
		if r.Header.Get("Idempotency-Key") != "order:9:intent_cancel" {
			t.Errorf("unexpected idempotency key: %s", r.Header.Get("Idempotency-Key"))
		}
		switch r.URL.Path {
		case "/v1/payment_intents/pi_9/cancel":
			_, _ = w.Write([]byte(`{"id":"pi_9","status":"canceled"}`))
		case "/v1/payment_intents/pi_10/cancel":
			_, _ = w.Write([]byte(`{"id":"pi_10","status":"succeeded"}`))
		default:
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
	})

	ok, err := client.CancelPaymentIntent(context.Background(), payment.CancelIntentRequest{
		PaymentIntentID: "pi_9",
		IdempotencyKey:  "order:9:intent_cancel",
	})
	if err != nil || !ok {
		t.Fatalf("expected intent cancelled, got ok=%v err=%v", ok, err)
	}
	ok, err = client.CancelPaymentIntent(context.Background(), payment.CancelIntentRequest{
		PaymentIntentID: "pi_10",
		IdempotencyKey:  "order:9:intent_cancel",
	})
	if err != nil || ok {
		t.Fatalf("captured intent must report not cancelled, got ok=%v err=%v", ok, err)
	}
	if _, err := client.CancelPaymentIntent(context.Background(), payment.CancelIntentRequest{}); !errors.Is(err, ErrConfigInvalid) {
		t.Fatalf("expected missing intent error, got %v", err)
	}
}
