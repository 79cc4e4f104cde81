package yookassa

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreatePayment(t *testing.T) {
	var got CreatePaymentRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/payments", r.URL.Path)

		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "shop", user)
		assert.Equal(t, "secret", pass)
		assert.NotEmpty(t, r.Header.Get("Idempotence-Key"))

		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(Payment{
			ID:     "2d1f0a9e-000f-5000-9000-1b68e7b15f3f",
			Status: StatusPending,
			Confirmation: &Confirmation{
				Type:            "redirect",
				ConfirmationURL: "https://yoomoney.ru/checkout/payments/v2/contract?orderId=2d1f",
			},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", "shop", "secret", "https://t.me/runes_oracle_bot")
	url, id, err := c.CreatePayment(context.Background(), decimal.NewFromInt(150), "top up RUNES-AB12CD",
		map[string]string{"public_id": "RUNES-AB12CD"})
	require.NoError(t, err)

	assert.Equal(t, "2d1f0a9e-000f-5000-9000-1b68e7b15f3f", id)
	assert.Contains(t, url, "orderId=2d1f")
	assert.Equal(t, Amount{Value: "150.00", Currency: "RUB"}, got.Amount)
	assert.True(t, got.Capture)
	assert.Equal(t, "redirect", got.Confirmation.Type)
	assert.Equal(t, "https://t.me/runes_oracle_bot", got.Confirmation.ReturnURL)
	assert.Equal(t, "RUNES-AB12CD", got.Metadata["public_id"])
}

func TestCreatePaymentRejectsNonPositiveAmount(t *testing.T) {
	c := NewClient("http://127.0.0.1:0", "shop", "secret", "")
	_, _, err := c.CreatePayment(context.Background(), decimal.Zero, "", nil)
	assert.Error(t, err)
}

func TestGetPayment(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/payments/2d1f0a9e-000f-5000-9000-1b68e7b15f3f", r.URL.Path)
		assert.Empty(t, r.URL.RawQuery)
		assert.Empty(t, r.Header.Get("Idempotence-Key"))
		json.NewEncoder(w).Encode(Payment{ID: "2d1f0a9e-000f-5000-9000-1b68e7b15f3f", Status: StatusSucceeded, Paid: true})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "shop", "secret", "")
	payment, err := c.GetPayment(context.Background(), "2d1f0a9e-000f-5000-9000-1b68e7b15f3f")
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, payment.Status)
}

func TestGetPaymentRejectsMalformedID(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		json.NewEncoder(w).Encode(Payment{ID: "pay-1", Status: StatusSucceeded})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "shop", "secret", "")
	for _, id := range []string{"", "pay-1#a", "pay-1?x=1", "pay-1/../pay-2", "pay 1", "%70ay-1", "-pay"} {
		_, err := c.GetPayment(context.Background(), id)
		assert.ErrorIs(t, err, ErrInvalidPaymentID, "id %q", id)
		assert.False(t, errors.Is(err, ErrProvider), "id %q", id)
	}
	assert.Zero(t, calls)
}

func TestProviderErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantMsg string
	}{
		{"structured error", http.StatusUnauthorized, `{"type":"error","code":"invalid_credentials","description":"Login fails"}`, "Login fails"},
		{"plain error", http.StatusBadGateway, "upstream down", "upstream down"},
		{"bad json", http.StatusOK, "{", "unmarshal"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c := NewClient(srv.URL, "shop", "secret", "")
			_, err := c.GetPayment(context.Background(), "abc")
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrProvider)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestParseAmount(t *testing.T) {
	d, err := ParseAmount(Amount{Value: "150.00", Currency: "RUB"})
	require.NoError(t, err)
	assert.True(t, d.Equal(decimal.NewFromInt(150)))

	_, err = ParseAmount(Amount{Value: "1.00", Currency: "USD"})
	assert.Error(t, err)
}
