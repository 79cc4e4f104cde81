package yookassa

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

const currencyRUB = "RUB"

var (
	// ErrProvider marks any failure talking to the payment provider
	ErrProvider = errors.New("payment provider error")
	// ErrInvalidPaymentID rejects ids that are not in the provider's format
	ErrInvalidPaymentID = errors.New("invalid payment id")
)

var paymentIDRegex = regexp.MustCompile(`^[0-9A-Za-z][0-9A-Za-z_-]{0,63}$`)

// Client is a YooKassa HTTP client
type Client struct {
	baseURL    string
	shopID     string
	secretKey  string
	returnURL  string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient creates a new YooKassa client
func NewClient(baseURL, shopID, secretKey, returnURL string) *Client {
	return &Client{
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		shopID:    shopID,
		secretKey: secretKey,
		returnURL: returnURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		limiter: rate.NewLimiter(rate.Every(200*time.Millisecond), 1), // ~5 RPS
	}
}

func (c *Client) doRequest(ctx context.Context, method, path string, body any) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: throttle: %v", ErrProvider, err)
	}

	var reqBody io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal body: %w", err)
		}
		reqBody = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.SetBasicAuth(c.shopID, c.secretKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Idempotence-Key", uuid.NewString())
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: do request: %v", ErrProvider, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrProvider, err)
	}

	if resp.StatusCode >= 400 {
		var apiErr ErrorResponse
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Description != "" {
			return nil, fmt.Errorf("%w: API error %d: %s (%s)", ErrProvider, resp.StatusCode, apiErr.Description, apiErr.Code)
		}
		return nil, fmt.Errorf("%w: API error %d: %s", ErrProvider, resp.StatusCode, string(data))
	}

	return data, nil
}

// CreatePayment opens a redirect payment for amount rubles and returns the
// confirmation URL and the provider's payment id
func (c *Client) CreatePayment(ctx context.Context, amount decimal.Decimal, description string, metadata map[string]string) (string, string, error) {
	if !amount.IsPositive() {
		return "", "", fmt.Errorf("invalid amount %s", amount)
	}

	body := CreatePaymentRequest{
		Amount: Amount{
			Value:    amount.StringFixed(2),
			Currency: currencyRUB,
		},
		Confirmation: Confirmation{
			Type:      "redirect",
			ReturnURL: c.returnURL,
		},
		Capture:     true,
		Description: description,
		Metadata:    metadata,
	}

	data, err := c.doRequest(ctx, http.MethodPost, "/payments", body)
	if err != nil {
		return "", "", err
	}

	var payment Payment
	if err := json.Unmarshal(data, &payment); err != nil {
		return "", "", fmt.Errorf("%w: unmarshal: %v", ErrProvider, err)
	}
	if payment.ID == "" || payment.Confirmation == nil || payment.Confirmation.ConfirmationURL == "" {
		return "", "", fmt.Errorf("%w: payment without confirmation url", ErrProvider)
	}

	return payment.Confirmation.ConfirmationURL, payment.ID, nil
}

// ValidPaymentID reports whether id has the shape of a provider payment id.
// Ids arriving from outside are checked before they reach a request path.
func ValidPaymentID(id string) bool {
	return paymentIDRegex.MatchString(id)
}

// GetPayment returns the payment object by id
func (c *Client) GetPayment(ctx context.Context, paymentID string) (*Payment, error) {
	if !ValidPaymentID(paymentID) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPaymentID, paymentID)
	}

	data, err := c.doRequest(ctx, http.MethodGet, "/payments/"+url.PathEscape(paymentID), nil)
	if err != nil {
		return nil, err
	}

	var payment Payment
	if err := json.Unmarshal(data, &payment); err != nil {
		return nil, fmt.Errorf("%w: unmarshal: %v", ErrProvider, err)
	}

	return &payment, nil
}

// ParseAmount reads a provider amount value
func ParseAmount(a Amount) (decimal.Decimal, error) {
	if a.Currency != "" && a.Currency != currencyRUB {
		return decimal.Zero, fmt.Errorf("unsupported currency %q", a.Currency)
	}
	return decimal.NewFromString(a.Value)
}
