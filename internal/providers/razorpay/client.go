package razorpay

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/nubomail/nubo/internal/config"
	"go.uber.org/zap"
)

var (
	ErrUnavailable   = errors.New("gateway_unavailable")
	ErrRequestFailed = errors.New("gateway_request_failed")
	ErrNotFound      = errors.New("gateway_not_found")
)

// Order is the gateway-side order a checkout session attaches to.
type Order struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
	Status   string `json:"status"`
}

// Payment is the gateway's view of a payment attempt.
type Payment struct {
	ID       string `json:"id"`
	OrderID  string `json:"order_id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Status   string `json:"status"`
	Method   string `json:"method"`
	Captured bool   `json:"captured"`
}

type CreateOrderInput struct {
	// Minor units (paise).
	Amount   int64
	Currency string
	// At most 40 characters per the gateway contract.
	Receipt string
	Notes   map[string]string
}

type Client interface {
	CreateOrder(ctx context.Context, in CreateOrderInput) (*Order, error)
	GetPayment(ctx context.Context, paymentID string) (*Payment, error)
	// VerifyPaymentSignature checks the checkout callback signature
	// computed over "orderID|paymentID".
	VerifyPaymentSignature(orderID, paymentID, signature string) bool
	// VerifyWebhookSignature checks the webhook signature computed over
	// the raw request body.
	VerifyWebhookSignature(body []byte, signature string) bool
}

type client struct {
	baseURL       string
	keyID         string
	keySecret     string
	webhookSecret string
	http          *http.Client
	log           *zap.Logger
}

func New(cfg config.Config, log *zap.Logger) Client {
	timeout := cfg.Billing.RequestTimeout
	if timeout <= 0 {
		timeout = 12 * time.Second
	}
	baseURL := strings.TrimRight(cfg.Billing.RazorpayBaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.razorpay.com"
	}
	return &client{
		baseURL:       baseURL,
		keyID:         cfg.Billing.RazorpayKeyID,
		keySecret:     cfg.Billing.RazorpayKeySecret,
		webhookSecret: cfg.Billing.RazorpayWebhookSecret,
		http:          &http.Client{Timeout: timeout},
		log:           log.Named("razorpay.client"),
	}
}

type errorResponse struct {
	Error struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"error"`
}

func (c *client) CreateOrder(ctx context.Context, in CreateOrderInput) (*Order, error) {
	if len(in.Receipt) > 40 {
		in.Receipt = in.Receipt[:40]
	}
	payload := map[string]any{
		"amount":   in.Amount,
		"currency": in.Currency,
		"receipt":  in.Receipt,
	}
	if len(in.Notes) > 0 {
		payload["notes"] = in.Notes
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/orders", bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(c.keyID, c.keySecret)
	req.Header.Set("Content-Type", "application/json")

	var order Order
	if err := c.do(req, &order); err != nil {
		return nil, err
	}
	if order.ID == "" {
		return nil, fmt.Errorf("%w: empty order id", ErrRequestFailed)
	}
	return &order, nil
}

func (c *client) GetPayment(ctx context.Context, paymentID string) (*Payment, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/payments/"+paymentID, nil)
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(c.keyID, c.keySecret)

	var payment Payment
	if err := c.do(req, &payment); err != nil {
		return nil, err
	}
	if payment.ID == "" {
		return nil, ErrNotFound
	}
	return &payment, nil
}

func (c *client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}
	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode >= http.StatusBadRequest {
		var gatewayErr errorResponse
		if err := json.NewDecoder(resp.Body).Decode(&gatewayErr); err == nil && gatewayErr.Error.Description != "" {
			return fmt.Errorf("%w: %s", ErrRequestFailed, gatewayErr.Error.Description)
		}
		return fmt.Errorf("%w: status %d", ErrRequestFailed, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (c *client) VerifyPaymentSignature(orderID, paymentID, signature string) bool {
	return verifyHMAC([]byte(orderID+"|"+paymentID), signature, c.keySecret)
}

func (c *client) VerifyWebhookSignature(body []byte, signature string) bool {
	return verifyHMAC(body, signature, c.webhookSecret)
}

func verifyHMAC(message []byte, signature, secret string) bool {
	if secret == "" || signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(message)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(strings.TrimSpace(signature)))
}
