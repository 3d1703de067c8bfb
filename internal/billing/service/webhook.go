package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nubomail/nubo/internal/billing/domain"
	"go.uber.org/zap"
)

// webhookEvent mirrors the gateway's delivery envelope.
type webhookEvent struct {
	Event   string `json:"event"`
	Payload struct {
		Payment struct {
			Entity struct {
				ID       string `json:"id"`
				OrderID  string `json:"order_id"`
				Amount   int64  `json:"amount"`
				Currency string `json:"currency"`
				Status   string `json:"status"`
				Method   string `json:"method"`
				Captured bool   `json:"captured"`
			} `json:"entity"`
		} `json:"payment"`
	} `json:"payload"`
}

func (s *Service) HandleWebhook(ctx context.Context, body []byte, signature string) error {
	if !s.gateway.VerifyWebhookSignature(body, signature) {
		s.obsMetrics.RecordSettlement("webhook", "invalid_signature")
		return domain.ErrInvalidSignature
	}

	var event webhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrEventIgnored, err)
	}
	if event.Event != "payment.captured" {
		s.log.Debug("webhook event ignored", zap.String("event", event.Event))
		return domain.ErrEventIgnored
	}

	payment := event.Payload.Payment.Entity
	if payment.ID == "" || payment.OrderID == "" {
		return fmt.Errorf("%w: missing payment identifiers", domain.ErrEventIgnored)
	}

	invoice, err := s.repo.FindInvoiceByGatewayOrder(ctx, payment.OrderID)
	if err != nil {
		return err
	}
	if payment.Amount != invoice.TotalPaise {
		s.obsMetrics.RecordSettlement("webhook", "amount_mismatch")
		return domain.ErrAmountMismatch
	}

	return s.settle(ctx, invoice, settlement{
		paymentID: payment.ID,
		orderID:   payment.OrderID,
		amount:    payment.Amount,
		currency:  payment.Currency,
		method:    payment.Method,
		source:    "webhook",
	})
}
