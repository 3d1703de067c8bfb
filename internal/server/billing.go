package server

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	billingdomain "github.com/nubomail/nubo/internal/billing/domain"
)

type verifyPaymentRequest struct {
	GatewayOrderID   string `json:"gateway_order_id"`
	GatewayPaymentID string `json:"gateway_payment_id"`
	Signature        string `json:"signature"`
}

func (s *Server) VerifyPayment(c *gin.Context) {
	var req verifyPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	invoice, err := s.billingSvc.VerifyPayment(
		c.Request.Context(),
		strings.TrimSpace(req.GatewayOrderID),
		strings.TrimSpace(req.GatewayPaymentID),
		strings.TrimSpace(req.Signature),
	)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.audit(c, "payment.settle", "invoice", invoice.ID.String(), map[string]any{
		"gateway_payment_id": invoice.GatewayPaymentID,
		"total_paise":        invoice.TotalPaise,
		"path":               "verify",
	})

	c.JSON(http.StatusOK, gin.H{"data": invoice})
}

// HandlePaymentWebhook ingests gateway deliveries. Events the platform
// does not settle from are acknowledged so the gateway stops retrying.
func (s *Server) HandlePaymentWebhook(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	signature := strings.TrimSpace(c.GetHeader("X-Razorpay-Signature"))
	if err := s.billingSvc.HandleWebhook(c.Request.Context(), body, signature); err != nil {
		if errors.Is(err, billingdomain.ErrEventIgnored) {
			c.JSON(http.StatusOK, gin.H{"status": "ignored"})
			return
		}
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) GetInvoice(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	invoice, err := s.billingSvc.GetInvoice(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": invoice})
}

func (s *Server) RenderReceipt(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	receipt, err := s.billingSvc.RenderReceipt(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Header("Content-Disposition", `attachment; filename="receipt-`+id.String()+`.pdf"`)
	c.DataFromReader(http.StatusOK, -1, "application/pdf", receipt, nil)
}
