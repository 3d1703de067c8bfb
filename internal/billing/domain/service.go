package domain

import (
	"context"
	"io"

	"github.com/bwmarrin/snowflake"
)

type CreateStorageOrderInput struct {
	PartnerID    snowflake.ID
	StorageBytes int64
}

type CreateOrganizationOrderInput struct {
	OrganizationID snowflake.ID
	StorageBytes   int64
}

// CheckoutSession is what the frontend needs to open the gateway checkout.
type CheckoutSession struct {
	Invoice        *Invoice `json:"invoice"`
	GatewayOrderID string   `json:"gateway_order_id"`
	GatewayKeyID   string   `json:"gateway_key_id"`
	AmountPaise    int64    `json:"amount_paise"`
	Currency       string   `json:"currency"`
}

// Service prices storage purchases, opens gateway orders and settles
// payments. Settlement is idempotent across the direct-verify and webhook
// paths; the first writer applies the ledger effect, later ones no-op.
type Service interface {
	CreateStorageOrder(ctx context.Context, in CreateStorageOrderInput) (*CheckoutSession, error)
	CreateOrganizationOrder(ctx context.Context, in CreateOrganizationOrderInput) (*CheckoutSession, error)

	// VerifyPayment settles from the checkout callback. The signature is
	// checked before the gateway is consulted; an uncaptured payment is
	// rejected.
	VerifyPayment(ctx context.Context, orderID, paymentID, signature string) (*Invoice, error)
	// HandleWebhook settles from a gateway webhook delivery. Unknown event
	// types return ErrEventIgnored.
	HandleWebhook(ctx context.Context, body []byte, signature string) error

	GetInvoice(ctx context.Context, id snowflake.ID) (*Invoice, error)
	ListInvoicesByPartner(ctx context.Context, partnerID snowflake.ID) ([]Invoice, error)
	ListInvoicesByOrganization(ctx context.Context, orgID snowflake.ID) ([]Invoice, error)

	// RenderReceipt produces the PDF receipt for a paid invoice.
	RenderReceipt(ctx context.Context, id snowflake.ID) (io.Reader, error)
}
