package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Repository persists invoices and settlement records. InsertTransaction
// relies on the unique gateway_payment_id index for its conflict handling.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	InsertInvoice(ctx context.Context, invoice Invoice) error
	FindInvoice(ctx context.Context, id snowflake.ID) (*Invoice, error)
	FindInvoiceByGatewayOrder(ctx context.Context, gatewayOrderID string) (*Invoice, error)
	ListInvoicesByPartner(ctx context.Context, partnerID snowflake.ID) ([]Invoice, error)
	ListInvoicesByOrganization(ctx context.Context, orgID snowflake.ID) ([]Invoice, error)
	// MarkInvoicePaid flips draft → paid. False when the invoice was not
	// in draft state.
	MarkInvoicePaid(ctx context.Context, id snowflake.ID, gatewayPaymentID string, now time.Time) (bool, error)

	// InsertTransaction inserts with ON CONFLICT DO NOTHING on the
	// gateway payment id. False means a prior settlement already exists.
	InsertTransaction(ctx context.Context, txn PaymentTransaction) (bool, error)
	FindTransactionByGatewayPayment(ctx context.Context, gatewayPaymentID string) (*PaymentTransaction, error)
}
