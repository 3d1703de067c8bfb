package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/nubomail/nubo/internal/billing/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) domain.Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) domain.Repository {
	return &repository{db: tx}
}

func (r *repository) InsertInvoice(ctx context.Context, invoice domain.Invoice) error {
	metadata := []byte("{}")
	if invoice.Metadata != nil {
		raw, err := json.Marshal(invoice.Metadata)
		if err != nil {
			return err
		}
		metadata = raw
	}
	return r.db.WithContext(ctx).Exec(
		`INSERT INTO invoices (
			id, partner_id, organization_id, purchase_kind, storage_bytes,
			subtotal_paise, tax_paise, total_paise, currency,
			status, receipt, gateway_order_id, gateway_payment_id,
			metadata, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		invoice.ID, invoice.PartnerID, invoice.OrganizationID,
		invoice.PurchaseKind, invoice.StorageBytes,
		invoice.SubtotalPaise, invoice.TaxPaise, invoice.TotalPaise, invoice.Currency,
		invoice.Status, invoice.Receipt, invoice.GatewayOrderID, invoice.GatewayPaymentID,
		string(metadata), invoice.CreatedAt, invoice.UpdatedAt,
	).Error
}

func (r *repository) FindInvoice(ctx context.Context, id snowflake.ID) (*domain.Invoice, error) {
	var invoice domain.Invoice
	err := r.db.WithContext(ctx).
		Raw(`SELECT * FROM invoices WHERE id = ?`, id).
		Scan(&invoice).Error
	if err != nil {
		return nil, err
	}
	if invoice.ID == 0 {
		return nil, domain.ErrInvoiceNotFound
	}
	return &invoice, nil
}

func (r *repository) FindInvoiceByGatewayOrder(ctx context.Context, gatewayOrderID string) (*domain.Invoice, error) {
	var invoice domain.Invoice
	err := r.db.WithContext(ctx).
		Raw(`SELECT * FROM invoices WHERE gateway_order_id = ?`, gatewayOrderID).
		Scan(&invoice).Error
	if err != nil {
		return nil, err
	}
	if invoice.ID == 0 {
		return nil, domain.ErrInvoiceNotFound
	}
	return &invoice, nil
}

func (r *repository) ListInvoicesByPartner(ctx context.Context, partnerID snowflake.ID) ([]domain.Invoice, error) {
	var invoices []domain.Invoice
	err := r.db.WithContext(ctx).
		Raw(`SELECT * FROM invoices WHERE partner_id = ? ORDER BY created_at DESC`, partnerID).
		Scan(&invoices).Error
	return invoices, err
}

func (r *repository) ListInvoicesByOrganization(ctx context.Context, orgID snowflake.ID) ([]domain.Invoice, error) {
	var invoices []domain.Invoice
	err := r.db.WithContext(ctx).
		Raw(`SELECT * FROM invoices WHERE organization_id = ? ORDER BY created_at DESC`, orgID).
		Scan(&invoices).Error
	return invoices, err
}

func (r *repository) MarkInvoicePaid(ctx context.Context, id snowflake.ID, gatewayPaymentID string, now time.Time) (bool, error) {
	result := r.db.WithContext(ctx).Exec(
		`UPDATE invoices
		 SET status = ?, gateway_payment_id = ?, paid_at = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		domain.InvoiceStatusPaid, gatewayPaymentID, now, now,
		id, domain.InvoiceStatusDraft,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repository) InsertTransaction(ctx context.Context, txn domain.PaymentTransaction) (bool, error) {
	// The conflict clause rides the unique gateway_payment_id index; gorm
	// renders the dialect's own do-nothing form. Zero rows affected means
	// the other settlement path already recorded this payment.
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "gateway_payment_id"}},
			DoNothing: true,
		}).
		Create(&txn)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repository) FindTransactionByGatewayPayment(ctx context.Context, gatewayPaymentID string) (*domain.PaymentTransaction, error) {
	var txn domain.PaymentTransaction
	err := r.db.WithContext(ctx).
		Raw(`SELECT * FROM payment_transactions WHERE gateway_payment_id = ?`, gatewayPaymentID).
		Scan(&txn).Error
	if err != nil {
		return nil, err
	}
	if txn.ID == 0 {
		return nil, gorm.ErrRecordNotFound
	}
	return &txn, nil
}

// IsNotFound reports whether err is the repository's missing-row error.
func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound) || errors.Is(err, domain.ErrInvoiceNotFound)
}
