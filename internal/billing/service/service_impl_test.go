package service_test

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	billingdomain "github.com/nubomail/nubo/internal/billing/domain"
	billingrepo "github.com/nubomail/nubo/internal/billing/repository"
	billingservice "github.com/nubomail/nubo/internal/billing/service"
	"github.com/nubomail/nubo/internal/clock"
	"github.com/nubomail/nubo/internal/config"
	ledgerdomain "github.com/nubomail/nubo/internal/ledger/domain"
	ledgerrepo "github.com/nubomail/nubo/internal/ledger/repository"
	ledgerservice "github.com/nubomail/nubo/internal/ledger/service"
	"github.com/nubomail/nubo/internal/providers/pdf"
	"github.com/nubomail/nubo/internal/providers/razorpay"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const gb = int64(1) << 30

// fakeGateway stands in for the payment gateway; signatures are literal
// "valid" tokens so tests control both outcomes.
type fakeGateway struct {
	orderSeq  int
	lastOrder razorpay.CreateOrderInput
	payments  map[string]*razorpay.Payment
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{payments: map[string]*razorpay.Payment{}}
}

func (f *fakeGateway) CreateOrder(ctx context.Context, in razorpay.CreateOrderInput) (*razorpay.Order, error) {
	f.orderSeq++
	f.lastOrder = in
	return &razorpay.Order{
		ID:       fmt.Sprintf("order_%d", f.orderSeq),
		Amount:   in.Amount,
		Currency: in.Currency,
		Receipt:  in.Receipt,
		Status:   "created",
	}, nil
}

func (f *fakeGateway) GetPayment(ctx context.Context, paymentID string) (*razorpay.Payment, error) {
	payment, ok := f.payments[paymentID]
	if !ok {
		return nil, razorpay.ErrNotFound
	}
	return payment, nil
}

func (f *fakeGateway) VerifyPaymentSignature(orderID, paymentID, signature string) bool {
	return signature == "valid"
}

func (f *fakeGateway) VerifyWebhookSignature(body []byte, signature string) bool {
	return signature == "valid"
}

func (f *fakeGateway) capture(paymentID, orderID string, amount int64) {
	f.payments[paymentID] = &razorpay.Payment{
		ID: paymentID, OrderID: orderID, Amount: amount,
		Currency: "INR", Status: "captured", Method: "upi", Captured: true,
	}
}

type fakePDF struct{}

func (fakePDF) RenderReceipt(ctx context.Context, data pdf.ReceiptData) (io.Reader, error) {
	return bytes.NewReader([]byte("%PDF " + data.ReceiptNumber)), nil
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:memdb_billing_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	schema := []string{
		`CREATE TABLE partners (
			id INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			slug TEXT NOT NULL UNIQUE,
			tier_discount_bp INTEGER NOT NULL DEFAULT 0,
			allocated_storage_bytes INTEGER NOT NULL DEFAULT 0,
			used_storage_bytes INTEGER NOT NULL DEFAULT 0,
			active BOOLEAN NOT NULL DEFAULT 1,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE TABLE organizations (
			id INTEGER PRIMARY KEY,
			partner_id INTEGER,
			name TEXT NOT NULL,
			slug TEXT NOT NULL UNIQUE,
			total_storage_bytes INTEGER NOT NULL DEFAULT 0,
			used_storage_bytes INTEGER NOT NULL DEFAULT 0,
			active BOOLEAN NOT NULL DEFAULT 1,
			suspended_at DATETIME,
			suspended_reason TEXT,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE TABLE invoices (
			id INTEGER PRIMARY KEY,
			partner_id INTEGER,
			organization_id INTEGER,
			purchase_kind TEXT NOT NULL,
			storage_bytes INTEGER NOT NULL,
			subtotal_paise INTEGER NOT NULL,
			tax_paise INTEGER NOT NULL,
			total_paise INTEGER NOT NULL,
			currency TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'draft',
			receipt TEXT NOT NULL,
			gateway_order_id TEXT,
			gateway_payment_id TEXT,
			metadata TEXT,
			paid_at DATETIME,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE TABLE payment_transactions (
			id INTEGER PRIMARY KEY,
			invoice_id INTEGER NOT NULL,
			gateway_payment_id TEXT NOT NULL UNIQUE,
			gateway_order_id TEXT NOT NULL,
			amount_paise INTEGER NOT NULL,
			currency TEXT NOT NULL,
			method TEXT,
			source TEXT NOT NULL,
			created_at DATETIME NOT NULL
		)`,
	}
	for _, stmt := range schema {
		require.NoError(t, db.Exec(stmt).Error)
	}
	return db
}

type fixture struct {
	ledger  ledgerdomain.Service
	billing billingdomain.Service
	gateway *fakeGateway
	partner *ledgerdomain.Partner
}

func setup(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	db := setupTestDB(t)
	node, err := snowflake.NewNode(23)
	require.NoError(t, err)

	ledgerRepo := ledgerrepo.NewRepository(db)
	ledgerSvc := ledgerservice.NewService(ledgerservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clock.NewSystemClock(),
		Repo:  ledgerRepo,
	})

	cfg := config.Config{}
	cfg.Billing = config.BillingConfig{
		Currency:                  "INR",
		StoragePricePaisePerGB:    100,
		OrgStoragePricePaisePerGB: 150,
		TaxRateBasisPoints:        1800,
		RazorpayKeyID:             "rzp_test_key",
	}

	gateway := newFakeGateway()
	billingSvc := billingservice.NewService(billingservice.Params{
		DB:         db,
		Log:        zap.NewNop(),
		GenID:      node,
		Clock:      clock.NewSystemClock(),
		Config:     cfg,
		Repo:       billingrepo.NewRepository(db),
		LedgerRepo: ledgerRepo,
		Ledger:     ledgerSvc,
		Gateway:    gateway,
		PDF:        fakePDF{},
	})

	partner, err := ledgerSvc.CreatePartner(ctx, ledgerdomain.CreatePartnerInput{
		Name:                  "Billing Partner",
		TierDiscountBP:        1000,
		AllocatedStorageBytes: 10 * gb,
	})
	require.NoError(t, err)

	return &fixture{ledger: ledgerSvc, billing: billingSvc, gateway: gateway, partner: partner}
}

func webhookBody(paymentID, orderID string, amount int64) []byte {
	return []byte(fmt.Sprintf(
		`{"event":"payment.captured","payload":{"payment":{"entity":{"id":"%s","order_id":"%s","amount":%d,"currency":"INR","status":"captured","method":"upi","captured":true}}}}`,
		paymentID, orderID, amount,
	))
}

func TestCreateStorageOrderOpensDraftInvoice(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	session, err := f.billing.CreateStorageOrder(ctx, billingdomain.CreateStorageOrderInput{
		PartnerID:    f.partner.ID,
		StorageBytes: 10 * gb,
	})
	require.NoError(t, err)

	// 10 GB x 100 paise, 10% tier discount, 18% tax.
	assert.Equal(t, int64(900), session.Invoice.SubtotalPaise)
	assert.Equal(t, int64(162), session.Invoice.TaxPaise)
	assert.Equal(t, int64(1062), session.AmountPaise)
	assert.Equal(t, "order_1", session.GatewayOrderID)
	assert.Equal(t, billingdomain.InvoiceStatusDraft, session.Invoice.Status)
	assert.LessOrEqual(t, len(f.gateway.lastOrder.Receipt), 40)

	// Ordering must not move the ledger.
	partner, err := f.ledger.GetPartner(ctx, f.partner.ID)
	require.NoError(t, err)
	assert.Equal(t, 10*gb, partner.AllocatedStorageBytes)
}

func TestVerifyPaymentSettlesAndGrowsPool(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	session, err := f.billing.CreateStorageOrder(ctx, billingdomain.CreateStorageOrderInput{
		PartnerID:    f.partner.ID,
		StorageBytes: 10 * gb,
	})
	require.NoError(t, err)
	f.gateway.capture("pay_1", session.GatewayOrderID, session.AmountPaise)

	invoice, err := f.billing.VerifyPayment(ctx, session.GatewayOrderID, "pay_1", "valid")
	require.NoError(t, err)
	assert.Equal(t, billingdomain.InvoiceStatusPaid, invoice.Status)
	assert.Equal(t, "pay_1", invoice.GatewayPaymentID)
	require.NotNil(t, invoice.PaidAt)

	partner, err := f.ledger.GetPartner(ctx, f.partner.ID)
	require.NoError(t, err)
	assert.Equal(t, 20*gb, partner.AllocatedStorageBytes)
}

func TestVerifyPaymentRejectsBadSignature(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	session, err := f.billing.CreateStorageOrder(ctx, billingdomain.CreateStorageOrderInput{
		PartnerID:    f.partner.ID,
		StorageBytes: gb,
	})
	require.NoError(t, err)
	f.gateway.capture("pay_1", session.GatewayOrderID, session.AmountPaise)

	_, err = f.billing.VerifyPayment(ctx, session.GatewayOrderID, "pay_1", "forged")
	assert.ErrorIs(t, err, billingdomain.ErrInvalidSignature)

	partner, err := f.ledger.GetPartner(ctx, f.partner.ID)
	require.NoError(t, err)
	assert.Equal(t, 10*gb, partner.AllocatedStorageBytes)
}

func TestVerifyPaymentRejectsUncaptured(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	session, err := f.billing.CreateStorageOrder(ctx, billingdomain.CreateStorageOrderInput{
		PartnerID:    f.partner.ID,
		StorageBytes: gb,
	})
	require.NoError(t, err)
	f.gateway.payments["pay_1"] = &razorpay.Payment{
		ID: "pay_1", OrderID: session.GatewayOrderID,
		Amount: session.AmountPaise, Currency: "INR",
		Status: "authorized", Captured: false,
	}

	_, err = f.billing.VerifyPayment(ctx, session.GatewayOrderID, "pay_1", "valid")
	assert.ErrorIs(t, err, billingdomain.ErrPaymentNotCaptured)
}

func TestVerifyTwiceSettlesOnce(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	session, err := f.billing.CreateStorageOrder(ctx, billingdomain.CreateStorageOrderInput{
		PartnerID:    f.partner.ID,
		StorageBytes: 10 * gb,
	})
	require.NoError(t, err)
	f.gateway.capture("pay_1", session.GatewayOrderID, session.AmountPaise)

	_, err = f.billing.VerifyPayment(ctx, session.GatewayOrderID, "pay_1", "valid")
	require.NoError(t, err)
	_, err = f.billing.VerifyPayment(ctx, session.GatewayOrderID, "pay_1", "valid")
	require.NoError(t, err)

	partner, err := f.ledger.GetPartner(ctx, f.partner.ID)
	require.NoError(t, err)
	assert.Equal(t, 20*gb, partner.AllocatedStorageBytes, "pool must grow exactly once")
}

func TestWebhookAfterVerifyIsNoOp(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	session, err := f.billing.CreateStorageOrder(ctx, billingdomain.CreateStorageOrderInput{
		PartnerID:    f.partner.ID,
		StorageBytes: 10 * gb,
	})
	require.NoError(t, err)
	f.gateway.capture("pay_1", session.GatewayOrderID, session.AmountPaise)

	_, err = f.billing.VerifyPayment(ctx, session.GatewayOrderID, "pay_1", "valid")
	require.NoError(t, err)

	err = f.billing.HandleWebhook(ctx, webhookBody("pay_1", session.GatewayOrderID, session.AmountPaise), "valid")
	require.NoError(t, err)

	partner, err := f.ledger.GetPartner(ctx, f.partner.ID)
	require.NoError(t, err)
	assert.Equal(t, 20*gb, partner.AllocatedStorageBytes, "webhook replay must not re-apply")
}

func TestWebhookSettlesWithoutVerify(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	session, err := f.billing.CreateStorageOrder(ctx, billingdomain.CreateStorageOrderInput{
		PartnerID:    f.partner.ID,
		StorageBytes: 5 * gb,
	})
	require.NoError(t, err)

	err = f.billing.HandleWebhook(ctx, webhookBody("pay_9", session.GatewayOrderID, session.AmountPaise), "valid")
	require.NoError(t, err)

	invoice, err := f.billing.GetInvoice(ctx, session.Invoice.ID)
	require.NoError(t, err)
	assert.Equal(t, billingdomain.InvoiceStatusPaid, invoice.Status)

	partner, err := f.ledger.GetPartner(ctx, f.partner.ID)
	require.NoError(t, err)
	assert.Equal(t, 15*gb, partner.AllocatedStorageBytes)
}

func TestWebhookIgnoresOtherEvents(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	body := []byte(`{"event":"payment.failed","payload":{"payment":{"entity":{"id":"pay_1","order_id":"order_1"}}}}`)
	err := f.billing.HandleWebhook(ctx, body, "valid")
	assert.ErrorIs(t, err, billingdomain.ErrEventIgnored)
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	err := f.billing.HandleWebhook(ctx, webhookBody("pay_1", "order_1", 100), "forged")
	assert.ErrorIs(t, err, billingdomain.ErrInvalidSignature)
}

func TestOrganizationOrderForPartnerBackedOrgRejected(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	org, err := f.ledger.CreateOrganization(ctx, ledgerdomain.CreateOrganizationInput{
		PartnerID:         &f.partner.ID,
		Name:              "Backed Org",
		TotalStorageBytes: gb,
	})
	require.NoError(t, err)

	_, err = f.billing.CreateOrganizationOrder(ctx, billingdomain.CreateOrganizationOrderInput{
		OrganizationID: org.ID,
		StorageBytes:   gb,
	})
	assert.ErrorIs(t, err, ledgerdomain.ErrPartnerOrganization)
}

func TestOrganizationOrderSettlement(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	org, err := f.ledger.CreateOrganization(ctx, ledgerdomain.CreateOrganizationInput{
		Name:              "Retail Org",
		TotalStorageBytes: 2 * gb,
	})
	require.NoError(t, err)

	session, err := f.billing.CreateOrganizationOrder(ctx, billingdomain.CreateOrganizationOrderInput{
		OrganizationID: org.ID,
		StorageBytes:   8 * gb,
	})
	require.NoError(t, err)
	f.gateway.capture("pay_org", session.GatewayOrderID, session.AmountPaise)

	_, err = f.billing.VerifyPayment(ctx, session.GatewayOrderID, "pay_org", "valid")
	require.NoError(t, err)

	stored, err := f.ledger.GetOrganization(ctx, org.ID)
	require.NoError(t, err)
	assert.Equal(t, 10*gb, stored.TotalStorageBytes)
}

func TestRenderReceiptRequiresPaidInvoice(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	session, err := f.billing.CreateStorageOrder(ctx, billingdomain.CreateStorageOrderInput{
		PartnerID:    f.partner.ID,
		StorageBytes: gb,
	})
	require.NoError(t, err)

	_, err = f.billing.RenderReceipt(ctx, session.Invoice.ID)
	assert.ErrorIs(t, err, billingdomain.ErrReceiptUnavailable)

	f.gateway.capture("pay_1", session.GatewayOrderID, session.AmountPaise)
	_, err = f.billing.VerifyPayment(ctx, session.GatewayOrderID, "pay_1", "valid")
	require.NoError(t, err)

	reader, err := f.billing.RenderReceipt(ctx, session.Invoice.ID)
	require.NoError(t, err)
	raw, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "rcpt_")
}
