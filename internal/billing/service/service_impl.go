package service

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/nubomail/nubo/internal/billing/domain"
	"github.com/nubomail/nubo/internal/clock"
	"github.com/nubomail/nubo/internal/config"
	ledgerdomain "github.com/nubomail/nubo/internal/ledger/domain"
	obsmetrics "github.com/nubomail/nubo/internal/observability/metrics"
	"github.com/nubomail/nubo/internal/providers/pdf"
	"github.com/nubomail/nubo/internal/providers/razorpay"
	"github.com/oklog/ulid/v2"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Config     config.Config
	Repo       domain.Repository
	LedgerRepo ledgerdomain.Repository
	Ledger     ledgerdomain.Service
	Gateway    razorpay.Client
	PDF        pdf.Provider
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

// Service prices purchases, opens gateway orders and settles payments.
// The settlement path is shared by direct verification and the webhook;
// the payment_transactions unique index arbitrates the race between them.
type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	cfg        config.Config
	repo       domain.Repository
	ledgerRepo ledgerdomain.Repository
	ledger     ledgerdomain.Service
	gateway    razorpay.Client
	pdf        pdf.Provider
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("billing.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		cfg:        p.Config,
		repo:       p.Repo,
		ledgerRepo: p.LedgerRepo,
		ledger:     p.Ledger,
		gateway:    p.Gateway,
		pdf:        p.PDF,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) CreateStorageOrder(ctx context.Context, in domain.CreateStorageOrderInput) (*domain.CheckoutSession, error) {
	if in.StorageBytes <= 0 {
		return nil, domain.ErrInvalidPurchase
	}
	partner, err := s.ledger.GetPartner(ctx, in.PartnerID)
	if err != nil {
		return nil, err
	}
	if !partner.Active {
		return nil, ledgerdomain.ErrPartnerInactive
	}

	quote := PriceStorage(in.StorageBytes,
		s.cfg.Billing.StoragePricePaisePerGB,
		partner.TierDiscountBP,
		s.cfg.Billing.TaxRateBasisPoints,
	)
	return s.openOrder(ctx, domain.Invoice{
		ID:           s.genID.Generate(),
		PartnerID:    &partner.ID,
		PurchaseKind: domain.PurchaseKindPartnerStorage,
		StorageBytes: in.StorageBytes,
		Metadata: datatypes.JSONMap{
			"partner_slug": partner.Slug,
			"discount_bp":  partner.TierDiscountBP,
		},
	}, quote)
}

func (s *Service) CreateOrganizationOrder(ctx context.Context, in domain.CreateOrganizationOrderInput) (*domain.CheckoutSession, error) {
	if in.StorageBytes <= 0 {
		return nil, domain.ErrInvalidPurchase
	}
	org, err := s.ledger.GetOrganization(ctx, in.OrganizationID)
	if err != nil {
		return nil, err
	}
	// Partner-backed organizations draw from the partner pool; their
	// storage is bought by the partner.
	if org.PartnerID != nil {
		return nil, ledgerdomain.ErrPartnerOrganization
	}
	if !org.Active {
		return nil, ledgerdomain.ErrOrgSuspended
	}

	quote := PriceStorage(in.StorageBytes,
		s.cfg.Billing.OrgStoragePricePaisePerGB,
		0,
		s.cfg.Billing.TaxRateBasisPoints,
	)
	return s.openOrder(ctx, domain.Invoice{
		ID:             s.genID.Generate(),
		OrganizationID: &org.ID,
		PurchaseKind:   domain.PurchaseKindOrgStorage,
		StorageBytes:   in.StorageBytes,
		Metadata: datatypes.JSONMap{
			"organization_slug": org.Slug,
		},
	}, quote)
}

// openOrder creates the gateway order and persists the draft invoice.
// Nothing in the ledger moves until settlement.
func (s *Service) openOrder(ctx context.Context, invoice domain.Invoice, quote Quote) (*domain.CheckoutSession, error) {
	now := s.clock.Now()
	invoice.SubtotalPaise = quote.SubtotalPaise
	invoice.TaxPaise = quote.TaxPaise
	invoice.TotalPaise = quote.TotalPaise
	invoice.Currency = s.cfg.Billing.Currency
	invoice.Status = domain.InvoiceStatusDraft
	invoice.Receipt = "rcpt_" + strings.ToLower(ulid.Make().String())
	invoice.CreatedAt = now
	invoice.UpdatedAt = now

	order, err := s.gateway.CreateOrder(ctx, razorpay.CreateOrderInput{
		Amount:   invoice.TotalPaise,
		Currency: invoice.Currency,
		Receipt:  invoice.Receipt,
		Notes: map[string]string{
			"invoice_id":    invoice.ID.String(),
			"purchase_kind": invoice.PurchaseKind,
		},
	})
	if err != nil {
		return nil, err
	}
	invoice.GatewayOrderID = order.ID

	if err := s.repo.InsertInvoice(ctx, invoice); err != nil {
		return nil, err
	}
	s.log.Info("storage order opened",
		zap.String("invoice_id", invoice.ID.String()),
		zap.String("gateway_order_id", order.ID),
		zap.Int64("total_paise", invoice.TotalPaise),
	)
	return &domain.CheckoutSession{
		Invoice:        &invoice,
		GatewayOrderID: order.ID,
		GatewayKeyID:   s.cfg.Billing.RazorpayKeyID,
		AmountPaise:    invoice.TotalPaise,
		Currency:       invoice.Currency,
	}, nil
}

func (s *Service) VerifyPayment(ctx context.Context, orderID, paymentID, signature string) (*domain.Invoice, error) {
	if !s.gateway.VerifyPaymentSignature(orderID, paymentID, signature) {
		s.obsMetrics.RecordSettlement("verify", "invalid_signature")
		return nil, domain.ErrInvalidSignature
	}

	invoice, err := s.repo.FindInvoiceByGatewayOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	payment, err := s.gateway.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if !payment.Captured || payment.Status != "captured" {
		s.obsMetrics.RecordSettlement("verify", "not_captured")
		return nil, domain.ErrPaymentNotCaptured
	}
	if payment.OrderID != orderID || payment.Amount != invoice.TotalPaise {
		s.obsMetrics.RecordSettlement("verify", "amount_mismatch")
		return nil, domain.ErrAmountMismatch
	}

	if err := s.settle(ctx, invoice, settlement{
		paymentID: payment.ID,
		orderID:   orderID,
		amount:    payment.Amount,
		currency:  payment.Currency,
		method:    payment.Method,
		source:    "verify",
	}); err != nil {
		return nil, err
	}
	return s.repo.FindInvoice(ctx, invoice.ID)
}

type settlement struct {
	paymentID string
	orderID   string
	amount    int64
	currency  string
	method    string
	source    string
}

// settle is the single idempotent settlement path. The insert of the
// payment transaction is the arbiter: whoever gets the row in applies the
// invoice flip and the ledger effect in the same transaction; everyone
// else sees a conflict and leaves without side effects.
func (s *Service) settle(ctx context.Context, invoice *domain.Invoice, st settlement) error {
	now := s.clock.Now()
	duplicate := false

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		inserted, err := repo.InsertTransaction(ctx, domain.PaymentTransaction{
			ID:               s.genID.Generate(),
			InvoiceID:        invoice.ID,
			GatewayPaymentID: st.paymentID,
			GatewayOrderID:   st.orderID,
			AmountPaise:      st.amount,
			Currency:         st.currency,
			Method:           st.method,
			Source:           st.source,
			CreatedAt:        now,
		})
		if err != nil {
			return err
		}
		if !inserted {
			duplicate = true
			return nil
		}

		paid, err := repo.MarkInvoicePaid(ctx, invoice.ID, st.paymentID, now)
		if err != nil {
			return err
		}
		if !paid {
			return domain.ErrInvoiceNotPayable
		}

		return s.applyLedgerEffect(ctx, tx, invoice, now)
	})
	if err != nil {
		s.obsMetrics.RecordSettlement(st.source, "error")
		return err
	}

	if duplicate {
		s.obsMetrics.RecordSettlement(st.source, "duplicate")
		s.log.Info("settlement already recorded",
			zap.String("gateway_payment_id", st.paymentID),
			zap.String("source", st.source),
		)
		return nil
	}

	s.obsMetrics.RecordSettlement(st.source, "settled")
	s.log.Info("payment settled",
		zap.String("invoice_id", invoice.ID.String()),
		zap.String("gateway_payment_id", st.paymentID),
		zap.String("source", st.source),
		zap.Int64("amount_paise", st.amount),
	)
	return nil
}

func (s *Service) applyLedgerEffect(ctx context.Context, tx *gorm.DB, invoice *domain.Invoice, now time.Time) error {
	ledgerRepo := s.ledgerRepo.WithTx(tx)

	switch invoice.PurchaseKind {
	case domain.PurchaseKindPartnerStorage:
		grown, err := ledgerRepo.GrowPartnerAllocation(ctx, *invoice.PartnerID, invoice.StorageBytes, now)
		if err != nil {
			return err
		}
		if !grown {
			return ledgerdomain.ErrPartnerInactive
		}
	case domain.PurchaseKindOrgStorage:
		grown, err := ledgerRepo.GrowOrganizationTotal(ctx, *invoice.OrganizationID, invoice.StorageBytes, now)
		if err != nil {
			return err
		}
		if !grown {
			return ledgerdomain.ErrOrgSuspended
		}
	default:
		return fmt.Errorf("%w: kind %q", domain.ErrInvalidPurchase, invoice.PurchaseKind)
	}
	return nil
}

func (s *Service) GetInvoice(ctx context.Context, id snowflake.ID) (*domain.Invoice, error) {
	return s.repo.FindInvoice(ctx, id)
}

func (s *Service) ListInvoicesByPartner(ctx context.Context, partnerID snowflake.ID) ([]domain.Invoice, error) {
	return s.repo.ListInvoicesByPartner(ctx, partnerID)
}

func (s *Service) ListInvoicesByOrganization(ctx context.Context, orgID snowflake.ID) ([]domain.Invoice, error) {
	return s.repo.ListInvoicesByOrganization(ctx, orgID)
}

func (s *Service) RenderReceipt(ctx context.Context, id snowflake.ID) (io.Reader, error) {
	invoice, err := s.repo.FindInvoice(ctx, id)
	if err != nil {
		return nil, err
	}
	if invoice.Status != domain.InvoiceStatusPaid || invoice.PaidAt == nil {
		return nil, domain.ErrReceiptUnavailable
	}

	buyerKind := "Partner"
	buyerName := stringFromMetadata(invoice.Metadata, "partner_slug")
	if invoice.PurchaseKind == domain.PurchaseKindOrgStorage {
		buyerKind = "Organization"
		buyerName = stringFromMetadata(invoice.Metadata, "organization_slug")
	}

	quoteUnits := (invoice.StorageBytes + gib - 1) / gib
	return s.pdf.RenderReceipt(ctx, pdf.ReceiptData{
		ReceiptNumber:    invoice.Receipt,
		DatePaid:         invoice.PaidAt.UTC().Format("2 Jan 2006"),
		BuyerName:        buyerName,
		BuyerKind:        buyerKind,
		Description:      fmt.Sprintf("Storage pool, %d GB", quoteUnits),
		Units:            quoteUnits,
		UnitPrice:        formatPaise(unitPrice(invoice.SubtotalPaise, quoteUnits)),
		Subtotal:         formatPaise(invoice.SubtotalPaise),
		Tax:              formatPaise(invoice.TaxPaise),
		Total:            formatPaise(invoice.TotalPaise),
		Currency:         invoice.Currency,
		GatewayPaymentID: invoice.GatewayPaymentID,
	})
}

func unitPrice(subtotal, units int64) int64 {
	if units <= 0 {
		return subtotal
	}
	return subtotal / units
}

// formatPaise renders minor units as a decimal major-unit string.
func formatPaise(paise int64) string {
	return fmt.Sprintf("%d.%02d", paise/100, paise%100)
}

func stringFromMetadata(metadata datatypes.JSONMap, key string) string {
	if metadata == nil {
		return ""
	}
	if value, ok := metadata[key].(string); ok {
		return value
	}
	return ""
}
