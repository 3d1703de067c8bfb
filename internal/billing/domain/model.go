package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Invoice lifecycle states.
const (
	InvoiceStatusDraft    = "draft"
	InvoiceStatusPaid     = "paid"
	InvoiceStatusCanceled = "canceled"
)

// Purchase kinds describe the ledger effect a settled invoice applies.
const (
	PurchaseKindPartnerStorage = "partner_storage"
	PurchaseKindOrgStorage     = "organization_storage"
)

// Invoice is a storage purchase awaiting (or past) settlement. Exactly one
// of PartnerID/OrganizationID is set, matching the purchase kind. All
// amounts are minor units (paise).
type Invoice struct {
	ID             snowflake.ID  `gorm:"primaryKey" json:"id"`
	PartnerID      *snowflake.ID `gorm:"index" json:"partner_id,omitempty"`
	OrganizationID *snowflake.ID `gorm:"index" json:"organization_id,omitempty"`

	PurchaseKind string `gorm:"type:text;not null" json:"purchase_kind"`
	StorageBytes int64  `gorm:"not null" json:"storage_bytes"`

	SubtotalPaise int64  `gorm:"not null" json:"subtotal_paise"`
	TaxPaise      int64  `gorm:"not null" json:"tax_paise"`
	TotalPaise    int64  `gorm:"not null" json:"total_paise"`
	Currency      string `gorm:"type:text;not null" json:"currency"`

	Status           string `gorm:"type:text;not null;default:'draft'" json:"status"`
	Receipt          string `gorm:"type:text;not null" json:"receipt"`
	GatewayOrderID   string `gorm:"type:text;index" json:"gateway_order_id"`
	GatewayPaymentID string `gorm:"type:text" json:"gateway_payment_id"`

	Metadata datatypes.JSONMap `gorm:"type:jsonb" json:"metadata,omitempty"`

	PaidAt    *time.Time `json:"paid_at,omitempty"`
	CreatedAt time.Time  `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time  `gorm:"not null" json:"updated_at"`
}

// TableName sets the database table name.
func (Invoice) TableName() string { return "invoices" }

// PaymentTransaction is the immutable settlement record. The unique
// gateway_payment_id is the sole idempotency guard between the webhook
// path and direct verification.
type PaymentTransaction struct {
	ID               snowflake.ID `gorm:"primaryKey" json:"id"`
	InvoiceID        snowflake.ID `gorm:"not null;index" json:"invoice_id"`
	GatewayPaymentID string       `gorm:"type:text;not null;uniqueIndex:ux_payment_transactions_gateway_payment_id" json:"gateway_payment_id"`
	GatewayOrderID   string       `gorm:"type:text;not null" json:"gateway_order_id"`
	AmountPaise      int64        `gorm:"not null" json:"amount_paise"`
	Currency         string       `gorm:"type:text;not null" json:"currency"`
	Method           string       `gorm:"type:text" json:"method"`
	// Which path won the settlement race: "verify" or "webhook".
	Source    string    `gorm:"type:text;not null" json:"source"`
	CreatedAt time.Time `gorm:"not null" json:"created_at"`
}

// TableName sets the database table name.
func (PaymentTransaction) TableName() string { return "payment_transactions" }
