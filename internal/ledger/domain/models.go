// Package domain contains persistence models for the storage quota ledger.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Partner owns a purchased storage pool carved into organizations.
type Partner struct {
	ID                    snowflake.ID `gorm:"primaryKey" json:"id"`
	Name                  string       `gorm:"type:text;not null" json:"name"`
	Slug                  string       `gorm:"type:text;not null;uniqueIndex:ux_partners_slug" json:"slug"`
	TierDiscountBP        int64        `gorm:"column:tier_discount_bp;not null;default:0" json:"tier_discount_bp"`
	AllocatedStorageBytes int64        `gorm:"not null;default:0" json:"allocated_storage_bytes"`
	UsedStorageBytes      int64        `gorm:"not null;default:0" json:"used_storage_bytes"`
	Active                bool         `gorm:"not null;default:true" json:"active"`
	CreatedAt             time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt             time.Time    `gorm:"not null" json:"updated_at"`
}

// TableName sets the database table name.
func (Partner) TableName() string { return "partners" }

// Organization is a tenant. PartnerID nil means retail: the organization
// owns its pool outright instead of carving it from a partner.
type Organization struct {
	ID                snowflake.ID  `gorm:"primaryKey" json:"id"`
	PartnerID         *snowflake.ID `gorm:"index" json:"partner_id"`
	Name              string        `gorm:"type:text;not null" json:"name"`
	Slug              string        `gorm:"type:text;not null;uniqueIndex:ux_organizations_slug" json:"slug"`
	TotalStorageBytes int64         `gorm:"not null;default:0" json:"total_storage_bytes"`
	UsedStorageBytes  int64         `gorm:"not null;default:0" json:"used_storage_bytes"`
	Active            bool          `gorm:"not null;default:true" json:"active"`
	SuspendedAt       *time.Time    `json:"suspended_at"`
	SuspendedReason   string        `gorm:"type:text" json:"suspended_reason"`
	CreatedAt         time.Time     `gorm:"not null" json:"created_at"`
	UpdatedAt         time.Time     `gorm:"not null" json:"updated_at"`
}

// TableName sets the database table name.
func (Organization) TableName() string { return "organizations" }

// Domain lifecycle states.
const (
	DomainStatusPending    = "pending"
	DomainStatusDNSPending = "dns_pending"
	DomainStatusActive     = "active"
	DomainStatusSuspended  = "suspended"
	DomainStatusFailed     = "failed"
)

// Domain is a mail domain carved from an organization's pool.
type Domain struct {
	ID                 snowflake.ID `gorm:"primaryKey" json:"id"`
	OrganizationID     snowflake.ID `gorm:"not null;index" json:"organization_id"`
	Name               string       `gorm:"type:text;not null;uniqueIndex:ux_domains_name" json:"name"`
	DomainQuotaBytes   int64        `gorm:"not null;default:0" json:"domain_quota_bytes"`
	Status             string       `gorm:"type:text;not null;default:'pending'" json:"status"`
	MailcowProvisioned bool         `gorm:"not null;default:false" json:"mailcow_provisioned"`

	DKIMSelector  string     `gorm:"type:text" json:"dkim_selector"`
	DKIMRecord    string     `gorm:"type:text" json:"dkim_record"`
	MXVerified    bool       `gorm:"not null;default:false" json:"mx_verified"`
	SPFVerified   bool       `gorm:"not null;default:false" json:"spf_verified"`
	DKIMVerified  bool       `gorm:"not null;default:false" json:"dkim_verified"`
	DMARCVerified bool       `gorm:"not null;default:false" json:"dmarc_verified"`
	DNSCheckedAt  *time.Time `json:"dns_checked_at"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

// TableName sets the database table name.
func (Domain) TableName() string { return "domains" }

// DNSVerified reports whether every record class passed the last check.
func (d Domain) DNSVerified() bool {
	return d.MXVerified && d.SPFVerified && d.DKIMVerified && d.DMARCVerified
}

// OrganizationUser lifecycle states.
const (
	UserStatusPending   = "pending"
	UserStatusActive    = "active"
	UserStatusSuspended = "suspended"
)

// OrganizationUser is a mailbox-holding end user. Mailbox and drive bytes
// are both reserved against the owning organization's pool.
type OrganizationUser struct {
	ID                  snowflake.ID `gorm:"primaryKey" json:"id"`
	OrganizationID      snowflake.ID `gorm:"not null;index" json:"organization_id"`
	DomainID            snowflake.ID `gorm:"not null;index" json:"domain_id"`
	Email               string       `gorm:"type:text;not null;uniqueIndex:ux_organization_users_email" json:"email"`
	DisplayName         string       `gorm:"type:text" json:"display_name"`
	MailboxStorageBytes int64        `gorm:"not null;default:0" json:"mailbox_storage_bytes"`
	DriveStorageBytes   int64        `gorm:"not null;default:0" json:"drive_storage_bytes"`
	Status              string       `gorm:"type:text;not null;default:'pending'" json:"status"`
	CreatedAt           time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt           time.Time    `gorm:"not null" json:"updated_at"`
}

// TableName sets the database table name.
func (OrganizationUser) TableName() string { return "organization_users" }

// ReservedBytes is the user's total claim against the organization pool.
func (u OrganizationUser) ReservedBytes() int64 {
	return u.MailboxStorageBytes + u.DriveStorageBytes
}
