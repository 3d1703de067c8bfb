package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
)

type CreatePartnerInput struct {
	Name           string
	TierDiscountBP int64
	// Initial pool size; later growth flows through billing settlement.
	AllocatedStorageBytes int64
}

type CreateOrganizationInput struct {
	// Nil for retail organizations.
	PartnerID         *snowflake.ID
	Name              string
	TotalStorageBytes int64
}

type ReserveDomainInput struct {
	OrganizationID snowflake.ID
	Name           string
	QuotaBytes     int64
	DKIMSelector   string
}

type ReserveUserInput struct {
	OrganizationID      snowflake.ID
	DomainID            snowflake.ID
	Email               string
	DisplayName         string
	MailboxStorageBytes int64
	DriveStorageBytes   int64
}

// Service is the allocation engine: the sole write path for every storage
// counter in the ledger. Operations either move parent and child together
// or not at all.
type Service interface {
	CreatePartner(ctx context.Context, in CreatePartnerInput) (*Partner, error)
	GetPartner(ctx context.Context, id snowflake.ID) (*Partner, error)
	GrowPartnerPool(ctx context.Context, id snowflake.ID, deltaBytes int64) error
	DeletePartner(ctx context.Context, id snowflake.ID) error

	CreateOrganization(ctx context.Context, in CreateOrganizationInput) (*Organization, error)
	GetOrganization(ctx context.Context, id snowflake.ID) (*Organization, error)
	ListOrganizationsByPartner(ctx context.Context, partnerID snowflake.ID) ([]Organization, error)
	ResizeOrganization(ctx context.Context, id snowflake.ID, newTotalBytes int64) error
	GrowOrganizationPool(ctx context.Context, id snowflake.ID, deltaBytes int64) error
	DeleteOrganization(ctx context.Context, id snowflake.ID) error

	// ReserveDomain carves quota from the organization and persists the
	// domain row in pending state. External provisioning is the
	// orchestrator's concern.
	ReserveDomain(ctx context.Context, in ReserveDomainInput) (*Domain, error)
	GetDomain(ctx context.Context, id snowflake.ID) (*Domain, error)
	GetDomainByName(ctx context.Context, name string) (*Domain, error)
	ListDomainsByOrganization(ctx context.Context, orgID snowflake.ID) ([]Domain, error)
	ResizeDomain(ctx context.Context, id snowflake.ID, newQuotaBytes int64) error
	// ReleaseDomain returns the domain's bytes to the organization and
	// removes the row. The domain must hold no users.
	ReleaseDomain(ctx context.Context, id snowflake.ID) error

	MarkDomainProvisioned(ctx context.Context, id snowflake.ID, provisioned bool, status string) error
	MarkDomainFailed(ctx context.Context, id snowflake.ID) error
	SetDomainDKIM(ctx context.Context, id snowflake.ID, selector, record string) error
	RecordDNSResults(ctx context.Context, id snowflake.ID, mx, spf, dkim, dmarc bool) error
	// ActivateDomain performs the terminal pending/dns_pending -> active
	// transition. Returns true only for the caller that flipped the status.
	ActivateDomain(ctx context.Context, id snowflake.ID) (bool, error)

	ReserveUser(ctx context.Context, in ReserveUserInput) (*OrganizationUser, error)
	GetUser(ctx context.Context, id snowflake.ID) (*OrganizationUser, error)
	ListUsersByDomain(ctx context.Context, domainID snowflake.ID) ([]OrganizationUser, error)
	ResizeUserMailbox(ctx context.Context, id snowflake.ID, newMailboxBytes int64) error
	MarkUserActive(ctx context.Context, id snowflake.ID) error
	ReleaseUser(ctx context.Context, id snowflake.ID) error
}
