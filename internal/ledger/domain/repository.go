package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Repository is the row-level access layer of the quota ledger. The guarded
// mutations embed their capacity check in the UPDATE's WHERE clause, so the
// storage engine itself serializes concurrent writers against a parent row;
// a false return means the guard did not hold.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	FindPartner(ctx context.Context, id snowflake.ID) (*Partner, error)
	InsertPartner(ctx context.Context, partner Partner) error
	ReservePartnerPool(ctx context.Context, id snowflake.ID, delta int64, now time.Time) (bool, error)
	ReleasePartnerPool(ctx context.Context, id snowflake.ID, amount int64, now time.Time) error
	GrowPartnerAllocation(ctx context.Context, id snowflake.ID, delta int64, now time.Time) (bool, error)
	DeletePartner(ctx context.Context, id snowflake.ID) (bool, error)
	CountPartnerOrganizations(ctx context.Context, id snowflake.ID) (int64, error)

	FindOrganization(ctx context.Context, id snowflake.ID) (*Organization, error)
	InsertOrganization(ctx context.Context, org Organization) error
	SetOrganizationTotal(ctx context.Context, id snowflake.ID, newTotal, oldTotal int64, now time.Time) (bool, error)
	ReserveOrganizationPool(ctx context.Context, id snowflake.ID, delta int64, now time.Time) (bool, error)
	ReleaseOrganizationPool(ctx context.Context, id snowflake.ID, amount int64, now time.Time) error
	GrowOrganizationTotal(ctx context.Context, id snowflake.ID, delta int64, now time.Time) (bool, error)
	DeleteOrganization(ctx context.Context, id snowflake.ID) (bool, error)
	CountOrganizationChildren(ctx context.Context, id snowflake.ID) (int64, error)
	ListOrganizationsByPartner(ctx context.Context, partnerID snowflake.ID) ([]Organization, error)

	FindDomain(ctx context.Context, id snowflake.ID) (*Domain, error)
	FindDomainByName(ctx context.Context, name string) (*Domain, error)
	InsertDomain(ctx context.Context, dom Domain) error
	SetDomainQuota(ctx context.Context, id snowflake.ID, newQuota int64, now time.Time) (bool, error)
	DeleteDomain(ctx context.Context, id snowflake.ID) (bool, error)
	CountDomainUsers(ctx context.Context, id snowflake.ID) (int64, error)
	SumDomainMailboxBytes(ctx context.Context, id snowflake.ID) (int64, error)
	ListDomainsByOrganization(ctx context.Context, orgID snowflake.ID) ([]Domain, error)
	SetDomainProvisioned(ctx context.Context, id snowflake.ID, provisioned bool, status string, now time.Time) error
	SetDomainStatus(ctx context.Context, id snowflake.ID, status string, now time.Time) error
	ActivateDomain(ctx context.Context, id snowflake.ID, now time.Time) (bool, error)
	SetDomainDNSResults(ctx context.Context, id snowflake.ID, mx, spf, dkim, dmarc bool, status string, now time.Time) error
	SetDomainDKIM(ctx context.Context, id snowflake.ID, selector, record string, now time.Time) error

	FindUser(ctx context.Context, id snowflake.ID) (*OrganizationUser, error)
	FindUserByEmail(ctx context.Context, email string) (*OrganizationUser, error)
	InsertUser(ctx context.Context, user OrganizationUser) error
	SetUserMailboxQuota(ctx context.Context, id snowflake.ID, newBytes int64, now time.Time) error
	SetUserStatus(ctx context.Context, id snowflake.ID, status string, now time.Time) error
	DeleteUser(ctx context.Context, id snowflake.ID) (bool, error)
	ListUsersByDomain(ctx context.Context, domainID snowflake.ID) ([]OrganizationUser, error)
}
