package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	ledgerdomain "github.com/nubomail/nubo/internal/ledger/domain"
)

var (
	// ErrExternalProvisioningFailed marks an operation that stopped at the
	// mail host. The ledger side is left in a retryable state described by
	// the operation's contract.
	ErrExternalProvisioningFailed = errors.New("external_provisioning_failed")
)

type CreateDomainInput struct {
	OrganizationID snowflake.ID
	Name           string
	QuotaBytes     int64
}

type CreateUserInput struct {
	OrganizationID      snowflake.ID
	DomainID            snowflake.ID
	LocalPart           string
	DisplayName         string
	MailboxStorageBytes int64
	DriveStorageBytes   int64
	// Optional; a random one is generated when empty.
	Password string
}

// Orchestrator drives the two-phase flows that touch both the ledger and
// the external mail host. Local reservations are transactional; the
// external calls are not, so each operation spells out what survives a
// partial failure.
type Orchestrator interface {
	// CreateDomain reserves quota, then provisions the domain externally.
	// On external failure the reservation is kept and the domain is left
	// in failed state for RetryDomain.
	CreateDomain(ctx context.Context, in CreateDomainInput) (*ledgerdomain.Domain, error)
	// RetryDomain re-runs the external phase for a failed domain.
	RetryDomain(ctx context.Context, id snowflake.ID) error
	// EnsureDomainProvisioned provisions the domain externally if that has
	// not happened yet. Safe to call on any non-failed domain.
	EnsureDomainProvisioned(ctx context.Context, id snowflake.ID) error
	// DeleteDomain removes the domain externally first, then releases the
	// reservation. An already-absent external domain counts as deleted; a
	// transport failure aborts before anything is released.
	DeleteDomain(ctx context.Context, id snowflake.ID) error
	UpdateDomainQuota(ctx context.Context, id snowflake.ID, newQuotaBytes int64) error

	// CreateUser reserves mailbox+drive bytes and creates the mailbox.
	// On external failure the reservation is rolled back completely.
	CreateUser(ctx context.Context, in CreateUserInput) (*ledgerdomain.OrganizationUser, error)
	DeleteUser(ctx context.Context, id snowflake.ID) error
	UpdateUserQuota(ctx context.Context, id snowflake.ID, newMailboxBytes int64) error
}
