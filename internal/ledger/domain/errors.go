package domain

import "errors"

var (
	// ErrInsufficientCapacity means the requested bytes exceed the parent's
	// available pool. User-correctable, never retried automatically.
	ErrInsufficientCapacity = errors.New("insufficient_capacity")

	// ErrNotFound means the entity is absent or not visible to the caller.
	ErrNotFound = errors.New("not_found")

	// ErrShrinkBelowUsage means a resize would drop a pool below what its
	// own children already consume.
	ErrShrinkBelowUsage = errors.New("shrink_below_usage")

	ErrInvalidQuota        = errors.New("invalid_quota")
	ErrInvalidName         = errors.New("invalid_name")
	ErrPartnerInactive     = errors.New("partner_inactive")
	ErrOrgSuspended        = errors.New("organization_suspended")
	ErrPartnerNotEmpty     = errors.New("partner_not_empty")
	ErrOrgNotEmpty         = errors.New("organization_not_empty")
	ErrDomainNotEmpty      = errors.New("domain_not_empty")
	ErrDomainExists        = errors.New("domain_exists")
	ErrUserExists          = errors.New("user_exists")
	ErrConcurrentUpdate    = errors.New("concurrent_update")
	ErrDomainNotActive     = errors.New("domain_not_active")
	ErrDomainNotRetryable  = errors.New("domain_not_retryable")
	ErrRetailOrganization  = errors.New("retail_organization")
	ErrPartnerOrganization = errors.New("partner_organization")
)
