package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
)

// CheckStatus is the outcome of one record class in a verification pass.
type CheckStatus struct {
	Passed   bool     `json:"passed"`
	Expected string   `json:"expected"`
	Found    []string `json:"found,omitempty"`
	Detail   string   `json:"detail,omitempty"`
}

// Result reports a full verification pass. An incomplete pass is a normal
// result, not an error: callers inspect the per-class statuses.
type Result struct {
	DomainID  snowflake.ID `json:"domain_id"`
	Domain    string       `json:"domain"`
	MX        CheckStatus  `json:"mx"`
	SPF       CheckStatus  `json:"spf"`
	DKIM      CheckStatus  `json:"dkim"`
	DMARC     CheckStatus  `json:"dmarc"`
	Verified  bool         `json:"verified"`
	Activated bool         `json:"activated"`
	Status    string       `json:"status"`
	CheckedAt time.Time    `json:"checked_at"`
}

// Service runs read-only DNS checks and owns the pending → dns_pending →
// active transitions. Only the pass in which all four classes first hold
// has side effects beyond recording the check results.
type Service interface {
	Verify(ctx context.Context, domainID snowflake.ID) (*Result, error)
	// ExpectedRecords lists the records the owner must publish, computed
	// from configuration and the domain's signing key.
	ExpectedRecords(ctx context.Context, domainID snowflake.ID) (map[string]string, error)
}
