// Package authorization enforces the platform's capability set with a
// casbin RBAC model. Actors come from API key authentication (system,
// partner:<id>, org:<id>) and map onto a fixed role per actor kind;
// ownership of individual rows is checked in the services themselves.
package authorization

import (
	"context"
	"errors"
)

const (
	ObjectPartner      = "partner"
	ObjectOrganization = "organization"
	ObjectDomain       = "domain"
	ObjectMailbox      = "mailbox"
	ObjectInvoice      = "invoice"
	ObjectPayment      = "payment"
	ObjectAPIKey       = "api_key"
	ObjectAuditLog     = "audit_log"
)

const (
	ActionView     = "view"
	ActionCreate   = "create"
	ActionResize   = "resize"
	ActionDelete   = "delete"
	ActionVerify   = "verify"
	ActionRetry    = "retry"
	ActionPurchase = "purchase"
	ActionSettle   = "settle"
	ActionRevoke   = "revoke"
)

var (
	ErrInvalidActor  = errors.New("invalid_actor")
	ErrInvalidObject = errors.New("invalid_object")
	ErrInvalidAction = errors.New("invalid_action")
	ErrForbidden     = errors.New("forbidden")
)

type Service interface {
	Authorize(ctx context.Context, actor string, object string, action string) error
}
