package authorization

import (
	"context"
	_ "embed"
	"strconv"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	auditdomain "github.com/nubomail/nubo/internal/audit/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

type Params struct {
	fx.In

	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
	AuditSvc auditdomain.Service `optional:"true"`
}

type ServiceImpl struct {
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
	auditSvc auditdomain.Service
}

func NewEnforcer(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoSave(true)
	enforcer.EnableAutoBuildRoleLinks(true)
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	enforcer.BuildRoleLinks()
	return enforcer, nil
}

func NewService(p Params) Service {
	return &ServiceImpl{
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
		auditSvc: p.AuditSvc,
	}
}

func (s *ServiceImpl) Authorize(ctx context.Context, actor string, object string, action string) error {
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return ErrInvalidActor
	}
	object = strings.TrimSpace(object)
	if object == "" {
		return ErrInvalidObject
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return ErrInvalidAction
	}

	roleName, actorType, err := resolveActor(actor)
	if err != nil {
		s.auditDenied(ctx, actorType, actor, object, action)
		return err
	}

	if err := s.ensureGrouping(actor, roleName); err != nil {
		return err
	}

	allowed, err := s.enforcer.Enforce(actor, object, action)
	if err != nil {
		return err
	}
	if !allowed {
		s.auditDenied(ctx, actorType, actor, object, action)
		return ErrForbidden
	}

	if shouldAuditGrant(action) {
		s.auditGranted(ctx, actorType, actor, object, action)
	}
	return nil
}

func resolveActor(actor string) (roleName string, actorType string, err error) {
	if actor == "system" {
		return "role:system", "system", nil
	}
	if id, found := strings.CutPrefix(actor, "partner:"); found {
		if !validID(id) {
			return "", "partner", ErrInvalidActor
		}
		return "role:partner", "partner", nil
	}
	if id, found := strings.CutPrefix(actor, "org:"); found {
		if !validID(id) {
			return "", "organization", ErrInvalidActor
		}
		return "role:org_admin", "organization", nil
	}
	return "", "", ErrInvalidActor
}

func validID(raw string) bool {
	id, err := strconv.ParseInt(raw, 10, 64)
	return err == nil && id > 0
}

func (s *ServiceImpl) ensureGrouping(subject string, roleName string) error {
	existing, err := s.enforcer.GetFilteredGroupingPolicy(0, subject)
	if err != nil {
		return err
	}
	for _, rule := range existing {
		if len(rule) < 2 || rule[1] == roleName {
			continue
		}
		params := make([]interface{}, 0, len(rule))
		for _, value := range rule {
			params = append(params, value)
		}
		_, _ = s.enforcer.RemoveGroupingPolicy(params...)
	}

	has, err := s.enforcer.HasGroupingPolicy(subject, roleName)
	if err != nil {
		return err
	}
	if has {
		return nil
	}
	_, err = s.enforcer.AddGroupingPolicy(subject, roleName)
	return err
}

func (s *ServiceImpl) auditDenied(ctx context.Context, actorType string, actor string, object string, action string) {
	if s.auditSvc == nil {
		return
	}
	_ = s.auditSvc.Record(ctx, actorType, actor, "authorization.denied", "authorization", object, map[string]any{
		"object": object,
		"action": action,
	})
}

func (s *ServiceImpl) auditGranted(ctx context.Context, actorType string, actor string, object string, action string) {
	if s.auditSvc == nil {
		return
	}
	_ = s.auditSvc.Record(ctx, actorType, actor, "authorization.granted", "authorization", object, map[string]any{
		"object": object,
		"action": action,
	})
}

func shouldAuditGrant(action string) bool {
	switch action {
	case ActionDelete, ActionSettle, ActionRevoke:
		return true
	default:
		return false
	}
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	policies := [][]string{
		// Partner admins manage their own tree; row ownership is
		// enforced by the services.
		{"role:partner", ObjectPartner, ActionView},
		{"role:partner", ObjectPartner, ActionPurchase},
		{"role:partner", ObjectOrganization, ActionView},
		{"role:partner", ObjectOrganization, ActionCreate},
		{"role:partner", ObjectOrganization, ActionResize},
		{"role:partner", ObjectOrganization, ActionDelete},
		{"role:partner", ObjectDomain, ActionView},
		{"role:partner", ObjectDomain, ActionCreate},
		{"role:partner", ObjectDomain, ActionResize},
		{"role:partner", ObjectDomain, ActionDelete},
		{"role:partner", ObjectDomain, ActionVerify},
		{"role:partner", ObjectDomain, ActionRetry},
		{"role:partner", ObjectMailbox, ActionView},
		{"role:partner", ObjectMailbox, ActionCreate},
		{"role:partner", ObjectMailbox, ActionResize},
		{"role:partner", ObjectMailbox, ActionDelete},
		{"role:partner", ObjectInvoice, ActionView},

		// Organization admins manage a single organization.
		{"role:org_admin", ObjectOrganization, ActionView},
		{"role:org_admin", ObjectOrganization, ActionPurchase},
		{"role:org_admin", ObjectDomain, ActionView},
		{"role:org_admin", ObjectDomain, ActionCreate},
		{"role:org_admin", ObjectDomain, ActionResize},
		{"role:org_admin", ObjectDomain, ActionDelete},
		{"role:org_admin", ObjectDomain, ActionVerify},
		{"role:org_admin", ObjectDomain, ActionRetry},
		{"role:org_admin", ObjectMailbox, ActionView},
		{"role:org_admin", ObjectMailbox, ActionCreate},
		{"role:org_admin", ObjectMailbox, ActionResize},
		{"role:org_admin", ObjectMailbox, ActionDelete},
		{"role:org_admin", ObjectInvoice, ActionView},

		// System keys drive provisioning, settlement and key management.
		{"role:system", ObjectPartner, ActionView},
		{"role:system", ObjectPartner, ActionCreate},
		{"role:system", ObjectPartner, ActionResize},
		{"role:system", ObjectPartner, ActionDelete},
		{"role:system", ObjectPartner, ActionPurchase},
		{"role:system", ObjectOrganization, ActionView},
		{"role:system", ObjectOrganization, ActionCreate},
		{"role:system", ObjectOrganization, ActionResize},
		{"role:system", ObjectOrganization, ActionDelete},
		{"role:system", ObjectOrganization, ActionPurchase},
		{"role:system", ObjectDomain, ActionView},
		{"role:system", ObjectDomain, ActionCreate},
		{"role:system", ObjectDomain, ActionResize},
		{"role:system", ObjectDomain, ActionDelete},
		{"role:system", ObjectDomain, ActionVerify},
		{"role:system", ObjectDomain, ActionRetry},
		{"role:system", ObjectMailbox, ActionView},
		{"role:system", ObjectMailbox, ActionCreate},
		{"role:system", ObjectMailbox, ActionResize},
		{"role:system", ObjectMailbox, ActionDelete},
		{"role:system", ObjectInvoice, ActionView},
		{"role:system", ObjectInvoice, ActionCreate},
		{"role:system", ObjectPayment, ActionSettle},
		{"role:system", ObjectAPIKey, ActionView},
		{"role:system", ObjectAPIKey, ActionCreate},
		{"role:system", ObjectAPIKey, ActionRevoke},
		{"role:system", ObjectAuditLog, ActionView},
	}

	for _, policy := range policies {
		if _, err := enforcer.AddPolicy(policy); err != nil {
			return err
		}
	}
	return nil
}
