package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/nubomail/nubo/internal/config"
	ledgerdomain "github.com/nubomail/nubo/internal/ledger/domain"
	"github.com/nubomail/nubo/internal/mailcow"
	obsmetrics "github.com/nubomail/nubo/internal/observability/metrics"
	"github.com/nubomail/nubo/internal/provisioning/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const mb = int64(1) << 20

type Params struct {
	fx.In

	Log        *zap.Logger
	Config     config.Config
	Ledger     ledgerdomain.Service
	Mailcow    mailcow.Client
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

// Orchestrator sequences the ledger reservation and the mail-host call of
// each provisioning flow. The reservation is the durable side; the
// external call can fail and each operation documents what is kept.
type Orchestrator struct {
	log        *zap.Logger
	cfg        config.Config
	ledger     ledgerdomain.Service
	mailcow    mailcow.Client
	obsMetrics *obsmetrics.Metrics
}

func NewOrchestrator(p Params) domain.Orchestrator {
	return &Orchestrator{
		log:        p.Log.Named("provisioning.service"),
		cfg:        p.Config,
		ledger:     p.Ledger,
		mailcow:    p.Mailcow,
		obsMetrics: p.ObsMetrics,
	}
}

// step is one stage of a create flow. Compensations of completed steps run
// in reverse order when a later step fails.
type step struct {
	name       string
	run        func(ctx context.Context) error
	compensate func(ctx context.Context)
}

func (o *Orchestrator) runSteps(ctx context.Context, flow string, steps []step) error {
	done := make([]step, 0, len(steps))
	for _, st := range steps {
		if err := st.run(ctx); err != nil {
			o.log.Warn("provisioning step failed",
				zap.String("flow", flow),
				zap.String("step", st.name),
				zap.Error(err),
			)
			for i := len(done) - 1; i >= 0; i-- {
				if done[i].compensate != nil {
					done[i].compensate(ctx)
				}
			}
			return err
		}
		done = append(done, st)
	}
	return nil
}

func (o *Orchestrator) CreateDomain(ctx context.Context, in domain.CreateDomainInput) (*ledgerdomain.Domain, error) {
	selector := strings.TrimSpace(o.cfg.DNS.DKIMSelector)
	if selector == "" {
		selector = "dkim"
	}

	dom, err := o.ledger.ReserveDomain(ctx, ledgerdomain.ReserveDomainInput{
		OrganizationID: in.OrganizationID,
		Name:           strings.ToLower(strings.TrimSpace(in.Name)),
		QuotaBytes:     in.QuotaBytes,
		DKIMSelector:   selector,
	})
	if err != nil {
		return nil, err
	}

	if err := o.provisionDomain(ctx, dom); err != nil {
		// The reservation stays: the bytes are spoken for until the
		// caller retries or deletes the domain.
		return dom, err
	}

	dom.MailcowProvisioned = true
	return dom, nil
}

func (o *Orchestrator) RetryDomain(ctx context.Context, id snowflake.ID) error {
	dom, err := o.ledger.GetDomain(ctx, id)
	if err != nil {
		return err
	}
	if dom.Status != ledgerdomain.DomainStatusFailed {
		return ledgerdomain.ErrDomainNotRetryable
	}
	return o.provisionDomain(ctx, dom)
}

func (o *Orchestrator) EnsureDomainProvisioned(ctx context.Context, id snowflake.ID) error {
	dom, err := o.ledger.GetDomain(ctx, id)
	if err != nil {
		return err
	}
	if dom.MailcowProvisioned {
		return nil
	}
	return o.provisionDomain(ctx, dom)
}

// provisionDomain is the external phase shared by create, retry and the
// activation trigger. Idempotent: an existing external domain is adopted.
func (o *Orchestrator) provisionDomain(ctx context.Context, dom *ledgerdomain.Domain) error {
	exists, err := o.mailcow.DomainExists(ctx, dom.Name)
	if err != nil {
		return o.domainFailed(ctx, dom, "check", err)
	}

	if !exists {
		domainMB := bytesToMB(dom.DomainQuotaBytes)
		maxQuota := o.cfg.Mailcow.MaxMailboxQuotaMB
		if maxQuota <= 0 || maxQuota > domainMB {
			maxQuota = domainMB
		}
		defQuota := o.cfg.Mailcow.DefaultMailboxQuotaMB
		if defQuota <= 0 || defQuota > maxQuota {
			defQuota = maxQuota
		}
		spec := mailcow.DomainSpec{
			Name:      dom.Name,
			QuotaMB:   domainMB,
			DefQuota:  defQuota,
			MaxQuota:  maxQuota,
			Mailboxes: o.cfg.Mailcow.MaxMailboxes,
		}
		if err := o.mailcow.CreateDomain(ctx, spec); err != nil {
			return o.domainFailed(ctx, dom, "create", err)
		}
	}

	status := dom.Status
	if status == ledgerdomain.DomainStatusFailed {
		status = ledgerdomain.DomainStatusPending
	}
	if err := o.ledger.MarkDomainProvisioned(ctx, dom.ID, true, status); err != nil {
		return err
	}
	o.recordCall("domain.provision", nil)

	go o.generateDKIM(dom.ID, dom.Name, dom.DKIMSelector)
	return nil
}

func (o *Orchestrator) domainFailed(ctx context.Context, dom *ledgerdomain.Domain, stage string, cause error) error {
	o.recordCall("domain.provision", cause)
	if err := o.ledger.MarkDomainFailed(ctx, dom.ID); err != nil {
		o.log.Error("marking domain failed", zap.String("domain", dom.Name), zap.Error(err))
	}
	return fmt.Errorf("%w: %s %s: %v", domain.ErrExternalProvisioningFailed, stage, dom.Name, cause)
}

// generateDKIM runs detached from the request: a missing signing key only
// delays DNS verification, it never fails the create flow.
func (o *Orchestrator) generateDKIM(id snowflake.ID, name, selector string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := o.mailcow.GenerateDKIM(ctx, name, selector); err != nil && !errors.Is(err, mailcow.ErrRequestFailed) {
		o.log.Warn("dkim generation failed", zap.String("domain", name), zap.Error(err))
		return
	}
	key, err := o.mailcow.GetDKIM(ctx, name)
	if err != nil {
		o.log.Warn("dkim fetch failed", zap.String("domain", name), zap.Error(err))
		return
	}
	if err := o.ledger.SetDomainDKIM(ctx, id, key.Selector, key.TXTRecord); err != nil {
		o.log.Error("storing dkim record", zap.String("domain", name), zap.Error(err))
	}
}

func (o *Orchestrator) DeleteDomain(ctx context.Context, id snowflake.ID) error {
	dom, err := o.ledger.GetDomain(ctx, id)
	if err != nil {
		return err
	}

	if dom.MailcowProvisioned {
		exists, err := o.mailcow.DomainExists(ctx, dom.Name)
		if err != nil {
			o.recordCall("domain.delete", err)
			return fmt.Errorf("%w: check %s: %v", domain.ErrExternalProvisioningFailed, dom.Name, err)
		}
		if exists {
			err := o.mailcow.DeleteDomain(ctx, dom.Name)
			switch {
			case err == nil:
			case errors.Is(err, mailcow.ErrRequestFailed):
				// Definitive rejection here means the object is gone
				// already; the release may proceed.
				o.log.Warn("external domain delete rejected, treating as absent",
					zap.String("domain", dom.Name), zap.Error(err))
			default:
				o.recordCall("domain.delete", err)
				return fmt.Errorf("%w: delete %s: %v", domain.ErrExternalProvisioningFailed, dom.Name, err)
			}
		}
	}

	o.recordCall("domain.delete", nil)
	return o.ledger.ReleaseDomain(ctx, id)
}

func (o *Orchestrator) UpdateDomainQuota(ctx context.Context, id snowflake.ID, newQuotaBytes int64) error {
	dom, err := o.ledger.GetDomain(ctx, id)
	if err != nil {
		return err
	}
	if newQuotaBytes <= 0 {
		return ledgerdomain.ErrInvalidQuota
	}
	if !dom.MailcowProvisioned {
		return o.ledger.ResizeDomain(ctx, id, newQuotaBytes)
	}

	// External first. The ledger moves only after the mail host holds the
	// new quota, so an upstream failure leaves the old reservation intact.
	if err := o.mailcow.UpdateDomainQuota(ctx, dom.Name, bytesToMB(newQuotaBytes)); err != nil {
		o.recordCall("domain.resize", err)
		return fmt.Errorf("%w: resize %s: %v", domain.ErrExternalProvisioningFailed, dom.Name, err)
	}
	if err := o.ledger.ResizeDomain(ctx, id, newQuotaBytes); err != nil {
		// The mail host already moved; put it back so both sides keep the
		// old quota.
		o.recordCall("domain.resize", err)
		if undoErr := o.mailcow.UpdateDomainQuota(ctx, dom.Name, bytesToMB(dom.DomainQuotaBytes)); undoErr != nil {
			o.log.Error("restoring external domain quota",
				zap.String("domain", dom.Name), zap.Error(undoErr))
		}
		return err
	}
	o.recordCall("domain.resize", nil)
	return nil
}

func (o *Orchestrator) CreateUser(ctx context.Context, in domain.CreateUserInput) (*ledgerdomain.OrganizationUser, error) {
	dom, err := o.ledger.GetDomain(ctx, in.DomainID)
	if err != nil {
		return nil, err
	}
	if dom.Status != ledgerdomain.DomainStatusActive {
		return nil, ledgerdomain.ErrDomainNotActive
	}

	local := strings.ToLower(strings.TrimSpace(in.LocalPart))
	address := local + "@" + dom.Name
	password := in.Password
	if password == "" {
		password = uuid.NewString()
	}

	var user *ledgerdomain.OrganizationUser
	err = o.runSteps(ctx, "user.create", []step{
		{
			name: "reserve_quota",
			run: func(ctx context.Context) error {
				u, err := o.ledger.ReserveUser(ctx, ledgerdomain.ReserveUserInput{
					OrganizationID:      in.OrganizationID,
					DomainID:            in.DomainID,
					Email:               address,
					DisplayName:         in.DisplayName,
					MailboxStorageBytes: in.MailboxStorageBytes,
					DriveStorageBytes:   in.DriveStorageBytes,
				})
				if err != nil {
					return err
				}
				user = u
				return nil
			},
			compensate: func(ctx context.Context) {
				if err := o.ledger.ReleaseUser(ctx, user.ID); err != nil {
					o.log.Error("rolling back user reservation",
						zap.String("email", address), zap.Error(err))
				}
			},
		},
		{
			name: "create_mailbox",
			run: func(ctx context.Context) error {
				err := o.mailcow.CreateMailbox(ctx, mailcow.MailboxSpec{
					LocalPart: local,
					Domain:    dom.Name,
					Name:      in.DisplayName,
					QuotaMB:   bytesToMB(in.MailboxStorageBytes),
					Password:  password,
				})
				o.recordCall("mailbox.create", err)
				if err != nil {
					return fmt.Errorf("%w: mailbox %s: %v", domain.ErrExternalProvisioningFailed, address, err)
				}
				return nil
			},
			compensate: func(ctx context.Context) {
				if err := o.mailcow.DeleteMailbox(ctx, address); err != nil {
					o.log.Warn("rolling back mailbox", zap.String("email", address), zap.Error(err))
				}
			},
		},
		{
			name: "activate",
			run: func(ctx context.Context) error {
				return o.ledger.MarkUserActive(ctx, user.ID)
			},
		},
	})
	if err != nil {
		return nil, err
	}
	user.Status = ledgerdomain.UserStatusActive
	return user, nil
}

func (o *Orchestrator) DeleteUser(ctx context.Context, id snowflake.ID) error {
	user, err := o.ledger.GetUser(ctx, id)
	if err != nil {
		return err
	}

	err = o.mailcow.DeleteMailbox(ctx, user.Email)
	switch {
	case err == nil:
	case errors.Is(err, mailcow.ErrRequestFailed):
		o.log.Warn("external mailbox delete rejected, treating as absent",
			zap.String("email", user.Email), zap.Error(err))
	default:
		o.recordCall("mailbox.delete", err)
		return fmt.Errorf("%w: delete %s: %v", domain.ErrExternalProvisioningFailed, user.Email, err)
	}

	o.recordCall("mailbox.delete", nil)
	return o.ledger.ReleaseUser(ctx, id)
}

func (o *Orchestrator) UpdateUserQuota(ctx context.Context, id snowflake.ID, newMailboxBytes int64) error {
	user, err := o.ledger.GetUser(ctx, id)
	if err != nil {
		return err
	}
	if newMailboxBytes <= 0 {
		return ledgerdomain.ErrInvalidQuota
	}

	// Same order as domains: the mail host commits first, then the ledger.
	if err := o.mailcow.UpdateMailboxQuota(ctx, user.Email, bytesToMB(newMailboxBytes)); err != nil {
		o.recordCall("mailbox.resize", err)
		return fmt.Errorf("%w: resize %s: %v", domain.ErrExternalProvisioningFailed, user.Email, err)
	}
	if err := o.ledger.ResizeUserMailbox(ctx, id, newMailboxBytes); err != nil {
		o.recordCall("mailbox.resize", err)
		if undoErr := o.mailcow.UpdateMailboxQuota(ctx, user.Email, bytesToMB(user.MailboxStorageBytes)); undoErr != nil {
			o.log.Error("restoring external mailbox quota",
				zap.String("email", user.Email), zap.Error(undoErr))
		}
		return err
	}
	o.recordCall("mailbox.resize", nil)
	return nil
}

func (o *Orchestrator) recordCall(operation string, err error) {
	o.obsMetrics.RecordProvisioningCall(operation, err)
}

// bytesToMB rounds up so the external quota never undercuts the ledger.
func bytesToMB(bytes int64) int64 {
	if bytes <= 0 {
		return 0
	}
	return (bytes + mb - 1) / mb
}
