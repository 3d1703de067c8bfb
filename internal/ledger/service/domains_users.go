package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/nubomail/nubo/internal/ledger/domain"
	"github.com/nubomail/nubo/pkg/db"
	"gorm.io/gorm"
)

func (s *Service) ReserveDomain(ctx context.Context, in domain.ReserveDomainInput) (*domain.Domain, error) {
	name := strings.ToLower(strings.TrimSpace(in.Name))
	if name == "" || !strings.Contains(name, ".") {
		return nil, domain.ErrInvalidName
	}
	if in.QuotaBytes <= 0 {
		return nil, domain.ErrInvalidQuota
	}

	now := s.clock.Now()
	dom := domain.Domain{
		ID:               s.genID.Generate(),
		OrganizationID:   in.OrganizationID,
		Name:             name,
		DomainQuotaBytes: in.QuotaBytes,
		Status:           domain.DomainStatusPending,
		DKIMSelector:     strings.TrimSpace(in.DKIMSelector),
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		reserved, err := repo.ReserveOrganizationPool(ctx, in.OrganizationID, in.QuotaBytes, now)
		if err != nil {
			return err
		}
		if !reserved {
			return s.explainOrgReserveFailure(ctx, repo, in.OrganizationID)
		}

		if err := repo.InsertDomain(ctx, dom); err != nil {
			if db.IsDuplicateKeyErr(err) {
				return domain.ErrDomainExists
			}
			return err
		}
		return nil
	})
	s.record("domain", "reserve", err)
	if err != nil {
		return nil, err
	}

	s.audit(ctx, "domain.reserve", "domain", dom.ID, map[string]any{
		"name":        dom.Name,
		"quota_bytes": dom.DomainQuotaBytes,
	})
	return &dom, nil
}

func (s *Service) GetDomain(ctx context.Context, id snowflake.ID) (*domain.Domain, error) {
	return s.repo.FindDomain(ctx, id)
}

func (s *Service) GetDomainByName(ctx context.Context, name string) (*domain.Domain, error) {
	return s.repo.FindDomainByName(ctx, name)
}

func (s *Service) ListDomainsByOrganization(ctx context.Context, orgID snowflake.ID) ([]domain.Domain, error) {
	return s.repo.ListDomainsByOrganization(ctx, orgID)
}

func (s *Service) ResizeDomain(ctx context.Context, id snowflake.ID, newQuotaBytes int64) error {
	if newQuotaBytes <= 0 {
		return domain.ErrInvalidQuota
	}

	now := s.clock.Now()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		dom, err := repo.FindDomain(ctx, id)
		if err != nil {
			return err
		}

		delta := newQuotaBytes - dom.DomainQuotaBytes
		if delta == 0 {
			return nil
		}

		if delta > 0 {
			reserved, err := repo.ReserveOrganizationPool(ctx, dom.OrganizationID, delta, now)
			if err != nil {
				return err
			}
			if !reserved {
				return s.explainOrgReserveFailure(ctx, repo, dom.OrganizationID)
			}
		}

		updated, err := repo.SetDomainQuota(ctx, id, newQuotaBytes, now)
		if err != nil {
			return err
		}
		if !updated {
			used, err := repo.SumDomainMailboxBytes(ctx, id)
			if err != nil {
				return err
			}
			if newQuotaBytes < used {
				return domain.ErrShrinkBelowUsage
			}
			return domain.ErrConcurrentUpdate
		}

		if delta < 0 {
			return repo.ReleaseOrganizationPool(ctx, dom.OrganizationID, -delta, now)
		}
		return nil
	})
	s.record("domain", "resize", err)
	if err == nil {
		s.audit(ctx, "domain.resize", "domain", id, map[string]any{"quota_bytes": newQuotaBytes})
	}
	return err
}

func (s *Service) ReleaseDomain(ctx context.Context, id snowflake.ID) error {
	now := s.clock.Now()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		dom, err := repo.FindDomain(ctx, id)
		if err != nil {
			return err
		}

		users, err := repo.CountDomainUsers(ctx, id)
		if err != nil {
			return err
		}
		if users > 0 {
			return domain.ErrDomainNotEmpty
		}

		deleted, err := repo.DeleteDomain(ctx, id)
		if err != nil {
			return err
		}
		if !deleted {
			return domain.ErrNotFound
		}

		return repo.ReleaseOrganizationPool(ctx, dom.OrganizationID, dom.DomainQuotaBytes, now)
	})
	s.record("domain", "release", err)
	if err == nil {
		s.audit(ctx, "domain.release", "domain", id, nil)
	}
	return err
}

func (s *Service) MarkDomainProvisioned(ctx context.Context, id snowflake.ID, provisioned bool, status string) error {
	return s.repo.SetDomainProvisioned(ctx, id, provisioned, status, s.clock.Now())
}

func (s *Service) MarkDomainFailed(ctx context.Context, id snowflake.ID) error {
	return s.repo.SetDomainProvisioned(ctx, id, false, domain.DomainStatusFailed, s.clock.Now())
}

func (s *Service) SetDomainDKIM(ctx context.Context, id snowflake.ID, selector, record string) error {
	return s.repo.SetDomainDKIM(ctx, id, selector, record, s.clock.Now())
}

func (s *Service) RecordDNSResults(ctx context.Context, id snowflake.ID, mx, spf, dkim, dmarc bool) error {
	now := s.clock.Now()
	// The terminal transition itself goes through ActivateDomain; here we
	// only record per-class outcomes and nudge pending forward. A lapsed
	// record never demotes a domain that already activated.
	dom, err := s.repo.FindDomain(ctx, id)
	if err != nil {
		return err
	}
	status := dom.Status
	if status == domain.DomainStatusPending {
		status = domain.DomainStatusDNSPending
	}
	return s.repo.SetDomainDNSResults(ctx, id, mx, spf, dkim, dmarc, status, now)
}

func (s *Service) ActivateDomain(ctx context.Context, id snowflake.ID) (bool, error) {
	activated, err := s.repo.ActivateDomain(ctx, id, s.clock.Now())
	if err != nil {
		return false, err
	}
	if activated {
		s.audit(ctx, "domain.activate", "domain", id, nil)
	}
	return activated, nil
}

func (s *Service) ReserveUser(ctx context.Context, in domain.ReserveUserInput) (*domain.OrganizationUser, error) {
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, domain.ErrInvalidName
	}
	if in.MailboxStorageBytes <= 0 || in.DriveStorageBytes < 0 {
		return nil, domain.ErrInvalidQuota
	}

	now := s.clock.Now()
	user := domain.OrganizationUser{
		ID:                  s.genID.Generate(),
		OrganizationID:      in.OrganizationID,
		DomainID:            in.DomainID,
		Email:               email,
		DisplayName:         strings.TrimSpace(in.DisplayName),
		MailboxStorageBytes: in.MailboxStorageBytes,
		DriveStorageBytes:   in.DriveStorageBytes,
		Status:              domain.UserStatusPending,
		CreatedAt:           now,
		UpdatedAt:           now,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		reserved, err := repo.ReserveOrganizationPool(ctx, in.OrganizationID, user.ReservedBytes(), now)
		if err != nil {
			return err
		}
		if !reserved {
			return s.explainOrgReserveFailure(ctx, repo, in.OrganizationID)
		}

		if err := repo.InsertUser(ctx, user); err != nil {
			if db.IsDuplicateKeyErr(err) {
				return domain.ErrUserExists
			}
			return err
		}
		return nil
	})
	s.record("user", "reserve", err)
	if err != nil {
		return nil, err
	}

	s.audit(ctx, "user.reserve", "organization_user", user.ID, map[string]any{
		"email":          user.Email,
		"reserved_bytes": user.ReservedBytes(),
	})
	return &user, nil
}

func (s *Service) GetUser(ctx context.Context, id snowflake.ID) (*domain.OrganizationUser, error) {
	return s.repo.FindUser(ctx, id)
}

func (s *Service) ListUsersByDomain(ctx context.Context, domainID snowflake.ID) ([]domain.OrganizationUser, error) {
	return s.repo.ListUsersByDomain(ctx, domainID)
}

func (s *Service) ResizeUserMailbox(ctx context.Context, id snowflake.ID, newMailboxBytes int64) error {
	if newMailboxBytes <= 0 {
		return domain.ErrInvalidQuota
	}

	now := s.clock.Now()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		user, err := repo.FindUser(ctx, id)
		if err != nil {
			return err
		}

		delta := newMailboxBytes - user.MailboxStorageBytes
		if delta == 0 {
			return nil
		}

		if delta > 0 {
			reserved, err := repo.ReserveOrganizationPool(ctx, user.OrganizationID, delta, now)
			if err != nil {
				return err
			}
			if !reserved {
				return s.explainOrgReserveFailure(ctx, repo, user.OrganizationID)
			}
		}

		if err := repo.SetUserMailboxQuota(ctx, id, newMailboxBytes, now); err != nil {
			return err
		}

		if delta < 0 {
			return repo.ReleaseOrganizationPool(ctx, user.OrganizationID, -delta, now)
		}
		return nil
	})
	s.record("user", "resize", err)
	if err == nil {
		s.audit(ctx, "user.resize", "organization_user", id, map[string]any{"mailbox_bytes": newMailboxBytes})
	}
	return err
}

func (s *Service) MarkUserActive(ctx context.Context, id snowflake.ID) error {
	return s.repo.SetUserStatus(ctx, id, domain.UserStatusActive, s.clock.Now())
}

func (s *Service) ReleaseUser(ctx context.Context, id snowflake.ID) error {
	now := s.clock.Now()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		user, err := repo.FindUser(ctx, id)
		if err != nil {
			return err
		}

		deleted, err := repo.DeleteUser(ctx, id)
		if err != nil {
			return err
		}
		if !deleted {
			return domain.ErrNotFound
		}

		return repo.ReleaseOrganizationPool(ctx, user.OrganizationID, user.ReservedBytes(), now)
	})
	s.record("user", "release", err)
	if err == nil {
		s.audit(ctx, "user.release", "organization_user", id, nil)
	}
	return err
}
