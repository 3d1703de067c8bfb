package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	auditdomain "github.com/nubomail/nubo/internal/audit/domain"
	"github.com/nubomail/nubo/internal/clock"
	"github.com/nubomail/nubo/internal/ledger/allocation"
	"github.com/nubomail/nubo/internal/ledger/domain"
	obsmetrics "github.com/nubomail/nubo/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Repo       domain.Repository
	AuditSvc   auditdomain.Service `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

// Service is the allocation engine. Every quota counter mutation in the
// system funnels through here, inside a transaction, with the capacity
// guard evaluated by the storage engine.
type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	repo       domain.Repository
	auditSvc   auditdomain.Service
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("ledger.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		repo:       p.Repo,
		auditSvc:   p.AuditSvc,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) CreatePartner(ctx context.Context, in domain.CreatePartnerInput) (*domain.Partner, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, domain.ErrInvalidName
	}
	if in.AllocatedStorageBytes < 0 || in.TierDiscountBP < 0 || in.TierDiscountBP > 10000 {
		return nil, domain.ErrInvalidQuota
	}

	now := s.clock.Now()
	partner := domain.Partner{
		ID:                    s.genID.Generate(),
		Name:                  name,
		Slug:                  slug.Make(name),
		TierDiscountBP:        in.TierDiscountBP,
		AllocatedStorageBytes: in.AllocatedStorageBytes,
		UsedStorageBytes:      0,
		Active:                true,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	if err := s.repo.InsertPartner(ctx, partner); err != nil {
		return nil, err
	}

	s.audit(ctx, "partner.create", "partner", partner.ID, map[string]any{
		"allocated_storage_bytes": partner.AllocatedStorageBytes,
	})
	return &partner, nil
}

func (s *Service) GetPartner(ctx context.Context, id snowflake.ID) (*domain.Partner, error) {
	return s.repo.FindPartner(ctx, id)
}

func (s *Service) GrowPartnerPool(ctx context.Context, id snowflake.ID, deltaBytes int64) error {
	if deltaBytes <= 0 {
		return domain.ErrInvalidQuota
	}
	now := s.clock.Now()
	grown, err := s.repo.GrowPartnerAllocation(ctx, id, deltaBytes, now)
	s.record("partner", "grow", err)
	if err != nil {
		return err
	}
	if !grown {
		return domain.ErrNotFound
	}
	s.audit(ctx, "partner.pool_grow", "partner", id, map[string]any{"delta_bytes": deltaBytes})
	return nil
}

func (s *Service) DeletePartner(ctx context.Context, id snowflake.ID) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		count, err := repo.CountPartnerOrganizations(ctx, id)
		if err != nil {
			return err
		}
		if count > 0 {
			return domain.ErrPartnerNotEmpty
		}

		deleted, err := repo.DeletePartner(ctx, id)
		if err != nil {
			return err
		}
		if !deleted {
			if _, err := repo.FindPartner(ctx, id); err != nil {
				return err
			}
			return domain.ErrPartnerNotEmpty
		}
		return nil
	})
	s.record("partner", "delete", err)
	if err == nil {
		s.audit(ctx, "partner.delete", "partner", id, nil)
	}
	return err
}

func (s *Service) CreateOrganization(ctx context.Context, in domain.CreateOrganizationInput) (*domain.Organization, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, domain.ErrInvalidName
	}
	if in.TotalStorageBytes < 0 {
		return nil, domain.ErrInvalidQuota
	}

	now := s.clock.Now()
	org := domain.Organization{
		ID:                s.genID.Generate(),
		PartnerID:         in.PartnerID,
		Name:              name,
		Slug:              slug.Make(name),
		TotalStorageBytes: in.TotalStorageBytes,
		UsedStorageBytes:  0,
		Active:            true,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		if in.PartnerID != nil && org.TotalStorageBytes > 0 {
			reserved, err := repo.ReservePartnerPool(ctx, *in.PartnerID, org.TotalStorageBytes, now)
			if err != nil {
				return err
			}
			if !reserved {
				return s.explainPartnerReserveFailure(ctx, repo, *in.PartnerID)
			}
		} else if in.PartnerID != nil {
			// Zero-byte organizations still require a live partner.
			partner, err := repo.FindPartner(ctx, *in.PartnerID)
			if err != nil {
				return err
			}
			if !partner.Active {
				return domain.ErrPartnerInactive
			}
		}

		return repo.InsertOrganization(ctx, org)
	})
	s.record("organization", "create", err)
	if err != nil {
		return nil, err
	}

	s.audit(ctx, "organization.create", "organization", org.ID, map[string]any{
		"total_storage_bytes": org.TotalStorageBytes,
	})
	return &org, nil
}

func (s *Service) GetOrganization(ctx context.Context, id snowflake.ID) (*domain.Organization, error) {
	return s.repo.FindOrganization(ctx, id)
}

func (s *Service) ListOrganizationsByPartner(ctx context.Context, partnerID snowflake.ID) ([]domain.Organization, error) {
	return s.repo.ListOrganizationsByPartner(ctx, partnerID)
}

func (s *Service) ResizeOrganization(ctx context.Context, id snowflake.ID, newTotalBytes int64) error {
	if newTotalBytes < 0 {
		return domain.ErrInvalidQuota
	}

	now := s.clock.Now()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		org, err := repo.FindOrganization(ctx, id)
		if err != nil {
			return err
		}

		delta, err := allocation.Resize(org.TotalStorageBytes, org.UsedStorageBytes, newTotalBytes)
		if err != nil {
			return err
		}
		if delta == 0 {
			return nil
		}

		// Parent first on grow so the partner's availability check and the
		// organization's update commit or roll back together.
		if delta > 0 && org.PartnerID != nil {
			reserved, err := repo.ReservePartnerPool(ctx, *org.PartnerID, delta, now)
			if err != nil {
				return err
			}
			if !reserved {
				return s.explainPartnerReserveFailure(ctx, repo, *org.PartnerID)
			}
		}

		updated, err := repo.SetOrganizationTotal(ctx, id, newTotalBytes, org.TotalStorageBytes, now)
		if err != nil {
			return err
		}
		if !updated {
			// Another writer changed the organization between the read and
			// the guarded update, or usage grew past the new total.
			return domain.ErrConcurrentUpdate
		}

		if delta < 0 && org.PartnerID != nil {
			return repo.ReleasePartnerPool(ctx, *org.PartnerID, -delta, now)
		}
		return nil
	})
	s.record("organization", "resize", err)
	if err == nil {
		s.audit(ctx, "organization.resize", "organization", id, map[string]any{
			"total_storage_bytes": newTotalBytes,
		})
	}
	return err
}

func (s *Service) GrowOrganizationPool(ctx context.Context, id snowflake.ID, deltaBytes int64) error {
	if deltaBytes <= 0 {
		return domain.ErrInvalidQuota
	}

	now := s.clock.Now()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		org, err := repo.FindOrganization(ctx, id)
		if err != nil {
			return err
		}
		if org.PartnerID != nil {
			// Partner-backed pools grow through ResizeOrganization so the
			// partner's capacity stays authoritative.
			return domain.ErrPartnerOrganization
		}

		grown, err := repo.GrowOrganizationTotal(ctx, id, deltaBytes, now)
		if err != nil {
			return err
		}
		if !grown {
			return domain.ErrNotFound
		}
		return nil
	})
	s.record("organization", "grow", err)
	if err == nil {
		s.audit(ctx, "organization.pool_grow", "organization", id, map[string]any{"delta_bytes": deltaBytes})
	}
	return err
}

func (s *Service) DeleteOrganization(ctx context.Context, id snowflake.ID) error {
	now := s.clock.Now()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		org, err := repo.FindOrganization(ctx, id)
		if err != nil {
			return err
		}

		children, err := repo.CountOrganizationChildren(ctx, id)
		if err != nil {
			return err
		}
		if children > 0 {
			return domain.ErrOrgNotEmpty
		}

		deleted, err := repo.DeleteOrganization(ctx, id)
		if err != nil {
			return err
		}
		if !deleted {
			return domain.ErrOrgNotEmpty
		}

		if org.PartnerID != nil && org.TotalStorageBytes > 0 {
			return repo.ReleasePartnerPool(ctx, *org.PartnerID, org.TotalStorageBytes, now)
		}
		return nil
	})
	s.record("organization", "delete", err)
	if err == nil {
		s.audit(ctx, "organization.delete", "organization", id, nil)
	}
	return err
}

// explainPartnerReserveFailure re-reads the partner to turn a failed guard
// into the precise error.
func (s *Service) explainPartnerReserveFailure(ctx context.Context, repo domain.Repository, id snowflake.ID) error {
	partner, err := repo.FindPartner(ctx, id)
	if err != nil {
		return err
	}
	if !partner.Active {
		return domain.ErrPartnerInactive
	}
	return domain.ErrInsufficientCapacity
}

// explainOrgReserveFailure mirrors explainPartnerReserveFailure for
// organization pools.
func (s *Service) explainOrgReserveFailure(ctx context.Context, repo domain.Repository, id snowflake.ID) error {
	org, err := repo.FindOrganization(ctx, id)
	if err != nil {
		return err
	}
	if !org.Active || org.SuspendedAt != nil {
		return domain.ErrOrgSuspended
	}
	return domain.ErrInsufficientCapacity
}

func (s *Service) record(tier, operation string, err error) {
	if s.obsMetrics != nil {
		s.obsMetrics.RecordAllocation(tier, operation, err)
	}
}

func (s *Service) audit(ctx context.Context, action, targetType string, targetID snowflake.ID, metadata map[string]any) {
	if s.auditSvc == nil {
		return
	}
	id := targetID.String()
	_ = s.auditSvc.Record(ctx, "system", "", action, targetType, id, metadata)
}
