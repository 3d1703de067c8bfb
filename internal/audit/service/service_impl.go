package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/nubomail/nubo/internal/audit/domain"
	"github.com/nubomail/nubo/internal/clock"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
}

func NewService(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("audit.service"),
		genID: p.GenID,
		clock: p.Clock,
	}
}

func (s *Service) Record(ctx context.Context, actorType string, actorID string, action string, targetType string, targetID string, metadata map[string]any) error {
	action = strings.TrimSpace(action)
	if action == "" {
		return domain.ErrInvalidAction
	}

	entry := domain.AuditLog{
		ID:         s.genID.Generate(),
		ActorType:  strings.TrimSpace(actorType),
		ActorID:    strings.TrimSpace(actorID),
		Action:     action,
		TargetType: strings.TrimSpace(targetType),
		TargetID:   strings.TrimSpace(targetID),
		Metadata:   datatypes.JSONMap(metadata),
		CreatedAt:  s.clock.Now(),
	}

	if err := s.db.WithContext(ctx).Exec(
		`INSERT INTO audit_logs (id, actor_type, actor_id, action, target_type, target_id, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID,
		entry.ActorType,
		entry.ActorID,
		entry.Action,
		entry.TargetType,
		entry.TargetID,
		entry.Metadata,
		entry.CreatedAt,
	).Error; err != nil {
		// Audit writes never fail the business operation.
		s.log.Warn("failed to write audit log", zap.String("action", action), zap.Error(err))
	}
	return nil
}

func (s *Service) List(ctx context.Context, action string, limit int) ([]domain.AuditLog, error) {
	if limit <= 0 || limit > 250 {
		limit = 50
	}

	query := s.db.WithContext(ctx).Table("audit_logs").Order("created_at DESC").Limit(limit)
	if action = strings.TrimSpace(action); action != "" {
		query = query.Where("action = ?", action)
	}

	var logs []domain.AuditLog
	if err := query.Find(&logs).Error; err != nil {
		return nil, err
	}
	return logs, nil
}
