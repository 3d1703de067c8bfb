package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	apikeydomain "github.com/nubomail/nubo/internal/apikey/domain"
	"github.com/nubomail/nubo/internal/clock"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const (
	apiKeyPrefix      = "nbo"
	apiKeySecretBytes = 24
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  apikeydomain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  apikeydomain.Repository
}

func New(p Params) apikeydomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("apikey.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) Create(ctx context.Context, req apikeydomain.CreateRequest) (*apikeydomain.SecretResponse, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, apikeydomain.ErrInvalidName
	}
	actor := strings.TrimSpace(req.Actor)
	if !validActor(actor) {
		return nil, apikeydomain.ErrInvalidActor
	}

	now := s.clock.Now()
	id := s.genID.Generate()
	keyID := newKeyID(id)

	secret := make([]byte, apiKeySecretBytes)
	if _, err := rand.Read(secret); err != nil {
		return nil, err
	}
	secretPart := hex.EncodeToString(secret)

	hash, err := bcrypt.GenerateFromPassword([]byte(secretPart), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	key := &apikeydomain.APIKey{
		ID:         id,
		KeyID:      keyID,
		Name:       name,
		Actor:      actor,
		SecretHash: string(hash),
		Active:     true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.repo.Insert(ctx, s.db, key); err != nil {
		return nil, err
	}

	s.log.Info("api key created", zap.String("key_id", keyID), zap.String("actor", actor))
	return &apikeydomain.SecretResponse{
		KeyID:  keyID,
		APIKey: fmt.Sprintf("%s_%s_%s", apiKeyPrefix, keyID, secretPart),
	}, nil
}

func (s *Service) List(ctx context.Context) ([]apikeydomain.Response, error) {
	keys, err := s.repo.List(ctx, s.db)
	if err != nil {
		return nil, err
	}
	resp := make([]apikeydomain.Response, 0, len(keys))
	for i := range keys {
		key := &keys[i]
		resp = append(resp, apikeydomain.Response{
			KeyID:      key.KeyID,
			Name:       key.Name,
			Actor:      key.Actor,
			Active:     key.Active,
			CreatedAt:  key.CreatedAt,
			LastUsedAt: key.LastUsedAt,
			ExpiresAt:  key.ExpiresAt,
		})
	}
	return resp, nil
}

func (s *Service) Revoke(ctx context.Context, keyID string) error {
	key, err := s.repo.FindByKeyID(ctx, s.db, strings.TrimSpace(keyID))
	if err != nil {
		return err
	}
	if key == nil {
		return apikeydomain.ErrNotFound
	}

	now := s.clock.Now()
	key.Active = false
	key.UpdatedAt = now
	if key.ExpiresAt == nil || key.ExpiresAt.After(now) {
		key.ExpiresAt = &now
	}
	return s.repo.Update(ctx, s.db, key)
}

func (s *Service) Authenticate(ctx context.Context, token string) (string, error) {
	keyID, secret, ok := splitToken(token)
	if !ok {
		return "", apikeydomain.ErrInvalidKey
	}

	key, err := s.repo.FindByKeyID(ctx, s.db, keyID)
	if err != nil {
		return "", err
	}
	if key == nil || !key.Active || isExpired(key.ExpiresAt, s.clock.Now()) {
		return "", apikeydomain.ErrInvalidKey
	}
	if bcrypt.CompareHashAndPassword([]byte(key.SecretHash), []byte(secret)) != nil {
		return "", apikeydomain.ErrInvalidKey
	}

	now := s.clock.Now()
	key.LastUsedAt = &now
	key.UpdatedAt = now
	if err := s.repo.Update(ctx, s.db, key); err != nil {
		s.log.Warn("updating key usage timestamp", zap.String("key_id", keyID), zap.Error(err))
	}
	return key.Actor, nil
}

// splitToken parses "nbo_<id>_<secret>".
func splitToken(token string) (keyID, secret string, ok bool) {
	parts := strings.SplitN(strings.TrimSpace(token), "_", 3)
	if len(parts) != 3 || parts[0] != apiKeyPrefix || parts[1] == "" || parts[2] == "" {
		return "", "", false
	}
	return parts[1], parts[2], true
}

func validActor(actor string) bool {
	if actor == apikeydomain.ActorSystem {
		return true
	}
	for _, prefix := range []string{"partner:", "org:"} {
		if id, found := strings.CutPrefix(actor, prefix); found {
			_, err := strconv.ParseInt(id, 10, 64)
			return err == nil
		}
	}
	return false
}

func newKeyID(id snowflake.ID) string {
	return strings.ToLower(strconv.FormatInt(int64(id), 36))
}

func isExpired(expiresAt *time.Time, now time.Time) bool {
	return expiresAt != nil && now.After(*expiresAt)
}
