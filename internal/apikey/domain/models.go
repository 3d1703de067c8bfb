package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Well-known actors. Partner and organization actors carry their subject
// id, e.g. "partner:123".
const (
	ActorSystem = "system"
)

// APIKey stores a hashed API credential bound to an actor. The plaintext
// secret leaves the system exactly once, at creation.
type APIKey struct {
	ID         snowflake.ID `gorm:"primaryKey"`
	KeyID      string       `gorm:"column:key_id;type:text;not null;uniqueIndex:ux_api_keys_key_id"`
	Name       string       `gorm:"type:text;not null"`
	Actor      string       `gorm:"type:text;not null"`
	SecretHash string       `gorm:"column:secret_hash;type:text;not null"`
	Active     bool         `gorm:"not null;default:true"`
	CreatedAt  time.Time    `gorm:"not null"`
	UpdatedAt  time.Time    `gorm:"not null"`
	LastUsedAt *time.Time   `gorm:"column:last_used_at"`
	ExpiresAt  *time.Time   `gorm:"column:expires_at"`
}

// TableName sets the database table name.
func (APIKey) TableName() string { return "api_keys" }

type CreateRequest struct {
	Name  string `json:"name"`
	Actor string `json:"actor"`
}

type Response struct {
	KeyID      string     `json:"key_id"`
	Name       string     `json:"name"`
	Actor      string     `json:"actor"`
	Active     bool       `json:"active"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
}

// SecretResponse carries the one-time plaintext key.
type SecretResponse struct {
	KeyID  string `json:"key_id"`
	APIKey string `json:"api_key"`
}

type Service interface {
	Create(ctx context.Context, req CreateRequest) (*SecretResponse, error)
	List(ctx context.Context) ([]Response, error)
	Revoke(ctx context.Context, keyID string) error
	// Authenticate resolves a presented "nbo_<id>_<secret>" token to its
	// actor string.
	Authenticate(ctx context.Context, token string) (string, error)
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, key *APIKey) error
	FindByKeyID(ctx context.Context, db *gorm.DB, keyID string) (*APIKey, error)
	Update(ctx context.Context, db *gorm.DB, key *APIKey) error
	List(ctx context.Context, db *gorm.DB) ([]APIKey, error)
}

var (
	ErrInvalidName  = errors.New("invalid_name")
	ErrInvalidActor = errors.New("invalid_actor")
	ErrInvalidKey   = errors.New("invalid_api_key")
	ErrNotFound     = errors.New("api_key_not_found")
)
