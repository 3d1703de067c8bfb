package service_test

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	apikeydomain "github.com/nubomail/nubo/internal/apikey/domain"
	"github.com/nubomail/nubo/internal/apikey/repository"
	apikeyservice "github.com/nubomail/nubo/internal/apikey/service"
	"github.com/nubomail/nubo/internal/clock"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const apiKeySchema = `
CREATE TABLE api_keys (
	id INTEGER PRIMARY KEY,
	key_id TEXT NOT NULL UNIQUE,
	name TEXT NOT NULL,
	actor TEXT NOT NULL,
	secret_hash TEXT NOT NULL,
	active BOOLEAN NOT NULL DEFAULT TRUE,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL,
	last_used_at DATETIME,
	expires_at DATETIME
);
`

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:memdb_apikey_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("opening sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("unwrapping sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := db.Exec(apiKeySchema).Error; err != nil {
		t.Fatalf("creating schema: %v", err)
	}
	return db
}

func newService(t *testing.T, db *gorm.DB) apikeydomain.Service {
	t.Helper()

	node, err := snowflake.NewNode(21)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	return apikeyservice.New(apikeyservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clock.NewSystemClock(),
		Repo:  repository.NewRepository(),
	})
}

func TestCreateAndAuthenticate(t *testing.T) {
	db := setupTestDB(t)
	svc := newService(t, db)
	ctx := context.Background()

	created, err := svc.Create(ctx, apikeydomain.CreateRequest{Name: "provisioner", Actor: "system"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !strings.HasPrefix(created.APIKey, "nbo_"+created.KeyID+"_") {
		t.Fatalf("unexpected key format: %s", created.APIKey)
	}

	actor, err := svc.Authenticate(ctx, created.APIKey)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if actor != "system" {
		t.Fatalf("actor = %q, want system", actor)
	}

	keys, err := svc.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(keys) != 1 {
		t.Fatalf("listed %d keys, want 1", len(keys))
	}
	if keys[0].LastUsedAt == nil {
		t.Fatal("LastUsedAt not recorded after authenticate")
	}
}

func TestAuthenticateRejectsWrongSecret(t *testing.T) {
	db := setupTestDB(t)
	svc := newService(t, db)
	ctx := context.Background()

	created, err := svc.Create(ctx, apikeydomain.CreateRequest{Name: "ops", Actor: "partner:42"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if _, err := svc.Authenticate(ctx, "nbo_"+created.KeyID+"_deadbeef"); err != apikeydomain.ErrInvalidKey {
		t.Fatalf("err = %v, want ErrInvalidKey", err)
	}
}

func TestAuthenticateRejectsMalformedToken(t *testing.T) {
	db := setupTestDB(t)
	svc := newService(t, db)
	ctx := context.Background()

	for _, token := range []string{"", "nbo_only_two", "other_abc_def", "nbo__secret"} {
		if _, err := svc.Authenticate(ctx, token); err != apikeydomain.ErrInvalidKey {
			t.Fatalf("token %q: err = %v, want ErrInvalidKey", token, err)
		}
	}
}

func TestRevokeDisablesKey(t *testing.T) {
	db := setupTestDB(t)
	svc := newService(t, db)
	ctx := context.Background()

	created, err := svc.Create(ctx, apikeydomain.CreateRequest{Name: "billing", Actor: "org:7"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := svc.Revoke(ctx, created.KeyID); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if _, err := svc.Authenticate(ctx, created.APIKey); err != apikeydomain.ErrInvalidKey {
		t.Fatalf("err = %v, want ErrInvalidKey", err)
	}

	if err := svc.Revoke(ctx, "missing"); err != apikeydomain.ErrNotFound {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestCreateValidatesInput(t *testing.T) {
	db := setupTestDB(t)
	svc := newService(t, db)
	ctx := context.Background()

	if _, err := svc.Create(ctx, apikeydomain.CreateRequest{Name: "  ", Actor: "system"}); err != apikeydomain.ErrInvalidName {
		t.Fatalf("err = %v, want ErrInvalidName", err)
	}
	for _, actor := range []string{"", "root", "partner:abc", "org:"} {
		if _, err := svc.Create(ctx, apikeydomain.CreateRequest{Name: "k", Actor: actor}); err != apikeydomain.ErrInvalidActor {
			t.Fatalf("actor %q: err = %v, want ErrInvalidActor", actor, err)
		}
	}
}
