package authorization_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/nubomail/nubo/internal/authorization"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newService(t *testing.T) authorization.Service {
	t.Helper()

	dsn := fmt.Sprintf("file:memdb_authz_%d?mode=memory&cache=shared", time.Now().UnixNano())
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
	t.Cleanup(func() { _ = sqlDB.Close() })

	enforcer, err := authorization.NewEnforcer(db)
	if err != nil {
		t.Fatalf("building enforcer: %v", err)
	}
	return authorization.NewService(authorization.Params{
		Log:      zap.NewNop(),
		Enforcer: enforcer,
	})
}

func TestAuthorizeCapabilities(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	cases := []struct {
		name   string
		actor  string
		object string
		action string
		want   error
	}{
		{"system creates partners", "system", authorization.ObjectPartner, authorization.ActionCreate, nil},
		{"system settles payments", "system", authorization.ObjectPayment, authorization.ActionSettle, nil},
		{"partner creates domain", "partner:12", authorization.ObjectDomain, authorization.ActionCreate, nil},
		{"partner verifies domain", "partner:12", authorization.ObjectDomain, authorization.ActionVerify, nil},
		{"partner cannot delete partner", "partner:12", authorization.ObjectPartner, authorization.ActionDelete, authorization.ErrForbidden},
		{"partner cannot settle", "partner:12", authorization.ObjectPayment, authorization.ActionSettle, authorization.ErrForbidden},
		{"org admin purchases storage", "org:7", authorization.ObjectOrganization, authorization.ActionPurchase, nil},
		{"org admin cannot create orgs", "org:7", authorization.ObjectOrganization, authorization.ActionCreate, authorization.ErrForbidden},
		{"org admin cannot manage keys", "org:7", authorization.ObjectAPIKey, authorization.ActionCreate, authorization.ErrForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := svc.Authorize(ctx, tc.actor, tc.object, tc.action)
			if err != tc.want {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestAuthorizeRejectsMalformedActors(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	for _, actor := range []string{"", "root", "partner:abc", "partner:0", "org:"} {
		if err := svc.Authorize(ctx, actor, authorization.ObjectDomain, authorization.ActionView); err != authorization.ErrInvalidActor {
			t.Fatalf("actor %q: err = %v, want ErrInvalidActor", actor, err)
		}
	}
	if err := svc.Authorize(ctx, "system", "", authorization.ActionView); err != authorization.ErrInvalidObject {
		t.Fatalf("err = %v, want ErrInvalidObject", err)
	}
	if err := svc.Authorize(ctx, "system", authorization.ObjectDomain, " "); err != authorization.ErrInvalidAction {
		t.Fatalf("err = %v, want ErrInvalidAction", err)
	}
}
