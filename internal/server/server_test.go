package server_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	apikeydomain "github.com/nubomail/nubo/internal/apikey/domain"
	auditdomain "github.com/nubomail/nubo/internal/audit/domain"
	"github.com/nubomail/nubo/internal/authorization"
	billingdomain "github.com/nubomail/nubo/internal/billing/domain"
	"github.com/nubomail/nubo/internal/config"
	ledgerdomain "github.com/nubomail/nubo/internal/ledger/domain"
	provisioningdomain "github.com/nubomail/nubo/internal/provisioning/domain"
	"github.com/nubomail/nubo/internal/server"
	verificationdomain "github.com/nubomail/nubo/internal/verification/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const bootstrapKey = "bootstrap-secret"

// Fakes embed the domain interface so only the methods a test exercises
// need implementations.

type fakeLedger struct {
	ledgerdomain.Service

	partner    *ledgerdomain.Partner
	partnerErr error
	growErr    error
}

func (f *fakeLedger) GetPartner(ctx context.Context, id snowflake.ID) (*ledgerdomain.Partner, error) {
	if f.partnerErr != nil {
		return nil, f.partnerErr
	}
	return f.partner, nil
}

func (f *fakeLedger) GrowPartnerPool(ctx context.Context, id snowflake.ID, deltaBytes int64) error {
	return f.growErr
}

type fakeBilling struct {
	billingdomain.Service

	invoice    *billingdomain.Invoice
	verifyErr  error
	webhookErr error
}

func (f *fakeBilling) VerifyPayment(ctx context.Context, orderID, paymentID, signature string) (*billingdomain.Invoice, error) {
	if f.verifyErr != nil {
		return nil, f.verifyErr
	}
	return f.invoice, nil
}

func (f *fakeBilling) HandleWebhook(ctx context.Context, body []byte, signature string) error {
	return f.webhookErr
}

type fakeProvisioning struct {
	provisioningdomain.Orchestrator

	retried []snowflake.ID
}

func (f *fakeProvisioning) RetryDomain(ctx context.Context, id snowflake.ID) error {
	f.retried = append(f.retried, id)
	return nil
}

type fakeVerification struct {
	verificationdomain.Service
}

type fakeAPIKeys struct {
	apikeydomain.Service

	actors map[string]string
}

func (f *fakeAPIKeys) Authenticate(ctx context.Context, token string) (string, error) {
	actor, ok := f.actors[token]
	if !ok {
		return "", apikeydomain.ErrInvalidKey
	}
	return actor, nil
}

type fakeAuthz struct {
	denied map[string]bool
}

func (f *fakeAuthz) Authorize(ctx context.Context, actor, object, action string) error {
	if f.denied[object+":"+action] {
		return authorization.ErrForbidden
	}
	return nil
}

type fakeAudit struct {
	auditdomain.Service

	actions []string
}

func (f *fakeAudit) Record(ctx context.Context, actorType, actorID, action, targetType, targetID string, metadata map[string]any) error {
	f.actions = append(f.actions, action)
	return nil
}

type fixture struct {
	engine       *gin.Engine
	ledger       *fakeLedger
	billing      *fakeBilling
	provisioning *fakeProvisioning
	authz        *fakeAuthz
	audit        *fakeAudit
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.Config{
		Environment:     "test",
		BootstrapAPIKey: bootstrapKey,
	}

	engine := gin.New()
	engine.Use(server.ErrorHandlingMiddleware())

	node, err := snowflake.NewNode(30)
	require.NoError(t, err)

	f := &fixture{
		engine: engine,
		ledger: &fakeLedger{},
		billing: &fakeBilling{
			invoice: &billingdomain.Invoice{ID: node.Generate(), Status: billingdomain.InvoiceStatusPaid},
		},
		provisioning: &fakeProvisioning{},
		authz:        &fakeAuthz{denied: map[string]bool{}},
		audit:        &fakeAudit{},
	}

	server.NewServer(server.ServerParams{
		Gin:             engine,
		Cfg:             cfg,
		GenID:           node,
		LedgerSvc:       f.ledger,
		ProvisioningSvc: f.provisioning,
		VerificationSvc: &fakeVerification{},
		BillingSvc:      f.billing,
		APIKeySvc:       &fakeAPIKeys{actors: map[string]string{"nbo_p_secret": "partner:12"}},
		AuthzSvc:        f.authz,
		AuditSvc:        f.audit,
	})
	return f
}

func (f *fixture) request(t *testing.T, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.engine.ServeHTTP(rec, req)
	return rec
}

func TestAPIKeyRequired(t *testing.T) {
	f := newFixture(t)
	f.ledger.partner = &ledgerdomain.Partner{ID: 1, Name: "acme", CreatedAt: time.Now()}

	rec := f.request(t, http.MethodGet, "/api/v1/partners/1", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.request(t, http.MethodGet, "/api/v1/partners/1", "nbo_wrong_key", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.request(t, http.MethodGet, "/api/v1/partners/1", bootstrapKey, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.request(t, http.MethodGet, "/api/v1/partners/1", "nbo_p_secret", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthorizationDenied(t *testing.T) {
	f := newFixture(t)
	f.authz.denied[authorization.ObjectPartner+":"+authorization.ActionDelete] = true

	rec := f.request(t, http.MethodDelete, "/api/v1/partners/1", "nbo_p_secret", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestErrorMapping(t *testing.T) {
	f := newFixture(t)

	f.ledger.partnerErr = ledgerdomain.ErrNotFound
	rec := f.request(t, http.MethodGet, "/api/v1/partners/1", bootstrapKey, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	f.ledger.growErr = ledgerdomain.ErrInsufficientCapacity
	rec = f.request(t, http.MethodPost, "/api/v1/partners/1/pool", bootstrapKey, `{"delta_bytes": 100}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "insufficient_capacity")

	rec = f.request(t, http.MethodGet, "/api/v1/partners/abc", bootstrapKey, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRetryDomainProceedsWhenLimiterDisabled(t *testing.T) {
	f := newFixture(t)

	rec := f.request(t, http.MethodPost, "/api/v1/domains/77/retry", bootstrapKey, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, f.provisioning.retried, 1)
	assert.Equal(t, snowflake.ID(77), f.provisioning.retried[0])
	assert.Contains(t, f.audit.actions, "domain.provision.retry")
}

func TestVerifyPaymentSettles(t *testing.T) {
	f := newFixture(t)

	body := `{"gateway_order_id":"order_1","gateway_payment_id":"pay_1","signature":"sig"}`
	rec := f.request(t, http.MethodPost, "/api/v1/payments/verify", bootstrapKey, body)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, f.audit.actions, "payment.settle")

	f.billing.verifyErr = billingdomain.ErrInvalidSignature
	rec = f.request(t, http.MethodPost, "/api/v1/payments/verify", bootstrapKey, body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	f.billing.verifyErr = billingdomain.ErrPaymentNotCaptured
	rec = f.request(t, http.MethodPost, "/api/v1/payments/verify", bootstrapKey, body)
	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
}

func TestWebhookIgnoredEventAcknowledged(t *testing.T) {
	f := newFixture(t)

	f.billing.webhookErr = billingdomain.ErrEventIgnored
	rec := f.request(t, http.MethodPost, "/api/v1/payments/webhook", "", `{"event":"payment.authorized"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ignored")

	f.billing.webhookErr = billingdomain.ErrInvalidSignature
	rec = f.request(t, http.MethodPost, "/api/v1/payments/webhook", "", `{"event":"payment.captured"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	f.billing.webhookErr = nil
	rec = f.request(t, http.MethodPost, "/api/v1/payments/webhook", "", `{"event":"payment.captured"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
}
