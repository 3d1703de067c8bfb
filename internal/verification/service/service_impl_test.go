package service_test

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/nubomail/nubo/internal/clock"
	"github.com/nubomail/nubo/internal/config"
	ledgerdomain "github.com/nubomail/nubo/internal/ledger/domain"
	ledgerrepo "github.com/nubomail/nubo/internal/ledger/repository"
	ledgerservice "github.com/nubomail/nubo/internal/ledger/service"
	provdomain "github.com/nubomail/nubo/internal/provisioning/domain"
	verifdomain "github.com/nubomail/nubo/internal/verification/domain"
	verifservice "github.com/nubomail/nubo/internal/verification/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const gb = int64(1) << 30

// fakeResolver answers from fixed maps; missing names report NXDOMAIN the
// way net.Resolver does.
type fakeResolver struct {
	mx  map[string][]*net.MX
	txt map[string][]string
}

func (f *fakeResolver) LookupMX(ctx context.Context, name string) ([]*net.MX, error) {
	if records, ok := f.mx[name]; ok {
		return records, nil
	}
	return nil, &net.DNSError{Err: "no such host", Name: name, IsNotFound: true}
}

func (f *fakeResolver) LookupTXT(ctx context.Context, name string) ([]string, error) {
	if records, ok := f.txt[name]; ok {
		return records, nil
	}
	return nil, &net.DNSError{Err: "no such host", Name: name, IsNotFound: true}
}

// fakeOrchestrator records provisioning triggers.
type fakeOrchestrator struct {
	ensured []snowflake.ID
}

func (f *fakeOrchestrator) CreateDomain(ctx context.Context, in provdomain.CreateDomainInput) (*ledgerdomain.Domain, error) {
	return nil, nil
}
func (f *fakeOrchestrator) RetryDomain(ctx context.Context, id snowflake.ID) error { return nil }
func (f *fakeOrchestrator) EnsureDomainProvisioned(ctx context.Context, id snowflake.ID) error {
	f.ensured = append(f.ensured, id)
	return nil
}
func (f *fakeOrchestrator) DeleteDomain(ctx context.Context, id snowflake.ID) error { return nil }
func (f *fakeOrchestrator) UpdateDomainQuota(ctx context.Context, id snowflake.ID, newQuotaBytes int64) error {
	return nil
}
func (f *fakeOrchestrator) CreateUser(ctx context.Context, in provdomain.CreateUserInput) (*ledgerdomain.OrganizationUser, error) {
	return nil, nil
}
func (f *fakeOrchestrator) DeleteUser(ctx context.Context, id snowflake.ID) error { return nil }
func (f *fakeOrchestrator) UpdateUserQuota(ctx context.Context, id snowflake.ID, newMailboxBytes int64) error {
	return nil
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:memdb_verif_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	schema := []string{
		`CREATE TABLE partners (
			id INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			slug TEXT NOT NULL UNIQUE,
			tier_discount_bp INTEGER NOT NULL DEFAULT 0,
			allocated_storage_bytes INTEGER NOT NULL DEFAULT 0,
			used_storage_bytes INTEGER NOT NULL DEFAULT 0,
			active BOOLEAN NOT NULL DEFAULT 1,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE TABLE organizations (
			id INTEGER PRIMARY KEY,
			partner_id INTEGER,
			name TEXT NOT NULL,
			slug TEXT NOT NULL UNIQUE,
			total_storage_bytes INTEGER NOT NULL DEFAULT 0,
			used_storage_bytes INTEGER NOT NULL DEFAULT 0,
			active BOOLEAN NOT NULL DEFAULT 1,
			suspended_at DATETIME,
			suspended_reason TEXT,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE TABLE domains (
			id INTEGER PRIMARY KEY,
			organization_id INTEGER NOT NULL,
			name TEXT NOT NULL UNIQUE,
			domain_quota_bytes INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL DEFAULT 'pending',
			mailcow_provisioned BOOLEAN NOT NULL DEFAULT 0,
			dkim_selector TEXT,
			dkim_record TEXT,
			mx_verified BOOLEAN NOT NULL DEFAULT 0,
			spf_verified BOOLEAN NOT NULL DEFAULT 0,
			dkim_verified BOOLEAN NOT NULL DEFAULT 0,
			dmarc_verified BOOLEAN NOT NULL DEFAULT 0,
			dns_checked_at DATETIME,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE TABLE organization_users (
			id INTEGER PRIMARY KEY,
			organization_id INTEGER NOT NULL,
			domain_id INTEGER NOT NULL,
			email TEXT NOT NULL UNIQUE,
			display_name TEXT,
			mailbox_storage_bytes INTEGER NOT NULL DEFAULT 0,
			drive_storage_bytes INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL DEFAULT 'pending',
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
	}
	for _, stmt := range schema {
		require.NoError(t, db.Exec(stmt).Error)
	}
	return db
}

type fixture struct {
	ledger   ledgerdomain.Service
	verifier verifdomain.Service
	resolver *fakeResolver
	orch     *fakeOrchestrator
	clk      *clock.FakeClock
	dom      *ledgerdomain.Domain
}

const dkimTXT = "v=DKIM1; k=rsa; p=MIIBIjANBgTESTKEY"

func setup(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	db := setupTestDB(t)
	node, err := snowflake.NewNode(22)
	require.NoError(t, err)

	ledgerSvc := ledgerservice.NewService(ledgerservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clock.NewSystemClock(),
		Repo:  ledgerrepo.NewRepository(db),
	})

	org, err := ledgerSvc.CreateOrganization(ctx, ledgerdomain.CreateOrganizationInput{
		Name:              "Verif Org",
		TotalStorageBytes: 20 * gb,
	})
	require.NoError(t, err)

	dom, err := ledgerSvc.ReserveDomain(ctx, ledgerdomain.ReserveDomainInput{
		OrganizationID: org.ID,
		Name:           "verif.example",
		QuotaBytes:     5 * gb,
		DKIMSelector:   "dkim",
	})
	require.NoError(t, err)
	require.NoError(t, ledgerSvc.SetDomainDKIM(ctx, dom.ID, "dkim", dkimTXT))

	cfg := config.Config{}
	cfg.DNS = config.DNSConfig{
		MXHosts:      []string{"mx1.nubo.email", "mx2.nubo.email"},
		SPFInclude:   "spf.nubo.email",
		DKIMSelector: "dkim",
		DMARCPolicy:  "quarantine",
	}

	resolver := &fakeResolver{mx: map[string][]*net.MX{}, txt: map[string][]string{}}
	orch := &fakeOrchestrator{}
	clk := clock.NewFakeClock(time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC))

	verifier := verifservice.NewService(verifservice.Params{
		Log:          zap.NewNop(),
		Config:       cfg,
		Ledger:       ledgerSvc,
		Provisioning: orch,
		Resolver:     resolver,
		Clock:        clk,
	})

	return &fixture{ledger: ledgerSvc, verifier: verifier, resolver: resolver, orch: orch, clk: clk, dom: dom}
}

func (f *fixture) publishAll() {
	f.resolver.mx["verif.example"] = []*net.MX{
		{Host: "mx1.nubo.email.", Pref: 10},
		{Host: "MX2.nubo.email.", Pref: 20},
	}
	f.resolver.txt["verif.example"] = []string{"v=spf1 include:spf.nubo.email ~all"}
	f.resolver.txt["dkim._domainkey.verif.example"] = []string{dkimTXT}
	f.resolver.txt["_dmarc.verif.example"] = []string{"v=DMARC1; p=quarantine; rua=mailto:dmarc@nubo.email"}
}

func TestVerifyIncompleteKeepsDomainPending(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	// Only MX and SPF published.
	f.resolver.mx["verif.example"] = []*net.MX{
		{Host: "mx1.nubo.email.", Pref: 10},
		{Host: "mx2.nubo.email.", Pref: 20},
	}
	f.resolver.txt["verif.example"] = []string{"v=spf1 include:spf.nubo.email ~all"}

	result, err := f.verifier.Verify(ctx, f.dom.ID)
	require.NoError(t, err)

	assert.True(t, result.MX.Passed)
	assert.True(t, result.SPF.Passed)
	assert.False(t, result.DKIM.Passed)
	assert.False(t, result.DMARC.Passed)
	assert.False(t, result.Verified)
	assert.False(t, result.Activated)
	assert.Equal(t, ledgerdomain.DomainStatusDNSPending, result.Status)
	assert.Equal(t, f.clk.Now(), result.CheckedAt)

	stored, err := f.ledger.GetDomain(ctx, f.dom.ID)
	require.NoError(t, err)
	assert.Equal(t, ledgerdomain.DomainStatusDNSPending, stored.Status)
	assert.NotNil(t, stored.DNSCheckedAt)
	assert.Empty(t, f.orch.ensured)
}

func TestVerifyAllFourActivatesOnce(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	f.publishAll()

	result, err := f.verifier.Verify(ctx, f.dom.ID)
	require.NoError(t, err)
	assert.True(t, result.Verified)
	assert.True(t, result.Activated)
	assert.Equal(t, ledgerdomain.DomainStatusActive, result.Status)

	// The unprovisioned domain gets its provisioning trigger on the edge.
	require.Len(t, f.orch.ensured, 1)
	assert.Equal(t, f.dom.ID, f.orch.ensured[0])

	// Re-verification stays green without re-firing the trigger.
	again, err := f.verifier.Verify(ctx, f.dom.ID)
	require.NoError(t, err)
	assert.True(t, again.Verified)
	assert.False(t, again.Activated)
	assert.Len(t, f.orch.ensured, 1)
}

func TestVerifyLapsedRecordDoesNotDemoteActiveDomain(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	f.publishAll()

	_, err := f.verifier.Verify(ctx, f.dom.ID)
	require.NoError(t, err)

	// DMARC disappears later.
	delete(f.resolver.txt, "_dmarc.verif.example")

	result, err := f.verifier.Verify(ctx, f.dom.ID)
	require.NoError(t, err)
	assert.False(t, result.Verified)
	assert.Equal(t, ledgerdomain.DomainStatusActive, result.Status)

	stored, err := f.ledger.GetDomain(ctx, f.dom.ID)
	require.NoError(t, err)
	assert.Equal(t, ledgerdomain.DomainStatusActive, stored.Status)
	assert.False(t, stored.DMARCVerified)
}

func TestVerifyWithoutSigningKey(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	require.NoError(t, f.ledger.SetDomainDKIM(ctx, f.dom.ID, "dkim", ""))
	f.publishAll()

	result, err := f.verifier.Verify(ctx, f.dom.ID)
	require.NoError(t, err)
	assert.False(t, result.DKIM.Passed)
	assert.Equal(t, "signing key not generated yet", result.DKIM.Detail)
	assert.False(t, result.Verified)
}

func TestVerifyMismatchedDKIMKey(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	f.publishAll()
	f.resolver.txt["dkim._domainkey.verif.example"] = []string{"v=DKIM1; k=rsa; p=SOMEOTHERKEY"}

	result, err := f.verifier.Verify(ctx, f.dom.ID)
	require.NoError(t, err)
	assert.False(t, result.DKIM.Passed)
	assert.False(t, result.Verified)
}

func TestVerifyIncompleteKeepsFailedDomainFailed(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	require.NoError(t, f.ledger.MarkDomainFailed(ctx, f.dom.ID))

	result, err := f.verifier.Verify(ctx, f.dom.ID)
	require.NoError(t, err)
	assert.False(t, result.Verified)
	assert.Equal(t, ledgerdomain.DomainStatusFailed, result.Status)

	// The failed marker survives so the provisioning retry still applies.
	stored, err := f.ledger.GetDomain(ctx, f.dom.ID)
	require.NoError(t, err)
	assert.Equal(t, ledgerdomain.DomainStatusFailed, stored.Status)
	assert.Empty(t, f.orch.ensured)
}

func TestVerifyRecoversFailedDomain(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	require.NoError(t, f.ledger.MarkDomainFailed(ctx, f.dom.ID))
	f.publishAll()

	result, err := f.verifier.Verify(ctx, f.dom.ID)
	require.NoError(t, err)
	assert.True(t, result.Verified)
	assert.True(t, result.Activated)
	assert.Equal(t, ledgerdomain.DomainStatusActive, result.Status)

	// Activation re-runs the external create for the unprovisioned domain.
	require.Len(t, f.orch.ensured, 1)
	assert.Equal(t, f.dom.ID, f.orch.ensured[0])

	stored, err := f.ledger.GetDomain(ctx, f.dom.ID)
	require.NoError(t, err)
	assert.Equal(t, ledgerdomain.DomainStatusActive, stored.Status)
}

func TestExpectedRecords(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	records, err := f.verifier.ExpectedRecords(ctx, f.dom.ID)
	require.NoError(t, err)
	assert.Equal(t, "mx1.nubo.email, mx2.nubo.email", records["mx"])
	assert.Contains(t, records["spf"], "include:spf.nubo.email")
	assert.Contains(t, records["dmarc"], "p=quarantine")
	assert.Contains(t, records["dkim"], "dkim._domainkey.verif.example")
}
