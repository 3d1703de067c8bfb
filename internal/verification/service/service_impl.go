package service

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/nubomail/nubo/internal/clock"
	"github.com/nubomail/nubo/internal/config"
	ledgerdomain "github.com/nubomail/nubo/internal/ledger/domain"
	obsmetrics "github.com/nubomail/nubo/internal/observability/metrics"
	provdomain "github.com/nubomail/nubo/internal/provisioning/domain"
	"github.com/nubomail/nubo/internal/verification/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Resolver is the subset of net.Resolver the checks need. Tests swap in a
// fixed-answer implementation.
type Resolver interface {
	LookupMX(ctx context.Context, name string) ([]*net.MX, error)
	LookupTXT(ctx context.Context, name string) ([]string, error)
}

type Params struct {
	fx.In

	Log          *zap.Logger
	Config       config.Config
	Ledger       ledgerdomain.Service
	Provisioning provdomain.Orchestrator
	Resolver     Resolver
	Clock        clock.Clock
	ObsMetrics   *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	log          *zap.Logger
	cfg          config.Config
	ledger       ledgerdomain.Service
	provisioning provdomain.Orchestrator
	resolver     Resolver
	clock        clock.Clock
	obsMetrics   *obsmetrics.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		log:          p.Log.Named("verification.service"),
		cfg:          p.Config,
		ledger:       p.Ledger,
		provisioning: p.Provisioning,
		resolver:     p.Resolver,
		clock:        p.Clock,
		obsMetrics:   p.ObsMetrics,
	}
}

// NewResolver exposes the process-wide resolver to the fx graph.
func NewResolver() Resolver {
	return net.DefaultResolver
}

func (s *Service) Verify(ctx context.Context, domainID snowflake.ID) (*domain.Result, error) {
	dom, err := s.ledger.GetDomain(ctx, domainID)
	if err != nil {
		return nil, err
	}

	if s.cfg.DNS.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.DNS.Timeout)
		defer cancel()
	}

	result := &domain.Result{
		DomainID:  dom.ID,
		Domain:    dom.Name,
		MX:        s.checkMX(ctx, dom.Name),
		SPF:       s.checkSPF(ctx, dom.Name),
		DKIM:      s.checkDKIM(ctx, dom),
		DMARC:     s.checkDMARC(ctx, dom.Name),
		CheckedAt: s.clock.Now(),
	}
	result.Verified = result.MX.Passed && result.SPF.Passed && result.DKIM.Passed && result.DMARC.Passed

	if err := s.ledger.RecordDNSResults(ctx, dom.ID,
		result.MX.Passed, result.SPF.Passed, result.DKIM.Passed, result.DMARC.Passed); err != nil {
		return nil, err
	}

	if !result.Verified {
		// Only pending advances to dns_pending here. A lapsed record never
		// demotes an active domain, and a failed domain stays failed so the
		// provisioning retry path still recognizes it.
		result.Status = dom.Status
		if dom.Status == ledgerdomain.DomainStatusPending {
			result.Status = ledgerdomain.DomainStatusDNSPending
		}
		s.obsMetrics.RecordDNSVerification(false)
		return result, nil
	}

	transitioned, err := s.ledger.ActivateDomain(ctx, dom.ID)
	if err != nil {
		return nil, err
	}
	result.Status = ledgerdomain.DomainStatusActive
	result.Activated = transitioned
	s.obsMetrics.RecordDNSVerification(transitioned)

	// The winner of the terminal transition owns the provisioning trigger.
	if transitioned && !dom.MailcowProvisioned {
		if err := s.provisioning.EnsureDomainProvisioned(ctx, dom.ID); err != nil {
			s.log.Warn("post-activation provisioning failed",
				zap.String("domain", dom.Name), zap.Error(err))
		}
	}
	return result, nil
}

func (s *Service) ExpectedRecords(ctx context.Context, domainID snowflake.ID) (map[string]string, error) {
	dom, err := s.ledger.GetDomain(ctx, domainID)
	if err != nil {
		return nil, err
	}

	records := map[string]string{
		"mx":    strings.Join(s.cfg.DNS.MXHosts, ", "),
		"spf":   s.expectedSPF(),
		"dmarc": s.expectedDMARC(),
	}
	if dom.DKIMRecord != "" {
		records["dkim"] = fmt.Sprintf("%s._domainkey.%s TXT %s", dom.DKIMSelector, dom.Name, dom.DKIMRecord)
	}
	return records, nil
}

func (s *Service) checkMX(ctx context.Context, name string) domain.CheckStatus {
	status := domain.CheckStatus{Expected: strings.Join(s.cfg.DNS.MXHosts, ", ")}

	records, err := s.resolver.LookupMX(ctx, name)
	if err != nil {
		status.Detail = lookupDetail(err)
		return status
	}

	found := make(map[string]bool, len(records))
	for _, mx := range records {
		host := normalizeHost(mx.Host)
		found[host] = true
		status.Found = append(status.Found, host)
	}

	for _, want := range s.cfg.DNS.MXHosts {
		if !found[normalizeHost(want)] {
			status.Detail = "missing " + want
			return status
		}
	}
	status.Passed = len(s.cfg.DNS.MXHosts) > 0
	if !status.Passed {
		status.Detail = "no expected hosts configured"
	}
	return status
}

func (s *Service) checkSPF(ctx context.Context, name string) domain.CheckStatus {
	status := domain.CheckStatus{Expected: s.expectedSPF()}

	records, err := s.resolver.LookupTXT(ctx, name)
	if err != nil {
		status.Detail = lookupDetail(err)
		return status
	}

	include := "include:" + s.cfg.DNS.SPFInclude
	for _, txt := range records {
		if !strings.HasPrefix(txt, "v=spf1") {
			continue
		}
		status.Found = append(status.Found, txt)
		if strings.Contains(txt, include) {
			status.Passed = true
			return status
		}
	}
	status.Detail = "no spf record with " + include
	return status
}

func (s *Service) checkDKIM(ctx context.Context, dom *ledgerdomain.Domain) domain.CheckStatus {
	selector := dom.DKIMSelector
	if selector == "" {
		selector = s.cfg.DNS.DKIMSelector
	}
	host := selector + "._domainkey." + dom.Name
	status := domain.CheckStatus{Expected: host + " TXT " + dom.DKIMRecord}

	wantKey := dkimKeyValue(dom.DKIMRecord)
	if wantKey == "" {
		status.Detail = "signing key not generated yet"
		return status
	}

	records, err := s.resolver.LookupTXT(ctx, host)
	if err != nil {
		status.Detail = lookupDetail(err)
		return status
	}

	for _, txt := range records {
		status.Found = append(status.Found, txt)
		if dkimKeyValue(txt) == wantKey {
			status.Passed = true
			return status
		}
	}
	status.Detail = "published key does not match"
	return status
}

func (s *Service) checkDMARC(ctx context.Context, name string) domain.CheckStatus {
	status := domain.CheckStatus{Expected: s.expectedDMARC()}

	records, err := s.resolver.LookupTXT(ctx, "_dmarc."+name)
	if err != nil {
		status.Detail = lookupDetail(err)
		return status
	}

	for _, txt := range records {
		if !strings.HasPrefix(txt, "v=DMARC1") {
			continue
		}
		status.Found = append(status.Found, txt)
		if s.cfg.DNS.DMARCPolicy == "" || strings.Contains(txt, "p="+s.cfg.DNS.DMARCPolicy) {
			status.Passed = true
			return status
		}
	}
	status.Detail = "no matching dmarc policy"
	return status
}

func (s *Service) expectedSPF() string {
	return "v=spf1 include:" + s.cfg.DNS.SPFInclude + " ~all"
}

func (s *Service) expectedDMARC() string {
	policy := s.cfg.DNS.DMARCPolicy
	if policy == "" {
		policy = "quarantine"
	}
	return "v=DMARC1; p=" + policy
}

// dkimKeyValue extracts the p= public key material, ignoring whitespace
// introduced by TXT chunking.
func dkimKeyValue(record string) string {
	for _, part := range strings.Split(record, ";") {
		part = strings.TrimSpace(part)
		if strings.HasPrefix(part, "p=") {
			return strings.Map(func(r rune) rune {
				if r == ' ' || r == '\t' {
					return -1
				}
				return r
			}, strings.TrimPrefix(part, "p="))
		}
	}
	return ""
}

func normalizeHost(host string) string {
	return strings.ToLower(strings.TrimSuffix(strings.TrimSpace(host), "."))
}

func lookupDetail(err error) string {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
		return "record not found"
	}
	return "lookup failed: " + err.Error()
}
