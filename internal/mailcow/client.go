package mailcow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/nubomail/nubo/internal/config"
	"go.uber.org/zap"
)

var (
	// ErrUnavailable covers transport failures and 5xx responses. Callers
	// treat it as "state unknown": nothing may be released or marked done.
	ErrUnavailable = errors.New("mailcow_unavailable")
	// ErrRequestFailed is a definitive rejection from the API (a
	// danger/error item in the response body or a 4xx status).
	ErrRequestFailed = errors.New("mailcow_request_failed")
	ErrNotFound      = errors.New("mailcow_not_found")
)

// DKIMKey is the public half of a domain signing key as the mail host
// reports it. TXTRecord is the value to publish at
// <selector>._domainkey.<domain>.
type DKIMKey struct {
	Selector  string
	PublicKey string
	TXTRecord string
}

type DomainSpec struct {
	Name      string
	QuotaMB   int64
	DefQuota  int64
	MaxQuota  int64
	Mailboxes int
}

type MailboxSpec struct {
	LocalPart string
	Domain    string
	Name      string
	QuotaMB   int64
	Password  string
}

// Client is the outbound surface to the mail host. Every method maps to
// one API call; none of them retry.
type Client interface {
	DomainExists(ctx context.Context, name string) (bool, error)
	CreateDomain(ctx context.Context, spec DomainSpec) error
	UpdateDomainQuota(ctx context.Context, name string, quotaMB int64) error
	DeleteDomain(ctx context.Context, name string) error

	CreateMailbox(ctx context.Context, spec MailboxSpec) error
	UpdateMailboxQuota(ctx context.Context, address string, quotaMB int64) error
	DeleteMailbox(ctx context.Context, address string) error

	GenerateDKIM(ctx context.Context, domain, selector string) error
	GetDKIM(ctx context.Context, domain string) (*DKIMKey, error)
}

type client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	log     *zap.Logger
}

func New(cfg config.Config, log *zap.Logger) Client {
	timeout := cfg.Mailcow.RequestTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &client{
		baseURL: strings.TrimRight(cfg.Mailcow.BaseURL, "/"),
		apiKey:  cfg.Mailcow.APIKey,
		http:    &http.Client{Timeout: timeout},
		log:     log.Named("mailcow.client"),
	}
}

// apiResult is the item shape mailcow returns for mutating calls. The
// same endpoint can answer with a single object or an array of them.
type apiResult struct {
	Type string          `json:"type"`
	Msg  json.RawMessage `json:"msg"`
}

func (c *client) DomainExists(ctx context.Context, name string) (bool, error) {
	body, status, err := c.get(ctx, "/api/v1/get/domain/"+name)
	if err != nil {
		return false, err
	}
	if status == http.StatusNotFound {
		return false, nil
	}
	// An unknown domain comes back as an empty object or empty array.
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" || trimmed == "{}" || trimmed == "[]" || trimmed == "null" {
		return false, nil
	}
	var payload struct {
		DomainName string `json:"domain_name"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return payload.DomainName != "", nil
}

func (c *client) CreateDomain(ctx context.Context, spec DomainSpec) error {
	payload := map[string]any{
		"domain":    spec.Name,
		"quota":     spec.QuotaMB,
		"maxquota":  spec.MaxQuota,
		"mailboxes": spec.Mailboxes,
		"defquota":  spec.DefQuota,
		"active":    "1",
	}
	return c.mutate(ctx, "/api/v1/add/domain", payload)
}

func (c *client) UpdateDomainQuota(ctx context.Context, name string, quotaMB int64) error {
	payload := map[string]any{
		"items": []string{name},
		"attr":  map[string]any{"quota": quotaMB},
	}
	return c.mutate(ctx, "/api/v1/edit/domain", payload)
}

func (c *client) DeleteDomain(ctx context.Context, name string) error {
	return c.mutate(ctx, "/api/v1/delete/domain", []string{name})
}

func (c *client) CreateMailbox(ctx context.Context, spec MailboxSpec) error {
	payload := map[string]any{
		"local_part":      spec.LocalPart,
		"domain":          spec.Domain,
		"name":            spec.Name,
		"quota":           spec.QuotaMB,
		"password":        spec.Password,
		"password2":       spec.Password,
		"active":          "1",
		"force_pw_update": "1",
	}
	return c.mutate(ctx, "/api/v1/add/mailbox", payload)
}

func (c *client) UpdateMailboxQuota(ctx context.Context, address string, quotaMB int64) error {
	payload := map[string]any{
		"items": []string{address},
		"attr":  map[string]any{"quota": quotaMB},
	}
	return c.mutate(ctx, "/api/v1/edit/mailbox", payload)
}

func (c *client) DeleteMailbox(ctx context.Context, address string) error {
	return c.mutate(ctx, "/api/v1/delete/mailbox", []string{address})
}

func (c *client) GenerateDKIM(ctx context.Context, domain, selector string) error {
	payload := map[string]any{
		"domains":       domain,
		"dkim_selector": selector,
		"key_size":      2048,
	}
	return c.mutate(ctx, "/api/v1/add/dkim", payload)
}

func (c *client) GetDKIM(ctx context.Context, domain string) (*DKIMKey, error) {
	body, status, err := c.get(ctx, "/api/v1/get/dkim/"+domain)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, ErrNotFound
	}
	var payload struct {
		PubKey   string `json:"pubkey"`
		DKIMTXT  string `json:"dkim_txt"`
		Selector string `json:"dkim_selector"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if payload.PubKey == "" {
		return nil, ErrNotFound
	}
	return &DKIMKey{
		Selector:  payload.Selector,
		PublicKey: payload.PubKey,
		TXTRecord: payload.DKIMTXT,
	}, nil
}

func (c *client) get(ctx context.Context, path string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("X-API-Key", c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, resp.StatusCode, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}
	if resp.StatusCode >= http.StatusBadRequest && resp.StatusCode != http.StatusNotFound {
		return nil, resp.StatusCode, fmt.Errorf("%w: status %d", ErrRequestFailed, resp.StatusCode)
	}

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return nil, resp.StatusCode, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return buf.Bytes(), resp.StatusCode, nil
}

func (c *client) mutate(ctx context.Context, path string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("X-API-Key", c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("%w: status %d", ErrRequestFailed, resp.StatusCode)
	}

	return decodeResults(resp.Body, path, c.log)
}

func decodeResults(body io.Reader, path string, log *zap.Logger) error {
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(body); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	raw := bytes.TrimSpace(buf.Bytes())
	if len(raw) == 0 {
		return nil
	}

	var results []apiResult
	if raw[0] == '[' {
		if err := json.Unmarshal(raw, &results); err != nil {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	} else {
		var single apiResult
		if err := json.Unmarshal(raw, &single); err != nil {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		results = append(results, single)
	}

	for _, result := range results {
		switch strings.ToLower(result.Type) {
		case "danger", "error":
			log.Warn("mail host rejected request",
				zap.String("path", path),
				zap.String("detail", string(result.Msg)),
			)
			return fmt.Errorf("%w: %s", ErrRequestFailed, string(result.Msg))
		}
	}
	return nil
}
