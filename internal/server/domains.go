package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	provisioningdomain "github.com/nubomail/nubo/internal/provisioning/domain"
)

type createDomainRequest struct {
	OrganizationID string `json:"organization_id"`
	Name           string `json:"name"`
	QuotaBytes     int64  `json:"quota_bytes"`
}

func (s *Server) CreateDomain(c *gin.Context) {
	var req createDomainRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	orgID, err := parseID(req.OrganizationID, "organization_id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	dom, err := s.provisioningSvc.CreateDomain(c.Request.Context(), provisioningdomain.CreateDomainInput{
		OrganizationID: orgID,
		Name:           strings.TrimSpace(req.Name),
		QuotaBytes:     req.QuotaBytes,
	})
	if err != nil {
		// A failed external phase still created the ledger row; surface
		// both so the caller can retry.
		if errors.Is(err, provisioningdomain.ErrExternalProvisioningFailed) && dom != nil {
			s.audit(c, "domain.provision.failed", "domain", dom.ID.String(), map[string]any{
				"name": dom.Name,
			})
			c.JSON(http.StatusBadGateway, gin.H{
				"data":  dom,
				"error": errorPayload{Type: "upstream_error", Message: err.Error()},
			})
			return
		}
		AbortWithError(c, err)
		return
	}

	s.audit(c, "domain.create", "domain", dom.ID.String(), map[string]any{
		"name":        dom.Name,
		"quota_bytes": dom.DomainQuotaBytes,
	})

	c.JSON(http.StatusOK, gin.H{"data": dom})
}

func (s *Server) GetDomain(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	dom, err := s.ledgerSvc.GetDomain(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": dom})
}

type updateDomainQuotaRequest struct {
	QuotaBytes int64 `json:"quota_bytes"`
}

func (s *Server) UpdateDomainQuota(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req updateDomainQuotaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	if err := s.provisioningSvc.UpdateDomainQuota(c.Request.Context(), id, req.QuotaBytes); err != nil {
		AbortWithError(c, err)
		return
	}

	s.audit(c, "domain.quota.update", "domain", id.String(), map[string]any{
		"quota_bytes": req.QuotaBytes,
	})

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) DeleteDomain(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if err := s.provisioningSvc.DeleteDomain(c.Request.Context(), id); err != nil {
		AbortWithError(c, err)
		return
	}

	s.audit(c, "domain.delete", "domain", id.String(), nil)

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) RetryDomain(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	ctx := c.Request.Context()
	// One external attempt per domain at a time; a redis outage fails
	// open like the other limiter paths.
	lease, held, lockErr := s.paymentLimiter.LockDomainRetry(ctx, id.String())
	if lockErr == nil && !held {
		AbortWithError(c, ErrRateLimited)
		return
	}
	defer lease.Release(ctx)

	if err := s.provisioningSvc.RetryDomain(ctx, id); err != nil {
		AbortWithError(c, err)
		return
	}

	s.audit(c, "domain.provision.retry", "domain", id.String(), nil)

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) ListDomainUsers(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	users, err := s.ledgerSvc.ListUsersByDomain(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": users})
}
