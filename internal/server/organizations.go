package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	billingdomain "github.com/nubomail/nubo/internal/billing/domain"
	ledgerdomain "github.com/nubomail/nubo/internal/ledger/domain"
)

type createOrganizationRequest struct {
	PartnerID         string `json:"partner_id"`
	Name              string `json:"name"`
	TotalStorageBytes int64  `json:"total_storage_bytes"`
}

func (s *Server) CreateOrganization(c *gin.Context) {
	var req createOrganizationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	var partnerID *snowflake.ID
	if raw := strings.TrimSpace(req.PartnerID); raw != "" {
		parsed, err := snowflake.ParseString(raw)
		if err != nil || parsed == 0 {
			AbortWithError(c, newValidationError("partner_id", "invalid_partner_id", "invalid partner_id"))
			return
		}
		partnerID = &parsed
	}

	org, err := s.ledgerSvc.CreateOrganization(c.Request.Context(), ledgerdomain.CreateOrganizationInput{
		PartnerID:         partnerID,
		Name:              strings.TrimSpace(req.Name),
		TotalStorageBytes: req.TotalStorageBytes,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.audit(c, "organization.create", "organization", org.ID.String(), map[string]any{
		"name":                org.Name,
		"total_storage_bytes": org.TotalStorageBytes,
	})

	c.JSON(http.StatusOK, gin.H{"data": org})
}

func (s *Server) GetOrganization(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	org, err := s.ledgerSvc.GetOrganization(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": org})
}

type resizePoolRequest struct {
	TotalStorageBytes int64 `json:"total_storage_bytes"`
}

func (s *Server) ResizeOrganization(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req resizePoolRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	if err := s.ledgerSvc.ResizeOrganization(c.Request.Context(), id, req.TotalStorageBytes); err != nil {
		AbortWithError(c, err)
		return
	}

	s.audit(c, "organization.pool.resize", "organization", id.String(), map[string]any{
		"total_storage_bytes": req.TotalStorageBytes,
	})

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) DeleteOrganization(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if err := s.ledgerSvc.DeleteOrganization(c.Request.Context(), id); err != nil {
		AbortWithError(c, err)
		return
	}

	s.audit(c, "organization.delete", "organization", id.String(), nil)

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) ListOrganizationDomains(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	domains, err := s.ledgerSvc.ListDomainsByOrganization(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": domains})
}

func (s *Server) CreateOrganizationStorageOrder(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req createStorageOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	session, err := s.billingSvc.CreateOrganizationOrder(c.Request.Context(), billingdomain.CreateOrganizationOrderInput{
		OrganizationID: id,
		StorageBytes:   req.StorageBytes,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": session})
}

func (s *Server) ListOrganizationInvoices(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	invoices, err := s.billingSvc.ListInvoicesByOrganization(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": invoices})
}
