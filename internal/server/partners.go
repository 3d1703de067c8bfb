package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	billingdomain "github.com/nubomail/nubo/internal/billing/domain"
	ledgerdomain "github.com/nubomail/nubo/internal/ledger/domain"
)

type createPartnerRequest struct {
	Name                  string `json:"name"`
	TierDiscountBP        int64  `json:"tier_discount_bp"`
	AllocatedStorageBytes int64  `json:"allocated_storage_bytes"`
}

func (s *Server) CreatePartner(c *gin.Context) {
	var req createPartnerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	partner, err := s.ledgerSvc.CreatePartner(c.Request.Context(), ledgerdomain.CreatePartnerInput{
		Name:                  strings.TrimSpace(req.Name),
		TierDiscountBP:        req.TierDiscountBP,
		AllocatedStorageBytes: req.AllocatedStorageBytes,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.audit(c, "partner.create", "partner", partner.ID.String(), map[string]any{
		"name":                    partner.Name,
		"allocated_storage_bytes": partner.AllocatedStorageBytes,
	})

	c.JSON(http.StatusOK, gin.H{"data": partner})
}

func (s *Server) GetPartner(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	partner, err := s.ledgerSvc.GetPartner(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": partner})
}

type growPoolRequest struct {
	DeltaBytes int64 `json:"delta_bytes"`
}

func (s *Server) GrowPartnerPool(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req growPoolRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	if err := s.ledgerSvc.GrowPartnerPool(c.Request.Context(), id, req.DeltaBytes); err != nil {
		AbortWithError(c, err)
		return
	}

	s.audit(c, "partner.pool.grow", "partner", id.String(), map[string]any{
		"delta_bytes": req.DeltaBytes,
	})

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) DeletePartner(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if err := s.ledgerSvc.DeletePartner(c.Request.Context(), id); err != nil {
		AbortWithError(c, err)
		return
	}

	s.audit(c, "partner.delete", "partner", id.String(), nil)

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) ListPartnerOrganizations(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	orgs, err := s.ledgerSvc.ListOrganizationsByPartner(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": orgs})
}

type createStorageOrderRequest struct {
	StorageBytes int64 `json:"storage_bytes"`
}

func (s *Server) CreatePartnerStorageOrder(c *gin.Context) {
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

	session, err := s.billingSvc.CreateStorageOrder(c.Request.Context(), billingdomain.CreateStorageOrderInput{
		PartnerID:    id,
		StorageBytes: req.StorageBytes,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": session})
}

func (s *Server) ListPartnerInvoices(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	invoices, err := s.billingSvc.ListInvoicesByPartner(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": invoices})
}

func pathID(c *gin.Context, name string) (snowflake.ID, error) {
	raw := strings.TrimSpace(c.Param(name))
	id, err := snowflake.ParseString(raw)
	if err != nil || id == 0 {
		return 0, newValidationError(name, "invalid_id", "invalid identifier")
	}
	return id, nil
}

func (s *Server) audit(c *gin.Context, action, targetType, targetID string, metadata map[string]any) {
	if s.auditSvc == nil {
		return
	}
	_ = s.auditSvc.Record(c.Request.Context(), "api", s.actorFromContext(c), action, targetType, targetID, metadata)
}
