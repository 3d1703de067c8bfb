package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	provisioningdomain "github.com/nubomail/nubo/internal/provisioning/domain"
)

type createUserRequest struct {
	OrganizationID      string `json:"organization_id"`
	DomainID            string `json:"domain_id"`
	LocalPart           string `json:"local_part"`
	DisplayName         string `json:"display_name"`
	MailboxStorageBytes int64  `json:"mailbox_storage_bytes"`
	DriveStorageBytes   int64  `json:"drive_storage_bytes"`
	Password            string `json:"password"`
}

func (s *Server) CreateUser(c *gin.Context) {
	var req createUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	orgID, err := parseID(req.OrganizationID, "organization_id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	domainID, err := parseID(req.DomainID, "domain_id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	user, err := s.provisioningSvc.CreateUser(c.Request.Context(), provisioningdomain.CreateUserInput{
		OrganizationID:      orgID,
		DomainID:            domainID,
		LocalPart:           strings.TrimSpace(req.LocalPart),
		DisplayName:         strings.TrimSpace(req.DisplayName),
		MailboxStorageBytes: req.MailboxStorageBytes,
		DriveStorageBytes:   req.DriveStorageBytes,
		Password:            req.Password,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.audit(c, "user.create", "user", user.ID.String(), map[string]any{
		"email":                 user.Email,
		"mailbox_storage_bytes": user.MailboxStorageBytes,
		"drive_storage_bytes":   user.DriveStorageBytes,
	})

	c.JSON(http.StatusOK, gin.H{"data": user})
}

func (s *Server) GetUser(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	user, err := s.ledgerSvc.GetUser(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": user})
}

type updateUserQuotaRequest struct {
	MailboxStorageBytes int64 `json:"mailbox_storage_bytes"`
}

func (s *Server) UpdateUserQuota(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req updateUserQuotaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	if err := s.provisioningSvc.UpdateUserQuota(c.Request.Context(), id, req.MailboxStorageBytes); err != nil {
		AbortWithError(c, err)
		return
	}

	s.audit(c, "user.quota.update", "user", id.String(), map[string]any{
		"mailbox_storage_bytes": req.MailboxStorageBytes,
	})

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) DeleteUser(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if err := s.provisioningSvc.DeleteUser(c.Request.Context(), id); err != nil {
		AbortWithError(c, err)
		return
	}

	s.audit(c, "user.delete", "user", id.String(), nil)

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func parseID(raw, field string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(raw))
	if err != nil || id == 0 {
		return 0, newValidationError(field, "invalid_"+field, "invalid "+field)
	}
	return id, nil
}
