package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	apikeydomain "github.com/nubomail/nubo/internal/apikey/domain"
)

type createAPIKeyRequest struct {
	Name  string `json:"name"`
	Actor string `json:"actor"`
}

func (s *Server) CreateAPIKey(c *gin.Context) {
	var req createAPIKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.apiKeySvc.Create(c.Request.Context(), apikeydomain.CreateRequest{
		Name:  strings.TrimSpace(req.Name),
		Actor: strings.TrimSpace(req.Actor),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.audit(c, "api_key.create", "api_key", resp.KeyID, map[string]any{
		"name":  req.Name,
		"actor": req.Actor,
	})

	// The plaintext key appears in this response only.
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListAPIKeys(c *gin.Context) {
	keys, err := s.apiKeySvc.List(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": keys})
}

func (s *Server) RevokeAPIKey(c *gin.Context) {
	keyID := strings.TrimSpace(c.Param("key_id"))
	if keyID == "" {
		AbortWithError(c, newValidationError("key_id", "invalid_key_id", "invalid key_id"))
		return
	}

	if err := s.apiKeySvc.Revoke(c.Request.Context(), keyID); err != nil {
		AbortWithError(c, err)
		return
	}

	s.audit(c, "api_key.revoke", "api_key", keyID, nil)

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
