package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) VerifyDomainDNS(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	result, err := s.verificationSvc.Verify(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if result.Activated {
		s.audit(c, "domain.activate", "domain", id.String(), map[string]any{
			"domain": result.Domain,
		})
	}

	c.JSON(http.StatusOK, gin.H{"data": result})
}

func (s *Server) GetExpectedDNSRecords(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	records, err := s.verificationSvc.ExpectedRecords(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": records})
}
