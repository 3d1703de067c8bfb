package server

import (
	"crypto/subtle"
	"strings"

	"github.com/gin-gonic/gin"
)

const contextActorKey = "actor"

// APIKeyRequired authenticates requests with a bearer API key. The
// configured bootstrap key maps to the system actor so a fresh install
// can mint its first real keys.
func (s *Server) APIKeyRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := strings.TrimSpace(c.GetHeader("Authorization"))
		if header == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		parts := strings.Fields(header)
		if len(parts) != 2 || parts[0] != "Bearer" || strings.TrimSpace(parts[1]) == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		token := parts[1]

		if bootstrap := s.cfg.BootstrapAPIKey; bootstrap != "" &&
			subtle.ConstantTimeCompare([]byte(token), []byte(bootstrap)) == 1 {
			c.Set(contextActorKey, "system")
			c.Next()
			return
		}

		actor, err := s.apiKeySvc.Authenticate(c.Request.Context(), token)
		if err != nil {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		c.Set(contextActorKey, actor)
		c.Next()
	}
}

func (s *Server) authorize(object string, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := s.actorFromContext(c)
		if actor == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		if err := s.authzSvc.Authorize(c.Request.Context(), actor, object, action); err != nil {
			AbortWithError(c, err)
			return
		}
		c.Next()
	}
}

func (s *Server) actorFromContext(c *gin.Context) string {
	value, ok := c.Get(contextActorKey)
	if !ok {
		return ""
	}
	actor, _ := value.(string)
	return strings.TrimSpace(actor)
}
