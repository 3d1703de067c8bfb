package server

import (
	"net"

	"github.com/gin-gonic/gin"
)

// WebhookRateLimit throttles gateway webhook deliveries per remote host.
// A redis failure fails open so a limiter outage cannot drop payments.
func (s *Server) WebhookRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.paymentLimiter.Enabled() {
			c.Next()
			return
		}
		allowed, err := s.paymentLimiter.AllowWebhook(c.Request.Context(), remoteHost(c))
		if err != nil {
			c.Next()
			return
		}
		if !allowed {
			AbortWithError(c, ErrRateLimited)
			return
		}
		c.Next()
	}
}

// VerifyRateLimit throttles checkout verification and DNS verification
// attempts per authenticated actor.
func (s *Server) VerifyRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.paymentLimiter.Enabled() {
			c.Next()
			return
		}
		key := s.actorFromContext(c)
		if key == "" {
			key = remoteHost(c)
		}
		allowed, err := s.paymentLimiter.AllowVerify(c.Request.Context(), key)
		if err != nil {
			c.Next()
			return
		}
		if !allowed {
			AbortWithError(c, ErrRateLimited)
			return
		}
		c.Next()
	}
}

func remoteHost(c *gin.Context) string {
	host, _, err := net.SplitHostPort(c.Request.RemoteAddr)
	if err != nil {
		return c.Request.RemoteAddr
	}
	return host
}
