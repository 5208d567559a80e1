package api

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

const (
	ctxUserID = "userID"
	ctxPhone  = "phone"
)

// requestLogger logs one line per request through logrus
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.WithFields(log.Fields{
			"method":   c.Request.Method,
			"path":     c.FullPath(),
			"status":   c.Writer.Status(),
			"duration": time.Since(start).Round(time.Microsecond),
			"client":   c.ClientIP(),
		}).Debug("[HTTP] request")
	}
}

// authMiddleware reads a bearer token. With required set, a missing token is
// rejected; a present but invalid token is always rejected.
func (h *Handlers) authMiddleware(required bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))

		if h.jwt == nil {
			if required {
				c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "accounts are not enabled"})
				return
			}
			c.Next()
			return
		}

		if token == "" {
			if required {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
				return
			}
			c.Next()
			return
		}

		claims, err := h.jwt.ValidateToken(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set(ctxUserID, claims.UserID)
		c.Set(ctxPhone, claims.Phone)
		c.Next()
	}
}

// adminMiddleware guards admin routes with the X-Admin-Token header
func adminMiddleware(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "admin API is disabled"})
			return
		}
		given := c.GetHeader("X-Admin-Token")
		if subtle.ConstantTimeCompare([]byte(given), []byte(token)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid admin token"})
			return
		}
		c.Next()
	}
}

// userID returns the authenticated user, or 0 for anonymous requests
func userID(c *gin.Context) int64 {
	return c.GetInt64(ctxUserID)
}
