package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"resonance-chat/internal/telemetry"
)

// OnlineLister reports the users bound to a live connection.
type OnlineLister interface {
	Online() []string
}

// RegisterDebugRoutes wires debug-only endpoints.
func RegisterDebugRoutes(router gin.IRoutes, emitter *telemetry.AuditEmitter, online OnlineLister, enabled bool) {
	if !enabled {
		return
	}

	router.GET("/debug/audit-test", func(c *gin.Context) {
		if emitter == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit emitter not configured"})
			return
		}
		emitter.Emit(c.Request.Context(), "INFO", "audit test", requestIDFromContext(c), userIDFromContext(c))
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.GET("/debug/registry", func(c *gin.Context) {
		users := online.Online()
		c.JSON(http.StatusOK, gin.H{"online": users, "count": len(users)})
	})
}
