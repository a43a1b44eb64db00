package server

import (
	"strings"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/mapato/taxcore/internal/audit/domain"
	obscontext "github.com/mapato/taxcore/internal/observability/context"
)

const (
	headerUserID     = "X-User-ID"
	headerTaxpayerID = "X-Taxpayer-ID"
)

// ActorMiddleware lifts caller identity headers into the request context
// so downstream audit entries can attribute the action.
func ActorMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		if userID := strings.TrimSpace(c.GetHeader(headerUserID)); userID != "" {
			ctx = obscontext.WithActor(ctx, auditdomain.ActorTypeUser, userID)
		}
		if taxpayerID := strings.TrimSpace(c.GetHeader(headerTaxpayerID)); taxpayerID != "" {
			ctx = obscontext.WithTaxpayerID(ctx, taxpayerID)
		}

		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
