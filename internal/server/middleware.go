package server

import (
	"strconv"
	"strings"

	auditdomain "github.com/airgate-io/airgate/internal/audit/domain"
	"github.com/airgate-io/airgate/internal/observability/logger"
	"github.com/airgate-io/airgate/internal/tenantctx"
	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	headerOrgID     = "X-Org-ID"
	headerActorType = "X-Actor-Type"
	headerActorID   = "X-Actor-ID"
)

// TenantContext resolves the calling organization from the X-Org-ID
// header and stores it on the request context. Every /api/v1 route
// requires it.
func (s *Server) TenantContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader(headerOrgID))
		if raw == "" {
			AbortWithError(c, ErrOrgRequired)
			return
		}
		orgID, err := snowflake.ParseString(raw)
		if err != nil || orgID == 0 {
			AbortWithError(c, ErrOrgRequired)
			return
		}

		ctx := tenantctx.WithOrgID(c.Request.Context(), int64(orgID))

		actorType := strings.TrimSpace(c.GetHeader(headerActorType))
		actorID := strings.TrimSpace(c.GetHeader(headerActorID))
		if actorType == "" {
			actorType = string(auditdomain.ActorTypeAPIKey)
		}
		ctx = tenantctx.WithActor(ctx, actorType, actorID)

		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// IngestRateLimit applies the per-organization token bucket to the
// usage ingest endpoints. The limiter fails open when redis is down.
func (s *Server) IngestRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.limiter.Enabled() {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		orgID, ok := tenantctx.OrgIDFromContext(ctx)
		if !ok || orgID == 0 {
			AbortWithError(c, ErrOrgRequired)
			return
		}

		endpoint := c.FullPath()
		result, err := s.limiter.AllowOrg(ctx, orgID.String())
		if err != nil {
			logger.FromContext(ctx).Warn("ingest rate limit check failed", zap.Error(err))
		}
		if !result.Allowed {
			s.metrics.RecordRateLimitDenied(ctx, orgID.String(), endpoint, "org-rate")
			if result.RetryAfter > 0 {
				seconds := int64(result.RetryAfter.Seconds())
				if seconds < 1 {
					seconds = 1
				}
				c.Header("Retry-After", strconv.FormatInt(seconds, 10))
			}
			status, payload := mapError(ErrRateLimited)
			c.AbortWithStatusJSON(status, errorResponse{Error: payload})
			return
		}

		s.metrics.RecordRateLimitAllowed(ctx, orgID.String(), endpoint)
		c.Next()
	}
}
