package server

import (
	"net/http"

	auditdomain "github.com/airgate-io/airgate/internal/audit/domain"
	"github.com/gin-gonic/gin"
)

func (s *Server) ListAuditLogs(c *gin.Context) {
	var req auditdomain.ListAuditLogRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.Action = c.Query("action")
	req.TargetType = c.Query("target_type")
	req.TargetID = c.Query("target_id")
	req.ActorType = c.Query("actor_type")

	if start, err := parseTimeParam(c.Query("start_at")); err != nil {
		AbortWithError(c, newValidationError("start_at", "invalid_time", "expected RFC3339 timestamp"))
		return
	} else if !start.IsZero() {
		req.StartAt = &start
	}
	if end, err := parseTimeParam(c.Query("end_at")); err != nil {
		AbortWithError(c, newValidationError("end_at", "invalid_time", "expected RFC3339 timestamp"))
		return
	} else if !end.IsZero() {
		req.EndAt = &end
	}

	resp, err := s.auditSvc.List(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}
