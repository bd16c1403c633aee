package server

import (
	"net/http"
	"strings"

	usagedomain "github.com/airgate-io/airgate/internal/usage/domain"
	"github.com/gin-gonic/gin"
)

func (s *Server) SubmitUsageRecord(c *gin.Context) {
	var req usagedomain.SubmitRecordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.usageSvc.SubmitRecord(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	// Replays return the stored record instead of failing, so callers
	// can retry blindly.
	status := http.StatusCreated
	if resp.Duplicate {
		status = http.StatusOK
	}
	c.JSON(status, resp)
}

func (s *Server) SubmitUsageBatch(c *gin.Context) {
	var req usagedomain.SubmitBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.usageSvc.SubmitBatch(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	// Batches are acknowledged, not committed as a unit; per-item
	// failures ride in the body.
	c.JSON(http.StatusAccepted, resp)
}

func (s *Server) GetUsageCycle(c *gin.Context) {
	cycleID := c.Param("cycle_id")
	if strings.EqualFold(cycleID, "current") {
		cycleID = ""
	}

	cycle, err := s.usageSvc.GetCycle(c.Request.Context(), usagedomain.GetCycleRequest{
		SimID:   c.Param("sim_id"),
		CycleID: cycleID,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, cycle)
}

func (s *Server) ListUsageRecords(c *gin.Context) {
	var req usagedomain.ListRecordRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.SimID = c.Query("sim_id")
	req.CycleID = c.Query("cycle_id")
	if raw := strings.TrimSpace(c.Query("matched")); raw != "" {
		matched := strings.EqualFold(raw, "true")
		req.Matched = &matched
	}

	resp, err := s.usageSvc.ListRecords(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}
