package server

import (
	"net/http"
	"strings"
	"time"

	rollupdomain "github.com/airgate-io/airgate/internal/rollup/domain"
	"github.com/gin-gonic/gin"
)

func (s *Server) QueryRollups(c *gin.Context) {
	req := rollupdomain.QueryRequest{
		SimID:       c.Query("sim_id"),
		Granularity: c.Query("granularity"),
		UsageType:   c.Query("usage_type"),
	}

	var err error
	if req.From, err = parseTimeParam(c.Query("from")); err != nil {
		AbortWithError(c, newValidationError("from", "invalid_time", "expected RFC3339 timestamp"))
		return
	}
	if req.To, err = parseTimeParam(c.Query("to")); err != nil {
		AbortWithError(c, newValidationError("to", "invalid_time", "expected RFC3339 timestamp"))
		return
	}

	resp, err := s.rollupSvc.Query(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// RebuildRollups truncates every bucket and replays the ledger. Heavy,
// operator-only escape hatch for bucket corruption.
func (s *Server) RebuildRollups(c *gin.Context) {
	if err := s.rollupSvc.Rebuild(c.Request.Context()); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "rebuilt"})
}

func parseTimeParam(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, raw)
}
