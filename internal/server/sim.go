package server

import (
	"net/http"
	"strings"

	simdomain "github.com/airgate-io/airgate/internal/sim/domain"
	"github.com/gin-gonic/gin"
)

func (s *Server) CreateSim(c *gin.Context) {
	var req simdomain.CreateSimRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	created, err := s.simSvc.Create(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, created)
}

func (s *Server) GetSim(c *gin.Context) {
	found, err := s.simSvc.GetByID(c.Request.Context(), c.Param("sim_id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, found)
}

func (s *Server) ListSims(c *gin.Context) {
	// An iccid filter is a point lookup, not a scan.
	if iccid := strings.TrimSpace(c.Query("iccid")); iccid != "" {
		found, err := s.simSvc.GetByICCID(c.Request.Context(), iccid)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, simdomain.ListSimResponse{Sims: []simdomain.Sim{found}})
		return
	}

	var req simdomain.ListSimRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.State = c.Query("state")
	req.LabelKey = c.Query("label_key")
	req.LabelVal = c.Query("label_value")

	resp, err := s.simSvc.List(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

type transitionBody struct {
	Reason        string `json:"reason,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

func (s *Server) transitionHandler(target simdomain.SimState) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body transitionBody
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&body); err != nil {
				AbortWithError(c, invalidRequestError())
				return
			}
		}

		updated, err := s.simSvc.Transition(c.Request.Context(), simdomain.TransitionRequest{
			SimID:         c.Param("sim_id"),
			Target:        target,
			Reason:        strings.TrimSpace(body.Reason),
			CorrelationID: strings.TrimSpace(body.CorrelationID),
		})
		if err != nil {
			AbortWithError(c, err)
			return
		}

		c.JSON(http.StatusOK, updated)
	}
}

func (s *Server) UnblockSim(c *gin.Context) {
	var body transitionBody
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
	}

	updated, err := s.simSvc.Unblock(c.Request.Context(), c.Param("sim_id"), strings.TrimSpace(body.Reason), strings.TrimSpace(body.CorrelationID))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, updated)
}

func (s *Server) ListSimLabels(c *gin.Context) {
	labels, err := s.labelSvc.List(c.Request.Context(), c.Param("sim_id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"labels": labels})
}

func (s *Server) SetSimLabels(c *gin.Context) {
	var body map[string]string
	if err := c.ShouldBindJSON(&body); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	labels, err := s.labelSvc.Set(c.Request.Context(), c.Param("sim_id"), body)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"labels": labels})
}

func (s *Server) DeleteSimLabel(c *gin.Context) {
	if err := s.labelSvc.Delete(c.Request.Context(), c.Param("sim_id"), c.Param("key")); err != nil {
		AbortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}
