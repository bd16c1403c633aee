package server

import (
	"net/http"
	"strconv"

	webhookdomain "github.com/airgate-io/airgate/internal/webhook/domain"
	"github.com/gin-gonic/gin"
)

func (s *Server) CreateWebhookSubscriber(c *gin.Context) {
	var req webhookdomain.CreateSubscriberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	sub, err := s.registry.CreateSubscriber(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	// The secret is returned exactly once, on creation.
	c.JSON(http.StatusCreated, gin.H{"subscriber": sub, "secret": sub.Secret})
}

func (s *Server) GetWebhookSubscriber(c *gin.Context) {
	sub, err := s.registry.GetSubscriber(c.Request.Context(), c.Param("subscriber_id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, sub)
}

func (s *Server) ListWebhookSubscribers(c *gin.Context) {
	subs, err := s.registry.ListSubscribers(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"subscribers": subs})
}

func (s *Server) UpdateWebhookSubscriber(c *gin.Context) {
	var req webhookdomain.UpdateSubscriberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.SubscriberID = c.Param("subscriber_id")

	sub, err := s.registry.UpdateSubscriber(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, sub)
}

func (s *Server) DeleteWebhookSubscriber(c *gin.Context) {
	if err := s.registry.DeleteSubscriber(c.Request.Context(), c.Param("subscriber_id")); err != nil {
		AbortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (s *Server) ListWebhookDeliveries(c *gin.Context) {
	req := webhookdomain.ListDeliveryRequest{
		Status: c.Query("status"),
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			AbortWithError(c, newValidationError("limit", "invalid_limit", "expected integer"))
			return
		}
		req.Limit = limit
	}

	resp, err := s.registry.ListDeliveries(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}
