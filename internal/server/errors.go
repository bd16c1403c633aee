package server

import (
	"errors"
	"net/http"
	"strings"

	auditdomain "github.com/airgate-io/airgate/internal/audit/domain"
	labeldomain "github.com/airgate-io/airgate/internal/label/domain"
	rollupdomain "github.com/airgate-io/airgate/internal/rollup/domain"
	simdomain "github.com/airgate-io/airgate/internal/sim/domain"
	usagedomain "github.com/airgate-io/airgate/internal/usage/domain"
	webhookdomain "github.com/airgate-io/airgate/internal/webhook/domain"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrOrgRequired        = errors.New("organization_required")
	ErrRateLimited        = errors.New("rate_limited")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrNotFound           = errors.New("not_found")
	ErrServiceUnavailable = errors.New("service_unavailable")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{Field: field, Code: code, Message: message},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	if isValidationError(err) {
		code := validationErrorCode(err)
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: "invalid value",
				},
			},
		}
	}

	switch {
	case errors.Is(err, ErrOrgRequired),
		errors.Is(err, simdomain.ErrInvalidOrganization),
		errors.Is(err, usagedomain.ErrInvalidOrganization),
		errors.Is(err, rollupdomain.ErrInvalidOrganization),
		errors.Is(err, webhookdomain.ErrInvalidOrganization),
		errors.Is(err, labeldomain.ErrInvalidOrganization),
		errors.Is(err, auditdomain.ErrInvalidOrganization):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "organization context required",
		}
	case errors.Is(err, simdomain.ErrInvalidTransition):
		return http.StatusConflict, errorPayload{
			Type:    "invalid_transition",
			Message: "lifecycle transition not allowed from current state",
		}
	case errors.Is(err, simdomain.ErrSimNotBlocked):
		return http.StatusConflict, errorPayload{
			Type:    "invalid_transition",
			Message: "sim is not blocked",
		}
	case errors.Is(err, simdomain.ErrDuplicateICCID):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: "iccid already registered",
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "rate_limited",
			Message: "too many requests",
		}
	case errors.Is(err, ErrServiceUnavailable):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "service unavailable",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, simdomain.ErrInvalidICCID),
		errors.Is(err, simdomain.ErrInvalidSim),
		errors.Is(err, simdomain.ErrInvalidTargetState),
		errors.Is(err, simdomain.ErrInvalidPageToken),
		errors.Is(err, usagedomain.ErrInvalidICCID),
		errors.Is(err, usagedomain.ErrInvalidUsageType),
		errors.Is(err, usagedomain.ErrInvalidQuantity),
		errors.Is(err, usagedomain.ErrInvalidOccurredAt),
		errors.Is(err, usagedomain.ErrInvalidRecordID),
		errors.Is(err, usagedomain.ErrInvalidSim),
		errors.Is(err, usagedomain.ErrInvalidPageToken),
		errors.Is(err, usagedomain.ErrEmptyBatch),
		errors.Is(err, usagedomain.ErrBatchTooLarge),
		errors.Is(err, rollupdomain.ErrInvalidSim),
		errors.Is(err, rollupdomain.ErrInvalidGranularity),
		errors.Is(err, rollupdomain.ErrInvalidTimeRange),
		errors.Is(err, webhookdomain.ErrInvalidURL),
		errors.Is(err, webhookdomain.ErrInvalidEventType),
		errors.Is(err, webhookdomain.ErrInvalidSubscriber),
		errors.Is(err, webhookdomain.ErrInvalidStatus),
		errors.Is(err, labeldomain.ErrInvalidSim),
		errors.Is(err, labeldomain.ErrInvalidLabelKey),
		errors.Is(err, auditdomain.ErrInvalidPageToken),
		errors.Is(err, auditdomain.ErrInvalidTimeRange),
		errors.Is(err, auditdomain.ErrInvalidAction):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, simdomain.ErrSimNotFound),
		errors.Is(err, usagedomain.ErrCycleNotFound),
		errors.Is(err, webhookdomain.ErrSubscriberNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func validationErrorCode(err error) string {
	if errors.Is(err, ErrInvalidRequest) {
		return "invalid_request"
	}
	return err.Error()
}

func validationErrorField(code string) string {
	if code == "invalid_request" {
		return "request"
	}
	if strings.HasPrefix(code, "invalid_") {
		return strings.TrimPrefix(code, "invalid_")
	}
	return ""
}

// classifyErrorForLog buckets an error for request logging.
func classifyErrorForLog(err error) (string, string) {
	status, payload := mapError(err)
	switch {
	case status >= 500:
		return "server_error", payload.Type
	case status >= 400:
		return "client_error", payload.Type
	default:
		return "", ""
	}
}
