package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	analyticsdomain "github.com/smallbiznis/payrouter/internal/analytics/domain"
	"github.com/smallbiznis/payrouter/internal/condition"
	deliverydomain "github.com/smallbiznis/payrouter/internal/delivery/domain"
	providerdomain "github.com/smallbiznis/payrouter/internal/provider/domain"
	routingdomain "github.com/smallbiznis/payrouter/internal/routing/domain"
	"github.com/smallbiznis/payrouter/pkg/db"
	"github.com/smallbiznis/payrouter/pkg/db/pagination"
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
	ErrConflict           = errors.New("conflict")
	ErrInternal           = errors.New("internal_error")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrServiceUnavailable = errors.New("service_unavailable")
	ErrRateLimited        = errors.New("rate_limited")
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
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
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

	if code, ok := validationErrorCode(err); ok {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: validationErrorMessage(code),
				},
			},
		}
	}

	switch {
	case isConflictError(err):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: conflictMessage(err),
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
	case errors.Is(err, ErrServiceUnavailable),
		errors.Is(err, db.ErrStoreUnavailable):
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

// classifyErrorForLog yields the error type and a stable code for request
// logs without leaking driver messages.
func classifyErrorForLog(err error) (string, string) {
	_, payload := mapError(err)
	if len(payload.Errors) > 0 {
		return payload.Type, payload.Errors[0].Code
	}
	return payload.Type, payload.Type
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

var validationSentinels = []error{
	ErrInvalidRequest,
	pagination.ErrInvalidPageToken,

	providerdomain.ErrInvalidID,
	providerdomain.ErrInvalidName,
	providerdomain.ErrInvalidPriority,
	providerdomain.ErrInvalidCode,
	providerdomain.ErrInvalidHealth,
	providerdomain.ErrInvalidUpdate,

	routingdomain.ErrInvalidID,
	routingdomain.ErrInvalidName,
	routingdomain.ErrInvalidWeight,
	routingdomain.ErrInvalidCondition,
	routingdomain.ErrInvalidProvider,
	routingdomain.ErrInvalidUpdate,

	condition.ErrUnknownField,
	condition.ErrUnknownOperator,
	condition.ErrListRequired,
	condition.ErrNumberRequired,
	condition.ErrInvalidPattern,
	condition.ErrMissingLiteral,

	deliverydomain.ErrInvalidID,
	deliverydomain.ErrInvalidConfig,
	deliverydomain.ErrInvalidURL,
	deliverydomain.ErrInvalidType,
	deliverydomain.ErrInvalidMaxRetries,
	deliverydomain.ErrInvalidUpdate,

	analyticsdomain.ErrInvalidConfig,
	analyticsdomain.ErrInvalidTransaction,
	analyticsdomain.ErrInvalidProvider,
	analyticsdomain.ErrInvalidAmount,
	analyticsdomain.ErrInvalidCurrency,
	analyticsdomain.ErrInvalidStatus,
	analyticsdomain.ErrInvalidResponseTime,
	analyticsdomain.ErrInvalidPeriod,
	analyticsdomain.ErrInvalidRange,
	analyticsdomain.ErrInvalidRetention,
}

// validationErrorCode returns the code of the first validation sentinel in
// the chain. Rule errors that join a condition error report the rule code.
func validationErrorCode(err error) (string, bool) {
	for _, sentinel := range validationSentinels {
		if errors.Is(err, sentinel) {
			return sentinel.Error(), true
		}
	}
	return "", false
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, providerdomain.ErrNotFound),
		errors.Is(err, routingdomain.ErrNotFound),
		errors.Is(err, deliverydomain.ErrNotFound):
		return true
	default:
		return false
	}
}

// Signing needs state the server does not have yet; the request itself is
// well formed, so these report as conflicts.
func isConflictError(err error) bool {
	switch {
	case errors.Is(err, ErrConflict),
		errors.Is(err, providerdomain.ErrDuplicateName),
		errors.Is(err, deliverydomain.ErrSecretMissing),
		errors.Is(err, deliverydomain.ErrEncryptionKeyMissing):
		return true
	default:
		return false
	}
}

func conflictMessage(err error) string {
	switch {
	case errors.Is(err, providerdomain.ErrDuplicateName):
		return "provider name already exists"
	case errors.Is(err, deliverydomain.ErrSecretMissing):
		return "webhook has no signing secret"
	case errors.Is(err, deliverydomain.ErrEncryptionKeyMissing):
		return "webhook secret encryption is not configured"
	default:
		return "conflict"
	}
}

func validationErrorField(code string) string {
	switch {
	case code == "invalid_request":
		return "request"
	case strings.HasPrefix(code, "condition_"), strings.HasSuffix(code, "_condition_field"),
		strings.HasSuffix(code, "_condition_operator"):
		return "conditions"
	case strings.HasPrefix(code, "invalid_"):
		return strings.TrimPrefix(code, "invalid_")
	default:
		return ""
	}
}

func validationErrorMessage(code string) string {
	switch code {
	case "invalid_request":
		return "invalid request"
	default:
		return "invalid value"
	}
}
