package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	assetdomain "github.com/smallbiznis/creditledger/internal/asset/domain"
	auditdomain "github.com/smallbiznis/creditledger/internal/audit/domain"
	"github.com/smallbiznis/creditledger/internal/creditrule"
	gainsharedomain "github.com/smallbiznis/creditledger/internal/gainshare/domain"
	invoicedomain "github.com/smallbiznis/creditledger/internal/invoice/domain"
	plandomain "github.com/smallbiznis/creditledger/internal/plan/domain"
	processordomain "github.com/smallbiznis/creditledger/internal/processor/domain"
	subscriptiondomain "github.com/smallbiznis/creditledger/internal/subscription/domain"
	usagedomain "github.com/smallbiznis/creditledger/internal/usage/domain"
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
	ErrConflict           = errors.New("conflict")
	ErrInternal           = errors.New("internal_error")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrRateLimited        = errors.New("rate_limited")
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

	if isValidationError(err) {
		code := validationErrorCode(err)
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
			Message: notFoundMessage(err),
		}
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "rate_limited",
			Message: "too many requests",
		}
	case errors.Is(err, ErrServiceUnavailable),
		errors.Is(err, processordomain.ErrProcessorDisabled):
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

// classifyErrorForLog returns the (type, code) pair the request logger
// attaches to failed requests.
func classifyErrorForLog(err error) (string, string) {
	status, payload := mapError(err)
	code := payload.Type
	if len(payload.Errors) > 0 {
		code = payload.Errors[0].Code
	} else if status != http.StatusInternalServerError {
		code = err.Error()
	}
	return payload.Type, code
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
	case errors.Is(err, ErrInvalidRequest):
		return true
	case errors.Is(err, creditrule.ErrUnknownEventType),
		errors.Is(err, creditrule.ErrInvalidUnits):
		return true
	case isUsageValidationError(err),
		isSubscriptionValidationError(err),
		isPlanValidationError(err),
		isAssetValidationError(err),
		isInvoiceValidationError(err),
		isGainShareValidationError(err),
		isAuditValidationError(err),
		isWebhookValidationError(err):
		return true
	default:
		return false
	}
}

func isUsageValidationError(err error) bool {
	switch {
	case errors.Is(err, usagedomain.ErrInvalidTenant),
		errors.Is(err, usagedomain.ErrInvalidSubscription),
		errors.Is(err, usagedomain.ErrInvalidEventType),
		errors.Is(err, usagedomain.ErrInvalidPeriod),
		errors.Is(err, usagedomain.ErrInvalidPageToken),
		errors.Is(err, usagedomain.ErrInvalidIdempotencyKey):
		return true
	default:
		return false
	}
}

func isSubscriptionValidationError(err error) bool {
	switch {
	case errors.Is(err, subscriptiondomain.ErrInvalidSubscription),
		errors.Is(err, subscriptiondomain.ErrInvalidTenant),
		errors.Is(err, subscriptiondomain.ErrInvalidStartDate):
		return true
	default:
		return false
	}
}

func isPlanValidationError(err error) bool {
	return errors.Is(err, plandomain.ErrInvalidPlanCode) ||
		errors.Is(err, plandomain.ErrInvalidPlanID)
}

func isAssetValidationError(err error) bool {
	return errors.Is(err, assetdomain.ErrInvalidTenant) ||
		errors.Is(err, assetdomain.ErrInvalidAssetCount)
}

func isInvoiceValidationError(err error) bool {
	switch {
	case errors.Is(err, invoicedomain.ErrInvalidInvoiceID),
		errors.Is(err, invoicedomain.ErrInvalidSubscription),
		errors.Is(err, invoicedomain.ErrInvalidPageToken):
		return true
	default:
		return false
	}
}

func isGainShareValidationError(err error) bool {
	switch {
	case errors.Is(err, gainsharedomain.ErrInvalidTenant),
		errors.Is(err, gainsharedomain.ErrInvalidMetric),
		errors.Is(err, gainsharedomain.ErrInvalidBaseline),
		errors.Is(err, gainsharedomain.ErrInvalidPeriod),
		errors.Is(err, gainsharedomain.ErrInvalidSharePct),
		errors.Is(err, gainsharedomain.ErrInvalidRunID),
		errors.Is(err, gainsharedomain.ErrInvalidActor),
		errors.Is(err, gainsharedomain.ErrInvalidPageToken):
		return true
	default:
		return false
	}
}

func isAuditValidationError(err error) bool {
	return errors.Is(err, auditdomain.ErrInvalidPageToken) ||
		errors.Is(err, auditdomain.ErrInvalidAction)
}

func isWebhookValidationError(err error) bool {
	return errors.Is(err, processordomain.ErrInvalidSignature) ||
		errors.Is(err, processordomain.ErrInvalidPayload)
}

func isConflictError(err error) bool {
	switch {
	case errors.Is(err, ErrConflict),
		errors.Is(err, subscriptiondomain.ErrSubscriptionExists),
		errors.Is(err, subscriptiondomain.ErrSubscriptionInactive),
		errors.Is(err, subscriptiondomain.ErrInvalidStatusTransition),
		errors.Is(err, usagedomain.ErrIdempotencyKeyReused),
		errors.Is(err, invoicedomain.ErrPeriodNotEnded),
		errors.Is(err, invoicedomain.ErrGenerationInFlight),
		errors.Is(err, gainsharedomain.ErrBaselineExists),
		errors.Is(err, gainsharedomain.ErrInvalidStatusTransition):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, subscriptiondomain.ErrSubscriptionNotFound),
		errors.Is(err, subscriptiondomain.ErrLimitsNotFound),
		errors.Is(err, plandomain.ErrPlanNotFound),
		errors.Is(err, invoicedomain.ErrInvoiceNotFound),
		errors.Is(err, gainsharedomain.ErrRunNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func conflictMessage(err error) string {
	switch {
	case errors.Is(err, subscriptiondomain.ErrSubscriptionExists):
		return "tenant already has an active subscription"
	case errors.Is(err, subscriptiondomain.ErrSubscriptionInactive):
		return "subscription is not active"
	case errors.Is(err, usagedomain.ErrIdempotencyKeyReused):
		return "idempotency key was used for another subscription"
	case errors.Is(err, invoicedomain.ErrPeriodNotEnded):
		return "billing period has not ended"
	case errors.Is(err, invoicedomain.ErrGenerationInFlight):
		return "invoice generation already in progress"
	case errors.Is(err, gainsharedomain.ErrBaselineExists):
		return "baseline already starts at this time"
	case errors.Is(err, subscriptiondomain.ErrInvalidStatusTransition),
		errors.Is(err, gainsharedomain.ErrInvalidStatusTransition):
		return "invalid status transition"
	default:
		return "conflict"
	}
}

func notFoundMessage(err error) string {
	switch {
	case errors.Is(err, subscriptiondomain.ErrSubscriptionNotFound),
		errors.Is(err, subscriptiondomain.ErrLimitsNotFound):
		return "subscription not found"
	case errors.Is(err, plandomain.ErrPlanNotFound):
		return "plan not found"
	case errors.Is(err, invoicedomain.ErrInvoiceNotFound):
		return "invoice not found"
	case errors.Is(err, gainsharedomain.ErrRunNotFound):
		return "gain-share run not found"
	default:
		return "not found"
	}
}

func validationErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	default:
		return err.Error()
	}
}

func validationErrorField(code string) string {
	switch code {
	case "invalid_request":
		return "request"
	case "unknown_event_type":
		return "event_type"
	case "invalid_signature":
		return "Stripe-Signature"
	}
	if strings.HasPrefix(code, "invalid_") {
		return strings.TrimPrefix(code, "invalid_")
	}
	return ""
}

func validationErrorMessage(code string) string {
	switch code {
	case "invalid_request":
		return "invalid request"
	case "unknown_event_type":
		return "no credit rule for event type"
	case "invalid_share_pct":
		return "share_pct is outside the allowed range"
	default:
		return "invalid value"
	}
}
