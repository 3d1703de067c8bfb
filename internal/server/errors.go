package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	apikeydomain "github.com/nubomail/nubo/internal/apikey/domain"
	"github.com/nubomail/nubo/internal/authorization"
	billingdomain "github.com/nubomail/nubo/internal/billing/domain"
	ledgerdomain "github.com/nubomail/nubo/internal/ledger/domain"
	"github.com/nubomail/nubo/internal/mailcow"
	"github.com/nubomail/nubo/internal/providers/razorpay"
	provisioningdomain "github.com/nubomail/nubo/internal/provisioning/domain"
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
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrNotFound       = errors.New("not_found")
	ErrInvalidRequest = errors.New("invalid_request")
	ErrRateLimited    = errors.New("rate_limited")
	ErrInternal       = errors.New("internal_error")
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

	switch {
	case isValidationError(err):
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: err.Error(),
		}
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, apikeydomain.ErrInvalidKey):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case errors.Is(err, ErrForbidden),
		errors.Is(err, authorization.ErrForbidden):
		return http.StatusForbidden, errorPayload{
			Type:    "forbidden",
			Message: "forbidden",
		}
	case errors.Is(err, billingdomain.ErrPaymentNotCaptured),
		errors.Is(err, billingdomain.ErrAmountMismatch):
		return http.StatusPaymentRequired, errorPayload{
			Type:    "payment_failed",
			Message: err.Error(),
		}
	case isConflictError(err):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: err.Error(),
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "rate_limited",
			Message: "rate limited",
		}
	case isUpstreamError(err):
		return http.StatusBadGateway, errorPayload{
			Type:    "upstream_error",
			Message: err.Error(),
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
		errors.Is(err, ledgerdomain.ErrInvalidQuota),
		errors.Is(err, ledgerdomain.ErrInvalidName),
		errors.Is(err, billingdomain.ErrInvalidPurchase),
		errors.Is(err, billingdomain.ErrInvalidSignature),
		errors.Is(err, apikeydomain.ErrInvalidName),
		errors.Is(err, apikeydomain.ErrInvalidActor),
		errors.Is(err, authorization.ErrInvalidActor),
		errors.Is(err, authorization.ErrInvalidObject),
		errors.Is(err, authorization.ErrInvalidAction):
		return true
	default:
		return false
	}
}

func isConflictError(err error) bool {
	switch {
	case errors.Is(err, ledgerdomain.ErrInsufficientCapacity),
		errors.Is(err, ledgerdomain.ErrShrinkBelowUsage),
		errors.Is(err, ledgerdomain.ErrDomainExists),
		errors.Is(err, ledgerdomain.ErrUserExists),
		errors.Is(err, ledgerdomain.ErrPartnerNotEmpty),
		errors.Is(err, ledgerdomain.ErrOrgNotEmpty),
		errors.Is(err, ledgerdomain.ErrDomainNotEmpty),
		errors.Is(err, ledgerdomain.ErrPartnerInactive),
		errors.Is(err, ledgerdomain.ErrOrgSuspended),
		errors.Is(err, ledgerdomain.ErrDomainNotActive),
		errors.Is(err, ledgerdomain.ErrDomainNotRetryable),
		errors.Is(err, ledgerdomain.ErrRetailOrganization),
		errors.Is(err, ledgerdomain.ErrPartnerOrganization),
		errors.Is(err, ledgerdomain.ErrConcurrentUpdate),
		errors.Is(err, billingdomain.ErrInvoiceNotPayable),
		errors.Is(err, billingdomain.ErrReceiptUnavailable):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ledgerdomain.ErrNotFound),
		errors.Is(err, billingdomain.ErrInvoiceNotFound),
		errors.Is(err, apikeydomain.ErrNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func isUpstreamError(err error) bool {
	switch {
	case errors.Is(err, provisioningdomain.ErrExternalProvisioningFailed),
		errors.Is(err, mailcow.ErrUnavailable),
		errors.Is(err, razorpay.ErrUnavailable):
		return true
	default:
		return false
	}
}

// classifyErrorForLog feeds the request logger a coarse category and the
// sentinel code without leaking internals in the log line.
func classifyErrorForLog(err error) (string, string) {
	status, payload := mapError(err)
	category := "client_error"
	if status >= http.StatusInternalServerError {
		category = "server_error"
	}
	code := strings.TrimSpace(payload.Type)
	if err != nil {
		code = err.Error()
	}
	return category, code
}
