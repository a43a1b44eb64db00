package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	amendmentdomain "github.com/mapato/taxcore/internal/amendment/domain"
	auditdomain "github.com/mapato/taxcore/internal/audit/domain"
	"github.com/mapato/taxcore/internal/calculator"
	"github.com/mapato/taxcore/internal/deduction"
	filingdomain "github.com/mapato/taxcore/internal/filing/domain"
	gwdomain "github.com/mapato/taxcore/internal/gateway/domain"
	paymentdomain "github.com/mapato/taxcore/internal/payment/domain"
	"github.com/mapato/taxcore/internal/ratetable"
	taxpayerdomain "github.com/mapato/taxcore/internal/taxpayer/domain"
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
	ErrInternal       = errors.New("internal_error")
	ErrNotFound       = errors.New("not_found")
	ErrInvalidRequest = errors.New("invalid_request")
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

	var transitionErr *filingdomain.InvalidTransitionError
	if errors.As(err, &transitionErr) {
		return http.StatusConflict, errorPayload{
			Type:    "invalid_transition",
			Message: transitionErr.Error(),
		}
	}

	switch {
	case errors.Is(err, filingdomain.ErrValidationFailed):
		return http.StatusUnprocessableEntity, errorPayload{
			Type:    "validation_failed",
			Message: "filing failed validation",
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
	case errors.Is(err, gwdomain.ErrUnavailable):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "revenue authority unavailable",
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
		errors.Is(err, taxpayerdomain.ErrInvalidPIN),
		errors.Is(err, taxpayerdomain.ErrInvalidName),
		errors.Is(err, taxpayerdomain.ErrInvalidEmail),
		errors.Is(err, filingdomain.ErrInvalidID),
		errors.Is(err, filingdomain.ErrInvalidYear),
		errors.Is(err, filingdomain.ErrInvalidAmount),
		errors.Is(err, filingdomain.ErrInvalidPageToken),
		errors.Is(err, calculator.ErrUnsupportedFilingType),
		errors.Is(err, calculator.ErrInvalidIncome),
		errors.Is(err, calculator.ErrUnknownCategory),
		errors.Is(err, calculator.ErrClaimsNotAllowed),
		errors.Is(err, deduction.ErrInvalidKind),
		errors.Is(err, deduction.ErrInvalidAmount),
		errors.Is(err, ratetable.ErrYearNotSupported),
		errors.Is(err, paymentdomain.ErrInvalidFiling),
		errors.Is(err, paymentdomain.ErrInvalidRef),
		errors.Is(err, paymentdomain.ErrInvalidAmount),
		errors.Is(err, paymentdomain.ErrInvalidSource),
		errors.Is(err, amendmentdomain.ErrInvalidID),
		errors.Is(err, amendmentdomain.ErrInvalidReason),
		errors.Is(err, amendmentdomain.ErrNoChanges),
		errors.Is(err, auditdomain.ErrInvalidTaxpayer),
		errors.Is(err, auditdomain.ErrInvalidPageToken),
		errors.Is(err, auditdomain.ErrInvalidTimeRange),
		errors.Is(err, gwdomain.ErrInvalidPIN):
		return true
	default:
		return false
	}
}

func isConflictError(err error) bool {
	switch {
	case errors.Is(err, filingdomain.ErrDuplicateFiling),
		errors.Is(err, filingdomain.ErrNotDraft),
		errors.Is(err, filingdomain.ErrNotReady),
		errors.Is(err, filingdomain.ErrNotSubmitted),
		errors.Is(err, filingdomain.ErrNothingToSync),
		errors.Is(err, filingdomain.ErrTaxpayerInactive),
		errors.Is(err, taxpayerdomain.ErrPINExists),
		errors.Is(err, paymentdomain.ErrNotPayable),
		errors.Is(err, amendmentdomain.ErrNotAmendable),
		errors.Is(err, amendmentdomain.ErrAmendmentInProgress):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, filingdomain.ErrNotFound),
		errors.Is(err, taxpayerdomain.ErrNotFound),
		errors.Is(err, amendmentdomain.ErrNotFound),
		errors.Is(err, paymentdomain.ErrEventNotFound),
		errors.Is(err, gwdomain.ErrUnknownRef),
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

func validationErrorMessage(code string) string {
	switch code {
	case "invalid_request":
		return "invalid request"
	default:
		return "invalid value"
	}
}

// classifyErrorForLog feeds the request logger's error_type/error_code
// fields without a second mapping table.
func classifyErrorForLog(err error) (string, string) {
	status, payload := mapError(err)
	switch {
	case status == http.StatusUnprocessableEntity:
		return "validation_error", payload.Type
	case status >= 500:
		return "internal_error", payload.Type
	case payload.Type == "validation_error" && len(payload.Errors) > 0:
		return payload.Type, payload.Errors[0].Code
	default:
		return payload.Type, payload.Type
	}
}
