// Package errors writes the JSON error envelope shared by every endpoint:
//
//	{"error": {"code": "...", "message": "...", "details": {...}, "request_id": "..."}}
package errors

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/stwalsh4118/plotsync/internal/middleware"
)

// Error codes
const (
	ErrNotFound           = "NOT_FOUND"
	ErrBadRequest         = "BAD_REQUEST"
	ErrInternalServer     = "INTERNAL_SERVER_ERROR"
	ErrValidation         = "VALIDATION_ERROR"
	ErrDatabaseConnection = "DATABASE_CONNECTION_ERROR"
	ErrUnsupportedFile    = "UNSUPPORTED_FILE"
	ErrScopeRequired      = "IMPORT_SCOPE_REQUIRED"
	ErrTooManyRows        = "TOO_MANY_ROWS"
)

// ErrorResponse is the top-level error response structure.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains the error information.
type ErrorDetail struct {
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
}

// respond logs at warn level for 4xx and error level for 5xx, then writes
// the envelope and aborts the chain.
func respond(c *gin.Context, status int, code, message string, details map[string]interface{}, cause error) {
	requestID := middleware.GetRequestID(c)

	if log := middleware.GetLogger(c); log != nil {
		fields := map[string]interface{}{
			"code":       code,
			"message":    message,
			"request_id": requestID,
			"path":       c.Request.URL.Path,
			"method":     c.Request.Method,
		}
		if details != nil {
			fields["details"] = details
		}
		if status >= http.StatusInternalServerError {
			log.Error("Request failed", cause, fields)
		} else {
			if cause != nil {
				fields["error"] = cause.Error()
			}
			log.Warn("Request rejected", fields)
		}
	}

	c.AbortWithStatusJSON(status, ErrorResponse{
		Error: ErrorDetail{
			Code:      code,
			Message:   message,
			Details:   details,
			RequestID: requestID,
		},
	})
}

// NotFound returns a 404 Not Found error response.
func NotFound(c *gin.Context, message string) {
	respond(c, http.StatusNotFound, ErrNotFound, message, nil, nil)
}

// BadRequest returns a 400 Bad Request error response with optional details.
func BadRequest(c *gin.Context, message string, details map[string]interface{}) {
	respond(c, http.StatusBadRequest, ErrBadRequest, message, details, nil)
}

// UnsupportedFile returns a 400 response for an upload that cannot be read
// as a spreadsheet.
func UnsupportedFile(c *gin.Context, fileName string, err error) {
	respond(c, http.StatusBadRequest, ErrUnsupportedFile,
		"File must be an .xlsx or .csv spreadsheet",
		map[string]interface{}{"file": fileName, "reason": err.Error()},
		err)
}

// ScopeRequired returns a 400 response for a commit that names no settlement
// and cannot derive one.
func ScopeRequired(c *gin.Context) {
	respond(c, http.StatusBadRequest, ErrScopeRequired,
		"Import scope is required: pass a settlement or enable autoResolve", nil, nil)
}

// TooManyRows returns a 413 response when an import exceeds the row limit.
func TooManyRows(c *gin.Context, rows, limit int) {
	respond(c, http.StatusRequestEntityTooLarge, ErrTooManyRows,
		"Too many rows in one import",
		map[string]interface{}{"rows": rows, "limit": limit}, nil)
}

// InternalServerError returns a 500 response. err is logged but never sent
// to the client.
func InternalServerError(c *gin.Context, message string, err error) {
	respond(c, http.StatusInternalServerError, ErrInternalServer, message, nil, err)
}

// ValidationError returns a 400 response listing a message per invalid field.
func ValidationError(c *gin.Context, validationErrors validator.ValidationErrors) {
	details := make(map[string]interface{}, len(validationErrors))
	for _, err := range validationErrors {
		details[err.Field()] = formatValidationError(err)
	}
	respond(c, http.StatusBadRequest, ErrValidation, "Validation failed for one or more fields", details, nil)
}

func formatValidationError(err validator.FieldError) string {
	switch err.Tag() {
	case "required":
		return "This field is required"
	case "min":
		return "Value is too short or small (minimum: " + err.Param() + ")"
	case "max":
		return "Value is too long or large (maximum: " + err.Param() + ")"
	case "len":
		return "Must have length of " + err.Param()
	case "gt":
		return "Must be greater than " + err.Param()
	case "gte":
		return "Must be greater than or equal to " + err.Param()
	case "lt":
		return "Must be less than " + err.Param()
	case "lte":
		return "Must be less than or equal to " + err.Param()
	case "oneof":
		return "Must be one of: " + err.Param()
	case "uuid":
		return "Must be a valid UUID"
	default:
		return "Validation failed for tag: " + err.Tag()
	}
}
