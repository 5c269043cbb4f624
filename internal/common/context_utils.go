package common

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strings"

	"licensehub/internal/models"

	"github.com/labstack/echo/v4"
)

type contextKey string

const (
	CallerKey contextKey = "caller_identity"
)

// ErrorResponse represents a standardized error response
type ErrorResponse struct {
	Success bool `json:"success"`
	Error   struct {
		Code    string            `json:"code"`
		Message string            `json:"message"`
		Details map[string]string `json:"details,omitempty"`
	} `json:"error"`
	TrialUsed bool `json:"trialUsed,omitempty"`
}

// CreateErrorResponse creates a standardized error response
func CreateErrorResponse(code string, message string, details map[string]string) *ErrorResponse {
	var resp ErrorResponse
	resp.Error.Code = code
	resp.Error.Message = message
	resp.Error.Details = details
	return &resp
}

// SendValidationError sends a validation error response
func SendValidationError(c echo.Context, field, message string) error {
	details := map[string]string{
		field: message,
	}
	return c.JSON(http.StatusBadRequest, CreateErrorResponse(string(CodeValidationFailed), "Validation failed", details))
}

// SendError writes err as the standardized envelope. Untyped errors
// become a generic server error so internals never leak.
func SendError(c echo.Context, err error) error {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		return c.JSON(http.StatusInternalServerError, CreateErrorResponse("SERVER_ERROR", "Internal server error", nil))
	}
	resp := CreateErrorResponse(string(appErr.Code), appErr.Message, nil)
	resp.TrialUsed = appErr.Code == CodeTrialAlreadyUsed
	return c.JSON(HTTPStatus(appErr.Code), resp)
}

// WithCaller stores the authenticated caller on the context
func WithCaller(ctx context.Context, caller models.CallerIdentity) context.Context {
	return context.WithValue(ctx, CallerKey, caller)
}

// GetCallerFromContext extracts the caller identity from the request context
func GetCallerFromContext(ctx context.Context) (models.CallerIdentity, bool) {
	caller, ok := ctx.Value(CallerKey).(models.CallerIdentity)
	return caller, ok
}

// Pagination is the page envelope returned by list endpoints
type Pagination struct {
	Total      int `json:"total"`
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	TotalPages int `json:"totalPages"`
}

// NewPagination computes the page count for total rows
func NewPagination(total, page, limit int) Pagination {
	totalPages := 0
	if limit > 0 {
		totalPages = int(math.Ceil(float64(total) / float64(limit)))
	}
	return Pagination{Total: total, Page: page, Limit: limit, TotalPages: totalPages}
}

// ValidatePaginationParams clamps page/limit into the allowed window
func ValidatePaginationParams(page, limit, defaultLimit, maxLimit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	return page, limit
}

// OptionalString returns nil for blank input
func OptionalString(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

// SafeString safely handles string pointer operations
func SafeString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// SanitizeSearchQuery trims and bounds a free-text search term
func SanitizeSearchQuery(query string) string {
	query = strings.TrimSpace(query)
	if runes := []rune(query); len(runes) > 100 {
		query = string(runes[:100])
	}
	return query
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// ContainsPattern builds a LIKE pattern matching term as a literal substring.
// Use with ESCAPE '\'.
func ContainsPattern(term string) string {
	return "%" + likeEscaper.Replace(term) + "%"
}
