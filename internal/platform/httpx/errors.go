package httpx

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/cesta-solidaria/cesta/internal/platform/db"
)

// Sentinel errors for the transport layer.
var (
	ErrNotFound     = errors.New("resource not found")
	ErrDuplicate    = errors.New("duplicate entry")
	ErrValidation   = errors.New("validation failed")
	ErrForbidden    = errors.New("forbidden")
	ErrUnauthorized = errors.New("unauthorized")
)

// Rule maps a domain error to a status and a stable problem code.
type Rule struct {
	Err    error
	Status int
	Code   string
}

// ValidationError carries per-field messages and matches ErrValidation.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %d field(s)", len(e.Fields))
}

// Is reports ErrValidation as the sentinel of every ValidationError.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// RespondError maps errors to RFC7807 responses. Rules are matched first, in order.
func RespondError(w http.ResponseWriter, err error, rules ...Rule) {
	for _, rule := range rules {
		if errors.Is(err, rule.Err) {
			WriteProblem(w, ProblemDetail{
				Title:  http.StatusText(rule.Status),
				Status: rule.Status,
				Detail: err.Error(),
				Code:   rule.Code,
			})
			return
		}
	}

	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		WriteProblem(w, ProblemDetail{
			Title:  "Validation Failed",
			Status: http.StatusUnprocessableEntity,
			Detail: err.Error(),
			Code:   "VALIDATION_FAILED",
			Errors: verr.Fields,
		})
	case errors.Is(err, ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrDuplicate):
		Problem(w, http.StatusConflict, "Duplicate", err.Error())
	case errors.Is(err, ErrValidation):
		Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrForbidden):
		Problem(w, http.StatusForbidden, "Forbidden", err.Error())
	case errors.Is(err, ErrUnauthorized):
		Problem(w, http.StatusUnauthorized, "Unauthorized", err.Error())
	case errors.Is(err, db.ErrOperationFailed):
		WriteProblem(w, ProblemDetail{
			Title:  "Service Unavailable",
			Status: http.StatusServiceUnavailable,
			Detail: "the operation conflicted with concurrent updates, retry later",
			Code:   "OPERATION_FAILED",
		})
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
