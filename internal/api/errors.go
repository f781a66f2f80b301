package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/npezzotti/nests/internal/access"
)

type ApiError struct {
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
	Err        error  `json:"-"`
}

func (e *ApiError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", e.Message, e.Err.Error())
	}

	return e.Message
}

func (e *ApiError) Unwrap() error {
	return e.Err
}

func newApiError(code int) *ApiError {
	return &ApiError{
		StatusCode: code,
		Message:    strings.ToLower(http.StatusText(code)),
	}
}

func NewBadRequestError() *ApiError   { return newApiError(http.StatusBadRequest) }
func NewNotFoundError() *ApiError     { return newApiError(http.StatusNotFound) }
func NewUnauthorizedError() *ApiError { return newApiError(http.StatusUnauthorized) }
func NewForbiddenError() *ApiError    { return newApiError(http.StatusForbidden) }

func NewServiceUnavailableError() *ApiError {
	return newApiError(http.StatusServiceUnavailable)
}

func NewInternalServerError(err error) *ApiError {
	e := newApiError(http.StatusInternalServerError)
	e.Err = err
	return e
}

// apiErrorFrom maps an access error onto its response.
func apiErrorFrom(err error) *ApiError {
	switch {
	case errors.Is(err, access.ErrUnauthenticated):
		return NewUnauthorizedError()
	case errors.Is(err, access.ErrUnauthorized):
		return NewForbiddenError()
	case errors.Is(err, access.ErrNotFound):
		return NewNotFoundError()
	default:
		return NewInternalServerError(err)
	}
}
