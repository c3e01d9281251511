package resource

import (
	"fmt"
	"net/http"
)

// NotFoundError is returned when a record or collection is not found.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("resource %q record %q not found", e.Resource, e.ID)
	}
	return fmt.Sprintf("resource %q not found", e.Resource)
}

// StatusCode returns the HTTP status code for this error.
func (e *NotFoundError) StatusCode() int {
	return http.StatusNotFound
}

// ConflictError is returned when a record with the same id already exists.
type ConflictError struct {
	Resource string
	ID       string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("resource %q record %q already exists", e.Resource, e.ID)
}

// StatusCode returns the HTTP status code for this error.
func (e *ConflictError) StatusCode() int {
	return http.StatusConflict
}

// ValidationError is returned when a record fails schema validation.
type ValidationError struct {
	Resource string
	Message  string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("resource %q validation failed: %s", e.Resource, e.Message)
}

// StatusCode returns the HTTP status code for this error.
func (e *ValidationError) StatusCode() int {
	return http.StatusBadRequest
}

// StatusCodeError is an interface for errors that map to an HTTP status code.
type StatusCodeError interface {
	error
	StatusCode() int
}
