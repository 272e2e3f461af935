// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"
)

// ErrorMapping ties a sentinel error to its problem response.
type ErrorMapping struct {
	Target error
	Status int
	Title  string
	Code   string
}

// ErrorMapper renders errors as RFC7807 problems. The first mapping whose
// target matches via errors.Is wins; anything unmatched is a 500.
type ErrorMapper struct {
	typePrefix string
	retryable  func(error) bool
	mappings   []ErrorMapping
}

// NewErrorMapper builds a mapper. typePrefix is prepended to each mapping
// code to form the problem type; retryable may be nil.
func NewErrorMapper(typePrefix string, retryable func(error) bool, mappings ...ErrorMapping) *ErrorMapper {
	return &ErrorMapper{typePrefix: typePrefix, retryable: retryable, mappings: mappings}
}

// Respond writes the problem response for err.
func (m *ErrorMapper) Respond(w http.ResponseWriter, err error) {
	for _, mp := range m.mappings {
		if !errors.Is(err, mp.Target) {
			continue
		}
		JSON(w, mp.Status, ProblemDetail{
			Type:      m.typePrefix + mp.Code,
			Title:     mp.Title,
			Status:    mp.Status,
			Detail:    err.Error(),
			Retryable: m.retryable != nil && m.retryable(err),
		})
		return
	}
	Problem(w, http.StatusInternalServerError, "Internal Error", "")
}
