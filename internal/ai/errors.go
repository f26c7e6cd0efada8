package ai

import (
	"errors"
	"fmt"
	"net/http"
)

type ErrorKind string

const (
	KindRateLimited    ErrorKind = "rate_limited"
	KindUnauthorized   ErrorKind = "unauthorized"
	KindUpstream       ErrorKind = "upstream"
	KindTimeout        ErrorKind = "timeout"
	KindBadResponse    ErrorKind = "bad_response"
	KindPromptTooLarge ErrorKind = "prompt_too_large"
)

var ErrUnrecognizedResponse = errors.New("unrecognized response shape")

// BackendError is any failure of the embedding or chat backend. Status is the
// upstream HTTP status, 0 when the request never got a response.
type BackendError struct {
	Op      string
	Status  int
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *BackendError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s backend error (status %d, %s): %s", e.Op, e.Status, e.Kind, e.Message)
	}
	return fmt.Sprintf("%s backend error (%s): %s", e.Op, e.Kind, e.Message)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// UserMessage is safe to show to end users.
func (e *BackendError) UserMessage() string {
	switch e.Kind {
	case KindRateLimited:
		return "The AI service is rate limiting requests. Please wait a moment and try again."
	case KindUnauthorized:
		return "The AI service rejected the configured credentials."
	case KindTimeout:
		return "The AI service did not answer in time. Please try again."
	case KindPromptTooLarge:
		return "The question with its context is too large for the model. Ask a narrower question or use fewer passages."
	case KindBadResponse:
		return "The AI service returned an unexpected response."
	default:
		return "The AI service is currently unavailable."
	}
}

// HTTPStatus is the status to answer the caller with.
func (e *BackendError) HTTPStatus() int {
	switch {
	case e.Status >= 400:
		return e.Status
	case e.Kind == KindTimeout:
		return http.StatusGatewayTimeout
	case e.Kind == KindPromptTooLarge:
		return http.StatusRequestEntityTooLarge
	default:
		return http.StatusBadGateway
	}
}

func kindForStatus(status int) ErrorKind {
	switch status {
	case http.StatusTooManyRequests:
		return KindRateLimited
	case http.StatusUnauthorized, http.StatusForbidden:
		return KindUnauthorized
	case http.StatusGatewayTimeout, http.StatusRequestTimeout:
		return KindTimeout
	default:
		return KindUpstream
	}
}
