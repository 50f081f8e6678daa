package server

import (
	"database/sql"
	"errors"
	"net/http"

	"github.com/alfredjeanlab/coherence/internal/model"
	"github.com/alfredjeanlab/coherence/internal/store"
)

type errorKind int

const (
	kindValidation errorKind = iota
	kindConflict
	kindAuthentication
	kindAuthorization
	kindNotFound
	kindMethod
	kindRateLimit
	kindStorage
)

// apiError is a handler failure with a client-facing message. Transport
// code maps the kind to a status; storage errors hide their cause.
type apiError struct {
	kind errorKind
	msg  string
	err  error
}

func (e *apiError) Error() string {
	if e.err != nil {
		return e.msg + ": " + e.err.Error()
	}
	return e.msg
}

func (e *apiError) Unwrap() error { return e.err }

func (e *apiError) status() int {
	switch e.kind {
	case kindAuthentication:
		return http.StatusUnauthorized
	case kindAuthorization:
		return http.StatusForbidden
	case kindNotFound:
		return http.StatusNotFound
	case kindMethod:
		return http.StatusMethodNotAllowed
	case kindRateLimit:
		return http.StatusTooManyRequests
	case kindStorage:
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

// message is what the client sees.
func (e *apiError) message() string {
	if e.kind == kindStorage {
		return "internal server error"
	}
	return e.msg
}

func validationError(msg string) *apiError { return &apiError{kind: kindValidation, msg: msg} }
func conflictError(msg string) *apiError { return &apiError{kind: kindConflict, msg: msg} }
func authenticationError(msg string) *apiError { return &apiError{kind: kindAuthentication, msg: msg} }
func authorizationError(msg string) *apiError { return &apiError{kind: kindAuthorization, msg: msg} }
func notFoundError(msg string) *apiError { return &apiError{kind: kindNotFound, msg: msg} }
func rateLimitError(msg string) *apiError { return &apiError{kind: kindRateLimit, msg: msg} }

func storageError(op string, err error) *apiError {
	return &apiError{kind: kindStorage, msg: op, err: err}
}

// toAPIError classifies any handler error.
func toAPIError(err error) *apiError {
	var ae *apiError
	if errors.As(err, &ae) {
		return ae
	}
	var ve *model.ValidationError
	if errors.As(err, &ve) {
		return validationError(ve.Error())
	}
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return notFoundError("not found")
	case errors.Is(err, store.ErrConflict):
		return conflictError("already exists")
	case errors.Is(err, store.ErrReference):
		return notFoundError("referenced resource not found")
	}
	return storageError("unexpected error", err)
}
