// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"errors"
	"net/http"

	"github.com/samber/oops"
)

// Kind classifies every error the auth core returns.
// The set is closed; anything unclassified is KindInternal.
type Kind int

// Error kinds.
const (
	KindInternal Kind = iota
	KindBadRequest
	KindUnauthenticated
	KindUnauthorized
	KindNotFound
	KindConflict
)

// Sentinels wrapped by domain errors. They are plain errors on purpose:
// oops errors match any other oops error under errors.Is.
var (
	ErrBadRequest      = errors.New("bad request")
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
)

// DefaultPublicMessage is shown for internal failures.
const DefaultPublicMessage = "Something went wrong, please try again"

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindBadRequest:
		return "bad_request"
	case KindUnauthenticated:
		return "unauthenticated"
	case KindUnauthorized:
		return "unauthorized"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	default:
		return "internal"
	}
}

// HTTPStatus maps the kind to its response status.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindBadRequest:
		return http.StatusBadRequest
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindUnauthorized:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// KindOf reports the kind of err.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindInternal
	case errors.Is(err, ErrBadRequest):
		return KindBadRequest
	case errors.Is(err, ErrUnauthenticated):
		return KindUnauthenticated
	case errors.Is(err, ErrUnauthorized):
		return KindUnauthorized
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrConflict):
		return KindConflict
	default:
		return KindInternal
	}
}

// PublicMessage extracts the user-facing message from err.
// Internal errors never leak their details.
func PublicMessage(err error) string {
	if err == nil {
		return ""
	}
	if KindOf(err) == KindInternal {
		return DefaultPublicMessage
	}
	if oopsErr, ok := oops.AsOops(err); ok {
		if msg := oopsErr.Public(); msg != "" {
			return msg
		}
	}
	switch KindOf(err) {
	case KindBadRequest:
		return "Invalid request"
	case KindUnauthenticated:
		return "Authentication invalid"
	case KindUnauthorized:
		return "Unauthorized to access this route"
	case KindNotFound:
		return "Not found"
	case KindConflict:
		return "Conflict"
	default:
		return DefaultPublicMessage
	}
}

// Domain error constructors. Each carries a stable code, the kind sentinel
// and the message shown to clients.

func badRequest(code, public string) error {
	return oops.In("auth").Code(code).Public(public).Wrapf(ErrBadRequest, "%s", public)
}

func unauthenticated(code, public string) error {
	return oops.In("auth").Code(code).Public(public).Wrapf(ErrUnauthenticated, "%s", public)
}

func unauthorized(code, public string) error {
	return oops.In("auth").Code(code).Public(public).Wrapf(ErrUnauthorized, "%s", public)
}

func notFound(code, public string) error {
	return oops.In("auth").Code(code).Public(public).Wrapf(ErrNotFound, "%s", public)
}

func conflict(code, public string) error {
	return oops.In("auth").Code(code).Public(public).Wrapf(ErrConflict, "%s", public)
}

// ErrInvalidCredentials is returned for unknown identities and wrong secrets alike.
func ErrInvalidCredentials() error {
	return unauthenticated("AUTH_INVALID_CREDENTIALS", "Please provide valid credentials")
}

// ErrVerificationFailed is returned when a challenge cannot be redeemed.
func ErrVerificationFailed() error {
	return unauthenticated("AUTH_VERIFICATION_FAILED", "Verification failed")
}

// ErrAuthenticationInvalid is returned for missing, malformed or forged credentials.
func ErrAuthenticationInvalid() error {
	return unauthenticated("AUTH_CREDENTIAL_INVALID", "Authentication invalid")
}

// ErrForbidden is returned by authorization checks.
func ErrForbidden() error {
	return unauthorized("AUTH_FORBIDDEN", "Unauthorized to access this route")
}

// ErrDemoReadOnly is returned when a demo account attempts a write.
func ErrDemoReadOnly() error {
	return unauthorized("AUTH_DEMO_READ_ONLY", "Test user can only read")
}

// NewBadRequest builds a validation error with a public message.
func NewBadRequest(code, public string) error {
	return badRequest(code, public)
}

// NewConflict builds a conflict error with a public message. Storage
// adapters use it for unique-index violations.
func NewConflict(code, public string) error {
	return conflict(code, public)
}
