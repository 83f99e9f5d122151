// AdSync - Advertising Campaign Mirror and Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/adsync

package platform

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind is the closed set of upstream error classes. Classification
// happens once at the API boundary; everything downstream switches on
// the kind instead of re-inspecting codes or message text.
type ErrorKind int

const (
	// KindUnknown covers responses that match no known class.
	KindUnknown ErrorKind = iota
	// KindAuth is an invalid, expired or revoked token. Never retried.
	KindAuth
	// KindRateLimit is a quota-exceeded response. Retried with
	// exponential backoff and jitter.
	KindRateLimit
	// KindTransient is a temporary upstream issue. Retried with linear
	// backoff.
	KindTransient
	// KindPermission means the caller lacks a grant. Not retried.
	KindPermission
	// KindValidation is a malformed request or response. Not retried.
	KindValidation
	// KindNetwork is a timeout, connection failure or DNS failure.
	KindNetwork
)

// String returns the kind's name for logs and error text.
func (k ErrorKind) String() string {
	switch k {
	case KindAuth:
		return "auth"
	case KindRateLimit:
		return "rate_limit"
	case KindTransient:
		return "transient"
	case KindPermission:
		return "permission"
	case KindValidation:
		return "validation"
	case KindNetwork:
		return "network"
	default:
		return "unknown"
	}
}

// Upstream error codes with fixed meanings.
const (
	codeTransient         = 2
	codeTooManyCalls      = 4
	codeUserRequestLimit  = 17
	codePageRequestLimit  = 32
	codeCustomRateLimit   = 613
	codeTokenInvalid      = 190
	codePermissionDenied  = 10
	codePermissionRangeLo = 200
	codePermissionRangeHi = 299
)

// tokenInvalidPhrases are matched case-insensitively against upstream
// error messages to catch revocations reported without code 190.
var tokenInvalidPhrases = []string{
	"session has expired",
	"access token",
	"token is invalid",
}

// APIError is a classified upstream API error.
type APIError struct {
	Kind       ErrorKind
	Code       int
	Subcode    int
	HTTPStatus int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("platform api error (%s, code %d, http %d): %s",
		e.Kind, e.Code, e.HTTPStatus, e.Message)
}

// TokenExpiredError signals that the credential is no longer usable and
// the account must re-authenticate. It must propagate unchanged through
// every layer, so nothing below the composition root may swallow it.
type TokenExpiredError struct {
	Code    int
	Message string
}

func (e *TokenExpiredError) Error() string {
	return fmt.Sprintf("access token expired or revoked (code %d): %s", e.Code, e.Message)
}

// IsTokenExpired reports whether err is, or wraps, a token-expiry error.
func IsTokenExpired(err error) bool {
	var te *TokenExpiredError
	return errors.As(err, &te)
}

// classifyError turns a raw upstream error payload into a typed error.
// Token expiry gets its own type so it can be detected by errors.As at
// any layer; everything else becomes an APIError with a kind.
func classifyError(code, subcode, httpStatus int, message string) error {
	if isTokenInvalid(code, httpStatus, message) {
		return &TokenExpiredError{Code: code, Message: message}
	}

	kind := KindUnknown
	switch {
	case httpStatus == 429 || code == codeTooManyCalls || code == codeUserRequestLimit ||
		code == codePageRequestLimit || code == codeCustomRateLimit:
		kind = KindRateLimit
	case code == codeTransient:
		kind = KindTransient
	case code == codePermissionDenied || (code >= codePermissionRangeLo && code <= codePermissionRangeHi):
		kind = KindPermission
	case httpStatus >= 400 && httpStatus < 500:
		kind = KindValidation
	}

	return &APIError{
		Kind:       kind,
		Code:       code,
		Subcode:    subcode,
		HTTPStatus: httpStatus,
		Message:    message,
	}
}

// isTokenInvalid checks the known expiry code, HTTP 401, and the fixed
// revocation phrase list.
func isTokenInvalid(code, httpStatus int, message string) bool {
	if code == codeTokenInvalid || httpStatus == 401 {
		return true
	}
	lower := strings.ToLower(message)
	for _, phrase := range tokenInvalidPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

// errorKind extracts the kind from a classified error, mapping token
// expiry to KindAuth, transport failures to KindNetwork, and anything
// unclassified to KindUnknown.
func errorKind(err error) ErrorKind {
	if IsTokenExpired(err) {
		return KindAuth
	}
	var ae *APIError
	if errors.As(err, &ae) {
		return ae.Kind
	}
	var ne *NetworkError
	if errors.As(err, &ne) {
		return KindNetwork
	}
	return KindUnknown
}

// NetworkError wraps a transport-level failure with a message suitable
// for display, keeping the cause available for unwrapping.
type NetworkError struct {
	Op    string
	Cause error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network failure during %s: %v", e.Op, e.Cause)
}

func (e *NetworkError) Unwrap() error { return e.Cause }
