package core

import "errors"

// Sentinel errors returned by the authorization core. HTTP handlers map
// these onto the wire-level error taxonomy; the token endpoints
// deliberately collapse several of them into a single client-visible
// invalid_grant so callers cannot probe which part of a submission failed.
var (
	// ErrUnknownClient indicates the client identifier is not registered.
	ErrUnknownClient = errors.New("unknown client")

	// ErrRedirectMismatch indicates the redirect URI does not match the
	// client's registration.
	ErrRedirectMismatch = errors.New("redirect uri mismatch")

	// ErrConsentDenied indicates the resource owner declined the grant or
	// could not be identified.
	ErrConsentDenied = errors.New("consent denied")

	// ErrInvalidCode indicates an authorization code that is unknown,
	// expired, already redeemed, or bound to different request parameters.
	ErrInvalidCode = errors.New("invalid authorization code")

	// ErrInvalidRefreshToken indicates a refresh token that is unknown or
	// has been superseded by a rotation.
	ErrInvalidRefreshToken = errors.New("invalid refresh token")

	// ErrInvalidAccessToken indicates a bearer token that is unknown or
	// expired.
	ErrInvalidAccessToken = errors.New("invalid access token")

	// ErrInvalidScope indicates a requested scope outside what the client
	// or grant permits.
	ErrInvalidScope = errors.New("invalid scope")

	// ErrInsufficientScope indicates a valid token whose grant does not
	// cover the scope a resource requires.
	ErrInsufficientScope = errors.New("insufficient scope")

	// ErrInvalidRequest indicates a malformed or incomplete request.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrIndexCorrupt indicates the access and refresh indices disagree
	// about a token record. It should never happen.
	ErrIndexCorrupt = errors.New("token index corrupt")
)
