// Package api defines the wire-level request and response types of the
// authorization server's HTTP surface.
package api

// OAuth2 error codes carried in ErrorResponse.Error and in the error query
// parameter of authorization redirects.
const (
	ErrorInvalidRequest          = "invalid_request"
	ErrorUnauthorizedClient      = "unauthorized_client"
	ErrorUnsupportedResponseType = "unsupported_response_type"
	ErrorUnsupportedGrantType    = "unsupported_grant_type"
	ErrorAccessDenied            = "access_denied"
	ErrorInvalidGrant            = "invalid_grant"
	ErrorInvalidScope            = "invalid_scope"
	ErrorInvalidToken            = "invalid_token"
	ErrorInsufficientScope       = "insufficient_scope"
	ErrorServerError             = "server_error"
)

// TokenResponse is returned by the token and refresh endpoints.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// TokenTypeBearer is the only token type the server issues.
const TokenTypeBearer = "Bearer"

// ErrorResponse is the JSON error body for non-redirect failures.
type ErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// ResourceResponse describes the protected resource's answer to an
// authorized bearer.
type ResourceResponse struct {
	Owner string `json:"owner"`
	Scope string `json:"scope"`
}

// HealthResponse reports liveness and readiness.
type HealthResponse struct {
	Status string `json:"status"`
}
