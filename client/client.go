// Package client provides a small SDK for driving a grantd server through
// the authorization-code grant: soliciting consent, exchanging codes,
// rotating token pairs, and calling the protected resource.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"pkt.systems/grantd/api"
	"pkt.systems/grantd/internal/session"
)

// APIError carries a decoded error response from the server.
type APIError struct {
	Status      int
	Code        string
	Description string
}

func (e *APIError) Error() string {
	if e.Description == "" {
		return fmt.Sprintf("grantd: %s (status %d)", e.Code, e.Status)
	}
	return fmt.Sprintf("grantd: %s: %s (status %d)", e.Code, e.Description, e.Status)
}

// ConsentDeniedError is returned when the authorization redirect carries an
// error instead of a code.
type ConsentDeniedError struct {
	Code string
}

func (e *ConsentDeniedError) Error() string {
	return "grantd: authorization refused: " + e.Code
}

// Client talks to one grantd server on behalf of one OAuth2 client.
type Client struct {
	baseURL      *url.URL
	httpc        *http.Client
	clientID     string
	redirectURI  string
	sessionToken string
}

// Option customises client construction.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client. Redirect following is
// disabled on it; authorization redirects are parsed, not followed.
func WithHTTPClient(httpc *http.Client) Option {
	return func(c *Client) {
		c.httpc = httpc
	}
}

// WithClientID sets the OAuth2 client identifier presented to the server.
func WithClientID(id string) Option {
	return func(c *Client) {
		c.clientID = id
	}
}

// WithRedirectURI sets the redirect URI presented to the server. It must
// match the client's registration exactly.
func WithRedirectURI(uri string) Option {
	return func(c *Client) {
		c.redirectURI = uri
	}
}

// WithSessionToken attaches a resource-owner session token to consent
// submissions.
func WithSessionToken(token string) Option {
	return func(c *Client) {
		c.sessionToken = token
	}
}

// New constructs a client against baseURL. Defaults target the server's
// built-in local development client.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("client: parse base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("client: base url %q must be absolute", baseURL)
	}
	c := &Client{
		baseURL:     u,
		clientID:    "LocalClient",
		redirectURI: "http://localhost:8000/clientside/endpoint",
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpc == nil {
		c.httpc = &http.Client{Timeout: 30 * time.Second}
	}
	// Authorization responses arrive as redirects to the client's own
	// endpoint; following them would leave the test loop.
	c.httpc.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	return c, nil
}

func (c *Client) endpoint(path string) string {
	u := *c.baseURL
	u.Path = path
	return u.String()
}

// AuthCodeURL builds the authorization URL a resource owner's browser would
// be sent to.
func (c *Client) AuthCodeURL(scope, state string) string {
	q := url.Values{}
	q.Set("response_type", "code")
	q.Set("client_id", c.clientID)
	q.Set("redirect_uri", c.redirectURI)
	if scope != "" {
		q.Set("scope", scope)
	}
	if state != "" {
		q.Set("state", state)
	}
	u := *c.baseURL
	u.Path = "/oauth/authorize"
	u.RawQuery = q.Encode()
	return u.String()
}

// RequestCode submits an approving consent decision and returns the
// authorization code from the redirect. The configured session token (if
// any) identifies the resource owner.
func (c *Client) RequestCode(ctx context.Context, scope, state string) (string, error) {
	target := c.AuthCodeURL(scope, state) + "&allow=true"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, nil)
	if err != nil {
		return "", err
	}
	if c.sessionToken != "" {
		req.AddCookie(&http.Cookie{Name: session.CookieName, Value: c.sessionToken})
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", err
	}
	defer drain(resp.Body)
	if resp.StatusCode != http.StatusFound {
		return "", decodeAPIError(resp)
	}
	loc, err := url.Parse(resp.Header.Get("Location"))
	if err != nil {
		return "", fmt.Errorf("client: parse redirect: %w", err)
	}
	if ec := loc.Query().Get("error"); ec != "" {
		return "", &ConsentDeniedError{Code: ec}
	}
	code := loc.Query().Get("code")
	if code == "" {
		return "", fmt.Errorf("client: redirect %q carries no code", loc)
	}
	if state != "" && loc.Query().Get("state") != state {
		return "", fmt.Errorf("client: state mismatch in redirect")
	}
	return code, nil
}

// Exchange redeems an authorization code for a token pair.
func (c *Client) Exchange(ctx context.Context, code string) (*api.TokenResponse, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("client_id", c.clientID)
	form.Set("redirect_uri", c.redirectURI)
	return c.postTokenForm(ctx, "/oauth/token", form)
}

// Refresh rotates the token pair behind refreshToken. A non-empty scope
// narrows the new access token.
func (c *Client) Refresh(ctx context.Context, refreshToken, scope string) (*api.TokenResponse, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	if scope != "" {
		form.Set("scope", scope)
	}
	return c.postTokenForm(ctx, "/oauth/refresh", form)
}

// Resource calls the protected resource with the supplied bearer token.
func (c *Client) Resource(ctx context.Context, accessToken string) (*api.ResourceResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("/oauth/resource"), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, err
	}
	defer drain(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, decodeAPIError(resp)
	}
	var out api.ResourceResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("client: decode resource response: %w", err)
	}
	return &out, nil
}

func (c *Client) postTokenForm(ctx context.Context, path string, form url.Values) (*api.TokenResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(path), strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, err
	}
	defer drain(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, decodeAPIError(resp)
	}
	var out api.TokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("client: decode token response: %w", err)
	}
	return &out, nil
}

func decodeAPIError(resp *http.Response) error {
	var body api.ErrorResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&body); err != nil || body.Error == "" {
		return &APIError{Status: resp.StatusCode, Code: api.ErrorServerError}
	}
	return &APIError{
		Status:      resp.StatusCode,
		Code:        body.Error,
		Description: body.ErrorDescription,
	}
}

func drain(rc io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(rc, 1<<20))
	_ = rc.Close()
}
