package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"pkt.systems/grantd/api"
	"pkt.systems/grantd/internal/clock"
	"pkt.systems/grantd/internal/core"
	"pkt.systems/grantd/internal/session"
	"pkt.systems/grantd/internal/token"
)

const (
	testClientID    = "LocalClient"
	testRedirectURI = "http://localhost:8000/clientside/endpoint"
	testScope       = "default-scope"
)

func newTestHandler(t *testing.T, sessions session.Resolver) *Handler {
	t.Helper()
	gen := &token.Generator{}
	registry := core.NewRegistry()
	err := registry.Register(core.Client{
		ID:          testClientID,
		RedirectURI: testRedirectURI,
		Scope:       core.ParseScope(testScope),
		Public:      true,
	})
	if err != nil {
		t.Fatalf("register client: %v", err)
	}
	flow := core.NewService(
		registry,
		core.NewCodeStore(gen, 10*time.Minute),
		core.NewTokenStore(gen, time.Hour, 720*time.Hour),
		clock.Real{},
		nil,
	)
	h, err := New(Config{
		Flow:          flow,
		Sessions:      sessions,
		ResourceScope: core.ParseScope(testScope),
	})
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}
	return h
}

func authorizeURL(extra url.Values) string {
	q := url.Values{}
	q.Set("response_type", "code")
	q.Set("client_id", testClientID)
	q.Set("redirect_uri", testRedirectURI)
	q.Set("state", "xyz")
	for key, values := range extra {
		q.Del(key)
		for _, v := range values {
			q.Add(key, v)
		}
	}
	return "/oauth/authorize?" + q.Encode()
}

func decodeErrorBody(t *testing.T, rec *httptest.ResponseRecorder) api.ErrorResponse {
	t.Helper()
	var body api.ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return body
}

func TestAuthorizePageRendersConsentForm(t *testing.T) {
	t.Parallel()
	h := newTestHandler(t, session.Static{OwnerID: "42"})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", authorizeURL(nil), nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body: %s", rec.Code, rec.Body)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Fatalf("content type = %q", ct)
	}
	page := rec.Body.String()
	for _, want := range []string{testClientID, testScope, "allow=true", "allow=false"} {
		if !strings.Contains(page, want) {
			t.Fatalf("consent page missing %q:\n%s", want, page)
		}
	}
}

func TestAuthorizeUnknownClient(t *testing.T) {
	t.Parallel()
	h := newTestHandler(t, session.Static{OwnerID: "42"})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", authorizeURL(url.Values{"client_id": {"Ghost"}}), nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if body := decodeErrorBody(t, rec); body.Error != api.ErrorUnauthorizedClient {
		t.Fatalf("error = %q, want %q", body.Error, api.ErrorUnauthorizedClient)
	}
}

func TestAuthorizeRedirectMismatchDoesNotRedirect(t *testing.T) {
	t.Parallel()
	h := newTestHandler(t, session.Static{OwnerID: "42"})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET",
		authorizeURL(url.Values{"redirect_uri": {"http://evil.example/cb"}}), nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if loc := rec.Header().Get("Location"); loc != "" {
		t.Fatalf("unexpected redirect to %q", loc)
	}
	if body := decodeErrorBody(t, rec); body.Error != api.ErrorInvalidRequest {
		t.Fatalf("error = %q, want %q", body.Error, api.ErrorInvalidRequest)
	}
}

func TestUnauthenticatedConsentIsDenied(t *testing.T) {
	t.Parallel()
	h := newTestHandler(t, session.Deny{})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("POST", authorizeURL(url.Values{"allow": {"true"}}), nil))
	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302", rec.Code)
	}
	loc, err := url.Parse(rec.Header().Get("Location"))
	if err != nil {
		t.Fatalf("parse location: %v", err)
	}
	if got := loc.Query().Get("error"); got != api.ErrorAccessDenied {
		t.Fatalf("error = %q, want %q", got, api.ErrorAccessDenied)
	}
	if loc.Query().Get("code") != "" {
		t.Fatal("denied consent still produced a code")
	}
	if got := loc.Query().Get("state"); got != "xyz" {
		t.Fatalf("state = %q, want %q", got, "xyz")
	}
}

func TestExplicitDenyRedirectsWithAccessDenied(t *testing.T) {
	t.Parallel()
	h := newTestHandler(t, session.Static{OwnerID: "42"})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("POST", authorizeURL(url.Values{"allow": {"false"}}), nil))
	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302", rec.Code)
	}
	loc, _ := url.Parse(rec.Header().Get("Location"))
	if got := loc.Query().Get("error"); got != api.ErrorAccessDenied {
		t.Fatalf("error = %q, want %q", got, api.ErrorAccessDenied)
	}
}

func obtainCode(t *testing.T, h *Handler) string {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("POST", authorizeURL(url.Values{"allow": {"true"}}), nil))
	if rec.Code != http.StatusFound {
		t.Fatalf("consent status = %d, want 302; body: %s", rec.Code, rec.Body)
	}
	loc, err := url.Parse(rec.Header().Get("Location"))
	if err != nil {
		t.Fatalf("parse location: %v", err)
	}
	code := loc.Query().Get("code")
	if code == "" {
		t.Fatalf("no code in redirect %q", loc)
	}
	if got := loc.Query().Get("state"); got != "xyz" {
		t.Fatalf("state = %q, want %q", got, "xyz")
	}
	return code
}

func postForm(h *Handler, path string, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest("POST", path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func exchangeCode(t *testing.T, h *Handler, code string) api.TokenResponse {
	t.Helper()
	rec := postForm(h, "/oauth/token", url.Values{
		"grant_type":   {"authorization_code"},
		"code":         {code},
		"client_id":    {testClientID},
		"redirect_uri": {testRedirectURI},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("token status = %d; body: %s", rec.Code, rec.Body)
	}
	if cc := rec.Header().Get("Cache-Control"); cc != "no-store" {
		t.Fatalf("Cache-Control = %q, want no-store", cc)
	}
	var tok api.TokenResponse
	if err := json.NewDecoder(rec.Body).Decode(&tok); err != nil {
		t.Fatalf("decode token response: %v", err)
	}
	return tok
}

func TestFullFlowThroughHTTP(t *testing.T) {
	t.Parallel()
	h := newTestHandler(t, session.Static{OwnerID: "42"})
	code := obtainCode(t, h)
	tok := exchangeCode(t, h, code)
	if tok.TokenType != api.TokenTypeBearer {
		t.Fatalf("token type = %q", tok.TokenType)
	}
	if tok.AccessToken == "" || tok.RefreshToken == "" || tok.AccessToken == tok.RefreshToken {
		t.Fatalf("bad token pair: %+v", tok)
	}
	if tok.Scope != testScope {
		t.Fatalf("scope = %q, want %q", tok.Scope, testScope)
	}

	req := httptest.NewRequest("GET", "/oauth/resource", nil)
	req.Header.Set("Authorization", "Bearer "+tok.AccessToken)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("resource status = %d; body: %s", rec.Code, rec.Body)
	}
	var res api.ResourceResponse
	if err := json.NewDecoder(rec.Body).Decode(&res); err != nil {
		t.Fatalf("decode resource response: %v", err)
	}
	if res.Owner != "42" {
		t.Fatalf("owner = %q, want %q", res.Owner, "42")
	}
}

func TestCodeIsSingleUseOverHTTP(t *testing.T) {
	t.Parallel()
	h := newTestHandler(t, session.Static{OwnerID: "42"})
	code := obtainCode(t, h)
	exchangeCode(t, h, code)
	rec := postForm(h, "/oauth/token", url.Values{
		"grant_type":   {"authorization_code"},
		"code":         {code},
		"client_id":    {testClientID},
		"redirect_uri": {testRedirectURI},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("replayed code status = %d, want 400", rec.Code)
	}
	if body := decodeErrorBody(t, rec); body.Error != api.ErrorInvalidGrant {
		t.Fatalf("error = %q, want %q", body.Error, api.ErrorInvalidGrant)
	}
}

func TestRefreshRotationOverHTTP(t *testing.T) {
	t.Parallel()
	h := newTestHandler(t, session.Static{OwnerID: "42"})
	tok := exchangeCode(t, h, obtainCode(t, h))

	rec := postForm(h, "/oauth/refresh", url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {tok.RefreshToken},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("refresh status = %d; body: %s", rec.Code, rec.Body)
	}
	var rotated api.TokenResponse
	if err := json.NewDecoder(rec.Body).Decode(&rotated); err != nil {
		t.Fatalf("decode refresh response: %v", err)
	}
	if rotated.AccessToken == tok.AccessToken || rotated.RefreshToken == tok.RefreshToken {
		t.Fatal("rotation reused old tokens")
	}

	// Old refresh token is spent.
	rec = postForm(h, "/oauth/refresh", url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {tok.RefreshToken},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("spent refresh status = %d, want 400", rec.Code)
	}
	if body := decodeErrorBody(t, rec); body.Error != api.ErrorInvalidGrant {
		t.Fatalf("error = %q, want %q", body.Error, api.ErrorInvalidGrant)
	}

	// Old access token no longer opens the resource.
	req := httptest.NewRequest("GET", "/oauth/resource", nil)
	req.Header.Set("Authorization", "Bearer "+tok.AccessToken)
	resourceRec := httptest.NewRecorder()
	h.ServeHTTP(resourceRec, req)
	if resourceRec.Code != http.StatusUnauthorized {
		t.Fatalf("old access token status = %d, want 401", resourceRec.Code)
	}
}

func TestTokenEndpointAcceptsRefreshGrant(t *testing.T) {
	t.Parallel()
	h := newTestHandler(t, session.Static{OwnerID: "42"})
	tok := exchangeCode(t, h, obtainCode(t, h))
	rec := postForm(h, "/oauth/token", url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {tok.RefreshToken},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("refresh via token endpoint status = %d; body: %s", rec.Code, rec.Body)
	}
	var rotated api.TokenResponse
	if err := json.NewDecoder(rec.Body).Decode(&rotated); err != nil {
		t.Fatalf("decode refresh response: %v", err)
	}
	if rotated.RefreshToken == tok.RefreshToken {
		t.Fatal("rotation reused old refresh token")
	}
}

func TestResourceRejectsGarbageBearer(t *testing.T) {
	t.Parallel()
	h := newTestHandler(t, session.Static{OwnerID: "42"})
	req := httptest.NewRequest("GET", "/oauth/resource", nil)
	req.Header.Set("Authorization", "Bearer not-a-real-token")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if got := rec.Header().Get("WWW-Authenticate"); !strings.HasPrefix(got, "Bearer") {
		t.Fatalf("WWW-Authenticate = %q", got)
	}
}

func TestResourceRequiresAuthorizationHeader(t *testing.T) {
	t.Parallel()
	h := newTestHandler(t, session.Static{OwnerID: "42"})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/oauth/resource", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if got := rec.Header().Get("WWW-Authenticate"); got != "Bearer" {
		t.Fatalf("WWW-Authenticate = %q, want %q", got, "Bearer")
	}
}

func TestTokenEndpointRejectsWrongGrantType(t *testing.T) {
	t.Parallel()
	h := newTestHandler(t, session.Static{OwnerID: "42"})
	rec := postForm(h, "/oauth/token", url.Values{
		"grant_type": {"password"},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if body := decodeErrorBody(t, rec); body.Error != api.ErrorUnsupportedGrantType {
		t.Fatalf("error = %q, want %q", body.Error, api.ErrorUnsupportedGrantType)
	}
}

func TestHealthEndpoints(t *testing.T) {
	t.Parallel()
	h := newTestHandler(t, session.Deny{})
	for _, path := range []string{"/healthz", "/readyz"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest("GET", path, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("%s status = %d, want 200", path, rec.Code)
		}
	}
}

func TestCorrelationHeaderEchoed(t *testing.T) {
	t.Parallel()
	h := newTestHandler(t, session.Deny{})
	req := httptest.NewRequest("GET", "/healthz", nil)
	req.Header.Set("X-Correlation-Id", "corr-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Correlation-Id"); got != "corr-123" {
		t.Fatalf("X-Correlation-Id = %q, want %q", got, "corr-123")
	}
}
