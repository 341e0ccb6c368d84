package core

import (
	"errors"
	"testing"
	"time"

	"pkt.systems/grantd/internal/clock"
	"pkt.systems/grantd/internal/token"
)

func newTestService(clk clock.Clock) *Service {
	gen := &token.Generator{}
	reg := NewRegistry()
	if err := reg.Register(testClient()); err != nil {
		panic(err)
	}
	return NewService(
		reg,
		NewCodeStore(gen, 10*time.Minute),
		NewTokenStore(gen, time.Hour, 720*time.Hour),
		clk,
		nil,
	)
}

func TestFullAuthorizationFlow(t *testing.T) {
	t.Parallel()
	svc := newTestService(clock.Real{})
	pending, err := svc.ValidateAuthorize("LocalClient", "http://localhost:8000/clientside/endpoint", "", "xyz")
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if pending.State != "xyz" {
		t.Fatalf("state = %q, want %q", pending.State, "xyz")
	}
	if !pending.Scope.Contains("default-scope") {
		t.Fatalf("empty request should default to client scope, got %q", pending.Scope)
	}

	code, err := svc.FinishAuthorize(pending, Decision{Allowed: true, OwnerID: "42"})
	if err != nil {
		t.Fatalf("finish: %v", err)
	}

	issued, err := svc.ExchangeCode("LocalClient", "http://localhost:8000/clientside/endpoint", code)
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}
	if issued.Grant.OwnerID != "42" {
		t.Fatalf("owner = %q, want %q", issued.Grant.OwnerID, "42")
	}

	grant, err := svc.Protect(issued.AccessToken, ParseScope("default-scope"))
	if err != nil {
		t.Fatalf("protect: %v", err)
	}
	if grant.OwnerID != "42" {
		t.Fatalf("protected owner = %q, want %q", grant.OwnerID, "42")
	}
}

func TestValidateAuthorizeRejections(t *testing.T) {
	t.Parallel()
	svc := newTestService(clock.Real{})
	if _, err := svc.ValidateAuthorize("Ghost", "http://localhost:8000/clientside/endpoint", "", ""); !errors.Is(err, ErrUnknownClient) {
		t.Fatalf("unknown client: got %v", err)
	}
	if _, err := svc.ValidateAuthorize("LocalClient", "http://evil.example/cb", "", ""); !errors.Is(err, ErrRedirectMismatch) {
		t.Fatalf("bad redirect: got %v", err)
	}
	if _, err := svc.ValidateAuthorize("LocalClient", "http://localhost:8000/clientside/endpoint", "admin", ""); !errors.Is(err, ErrInvalidScope) {
		t.Fatalf("over-broad scope: got %v", err)
	}
}

func TestFinishAuthorizeDenials(t *testing.T) {
	t.Parallel()
	svc := newTestService(clock.Real{})
	pending, err := svc.ValidateAuthorize("LocalClient", "http://localhost:8000/clientside/endpoint", "", "")
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if _, err := svc.FinishAuthorize(pending, Decision{Allowed: false, OwnerID: "42"}); !errors.Is(err, ErrConsentDenied) {
		t.Fatalf("explicit deny: got %v", err)
	}
	// Approval without an authenticated owner is still a denial.
	if _, err := svc.FinishAuthorize(pending, Decision{Allowed: true, OwnerID: NoOwner}); !errors.Is(err, ErrConsentDenied) {
		t.Fatalf("anonymous approval: got %v", err)
	}
	if _, err := svc.FinishAuthorize(pending, Decision{Allowed: true}); !errors.Is(err, ErrConsentDenied) {
		t.Fatalf("empty owner approval: got %v", err)
	}
}

func TestExchangeCodeBindingMismatches(t *testing.T) {
	t.Parallel()
	svc := newTestService(clock.Real{})
	issueCode := func(t *testing.T) string {
		t.Helper()
		pending, err := svc.ValidateAuthorize("LocalClient", "http://localhost:8000/clientside/endpoint", "", "")
		if err != nil {
			t.Fatalf("validate: %v", err)
		}
		code, err := svc.FinishAuthorize(pending, Decision{Allowed: true, OwnerID: "42"})
		if err != nil {
			t.Fatalf("finish: %v", err)
		}
		return code
	}

	code := issueCode(t)
	if _, err := svc.ExchangeCode("OtherClient", "http://localhost:8000/clientside/endpoint", code); !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("client mismatch: got %v", err)
	}
	// The mismatched attempt consumed the code.
	if _, err := svc.ExchangeCode("LocalClient", "http://localhost:8000/clientside/endpoint", code); !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("code survived mismatched exchange: got %v", err)
	}

	code = issueCode(t)
	if _, err := svc.ExchangeCode("LocalClient", "http://localhost:8000/other", code); !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("redirect mismatch: got %v", err)
	}
}

func TestRefreshScopeNarrowing(t *testing.T) {
	t.Parallel()
	gen := &token.Generator{}
	reg := NewRegistry()
	client := testClient()
	client.Scope = ParseScope("read write")
	if err := reg.Register(client); err != nil {
		t.Fatalf("register: %v", err)
	}
	svc := NewService(reg,
		NewCodeStore(gen, 10*time.Minute),
		NewTokenStore(gen, time.Hour, 720*time.Hour),
		clock.Real{}, nil)

	pending, err := svc.ValidateAuthorize("LocalClient", client.RedirectURI, "read write", "")
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	code, err := svc.FinishAuthorize(pending, Decision{Allowed: true, OwnerID: "42"})
	if err != nil {
		t.Fatalf("finish: %v", err)
	}
	issued, err := svc.ExchangeCode("LocalClient", client.RedirectURI, code)
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}

	if _, err := svc.Refresh(issued.RefreshToken, "read write admin"); !errors.Is(err, ErrInvalidScope) {
		t.Fatalf("widening refresh: got %v", err)
	}
	// The rejected widening must not consume the refresh token.
	narrowed, err := svc.Refresh(issued.RefreshToken, "read")
	if err != nil {
		t.Fatalf("narrowing refresh: %v", err)
	}
	if narrowed.Grant.Scope.String() != "read" {
		t.Fatalf("narrowed scope = %q, want %q", narrowed.Grant.Scope, "read")
	}
	// Narrowing binds the grant, not just the response: the dropped scope
	// is no longer usable against protected resources.
	if _, err := svc.Protect(narrowed.AccessToken, ParseScope("write")); !errors.Is(err, ErrInsufficientScope) {
		t.Fatalf("dropped scope still enforceable: got %v", err)
	}
	if _, err := svc.Protect(narrowed.AccessToken, ParseScope("read")); err != nil {
		t.Fatalf("kept scope rejected: %v", err)
	}
}

func TestProtectRejections(t *testing.T) {
	t.Parallel()
	svc := newTestService(clock.Real{})
	if _, err := svc.Protect("garbage", ParseScope("default-scope")); !errors.Is(err, ErrInvalidAccessToken) {
		t.Fatalf("garbage token: got %v", err)
	}

	pending, err := svc.ValidateAuthorize("LocalClient", "http://localhost:8000/clientside/endpoint", "", "")
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	code, err := svc.FinishAuthorize(pending, Decision{Allowed: true, OwnerID: "42"})
	if err != nil {
		t.Fatalf("finish: %v", err)
	}
	issued, err := svc.ExchangeCode("LocalClient", "http://localhost:8000/clientside/endpoint", code)
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}
	if _, err := svc.Protect(issued.AccessToken, ParseScope("admin")); !errors.Is(err, ErrInsufficientScope) {
		t.Fatalf("missing scope: got %v", err)
	}
}

func TestSweepUsesInjectedClock(t *testing.T) {
	t.Parallel()
	clk := clock.NewManual(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	svc := newTestService(clk)
	pending, err := svc.ValidateAuthorize("LocalClient", "http://localhost:8000/clientside/endpoint", "", "")
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if _, err := svc.FinishAuthorize(pending, Decision{Allowed: true, OwnerID: "42"}); err != nil {
		t.Fatalf("finish: %v", err)
	}
	if codes, _ := svc.Sweep(); codes != 0 {
		t.Fatalf("swept %d live codes", codes)
	}
	clk.Advance(time.Hour)
	if codes, _ := svc.Sweep(); codes != 1 {
		t.Fatalf("swept %d codes, want 1", codes)
	}
}
